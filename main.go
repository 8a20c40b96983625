package main

import (
	"os"

	"github.com/conneroisu/fragment/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conneroisu/fragment/internal/renderer"
	"github.com/conneroisu/fragment/internal/server"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List the renderer backends",
	Long: `List every renderer backend with the names accepted by --backend and
sketch.backend, and whether the backend binds shader programs.

Examples:
  fragment backends                # Table output
  fragment backends --format json  # JSON output`,
	RunE: runBackends,
}

var backendsFormat string

func init() {
	rootCmd.AddCommand(backendsCmd)

	backendsCmd.Flags().StringVarP(&backendsFormat, "format", "f", "table", "Output format (table, json)")
}

// BackendInfo describes one backend for `fragment backends`.
type BackendInfo struct {
	Name     string   `json:"name"`
	Label    string   `json:"label"`
	Aliases  []string `json:"aliases"`
	Programs bool     `json:"programs"`
	Summary  string   `json:"summary"`
}

var backendSummaries = map[renderer.Kind]string{
	renderer.Canvas2D:       "2D raster with an affine transform; draws without shader programs",
	renderer.SoftwareRaster: "Immediate-mode software rasteriser; shader programs hot-swap per frame",
	renderer.GPU:            "Retained-mode GPU pipeline with compiled shader programs and a camera",
}

func backendInfos() []BackendInfo {
	infos := make([]BackendInfo, 0, len(renderer.Kinds()))
	for _, k := range renderer.Kinds() {
		infos = append(infos, BackendInfo{
			Name:     k.String(),
			Label:    server.BackendLabel(k),
			Aliases:  k.Aliases()[1:],
			Programs: k.BindsPrograms(),
			Summary:  backendSummaries[k],
		})
	}
	return infos
}

func runBackends(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	switch backendsFormat {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(backendInfos())
	case "table":
		printBackends(out)
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (supported: table, json)", backendsFormat)
	}
}

func printBackends(w io.Writer) {
	header := color.New(color.FgCyan, color.Bold)

	header.Fprintf(w, "%-10s %-10s %-28s %s\n", "NAME", "LABEL", "ALIASES", "PROGRAMS")
	for _, info := range backendInfos() {
		programs := color.HiBlackString("no")
		if info.Programs {
			programs = color.GreenString("yes")
		}
		fmt.Fprintf(w, "%-10s %-10s %-28s %s\n",
			info.Name, info.Label, strings.Join(info.Aliases, ", "), programs)
		fmt.Fprintf(w, "           %s\n", color.HiBlackString(info.Summary))
	}
}

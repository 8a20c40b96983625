package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conneroisu/fragment/internal/renderer"
)

// SketchFlags provides consistent flag definitions across commands
type SketchFlags struct {
	// Server flags
	Port int
	Host string
	Open bool

	// Sketch flags
	Backend  renderer.Kind
	Previews int
}

// AddSketchFlags adds the requested flag groups to a command
func AddSketchFlags(cmd *cobra.Command, flagTypes ...string) *SketchFlags {
	flags := &SketchFlags{}

	for _, flagType := range flagTypes {
		switch flagType {
		case "server":
			addServerFlags(cmd, flags)
		case "sketch":
			addPreviewFlags(cmd, flags)
		}
	}

	return flags
}

func addServerFlags(cmd *cobra.Command, flags *SketchFlags) {
	cmd.Flags().IntVarP(&flags.Port, "port", "p", 3000, "Port to serve on (0 picks a free port)")
	cmd.Flags().StringVar(&flags.Host, "host", "localhost", "Host to bind to")
	cmd.Flags().BoolVar(&flags.Open, "open", false, "Open the browser once the server is up")
	AddFlagValidation(cmd, "port", ValidatePort)
}

func addPreviewFlags(cmd *cobra.Command, flags *SketchFlags) {
	cmd.Flags().VarP(newBackendValue(renderer.Canvas2D, &flags.Backend), "backend", "b",
		"Renderer backend (2d, software, gpu or an alias such as p5, webgl)")
	cmd.Flags().IntVarP(&flags.Previews, "previews", "n", 1, "Number of preview instances")
	AddFlagValidation(cmd, "previews", ValidatePreviews)
}

// flagBindings maps flag names to the config keys they override.
var flagBindings = map[string]string{
	"port":     "server.port",
	"host":     "server.host",
	"open":     "server.open",
	"backend":  "sketch.backend",
	"previews": "sketch.previews",
}

// SetViperBindings binds the command's flags to their config keys. Commands
// sharing flag names bind when they run so the last command parsed wins.
func SetViperBindings(cmd *cobra.Command, bindings map[string]string) error {
	for flagName, configKey := range bindings {
		if flag := cmd.Flags().Lookup(flagName); flag != nil {
			if err := viper.BindPFlag(configKey, flag); err != nil {
				return fmt.Errorf("binding --%s: %w", flagName, err)
			}
		}
	}
	return nil
}

// backendValue is a pflag.Value holding a backend kind. Aliases are accepted
// and String reports the config name, so viper always sees the canonical one.
type backendValue struct {
	kind *renderer.Kind
}

func newBackendValue(def renderer.Kind, p *renderer.Kind) *backendValue {
	*p = def
	return &backendValue{kind: p}
}

func (b *backendValue) String() string { return b.kind.String() }

func (b *backendValue) Set(s string) error {
	k, err := renderer.ParseKind(s)
	if err != nil {
		return err
	}
	*b.kind = k
	return nil
}

func (b *backendValue) Type() string { return "backend" }

// AddFlagValidation adds validation for a specific flag
func AddFlagValidation(cmd *cobra.Command, flagName string, validator func(string) error) {
	flag := cmd.Flags().Lookup(flagName)
	if flag == nil {
		return
	}

	flag.Value = &validatingValue{
		Value:     flag.Value,
		validator: validator,
	}
}

type validatingValue struct {
	pflag.Value
	validator func(string) error
}

func (v *validatingValue) Set(val string) error {
	if v.validator != nil {
		if err := v.validator(val); err != nil {
			return err
		}
	}
	return v.Value.Set(val)
}

// ValidatePort accepts 0 through 65535.
func ValidatePort(portStr string) error {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port number: %s", portStr)
	}

	if port < 0 || port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", port)
	}

	return nil
}

// ValidatePreviews accepts 1 through 64 previews.
func ValidatePreviews(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid preview count: %s", s)
	}
	if n < 1 || n > 64 {
		return fmt.Errorf("previews must be between 1 and 64, got %d", n)
	}
	return nil
}

// ValidateDirExists checks that a sketch directory argument exists.
func ValidateDirExists(dir string) error {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return fmt.Errorf("sketch directory does not exist: %s", dir)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory: %s", dir)
	}
	return nil
}

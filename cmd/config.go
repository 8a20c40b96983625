package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/fragment/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage fragment configuration",
	Long: `Manage fragment configuration files and settings.

Examples:
  fragment config init                 # Write .fragment.yml and a starter shader
  fragment config show                 # Show the resolved configuration
  fragment config validate             # Validate .fragment.yml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init [sketch-dir]",
	Short: "Create a configuration file and starter shader",
	Long: `Write a default .fragment.yml into the sketch directory and, unless it
already exists, a starter fragment shader at the configured program path.

Examples:
  fragment config init                 # Initialise the current directory
  fragment config init ./plasma -b gpu # Initialise ./plasma for the GPU backend`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Display the configuration after merging the file, FRAGMENT_ environment
variables and defaults.

Examples:
  fragment config show                 # YAML output
  fragment config show --format json   # JSON output`,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate a fragment configuration file and check that the files it
names exist.

Examples:
  fragment config validate                   # Validate .fragment.yml
  fragment config validate --file other.yml  # Validate another file
  fragment config validate --strict          # Treat warnings as errors`,
	RunE: runConfigValidate,
}

var (
	configForce   bool
	configBackend string
	configFormat  string
	configFile    string
	configStrict  bool
)

// starterShader is written by `config init`.
const starterShader = `@fragment
fn main(@builtin(position) pos: vec4<f32>) -> @location(0) vec4<f32> {
    return vec4<f32>(0.94, 0.56, 0.19, 1.0);
}
`

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false, "Overwrite an existing configuration file")
	configInitCmd.Flags().StringVarP(&configBackend, "backend", "b", "2d", "Renderer backend for the new sketch")

	configShowCmd.Flags().StringVar(&configFormat, "format", "yaml", "Output format (yaml, json)")

	configValidateCmd.Flags().StringVarP(&configFile, "file", "f", "", "Configuration file to validate (default: .fragment.yml)")
	configValidateCmd.Flags().BoolVar(&configStrict, "strict", false, "Treat warnings as errors")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	cfg := config.Default()
	cfg.Sketch.Backend = configBackend
	if result := config.ValidateConfigWithDetails(cfg); result.HasErrors() {
		return errors.New(result.String())
	}

	out := cmd.OutOrStdout()
	path := filepath.Join(dir, config.DefaultFile)
	if err := config.WriteFile(path, cfg, configForce); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s\n", color.GreenString("created"), path)

	shader := filepath.Join(dir, filepath.FromSlash(cfg.Sketch.Program.Fragment))
	if _, err := os.Stat(shader); err == nil {
		fmt.Fprintf(out, "%s %s\n", color.HiBlackString("exists "), shader)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(shader), 0o755); err != nil {
		return fmt.Errorf("creating shader directory: %w", err)
	}
	if err := os.WriteFile(shader, []byte(starterShader), 0o644); err != nil {
		return fmt.Errorf("writing starter shader: %w", err)
	}
	fmt.Fprintf(out, "%s %s\n", color.GreenString("created"), shader)
	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	out := cmd.OutOrStdout()
	switch configFormat {
	case "yaml", "yml":
		data, err := config.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	default:
		return fmt.Errorf("unsupported format: %s (supported: yaml, json)", configFormat)
	}
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	targetFile := configFile
	if targetFile == "" {
		targetFile = config.DefaultFile
	}
	if _, err := os.Stat(targetFile); os.IsNotExist(err) {
		return fmt.Errorf("configuration file %s does not exist (run 'fragment config init' to create one)", targetFile)
	}

	v := viper.New()
	v.SetConfigFile(targetFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read configuration file: %w", err)
	}
	config.SetDefaults(v)

	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to parse configuration: %w", err)
	}

	out := cmd.OutOrStdout()
	result := config.ValidateConfigWithDetails(&cfg)
	if !result.HasErrors() && !result.HasWarnings() {
		fmt.Fprintf(out, "%s %s is valid\n", color.GreenString("✓"), targetFile)
		return nil
	}

	fmt.Fprint(out, result.String())
	if result.HasErrors() {
		return fmt.Errorf("configuration validation failed with %d errors", len(result.Errors))
	}
	if configStrict {
		return fmt.Errorf("configuration validation failed in strict mode with %d warnings", len(result.Warnings))
	}
	fmt.Fprintf(out, "%s %s is valid with %d warnings\n", color.YellowString("!"), targetFile, len(result.Warnings))
	return nil
}

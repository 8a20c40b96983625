package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/fragment/internal/config"
	"github.com/conneroisu/fragment/internal/logging"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "fragment",
	Short: "Live-coding previews for shader sketches",
	Long: `fragment renders a sketch into one or more live previews and hot-swaps
shader sources as you edit them, without remounting the previews.

Key Features:
  • Canvas 2D, software raster and GPU backends
  • Several previews of one sketch side by side
  • Shader hot reload with generation-ordered patching
  • Compile errors shown per surface in a browser overlay

Quick Start:
  fragment config init            Write .fragment.yml and a starter shader
  fragment serve                  Start the preview server
  fragment watch                  Hot reload without a browser
  fragment backends               List the renderer backends`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .fragment.yml, can also use FRAGMENT_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// initConfig points viper at the config file and the FRAGMENT_ environment.
func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "Warning: failed to load .env:", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("FRAGMENT_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(strings.TrimSuffix(config.DefaultFile, ".yml"))
	}

	viper.SetEnvPrefix("FRAGMENT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// A missing file falls back to defaults; a broken one is reported by
	// config.Load when it validates.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig resolves the configuration, with an optional sketch directory
// argument overriding sketch.entry.
func loadConfig(args []string) (*config.Config, error) {
	if len(args) > 0 {
		if err := ValidateDirExists(args[0]); err != nil {
			return nil, err
		}
		viper.Set("sketch.entry", args[0])
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the console logger, teeing to a rotated file when
// log.file is set. The returned func closes the file.
func newLogger(cfg *config.Config) (logging.Logger, func() error, error) {
	lc := cfg.LoggerConfig()
	console := logging.NewLogger(lc)
	if cfg.Log.File == "" {
		return console, func() error { return nil }, nil
	}

	file, err := logging.NewFileLogger(lc, cfg.Log.File)
	if err != nil {
		return nil, nil, err
	}
	return logging.NewMultiLogger(console, file), file.Close, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// Package config provides configuration management for fragment using Viper
// for loading from files, environment variables and command-line flags.
//
// The configuration system supports YAML files, environment variable overrides
// with the FRAGMENT_ prefix and validation. It covers the dev server, the
// sketch and its previews, shader file watching, logging and development
// options such as the error overlay.
package config

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conneroisu/fragment/internal/logging"
	"github.com/conneroisu/fragment/internal/renderer"
)

// DefaultFile is the config file looked up in the working directory.
const DefaultFile = ".fragment.yml"

// MaxPixelDensity bounds sketch.pixel_density.
const MaxPixelDensity = 8.0

// MaxSketchSide bounds sketch.width and sketch.height in CSS pixels.
const MaxSketchSide = 16384

type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Sketch      SketchConfig      `mapstructure:"sketch" yaml:"sketch"`
	Watch       WatchConfig       `mapstructure:"watch" yaml:"watch"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	Development DevelopmentConfig `mapstructure:"development" yaml:"development"`
}

type ServerConfig struct {
	Host           string   `mapstructure:"host" yaml:"host"`
	Port           int      `mapstructure:"port" yaml:"port"`
	Open           bool     `mapstructure:"open" yaml:"open"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins,omitempty"`
}

type SketchConfig struct {
	// Entry is the sketch directory; program paths are relative to it.
	Entry            string        `mapstructure:"entry" yaml:"entry"`
	Backend          string        `mapstructure:"backend" yaml:"backend"`
	Previews         int           `mapstructure:"previews" yaml:"previews"`
	Width            int           `mapstructure:"width" yaml:"width"`
	Height           int           `mapstructure:"height" yaml:"height"`
	PixelDensity     float64       `mapstructure:"pixel_density" yaml:"pixel_density"`
	FPS              int           `mapstructure:"fps" yaml:"fps"`
	MaxBackingPixels int           `mapstructure:"max_backing_pixels" yaml:"max_backing_pixels"`
	Program          ProgramConfig `mapstructure:"program" yaml:"program"`
}

type ProgramConfig struct {
	Key      string `mapstructure:"key" yaml:"key"`
	Vertex   string `mapstructure:"vertex" yaml:"vertex,omitempty"`
	Fragment string `mapstructure:"fragment" yaml:"fragment"`
}

type WatchConfig struct {
	Paths      []string      `mapstructure:"paths" yaml:"paths"`
	Extensions []string      `mapstructure:"extensions" yaml:"extensions"`
	Debounce   time.Duration `mapstructure:"debounce" yaml:"debounce"`
	Ignore     []string      `mapstructure:"ignore" yaml:"ignore"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file,omitempty"`
}

type DevelopmentConfig struct {
	HotReload    bool `mapstructure:"hot_reload" yaml:"hot_reload"`
	ErrorOverlay bool `mapstructure:"error_overlay" yaml:"error_overlay"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 3000,
		},
		Sketch: SketchConfig{
			Entry:            ".",
			Backend:          renderer.Canvas2D.String(),
			Previews:         1,
			Width:            640,
			Height:           480,
			PixelDensity:     1,
			FPS:              60,
			MaxBackingPixels: renderer.DefaultMaxBackingPixels,
			Program: ProgramConfig{
				Key:      "main",
				Fragment: "shaders/main.frag.wgsl",
			},
		},
		Watch: WatchConfig{
			Paths:      []string{"."},
			Extensions: []string{".wgsl", ".glsl", ".vert", ".frag", ".comp"},
			Debounce:   100 * time.Millisecond,
			Ignore:     []string{"node_modules", ".git", "dist"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Development: DevelopmentConfig{
			HotReload:    true,
			ErrorOverlay: true,
		},
	}
}

// SetDefaults registers Default() with viper so unset keys fall back to it
// and `config show` prints every key.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.open", d.Server.Open)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("sketch.entry", d.Sketch.Entry)
	v.SetDefault("sketch.backend", d.Sketch.Backend)
	v.SetDefault("sketch.previews", d.Sketch.Previews)
	v.SetDefault("sketch.width", d.Sketch.Width)
	v.SetDefault("sketch.height", d.Sketch.Height)
	v.SetDefault("sketch.pixel_density", d.Sketch.PixelDensity)
	v.SetDefault("sketch.fps", d.Sketch.FPS)
	v.SetDefault("sketch.max_backing_pixels", d.Sketch.MaxBackingPixels)
	v.SetDefault("sketch.program.key", d.Sketch.Program.Key)
	v.SetDefault("sketch.program.vertex", d.Sketch.Program.Vertex)
	v.SetDefault("sketch.program.fragment", d.Sketch.Program.Fragment)
	v.SetDefault("watch.paths", d.Watch.Paths)
	v.SetDefault("watch.extensions", d.Watch.Extensions)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
	v.SetDefault("watch.ignore", d.Watch.Ignore)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("development.hot_reload", d.Development.HotReload)
	v.SetDefault("development.error_overlay", d.Development.ErrorOverlay)
}

// Load reads the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom unmarshals v over the defaults and validates the result.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, err
	}

	config.Watch.Paths = trimList(config.Watch.Paths)
	config.Watch.Extensions = trimList(config.Watch.Extensions)
	config.Watch.Ignore = trimList(config.Watch.Ignore)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// trimList drops blanks left by comma separated env values such as
// FRAGMENT_WATCH_PATHS="shaders, lib".
func trimList(in []string) []string {
	out := in[:0]
	for _, part := range in {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// BackendKind returns the parsed sketch.backend.
func (c *Config) BackendKind() renderer.Kind {
	kind, err := renderer.ParseKind(c.Sketch.Backend)
	if err != nil {
		return renderer.Canvas2D
	}
	return kind
}

// LoggerConfig translates the log section for logging.NewLogger.
func (c *Config) LoggerConfig() *logging.LoggerConfig {
	cfg := logging.DefaultConfig()
	if level, err := logging.ParseLevel(c.Log.Level); err == nil {
		cfg.Level = level
	}
	if c.Log.Format != "" {
		cfg.Format = c.Log.Format
	}
	return cfg
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := validateSketchConfig(&config.Sketch); err != nil {
		return fmt.Errorf("sketch config: %w", err)
	}
	if err := validateWatchConfig(&config.Watch); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	if err := validateLogConfig(&config.Log); err != nil {
		return fmt.Errorf("log config: %w", err)
	}
	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// Port 0 asks the system for a free port.
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if config.Host != "" {
		if err := checkDangerousChars(config.Host, "\\"); err != nil {
			return fmt.Errorf("host %w", err)
		}
	}

	return nil
}

func validateSketchConfig(config *SketchConfig) error {
	if config.Entry == "" {
		return fmt.Errorf("entry is empty")
	}
	if err := checkDangerousChars(config.Entry); err != nil {
		return fmt.Errorf("entry %w", err)
	}
	if _, err := renderer.ParseKind(config.Backend); err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	if config.Previews < 1 || config.Previews > 64 {
		return fmt.Errorf("previews %d is not in valid range 1-64", config.Previews)
	}
	if config.Width <= 0 || config.Height <= 0 {
		return fmt.Errorf("size %dx%d must be positive", config.Width, config.Height)
	}
	d := config.PixelDensity
	if math.IsNaN(d) || d <= 0 || d > MaxPixelDensity {
		return fmt.Errorf("pixel_density %v is not in (0, %v]", d, MaxPixelDensity)
	}
	if config.FPS < 1 || config.FPS > 240 {
		return fmt.Errorf("fps %d is not in valid range 1-240", config.FPS)
	}
	if config.Width > MaxSketchSide || config.Height > MaxSketchSide {
		return fmt.Errorf("size %dx%d exceeds %d pixels per side", config.Width, config.Height, MaxSketchSide)
	}
	if config.MaxBackingPixels < 0 {
		return fmt.Errorf("max_backing_pixels %d is negative", config.MaxBackingPixels)
	}
	limit := config.MaxBackingPixels
	if limit == 0 {
		limit = renderer.DefaultMaxBackingPixels
	}
	bw, bh, err := renderer.BackingSize(config.Width, config.Height, d)
	if err != nil {
		return err
	}
	if float64(bw)*float64(bh) > float64(limit) {
		return fmt.Errorf("backing store %dx%d at pixel_density %v exceeds max_backing_pixels %d", bw, bh, d, limit)
	}
	if config.Program.Fragment == "" {
		return fmt.Errorf("program.fragment is required")
	}
	if err := validatePath(config.Program.Fragment); err != nil {
		return fmt.Errorf("invalid program.fragment '%s': %w", config.Program.Fragment, err)
	}
	if config.Program.Vertex != "" {
		if err := validatePath(config.Program.Vertex); err != nil {
			return fmt.Errorf("invalid program.vertex '%s': %w", config.Program.Vertex, err)
		}
	}
	return nil
}

func validateWatchConfig(config *WatchConfig) error {
	for _, path := range config.Paths {
		if err := validatePath(path); err != nil {
			return fmt.Errorf("invalid watch path '%s': %w", path, err)
		}
	}
	for _, ext := range config.Extensions {
		if ext == "" || strings.ContainsAny(ext, `/\`) {
			return fmt.Errorf("invalid extension %q", ext)
		}
	}
	if config.Debounce < 0 {
		return fmt.Errorf("debounce %v is negative", config.Debounce)
	}
	return nil
}

func validateLogConfig(config *LogConfig) error {
	if _, err := logging.ParseLevel(config.Level); err != nil {
		return err
	}
	switch config.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("format %q must be text or json", config.Format)
	}
	return nil
}

var dangerousChars = []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'"}

func checkDangerousChars(s string, extra ...string) error {
	for _, char := range append(dangerousChars, extra...) {
		if strings.Contains(s, char) {
			return fmt.Errorf("contains dangerous character: %s", char)
		}
	}
	return nil
}

// validatePath validates a file path for security
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)

	if filepath.IsAbs(cleanPath) {
		return fmt.Errorf("path should be relative: %s", path)
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path contains traversal: %s", path)
	}

	return checkDangerousChars(cleanPath)
}

package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/fragment/internal/logging"
	"github.com/conneroisu/fragment/internal/renderer"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(v *viper.Viper)
		expectError bool
		check       func(t *testing.T, c *Config)
	}{
		{
			name:  "defaults",
			setup: func(*viper.Viper) {},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, Default(), c)
			},
		},
		{
			name: "overrides",
			setup: func(v *viper.Viper) {
				v.Set("server.port", 8080)
				v.Set("sketch.backend", "webgl")
				v.Set("sketch.previews", 3)
				v.Set("sketch.pixel_density", 2.0)
				v.Set("watch.debounce", "250ms")
				v.Set("watch.paths", []string{"shaders", "lib"})
			},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, 8080, c.Server.Port)
				assert.Equal(t, renderer.GPU, c.BackendKind())
				assert.Equal(t, 3, c.Sketch.Previews)
				assert.Equal(t, 2.0, c.Sketch.PixelDensity)
				assert.Equal(t, 250*time.Millisecond, c.Watch.Debounce)
				assert.Equal(t, []string{"shaders", "lib"}, c.Watch.Paths)
			},
		},
		{
			name: "comma separated list",
			setup: func(v *viper.Viper) {
				v.Set("watch.paths", "shaders, lib,")
			},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, []string{"shaders", "lib"}, c.Watch.Paths)
			},
		},
		{
			name: "false overrides a true default",
			setup: func(v *viper.Viper) {
				v.Set("development.error_overlay", false)
			},
			check: func(t *testing.T, c *Config) {
				assert.False(t, c.Development.ErrorOverlay)
				assert.True(t, c.Development.HotReload)
			},
		},
		{
			name:        "invalid port type",
			setup:       func(v *viper.Viper) { v.Set("server.port", "invalid_port") },
			expectError: true,
		},
		{
			name:        "unknown backend",
			setup:       func(v *viper.Viper) { v.Set("sketch.backend", "vulkan") },
			expectError: true,
		},
		{
			name:        "density out of range",
			setup:       func(v *viper.Viper) { v.Set("sketch.pixel_density", 9.0) },
			expectError: true,
		},
		{
			name:        "traversal in program path",
			setup:       func(v *viper.Viper) { v.Set("sketch.program.fragment", "../secret.wgsl") },
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			tt.setup(v)

			config, err := LoadFrom(v)

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, config)
				return
			}
			require.NoError(t, err)
			tt.check(t, config)
		})
	}
}

func TestLoadGlobalViper(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("server.host", "0.0.0.0")

	config, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
}

func TestLoadFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, DefaultFile)
	require.NoError(t, os.WriteFile(file, []byte(`
server:
  port: 4000
sketch:
  backend: p5
  width: 320
watch:
  debounce: 50ms
`), 0o644))

	t.Setenv("FRAGMENT_SKETCH_WIDTH", "800")

	v := viper.New()
	v.SetConfigFile(file)
	v.SetEnvPrefix("FRAGMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	require.NoError(t, v.ReadInConfig())

	config, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, 4000, config.Server.Port)
	assert.Equal(t, renderer.SoftwareRaster, config.BackendKind())
	assert.Equal(t, 800, config.Sketch.Width, "env wins over file")
	assert.Equal(t, 50*time.Millisecond, config.Watch.Debounce)
}

func TestValidatePath(t *testing.T) {
	tests := []struct {
		path    string
		wantErr bool
	}{
		{"shaders/main.wgsl", false},
		{"./shaders", false},
		{".", false},
		{"..shaders/x.wgsl", false},
		{"", true},
		{"../outside", true},
		{"shaders/../../outside", true},
		{"/etc/passwd", true},
		{"shaders;rm -rf", true},
		{"$(whoami)", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := validatePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateSketchConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *SketchConfig)
	}{
		{"zero previews", func(c *SketchConfig) { c.Previews = 0 }},
		{"too many previews", func(c *SketchConfig) { c.Previews = 65 }},
		{"zero width", func(c *SketchConfig) { c.Width = 0 }},
		{"negative height", func(c *SketchConfig) { c.Height = -1 }},
		{"zero density", func(c *SketchConfig) { c.PixelDensity = 0 }},
		{"zero fps", func(c *SketchConfig) { c.FPS = 0 }},
		{"missing fragment", func(c *SketchConfig) { c.Program.Fragment = "" }},
		{"absolute vertex", func(c *SketchConfig) { c.Program.Vertex = "/abs.wgsl" }},
		{"empty entry", func(c *SketchConfig) { c.Entry = "" }},
		{"negative max pixels", func(c *SketchConfig) { c.MaxBackingPixels = -1 }},
		{"width beyond max side", func(c *SketchConfig) { c.Width = MaxSketchSide + 1 }},
		{"huge height", func(c *SketchConfig) { c.Height = math.MaxInt32 }},
		{"backing beyond default limit", func(c *SketchConfig) { c.Width, c.Height, c.PixelDensity = 4096, 4096, 8 }},
		{"backing beyond configured limit", func(c *SketchConfig) { c.MaxBackingPixels = 100 * 100 }},
	}

	assert.NoError(t, validateSketchConfig(&Default().Sketch))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default().Sketch
			tt.mutate(&c)
			assert.Error(t, validateSketchConfig(&c))
		})
	}
}

func TestValidateServerAndLogConfig(t *testing.T) {
	assert.NoError(t, validateServerConfig(&ServerConfig{Port: 0, Host: "localhost"}))
	assert.Error(t, validateServerConfig(&ServerConfig{Port: 70000}))
	assert.Error(t, validateServerConfig(&ServerConfig{Port: 80, Host: "local;host"}))

	assert.NoError(t, validateLogConfig(&LogConfig{Level: "debug", Format: "json"}))
	assert.Error(t, validateLogConfig(&LogConfig{Level: "loud"}))
	assert.Error(t, validateLogConfig(&LogConfig{Level: "info", Format: "xml"}))

	assert.Error(t, validateWatchConfig(&WatchConfig{Extensions: []string{"a/b"}}))
	assert.Error(t, validateWatchConfig(&WatchConfig{Debounce: -time.Second}))
}

func TestLoggerConfig(t *testing.T) {
	c := Default()
	c.Log.Level = "debug"
	c.Log.Format = "json"

	lc := c.LoggerConfig()
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.Equal(t, "json", lc.Format)
}

func TestValidateConfigWithDetails(t *testing.T) {
	dir := t.TempDir()
	c := Default()
	c.Sketch.Entry = dir
	c.Server.Port = 80
	c.Development.HotReload = false

	result := ValidateConfigWithDetails(c)
	assert.True(t, result.Valid)
	assert.False(t, result.HasErrors())
	require.True(t, result.HasWarnings())

	fields := make([]string, 0, len(result.Warnings))
	for _, w := range result.Warnings {
		fields = append(fields, w.Field)
	}
	assert.Contains(t, fields, "server.port")
	assert.Contains(t, fields, "sketch.program.fragment")
	assert.Contains(t, fields, "development.error_overlay")
	assert.Contains(t, result.String(), "Validation warnings")

	c.Sketch.Backend = "vulkan"
	result = ValidateConfigWithDetails(c)
	assert.False(t, result.Valid)
	assert.Contains(t, result.String(), "Available backends: 2d, software, gpu")
}

func TestWriteFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	c := Default()
	c.Watch.Debounce = 250 * time.Millisecond
	c.Sketch.Backend = "gpu"

	require.NoError(t, WriteFile(path, c, false))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "debounce: 250ms")
	assert.True(t, strings.HasPrefix(string(data), "# fragment configuration"))

	// Refuses to overwrite without force.
	assert.Error(t, WriteFile(path, c, false))
	assert.NoError(t, WriteFile(path, c, true))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	loaded, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, c, loaded)
}

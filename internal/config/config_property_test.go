//go:build property
// +build property

package config

import (
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/spf13/viper"
)

func TestConfigurationProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("valid sketch settings always load", prop.ForAll(
		func(port, previews, width, height int, density float64) bool {
			v := viper.New()
			v.Set("server.port", port)
			v.Set("sketch.previews", previews)
			v.Set("sketch.width", width)
			v.Set("sketch.height", height)
			v.Set("sketch.pixel_density", density)

			c, err := LoadFrom(v)
			return err == nil && c.Sketch.Previews == previews && c.Sketch.PixelDensity == density
		},
		gen.IntRange(1024, 65535),
		gen.IntRange(1, 64),
		gen.IntRange(1, 1024),
		gen.IntRange(1, 1024),
		gen.Float64Range(0.25, MaxPixelDensity),
	))

	properties.Property("oversized sketches never load", prop.ForAll(
		func(width, height int) bool {
			v := viper.New()
			v.Set("sketch.width", width)
			v.Set("sketch.height", height)

			_, err := LoadFrom(v)
			return err != nil
		},
		gen.IntRange(MaxSketchSide+1, math.MaxInt32),
		gen.IntRange(1, MaxSketchSide),
	))

	properties.Property("path validation rejects anything escaping the root", prop.ForAll(
		func(parts []string, up int) bool {
			path := filepath.Join(append([]string{strings.Repeat("../", up)}, parts...)...)
			err := validatePath(path)

			clean := filepath.Clean(path)
			escapes := clean == ".." || strings.HasPrefix(clean, "../")
			if escapes {
				return err != nil
			}
			return err == nil
		},
		gen.SliceOfN(3, gen.RegexMatch(`^[a-z][a-z0-9_]{0,8}$`)),
		gen.IntRange(0, 3),
	))

	properties.Property("port validation", prop.ForAll(
		func(port int) bool {
			err := validateServerConfig(&ServerConfig{Port: port, Host: "localhost"})
			if port >= 0 && port <= 65535 {
				return err == nil
			}
			return err != nil
		},
		gen.IntRange(-1000, 70000),
	))

	properties.Property("marshal then load preserves the config", prop.ForAll(
		func(previews int, debounceMs int, backend string) bool {
			c := Default()
			c.Sketch.Previews = previews
			c.Sketch.Backend = backend
			c.Watch.Debounce = time.Duration(debounceMs) * time.Millisecond

			path := filepath.Join(t.TempDir(), DefaultFile)
			if err := WriteFile(path, c, true); err != nil {
				return false
			}
			v := viper.New()
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return false
			}
			loaded, err := LoadFrom(v)
			return err == nil &&
				loaded.Sketch.Previews == previews &&
				loaded.Sketch.Backend == backend &&
				loaded.Watch.Debounce == c.Watch.Debounce
		},
		gen.IntRange(1, 64),
		gen.IntRange(0, 5000),
		gen.OneConstOf("2d", "software", "gpu", "webgl", "p5"),
	))

	properties.TestingRun(t)
}

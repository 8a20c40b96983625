package server

import (
	"context"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/fragment/internal/config"
	"github.com/conneroisu/fragment/internal/patch"
)

func newSketchConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	writeShader(t, root, "fn main() {}")
	return testConfig(root)
}

func TestNewOrchestratorRequiresDependencies(t *testing.T) {
	_, err := NewOrchestrator(Dependencies{})
	assert.Error(t, err)
}

func TestPreviewID(t *testing.T) {
	assert.Equal(t, "preview-1", PreviewID(1))
	assert.Equal(t, "preview-12", PreviewID(12))
}

func TestOrchestratorMountsEveryBackend(t *testing.T) {
	for _, backend := range []string{"2d", "software", "gpu"} {
		t.Run(backend, func(t *testing.T) {
			cfg := newSketchConfig(t)
			cfg.Sketch.Backend = backend
			cfg.Sketch.Previews = 3

			orch := newOrchestrator(t, cfg, nil)
			instances, err := orch.MountPreviews(context.Background())
			require.NoError(t, err)
			require.Len(t, instances, 3)
			for i, inst := range instances {
				assert.Equal(t, PreviewID(i+1), inst.ID)
				assert.Equal(t, cfg.BackendKind(), inst.Kind)
			}
			assert.Equal(t, 3, orch.Host().Coordinator().Stats().Live)
		})
	}
}

func TestOrchestratorNotificationsReachQueue(t *testing.T) {
	cfg := newSketchConfig(t)
	orch := newOrchestrator(t, cfg, nil)

	require.NoError(t, orch.Start(context.Background()))
	assert.Equal(t, 2, orch.Host().Registry().Count())

	orch.Notifications() <- patch.Notification{OriginPath: fragmentPath, Source: "fn main() { v2 }"}

	coord := orch.Host().Coordinator()
	require.Eventually(t, func() bool { return coord.Stats().Latest == 1 },
		2*time.Second, 5*time.Millisecond)

	// Both previews draw past the generation, so it retires.
	require.Eventually(t, func() bool { return coord.Stats().Retired == 1 },
		2*time.Second, 5*time.Millisecond)
	assert.Positive(t, orch.Scheduler().Frames())

	src, ok := coord.Resolve(PreviewID(1), fragmentPath)
	require.True(t, ok)
	assert.Equal(t, "fn main() { v2 }", src)

	require.NoError(t, orch.Shutdown(context.Background()))
	assert.Zero(t, orch.Host().Registry().Count())
	// Idempotent.
	require.NoError(t, orch.Shutdown(context.Background()))
}

func TestOrchestratorHotReload(t *testing.T) {
	cfg := newSketchConfig(t)
	cfg.Development.HotReload = true

	orch := newOrchestrator(t, cfg, nil)
	require.NoError(t, orch.Start(context.Background()))

	coord := orch.Host().Coordinator()

	// Rewriting the same source is not a patch.
	writeShader(t, cfg.Sketch.Entry, "fn main() {}")
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, coord.Stats().Latest)

	writeShader(t, cfg.Sketch.Entry, "fn main() { edited }")
	require.Eventually(t, func() bool { return coord.Stats().Latest >= 1 },
		3*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		src, ok := coord.Resolve(PreviewID(2), fragmentPath)
		return ok && src == "fn main() { edited }"
	}, 3*time.Second, 10*time.Millisecond)

	// A broken edit is reported without stopping the previews.
	writeShader(t, cfg.Sketch.Entry, "fn main() { broken }")
	require.Eventually(t, func() bool { return orch.Errors().HasErrors() },
		3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, orch.Host().Registry().Count())

	require.NoError(t, orch.Shutdown(context.Background()))
}

func TestOrchestratorReload(t *testing.T) {
	cfg := newSketchConfig(t)
	orch := newOrchestrator(t, cfg, nil)
	_, err := orch.MountPreviews(context.Background())
	require.NoError(t, err)

	before, ok := orch.Host().Registry().Get(PreviewID(1))
	require.True(t, ok)

	orch.Host().Coordinator().Enqueue(patch.Notification{OriginPath: fragmentPath, Source: "stale"})
	writeShader(t, cfg.Sketch.Entry, "fn main() { v2 }")
	require.NoError(t, orch.Reload(context.Background()))

	after, ok := orch.Host().Registry().Get(PreviewID(1))
	require.True(t, ok)
	assert.NotEqual(t, before.SurfaceID, after.SurfaceID)
	assert.Zero(t, orch.Host().Coordinator().Stats().Pending)

	// The dropped patch no longer overrides the reloaded file.
	_, ok = orch.Host().Coordinator().Resolve(PreviewID(1), fragmentPath)
	assert.False(t, ok)

	t.Run("missing file keeps the previews", func(t *testing.T) {
		require.NoError(t, os.Remove(filepath.Join(cfg.Sketch.Entry, filepath.FromSlash(fragmentPath))))
		assert.Error(t, orch.Reload(context.Background()))
		assert.Equal(t, 2, orch.Host().Registry().Count())
	})
}

func TestOrchestratorExport(t *testing.T) {
	cfg := newSketchConfig(t)
	cfg.Sketch.PixelDensity = 1.5
	orch := newOrchestrator(t, cfg, nil)
	_, err := orch.MountPreviews(context.Background())
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "frames")
	paths, err := orch.Export(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(dir, "preview-1.png"),
		filepath.Join(dir, "preview-2.png"),
	}, paths)

	f, err := os.Open(paths[0])
	require.NoError(t, err)
	defer f.Close()

	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 48, img.Bounds().Dx())
	assert.Equal(t, 24, img.Bounds().Dy())
}

package surface

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fragerrors "github.com/conneroisu/fragment/internal/errors"
	"github.com/conneroisu/fragment/internal/patch"
	"github.com/conneroisu/fragment/internal/preview"
	"github.com/conneroisu/fragment/internal/renderer"
)

var echoCompiler = renderer.CompilerFunc(func(src string) ([]byte, error) {
	if src == "broken" {
		return nil, errors.New("unexpected token")
	}
	return []byte(src), nil
})

func newTestHost(t *testing.T, opts Options) *Host {
	t.Helper()
	if opts.Compiler == nil {
		opts.Compiler = echoCompiler
	}
	h, err := NewHost(patch.NewCoordinator(nil), opts)
	require.NoError(t, err)
	return h
}

func mountGPU(t *testing.T, h *Host, id string) preview.Instance {
	t.Helper()
	inst, err := h.Mount(context.Background(), MountRequest{
		ID: id, Kind: renderer.GPU, Width: 32, Height: 32, PixelDensity: 1,
	})
	require.NoError(t, err)
	return inst
}

func TestHostMount(t *testing.T) {
	h := newTestHost(t, Options{})

	inst, err := h.Mount(context.Background(), MountRequest{
		ID: "1", Kind: renderer.SoftwareRaster, Width: 200, Height: 100, PixelDensity: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, "software", inst.Backend)
	assert.Equal(t, 400, inst.BackingWidth)
	assert.Equal(t, 200, inst.BackingHeight)
	assert.NotEmpty(t, inst.SurfaceID)
	assert.Equal(t, 1, h.Registry().Count())
	assert.Equal(t, 1, h.Coordinator().Stats().Live)

	s, ok := h.Surface("1")
	require.True(t, ok)
	assert.Equal(t, inst.SurfaceID, s.SurfaceID())

	_, err = h.Mount(context.Background(), MountRequest{ID: "1", Kind: renderer.GPU, Width: 1, Height: 1, PixelDensity: 1})
	assert.ErrorIs(t, err, fragerrors.ErrDuplicateInstance)
	assert.Equal(t, 1, h.Registry().Count())
}

func TestHostMountAllocationFailureRollsBack(t *testing.T) {
	h := newTestHost(t, Options{MaxBackingPixels: 64 * 64})

	_, err := h.Mount(context.Background(), MountRequest{
		ID: "big", Kind: renderer.Canvas2D, Width: 100, Height: 100, PixelDensity: 1,
	})
	require.Error(t, err)
	assert.True(t, fragerrors.IsAllocationFailure(err))
	assert.Equal(t, 0, h.Registry().Count())
	assert.Equal(t, 0, h.Coordinator().Stats().Live)

	// The id is free again.
	_, err = h.Mount(context.Background(), MountRequest{
		ID: "big", Kind: renderer.Canvas2D, Width: 10, Height: 10, PixelDensity: 1,
	})
	assert.NoError(t, err)
}

func TestHostMountUnknownBackend(t *testing.T) {
	h := newTestHost(t, Options{})
	_, err := h.Mount(context.Background(), MountRequest{ID: "1", Kind: renderer.Kind(42), Width: 1, Height: 1, PixelDensity: 1})
	assert.ErrorIs(t, err, fragerrors.ErrUnknownBackend)
}

func TestHostStaleCallsAreNoOps(t *testing.T) {
	h := newTestHost(t, Options{})
	mountGPU(t, h, "1")
	require.NoError(t, h.Destroy("1"))

	assert.NoError(t, h.BeforeUpdate("1"))
	assert.NoError(t, h.AfterUpdate("1"))
	assert.NoError(t, h.Resize("1", 10, 10, 1))
	assert.NoError(t, h.Destroy("1"))

	called := false
	assert.NoError(t, h.Frame("1", func(renderer.Surface) error {
		called = true
		return nil
	}))
	assert.False(t, called, "a destroyed id never reaches a draw")
}

func TestHostDestroyMidGenerationDoesNotBlockRetirement(t *testing.T) {
	h := newTestHost(t, Options{})
	retired := 0
	h.Coordinator().OnRetire(func(uint64) { retired++ })

	for _, id := range []string{"1", "2", "3"} {
		mountGPU(t, h, id)
	}
	h.Coordinator().Enqueue(patch.Notification{OriginPath: "a.glsl", Source: "v2"})

	noop := func(renderer.Surface) error { return nil }
	require.NoError(t, h.Frame("1", noop))
	require.NoError(t, h.BeforeUpdate("2"))
	require.NoError(t, h.Destroy("2"))
	assert.Equal(t, 0, retired)

	require.NoError(t, h.Frame("3", noop))
	assert.Equal(t, 1, retired)
	assert.NoError(t, h.AfterUpdate("2"), "late afterUpdate for a destroyed preview is swallowed")
}

func TestHostFrameCompletesWhenDrawFails(t *testing.T) {
	h := newTestHost(t, Options{})
	mountGPU(t, h, "1")
	h.Coordinator().Enqueue(patch.Notification{OriginPath: "x", Source: "y"})

	boom := errors.New("boom")
	err := h.Frame("1", func(renderer.Surface) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, h.Coordinator().Stats().Pending)
}

func TestHostResize(t *testing.T) {
	h := newTestHost(t, Options{})
	mountGPU(t, h, "1")
	events := h.Registry().Watch()

	require.NoError(t, h.Resize("1", 64, 48, 2))
	require.NoError(t, h.Resize("1", 64, 48, 2))

	inst, ok := h.Registry().Get("1")
	require.True(t, ok)
	assert.Equal(t, 128, inst.BackingWidth)
	assert.Equal(t, 96, inst.BackingHeight)
	assert.Equal(t, 2.0, inst.PixelDensity)

	require.Len(t, events, 1, "an unchanged resize emits nothing")
	ev := <-events
	assert.Equal(t, preview.EventResized, ev.Type)

	assert.ErrorIs(t, h.Resize("1", -1, 48, 2), fragerrors.ErrInvalidGeometry)
}

func TestHostCompileErrorsReachSink(t *testing.T) {
	sink := fragerrors.NewCompileErrorCollector()
	h := newTestHost(t, Options{Sink: sink})
	mountGPU(t, h, "1")

	s, _ := h.Surface("1")
	gs := s.(*renderer.GPUSurface)
	_, err := gs.UseProgram(renderer.ProgramSpec{Key: "p", Stages: []renderer.StageSource{
		{Stage: renderer.StageFragment, OriginPath: "a.wgsl", Source: "ok"},
	}})
	require.NoError(t, err)

	h.Coordinator().Enqueue(patch.Notification{OriginPath: "a.wgsl", Source: "broken"})
	require.NoError(t, h.Frame("1", func(renderer.Surface) error { gs.Draw(); return nil }))

	_, ok := sink.Get(gs.SurfaceID())
	assert.True(t, ok)
}

func TestHostConcurrentMountsAndDestroyAll(t *testing.T) {
	h := newTestHost(t, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			kind := renderer.Kinds()[i%3]
			_, err := h.Mount(context.Background(), MountRequest{
				ID: fmt.Sprintf("p%d", i), Kind: kind, Width: 16, Height: 16, PixelDensity: 1,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 30, h.Registry().Count())
	assert.Equal(t, 30, h.Coordinator().Stats().Live)

	h.DestroyAll()
	assert.Equal(t, 0, h.Registry().Count())
	assert.Equal(t, 0, h.Coordinator().Stats().Live)
}

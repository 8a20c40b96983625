// Package surface hosts preview instances: it mounts them on the backend of
// their kind, forwards geometry changes and drives their frames.
package surface

import (
	"context"
	"fmt"
	"sync"

	fragerrors "github.com/conneroisu/fragment/internal/errors"
	"github.com/conneroisu/fragment/internal/logging"
	"github.com/conneroisu/fragment/internal/patch"
	"github.com/conneroisu/fragment/internal/preview"
	"github.com/conneroisu/fragment/internal/renderer"
)

// MountRequest asks the host for a new preview.
type MountRequest struct {
	ID           string
	Kind         renderer.Kind
	Container    string
	Descriptor   renderer.SurfaceDescriptor
	Width        int
	Height       int
	PixelDensity float64
}

// Options configure a Host.
type Options struct {
	Sink             fragerrors.Sink
	Compiler         renderer.Compiler
	MaxBackingPixels int
	Logger           logging.Logger
}

// Host composes the registry, one backend per kind and the coordinator.
//
// Mount may run concurrently for distinct ids. Every other lifecycle call is
// serialised so a destroy never lands in the middle of another instance's
// frame.
type Host struct {
	registry *preview.Registry
	coord    *patch.Coordinator
	backends map[renderer.Kind]renderer.Backend
	logger   logging.Logger

	lifecycle sync.Mutex
}

// NewHost creates a host with a backend for every built-in kind.
func NewHost(coord *patch.Coordinator, opts Options) (*Host, error) {
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}

	h := &Host{
		registry: preview.NewRegistry(coord, opts.Logger),
		coord:    coord,
		backends: make(map[renderer.Kind]renderer.Backend),
		logger:   opts.Logger.WithComponent("surface-host"),
	}
	for _, kind := range renderer.Kinds() {
		b, err := renderer.New(kind, renderer.Options{
			Patches:          coord,
			Sink:             opts.Sink,
			Compiler:         opts.Compiler,
			Logger:           opts.Logger,
			MaxBackingPixels: opts.MaxBackingPixels,
		})
		if err != nil {
			return nil, fmt.Errorf("create %s backend: %w", kind, err)
		}
		h.backends[kind] = b
	}
	return h, nil
}

// Registry returns the preview registry.
func (h *Host) Registry() *preview.Registry { return h.registry }

// Coordinator returns the patch coordinator.
func (h *Host) Coordinator() *patch.Coordinator { return h.coord }

// Mount reserves the id, allocates the surface and only then makes the
// instance live. A failed allocation releases the reservation and the
// instance is never counted.
func (h *Host) Mount(ctx context.Context, req MountRequest) (preview.Instance, error) {
	backend, ok := h.backends[req.Kind]
	if !ok {
		return preview.Instance{}, fmt.Errorf("%w: %s", fragerrors.ErrUnknownBackend, req.Kind)
	}
	if err := h.registry.Reserve(req.ID, req.Kind); err != nil {
		return preview.Instance{}, err
	}

	res, err := backend.Mount(ctx, renderer.MountParams{
		ID:           req.ID,
		Container:    req.Container,
		Descriptor:   req.Descriptor,
		Width:        req.Width,
		Height:       req.Height,
		PixelDensity: req.PixelDensity,
	})
	if err != nil {
		h.registry.Release(req.ID)
		if !fragerrors.IsAllocationFailure(err) {
			err = fragerrors.NewAllocationError(req.ID, err)
		}
		h.logger.Error(ctx, err, "Mount failed", "id", req.ID, "backend", req.Kind.String())
		return preview.Instance{}, err
	}

	inst := preview.Instance{
		ID:            req.ID,
		SurfaceID:     res.SurfaceID,
		Container:     req.Container,
		Width:         req.Width,
		Height:        req.Height,
		PixelDensity:  req.PixelDensity,
		BackingWidth:  res.BackingWidth,
		BackingHeight: res.BackingHeight,
	}
	if err := h.registry.Commit(inst); err != nil {
		h.registry.Release(req.ID)
		if derr := backend.Destroy(req.ID); derr != nil {
			h.logger.Warn(ctx, derr, "Rollback destroy failed", "id", req.ID)
		}
		return preview.Instance{}, err
	}

	inst, _ = h.registry.Get(req.ID)
	return inst, nil
}

// Resize forwards new container geometry to the instance's backend.
func (h *Host) Resize(id string, width, height int, density float64) error {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	inst, backend, ok := h.lookup(id, "resize")
	if !ok {
		return nil
	}
	err := backend.Resize(id, renderer.ResizeParams{Width: width, Height: height, PixelDensity: density})
	if err = h.swallowStale(err, id, "resize"); err != nil {
		return err
	}

	bw, bh, _ := renderer.BackingSize(width, height, density)
	if bw != inst.BackingWidth || bh != inst.BackingHeight ||
		width != inst.Width || height != inst.Height || density != inst.PixelDensity {
		h.registry.UpdateGeometry(id, width, height, density, bw, bh)
	}
	return nil
}

// BeforeUpdate starts a frame.
func (h *Host) BeforeUpdate(id string) error {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()
	return h.beforeUpdate(id)
}

// AfterUpdate ends a frame.
func (h *Host) AfterUpdate(id string) error {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()
	return h.afterUpdate(id)
}

func (h *Host) beforeUpdate(id string) error {
	_, backend, ok := h.lookup(id, "beforeUpdate")
	if !ok {
		return nil
	}
	return h.swallowStale(backend.BeforeUpdate(id), id, "beforeUpdate")
}

func (h *Host) afterUpdate(id string) error {
	_, backend, ok := h.lookup(id, "afterUpdate")
	if !ok {
		return nil
	}
	return h.swallowStale(backend.AfterUpdate(id), id, "afterUpdate")
}

// Frame runs one draw cycle: beforeUpdate, draw, afterUpdate. afterUpdate runs
// even when draw fails so the instance never holds up retirement.
func (h *Host) Frame(id string, draw func(renderer.Surface) error) error {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	if err := h.beforeUpdate(id); err != nil {
		return err
	}
	s, ok := h.surface(id)
	if !ok {
		return nil
	}

	drawErr := draw(s)
	if err := h.afterUpdate(id); err != nil {
		return err
	}
	return drawErr
}

// Destroy removes the instance from the registry and the coordinator in one
// step, then releases its surface.
func (h *Host) Destroy(id string) error {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	inst, ok := h.registry.Release(id)
	if !ok {
		h.logger.Warn(context.Background(), fragerrors.NewStaleInstanceError(id, "destroy"),
			"Ignoring lifecycle call for unknown preview", "id", id)
		return nil
	}
	return h.swallowStale(h.backends[inst.Kind].Destroy(id), id, "destroy")
}

// DestroyAll destroys every live instance.
func (h *Host) DestroyAll() {
	for _, inst := range h.registry.All() {
		if err := h.Destroy(inst.ID); err != nil {
			h.logger.Warn(context.Background(), err, "Destroy failed", "id", inst.ID)
		}
	}
}

// Surface returns the drawing surface of a live instance.
func (h *Host) Surface(id string) (renderer.Surface, bool) {
	return h.surface(id)
}

func (h *Host) surface(id string) (renderer.Surface, bool) {
	inst, ok := h.registry.Get(id)
	if !ok {
		return nil, false
	}
	return h.backends[inst.Kind].Surface(id)
}

func (h *Host) lookup(id, op string) (preview.Instance, renderer.Backend, bool) {
	inst, ok := h.registry.Get(id)
	if !ok {
		h.logger.Warn(context.Background(), fragerrors.NewStaleInstanceError(id, op),
			"Ignoring lifecycle call for unknown preview", "id", id)
		return preview.Instance{}, nil, false
	}
	return inst, h.backends[inst.Kind], true
}

func (h *Host) swallowStale(err error, id, op string) error {
	if err == nil || !fragerrors.IsStale(err) {
		return err
	}
	h.logger.Warn(context.Background(), err, "Ignoring lifecycle call for unknown preview", "id", id, "op", op)
	return nil
}

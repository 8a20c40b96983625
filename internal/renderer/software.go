package renderer

import (
	"context"
	"fmt"

	"github.com/gogpu/gg"

	fragerrors "github.com/conneroisu/fragment/internal/errors"
	"github.com/conneroisu/fragment/internal/logging"
)

// SoftwareSurface is an immediate-mode raster backed by a gg context. Its
// matrix is reset to the pixel density scale at every frame start.
type SoftwareSurface struct {
	surfaceBase
	dc       *gg.Context
	programs *programTable
	patches  PatchSource
}

// Context returns the drawing context.
func (s *SoftwareSurface) Context() *gg.Context { return s.dc }

// UseProgram binds spec, compiling it the first time it is seen.
func (s *SoftwareSurface) UseProgram(spec ProgramSpec) (*BoundProgram, error) {
	return s.programs.bind(spec, func(origin string) (string, bool) {
		return s.patches.Resolve(s.id, origin)
	})
}

// Program returns a bound program.
func (s *SoftwareSurface) Program(key string) (*BoundProgram, bool) {
	return s.programs.get(key)
}

// PaintProgram fills a rectangle with the output of a bound program. A
// program that never compiled paints nothing.
func (s *SoftwareSurface) PaintProgram(key string, x, y, w, h float64) error {
	prog, ok := s.programs.get(key)
	if !ok {
		return fmt.Errorf("program %q is not bound", key)
	}
	if prog.Compiled == nil {
		return nil
	}
	s.dc.SetColor(prog.Compiled.Color())
	s.dc.DrawRectangle(x, y, w, h)
	return s.dc.Fill()
}

// SoftwareBackend mounts gg contexts.
type SoftwareBackend struct {
	opts     Options
	logger   logging.Logger
	surfaces *surfaceSet[*SoftwareSurface]
}

// NewSoftware creates a SoftwareRaster backend.
func NewSoftware(opts Options) (*SoftwareBackend, error) {
	opts, err := opts.withDefaults(SoftwareRaster)
	if err != nil {
		return nil, err
	}
	return &SoftwareBackend{
		opts:     opts,
		logger:   opts.Logger.WithComponent("software"),
		surfaces: newSurfaceSet[*SoftwareSurface](),
	}, nil
}

// Kind implements Backend.
func (b *SoftwareBackend) Kind() Kind { return SoftwareRaster }

// Mount implements Backend.
func (b *SoftwareBackend) Mount(ctx context.Context, p MountParams) (MountResult, error) {
	if err := ctx.Err(); err != nil {
		return MountResult{}, fragerrors.NewAllocationError(p.ID, err)
	}
	bw, bh, err := checkMount(p, b.opts.MaxBackingPixels)
	if err != nil {
		return MountResult{}, err
	}

	dc := gg.NewContext(bw, bh)
	dc.ClearWithColor(gg.FromColor(p.Descriptor.Background))
	dc.Scale(p.PixelDensity, p.PixelDensity)

	s := &SoftwareSurface{dc: dc, patches: b.opts.Patches}
	s.init(SoftwareRaster, p, bw, bh)
	s.programs = newProgramTable(p.ID, s.surfaceID, b.opts.Compiler, b.opts.Sink)

	if err := b.surfaces.add(p.ID, s); err != nil {
		_ = dc.Close()
		return MountResult{}, err
	}

	b.logger.Debug(ctx, "Surface mounted",
		"instance_id", p.ID, "surface_id", s.surfaceID, "backing", []int{bw, bh})
	return MountResult{SurfaceID: s.surfaceID, Drawable: dc.Image(), BackingWidth: bw, BackingHeight: bh}, nil
}

// Resize resizes the context in place. gg keeps the matrix across a resize.
func (b *SoftwareBackend) Resize(id string, p ResizeParams) error {
	s, err := lookup(b.surfaces, id, "resize")
	if err != nil {
		return err
	}
	changed, bw, bh, err := s.geometryChanged(p, b.opts.MaxBackingPixels)
	if err != nil || !changed {
		return err
	}
	if err := s.dc.Resize(bw, bh); err != nil {
		return fmt.Errorf("resize %s: %w", id, err)
	}
	s.setGeometry(p, bw, bh)
	return nil
}

// BeforeUpdate applies pending patches and resets the matrix.
func (b *SoftwareBackend) BeforeUpdate(id string) error {
	s, err := lookup(b.surfaces, id, "beforeUpdate")
	if err != nil {
		return err
	}
	patches, err := b.opts.Patches.Begin(id)
	if err != nil {
		return err
	}
	if rebuilt := s.programs.apply(patches); rebuilt > 0 {
		b.logger.Debug(context.Background(), "Programs rebuilt", "instance_id", id, "count", rebuilt)
	}

	_, _, d := s.Size()
	s.dc.Identity()
	s.dc.Scale(d, d)
	return nil
}

// AfterUpdate implements Backend.
func (b *SoftwareBackend) AfterUpdate(id string) error {
	s, err := lookup(b.surfaces, id, "afterUpdate")
	if err != nil {
		return err
	}
	s.present(s.dc.Image())
	return b.opts.Patches.Complete(id)
}

// Destroy implements Backend.
func (b *SoftwareBackend) Destroy(id string) error {
	s, ok := b.surfaces.remove(id)
	if !ok {
		return fragerrors.NewStaleInstanceError(id, "destroy")
	}
	s.programs.release()
	if err := s.dc.Close(); err != nil {
		b.logger.Warn(context.Background(), err, "Context close failed", "instance_id", id)
	}
	return nil
}

// Surface implements Backend.
func (b *SoftwareBackend) Surface(id string) (Surface, bool) {
	s, ok := b.surfaces.get(id)
	if !ok {
		return nil, false
	}
	return s, true
}

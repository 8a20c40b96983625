package renderer

import (
	"context"
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	fragerrors "github.com/conneroisu/fragment/internal/errors"
	"github.com/conneroisu/fragment/internal/logging"
)

// Canvas2DSurface is a 2D raster with a current affine transform from CSS
// pixels to device pixels.
type Canvas2DSurface struct {
	surfaceBase
	raster    *image.RGBA
	transform f64.Aff3
}

// Raster returns the live backing store.
func (s *Canvas2DSurface) Raster() *image.RGBA { return s.raster }

// Transform returns the current transform.
func (s *Canvas2DSurface) Transform() f64.Aff3 { return s.transform }

// SetTransform replaces the current transform.
func (s *Canvas2DSurface) SetTransform(m f64.Aff3) { s.transform = m }

// Translate appends a translation to the current transform.
func (s *Canvas2DSurface) Translate(x, y float64) {
	s.transform = mulAff3(s.transform, f64.Aff3{1, 0, x, 0, 1, y})
}

// Scale appends a scale to the current transform.
func (s *Canvas2DSurface) Scale(x, y float64) {
	s.transform = mulAff3(s.transform, f64.Aff3{x, 0, 0, 0, y, 0})
}

// Clear fills the whole raster with c, ignoring the transform.
func (s *Canvas2DSurface) Clear(c color.Color) {
	draw.Draw(s.raster, s.raster.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
}

// FillRect composites a w x h rectangle at x,y through the current transform.
func (s *Canvas2DSurface) FillRect(x, y, w, h float64, c color.Color) {
	m := mulAff3(s.transform, f64.Aff3{w, 0, x, 0, h, y})
	draw.NearestNeighbor.Transform(s.raster, m, image.NewUniform(c), image.Rect(0, 0, 1, 1), draw.Over, nil)
}

func scaleAff3(d float64) f64.Aff3 {
	return f64.Aff3{d, 0, 0, 0, d, 0}
}

// mulAff3 returns a∘b, applying b first.
func mulAff3(a, b f64.Aff3) f64.Aff3 {
	return f64.Aff3{
		a[0]*b[0] + a[1]*b[3], a[0]*b[1] + a[1]*b[4], a[0]*b[2] + a[1]*b[5] + a[2],
		a[3]*b[0] + a[4]*b[3], a[3]*b[1] + a[4]*b[4], a[3]*b[2] + a[4]*b[5] + a[5],
	}
}

// Canvas2DBackend mounts plain 2D rasters. It binds no programs, so patches
// are consumed for generation accounting only.
type Canvas2DBackend struct {
	opts     Options
	logger   logging.Logger
	surfaces *surfaceSet[*Canvas2DSurface]
}

// NewCanvas2D creates a Canvas2D backend.
func NewCanvas2D(opts Options) (*Canvas2DBackend, error) {
	opts, err := opts.withDefaults(Canvas2D)
	if err != nil {
		return nil, err
	}
	return &Canvas2DBackend{
		opts:     opts,
		logger:   opts.Logger.WithComponent("canvas2d"),
		surfaces: newSurfaceSet[*Canvas2DSurface](),
	}, nil
}

// Kind implements Backend.
func (b *Canvas2DBackend) Kind() Kind { return Canvas2D }

// Mount implements Backend.
func (b *Canvas2DBackend) Mount(ctx context.Context, p MountParams) (MountResult, error) {
	if err := ctx.Err(); err != nil {
		return MountResult{}, fragerrors.NewAllocationError(p.ID, err)
	}
	bw, bh, err := checkMount(p, b.opts.MaxBackingPixels)
	if err != nil {
		return MountResult{}, err
	}

	s := &Canvas2DSurface{
		raster:    image.NewRGBA(image.Rect(0, 0, bw, bh)),
		transform: scaleAff3(p.PixelDensity),
	}
	s.init(Canvas2D, p, bw, bh)
	s.Clear(p.Descriptor.Background)

	if err := b.surfaces.add(p.ID, s); err != nil {
		return MountResult{}, err
	}

	b.logger.Debug(ctx, "Surface mounted",
		"instance_id", p.ID, "surface_id", s.surfaceID, "backing", []int{bw, bh})
	return MountResult{SurfaceID: s.surfaceID, Drawable: s.raster, BackingWidth: bw, BackingHeight: bh}, nil
}

// Resize reallocates the raster and rescales the previous frame into it so
// nothing blanks before the next draw. The transform is left alone.
func (b *Canvas2DBackend) Resize(id string, p ResizeParams) error {
	s, err := lookup(b.surfaces, id, "resize")
	if err != nil {
		return err
	}
	changed, bw, bh, err := s.geometryChanged(p, b.opts.MaxBackingPixels)
	if err != nil || !changed {
		return err
	}

	next := image.NewRGBA(image.Rect(0, 0, bw, bh))
	draw.ApproxBiLinear.Scale(next, next.Bounds(), s.raster, s.raster.Bounds(), draw.Src, nil)
	s.raster = next
	s.setGeometry(p, bw, bh)
	return nil
}

// BeforeUpdate implements Backend.
func (b *Canvas2DBackend) BeforeUpdate(id string) error {
	s, err := lookup(b.surfaces, id, "beforeUpdate")
	if err != nil {
		return err
	}
	if _, err := b.opts.Patches.Begin(id); err != nil {
		return err
	}
	_, _, d := s.Size()
	s.transform = scaleAff3(d)
	return nil
}

// AfterUpdate implements Backend.
func (b *Canvas2DBackend) AfterUpdate(id string) error {
	s, err := lookup(b.surfaces, id, "afterUpdate")
	if err != nil {
		return err
	}
	s.present(s.raster)
	return b.opts.Patches.Complete(id)
}

// Destroy implements Backend.
func (b *Canvas2DBackend) Destroy(id string) error {
	s, ok := b.surfaces.remove(id)
	if !ok {
		return fragerrors.NewStaleInstanceError(id, "destroy")
	}
	s.raster = nil
	b.logger.Debug(context.Background(), "Surface destroyed", "instance_id", id)
	return nil
}

// Surface implements Backend.
func (b *Canvas2DBackend) Surface(id string) (Surface, bool) {
	s, ok := b.surfaces.get(id)
	if !ok {
		return nil, false
	}
	return s, true
}

package renderer

import (
	"context"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"

	fragerrors "github.com/conneroisu/fragment/internal/errors"
	"github.com/conneroisu/fragment/internal/logging"
)

// Camera is the retained view state of a GPU surface. It survives resizes
// and frames; only the aspect ratio is taken from the current size.
type Camera struct {
	Eye    [3]float64
	Center [3]float64
	FovY   float64
	Near   float64
	Far    float64
}

// DefaultCamera looks down -Z from a distance that fits height pixels.
func DefaultCamera(height int) Camera {
	fov := math.Pi / 3
	z := float64(height) / 2 / math.Tan(fov/2)
	return Camera{
		Eye:  [3]float64{0, 0, z},
		FovY: fov,
		Near: z / 10,
		Far:  z * 10,
	}
}

// Projection returns the column-major perspective matrix for aspect.
func (c Camera) Projection(aspect float64) [16]float64 {
	f := 1 / math.Tan(c.FovY/2)
	nf := 1 / (c.Near - c.Far)
	return [16]float64{
		f / aspect, 0, 0, 0,
		0, f, 0, 0,
		0, 0, (c.Far + c.Near) * nf, -1,
		0, 0, 2 * c.Far * c.Near * nf, 0,
	}
}

func identity4() [16]float64 {
	return [16]float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
}

// GPUSurface is an offscreen render target with retained programs.
type GPUSurface struct {
	surfaceBase
	target   *image.RGBA
	camera   Camera
	model    [16]float64
	current  string
	modules  map[string][]uint32
	uploaded map[string]int
	programs *programTable
	patches  PatchSource
}

// Target returns the live render target.
func (s *GPUSurface) Target() *image.RGBA { return s.target }

// Camera returns the camera.
func (s *GPUSurface) Camera() Camera { return s.camera }

// SetCamera replaces the camera.
func (s *GPUSurface) SetCamera(c Camera) { s.camera = c }

// Model returns the per-frame model matrix.
func (s *GPUSurface) Model() [16]float64 { return s.model }

// Translate appends a translation to the model matrix.
func (s *GPUSurface) Translate(x, y, z float64) {
	s.model[12] += s.model[0]*x + s.model[4]*y + s.model[8]*z
	s.model[13] += s.model[1]*x + s.model[5]*y + s.model[9]*z
	s.model[14] += s.model[2]*x + s.model[6]*y + s.model[10]*z
}

// Projection returns the camera projection at the current aspect ratio.
func (s *GPUSurface) Projection() [16]float64 {
	w, h := s.BackingSize()
	return s.camera.Projection(float64(w) / float64(h))
}

// UseProgram binds spec and makes it current for Draw.
func (s *GPUSurface) UseProgram(spec ProgramSpec) (*BoundProgram, error) {
	prog, err := s.programs.bind(spec, func(origin string) (string, bool) {
		return s.patches.Resolve(s.id, origin)
	})
	s.current = spec.Key
	return prog, err
}

// Program returns a bound program.
func (s *GPUSurface) Program(key string) (*BoundProgram, bool) {
	return s.programs.get(key)
}

// Module returns the SPIR-V words uploaded for a program's fragment stage.
func (s *GPUSurface) Module(key string) []uint32 { return s.modules[key] }

// Clear fills the target with c.
func (s *GPUSurface) Clear(c color.Color) {
	draw.Draw(s.target, s.target.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
}

// Draw runs a full-target pass with the current program. Without a current
// program, or when it never compiled, nothing is drawn.
func (s *GPUSurface) Draw() {
	prog, ok := s.programs.get(s.current)
	if !ok || prog.Compiled == nil {
		return
	}
	if s.uploaded[prog.Key] != prog.Version {
		s.modules[prog.Key] = SPIRVWords(prog.Compiled.Binaries[StageFragment])
		s.uploaded[prog.Key] = prog.Version
	}
	draw.Draw(s.target, s.target.Bounds(), image.NewUniform(prog.Compiled.Color()), image.Point{}, draw.Src)
}

// GPUBackend renders into offscreen targets.
type GPUBackend struct {
	opts     Options
	logger   logging.Logger
	surfaces *surfaceSet[*GPUSurface]
}

// NewGPU creates a GPU backend.
func NewGPU(opts Options) (*GPUBackend, error) {
	opts, err := opts.withDefaults(GPU)
	if err != nil {
		return nil, err
	}
	return &GPUBackend{
		opts:     opts,
		logger:   opts.Logger.WithComponent("gpu"),
		surfaces: newSurfaceSet[*GPUSurface](),
	}, nil
}

// Kind implements Backend.
func (b *GPUBackend) Kind() Kind { return GPU }

// Mount implements Backend.
func (b *GPUBackend) Mount(ctx context.Context, p MountParams) (MountResult, error) {
	if err := ctx.Err(); err != nil {
		return MountResult{}, fragerrors.NewAllocationError(p.ID, err)
	}
	bw, bh, err := checkMount(p, b.opts.MaxBackingPixels)
	if err != nil {
		return MountResult{}, err
	}

	s := &GPUSurface{
		target:   image.NewRGBA(image.Rect(0, 0, bw, bh)),
		camera:   DefaultCamera(p.Height),
		model:    identity4(),
		modules:  make(map[string][]uint32),
		uploaded: make(map[string]int),
		patches:  b.opts.Patches,
	}
	s.init(GPU, p, bw, bh)
	s.programs = newProgramTable(p.ID, s.surfaceID, b.opts.Compiler, b.opts.Sink)
	s.Clear(p.Descriptor.Background)

	if err := b.surfaces.add(p.ID, s); err != nil {
		return MountResult{}, err
	}

	b.logger.Debug(ctx, "Surface mounted",
		"instance_id", p.ID, "surface_id", s.surfaceID, "backing", []int{bw, bh})
	return MountResult{SurfaceID: s.surfaceID, Drawable: s.target, BackingWidth: bw, BackingHeight: bh}, nil
}

// Resize reallocates the render target. Camera, model matrix and programs
// are untouched.
func (b *GPUBackend) Resize(id string, p ResizeParams) error {
	s, err := lookup(b.surfaces, id, "resize")
	if err != nil {
		return err
	}
	changed, bw, bh, err := s.geometryChanged(p, b.opts.MaxBackingPixels)
	if err != nil || !changed {
		return err
	}

	next := image.NewRGBA(image.Rect(0, 0, bw, bh))
	draw.ApproxBiLinear.Scale(next, next.Bounds(), s.target, s.target.Bounds(), draw.Src, nil)
	s.target = next
	s.setGeometry(p, bw, bh)
	return nil
}

// BeforeUpdate applies pending patches and resets the model matrix.
func (b *GPUBackend) BeforeUpdate(id string) error {
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
	s.model = identity4()
	return nil
}

// AfterUpdate implements Backend.
func (b *GPUBackend) AfterUpdate(id string) error {
	s, err := lookup(b.surfaces, id, "afterUpdate")
	if err != nil {
		return err
	}
	s.present(s.target)
	return b.opts.Patches.Complete(id)
}

// Destroy releases the target, the programs and their modules.
func (b *GPUBackend) Destroy(id string) error {
	s, ok := b.surfaces.remove(id)
	if !ok {
		return fragerrors.NewStaleInstanceError(id, "destroy")
	}
	s.programs.release()
	s.modules = nil
	s.target = nil
	b.logger.Debug(context.Background(), "Surface destroyed", "instance_id", id)
	return nil
}

// Surface implements Backend.
func (b *GPUBackend) Surface(id string) (Surface, bool) {
	s, ok := b.surfaces.get(id)
	if !ok {
		return nil, false
	}
	return s, true
}

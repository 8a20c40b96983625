// Package renderer defines the capability every preview backend implements
// and the three built-in variants: a Canvas2D raster, an immediate-mode
// software rasterizer and a retained-mode GPU backend.
//
// A Backend value serves any number of preview instances, keyed by id. The
// per-instance surface, transform state and bound programs belong to that
// instance alone; the only state shared between instances is the patch
// source handed to the backend at construction.
package renderer

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"strings"

	fragerrors "github.com/conneroisu/fragment/internal/errors"
	"github.com/conneroisu/fragment/internal/logging"
	"github.com/conneroisu/fragment/internal/patch"
)

// Kind identifies a backend variant.
type Kind int

const (
	// Canvas2D is a plain 2D raster with an affine transform.
	Canvas2D Kind = iota
	// SoftwareRaster is an immediate-mode software renderer.
	SoftwareRaster
	// GPU is a retained-mode renderer with compiled shader programs.
	GPU
)

// String returns the config name of the Kind
func (k Kind) String() string {
	switch k {
	case Canvas2D:
		return "2d"
	case SoftwareRaster:
		return "software"
	case GPU:
		return "gpu"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Kinds returns every built-in backend kind.
func Kinds() []Kind {
	return []Kind{Canvas2D, SoftwareRaster, GPU}
}

// kindNames lists the names ParseKind accepts per kind, config name first.
// "p5" and "webgl" are the names sketch templates use.
var kindNames = map[Kind][]string{
	Canvas2D:       {"2d", "canvas", "canvas2d"},
	SoftwareRaster: {"software", "raster", "p5"},
	GPU:            {"gpu", "webgl", "p5-webgl", "wgpu"},
}

// Aliases returns every name ParseKind accepts for k.
func (k Kind) Aliases() []string {
	return append([]string(nil), kindNames[k]...)
}

// BindsPrograms reports whether surfaces of this kind bind shader programs.
func (k Kind) BindsPrograms() bool {
	return k == SoftwareRaster || k == GPU
}

// ParseKind accepts the config names plus their aliases, case-insensitively.
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, k := range Kinds() {
		for _, alias := range kindNames[k] {
			if name == alias {
				return k, nil
			}
		}
	}
	return Canvas2D, fmt.Errorf("%w: %q", fragerrors.ErrUnknownBackend, s)
}

// SurfaceDescriptor describes how a surface should be created.
type SurfaceDescriptor struct {
	Label      string
	Background color.RGBA
}

// MountParams are passed to Backend.Mount.
type MountParams struct {
	ID           string
	Container    string
	Descriptor   SurfaceDescriptor
	Width        int
	Height       int
	PixelDensity float64
}

// MountResult carries what the hosting surface needs after a mount. It never
// exposes backend internals beyond the drawable itself.
type MountResult struct {
	SurfaceID     string
	Drawable      image.Image
	BackingWidth  int
	BackingHeight int
}

// ResizeParams are passed to Backend.Resize.
type ResizeParams struct {
	Width        int
	Height       int
	PixelDensity float64
}

// Backend is the lifecycle capability shared by every variant.
type Backend interface {
	Kind() Kind
	// Mount allocates a surface of Width*PixelDensity x Height*PixelDensity.
	Mount(ctx context.Context, params MountParams) (MountResult, error)
	// Resize reconfigures the raster target only. Unchanged geometry is a no-op.
	Resize(id string, params ResizeParams) error
	// BeforeUpdate resets per-frame transform state and applies pending patches.
	BeforeUpdate(id string) error
	// AfterUpdate presents the frame and reports it to the patch source.
	AfterUpdate(id string) error
	// Destroy releases the surface and every object owned by it.
	Destroy(id string) error
	// Surface returns the drawing surface of a mounted instance.
	Surface(id string) (Surface, bool)
}

// PatchSource is the coordinator as seen by a backend.
type PatchSource interface {
	Begin(id string) ([]patch.Patch, error)
	Complete(id string) error
	Resolve(id, origin string) (string, bool)
}

// Surface is the drawing target of one preview instance.
type Surface interface {
	InstanceID() string
	SurfaceID() string
	Kind() Kind
	// Size returns the display size and pixel density.
	Size() (width, height int, density float64)
	// BackingSize returns the raster size in device pixels.
	BackingSize() (width, height int)
	// Snapshot returns a copy of the last presented frame.
	Snapshot() *image.RGBA
}

// ProgramSurface is a Surface that binds compiled programs.
type ProgramSurface interface {
	Surface
	UseProgram(spec ProgramSpec) (*BoundProgram, error)
	Program(key string) (*BoundProgram, bool)
}

// Options configure a backend.
type Options struct {
	Patches  PatchSource
	Sink     fragerrors.Sink
	Compiler Compiler
	Logger   logging.Logger
	// MaxBackingPixels bounds a single surface; larger mounts fail with an
	// allocation error. Zero means DefaultMaxBackingPixels.
	MaxBackingPixels int
}

// DefaultMaxBackingPixels is 8192x8192.
const DefaultMaxBackingPixels = 8192 * 8192

type nopSink struct{}

func (nopSink) ReportCompileError(string, error) {}
func (nopSink) ClearCompileError(string)         {}

func (o Options) withDefaults(kind Kind) (Options, error) {
	if o.Patches == nil {
		return o, fmt.Errorf("renderer: %s backend needs a patch source", kind)
	}
	if o.Sink == nil {
		o.Sink = nopSink{}
	}
	if o.Logger == nil {
		o.Logger = logging.NewNopLogger()
	}
	if o.Compiler == nil {
		o.Compiler = NagaCompiler{}
	}
	if o.MaxBackingPixels <= 0 {
		o.MaxBackingPixels = DefaultMaxBackingPixels
	}
	return o, nil
}

// New constructs the backend for kind.
func New(kind Kind, opts Options) (Backend, error) {
	switch kind {
	case Canvas2D:
		return NewCanvas2D(opts)
	case SoftwareRaster:
		return NewSoftware(opts)
	case GPU:
		return NewGPU(opts)
	default:
		return nil, fmt.Errorf("%w: %s", fragerrors.ErrUnknownBackend, kind)
	}
}

package renderer

import (
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/image/draw"

	fragerrors "github.com/conneroisu/fragment/internal/errors"
)

// MaxBackingSide bounds each side of a backing store in device pixels.
const MaxBackingSide = math.MaxInt32

// BackingSize returns the device pixel size of a width x height surface at
// density. Each side is rounded and never smaller than one pixel; a side
// beyond MaxBackingSide is invalid geometry.
func BackingSize(width, height int, density float64) (int, int, error) {
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("%w: %dx%d", fragerrors.ErrInvalidGeometry, width, height)
	}
	if density <= 0 || math.IsNaN(density) || math.IsInf(density, 0) {
		return 0, 0, fmt.Errorf("%w: pixel density %v", fragerrors.ErrInvalidGeometry, density)
	}
	fw := math.Round(float64(width) * density)
	fh := math.Round(float64(height) * density)
	if fw > MaxBackingSide || fh > MaxBackingSide {
		return 0, 0, fmt.Errorf("%w: %dx%d at density %v exceeds %d pixels per side",
			fragerrors.ErrInvalidGeometry, width, height, density, MaxBackingSide)
	}
	return max(int(fw), 1), max(int(fh), 1), nil
}

// checkBacking rejects a backing store larger than maxPixels. The product is
// taken in float64 so it cannot wrap.
func checkBacking(id string, bw, bh, maxPixels int) error {
	if float64(bw)*float64(bh) > float64(maxPixels) {
		return fragerrors.NewAllocationError(id,
			fmt.Errorf("backing store %dx%d exceeds %d pixels", bw, bh, maxPixels))
	}
	return nil
}

// surfaceSet maps instance ids to the surfaces a backend has mounted.
type surfaceSet[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

func newSurfaceSet[T any]() *surfaceSet[T] {
	return &surfaceSet[T]{items: make(map[string]T)}
}

func (s *surfaceSet[T]) add(id string, v T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[id]; exists {
		return fragerrors.NewDuplicateInstanceError(id)
	}
	s.items[id] = v
	return nil
}

func (s *surfaceSet[T]) get(id string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[id]
	return v, ok
}

func (s *surfaceSet[T]) remove(id string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[id]
	delete(s.items, id)
	return v, ok
}

func (s *surfaceSet[T]) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// surfaceBase is the state every variant's surface shares. Geometry is only
// changed by the owning instance's lifecycle calls but may be read from any
// goroutine, as may the presented frame.
type surfaceBase struct {
	id        string
	surfaceID string
	kind      Kind
	container string
	desc      SurfaceDescriptor

	width, height      int
	density            float64
	backingW, backingH int

	mu        sync.Mutex
	presented *image.RGBA
}

func (s *surfaceBase) init(kind Kind, p MountParams, bw, bh int) {
	s.id = p.ID
	s.surfaceID = uuid.NewString()
	s.kind = kind
	s.container = p.Container
	s.desc = p.Descriptor
	s.width, s.height, s.density = p.Width, p.Height, p.PixelDensity
	s.backingW, s.backingH = bw, bh
}

func (s *surfaceBase) InstanceID() string { return s.id }
func (s *surfaceBase) SurfaceID() string  { return s.surfaceID }
func (s *surfaceBase) Kind() Kind         { return s.kind }

func (s *surfaceBase) Size() (int, int, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height, s.density
}

func (s *surfaceBase) BackingSize() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backingW, s.backingH
}

// Snapshot returns a copy of the last presented frame, or nil before the
// first frame.
func (s *surfaceBase) Snapshot() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.presented == nil {
		return nil
	}
	out := image.NewRGBA(s.presented.Bounds())
	copy(out.Pix, s.presented.Pix)
	return out
}

// present copies src into the presented frame.
func (s *surfaceBase) present(src image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := src.Bounds()
	if s.presented == nil || s.presented.Bounds() != b {
		s.presented = image.NewRGBA(b)
	}
	draw.Draw(s.presented, b, src, b.Min, draw.Src)
}

// geometryChanged reports whether p differs from the current geometry and
// computes the new backing size, which must fit in maxPixels.
func (s *surfaceBase) geometryChanged(p ResizeParams, maxPixels int) (changed bool, bw, bh int, err error) {
	bw, bh, err = BackingSize(p.Width, p.Height, p.PixelDensity)
	if err != nil {
		return false, 0, 0, fragerrors.NewAllocationError(s.id, err)
	}
	if err := checkBacking(s.id, bw, bh, maxPixels); err != nil {
		return false, 0, 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	changed = p.Width != s.width || p.Height != s.height ||
		p.PixelDensity != s.density || bw != s.backingW || bh != s.backingH
	return changed, bw, bh, nil
}

func (s *surfaceBase) setGeometry(p ResizeParams, bw, bh int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.width, s.height, s.density = p.Width, p.Height, p.PixelDensity
	s.backingW, s.backingH = bw, bh
}

// checkMount validates mount parameters against the backend's limits.
func checkMount(p MountParams, maxPixels int) (int, int, error) {
	if p.ID == "" {
		return 0, 0, fragerrors.NewValidationError(fragerrors.ErrCodeInvalidInstanceID, "instance id is empty")
	}
	bw, bh, err := BackingSize(p.Width, p.Height, p.PixelDensity)
	if err != nil {
		return 0, 0, fragerrors.NewAllocationError(p.ID, err)
	}
	if err := checkBacking(p.ID, bw, bh, maxPixels); err != nil {
		return 0, 0, err
	}
	return bw, bh, nil
}

// lookup returns the surface for id or a stale-instance error naming op.
func lookup[T any](set *surfaceSet[T], id, op string) (T, error) {
	v, ok := set.get(id)
	if !ok {
		return v, fragerrors.NewStaleInstanceError(id, op)
	}
	return v, nil
}

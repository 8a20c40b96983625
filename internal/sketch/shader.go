// Package sketch provides the built-in shader sketch: one program loaded from
// disk, drawn on every preview with whatever backend the preview uses.
package sketch

import (
	"context"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gogpu/gg"

	fragerrors "github.com/conneroisu/fragment/internal/errors"
	"github.com/conneroisu/fragment/internal/logging"
	"github.com/conneroisu/fragment/internal/renderer"
	"github.com/conneroisu/fragment/internal/surface"
)

// ProgramFiles names the program and its stage files relative to the sketch
// root. Vertex is optional.
type ProgramFiles struct {
	Key      string
	Vertex   string
	Fragment string
}

// OriginPath returns the key a file is known by in patches: its slash
// separated path relative to root. Relative paths are taken as already
// relative to root; absolute paths outside root are kept absolute.
func OriginPath(root, path string) string {
	if filepath.IsAbs(path) {
		if absRoot, err := filepath.Abs(root); err == nil {
			rel, err := filepath.Rel(absRoot, path)
			if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				path = rel
			}
		}
	}
	return filepath.ToSlash(filepath.Clean(path))
}

// Shader draws a single program.
type Shader struct {
	root       string
	files      ProgramFiles
	background color.RGBA
	logger     logging.Logger

	mu   sync.RWMutex
	spec renderer.ProgramSpec
}

// Load reads the program's stage files.
func Load(root string, files ProgramFiles, logger logging.Logger) (*Shader, error) {
	if files.Fragment == "" {
		return nil, fragerrors.NewConfigError(fragerrors.ErrCodeConfigInvalid, "sketch program needs a fragment stage")
	}
	if files.Key == "" {
		files.Key = "main"
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	s := &Shader{
		root:       root,
		files:      files,
		background: color.RGBA{R: 0x20, G: 0x20, B: 0x20, A: 0xff},
		logger:     logger.WithComponent("sketch"),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads every stage file. Programs already bound keep their
// sources; previews mounted afterwards start from the reloaded ones.
func (s *Shader) Reload() error {
	spec := renderer.ProgramSpec{Key: s.files.Key}

	stages := []struct {
		stage renderer.Stage
		path  string
	}{
		{renderer.StageVertex, s.files.Vertex},
		{renderer.StageFragment, s.files.Fragment},
	}
	for _, st := range stages {
		if st.path == "" {
			continue
		}
		full := st.path
		if !filepath.IsAbs(full) {
			full = filepath.Join(s.root, st.path)
		}
		src, err := os.ReadFile(full)
		if err != nil {
			return fragerrors.NewIOError(fragerrors.ErrCodeFileNotFound,
				fmt.Sprintf("read %s stage", st.stage), err).WithContext("path", full)
		}
		spec.Stages = append(spec.Stages, renderer.StageSource{
			Stage:      st.stage,
			OriginPath: OriginPath(s.root, st.path),
			Source:     string(src),
		})
	}

	s.mu.Lock()
	s.spec = spec
	s.mu.Unlock()

	s.logger.Debug(context.Background(), "Sketch loaded", "program", spec.Key, "origins", spec.Origins())
	return nil
}

// Spec returns the program as last loaded.
func (s *Shader) Spec() renderer.ProgramSpec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.spec
}

// Origins returns the origin paths the program was loaded from.
func (s *Shader) Origins() []string {
	return s.Spec().Origins()
}

// Draw implements surface.Sketch. GPU and software surfaces paint with the
// bound program; Canvas2D surfaces, which bind no programs, draw a moving bar.
// A program that fails to compile has already been reported to the error sink
// and is not an error here.
func (s *Shader) Draw(_ context.Context, dc surface.DrawContext) error {
	spec := s.Spec()

	switch surf := dc.Surface.(type) {
	case *renderer.GPUSurface:
		surf.Clear(s.background)
		if _, err := surf.UseProgram(spec); err != nil && !fragerrors.IsCompileError(err) {
			return err
		}
		surf.Draw()

	case *renderer.SoftwareSurface:
		surf.Context().ClearWithColor(gg.FromColor(s.background))
		if _, err := surf.UseProgram(spec); err != nil && !fragerrors.IsCompileError(err) {
			return err
		}
		w, h, _ := surf.Size()
		return surf.PaintProgram(spec.Key, 0, 0, float64(w), float64(h))

	case *renderer.Canvas2DSurface:
		surf.Clear(s.background)
		w, h, _ := surf.Size()
		x := float64(dc.Frame % uint64(w))
		surf.FillRect(x, 0, float64(max(w/10, 1)), float64(h), color.RGBA{R: 0xf0, G: 0x90, B: 0x30, A: 0xff})

	default:
		return fmt.Errorf("unsupported surface %T", dc.Surface)
	}
	return nil
}

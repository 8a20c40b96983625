package renderer

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"image/color"
	"sort"

	fragerrors "github.com/conneroisu/fragment/internal/errors"
	"github.com/conneroisu/fragment/internal/patch"
)

// Stage is a shader stage.
type Stage int

const (
	StageVertex Stage = iota
	StageFragment
	StageCompute
)

// String returns the string representation of the Stage
func (s Stage) String() string {
	switch s {
	case StageVertex:
		return "vertex"
	case StageFragment:
		return "fragment"
	case StageCompute:
		return "compute"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// StageSource is one stage of a program and the file it was loaded from.
type StageSource struct {
	Stage      Stage
	OriginPath string
	Source     string
}

// ProgramSpec requests a program. Key identifies the program within a
// surface; binding the same key twice returns the existing program.
type ProgramSpec struct {
	Key    string
	Stages []StageSource
}

// Origins returns the distinct origin paths of the program's stages.
func (s ProgramSpec) Origins() []string {
	seen := make(map[string]bool, len(s.Stages))
	var out []string
	for _, st := range s.Stages {
		if st.OriginPath == "" || seen[st.OriginPath] {
			continue
		}
		seen[st.OriginPath] = true
		out = append(out, st.OriginPath)
	}
	return out
}

// CompiledProgram is the opaque result of compiling every stage.
type CompiledProgram struct {
	Binaries    map[Stage][]byte
	Fingerprint uint64
}

// Color is the flat color a program paints with. Equal programs paint equal
// colors, so output is bit-identical as long as the program is unchanged.
func (c *CompiledProgram) Color() color.RGBA {
	fp := c.Fingerprint
	return color.RGBA{R: byte(fp), G: byte(fp >> 8), B: byte(fp >> 16), A: 0xff}
}

// BoundProgram is a program as bound to one surface.
type BoundProgram struct {
	Key string
	// Stages holds the desired sources, already updated by every patch that
	// reached this surface even when the resulting compile failed.
	Stages []StageSource
	// Compiled is the last program that compiled, nil if none ever did.
	Compiled *CompiledProgram
	// Version counts successful compiles.
	Version int
	// Err is the error of the most recent compile, nil if it succeeded.
	Err error
}

// programTable owns the bound programs of one surface and the index from
// origin path to the programs that loaded it.
type programTable struct {
	surfaceID  string
	instanceID string
	compiler   Compiler
	sink       fragerrors.Sink

	programs map[string]*BoundProgram
	byOrigin map[string][]string
	failing  map[string]bool
	reported bool
}

func newProgramTable(instanceID, surfaceID string, compiler Compiler, sink fragerrors.Sink) *programTable {
	return &programTable{
		surfaceID:  surfaceID,
		instanceID: instanceID,
		compiler:   compiler,
		sink:       sink,
		programs:   make(map[string]*BoundProgram),
		byOrigin:   make(map[string][]string),
		failing:    make(map[string]bool),
	}
}

// bind returns the program for spec, creating and compiling it on first use.
// Each stage's source is replaced by the newest patched source resolve knows
// for its origin, so a preview mounted after an edit starts from the edit.
func (t *programTable) bind(spec ProgramSpec, resolve func(origin string) (string, bool)) (*BoundProgram, error) {
	if p, ok := t.programs[spec.Key]; ok {
		return p, p.Err
	}

	prog := &BoundProgram{Key: spec.Key, Stages: append([]StageSource(nil), spec.Stages...)}
	for i, st := range prog.Stages {
		if src, ok := resolve(st.OriginPath); ok {
			prog.Stages[i].Source = src
		}
	}

	t.programs[spec.Key] = prog
	for _, origin := range spec.Origins() {
		t.byOrigin[origin] = append(t.byOrigin[origin], spec.Key)
	}

	t.rebuild(prog)
	return prog, prog.Err
}

func (t *programTable) get(key string) (*BoundProgram, bool) {
	p, ok := t.programs[key]
	return p, ok
}

// apply folds patches into the desired sources of the programs that loaded
// each origin and recompiles every affected program once per generation.
// Patches for origins no program loaded are ignored.
func (t *programTable) apply(patches []patch.Patch) (rebuilt int) {
	for start := 0; start < len(patches); {
		end := start
		for end < len(patches) && patches[end].Generation == patches[start].Generation {
			end++
		}

		var affected []string
		touched := make(map[string]bool)
		for _, p := range patches[start:end] {
			for _, key := range t.byOrigin[p.OriginPath] {
				prog := t.programs[key]
				for i := range prog.Stages {
					if prog.Stages[i].OriginPath == p.OriginPath {
						prog.Stages[i].Source = p.Source
					}
				}
				if !touched[key] {
					touched[key] = true
					affected = append(affected, key)
				}
			}
		}

		for _, key := range affected {
			t.rebuild(t.programs[key])
			rebuilt++
		}
		start = end
	}
	return rebuilt
}

// rebuild compiles the desired sources. On failure the previous compiled
// program stays in place and the surface's error is reported; the error is
// cleared once no program of the surface is failing.
func (t *programTable) rebuild(prog *BoundProgram) {
	compiled, err := t.compile(prog.Stages)
	if err != nil {
		prog.Err = err
		t.failing[prog.Key] = true
		t.reported = true
		t.sink.ReportCompileError(t.surfaceID, err)
		return
	}

	prog.Compiled = compiled
	prog.Version++
	prog.Err = nil
	delete(t.failing, prog.Key)
	if t.reported && len(t.failing) == 0 {
		t.reported = false
		t.sink.ClearCompileError(t.surfaceID)
	}
}

func (t *programTable) compile(stages []StageSource) (*CompiledProgram, error) {
	sorted := append([]StageSource(nil), stages...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Stage < sorted[j].Stage })

	h := fnv.New64a()
	out := &CompiledProgram{Binaries: make(map[Stage][]byte, len(sorted))}
	for _, st := range sorted {
		bin, err := t.compiler.Compile(st.Source)
		if err != nil {
			ce := fragerrors.NewCompileError(st.OriginPath, err).
				WithInstance(t.instanceID).
				WithContext("stage", st.Stage.String())
			ce.SurfaceID = t.surfaceID
			return nil, ce
		}
		out.Binaries[st.Stage] = bin

		var tag [8]byte
		binary.LittleEndian.PutUint64(tag[:], uint64(st.Stage))
		_, _ = h.Write(tag[:])
		_, _ = h.Write(bin)
	}
	out.Fingerprint = h.Sum64()
	return out, nil
}

// release drops every program. Outstanding errors for the surface are
// cleared since the surface no longer exists.
func (t *programTable) release() {
	t.programs = make(map[string]*BoundProgram)
	t.byOrigin = make(map[string][]string)
	t.failing = make(map[string]bool)
	if t.reported {
		t.reported = false
		t.sink.ClearCompileError(t.surfaceID)
	}
}

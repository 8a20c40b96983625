package renderer

import (
	"fmt"

	"github.com/gogpu/naga"
)

// Compiler turns one stage's source into an opaque binary.
type Compiler interface {
	Compile(source string) ([]byte, error)
}

// CompilerFunc adapts a function to Compiler.
type CompilerFunc func(source string) ([]byte, error)

// Compile calls f.
func (f CompilerFunc) Compile(source string) ([]byte, error) { return f(source) }

// NagaCompiler compiles WGSL to SPIR-V.
type NagaCompiler struct{}

// Compile implements Compiler.
func (NagaCompiler) Compile(source string) ([]byte, error) {
	spirv, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("failed to compile shader: %w", err)
	}
	return spirv, nil
}

// SPIRVWords converts a SPIR-V binary to its little-endian 32-bit words.
// Trailing bytes that do not fill a word are dropped.
func SPIRVWords(spirv []byte) []uint32 {
	words := make([]uint32, len(spirv)/4)
	for i := range words {
		words[i] = uint32(spirv[i*4]) |
			uint32(spirv[i*4+1])<<8 |
			uint32(spirv[i*4+2])<<16 |
			uint32(spirv[i*4+3])<<24
	}
	return words
}

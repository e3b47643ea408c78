package wasi

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Interpreter is a WASI program that runs script source.
type Interpreter interface {
	// Name returns the interpreter identifier, also used as argv[0].
	Name() string

	// Module returns the WASM binary.
	Module() []byte

	// Args returns the command line that runs source.
	Args(source, filename string) []string
}

// ArgsFunc builds an interpreter command line.
type ArgsFunc func(name, source, filename string) []string

// InlineArgs passes the source inline: name -c source.
func InlineArgs(name, source, filename string) []string {
	return []string{name, "-c", source}
}

// FileArgs passes the script path: name filename. The document root has to be
// mounted for the guest to open it.
func FileArgs(name, source, filename string) []string {
	return []string{name, filename}
}

// Binary is an Interpreter backed by a WASM binary in memory.
type Binary struct {
	name    string
	wasm    []byte
	args    ArgsFunc
	prelude string
}

// BinaryOption configures a Binary.
type BinaryOption func(*Binary)

// WithArgs sets how the command line is built. The default is InlineArgs.
func WithArgs(fn ArgsFunc) BinaryOption {
	return func(b *Binary) {
		if fn != nil {
			b.args = fn
		}
	}
}

// WithPrelude prepends code to every script.
func WithPrelude(code string) BinaryOption {
	return func(b *Binary) {
		b.prelude = code
	}
}

// NewBinary returns an interpreter running wasm.
func NewBinary(name string, wasm []byte, opts ...BinaryOption) *Binary {
	b := &Binary{name: name, wasm: wasm, args: InlineArgs}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// LoadBinary reads a WASM binary from path. The interpreter is named after
// the file.
func LoadBinary(path string, opts ...BinaryOption) (*Binary, error) {
	wasm, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load interpreter: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return NewBinary(name, wasm, opts...), nil
}

func (b *Binary) Name() string { return b.name }

func (b *Binary) Module() []byte { return b.wasm }

func (b *Binary) Args(source, filename string) []string {
	if b.prelude != "" {
		source = b.prelude + "\n" + source
	}
	return b.args(b.name, source, filename)
}

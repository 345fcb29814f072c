package program

import (
	"runtime"

	"github.com/delimvm/delim/values"
	"github.com/delimvm/delim/vm"
)

// GeneratorFn is the typed generator factory: it pairs a program function
// with its origin metadata and a frame resolver callback. Calling it
// produces a Generator the VM recognizes at the boundary.
type GeneratorFn struct {
	Fn           func(y *Yielder) (*values.Value, error)
	FunctionName string
	SourceFile   string
	SourceLine   int

	// FrameResolver is invoked by the VM on demand to produce the current
	// stream location for tracing. Optional.
	FrameResolver func() (vm.StreamLocation, bool)
}

// Define builds a GeneratorFn stamped with the caller's source position.
func Define(name string, fn func(y *Yielder) (*values.Value, error)) *GeneratorFn {
	file, line := callerLocation()
	return &GeneratorFn{
		Fn:           fn,
		FunctionName: name,
		SourceFile:   file,
		SourceLine:   line,
	}
}

func callerLocation() (string, int) {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return "<unknown>", 0
	}
	return file, line
}

// Call instantiates a fresh Generator from the factory.
func (f *GeneratorFn) Call() *Generator {
	return &Generator{factory: f, coro: NewGen(f.Fn)}
}

// Generator wraps a live coroutine with its origin metadata. It implements
// vm.GeneratorSource, so the VM can attach trace metadata to the frame.
type Generator struct {
	factory *GeneratorFn
	coro    vm.Coroutine
}

// WrapCoroutine attaches metadata to an externally built coroutine.
func WrapCoroutine(coro vm.Coroutine, name, file string, line int) *Generator {
	return &Generator{
		factory: &GeneratorFn{FunctionName: name, SourceFile: file, SourceLine: line},
		coro:    coro,
	}
}

// Coroutine returns the wrapped coroutine handle.
func (g *Generator) Coroutine() vm.Coroutine {
	return g.coro
}

// Origin returns the factory's source metadata.
func (g *Generator) Origin() vm.StreamLocation {
	return vm.StreamLocation{
		Function: g.factory.FunctionName,
		File:     g.factory.SourceFile,
		Line:     g.factory.SourceLine,
	}
}

// ResolveFrame invokes the frame resolver callback when present.
func (g *Generator) ResolveFrame() (vm.StreamLocation, bool) {
	if g.factory.FrameResolver == nil {
		return vm.StreamLocation{}, false
	}
	return g.factory.FrameResolver()
}

var _ vm.GeneratorSource = (*Generator)(nil)

package vm

import "github.com/delimvm/delim/values"

// Handler is one of three kinds: a host-supplied callable bundle, a
// built-in stdlib handler, or a native program handler embedded in the VM.
// The interface is sealed; HandlerLabel satisfies values.Handler so handler
// lists can cross the bridge.
type Handler interface {
	values.Handler
	handlerKind() string
}

// HostHandler is an opaque host callable bundle. The bridge invokes it via
// CallHandler; Fn's shape is a host concern.
type HostHandler struct {
	Fn     interface{}
	Name   string
	Source *StreamLocation
}

func (h *HostHandler) HandlerLabel() string {
	if h.Name != "" {
		return h.Name
	}
	return "host_handler"
}

func (h *HostHandler) handlerKind() string { return "host" }

// StdlibKind enumerates the built-in handlers.
type StdlibKind byte

const (
	StdlibState StdlibKind = iota
	StdlibReader
	StdlibWriter
)

// StdlibHandler is a built-in handler operating directly on the Store.
type StdlibHandler struct {
	Kind StdlibKind
}

func (h *StdlibHandler) HandlerLabel() string {
	switch h.Kind {
	case StdlibState:
		return "stdlib:State"
	case StdlibReader:
		return "stdlib:Reader"
	case StdlibWriter:
		return "stdlib:Writer"
	}
	return "stdlib:Unknown"
}

func (h *StdlibHandler) handlerKind() string { return "stdlib" }

// NativeHandlerFunc runs a native handler clause. It receives the effect
// and the user continuation and returns a control-flow verdict, typically
// a resume of k.
type NativeHandlerFunc func(effect *Effect, k *Continuation, m *VM) ControlFlow

// NativeHandler is a program handler embedded in the VM.
type NativeHandler struct {
	Name string
	Fn   NativeHandlerFunc
}

func (h *NativeHandler) HandlerLabel() string {
	if h.Name != "" {
		return h.Name
	}
	return "native_handler"
}

func (h *NativeHandler) handlerKind() string { return "native" }

// HandlerEntry records one handler installation in the registry.
type HandlerEntry struct {
	Handler Handler

	// PromptSegID is the prompt boundary segment installed for this
	// handler.
	PromptSegID SegmentID

	// ParentDispatchID links the dispatch active when the handler was
	// installed, if any.
	ParentDispatchID  DispatchID
	HasParentDispatch bool
}

// handlerMatches reports whether the handler is a candidate for the effect.
// Stdlib handlers match their own builtin kinds; host and native handlers
// are candidates for any effect and delegate when uninterested.
func handlerMatches(h Handler, effect *Effect) bool {
	stdlib, ok := h.(*StdlibHandler)
	if !ok {
		return true
	}
	if effect.Builtin == nil {
		return false
	}
	switch stdlib.Kind {
	case StdlibState:
		switch effect.Builtin.Kind {
		case EffectGet, EffectPut, EffectModify:
			return true
		}
	case StdlibReader:
		switch effect.Builtin.Kind {
		case EffectAsk, EffectLocal:
			return true
		}
	case StdlibWriter:
		return effect.Builtin.Kind == EffectTell
	}
	return false
}

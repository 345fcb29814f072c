package vm

import (
	"fmt"

	"github.com/delimvm/delim/values"
)

// BuiltinEffectKind enumerates effect operations the VM interprets without
// a host round-trip.
type BuiltinEffectKind byte

const (
	EffectGet BuiltinEffectKind = iota
	EffectPut
	EffectModify
	EffectAsk
	EffectLocal
	EffectTell
)

func (k BuiltinEffectKind) String() string {
	switch k {
	case EffectGet:
		return "Get"
	case EffectPut:
		return "Put"
	case EffectModify:
		return "Modify"
	case EffectAsk:
		return "Ask"
	case EffectLocal:
		return "Local"
	case EffectTell:
		return "Tell"
	}
	return "Unknown"
}

// BuiltinEffect is a stdlib effect operation known to the VM.
type BuiltinEffect struct {
	Kind BuiltinEffectKind

	// Key for Get/Put/Modify.
	Key string
	// EnvKey for Ask; Bindings for Local.
	EnvKey   *EnvKey
	Bindings []EnvBinding
	// Value for Put and Tell.
	Value *values.Value
	// Fn for Modify.
	Fn func(*values.Value) *values.Value
	// Body for Local: a sub-program run under the bindings.
	Body interface{}
}

// Effect is either an opaque host effect or a built-in variant.
type Effect struct {
	Host    interface{}
	Builtin *BuiltinEffect

	// CreationSite records the yield callsite when the host supplied one.
	CreationSite *StreamLocation
}

// HostEffect wraps an opaque user effect object.
func HostEffect(obj interface{}) *Effect {
	return &Effect{Host: obj}
}

// NewBuiltinEffect wraps a stdlib effect operation.
func NewBuiltinEffect(b *BuiltinEffect) *Effect {
	return &Effect{Builtin: b}
}

// IsBuiltin reports whether the VM can interpret this effect natively.
func (e *Effect) IsBuiltin() bool {
	return e.Builtin != nil
}

// String renders the effect for capture events and error messages.
func (e *Effect) String() string {
	if e == nil {
		return "<nil effect>"
	}
	if e.Builtin != nil {
		switch e.Builtin.Kind {
		case EffectGet, EffectModify:
			return fmt.Sprintf("%s(%q)", e.Builtin.Kind, e.Builtin.Key)
		case EffectPut:
			return fmt.Sprintf("Put(%q, %s)", e.Builtin.Key, e.Builtin.Value)
		case EffectAsk:
			return fmt.Sprintf("Ask(%s)", e.Builtin.EnvKey.Repr())
		case EffectTell:
			return fmt.Sprintf("Tell(%s)", e.Builtin.Value)
		default:
			return e.Builtin.Kind.String()
		}
	}
	return fmt.Sprintf("%v", e.Host)
}

package program

import (
	"github.com/delimvm/delim/values"
	"github.com/delimvm/delim/vm"
)

// Request constructors for the yield surface. Programs pass these to
// Yielder.Yield (or use the Yielder convenience methods).

// Pure yields a value through a no-op handler path.
func Pure(v *values.Value) *vm.Yielded {
	return vm.YieldPrimitive(&vm.ControlPrimitive{Kind: vm.PrimPure, Value: v})
}

// Perform yields an opaque host effect.
func Perform(effect interface{}) *vm.Yielded {
	if eff, ok := effect.(*vm.Effect); ok {
		return vm.YieldEffect(eff)
	}
	return vm.YieldEffect(vm.HostEffect(effect))
}

// Get yields the stdlib state read effect.
func Get(key string) *vm.Yielded {
	return vm.YieldEffect(vm.NewBuiltinEffect(&vm.BuiltinEffect{Kind: vm.EffectGet, Key: key}))
}

// Put yields the stdlib state write effect.
func Put(key string, v *values.Value) *vm.Yielded {
	return vm.YieldEffect(vm.NewBuiltinEffect(&vm.BuiltinEffect{Kind: vm.EffectPut, Key: key, Value: v}))
}

// Modify yields the stdlib state update effect; the resumed value is the
// previous state entry.
func Modify(key string, fn func(*values.Value) *values.Value) *vm.Yielded {
	return vm.YieldEffect(vm.NewBuiltinEffect(&vm.BuiltinEffect{Kind: vm.EffectModify, Key: key, Fn: fn}))
}

// Ask yields the stdlib reader effect.
func Ask(key *vm.EnvKey) *vm.Yielded {
	return vm.YieldEffect(vm.NewBuiltinEffect(&vm.BuiltinEffect{Kind: vm.EffectAsk, EnvKey: key}))
}

// Local yields the stdlib scoped-environment effect: body runs under the
// bindings and the yield resumes with its result.
func Local(bindings []vm.EnvBinding, body interface{}) *vm.Yielded {
	return vm.YieldEffect(vm.NewBuiltinEffect(&vm.BuiltinEffect{
		Kind:     vm.EffectLocal,
		Bindings: bindings,
		Body:     body,
	}))
}

// Tell yields the stdlib writer effect.
func Tell(v *values.Value) *vm.Yielded {
	return vm.YieldEffect(vm.NewBuiltinEffect(&vm.BuiltinEffect{Kind: vm.EffectTell, Value: v}))
}

// Resume consumes a captured continuation with a value.
func Resume(k *vm.Continuation, v *values.Value) *vm.Yielded {
	return vm.YieldPrimitive(&vm.ControlPrimitive{Kind: vm.PrimResume, K: k, Value: v})
}

// Transfer consumes a captured continuation, relinquishing the current
// handler to the target.
func Transfer(k *vm.Continuation, v *values.Value) *vm.Yielded {
	return vm.YieldPrimitive(&vm.ControlPrimitive{Kind: vm.PrimTransfer, K: k, Value: v})
}

// GetContinuation captures the current continuation; the yield resumes
// with the continuation value.
func GetContinuation() *vm.Yielded {
	return vm.YieldPrimitive(&vm.ControlPrimitive{Kind: vm.PrimGetContinuation})
}

// Delegate advances the active dispatch to the next handler in the chain.
func Delegate() *vm.Yielded {
	return vm.YieldPrimitive(&vm.ControlPrimitive{Kind: vm.PrimDelegate})
}

// WithHandler installs a handler around the body.
func WithHandler(handler vm.Handler, body interface{}) *vm.Yielded {
	return vm.YieldPrimitive(&vm.ControlPrimitive{Kind: vm.PrimWithHandler, Handler: handler, Body: body})
}

// WithState installs the stdlib state handler around the body.
func WithState(body interface{}) *vm.Yielded {
	return WithHandler(vm.NewStateHandler(), body)
}

// WithReader installs the stdlib reader handler around the body.
func WithReader(body interface{}) *vm.Yielded {
	return WithHandler(vm.NewReaderHandler(), body)
}

// WithWriter installs the stdlib writer handler around the body.
func WithWriter(body interface{}) *vm.Yielded {
	return WithHandler(vm.NewWriterHandler(), body)
}

// WithIntercept installs an interceptor around the body.
func WithIntercept(interceptor interface{}, body interface{}) *vm.Yielded {
	return vm.YieldPrimitive(&vm.ControlPrimitive{Kind: vm.PrimWithIntercept, Interceptor: interceptor, Body: body})
}

// HandlerClauseFunc is the clause shape for host handlers built with
// Handler: a generator receiving the dispatched effect and the captured
// user continuation.
type HandlerClauseFunc func(y *Yielder, effect *vm.Effect, k *vm.Continuation) (*values.Value, error)

// Handler builds a host handler whose clause runs as a generator. The
// clause typically yields Resume(k, v), Transfer(k, v), or Delegate(), or
// returns a value to make it the WithHandler result.
func Handler(name string, clause HandlerClauseFunc) *vm.HostHandler {
	file, line := callerLocation()
	return &vm.HostHandler{
		Fn:   clause,
		Name: name,
		Source: &vm.StreamLocation{
			Function: name,
			File:     file,
			Line:     line,
		},
	}
}

// ContOf extracts the captured continuation delivered by a GetContinuation
// yield.
func ContOf(v *values.Value) (*vm.Continuation, bool) {
	raw, ok := v.AsContinuation()
	if !ok {
		return nil, false
	}
	k, ok := raw.(*vm.Continuation)
	return k, ok
}

// InterceptorFunc is the callable shape the standard executor accepts for
// interceptors: it observes the effect and returns either a replacement
// request, a program, or a plain short-circuit value.
type InterceptorFunc func(effect *vm.Effect) interface{}

package program

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/delimvm/delim/values"
	"github.com/delimvm/delim/vm"
)

func countEvents(m *vm.VM, kind vm.CaptureEventKind) int {
	n := 0
	for _, ev := range m.CaptureLog() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func TestPureIdentity(t *testing.T) {
	prog := Define("pure_identity", func(y *Yielder) (*values.Value, error) {
		return y.Yield(Pure(values.NewInt(7))), nil
	})

	m := vm.New()
	got, vmErr := RunOn(m, prog)
	require.Nil(t, vmErr)
	require.True(t, got.Equal(values.NewInt(7)), "got %s", got)
	require.Zero(t, countEvents(m, vm.EvDispatchStarted), "Pure must not dispatch")
}

func TestStateRoundTrip(t *testing.T) {
	body := Define("state_body", func(y *Yielder) (*values.Value, error) {
		y.Yield(Put("x", values.NewInt(3)))
		return y.Yield(Get("x")), nil
	})
	prog := Define("state_main", func(y *Yielder) (*values.Value, error) {
		return y.Yield(WithState(body.Call())), nil
	})

	m := vm.New()
	got, vmErr := RunOn(m, prog)
	require.Nil(t, vmErr)
	require.True(t, got.Equal(values.NewInt(3)), "got %s", got)

	state := m.Store().StateSnapshot()
	require.Len(t, state, 1)
	require.True(t, state["x"].Equal(values.NewInt(3)))
}

func TestModifyReturnsOldValue(t *testing.T) {
	body := Define("modify_body", func(y *Yielder) (*values.Value, error) {
		y.Yield(Put("n", values.NewInt(10)))
		old := y.Yield(Modify("n", func(v *values.Value) *values.Value {
			n, _ := v.AsInt()
			return values.NewInt(n + 1)
		}))
		latest := y.Yield(Get("n"))
		o, _ := old.AsInt()
		l, _ := latest.AsInt()
		return values.NewInt(o*100 + l), nil
	})
	prog := Define("modify_main", func(y *Yielder) (*values.Value, error) {
		return y.Yield(WithState(body.Call())), nil
	})

	got, vmErr := Run(prog)
	require.Nil(t, vmErr)
	require.True(t, got.Equal(values.NewInt(1011)), "got %s", got)
}

func TestHostHandlerResume(t *testing.T) {
	handler := Handler("greeter", func(y *Yielder, eff *vm.Effect, k *vm.Continuation) (*values.Value, error) {
		name, _ := values.FromHost(eff.Host).AsString()
		return y.Yield(Resume(k, values.NewString("hello, "+name))), nil
	})
	body := Define("greet_body", func(y *Yielder) (*values.Value, error) {
		return y.Perform("world"), nil
	})
	prog := Define("greet_main", func(y *Yielder) (*values.Value, error) {
		return y.Yield(WithHandler(handler, body.Call())), nil
	})

	got, vmErr := Run(prog)
	require.Nil(t, vmErr)
	require.True(t, got.Equal(values.NewString("hello, world")), "got %s", got)
}

func TestHandlerClauseContinuesAfterResume(t *testing.T) {
	// Resume is a call: the clause receives the delimited result and its
	// own return becomes the WithHandler result.
	handler := Handler("adder", func(y *Yielder, eff *vm.Effect, k *vm.Continuation) (*values.Value, error) {
		r := y.Yield(Resume(k, values.NewInt(10)))
		n, _ := r.AsInt()
		return values.NewInt(n + 1), nil
	})
	body := Define("adder_body", func(y *Yielder) (*values.Value, error) {
		return y.Perform("give"), nil
	})
	prog := Define("adder_main", func(y *Yielder) (*values.Value, error) {
		return y.Yield(WithHandler(handler, body.Call())), nil
	})

	got, vmErr := Run(prog)
	require.Nil(t, vmErr)
	require.True(t, got.Equal(values.NewInt(11)), "got %s", got)
}

func TestHandlerReturnWithoutResume(t *testing.T) {
	// A clause that returns without consuming the continuation abandons
	// the body; its value is the WithHandler result.
	handler := Handler("short_circuit", func(y *Yielder, eff *vm.Effect, k *vm.Continuation) (*values.Value, error) {
		return values.NewString("handled"), nil
	})
	body := Define("abandoned_body", func(y *Yielder) (*values.Value, error) {
		y.Perform("ignored")
		return values.NewString("body"), nil
	})
	prog := Define("short_main", func(y *Yielder) (*values.Value, error) {
		return y.Yield(WithHandler(handler, body.Call())), nil
	})

	m := vm.New()
	got, vmErr := RunOn(m, prog)
	require.Nil(t, vmErr)
	require.True(t, got.Equal(values.NewString("handled")), "got %s", got)

	completed := 0
	for _, ev := range m.CaptureLog() {
		if ev.Kind == vm.EvHandlerCompleted {
			completed++
			require.Equal(t, vm.ActionReturned, ev.Action.Kind)
		}
	}
	require.Equal(t, 1, completed)
}

func TestTransferRelinquishes(t *testing.T) {
	// After Transfer the clause rest never runs; the body result flows
	// straight out of the prompt.
	handler := Handler("transferer", func(y *Yielder, eff *vm.Effect, k *vm.Continuation) (*values.Value, error) {
		y.Yield(Transfer(k, values.NewInt(5)))
		return values.NewString("unreachable"), nil
	})
	body := Define("transfer_body", func(y *Yielder) (*values.Value, error) {
		v := y.Perform("ask")
		n, _ := v.AsInt()
		return values.NewInt(n * 2), nil
	})
	prog := Define("transfer_main", func(y *Yielder) (*values.Value, error) {
		return y.Yield(WithHandler(handler, body.Call())), nil
	})

	m := vm.New()
	got, vmErr := RunOn(m, prog)
	require.Nil(t, vmErr)
	require.True(t, got.Equal(values.NewInt(10)), "got %s", got)
	require.Equal(t, 1, countEvents(m, vm.EvTransferred))
}

func TestDelegation(t *testing.T) {
	inner := Handler("inner", func(y *Yielder, eff *vm.Effect, k *vm.Continuation) (*values.Value, error) {
		y.Yield(Delegate())
		return nil, nil
	})
	outer := Handler("outer", func(y *Yielder, eff *vm.Effect, k *vm.Continuation) (*values.Value, error) {
		return y.Yield(Resume(k, values.NewInt(99))), nil
	})
	body := Define("delegate_body", func(y *Yielder) (*values.Value, error) {
		return y.Perform("E"), nil
	})
	middle := Define("delegate_middle", func(y *Yielder) (*values.Value, error) {
		return y.Yield(WithHandler(inner, body.Call())), nil
	})
	prog := Define("delegate_main", func(y *Yielder) (*values.Value, error) {
		return y.Yield(WithHandler(outer, middle.Call())), nil
	})

	m := vm.New()
	got, vmErr := RunOn(m, prog)
	require.Nil(t, vmErr)
	require.True(t, got.Equal(values.NewInt(99)), "got %s", got)

	require.Equal(t, 1, countEvents(m, vm.EvDispatchStarted))
	require.Equal(t, 1, countEvents(m, vm.EvDelegated))

	var completions []vm.CaptureEvent
	for _, ev := range m.CaptureLog() {
		switch ev.Kind {
		case vm.EvDispatchStarted:
			require.Equal(t, "inner", ev.HandlerName)
		case vm.EvDelegated:
			require.Equal(t, "inner", ev.FromHandlerName)
			require.Equal(t, "outer", ev.ToHandlerName)
		case vm.EvHandlerCompleted:
			completions = append(completions, ev)
		}
	}
	require.Len(t, completions, 1)
	require.Equal(t, "outer", completions[0].HandlerName)
	require.Equal(t, vm.ActionResumed, completions[0].Action.Kind)
}

func TestDelegateWithNoOuterHandler(t *testing.T) {
	only := Handler("only", func(y *Yielder, eff *vm.Effect, k *vm.Continuation) (*values.Value, error) {
		y.Yield(Delegate())
		return nil, nil
	})
	body := Define("exhaust_body", func(y *Yielder) (*values.Value, error) {
		return y.Perform("E"), nil
	})
	prog := Define("exhaust_main", func(y *Yielder) (*values.Value, error) {
		return y.Yield(WithHandler(only, body.Call())), nil
	})

	_, vmErr := Run(prog)
	require.NotNil(t, vmErr)
	require.True(t, errors.Is(vmErr, vm.ErrDelegateNoOuterHandler), "got %v", vmErr)
}

func TestOneShotViolation(t *testing.T) {
	prog := Define("oneshot", func(y *Yielder) (*values.Value, error) {
		kv := y.Yield(GetContinuation())
		k, ok := ContOf(kv)
		if !ok {
			return nil, errors.New("expected a continuation value")
		}
		y.Yield(Resume(k, values.NewInt(1)))
		y.Yield(Resume(k, values.NewInt(2)))
		return values.NewNull(), nil
	})

	_, vmErr := Run(prog)
	require.NotNil(t, vmErr)
	require.True(t, errors.Is(vmErr, vm.ErrOneShotViolation), "got %v", vmErr)
}

func TestGetContinuationResumeRoundTrip(t *testing.T) {
	// GetContinuation followed by Resume{k, v} delivers v at the yield
	// point, observationally equal to a plain delivery (first use only).
	prog := Define("roundtrip", func(y *Yielder) (*values.Value, error) {
		kv := y.Yield(GetContinuation())
		k, ok := ContOf(kv)
		if !ok {
			return nil, errors.New("expected a continuation value")
		}
		v := y.Yield(Resume(k, values.NewInt(21)))
		n, _ := v.AsInt()
		return values.NewInt(n * 2), nil
	})

	got, vmErr := Run(prog)
	require.Nil(t, vmErr)
	require.True(t, got.Equal(values.NewInt(42)), "got %s", got)
}

func TestUnhandledEffect(t *testing.T) {
	prog := Define("unhandled", func(y *Yielder) (*values.Value, error) {
		y.Perform("nobody_home")
		return values.NewNull(), nil
	})

	m := vm.New()
	_, vmErr := RunOn(m, prog)
	require.NotNil(t, vmErr)
	require.True(t, errors.Is(vmErr, vm.ErrUnhandledEffect), "got %v", vmErr)
	require.Equal(t, 1, countEvents(m, vm.EvDispatchStarted))
}

func TestNoMatchingHandler(t *testing.T) {
	// A writer handler is in scope but does not match a state effect.
	body := Define("mismatch_body", func(y *Yielder) (*values.Value, error) {
		return y.Yield(Get("x")), nil
	})
	prog := Define("mismatch_main", func(y *Yielder) (*values.Value, error) {
		return y.Yield(WithWriter(body.Call())), nil
	})

	_, vmErr := Run(prog)
	require.NotNil(t, vmErr)
	require.True(t, errors.Is(vmErr, vm.ErrNoMatchingHandler), "got %v", vmErr)
}

func TestHandlerTransparencyWithoutEffects(t *testing.T) {
	// WithHandler whose body yields no effect behaves as the body alone.
	body := func() *GeneratorFn {
		return Define("quiet_body", func(y *Yielder) (*values.Value, error) {
			return values.NewInt(5), nil
		})
	}

	bare, vmErr := Run(body())
	require.Nil(t, vmErr)

	wrapped := Define("quiet_main", func(y *Yielder) (*values.Value, error) {
		handler := Handler("idle", func(y *Yielder, eff *vm.Effect, k *vm.Continuation) (*values.Value, error) {
			return y.Yield(Resume(k, values.NewNull())), nil
		})
		return y.Yield(WithHandler(handler, body().Call())), nil
	})
	viaHandler, vmErr := Run(wrapped)
	require.Nil(t, vmErr)
	require.True(t, bare.Equal(viaHandler))
}

func TestWriterAccumulatesLog(t *testing.T) {
	body := Define("writer_body", func(y *Yielder) (*values.Value, error) {
		y.Yield(Tell(values.NewString("first")))
		y.Yield(Tell(values.NewString("second")))
		return values.NewUnit(), nil
	})
	prog := Define("writer_main", func(y *Yielder) (*values.Value, error) {
		return y.Yield(WithWriter(body.Call())), nil
	})

	m := vm.New()
	_, vmErr := RunOn(m, prog)
	require.Nil(t, vmErr)

	logs := m.Store().Logs()
	require.Len(t, logs, 2)
	require.True(t, logs[0].Equal(values.NewString("first")))
	require.True(t, logs[1].Equal(values.NewString("second")))
}

func TestReaderAskAndLocal(t *testing.T) {
	key := vm.StringKey("greeting")

	sub := Define("reader_sub", func(y *Yielder) (*values.Value, error) {
		return y.Yield(Ask(key)), nil
	})
	body := Define("reader_body", func(y *Yielder) (*values.Value, error) {
		return y.Yield(Local([]vm.EnvBinding{
			{Key: key, Value: values.NewString("bonjour")},
		}, sub.Call())), nil
	})
	prog := Define("reader_main", func(y *Yielder) (*values.Value, error) {
		return y.Yield(WithReader(body.Call())), nil
	})

	m := vm.New()
	got, vmErr := RunOn(m, prog)
	require.Nil(t, vmErr)
	require.True(t, got.Equal(values.NewString("bonjour")), "got %s", got)
	require.Zero(t, m.Store().EnvLen(), "Local bindings must not survive")
}

func TestReaderSeededEnvironment(t *testing.T) {
	key := vm.StringKey("region")

	body := Define("seeded_body", func(y *Yielder) (*values.Value, error) {
		return y.Yield(Ask(key)), nil
	})
	prog := Define("seeded_main", func(y *Yielder) (*values.Value, error) {
		return y.Yield(WithReader(body.Call())), nil
	})

	m := vm.New()
	m.Store().PutEnv(key, values.NewString("eu-west"))
	got, vmErr := RunOn(m, prog)
	require.Nil(t, vmErr)
	require.True(t, got.Equal(values.NewString("eu-west")))
}

func TestUncaughtExceptionCarriesAssembledTrace(t *testing.T) {
	prog := Define("failing", func(y *Yielder) (*values.Value, error) {
		return nil, errors.New("exploded")
	})

	_, vmErr := Run(prog)
	require.NotNil(t, vmErr)
	require.True(t, errors.Is(vmErr, vm.ErrUncaughtException), "got %v", vmErr)
	require.Contains(t, vmErr.Exception.String(), "exploded")
	require.NotEmpty(t, vmErr.Trace)
}

func TestExceptionPropagatesThroughHandlerScope(t *testing.T) {
	handler := Handler("bystander", func(y *Yielder, eff *vm.Effect, k *vm.Continuation) (*values.Value, error) {
		return y.Yield(Resume(k, values.NewNull())), nil
	})
	body := Define("throwing_body", func(y *Yielder) (*values.Value, error) {
		return nil, errors.New("inner failure")
	})
	prog := Define("throwing_main", func(y *Yielder) (*values.Value, error) {
		return y.Yield(WithHandler(handler, body.Call())), nil
	})

	_, vmErr := Run(prog)
	require.NotNil(t, vmErr)
	require.True(t, errors.Is(vmErr, vm.ErrUncaughtException))
	require.Contains(t, vmErr.Exception.String(), "inner failure")
}

func TestNestedSubProgram(t *testing.T) {
	inner := Define("sub", func(y *Yielder) (*values.Value, error) {
		return values.NewInt(4), nil
	})
	prog := Define("sub_main", func(y *Yielder) (*values.Value, error) {
		v := y.Do(inner.Call())
		n, _ := v.AsInt()
		return values.NewInt(n + 1), nil
	})

	got, vmErr := Run(prog)
	require.Nil(t, vmErr)
	require.True(t, got.Equal(values.NewInt(5)), "got %s", got)
}

func TestInterceptorShortCircuit(t *testing.T) {
	interceptor := InterceptorFunc(func(eff *vm.Effect) interface{} {
		return values.NewInt(123)
	})
	body := Define("intercepted_body", func(y *Yielder) (*values.Value, error) {
		return y.Perform("expensive"), nil
	})
	prog := Define("intercept_main", func(y *Yielder) (*values.Value, error) {
		return y.Yield(WithIntercept(interceptor, body.Call())), nil
	})

	m := vm.New()
	got, vmErr := RunOn(m, prog)
	require.Nil(t, vmErr)
	require.True(t, got.Equal(values.NewInt(123)), "got %s", got)
	// The dispatch never reached a handler chain.
	require.Zero(t, countEvents(m, vm.EvDispatchStarted))
}

func TestInterceptorTransformsEffect(t *testing.T) {
	handler := Handler("echo", func(y *Yielder, eff *vm.Effect, k *vm.Continuation) (*values.Value, error) {
		name, _ := values.FromHost(eff.Host).AsString()
		return y.Yield(Resume(k, values.NewString("saw:"+name))), nil
	})
	interceptor := InterceptorFunc(func(eff *vm.Effect) interface{} {
		return vm.HostEffect("transformed")
	})
	body := Define("transform_body", func(y *Yielder) (*values.Value, error) {
		return y.Perform("original"), nil
	})
	inner := Define("transform_inner", func(y *Yielder) (*values.Value, error) {
		return y.Yield(WithIntercept(interceptor, body.Call())), nil
	})
	prog := Define("transform_main", func(y *Yielder) (*values.Value, error) {
		return y.Yield(WithHandler(handler, inner.Call())), nil
	})

	got, vmErr := Run(prog)
	require.Nil(t, vmErr)
	require.True(t, got.Equal(values.NewString("saw:transformed")), "got %s", got)
}

func TestStdlibHandlersCompose(t *testing.T) {
	body := Define("composed_body", func(y *Yielder) (*values.Value, error) {
		y.Yield(Put("count", values.NewInt(1)))
		y.Yield(Tell(values.NewString("stored")))
		return y.Yield(Get("count")), nil
	})
	inner := Define("composed_inner", func(y *Yielder) (*values.Value, error) {
		return y.Yield(WithState(body.Call())), nil
	})
	prog := Define("composed_main", func(y *Yielder) (*values.Value, error) {
		return y.Yield(WithWriter(inner.Call())), nil
	})

	m := vm.New()
	got, vmErr := RunOn(m, prog)
	require.Nil(t, vmErr)
	require.True(t, got.Equal(values.NewInt(1)))
	require.Len(t, m.Store().Logs(), 1)
}

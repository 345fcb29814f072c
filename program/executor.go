package program

import (
	"github.com/delimvm/delim/values"
	"github.com/delimvm/delim/vm"
)

// outcomeFromCoro maps a coroutine step result onto the bridge outcome
// vocabulary.
func outcomeFromCoro(res vm.CoroResult) vm.HostOutcome {
	switch {
	case res.Yielded != nil:
		return vm.GenYieldOutcome(res.Yielded)
	case res.Err != nil:
		return vm.GenErrorOutcome(res.Err)
	default:
		return vm.GenReturnOutcome(res.Returned)
	}
}

// HostExecutor executes bridge calls on behalf of the VM.
type HostExecutor interface {
	Execute(call *vm.HostCall) vm.HostOutcome
}

// Executor is the standard host executor: it instantiates programs, steps
// coroutines, invokes handler clauses and interceptors, and runs plain
// function calls synchronously.
type Executor struct{}

// NewExecutor constructs the standard executor.
func NewExecutor() *Executor {
	return &Executor{}
}

// Execute performs one bridge call and returns its outcome.
func (e *Executor) Execute(call *vm.HostCall) vm.HostOutcome {
	switch call.Kind {
	case vm.CallStartProgram:
		return e.startProgram(call.Program)
	case vm.CallGenNext:
		return outcomeFromCoro(call.Gen.Next())
	case vm.CallGenSend:
		return outcomeFromCoro(call.Gen.Send(call.Value))
	case vm.CallGenThrow:
		return outcomeFromCoro(call.Gen.Throw(call.Exc))
	case vm.CallHandler:
		return e.callHandler(call)
	case vm.CallFunc, vm.CallAsync:
		return e.callFunc(call)
	}
	return vm.GenErrorOutcome(vm.RuntimeException("unknown bridge call"))
}

func (e *Executor) startProgram(obj interface{}) vm.HostOutcome {
	switch p := obj.(type) {
	case *GeneratorFn:
		return vm.ValueOutcome(values.NewHost(p.Call()))
	case func(y *Yielder) (*values.Value, error):
		return vm.ValueOutcome(values.NewHost(NewGen(p)))
	case vm.GeneratorSource, vm.Coroutine:
		return vm.ValueOutcome(values.NewHost(p))
	case *values.Value:
		return vm.ValueOutcome(p)
	default:
		return vm.ValueOutcome(values.FromHost(obj))
	}
}

func (e *Executor) callHandler(call *vm.HostCall) vm.HostOutcome {
	switch fn := call.Handler.Fn.(type) {
	case HandlerClauseFunc:
		gen := NewGen(func(y *Yielder) (*values.Value, error) {
			return fn(y, call.Effect, call.Continuation)
		})
		wrapped := WrapCoroutine(gen, call.Handler.Name, sourceFileOf(call.Handler), sourceLineOf(call.Handler))
		return vm.ValueOutcome(values.NewHost(wrapped))
	case func(y *Yielder, effect *vm.Effect, k *vm.Continuation) (*values.Value, error):
		gen := NewGen(func(y *Yielder) (*values.Value, error) {
			return fn(y, call.Effect, call.Continuation)
		})
		wrapped := WrapCoroutine(gen, call.Handler.Name, sourceFileOf(call.Handler), sourceLineOf(call.Handler))
		return vm.ValueOutcome(values.NewHost(wrapped))
	case func(effect *vm.Effect, k *vm.Continuation) interface{}:
		return vm.ValueOutcome(values.FromHost(fn(call.Effect, call.Continuation)))
	default:
		return vm.GenErrorOutcome(vm.RuntimeException("handler clause has an unsupported shape"))
	}
}

func (e *Executor) callFunc(call *vm.HostCall) vm.HostOutcome {
	switch fn := call.Func.(type) {
	case InterceptorFunc:
		return e.interceptorOutcome(fn, call.Args)
	case func(effect *vm.Effect) interface{}:
		return e.interceptorOutcome(fn, call.Args)
	case func(args []*values.Value) (*values.Value, error):
		v, err := fn(call.Args)
		if err != nil {
			return vm.GenErrorOutcome(vm.ExceptionFromError(err))
		}
		return vm.ValueOutcome(v)
	case func() (*values.Value, error):
		v, err := fn()
		if err != nil {
			return vm.GenErrorOutcome(vm.ExceptionFromError(err))
		}
		return vm.ValueOutcome(v)
	default:
		return vm.GenErrorOutcome(vm.RuntimeException("function has an unsupported shape"))
	}
}

func (e *Executor) interceptorOutcome(fn func(*vm.Effect) interface{}, args []*values.Value) vm.HostOutcome {
	if len(args) != 1 {
		return vm.GenErrorOutcome(vm.RuntimeException("interceptor expects exactly the effect"))
	}
	eff, ok := args[0].ToHost().(*vm.Effect)
	if !ok {
		return vm.GenErrorOutcome(vm.RuntimeException("interceptor argument is not an effect"))
	}
	return vm.ValueOutcome(values.FromHost(fn(eff)))
}

func sourceFileOf(h *vm.HostHandler) string {
	if h.Source == nil {
		return ""
	}
	return h.Source.File
}

func sourceLineOf(h *vm.HostHandler) int {
	if h.Source == nil {
		return 0
	}
	return h.Source.Line
}

// Run interprets a program to completion on a fresh VM with the standard
// executor.
func Run(prog interface{}) (*values.Value, *vm.VMError) {
	return RunOn(vm.New(), prog)
}

// RunOn interprets a program to completion on the given VM.
func RunOn(m *vm.VM, prog interface{}) (*values.Value, *vm.VMError) {
	return RunWith(m, prog, NewExecutor())
}

// RunWith drives the bridge loop: each NeedsHost event is executed by the
// host and the VM re-entered with the outcome, until Done or Error.
func RunWith(m *vm.VM, prog interface{}, host HostExecutor) (*values.Value, *vm.VMError) {
	m.StartProgram(prog)
	for {
		ev := m.Drive()
		switch ev.Kind {
		case vm.EventDone:
			return ev.Value, nil
		case vm.EventError:
			return nil, ev.Err
		case vm.EventNeedsHost:
			outcome := host.Execute(ev.Call)
			if err := m.ResumeHost(outcome); err != nil {
				return nil, err
			}
		default:
			return nil, vm.InternalError("drive returned an unexpected event")
		}
	}
}

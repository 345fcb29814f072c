package program

import (
	"fmt"

	"github.com/delimvm/delim/values"
	"github.com/delimvm/delim/vm"
)

// thrown carries an exception injected via Throw through the user
// goroutine's panic path, so user code can recover it like any failure.
type thrown struct {
	exc *vm.Exception
}

type resumeIn struct {
	value *values.Value
	exc   *vm.Exception
}

// Yielder is the handle a generator function uses to yield requests and
// receive resumed values. All methods must be called from the generator's
// own goroutine.
type Yielder struct {
	out chan vm.CoroResult
	in  chan resumeIn
}

// Yield suspends the generator with a request and blocks until the VM
// resumes it. A Throw injection surfaces as a panic carrying the
// exception; the adapter converts an unrecovered one into a CoroResult
// error.
func (y *Yielder) Yield(req *vm.Yielded) *values.Value {
	y.out <- vm.CoroResult{Yielded: req}
	msg := <-y.in
	if msg.exc != nil {
		panic(thrown{exc: msg.exc})
	}
	return msg.value
}

// Perform yields a host effect and returns the handler's resumed value.
func (y *Yielder) Perform(effect interface{}) *values.Value {
	if eff, ok := effect.(*vm.Effect); ok {
		return y.Yield(vm.YieldEffect(eff))
	}
	return y.Yield(vm.YieldEffect(vm.HostEffect(effect)))
}

// Do runs a sub-program and returns its result.
func (y *Yielder) Do(sub interface{}) *values.Value {
	return y.Yield(vm.YieldProgram(sub))
}

// Gen runs a generator function on its own goroutine, translating Go
// control flow into the coroutine protocol the VM drives: Next starts the
// function, Send delivers a resumed value, Throw injects an exception.
type Gen struct {
	fn      func(y *Yielder) (*values.Value, error)
	yielder *Yielder
	started bool
	done    bool
}

// NewGen wraps a generator function. The function does not run until the
// VM steps the coroutine.
func NewGen(fn func(y *Yielder) (*values.Value, error)) *Gen {
	return &Gen{
		fn: fn,
		yielder: &Yielder{
			out: make(chan vm.CoroResult),
			in:  make(chan resumeIn),
		},
	}
}

// Next starts the generator function and blocks until its first yield or
// return.
func (g *Gen) Next() vm.CoroResult {
	if g.done {
		return vm.CoroResult{Err: vm.RuntimeException("coroutine already finished")}
	}
	if g.started {
		return vm.CoroResult{Err: vm.RuntimeException("Next on a started coroutine")}
	}
	g.started = true
	go g.run()
	return g.receive()
}

// Send resumes the parked generator with a value.
func (g *Gen) Send(v *values.Value) vm.CoroResult {
	if !g.started || g.done {
		return vm.CoroResult{Err: vm.RuntimeException("Send on an unstarted or finished coroutine")}
	}
	g.yielder.in <- resumeIn{value: v}
	return g.receive()
}

// Throw injects an exception at the parked yield point.
func (g *Gen) Throw(exc *vm.Exception) vm.CoroResult {
	if !g.started || g.done {
		return vm.CoroResult{Err: exc}
	}
	g.yielder.in <- resumeIn{exc: exc}
	return g.receive()
}

func (g *Gen) run() {
	defer func() {
		if r := recover(); r != nil {
			if t, ok := r.(thrown); ok {
				g.yielder.out <- vm.CoroResult{Err: t.exc}
				return
			}
			g.yielder.out <- vm.CoroResult{Err: vm.RuntimeException(fmt.Sprintf("panic in program: %v", r))}
		}
	}()
	v, err := g.fn(g.yielder)
	if err != nil {
		g.yielder.out <- vm.CoroResult{Err: vm.ExceptionFromError(err)}
		return
	}
	if v == nil {
		v = values.NewNull()
	}
	g.yielder.out <- vm.CoroResult{Returned: v}
}

func (g *Gen) receive() vm.CoroResult {
	res := <-g.yielder.out
	if res.Yielded == nil {
		g.done = true
	}
	return res
}

var _ vm.Coroutine = (*Gen)(nil)

package program

import (
	"github.com/delimvm/delim/values"
	"github.com/delimvm/delim/vm"
)

// SeqOut is one step outcome in a scripted coroutine: exactly one field is
// set.
type SeqOut struct {
	Yield  *vm.Yielded
	Return *values.Value
	Throw  *vm.Exception
}

// YieldOut builds a yield step outcome.
func YieldOut(y *vm.Yielded) SeqOut {
	return SeqOut{Yield: y}
}

// ReturnOut builds a return step outcome.
func ReturnOut(v *values.Value) SeqOut {
	return SeqOut{Return: v}
}

// SeqStep consumes the value delivered at the previous yield point (unit
// for the first step) and produces the next outcome.
type SeqStep func(v *values.Value) SeqOut

// Seq is a goroutine-free scripted coroutine for fixed yield sequences.
// Each Send advances one step; the script ends at the first Return or
// Throw outcome, or when the steps run out.
type Seq struct {
	steps   []SeqStep
	idx     int
	started bool
	done    bool
}

// NewSeq builds a scripted coroutine from steps.
func NewSeq(steps ...SeqStep) *Seq {
	return &Seq{steps: steps}
}

func (s *Seq) Next() vm.CoroResult {
	if s.started {
		return vm.CoroResult{Err: vm.RuntimeException("Next on a started coroutine")}
	}
	s.started = true
	return s.advance(values.NewUnit())
}

func (s *Seq) Send(v *values.Value) vm.CoroResult {
	if !s.started || s.done {
		return vm.CoroResult{Err: vm.RuntimeException("Send on an unstarted or finished coroutine")}
	}
	return s.advance(v)
}

// Throw ends the script: scripted coroutines do not catch.
func (s *Seq) Throw(exc *vm.Exception) vm.CoroResult {
	s.done = true
	return vm.CoroResult{Err: exc}
}

func (s *Seq) advance(v *values.Value) vm.CoroResult {
	if s.idx >= len(s.steps) {
		s.done = true
		return vm.CoroResult{Returned: v}
	}
	step := s.steps[s.idx]
	s.idx++
	out := step(v)
	switch {
	case out.Yield != nil:
		return vm.CoroResult{Yielded: out.Yield}
	case out.Throw != nil:
		s.done = true
		return vm.CoroResult{Err: out.Throw}
	default:
		s.done = true
		ret := out.Return
		if ret == nil {
			ret = values.NewNull()
		}
		return vm.CoroResult{Returned: ret}
	}
}

var _ vm.Coroutine = (*Seq)(nil)

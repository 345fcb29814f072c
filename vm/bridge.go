package vm

import "github.com/delimvm/delim/values"

// StreamLocation identifies a host source position for tracing.
type StreamLocation struct {
	Function string
	File     string
	Line     int
}

// CoroResult is the outcome of stepping a host coroutine: exactly one of
// Yielded, Returned, or Err is set.
type CoroResult struct {
	Yielded  *Yielded
	Returned *values.Value
	Err      *Exception
}

// Coroutine is the host generator translation: implementations adapt
// generator-less hosts by exposing exactly these three operations. The VM
// uses Next for the first resumption and Send afterwards.
type Coroutine interface {
	Next() CoroResult
	Send(v *values.Value) CoroResult
	Throw(exc *Exception) CoroResult
}

// ProgramExpr marks host objects that are program expressions requiring
// further interpretation.
type ProgramExpr interface {
	ProgramExpr() *Yielded
}

// GeneratorSource pairs a coroutine with its origin metadata. The VM calls
// ResolveFrame on demand to produce StreamLocation records for tracing.
type GeneratorSource interface {
	Coroutine() Coroutine
	Origin() StreamLocation
	ResolveFrame() (StreamLocation, bool)
}

// classifyResultShape inspects a host object produced by an interceptor and
// reports whether it is itself an effect or control request (direct), and
// whether it is a program expression requiring further interpretation.
func classifyResultShape(obj interface{}) (isDirect bool, isProgram bool) {
	switch v := obj.(type) {
	case *Yielded:
		isDirect = v.Effect != nil || v.Primitive != nil
		isProgram = v.Program != nil
	case *Effect, *ControlPrimitive:
		isDirect = true
	case ProgramExpr:
		isProgram = true
	case GeneratorSource, Coroutine:
		isProgram = true
	}
	return isDirect, isProgram
}

// HostCallKind enumerates bridge calls the host must execute.
type HostCallKind byte

const (
	// CallStartProgram asks the host to begin interpreting the root
	// program.
	CallStartProgram HostCallKind = iota
	// CallFunc is an ordinary function call.
	CallFunc
	// CallHandler invokes a host handler clause with the captured
	// continuation.
	CallHandler
	// CallGenNext steps the coroutine at the top of the current segment
	// for the first time.
	CallGenNext
	// CallGenSend delivers a value into the parked coroutine.
	CallGenSend
	// CallGenThrow throws an exception into the parked coroutine.
	CallGenThrow
	// CallAsync asks the host to schedule work and return a
	// promise-bearing value.
	CallAsync
)

func (k HostCallKind) String() string {
	switch k {
	case CallStartProgram:
		return "StartProgram"
	case CallFunc:
		return "CallFunc"
	case CallHandler:
		return "CallHandler"
	case CallGenNext:
		return "GenNext"
	case CallGenSend:
		return "GenSend"
	case CallGenThrow:
		return "GenThrow"
	case CallAsync:
		return "CallAsync"
	}
	return "Unknown"
}

// HostCall is one bridge call. The VM parks until the host re-enters with
// an outcome via ResumeHost.
type HostCall struct {
	Kind HostCallKind

	// Program for StartProgram.
	Program interface{}

	// Func/Args/Kwargs for CallFunc and CallAsync.
	Func   interface{}
	Args   []*values.Value
	Kwargs map[string]*values.Value

	// Handler/Effect/Continuation for CallHandler.
	Handler      *HostHandler
	Effect       *Effect
	Continuation *Continuation

	// Gen is the coroutine to step for GenNext/GenSend/GenThrow.
	Gen Coroutine
	// Value for GenSend.
	Value *values.Value
	// Exc for GenThrow.
	Exc *Exception
}

// PendingHostKind tags which continuation a parked outcome resumes.
type PendingHostKind byte

const (
	pendingStartProgram PendingHostKind = iota
	pendingCallFuncReturn
	pendingStepUserGenerator
	pendingCallHostHandler
	pendingNativeProgramContinuation
	pendingAsyncEscape
	pendingInterceptorEval
)

// pendingHost records how to route the outcome of the in-flight HostCall.
type pendingHost struct {
	kind PendingHostKind

	// metadata for start-program and generator frames.
	metadata *CallMetadata

	// kUser/effect for call-host-handler.
	kUser  *Continuation
	effect *Effect

	// marker/k for native-program-continuation.
	marker Marker
	k      *Continuation

	// interceptor bookkeeping for interceptor-eval.
	interceptorMarker Marker
	originalEffect    *Effect
}

// HostOutcomeKind discriminates bridge outcomes.
type HostOutcomeKind byte

const (
	// OutcomeValue delivers a plain value into the parked frame.
	OutcomeValue HostOutcomeKind = iota
	// OutcomeGenYield reports the stepped coroutine yielded a request.
	OutcomeGenYield
	// OutcomeGenReturn reports the stepped coroutine returned.
	OutcomeGenReturn
	// OutcomeGenError reports the stepped coroutine raised.
	OutcomeGenError
)

// HostOutcome completes a prior HostCall.
type HostOutcome struct {
	Kind    HostOutcomeKind
	Value   *values.Value
	Yielded *Yielded
	Exc     *Exception

	// Gen optionally hands the VM the coroutine handle when the host
	// instantiated and stepped the program itself.
	Gen Coroutine
}

// ValueOutcome builds a Value outcome.
func ValueOutcome(v *values.Value) HostOutcome {
	return HostOutcome{Kind: OutcomeValue, Value: v}
}

// GenYieldOutcome builds a GenYield outcome.
func GenYieldOutcome(y *Yielded) HostOutcome {
	return HostOutcome{Kind: OutcomeGenYield, Yielded: y}
}

// GenReturnOutcome builds a GenReturn outcome.
func GenReturnOutcome(v *values.Value) HostOutcome {
	return HostOutcome{Kind: OutcomeGenReturn, Value: v}
}

// GenErrorOutcome builds a GenError outcome.
func GenErrorOutcome(exc *Exception) HostOutcome {
	return HostOutcome{Kind: OutcomeGenError, Exc: exc}
}

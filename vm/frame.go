package vm

import "github.com/delimvm/delim/values"

// FrameKind discriminates the two frame shapes in a segment.
type FrameKind byte

const (
	// FrameNativeReturn is a one-shot callback consuming a value and the
	// VM, returning a control-flow verdict.
	FrameNativeReturn FrameKind = iota
	// FrameCoroutine references a host coroutine plus a started flag.
	FrameCoroutine
)

// ControlFlowKind discriminates native callback verdicts.
type ControlFlowKind byte

const (
	// FlowContinue delivers the carried value to the next frame.
	FlowContinue ControlFlowKind = iota
	// FlowYield treats the carried request as a fresh yield.
	FlowYield
	// FlowDone completes the current segment with the carried value.
	FlowDone
	// FlowError surfaces the carried VM error.
	FlowError
	// FlowThrow rethrows the carried exception into the next frame.
	FlowThrow
)

// ControlFlow is the verdict returned by a native return callback.
type ControlFlow struct {
	Kind    ControlFlowKind
	Value   *values.Value
	Yielded *Yielded
	Err     *VMError
	Exc     *Exception
}

// FlowContinueWith builds a Continue verdict.
func FlowContinueWith(v *values.Value) ControlFlow {
	return ControlFlow{Kind: FlowContinue, Value: v}
}

// FlowDoneWith builds a Done verdict.
func FlowDoneWith(v *values.Value) ControlFlow {
	return ControlFlow{Kind: FlowDone, Value: v}
}

// FlowYieldWith builds a Yield verdict.
func FlowYieldWith(y *Yielded) ControlFlow {
	return ControlFlow{Kind: FlowYield, Yielded: y}
}

// FlowErrorWith builds an Error verdict.
func FlowErrorWith(err *VMError) ControlFlow {
	return ControlFlow{Kind: FlowError, Err: err}
}

// FlowThrowWith builds a Throw verdict.
func FlowThrowWith(exc *Exception) ControlFlow {
	return ControlFlow{Kind: FlowThrow, Exc: exc}
}

// NativeReturnFunc is the native return callback shape. It receives the
// delivered value or the thrown exception (exactly one is non-nil) and may
// absorb errors by choosing a verdict other than Error.
type NativeReturnFunc func(v *values.Value, exc *Exception, m *VM) ControlFlow

// CallMetadata carries origin information for trace assembly. Resolve, when
// present, is the host frame-resolver callback; the VM invokes it on demand
// for a live stream location.
type CallMetadata struct {
	FunctionName string
	SourceFile   string
	SourceLine   int
	Resolve      func() (StreamLocation, bool)
}

// Frame is one pending computation in a segment. The VM manages the frame
// structure; host coroutines are leaves.
type Frame struct {
	Kind FrameKind

	// Callback for FrameNativeReturn; consumed when executed.
	Callback NativeReturnFunc

	// Coroutine handle for FrameCoroutine.
	Coroutine Coroutine
	// Started records whether the coroutine has been stepped. First
	// resumption must use Next, subsequent ones Send.
	Started bool

	// Metadata for trace assembly; nil for anonymous frames.
	Metadata *CallMetadata
	// FrameID stamps coroutine frames for capture events.
	FrameID uint64
}

// NewNativeReturnFrame builds a native return frame around the callback.
func NewNativeReturnFrame(callback NativeReturnFunc) *Frame {
	return &Frame{Kind: FrameNativeReturn, Callback: callback}
}

// NewCoroutineFrame builds an unstarted coroutine frame.
func NewCoroutineFrame(coro Coroutine, metadata *CallMetadata) *Frame {
	return &Frame{
		Kind:      FrameCoroutine,
		Coroutine: coro,
		Metadata:  metadata,
		FrameID:   uint64(FreshCallbackID()),
	}
}

// IsNative reports whether this is a native return frame.
func (f *Frame) IsNative() bool {
	return f.Kind == FrameNativeReturn
}

// IsCoroutine reports whether this is a coroutine frame.
func (f *Frame) IsCoroutine() bool {
	return f.Kind == FrameCoroutine
}

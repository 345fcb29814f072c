package vm

import "github.com/delimvm/delim/values"

// Continuation is a capturable point in the computation, subject to the
// one-shot check. Each captured continuation gets a fresh ContID; consuming
// it via Resume or Transfer records the id in the consumed set.
type Continuation struct {
	// ID is the fresh one-shot tracking id allocated at capture time.
	ID ContID

	// SegmentID is the segment this continuation points to.
	SegmentID SegmentID

	// DispatchID links the dispatch that created this continuation, when
	// present. Consuming the continuation may complete that dispatch.
	DispatchID DispatchID
	// HasDispatch reports whether DispatchID is meaningful.
	HasDispatch bool

	// Parent links nested captures made during the same dispatch. The
	// completion check walks this chain.
	Parent *Continuation
}

// NewContinuation captures a continuation over the given segment.
func NewContinuation(segID SegmentID) *Continuation {
	return &Continuation{ID: FreshContID(), SegmentID: segID}
}

// NewDispatchContinuation captures the user-visible continuation for a
// dispatch.
func NewDispatchContinuation(segID SegmentID, dispatchID DispatchID) *Continuation {
	return &Continuation{
		ID:          FreshContID(),
		SegmentID:   segID,
		DispatchID:  dispatchID,
		HasDispatch: true,
	}
}

// ContID implements values.Continuation so captured continuations can cross
// the bridge as opaque handles.
func (k *Continuation) ContID() uint64 {
	return uint64(k.ID)
}

var _ values.Continuation = (*Continuation)(nil)

// RunnableContinuation pairs a continuation with a pending value for the
// scheduler's run queues. Never observable through public APIs; instances
// carry pre-approved execution tokens and are not subject to the one-shot
// check at creation.
type RunnableContinuation struct {
	RunnableID   RunnableID
	SegmentID    SegmentID
	PendingValue *values.Value
}

// NewRunnableContinuation packages a segment and pending value under a
// fresh runnable id.
func NewRunnableContinuation(segID SegmentID, v *values.Value) *RunnableContinuation {
	return &RunnableContinuation{
		RunnableID:   FreshRunnableID(),
		SegmentID:    segID,
		PendingValue: v,
	}
}

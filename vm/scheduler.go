package vm

import "github.com/delimvm/delim/values"

// PrepareRunnable packages a continuation and pending value for a
// scheduler queue. Runnable continuations carry pre-approved execution
// tokens: the one-shot check applies to the continuation at consumption,
// not to the runnable at creation.
func (m *VM) PrepareRunnable(k *Continuation, v *values.Value) *RunnableContinuation {
	return NewRunnableContinuation(k.SegmentID, v)
}

// EnqueueRunnable queues a runnable continuation for execution once the
// machine goes idle.
func (m *VM) EnqueueRunnable(r *RunnableContinuation) {
	m.runQueue = append(m.runQueue, r)
}

// ReparentCompletedParent is the scheduler preemption hook: when a
// preempted live continuation's parent segment has already completed, the
// caller links of its descendants are rewritten toward the alternate
// parent (typically the scheduler's synthesized re-entry segment) before
// the completed parent's slot is freed.
//
// The alternate parent must not be a descendant of the completed parent;
// the rewrite degenerates to a no-op for descendants.
func (m *VM) ReparentCompletedParent(completed, alternate SegmentID) (int, *VMError) {
	if m.arena.Get(completed) == nil {
		return 0, InvalidSegmentError("completed parent is not live")
	}
	if alternate != NoSegment && m.arena.Get(alternate) == nil {
		return 0, InvalidSegmentError("alternate parent is not live")
	}
	if alternate != NoSegment && m.isDescendantOf(alternate, completed) {
		return 0, nil
	}
	rewired := m.arena.ReparentChildren(completed, alternate)
	m.arena.Free(completed)
	return rewired, nil
}

// SynthesizeReentrySegment allocates the scheduler's re-entry segment: a
// plain segment that delivers into its caller when the requeued work
// completes.
func (m *VM) SynthesizeReentrySegment(caller SegmentID, scopeChain []Marker) SegmentID {
	seg := NewSegment(MarkerNone, caller, append([]Marker(nil), scopeChain...))
	return m.arena.Alloc(seg)
}

// isDescendantOf walks caller links from seg and reports whether ancestor
// appears on the chain.
func (m *VM) isDescendantOf(seg, ancestor SegmentID) bool {
	for cursor := seg; cursor != NoSegment; {
		s := m.arena.Get(cursor)
		if s == nil {
			return false
		}
		if s.Caller == ancestor {
			return true
		}
		cursor = s.Caller
	}
	return false
}

// MintPromiseID mints a promise id on behalf of the host scheduler.
func (m *VM) MintPromiseID() PromiseID {
	return FreshPromiseID()
}

// MintTaskID mints a task id on behalf of the host scheduler.
func (m *VM) MintTaskID() TaskID {
	return FreshTaskID()
}

// RequestAsync parks a CallAsync bridge call: the host schedules the work
// and re-enters with a promise-bearing value, delivered into the frame
// that requested it.
func (m *VM) RequestAsync(fn interface{}, args []*values.Value) StepEvent {
	call := &HostCall{Kind: CallAsync, Func: fn, Args: args}
	m.park(call, &pendingHost{kind: pendingAsyncEscape})
	return eventNeedsHost(call)
}

// RequestFunc parks an ordinary CallFunc bridge call whose result is
// delivered into the current frame.
func (m *VM) RequestFunc(fn interface{}, args []*values.Value, kwargs map[string]*values.Value) StepEvent {
	call := &HostCall{Kind: CallFunc, Func: fn, Args: args, Kwargs: kwargs}
	m.park(call, &pendingHost{kind: pendingCallFuncReturn})
	return eventNeedsHost(call)
}

package vm

// DispatchState is the stack of active handler dispatches plus an index
// for O(1) lookup by dispatch id.
type DispatchState struct {
	stack []*DispatchContext
	index map[DispatchID]int
}

// NewDispatchState constructs an empty dispatch state.
func NewDispatchState() *DispatchState {
	return &DispatchState{index: make(map[DispatchID]int)}
}

// Depth returns the number of contexts on the stack.
func (d *DispatchState) Depth() int {
	return len(d.stack)
}

// IsEmpty reports whether no dispatches are active.
func (d *DispatchState) IsEmpty() bool {
	return len(d.stack) == 0
}

// Top returns the topmost context, or nil.
func (d *DispatchState) Top() *DispatchContext {
	if len(d.stack) == 0 {
		return nil
	}
	return d.stack[len(d.stack)-1]
}

// Contexts exposes the stack bottom-up for inspection.
func (d *DispatchState) Contexts() []*DispatchContext {
	return d.stack
}

// Get returns the context at stack position idx.
func (d *DispatchState) Get(idx int) *DispatchContext {
	if idx < 0 || idx >= len(d.stack) {
		return nil
	}
	return d.stack[idx]
}

// Push appends and indexes a context.
func (d *DispatchState) Push(ctx *DispatchContext) {
	d.index[ctx.DispatchID] = len(d.stack)
	d.stack = append(d.stack, ctx)
}

// FindByDispatchID looks a context up in O(1).
func (d *DispatchState) FindByDispatchID(id DispatchID) *DispatchContext {
	idx, ok := d.index[id]
	if !ok {
		return nil
	}
	return d.stack[idx]
}

// MarkCompletedAt sets the completed flag at idx and records the user
// continuation as consumed.
func (d *DispatchState) MarkCompletedAt(idx int, consumed map[ContID]struct{}) {
	ctx := d.Get(idx)
	if ctx == nil {
		return
	}
	ctx.Completed = true
	consumed[ctx.KUser.ID] = struct{}{}
}

// MarkDispatchCompleted completes the context with the given id and records
// its user continuation as consumed.
func (d *DispatchState) MarkDispatchCompleted(id DispatchID, consumed map[ContID]struct{}) {
	ctx := d.FindByDispatchID(id)
	if ctx == nil {
		return
	}
	ctx.Completed = true
	consumed[ctx.KUser.ID] = struct{}{}
}

// LazyPopCompleted pops trailing completed contexts and deindexes them. It
// never pops a non-trailing context, preserving intermediate indices for
// ongoing handler re-entry.
func (d *DispatchState) LazyPopCompleted() {
	for len(d.stack) > 0 {
		top := d.stack[len(d.stack)-1]
		if !top.Completed {
			return
		}
		d.stack = d.stack[:len(d.stack)-1]
		delete(d.index, top.DispatchID)
	}
}

// CheckDispatchCompletion walks the parent chain of the dispatch's original
// user continuation and, if k matches a node with no parent, marks the
// dispatch completed.
func (d *DispatchState) CheckDispatchCompletion(k *Continuation) {
	if k == nil || !k.HasDispatch {
		return
	}
	ctx := d.FindByDispatchID(k.DispatchID)
	if ctx == nil {
		return
	}
	for cursor := ctx.KUser; cursor != nil; cursor = cursor.Parent {
		if cursor.ID == k.ID {
			if cursor.Parent == nil {
				ctx.Completed = true
			}
			return
		}
	}
}

// ErrorDispatchForContinuation is the symmetric operation for exceptional
// returns: it resolves the dispatch for k and surfaces the original
// captured exception when the dispatch was the error-handling one. The
// boolean reports whether k matched the chain root.
func (d *DispatchState) ErrorDispatchForContinuation(k *Continuation) (DispatchID, *Exception, bool) {
	if k == nil || !k.HasDispatch {
		return 0, nil, false
	}
	ctx := d.FindByDispatchID(k.DispatchID)
	if ctx == nil || ctx.OriginalException == nil {
		return 0, nil, false
	}
	for cursor := ctx.KUser; cursor != nil; cursor = cursor.Parent {
		if cursor.ID == k.ID {
			return ctx.DispatchID, ctx.OriginalException, cursor.Parent == nil
		}
	}
	return 0, nil, false
}

// ActiveErrorOriginalException surfaces the original exception of the
// innermost uncompleted error-handling dispatch.
func (d *DispatchState) ActiveErrorOriginalException() *Exception {
	for i := len(d.stack) - 1; i >= 0; i-- {
		ctx := d.stack[i]
		if !ctx.Completed && ctx.OriginalException != nil {
			return ctx.OriginalException
		}
	}
	return nil
}

// WithHandlerPlan is what PrepareWithHandler returns; the step machine
// consumes it to install the prompt boundary.
type WithHandlerPlan struct {
	HandlerMarker Marker
	OutsideSegID  SegmentID
	Handler       Handler
	Identity      interface{}
}

// PrepareWithHandler allocates a fresh marker, records the outside segment
// as the new handler's caller, and picks an identity (explicit, or derived
// from the handler).
func PrepareWithHandler(handler Handler, explicitIdentity interface{}, currentSegment SegmentID) (*WithHandlerPlan, *VMError) {
	if currentSegment == NoSegment {
		return nil, InternalError("no current segment for WithHandler")
	}
	identity := explicitIdentity
	if identity == nil {
		if host, ok := handler.(*HostHandler); ok {
			identity = host.Fn
		}
	}
	return &WithHandlerPlan{
		HandlerMarker: FreshMarker(),
		OutsideSegID:  currentSegment,
		Handler:       handler,
		Identity:      identity,
	}, nil
}

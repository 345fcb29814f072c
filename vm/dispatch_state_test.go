package vm

import "testing"

func newTestDispatch(seg SegmentID) *DispatchContext {
	id := FreshDispatchID()
	return &DispatchContext{
		DispatchID:   id,
		Effect:       HostEffect("test"),
		HandlerChain: []Marker{FreshMarker()},
		KUser:        NewDispatchContinuation(seg, id),
		PromptSegID:  seg,
	}
}

func TestDispatchStatePushAndFind(t *testing.T) {
	d := NewDispatchState()
	ctx1 := newTestDispatch(SegmentID(0))
	ctx2 := newTestDispatch(SegmentID(1))

	d.Push(ctx1)
	d.Push(ctx2)

	if d.Depth() != 2 {
		t.Fatalf("Depth = %d, want 2", d.Depth())
	}
	if d.FindByDispatchID(ctx1.DispatchID) != ctx1 {
		t.Errorf("FindByDispatchID(ctx1) missed")
	}
	if d.Top() != ctx2 {
		t.Errorf("Top is not the last push")
	}
	if d.FindByDispatchID(DispatchID(999999)) != nil {
		t.Errorf("unknown id found")
	}
}

func TestLazyPopOnlyTrailingCompleted(t *testing.T) {
	d := NewDispatchState()
	consumed := make(map[ContID]struct{})

	bottom := newTestDispatch(SegmentID(0))
	middle := newTestDispatch(SegmentID(1))
	top := newTestDispatch(SegmentID(2))
	d.Push(bottom)
	d.Push(middle)
	d.Push(top)

	// Completing only the bottom must not pop anything.
	d.MarkCompletedAt(0, consumed)
	d.LazyPopCompleted()
	if d.Depth() != 3 {
		t.Fatalf("Depth after non-trailing completion = %d, want 3", d.Depth())
	}
	if _, ok := consumed[bottom.KUser.ID]; !ok {
		t.Errorf("completion did not consume the user continuation")
	}

	// Completing the top pops it, but stops at the uncompleted middle.
	d.MarkCompletedAt(2, consumed)
	d.LazyPopCompleted()
	if d.Depth() != 2 {
		t.Fatalf("Depth after trailing pop = %d, want 2", d.Depth())
	}
	if d.FindByDispatchID(top.DispatchID) != nil {
		t.Errorf("popped context still indexed")
	}
	if d.FindByDispatchID(middle.DispatchID) != middle {
		t.Errorf("middle context lost its index")
	}

	// Once the middle completes, both it and the already-completed bottom
	// pop in one pass.
	d.MarkCompletedAt(1, consumed)
	d.LazyPopCompleted()
	if d.Depth() != 0 {
		t.Errorf("Depth after full pop = %d, want 0", d.Depth())
	}
}

func TestCheckDispatchCompletionWalksParentChain(t *testing.T) {
	d := NewDispatchState()
	ctx := newTestDispatch(SegmentID(0))
	root := ctx.KUser
	d.Push(ctx)

	// A nested capture chains onto the user continuation.
	nested := NewDispatchContinuation(SegmentID(0), ctx.DispatchID)
	nested.Parent = root
	ctx.KUser = nested

	// Consuming the nested capture does not complete the dispatch.
	d.CheckDispatchCompletion(nested)
	if ctx.Completed {
		t.Fatalf("nested consumption completed the dispatch")
	}

	// Consuming the chain root does.
	d.CheckDispatchCompletion(root)
	if !ctx.Completed {
		t.Errorf("root consumption did not complete the dispatch")
	}
}

func TestCheckDispatchCompletionIgnoresUnlinked(t *testing.T) {
	d := NewDispatchState()
	ctx := newTestDispatch(SegmentID(0))
	d.Push(ctx)

	d.CheckDispatchCompletion(NewContinuation(SegmentID(0)))
	if ctx.Completed {
		t.Errorf("unlinked continuation completed a dispatch")
	}
}

func TestErrorDispatchForContinuation(t *testing.T) {
	d := NewDispatchState()
	ctx := newTestDispatch(SegmentID(0))
	exc := RuntimeException("boom")
	ctx.OriginalException = exc
	d.Push(ctx)

	id, got, isRoot := d.ErrorDispatchForContinuation(ctx.KUser)
	if id != ctx.DispatchID || got != exc || !isRoot {
		t.Errorf("ErrorDispatchForContinuation = (%d, %v, %v)", id, got, isRoot)
	}

	// No original exception means no error dispatch.
	other := newTestDispatch(SegmentID(1))
	d.Push(other)
	if _, got, _ := d.ErrorDispatchForContinuation(other.KUser); got != nil {
		t.Errorf("dispatch without exception surfaced one")
	}
}

func TestPrepareWithHandlerMintsFreshMarkers(t *testing.T) {
	h := NewStateHandler()
	plan1, err := PrepareWithHandler(h, nil, SegmentID(4))
	if err != nil {
		t.Fatalf("PrepareWithHandler: %v", err)
	}
	plan2, _ := PrepareWithHandler(h, nil, SegmentID(4))

	if plan1.HandlerMarker == plan2.HandlerMarker {
		t.Errorf("markers not fresh")
	}
	if plan1.OutsideSegID != SegmentID(4) {
		t.Errorf("outside segment = %d, want 4", plan1.OutsideSegID)
	}

	if _, err := PrepareWithHandler(h, nil, NoSegment); err == nil {
		t.Errorf("PrepareWithHandler without a segment should fail")
	}
}

package vm

import "testing"

func TestAssembleTraceFoldsDispatch(t *testing.T) {
	id := FreshDispatchID()
	events := []CaptureEvent{
		{Kind: EvFrameEntered, FrameID: 1, FunctionName: "main"},
		{Kind: EvDispatchStarted, DispatchID: id, EffectRepr: "Fetch", HandlerName: "inner",
			ChainSnapshot: []HandlerSnapshot{{HandlerName: "inner"}, {HandlerName: "outer"}}},
		{Kind: EvDelegated, DispatchID: id, FromHandlerName: "inner", FromHandlerIndex: 0,
			ToHandlerName: "outer", ToHandlerIndex: 1},
		{Kind: EvHandlerCompleted, DispatchID: id, HandlerName: "outer", HandlerIndex: 1,
			Action: &HandlerAction{Kind: ActionResumed, Repr: "42"}},
		{Kind: EvResumed, DispatchID: id, HandlerName: "outer", ValueRepr: "42"},
	}

	entries := AssembleTrace(events)
	if len(entries) != 3 {
		t.Fatalf("AssembleTrace produced %d entries, want 3", len(entries))
	}

	if entries[0].Kind != TraceFrame || entries[0].FunctionName != "main" {
		t.Errorf("first entry = %+v, want main frame", entries[0])
	}

	dispatch := entries[1]
	if dispatch.Kind != TraceDispatch || dispatch.EffectRepr != "Fetch" {
		t.Fatalf("second entry = %+v, want dispatch", dispatch)
	}
	if dispatch.Outcome != DispatchResumed || dispatch.ValueRepr != "42" {
		t.Errorf("dispatch outcome = %v/%q, want resumed/42", dispatch.Outcome, dispatch.ValueRepr)
	}
	if len(dispatch.DelegationChain) != 1 || dispatch.DelegationChain[0].HandlerName != "outer" {
		t.Errorf("delegation chain = %+v", dispatch.DelegationChain)
	}
	if dispatch.HandlerName != "outer" {
		t.Errorf("final handler = %q, want outer", dispatch.HandlerName)
	}

	if entries[2].Kind != TraceResumePoint || entries[2].ValueRepr != "42" {
		t.Errorf("third entry = %+v, want resume point", entries[2])
	}
}

func TestAssembleActiveChainStatuses(t *testing.T) {
	id := FreshDispatchID()
	events := []CaptureEvent{
		{Kind: EvDispatchStarted, DispatchID: id, EffectRepr: "E",
			ChainSnapshot: []HandlerSnapshot{{HandlerName: "inner"}, {HandlerName: "outer"}}},
		{Kind: EvDelegated, DispatchID: id, FromHandlerIndex: 0, ToHandlerIndex: 1},
		{Kind: EvHandlerCompleted, DispatchID: id, HandlerIndex: 1,
			Action: &HandlerAction{Kind: ActionResumed, Repr: "1"}},
	}

	rows := AssembleActiveChain(events)
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	row := rows[0]
	if row.Outcome != DispatchResumed {
		t.Errorf("row outcome = %v, want resumed", row.Outcome)
	}
	if row.HandlerStack[0].Status != StatusDelegated {
		t.Errorf("inner status = %v, want delegated", row.HandlerStack[0].Status)
	}
	if row.HandlerStack[1].Status != StatusResumed {
		t.Errorf("outer status = %v, want resumed", row.HandlerStack[1].Status)
	}
}

func TestAssembleActiveChainThrew(t *testing.T) {
	id := FreshDispatchID()
	events := []CaptureEvent{
		{Kind: EvDispatchStarted, DispatchID: id, EffectRepr: "E",
			ChainSnapshot: []HandlerSnapshot{{HandlerName: "only"}}},
		{Kind: EvHandlerCompleted, DispatchID: id, HandlerIndex: 0,
			Action: &HandlerAction{Kind: ActionThrew, Repr: "boom"}},
	}

	rows := AssembleActiveChain(events)
	if rows[0].Outcome != DispatchThrew || rows[0].ResultRepr != "boom" {
		t.Errorf("row = %+v, want threw/boom", rows[0])
	}
}

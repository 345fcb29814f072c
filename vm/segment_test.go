package vm

import (
	"testing"

	"github.com/delimvm/delim/values"
)

func TestSegmentFrameOrder(t *testing.T) {
	seg := NewSegment(FreshMarker(), NoSegment, nil)
	if seg.HasFrames() {
		t.Fatal("fresh segment has frames")
	}

	first := NewNativeReturnFrame(func(v *values.Value, exc *Exception, m *VM) ControlFlow {
		return FlowContinueWith(v)
	})
	second := NewNativeReturnFrame(func(v *values.Value, exc *Exception, m *VM) ControlFlow {
		return FlowContinueWith(v)
	})

	seg.PushFrame(first)
	seg.PushFrame(second)
	if seg.FrameCount() != 2 {
		t.Fatalf("FrameCount = %d, want 2", seg.FrameCount())
	}

	// Pushes go to index 0: the last push is next to execute.
	if seg.TopFrame() != second {
		t.Errorf("TopFrame is not the last pushed frame")
	}
	if seg.PopFrame() != second || seg.PopFrame() != first {
		t.Errorf("PopFrame order wrong")
	}
	if seg.PopFrame() != nil {
		t.Errorf("PopFrame on empty segment should be nil")
	}
}

func TestPromptSegmentCarriesHandledMarker(t *testing.T) {
	handled := FreshMarker()
	seg := NewPromptSegment(handled, NoSegment, []Marker{handled}, handled)
	if !seg.IsPrompt() {
		t.Errorf("prompt segment not marked")
	}
	if seg.HandledMarker != handled || seg.Marker != handled {
		t.Errorf("prompt segment markers = %d/%d, want %d", seg.Marker, seg.HandledMarker, handled)
	}
}

func TestInheritGuardsCopies(t *testing.T) {
	src := NewSegment(FreshMarker(), NoSegment, nil)
	m := FreshMarker()
	src.InterceptorEvalDepth = 2
	src.InterceptorSkipStack = []Marker{m}

	dst := NewSegment(FreshMarker(), NoSegment, nil)
	dst.InheritGuards(src)

	if dst.InterceptorEvalDepth != 2 || !IsSkipped(dst, m) {
		t.Fatalf("guards not inherited")
	}

	// The copy must be independent of the source.
	PushSkip(src, FreshMarker())
	if len(dst.InterceptorSkipStack) != 1 {
		t.Errorf("guard copy aliases the source stack")
	}
}

func TestSkipStackPushPop(t *testing.T) {
	seg := NewSegment(FreshMarker(), NoSegment, nil)
	m1 := FreshMarker()
	m2 := FreshMarker()

	PushSkip(seg, m1)
	PushSkip(seg, m2)
	PushSkip(seg, m1)

	if !IsSkipped(seg, m1) || !IsSkipped(seg, m2) {
		t.Fatal("pushed markers not skipped")
	}

	PopSkip(seg, m1)
	if !IsSkipped(seg, m1) {
		t.Errorf("PopSkip removed both occurrences")
	}
	PopSkip(seg, m1)
	if IsSkipped(seg, m1) {
		t.Errorf("m1 still skipped after popping both")
	}
	if !IsSkipped(seg, m2) {
		t.Errorf("m2 lost")
	}
}

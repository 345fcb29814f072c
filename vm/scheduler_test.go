package vm

import (
	"testing"

	"github.com/delimvm/delim/values"
)

func TestReparentCompletedParentAcrossPreemption(t *testing.T) {
	m := New()
	marker := FreshMarker()

	// A completed parent with a live child, plus the scheduler's
	// synthesized re-entry segment as the alternate parent.
	parent := m.Arena().Alloc(NewSegment(marker, NoSegment, nil))
	child := m.Arena().Alloc(NewSegment(marker, parent, []Marker{marker}))
	alternate := m.SynthesizeReentrySegment(NoSegment, []Marker{marker})

	rewired, err := m.ReparentCompletedParent(parent, alternate)
	if err != nil {
		t.Fatalf("ReparentCompletedParent: %v", err)
	}
	if rewired != 1 {
		t.Errorf("rewired = %d, want 1", rewired)
	}
	if m.Arena().Get(parent) != nil {
		t.Errorf("completed parent still live after reparent")
	}
	if got := m.Arena().Get(child).Caller; got != alternate {
		t.Errorf("child caller = %d, want %d", got, alternate)
	}
}

func TestReparentRefusesDeadSegments(t *testing.T) {
	m := New()
	if _, err := m.ReparentCompletedParent(SegmentID(99), NoSegment); err == nil {
		t.Errorf("reparent of a dead parent should fail")
	}
}

func TestReparentDescendantIsNoop(t *testing.T) {
	m := New()
	marker := FreshMarker()

	parent := m.Arena().Alloc(NewSegment(marker, NoSegment, nil))
	child := m.Arena().Alloc(NewSegment(marker, parent, nil))

	// The alternate is a descendant of the parent: the rewrite must
	// degenerate to a no-op and leave the parent live.
	rewired, err := m.ReparentCompletedParent(parent, child)
	if err != nil {
		t.Fatalf("ReparentCompletedParent: %v", err)
	}
	if rewired != 0 {
		t.Errorf("rewired = %d, want 0", rewired)
	}
	if m.Arena().Get(parent) == nil {
		t.Errorf("no-op reparent freed the parent")
	}
}

func TestRunnableContinuationsCarryFreshIDs(t *testing.T) {
	m := New()
	seg := m.Arena().Alloc(NewSegment(FreshMarker(), NoSegment, nil))
	k := NewContinuation(seg)

	r1 := m.PrepareRunnable(k, values.NewInt(1))
	r2 := m.PrepareRunnable(k, values.NewInt(2))
	if r1.RunnableID == r2.RunnableID {
		t.Errorf("runnable ids not fresh")
	}
	if r1.SegmentID != seg {
		t.Errorf("runnable segment = %d, want %d", r1.SegmentID, seg)
	}
}

func TestIDMintsAreMonotonic(t *testing.T) {
	m1 := FreshMarker()
	m2 := FreshMarker()
	if m2 <= m1 {
		t.Errorf("markers not monotonic: %d then %d", m1, m2)
	}
	c1 := FreshContID()
	c2 := FreshContID()
	if c2 <= c1 {
		t.Errorf("cont ids not monotonic")
	}
	d1 := FreshDispatchID()
	d2 := FreshDispatchID()
	if d2 <= d1 {
		t.Errorf("dispatch ids not monotonic")
	}
	if MarkerNone != 0 {
		t.Errorf("placeholder marker must be 0")
	}
}

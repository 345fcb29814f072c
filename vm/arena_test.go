package vm

import "testing"

func TestArenaAllocAndGet(t *testing.T) {
	arena := NewSegmentArena()

	m1 := FreshMarker()
	id1 := arena.Alloc(NewSegment(m1, NoSegment, nil))

	m2 := FreshMarker()
	id2 := arena.Alloc(NewSegment(m2, NoSegment, nil))

	if id1 == id2 {
		t.Fatalf("Alloc returned duplicate id %d", id1)
	}
	if arena.Len() != 2 {
		t.Errorf("Len() = %d, want 2", arena.Len())
	}
	if got := arena.Get(id1); got == nil || got.Marker != m1 {
		t.Errorf("Get(%d) = %v, want segment with marker %d", id1, got, m1)
	}
}

func TestArenaFreeAndReuse(t *testing.T) {
	arena := NewSegmentArena()

	id1 := arena.Alloc(NewSegment(FreshMarker(), NoSegment, nil))
	if arena.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", arena.Len())
	}

	arena.Free(id1)
	if arena.Len() != 0 {
		t.Errorf("Len() after free = %d, want 0", arena.Len())
	}
	if arena.Get(id1) != nil {
		t.Errorf("Get(%d) after free should be nil", id1)
	}

	m2 := FreshMarker()
	id2 := arena.Alloc(NewSegment(m2, NoSegment, nil))
	if id1 != id2 {
		t.Errorf("Alloc after free = %d, want reused slot %d", id2, id1)
	}
	if got := arena.Get(id2); got == nil || got.Marker != m2 {
		t.Errorf("reused slot carries wrong segment")
	}
}

func TestArenaFreeAbsentSlotIsNoop(t *testing.T) {
	arena := NewSegmentArena()
	arena.Free(SegmentID(3))
	arena.Free(NoSegment)
	if arena.Len() != 0 || arena.Capacity() != 0 {
		t.Errorf("freeing absent slots changed the arena")
	}
}

func TestArenaReparentChildren(t *testing.T) {
	arena := NewSegmentArena()
	marker := FreshMarker()

	parent := arena.Alloc(NewSegment(marker, NoSegment, nil))
	caller := arena.Alloc(NewSegment(marker, NoSegment, nil))
	childA := arena.Alloc(NewSegment(marker, parent, nil))
	childB := arena.Alloc(NewSegment(marker, parent, nil))
	unrelated := arena.Alloc(NewSegment(marker, caller, nil))

	rewired := arena.ReparentChildren(parent, caller)
	if rewired != 2 {
		t.Fatalf("ReparentChildren rewired %d, want 2", rewired)
	}
	if arena.Get(childA).Caller != caller {
		t.Errorf("childA caller = %d, want %d", arena.Get(childA).Caller, caller)
	}
	if arena.Get(childB).Caller != caller {
		t.Errorf("childB caller = %d, want %d", arena.Get(childB).Caller, caller)
	}
	if arena.Get(unrelated).Caller != caller {
		t.Errorf("unrelated caller changed")
	}
}

func TestArenaIterVisitsLiveOnly(t *testing.T) {
	arena := NewSegmentArena()
	id1 := arena.Alloc(NewSegment(FreshMarker(), NoSegment, nil))
	id2 := arena.Alloc(NewSegment(FreshMarker(), NoSegment, nil))
	arena.Free(id1)

	seen := map[SegmentID]bool{}
	arena.Iter(func(id SegmentID, seg *Segment) bool {
		seen[id] = true
		return true
	})
	if len(seen) != 1 || !seen[id2] {
		t.Errorf("Iter visited %v, want only %d", seen, id2)
	}
}

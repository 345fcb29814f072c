package vm

// SegmentArena is a slotted store of delimited segments with a free list.
// Slot ids are reused across alloc/free; callers never retain a dangling id
// because caller links in child segments are rewritten via ReparentChildren
// before a referenced slot is freed.
type SegmentArena struct {
	segments []*Segment
	freeList []SegmentID
}

// NewSegmentArena constructs an empty arena.
func NewSegmentArena() *SegmentArena {
	return &SegmentArena{}
}

// Alloc stores the segment, reusing the lowest freed slot if one exists.
func (a *SegmentArena) Alloc(seg *Segment) SegmentID {
	if n := len(a.freeList); n > 0 {
		lowest := 0
		for i := 1; i < n; i++ {
			if a.freeList[i] < a.freeList[lowest] {
				lowest = i
			}
		}
		id := a.freeList[lowest]
		a.freeList = append(a.freeList[:lowest], a.freeList[lowest+1:]...)
		a.segments[id] = seg
		return id
	}
	id := SegmentID(len(a.segments))
	a.segments = append(a.segments, seg)
	return id
}

// Free clears the slot and enqueues it for reuse. Freeing an absent slot
// is a no-op.
func (a *SegmentArena) Free(id SegmentID) {
	if int(id) >= len(a.segments) || a.segments[id] == nil {
		return
	}
	a.segments[id] = nil
	a.freeList = append(a.freeList, id)
}

// Get returns the live segment at id, or nil.
func (a *SegmentArena) Get(id SegmentID) *Segment {
	if id == NoSegment || int(id) >= len(a.segments) {
		return nil
	}
	return a.segments[id]
}

// Iter calls f for each live segment. Returning false stops iteration.
func (a *SegmentArena) Iter(f func(SegmentID, *Segment) bool) {
	for idx, seg := range a.segments {
		if seg == nil {
			continue
		}
		if !f(SegmentID(idx), seg) {
			return
		}
	}
}

// ReparentChildren rewrites every live segment whose caller is oldParent to
// point at newParent and returns the rewrite count. It must run before
// Free(oldParent) whenever a completed parent still has live descendants,
// for example across scheduler preemption of a resumed continuation.
func (a *SegmentArena) ReparentChildren(oldParent, newParent SegmentID) int {
	rewired := 0
	for _, seg := range a.segments {
		if seg == nil {
			continue
		}
		if seg.Caller == oldParent {
			seg.Caller = newParent
			rewired++
		}
	}
	return rewired
}

// Len counts live segments.
func (a *SegmentArena) Len() int {
	n := 0
	for _, seg := range a.segments {
		if seg != nil {
			n++
		}
	}
	return n
}

// IsEmpty reports whether no segments are live.
func (a *SegmentArena) IsEmpty() bool {
	return a.Len() == 0
}

// Capacity returns the total slot count including freed slots.
func (a *SegmentArena) Capacity() int {
	return len(a.segments)
}

package vm

// Segment is a delimited continuation frame: an ordered stack of pending
// frames bounded by a prompt (Marker), with a caller link for result flow.
type Segment struct {
	// Marker is the delimiting prompt for this segment, equal to the
	// nearest enclosing handler's marker.
	Marker Marker

	// Frames pending in this segment; index 0 is next to execute.
	Frames []*Frame

	// Caller receives the result when this segment empties. NoSegment for
	// the root.
	Caller SegmentID

	// ScopeChain lists markers in scope at creation time, innermost to
	// outermost. It decides which handlers and interceptors are visible.
	ScopeChain []Marker

	// IsPromptBoundary marks a segment created by WithHandler that
	// demarcates a handler installation. Handler returns flow through this
	// segment instead of to user code.
	IsPromptBoundary bool

	// HandledMarker is the marker this prompt delimits, when
	// IsPromptBoundary is set.
	HandledMarker Marker

	// Interceptor guard state, copied (not derived from frames) at segment
	// construction so the guards survive segment splits across scheduler
	// preemption.
	InterceptorEvalDepth int
	InterceptorSkipStack []Marker
}

// NewSegment constructs a regular segment.
func NewSegment(marker Marker, caller SegmentID, scopeChain []Marker) *Segment {
	return &Segment{
		Marker:     marker,
		Caller:     caller,
		ScopeChain: scopeChain,
	}
}

// NewPromptSegment constructs a prompt boundary segment for WithHandler.
// It carries the handled marker in both Marker and HandledMarker.
func NewPromptSegment(marker Marker, caller SegmentID, scopeChain []Marker, handled Marker) *Segment {
	return &Segment{
		Marker:           marker,
		Caller:           caller,
		ScopeChain:       scopeChain,
		IsPromptBoundary: true,
		HandledMarker:    handled,
	}
}

// PushFrame pushes a frame on top of the segment stack (index 0 = next).
func (s *Segment) PushFrame(frame *Frame) {
	s.Frames = append([]*Frame{frame}, s.Frames...)
}

// PopFrame removes and returns the top frame, or nil when empty.
func (s *Segment) PopFrame() *Frame {
	if len(s.Frames) == 0 {
		return nil
	}
	top := s.Frames[0]
	s.Frames = s.Frames[1:]
	return top
}

// TopFrame returns the next frame to execute without removing it.
func (s *Segment) TopFrame() *Frame {
	if len(s.Frames) == 0 {
		return nil
	}
	return s.Frames[0]
}

// HasFrames reports whether any frames are pending.
func (s *Segment) HasFrames() bool {
	return len(s.Frames) > 0
}

// FrameCount returns the number of pending frames.
func (s *Segment) FrameCount() int {
	return len(s.Frames)
}

// IsPrompt reports whether this is a prompt boundary segment.
func (s *Segment) IsPrompt() bool {
	return s.IsPromptBoundary
}

// InheritGuards copies the interceptor guard fields from src verbatim.
func (s *Segment) InheritGuards(src *Segment) {
	s.InterceptorEvalDepth = src.InterceptorEvalDepth
	s.InterceptorSkipStack = append([]Marker(nil), src.InterceptorSkipStack...)
}

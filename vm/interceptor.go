package vm

// InterceptorEntry pairs an installed interceptor with its callsite
// metadata.
type InterceptorEntry struct {
	Interceptor interface{}
	Metadata    *CallMetadata
}

// InterceptorState is the interceptor registry plus the guard bookkeeping
// that scopes interceptor visibility during dispatch.
type InterceptorState struct {
	interceptors map[Marker]*InterceptorEntry
}

// NewInterceptorState constructs an empty registry.
func NewInterceptorState() *InterceptorState {
	return &InterceptorState{interceptors: make(map[Marker]*InterceptorEntry)}
}

// ClearForRun drops all installations at the start of a run.
func (s *InterceptorState) ClearForRun() {
	s.interceptors = make(map[Marker]*InterceptorEntry)
}

// Insert registers an interceptor under the marker.
func (s *InterceptorState) Insert(marker Marker, interceptor interface{}, metadata *CallMetadata) {
	s.interceptors[marker] = &InterceptorEntry{Interceptor: interceptor, Metadata: metadata}
}

// Entry returns the installation for marker, or nil.
func (s *InterceptorState) Entry(marker Marker) *InterceptorEntry {
	return s.interceptors[marker]
}

// CurrentChain filters the scope chain down to markers with an installed
// interceptor, preserving innermost-to-outermost order.
func (s *InterceptorState) CurrentChain(scopeChain []Marker) []Marker {
	var chain []Marker
	for _, marker := range scopeChain {
		if _, ok := s.interceptors[marker]; ok {
			chain = append(chain, marker)
		}
	}
	return chain
}

// VisibleToActiveHandler reports whether the interceptor at
// interceptorMarker may observe the current dispatch. An interceptor is
// visible to the active handler only if its marker appears in the scope
// chain of that handler's prompt segment; this keeps interceptors
// installed inside a handler clause from intercepting the dispatch they
// were installed within.
func (s *InterceptorState) VisibleToActiveHandler(
	interceptorMarker Marker,
	dispatch *DispatchState,
	currentSegment SegmentID,
	segments *SegmentArena,
	handlers map[Marker]*HandlerEntry,
) bool {
	top := dispatch.Top()
	if top == nil || top.Completed {
		return true
	}
	seg := segments.Get(currentSegment)
	if seg == nil {
		return true
	}
	if top.HandlerIdx >= len(top.HandlerChain) {
		return false
	}
	handlerMarker := top.HandlerChain[top.HandlerIdx]
	if seg.Marker != handlerMarker {
		return true
	}
	entry, ok := handlers[handlerMarker]
	if !ok {
		return false
	}
	promptSeg := segments.Get(entry.PromptSegID)
	if promptSeg == nil {
		return false
	}
	for _, m := range promptSeg.ScopeChain {
		if m == interceptorMarker {
			return true
		}
	}
	return false
}

// IsSkipped reports whether the segment currently suppresses the marker's
// interceptor (its own code is performing an effect).
func IsSkipped(seg *Segment, marker Marker) bool {
	for _, m := range seg.InterceptorSkipStack {
		if m == marker {
			return true
		}
	}
	return false
}

// PushSkip suppresses the marker's interceptor for the segment.
func PushSkip(seg *Segment, marker Marker) {
	seg.InterceptorSkipStack = append(seg.InterceptorSkipStack, marker)
}

// PopSkip removes the most recent suppression of the marker.
func PopSkip(seg *Segment, marker Marker) {
	for i := len(seg.InterceptorSkipStack) - 1; i >= 0; i-- {
		if seg.InterceptorSkipStack[i] == marker {
			seg.InterceptorSkipStack = append(
				seg.InterceptorSkipStack[:i:i],
				seg.InterceptorSkipStack[i+1:]...,
			)
			return
		}
	}
}

// CurrentActiveHandlerDispatchID returns the dispatch id when the current
// segment is executing the topmost dispatch's active handler clause.
func (s *InterceptorState) CurrentActiveHandlerDispatchID(
	dispatch *DispatchState,
	currentSegment SegmentID,
	segments *SegmentArena,
) (DispatchID, bool) {
	top := dispatch.Top()
	if top == nil || top.Completed {
		return 0, false
	}
	if top.HandlerIdx >= len(top.HandlerChain) {
		return 0, false
	}
	marker := top.HandlerChain[top.HandlerIdx]
	seg := segments.Get(currentSegment)
	if seg == nil {
		return 0, false
	}
	if seg.Marker == marker {
		return top.DispatchID, true
	}
	return 0, false
}

// PrepareWithIntercept mints a marker, registers the interceptor, and
// builds the body segment. The body inherits the outside segment's guard
// fields verbatim so re-entry guards survive segment splits.
func (s *InterceptorState) PrepareWithIntercept(
	interceptor interface{},
	metadata *CallMetadata,
	currentSegment SegmentID,
	segments *SegmentArena,
) (Marker, *Segment, *VMError) {
	if currentSegment == NoSegment {
		return MarkerNone, nil, InternalError("no current segment for WithIntercept")
	}
	outside := segments.Get(currentSegment)
	if outside == nil {
		return MarkerNone, nil, InvalidSegmentError("current segment not found for WithIntercept")
	}

	marker := FreshMarker()
	s.Insert(marker, interceptor, metadata)

	bodyScope := make([]Marker, 0, len(outside.ScopeChain)+1)
	bodyScope = append(bodyScope, marker)
	bodyScope = append(bodyScope, outside.ScopeChain...)
	bodySeg := NewSegment(marker, currentSegment, bodyScope)
	bodySeg.InheritGuards(outside)
	return marker, bodySeg, nil
}

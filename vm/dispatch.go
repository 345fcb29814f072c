package vm

// DispatchContext records an effect dispatch in progress: the resolved
// handler chain, the delegation cursor, and completion tracking.
type DispatchContext struct {
	DispatchID DispatchID
	Effect     *Effect

	// IsContextEffect marks execution-context effects that bypass
	// interceptor visibility.
	IsContextEffect bool

	// HandlerChain is the ordered candidate markers resolved at dispatch
	// start; it is not rescanned mid-delegation.
	HandlerChain []Marker
	// HandlerIdx advances on delegation.
	HandlerIdx int

	// ActiveHandlerSegID is the segment executing the current handler
	// clause, used to scope self-dispatch exclusion to clause execution.
	ActiveHandlerSegID SegmentID

	// SupportsErrorContextConversion gates exceptional-return conversion
	// for error-handling dispatches.
	SupportsErrorContextConversion bool

	// KUser is the user-visible continuation; delegation preserves it
	// unchanged.
	KUser *Continuation

	// PromptSegID is the prompt boundary of the active handler.
	PromptSegID SegmentID

	// Completed is set once a terminal handler action lands; completed
	// contexts are lazily popped from the top of the stack.
	Completed bool

	// OriginalException carries the captured exception when this is the
	// error-handling dispatch.
	OriginalException *Exception
}

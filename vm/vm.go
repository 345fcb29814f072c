package vm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/delimvm/delim/values"
)

// VM is the delimited-continuation interpreter. A single instance's state
// is exclusive to one executing thread at a time; the VM holds no locks
// across a suspension.
type VM struct {
	logger *zap.Logger

	arena        *SegmentArena
	store        *Store
	handlers     map[Marker]*HandlerEntry
	interceptors *InterceptorState
	dispatch     *DispatchState

	// consumed holds every ContID ever used by Resume or Transfer, plus
	// those whose dispatch completed. It never shrinks within a run.
	consumed map[ContID]struct{}

	current SegmentID
	mode    Mode
	hasMode bool

	parked  *HostCall
	pending *pendingHost

	capture  []CaptureEvent
	runQueue []*RunnableContinuation

	done    bool
	result  *values.Value
	failure *VMError
}

// New constructs an idle VM with an empty store.
func New() *VM {
	return &VM{
		logger:       zap.NewNop(),
		arena:        NewSegmentArena(),
		store:        NewStore(),
		handlers:     make(map[Marker]*HandlerEntry),
		interceptors: NewInterceptorState(),
		dispatch:     NewDispatchState(),
		consumed:     make(map[ContID]struct{}),
		current:      NoSegment,
	}
}

// SetLogger installs a debug logger. The default is a nop logger.
func (m *VM) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m.logger = logger
}

// Store exposes the VM store for initial state and final inspection.
func (m *VM) Store() *Store {
	return m.store
}

// Arena exposes the segment arena for scheduler integration and tests.
func (m *VM) Arena() *SegmentArena {
	return m.arena
}

// Dispatches exposes the dispatch state for inspection.
func (m *VM) Dispatches() *DispatchState {
	return m.dispatch
}

// CaptureLog returns the capture events recorded so far.
func (m *VM) CaptureLog() []CaptureEvent {
	return m.capture
}

// Consumed reports whether a continuation id has been consumed.
func (m *VM) Consumed(id ContID) bool {
	_, ok := m.consumed[id]
	return ok
}

// CurrentSegment returns the segment the machine is positioned on.
func (m *VM) CurrentSegment() SegmentID {
	return m.current
}

// HandlersInScope returns the handlers visible from the current segment,
// innermost first, as a handler-list value.
func (m *VM) HandlersInScope() *values.Value {
	var out []values.Handler
	if seg := m.arena.Get(m.current); seg != nil {
		for _, marker := range seg.ScopeChain {
			if entry, ok := m.handlers[marker]; ok {
				out = append(out, entry.Handler)
			}
		}
	}
	return values.NewHandlers(out)
}

// StartProgram positions the machine on a fresh root segment and parks the
// StartProgram bridge call. The next Drive returns it.
func (m *VM) StartProgram(program interface{}) {
	m.interceptors.ClearForRun()
	root := NewSegment(MarkerNone, NoSegment, nil)
	m.current = m.arena.Alloc(root)
	m.done = false
	m.result = nil
	m.failure = nil
	m.hasMode = false
	m.park(&HostCall{Kind: CallStartProgram, Program: program},
		&pendingHost{kind: pendingStartProgram})
}

// Drive advances the machine until it completes, errors, or needs the
// host. The host must then execute the carried call and re-enter through
// ResumeHost with the outcome.
func (m *VM) Drive() StepEvent {
	for {
		ev := m.Step()
		if ev.Kind != EventContinue {
			return ev
		}
	}
}

// Step advances the machine by exactly one step.
func (m *VM) Step() StepEvent {
	if m.failure != nil {
		return eventError(m.failure)
	}
	if m.done {
		return eventDone(m.result)
	}
	if m.parked != nil {
		return eventNeedsHost(m.parked)
	}
	if !m.hasMode {
		if len(m.runQueue) > 0 {
			r := m.runQueue[0]
			m.runQueue = m.runQueue[1:]
			m.current = r.SegmentID
			m.setMode(DeliverMode(r.PendingValue))
			return eventContinue()
		}
		return eventError(InternalError("step with no mode and no runnable"))
	}

	mode := m.mode
	m.hasMode = false

	switch mode.Kind {
	case ModeDeliver:
		return m.stepDeliver(mode.Value, nil)
	case ModeThrow:
		return m.stepDeliver(nil, mode.Exc)
	case ModeHandleYield:
		return m.stepHandleYield(mode.Yielded)
	case ModeReturn:
		return m.stepReturn(mode.Value)
	}
	return eventError(InternalError("unknown mode"))
}

// ResumeHost completes the in-flight bridge call with the host's outcome.
// Re-entering without a parked call is an internal error.
func (m *VM) ResumeHost(outcome HostOutcome) *VMError {
	if m.parked == nil || m.pending == nil {
		return InternalError("ResumeHost with no pending call")
	}
	pending := m.pending
	m.parked = nil
	m.pending = nil

	switch pending.kind {
	case pendingStartProgram:
		m.resumeStartProgram(outcome, pending)
	case pendingCallFuncReturn, pendingNativeProgramContinuation, pendingAsyncEscape:
		switch outcome.Kind {
		case OutcomeValue, OutcomeGenReturn:
			m.setMode(DeliverMode(outcome.Value))
		case OutcomeGenError:
			m.setMode(ThrowMode(outcome.Exc))
		default:
			return InternalError("function call outcome cannot yield")
		}
	case pendingStepUserGenerator:
		m.resumeGeneratorStep(outcome)
	case pendingCallHostHandler:
		m.resumeHostHandler(outcome, pending)
	case pendingInterceptorEval:
		m.resumeInterceptorEval(outcome, pending)
	default:
		return InternalError("unknown pending host tag")
	}
	return nil
}

func (m *VM) resumeStartProgram(outcome HostOutcome, pending *pendingHost) {
	switch outcome.Kind {
	case OutcomeValue:
		obj := outcome.Value.ToHost()
		if coro, meta, ok := asCoroutine(obj); ok {
			m.pushCoroutineFrame(coro, meta)
			m.setMode(DeliverMode(values.NewUnit()))
			return
		}
		m.setMode(ReturnMode(outcome.Value))
	case OutcomeGenYield:
		if outcome.Gen != nil {
			frame := NewCoroutineFrame(outcome.Gen, pending.metadata)
			frame.Started = true
			m.segmentPush(frame)
		}
		m.setMode(HandleYieldMode(outcome.Yielded))
	case OutcomeGenReturn:
		m.setMode(ReturnMode(outcome.Value))
	case OutcomeGenError:
		m.setMode(ThrowMode(outcome.Exc))
	}
}

func (m *VM) resumeGeneratorStep(outcome HostOutcome) {
	switch outcome.Kind {
	case OutcomeGenYield:
		m.setMode(HandleYieldMode(outcome.Yielded))
	case OutcomeGenReturn:
		m.popTopFrame()
		m.setMode(DeliverMode(outcome.Value))
	case OutcomeGenError:
		m.popTopFrame()
		m.setMode(ThrowMode(outcome.Exc))
	case OutcomeValue:
		m.setMode(DeliverMode(outcome.Value))
	}
}

func (m *VM) resumeHostHandler(outcome HostOutcome, pending *pendingHost) {
	switch outcome.Kind {
	case OutcomeValue:
		obj := outcome.Value.ToHost()
		if coro, meta, ok := asCoroutine(obj); ok {
			m.pushCoroutineFrame(coro, meta)
			m.setMode(DeliverMode(values.NewUnit()))
			return
		}
		// The clause produced a plain value: the handler returned.
		m.setMode(ReturnMode(outcome.Value))
	case OutcomeGenYield:
		if outcome.Gen != nil {
			frame := NewCoroutineFrame(outcome.Gen, pending.metadata)
			frame.Started = true
			m.segmentPush(frame)
		}
		m.setMode(HandleYieldMode(outcome.Yielded))
	case OutcomeGenReturn:
		m.setMode(ReturnMode(outcome.Value))
	case OutcomeGenError:
		m.setMode(ThrowMode(outcome.Exc))
	}
}

// stepDeliver feeds a value (or throws an exception) into the next frame
// of the current segment. Exactly one of v, exc is non-nil.
func (m *VM) stepDeliver(v *values.Value, exc *Exception) StepEvent {
	seg := m.arena.Get(m.current)
	if seg == nil {
		return m.fail(InvalidSegmentError(fmt.Sprintf("deliver into freed segment %d", m.current)))
	}

	top := seg.TopFrame()
	if top == nil {
		if exc != nil {
			return m.propagateThrow(exc)
		}
		m.setMode(ReturnMode(v))
		return eventContinue()
	}

	switch top.Kind {
	case FrameNativeReturn:
		seg.PopFrame()
		verdict := top.Callback(v, exc, m)
		return m.applyVerdict(verdict)
	case FrameCoroutine:
		call := &HostCall{Gen: top.Coroutine}
		switch {
		case exc != nil:
			call.Kind = CallGenThrow
			call.Exc = exc
		case !top.Started:
			call.Kind = CallGenNext
		default:
			call.Kind = CallGenSend
			call.Value = v
		}
		if !top.Started {
			top.Started = true
			m.emitFrameEntered(top)
		}
		m.park(call, &pendingHost{kind: pendingStepUserGenerator, metadata: top.Metadata})
		return eventNeedsHost(call)
	}
	return m.fail(InternalError("unknown frame kind"))
}

// applyVerdict honors a native return callback's control-flow verdict.
func (m *VM) applyVerdict(verdict ControlFlow) StepEvent {
	switch verdict.Kind {
	case FlowContinue:
		m.setMode(DeliverMode(verdict.Value))
	case FlowYield:
		m.setMode(HandleYieldMode(verdict.Yielded))
	case FlowDone:
		m.setMode(ReturnMode(verdict.Value))
	case FlowThrow:
		m.setMode(ThrowMode(verdict.Exc))
	case FlowError:
		return m.fail(verdict.Err)
	}
	return eventContinue()
}

// stepReturn completes the current segment with v and routes the result.
func (m *VM) stepReturn(v *values.Value) StepEvent {
	seg := m.arena.Get(m.current)
	if seg == nil {
		return m.fail(InvalidSegmentError(fmt.Sprintf("return from freed segment %d", m.current)))
	}

	if seg.IsPrompt() {
		// A value arriving at the prompt with an uncompleted dispatch is
		// the handler clause's return; it becomes the WithHandler result.
		if ctx := m.uncompletedDispatchForPrompt(m.current); ctx != nil {
			m.completeDispatch(ctx, &HandlerAction{Kind: ActionReturned, Repr: v.String()})
		}
		delete(m.handlers, seg.HandledMarker)
	}

	caller := seg.Caller
	m.freeSegment(m.current)
	if caller == NoSegment {
		m.done = true
		m.result = v
		m.current = NoSegment
		return eventDone(v)
	}
	m.current = caller
	m.setMode(DeliverMode(v))
	return eventContinue()
}

// propagateThrow routes an exception out of an emptied segment.
func (m *VM) propagateThrow(exc *Exception) StepEvent {
	seg := m.arena.Get(m.current)
	if seg == nil {
		return m.fail(InvalidSegmentError("throw through freed segment"))
	}

	if seg.IsPrompt() {
		if ctx := m.uncompletedDispatchForPrompt(m.current); ctx != nil {
			ctx.OriginalException = exc
			m.completeDispatch(ctx, &HandlerAction{Kind: ActionThrew, Repr: exc.String()})
		}
		delete(m.handlers, seg.HandledMarker)
	}

	caller := seg.Caller
	m.freeSegment(m.current)
	if caller == NoSegment {
		trace := AssembleTrace(m.capture)
		chain := AssembleActiveChain(m.capture)
		return m.fail(UncaughtExceptionError(exc, trace, chain))
	}
	m.current = caller
	m.setMode(ThrowMode(exc))
	return eventContinue()
}

// stepHandleYield interprets a request the top frame yielded.
func (m *VM) stepHandleYield(y *Yielded) StepEvent {
	switch {
	case y == nil:
		return m.fail(InternalError("nil yield"))
	case y.Program != nil:
		return m.startSubProgram(y.Program)
	case y.Effect != nil:
		return m.dispatchEffect(y.Effect, MarkerNone)
	case y.Primitive == nil:
		return m.fail(TypeErrorf("yielded value is neither effect, primitive, nor program"))
	}

	p := y.Primitive
	switch p.Kind {
	case PrimPure:
		m.setMode(DeliverMode(p.Value))
		return eventContinue()
	case PrimGetContinuation:
		return m.captureContinuation()
	case PrimResume:
		return m.consumeContinuation(p.K, p.Value, false)
	case PrimTransfer:
		return m.consumeContinuation(p.K, p.Value, true)
	case PrimWithHandler:
		return m.installHandler(p)
	case PrimWithIntercept:
		return m.installInterceptor(p)
	case PrimDelegate:
		return m.delegate()
	}
	return m.fail(InternalError("unknown control primitive"))
}

// startSubProgram pushes a yielded sub-program on the current segment; its
// return value becomes the result of the yield.
func (m *VM) startSubProgram(program interface{}) StepEvent {
	if pe, ok := program.(ProgramExpr); ok {
		m.setMode(HandleYieldMode(pe.ProgramExpr()))
		return eventContinue()
	}
	coro, meta, ok := asCoroutine(program)
	if !ok {
		return m.fail(TypeErrorf("yielded program %T is not a coroutine", program))
	}
	m.pushCoroutineFrame(coro, meta)
	m.setMode(DeliverMode(values.NewUnit()))
	return eventContinue()
}

// captureContinuation mints a continuation over the current segment and
// delivers it as the value of the yield. One-shot marking happens only
// when the continuation is consumed.
func (m *VM) captureContinuation() StepEvent {
	var k *Continuation
	if id, ok := m.interceptors.CurrentActiveHandlerDispatchID(m.dispatch, m.current, m.arena); ok {
		ctx := m.dispatch.FindByDispatchID(id)
		k = NewDispatchContinuation(m.current, id)
		k.Parent = ctx.KUser
		ctx.KUser = k
	} else {
		k = NewContinuation(m.current)
	}
	m.setMode(DeliverMode(values.NewContinuation(k)))
	return eventContinue()
}

// consumeContinuation implements Resume and Transfer: one-shot validation,
// dispatch completion, and segment-graph splicing.
func (m *VM) consumeContinuation(k *Continuation, v *values.Value, isTransfer bool) StepEvent {
	if k == nil {
		return m.fail(TypeErrorf("resume of nil continuation"))
	}
	if _, used := m.consumed[k.ID]; used {
		return m.fail(OneShotViolationError(k.ID))
	}
	m.consumed[k.ID] = struct{}{}

	target := m.arena.Get(k.SegmentID)
	if target == nil {
		return m.fail(InvalidSegmentError(fmt.Sprintf("continuation %d targets freed segment %d", k.ID, k.SegmentID)))
	}

	m.dispatch.CheckDispatchCompletion(k)

	if k.HasDispatch {
		if ctx := m.dispatch.FindByDispatchID(k.DispatchID); ctx != nil && ctx.Completed {
			action := ActionResumed
			evKind := EvResumed
			if isTransfer {
				action = ActionTransferred
				evKind = EvTransferred
			}
			m.emitHandlerCompleted(ctx, &HandlerAction{Kind: action, Repr: v.String()})
			m.emit(CaptureEvent{
				Kind:        evKind,
				DispatchID:  ctx.DispatchID,
				HandlerName: m.handlerNameAt(ctx, ctx.HandlerIdx),
				ValueRepr:   v.String(),
			})
			m.spliceForConsumption(ctx, isTransfer)
			m.dispatch.LazyPopCompleted()
		}
	}

	m.current = k.SegmentID
	m.setMode(DeliverMode(v))
	return eventContinue()
}

// spliceForConsumption rewires the segment graph for a completed dispatch.
//
// Resume is a call: the prompt's result must flow back into the clause's
// rest, so the clause segment takes the prompt's place in the caller chain.
// Transfer relinquishes: the clause rest is discarded and the prompt keeps
// its original caller.
func (m *VM) spliceForConsumption(ctx *DispatchContext, isTransfer bool) {
	clauseID := m.current
	promptSeg := m.arena.Get(ctx.PromptSegID)
	clauseSeg := m.arena.Get(clauseID)
	if clauseSeg == nil || promptSeg == nil || clauseID == ctx.PromptSegID {
		return
	}
	if clauseID != ctx.ActiveHandlerSegID {
		// The consumption came from outside the clause (for example a
		// scheduler re-entry); leave the chain alone.
		return
	}
	if isTransfer {
		m.freeSegment(clauseID)
		return
	}
	oldCaller := promptSeg.Caller
	promptSeg.Caller = clauseID
	clauseSeg.Caller = oldCaller
}

// dispatchEffect resolves the interceptor chain and then the handler chain
// for an effect yielded by the current segment. afterInterceptor skips
// interceptors up to and including that marker, so a transformed request
// never re-enters the interceptor that produced it.
func (m *VM) dispatchEffect(effect *Effect, afterInterceptor Marker) StepEvent {
	seg := m.arena.Get(m.current)
	if seg == nil {
		return m.fail(InvalidSegmentError("effect yield from freed segment"))
	}

	if ev, intercepted := m.consultInterceptors(seg, effect, afterInterceptor); intercepted {
		return ev
	}
	return m.resolveDispatch(seg, effect)
}

// consultInterceptors picks the first visible, unskipped interceptor for
// the effect and parks its evaluation.
func (m *VM) consultInterceptors(seg *Segment, effect *Effect, after Marker) (StepEvent, bool) {
	chain := m.interceptors.CurrentChain(seg.ScopeChain)
	skipping := after != MarkerNone
	for _, marker := range chain {
		if skipping {
			if marker == after {
				skipping = false
			}
			continue
		}
		if IsSkipped(seg, marker) {
			continue
		}
		if !m.interceptors.VisibleToActiveHandler(marker, m.dispatch, m.current, m.arena, m.handlers) {
			continue
		}
		entry := m.interceptors.Entry(marker)
		if entry == nil {
			continue
		}
		PushSkip(seg, marker)
		seg.InterceptorEvalDepth++
		call := &HostCall{
			Kind: CallFunc,
			Func: entry.Interceptor,
			Args: []*values.Value{values.NewHost(effect)},
		}
		m.park(call, &pendingHost{
			kind:              pendingInterceptorEval,
			interceptorMarker: marker,
			originalEffect:    effect,
		})
		return eventNeedsHost(call), true
	}
	return StepEvent{}, false
}

// resumeInterceptorEval routes an interceptor's produced object.
func (m *VM) resumeInterceptorEval(outcome HostOutcome, pending *pendingHost) {
	seg := m.arena.Get(m.current)
	marker := pending.interceptorMarker

	if outcome.Kind == OutcomeGenError {
		if seg != nil {
			PopSkip(seg, marker)
			seg.InterceptorEvalDepth--
		}
		m.setMode(ThrowMode(outcome.Exc))
		return
	}
	if outcome.Kind != OutcomeValue {
		m.failure = InternalError("interceptor outcome must be a value")
		return
	}

	obj := outcome.Value.ToHost()
	isDirect, isProgram := classifyResultShape(obj)

	switch {
	case isDirect:
		if seg != nil {
			PopSkip(seg, marker)
			seg.InterceptorEvalDepth--
		}
		y := yieldedFromObject(obj)
		if y == nil {
			m.failure = TypeErrorf("interceptor produced unusable request %T", obj)
			return
		}
		if y.Effect != nil {
			// Re-dispatch the transformed effect past this interceptor so
			// it never re-enters the one that produced it.
			m.dispatchEffect(y.Effect, marker)
			return
		}
		m.setMode(HandleYieldMode(y))
	case isProgram:
		// Evaluate the replacement program under the skip guard; the
		// guard pops when the program delivers its result.
		coro, meta, ok := asCoroutine(obj)
		if !ok {
			if pe, isPE := obj.(ProgramExpr); isPE {
				m.setMode(HandleYieldMode(pe.ProgramExpr()))
				return
			}
			m.failure = TypeErrorf("interceptor produced unusable program %T", obj)
			return
		}
		guard := NewNativeReturnFrame(func(v *values.Value, exc *Exception, vm *VM) ControlFlow {
			if cur := vm.arena.Get(vm.current); cur != nil {
				PopSkip(cur, marker)
				cur.InterceptorEvalDepth--
			}
			if exc != nil {
				return FlowThrowWith(exc)
			}
			return FlowContinueWith(v)
		})
		m.segmentPush(guard)
		m.pushCoroutineFrame(coro, meta)
		m.setMode(DeliverMode(values.NewUnit()))
	default:
		// A plain value short-circuits the dispatch entirely.
		if seg != nil {
			PopSkip(seg, marker)
			seg.InterceptorEvalDepth--
		}
		m.setMode(DeliverMode(outcome.Value))
	}
}

// resolveDispatch builds the handler chain, pushes the dispatch context,
// and invokes the first candidate handler.
func (m *VM) resolveDispatch(seg *Segment, effect *Effect) StepEvent {
	var chain []Marker
	anyInScope := false
	for _, marker := range seg.ScopeChain {
		entry, ok := m.handlers[marker]
		if !ok {
			continue
		}
		anyInScope = true
		if handlerMatches(entry.Handler, effect) {
			chain = append(chain, marker)
		}
	}

	dispatchID := FreshDispatchID()
	kUser := NewDispatchContinuation(m.current, dispatchID)

	if len(chain) == 0 {
		m.emit(CaptureEvent{
			Kind:         EvDispatchStarted,
			DispatchID:   dispatchID,
			EffectRepr:   effect.String(),
			CreationSite: effect.CreationSite,
			HandlerName:  "none",
		})
		if !anyInScope {
			return m.fail(UnhandledEffectError(effect))
		}
		return m.fail(NoMatchingHandlerError(effect))
	}

	first := m.handlers[chain[0]]
	ctx := &DispatchContext{
		DispatchID:   dispatchID,
		Effect:       effect,
		HandlerChain: chain,
		HandlerIdx:   0,
		KUser:        kUser,
		PromptSegID:  first.PromptSegID,
	}
	m.dispatch.Push(ctx)

	snapshot := make([]HandlerSnapshot, len(chain))
	for i, marker := range chain {
		h := m.handlers[marker].Handler
		snapshot[i] = HandlerSnapshot{
			HandlerName: h.HandlerLabel(),
			HandlerKind: traceKindOf(h),
		}
		if host, ok := h.(*HostHandler); ok {
			snapshot[i].Source = host.Source
		}
	}
	m.emit(CaptureEvent{
		Kind:          EvDispatchStarted,
		DispatchID:    dispatchID,
		EffectRepr:    effect.String(),
		CreationSite:  effect.CreationSite,
		HandlerName:   snapshot[0].HandlerName,
		HandlerKind:   snapshot[0].HandlerKind,
		HandlerSource: snapshot[0].Source,
		ChainSnapshot: snapshot,
	})

	m.logger.Debug("dispatch started",
		zap.Uint64("dispatch_id", uint64(dispatchID)),
		zap.String("effect", effect.String()),
		zap.Int("chain_len", len(chain)))

	return m.invokeHandler(ctx)
}

// invokeHandler runs the handler at ctx.HandlerIdx in a fresh clause
// segment whose caller is that handler's prompt boundary.
func (m *VM) invokeHandler(ctx *DispatchContext) StepEvent {
	marker := ctx.HandlerChain[ctx.HandlerIdx]
	entry, ok := m.handlers[marker]
	if !ok {
		return m.fail(HandlerNotFoundError(marker))
	}
	ctx.PromptSegID = entry.PromptSegID

	promptSeg := m.arena.Get(entry.PromptSegID)
	if promptSeg == nil {
		return m.fail(InvalidSegmentError(fmt.Sprintf("prompt segment %d missing for marker %d", entry.PromptSegID, marker)))
	}

	clause := NewSegment(marker, entry.PromptSegID, append([]Marker(nil), promptSeg.ScopeChain...))
	clause.InheritGuards(promptSeg)
	clauseID := m.arena.Alloc(clause)
	ctx.ActiveHandlerSegID = clauseID
	m.current = clauseID

	switch h := entry.Handler.(type) {
	case *HostHandler:
		call := &HostCall{
			Kind:         CallHandler,
			Handler:      h,
			Effect:       ctx.Effect,
			Continuation: ctx.KUser,
		}
		m.park(call, &pendingHost{kind: pendingCallHostHandler, kUser: ctx.KUser, effect: ctx.Effect})
		return eventNeedsHost(call)
	case *StdlibHandler:
		return m.runStdlibHandler(h, ctx)
	case *NativeHandler:
		verdict := h.Fn(ctx.Effect, ctx.KUser, m)
		switch verdict.Kind {
		case FlowContinue:
			return m.tailResume(ctx, verdict.Value)
		case FlowDone:
			m.setMode(ReturnMode(verdict.Value))
			return eventContinue()
		case FlowThrow:
			m.setMode(ThrowMode(verdict.Exc))
			return eventContinue()
		case FlowError:
			return m.fail(verdict.Err)
		case FlowYield:
			m.setMode(HandleYieldMode(verdict.Yielded))
			return eventContinue()
		}
	}
	return m.fail(InternalError("unknown handler kind"))
}

// tailResume resumes the user continuation from a clause with no rest:
// the dispatch completes, the clause segment is discarded, and the prompt
// keeps its original caller.
func (m *VM) tailResume(ctx *DispatchContext, v *values.Value) StepEvent {
	if _, used := m.consumed[ctx.KUser.ID]; used {
		return m.fail(OneShotViolationError(ctx.KUser.ID))
	}
	m.consumed[ctx.KUser.ID] = struct{}{}
	ctx.Completed = true

	m.emitHandlerCompleted(ctx, &HandlerAction{Kind: ActionResumed, Repr: v.String()})
	m.emit(CaptureEvent{
		Kind:        EvResumed,
		DispatchID:  ctx.DispatchID,
		HandlerName: m.handlerNameAt(ctx, ctx.HandlerIdx),
		ValueRepr:   v.String(),
	})

	clauseID := ctx.ActiveHandlerSegID
	target := ctx.KUser.SegmentID
	if m.arena.Get(target) == nil {
		return m.fail(InvalidSegmentError(fmt.Sprintf("tail resume targets freed segment %d", target)))
	}
	if clauseID != target {
		m.freeSegment(clauseID)
	}
	m.dispatch.LazyPopCompleted()

	m.current = target
	m.setMode(DeliverMode(v))
	return eventContinue()
}

// installHandler implements WithHandler: mint the marker, convert the
// outside segment into the caller of a new prompt boundary, and run the
// body on a fresh segment under the extended scope chain.
func (m *VM) installHandler(p *ControlPrimitive) StepEvent {
	plan, err := PrepareWithHandler(p.Handler, p.Identity, m.current)
	if err != nil {
		return m.fail(err)
	}
	outside := m.arena.Get(plan.OutsideSegID)
	if outside == nil {
		return m.fail(InvalidSegmentError("outside segment missing for WithHandler"))
	}

	promptScope := append([]Marker(nil), outside.ScopeChain...)
	prompt := NewPromptSegment(plan.HandlerMarker, plan.OutsideSegID, promptScope, plan.HandlerMarker)
	prompt.InheritGuards(outside)
	promptID := m.arena.Alloc(prompt)

	bodyScope := make([]Marker, 0, len(outside.ScopeChain)+1)
	bodyScope = append(bodyScope, plan.HandlerMarker)
	bodyScope = append(bodyScope, outside.ScopeChain...)
	body := NewSegment(plan.HandlerMarker, promptID, bodyScope)
	body.InheritGuards(outside)
	bodyID := m.arena.Alloc(body)

	entry := &HandlerEntry{Handler: plan.Handler, PromptSegID: promptID}
	if top := m.dispatch.Top(); top != nil && !top.Completed {
		entry.ParentDispatchID = top.DispatchID
		entry.HasParentDispatch = true
	}
	m.handlers[plan.HandlerMarker] = entry

	coro, meta, ok := asCoroutine(p.Body)
	if !ok {
		if pe, isPE := p.Body.(ProgramExpr); isPE {
			m.current = bodyID
			m.setMode(HandleYieldMode(pe.ProgramExpr()))
			return eventContinue()
		}
		return m.fail(TypeErrorf("WithHandler body %T is not a program", p.Body))
	}
	m.current = bodyID
	m.pushCoroutineFrame(coro, meta)
	m.setMode(DeliverMode(values.NewUnit()))
	return eventContinue()
}

// installInterceptor implements WithIntercept. Installing an interceptor
// inside a handler clause that is itself delegating is undefined; the VM
// refuses rather than guess.
func (m *VM) installInterceptor(p *ControlPrimitive) StepEvent {
	if top := m.dispatch.Top(); top != nil && !top.Completed &&
		top.ActiveHandlerSegID == m.current && top.HandlerIdx > 0 {
		return m.fail(InternalError("interceptor installed during delegation"))
	}

	_, bodySeg, err := m.interceptors.PrepareWithIntercept(p.Interceptor, p.Metadata, m.current, m.arena)
	if err != nil {
		return m.fail(err)
	}
	bodyID := m.arena.Alloc(bodySeg)

	coro, meta, ok := asCoroutine(p.Body)
	if !ok {
		if pe, isPE := p.Body.(ProgramExpr); isPE {
			m.current = bodyID
			m.setMode(HandleYieldMode(pe.ProgramExpr()))
			return eventContinue()
		}
		return m.fail(TypeErrorf("WithIntercept body %T is not a program", p.Body))
	}
	m.current = bodyID
	m.pushCoroutineFrame(coro, meta)
	m.setMode(DeliverMode(values.NewUnit()))
	return eventContinue()
}

// delegate advances the active dispatch to the next handler in the chain,
// keeping the same effect and user continuation.
func (m *VM) delegate() StepEvent {
	var ctx *DispatchContext
	for i := m.dispatch.Depth() - 1; i >= 0; i-- {
		if c := m.dispatch.Get(i); !c.Completed {
			ctx = c
			break
		}
	}
	if ctx == nil {
		return m.fail(InternalError("Delegate with no active dispatch"))
	}
	if ctx.ActiveHandlerSegID != m.current {
		return m.fail(InternalError("Delegate outside the active handler clause"))
	}

	fromIdx := ctx.HandlerIdx
	fromName := m.handlerNameAt(ctx, fromIdx)
	ctx.HandlerIdx++
	if ctx.HandlerIdx >= len(ctx.HandlerChain) {
		return m.fail(DelegateNoOuterHandlerError(ctx.Effect))
	}

	m.freeSegment(m.current)

	toName := m.handlerNameAt(ctx, ctx.HandlerIdx)
	toEntry := m.handlers[ctx.HandlerChain[ctx.HandlerIdx]]
	var toKind TraceHandlerKind
	if toEntry != nil {
		toKind = traceKindOf(toEntry.Handler)
	}
	m.emit(CaptureEvent{
		Kind:             EvDelegated,
		DispatchID:       ctx.DispatchID,
		FromHandlerName:  fromName,
		FromHandlerIndex: fromIdx,
		ToHandlerName:    toName,
		ToHandlerIndex:   ctx.HandlerIdx,
		HandlerKind:      toKind,
	})

	return m.invokeHandler(ctx)
}

// uncompletedDispatchForPrompt finds the innermost uncompleted dispatch
// delimited by the prompt segment.
func (m *VM) uncompletedDispatchForPrompt(promptID SegmentID) *DispatchContext {
	for i := m.dispatch.Depth() - 1; i >= 0; i-- {
		ctx := m.dispatch.Get(i)
		if !ctx.Completed && ctx.PromptSegID == promptID {
			return ctx
		}
	}
	return nil
}

// completeDispatch marks the context completed with the terminal action
// and pops trailing completed contexts.
func (m *VM) completeDispatch(ctx *DispatchContext, action *HandlerAction) {
	ctx.Completed = true
	m.consumed[ctx.KUser.ID] = struct{}{}
	m.emitHandlerCompleted(ctx, action)
	m.dispatch.LazyPopCompleted()
}

// freeSegment reparents any live children, then frees the slot.
func (m *VM) freeSegment(id SegmentID) {
	seg := m.arena.Get(id)
	if seg == nil {
		return
	}
	m.arena.ReparentChildren(id, seg.Caller)
	m.arena.Free(id)
}

func (m *VM) segmentPush(frame *Frame) {
	if seg := m.arena.Get(m.current); seg != nil {
		seg.PushFrame(frame)
	}
}

func (m *VM) pushCoroutineFrame(coro Coroutine, meta *CallMetadata) {
	m.segmentPush(NewCoroutineFrame(coro, meta))
}

func (m *VM) popTopFrame() {
	seg := m.arena.Get(m.current)
	if seg == nil {
		return
	}
	if frame := seg.PopFrame(); frame != nil && frame.IsCoroutine() {
		m.emitFrameExited(frame)
	}
}

func (m *VM) setMode(mode Mode) {
	m.mode = mode
	m.hasMode = true
}

func (m *VM) park(call *HostCall, pending *pendingHost) {
	m.parked = call
	m.pending = pending
}

func (m *VM) fail(err *VMError) StepEvent {
	m.failure = err
	m.logger.Debug("vm error", zap.Error(err))
	return eventError(err)
}

func (m *VM) emit(ev CaptureEvent) {
	m.capture = append(m.capture, ev)
}

func (m *VM) emitFrameEntered(frame *Frame) {
	ev := CaptureEvent{Kind: EvFrameEntered, FrameID: frame.FrameID}
	if frame.Metadata != nil {
		ev.FunctionName = frame.Metadata.FunctionName
		loc := StreamLocation{
			Function: frame.Metadata.FunctionName,
			File:     frame.Metadata.SourceFile,
			Line:     frame.Metadata.SourceLine,
		}
		if frame.Metadata.Resolve != nil {
			if resolved, ok := frame.Metadata.Resolve(); ok {
				loc = resolved
			}
		}
		ev.Source = &loc
	}
	m.emit(ev)
}

func (m *VM) emitFrameExited(frame *Frame) {
	ev := CaptureEvent{Kind: EvFrameExited, FrameID: frame.FrameID}
	if frame.Metadata != nil {
		ev.FunctionName = frame.Metadata.FunctionName
	}
	m.emit(ev)
}

func (m *VM) emitHandlerCompleted(ctx *DispatchContext, action *HandlerAction) {
	m.emit(CaptureEvent{
		Kind:         EvHandlerCompleted,
		DispatchID:   ctx.DispatchID,
		HandlerName:  m.handlerNameAt(ctx, ctx.HandlerIdx),
		HandlerIndex: ctx.HandlerIdx,
		Action:       action,
	})
}

func (m *VM) handlerNameAt(ctx *DispatchContext, idx int) string {
	if idx >= len(ctx.HandlerChain) {
		return "none"
	}
	entry, ok := m.handlers[ctx.HandlerChain[idx]]
	if !ok {
		return "none"
	}
	return entry.Handler.HandlerLabel()
}

// yieldedFromObject lifts a host object into a Yielded request.
func yieldedFromObject(obj interface{}) *Yielded {
	switch v := obj.(type) {
	case *Yielded:
		return v
	case *Effect:
		return YieldEffect(v)
	case *ControlPrimitive:
		return YieldPrimitive(v)
	default:
		return nil
	}
}

// asCoroutine recognizes the structural classes the host supplies at the
// boundary: a bare Coroutine, or a GeneratorSource wrapper carrying origin
// metadata.
func asCoroutine(obj interface{}) (Coroutine, *CallMetadata, bool) {
	switch v := obj.(type) {
	case GeneratorSource:
		origin := v.Origin()
		return v.Coroutine(), &CallMetadata{
			FunctionName: origin.Function,
			SourceFile:   origin.File,
			SourceLine:   origin.Line,
			Resolve:      v.ResolveFrame,
		}, true
	case Coroutine:
		return v, nil, true
	default:
		return nil, nil, false
	}
}

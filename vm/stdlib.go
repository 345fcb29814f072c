package vm

import "github.com/delimvm/delim/values"

// NewStateHandler returns the built-in state handler (Get/Put/Modify).
func NewStateHandler() *StdlibHandler {
	return &StdlibHandler{Kind: StdlibState}
}

// NewReaderHandler returns the built-in reader handler (Ask/Local).
func NewReaderHandler() *StdlibHandler {
	return &StdlibHandler{Kind: StdlibReader}
}

// NewWriterHandler returns the built-in writer handler (Tell).
func NewWriterHandler() *StdlibHandler {
	return &StdlibHandler{Kind: StdlibWriter}
}

// runStdlibHandler executes a built-in handler clause directly against the
// store and tail-resumes the user continuation. No host round-trip occurs.
func (m *VM) runStdlibHandler(h *StdlibHandler, ctx *DispatchContext) StepEvent {
	eff := ctx.Effect.Builtin
	if eff == nil {
		return m.fail(InternalError("stdlib handler invoked for host effect"))
	}

	switch eff.Kind {
	case EffectGet:
		v, ok := m.store.Get(eff.Key)
		if !ok {
			v = values.NewNull()
		}
		return m.tailResume(ctx, v)

	case EffectPut:
		m.store.Put(eff.Key, eff.Value)
		return m.tailResume(ctx, values.NewUnit())

	case EffectModify:
		old, err := m.store.Modify(eff.Key, eff.Fn)
		if err != nil {
			if vmErr, ok := err.(*VMError); ok {
				return m.fail(vmErr)
			}
			return m.fail(InternalError(err.Error()))
		}
		return m.tailResume(ctx, old)

	case EffectAsk:
		v, ok := m.store.Ask(eff.EnvKey)
		if !ok {
			return m.throwIntoUser(ctx, RuntimeException("unbound environment key: "+eff.EnvKey.Repr()))
		}
		return m.tailResume(ctx, v)

	case EffectLocal:
		return m.runLocalScope(ctx, eff)

	case EffectTell:
		m.store.Tell(eff.Value)
		return m.tailResume(ctx, values.NewUnit())
	}
	return m.fail(InternalError("unknown builtin effect"))
}

// runLocalScope evaluates the Local body on the user's segment under the
// bindings, restoring the environment exactly when the body delivers. The
// user continuation resumes with the body's result.
func (m *VM) runLocalScope(ctx *DispatchContext, eff *BuiltinEffect) StepEvent {
	coro, meta, ok := asCoroutine(eff.Body)
	if !ok {
		return m.fail(TypeErrorf("Local body %T is not a program", eff.Body))
	}

	snap := m.store.PushLocalBindings(eff.Bindings)
	restore := NewNativeReturnFrame(func(v *values.Value, exc *Exception, vm *VM) ControlFlow {
		vm.store.PopLocalBindings(snap)
		if exc != nil {
			return FlowThrowWith(exc)
		}
		return FlowContinueWith(v)
	})

	if _, used := m.consumed[ctx.KUser.ID]; used {
		return m.fail(OneShotViolationError(ctx.KUser.ID))
	}
	m.consumed[ctx.KUser.ID] = struct{}{}
	ctx.Completed = true
	m.emitHandlerCompleted(ctx, &HandlerAction{Kind: ActionResumed, Repr: "<local>"})

	target := ctx.KUser.SegmentID
	userSeg := m.arena.Get(target)
	if userSeg == nil {
		return m.fail(InvalidSegmentError("Local resume targets freed segment"))
	}
	if ctx.ActiveHandlerSegID != target {
		m.freeSegment(ctx.ActiveHandlerSegID)
	}
	m.dispatch.LazyPopCompleted()

	m.current = target
	userSeg.PushFrame(restore)
	userSeg.PushFrame(NewCoroutineFrame(coro, meta))
	m.setMode(DeliverMode(values.NewUnit()))
	return eventContinue()
}

// throwIntoUser consumes the user continuation exceptionally.
func (m *VM) throwIntoUser(ctx *DispatchContext, exc *Exception) StepEvent {
	if _, used := m.consumed[ctx.KUser.ID]; used {
		return m.fail(OneShotViolationError(ctx.KUser.ID))
	}
	m.consumed[ctx.KUser.ID] = struct{}{}
	ctx.Completed = true
	ctx.OriginalException = exc
	m.emitHandlerCompleted(ctx, &HandlerAction{Kind: ActionThrew, Repr: exc.String()})

	target := ctx.KUser.SegmentID
	if m.arena.Get(target) == nil {
		return m.fail(InvalidSegmentError("throw targets freed segment"))
	}
	if ctx.ActiveHandlerSegID != target {
		m.freeSegment(ctx.ActiveHandlerSegID)
	}
	m.dispatch.LazyPopCompleted()

	m.current = target
	m.setMode(ThrowMode(exc))
	return eventContinue()
}

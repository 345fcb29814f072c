package vm

// TraceEntryKind discriminates assembled trace entries.
type TraceEntryKind byte

const (
	TraceFrame TraceEntryKind = iota
	TraceDispatch
	TraceResumePoint
)

// DelegationHop records one delegation hop for a dispatch.
type DelegationHop struct {
	HandlerName string
	HandlerKind TraceHandlerKind
	Source      *StreamLocation
}

// DispatchOutcome is the completion status of a dispatch in trace output.
type DispatchOutcome byte

const (
	DispatchActive DispatchOutcome = iota
	DispatchResumed
	DispatchTransferred
	DispatchReturned
	DispatchThrew
)

func (o DispatchOutcome) String() string {
	switch o {
	case DispatchActive:
		return "active"
	case DispatchResumed:
		return "resumed"
	case DispatchTransferred:
		return "transferred"
	case DispatchReturned:
		return "returned"
	case DispatchThrew:
		return "threw"
	}
	return "unknown"
}

// TraceEntry is one assembled VM-level trace record.
type TraceEntry struct {
	Kind TraceEntryKind

	// Frame
	FrameID      uint64
	FunctionName string
	Source       *StreamLocation
	ArgsRepr     string

	// Dispatch
	DispatchID      DispatchID
	EffectRepr      string
	HandlerName     string
	HandlerKind     TraceHandlerKind
	HandlerSource   *StreamLocation
	DelegationChain []DelegationHop
	Outcome         DispatchOutcome
	ValueRepr       string
	ExceptionRepr   string

	// ResumePoint
	ResumedFunction string
}

// ActiveChain is one per-effect row with handler status markers, assembled
// from the capture log for uncaught-exception reports.
type ActiveChain struct {
	EffectRepr   string
	CreationSite *StreamLocation
	HandlerStack []HandlerChainRow
	Outcome      DispatchOutcome
	ResultRepr   string
}

// AssembleTrace turns the capture event sequence into TraceEntry records.
// Frames still open become Frame entries; each DispatchStarted becomes a
// Dispatch entry folded with its Delegated and HandlerCompleted events;
// Resumed/Transferred events become ResumePoint entries.
func AssembleTrace(events []CaptureEvent) []TraceEntry {
	var entries []TraceEntry
	openFrames := make(map[uint64]int)
	dispatchEntries := make(map[DispatchID]int)

	for _, ev := range events {
		switch ev.Kind {
		case EvFrameEntered:
			entries = append(entries, TraceEntry{
				Kind:         TraceFrame,
				FrameID:      ev.FrameID,
				FunctionName: ev.FunctionName,
				Source:       ev.Source,
				ArgsRepr:     ev.ArgsRepr,
			})
			openFrames[ev.FrameID] = len(entries) - 1

		case EvFrameExited:
			delete(openFrames, ev.FrameID)

		case EvDispatchStarted:
			entries = append(entries, TraceEntry{
				Kind:          TraceDispatch,
				DispatchID:    ev.DispatchID,
				EffectRepr:    ev.EffectRepr,
				HandlerName:   ev.HandlerName,
				HandlerKind:   ev.HandlerKind,
				HandlerSource: ev.HandlerSource,
				Outcome:       DispatchActive,
			})
			dispatchEntries[ev.DispatchID] = len(entries) - 1

		case EvDelegated:
			if idx, ok := dispatchEntries[ev.DispatchID]; ok {
				entries[idx].DelegationChain = append(entries[idx].DelegationChain, DelegationHop{
					HandlerName: ev.ToHandlerName,
					HandlerKind: ev.HandlerKind,
					Source:      ev.HandlerSource,
				})
				entries[idx].HandlerName = ev.ToHandlerName
			}

		case EvHandlerCompleted:
			idx, ok := dispatchEntries[ev.DispatchID]
			if !ok || ev.Action == nil {
				continue
			}
			switch ev.Action.Kind {
			case ActionResumed:
				entries[idx].Outcome = DispatchResumed
				entries[idx].ValueRepr = ev.Action.Repr
			case ActionTransferred:
				entries[idx].Outcome = DispatchTransferred
				entries[idx].ValueRepr = ev.Action.Repr
			case ActionReturned:
				entries[idx].Outcome = DispatchReturned
				entries[idx].ValueRepr = ev.Action.Repr
			case ActionThrew:
				entries[idx].Outcome = DispatchThrew
				entries[idx].ExceptionRepr = ev.Action.Repr
			}

		case EvResumed, EvTransferred:
			entries = append(entries, TraceEntry{
				Kind:            TraceResumePoint,
				DispatchID:      ev.DispatchID,
				HandlerName:     ev.HandlerName,
				ResumedFunction: ev.FunctionName,
				Source:          ev.Source,
				ValueRepr:       ev.ValueRepr,
			})
		}
	}
	return entries
}

// AssembleActiveChain produces the per-effect rows with handler status
// markers for each dispatch observed in the capture log.
func AssembleActiveChain(events []CaptureEvent) []ActiveChain {
	var rows []ActiveChain
	rowIndex := make(map[DispatchID]int)

	for _, ev := range events {
		switch ev.Kind {
		case EvDispatchStarted:
			stack := make([]HandlerChainRow, len(ev.ChainSnapshot))
			for i, snap := range ev.ChainSnapshot {
				status := StatusPending
				if i == 0 {
					status = StatusActive
				}
				stack[i] = HandlerChainRow{
					HandlerName: snap.HandlerName,
					HandlerKind: snap.HandlerKind,
					Source:      snap.Source,
					Status:      status,
				}
			}
			rows = append(rows, ActiveChain{
				EffectRepr:   ev.EffectRepr,
				CreationSite: ev.CreationSite,
				HandlerStack: stack,
				Outcome:      DispatchActive,
			})
			rowIndex[ev.DispatchID] = len(rows) - 1

		case EvDelegated:
			idx, ok := rowIndex[ev.DispatchID]
			if !ok {
				continue
			}
			stack := rows[idx].HandlerStack
			if ev.FromHandlerIndex < len(stack) {
				stack[ev.FromHandlerIndex].Status = StatusDelegated
			}
			if ev.ToHandlerIndex < len(stack) {
				stack[ev.ToHandlerIndex].Status = StatusActive
			}

		case EvHandlerCompleted:
			idx, ok := rowIndex[ev.DispatchID]
			if !ok || ev.Action == nil {
				continue
			}
			row := &rows[idx]
			var status HandlerStatus
			switch ev.Action.Kind {
			case ActionResumed:
				status = StatusResumed
				row.Outcome = DispatchResumed
			case ActionTransferred:
				status = StatusTransferred
				row.Outcome = DispatchTransferred
			case ActionReturned:
				status = StatusReturned
				row.Outcome = DispatchReturned
			case ActionThrew:
				status = StatusThrew
				row.Outcome = DispatchThrew
			}
			if ev.HandlerIndex < len(row.HandlerStack) {
				row.HandlerStack[ev.HandlerIndex].Status = status
			}
			row.ResultRepr = ev.Action.Repr
		}
	}
	return rows
}

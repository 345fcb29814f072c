package vm

import "sync/atomic"

// Marker identifies a handler installation point (prompt) in the
// continuation stack. Each WithHandler mints a fresh Marker.
type Marker uint64

// MarkerNone is the reserved placeholder meaning "no delimiter yet".
const MarkerNone Marker = 0

// SegmentID is an arena index referencing a live segment slot.
type SegmentID uint32

// NoSegment is the sentinel for an absent segment reference.
const NoSegment SegmentID = ^SegmentID(0)

// ContID identifies a captured continuation for one-shot tracking.
type ContID uint64

// DispatchID tracks the lifecycle of one effect dispatch through the
// handler chain.
type DispatchID uint64

// RunnableID identifies a scheduler-internal runnable continuation.
type RunnableID uint64

// CallbackID is minted to give each host coroutine frame the frame id that
// its capture events report.
type CallbackID uint32

// TaskID identifies a spawned task. Tasks are minted on behalf of the
// host scheduler.
type TaskID uint64

// PromiseID identifies a promise produced by CallAsync.
type PromiseID uint64

// Global monotonic counters. All start at 1; 0 is reserved for
// placeholder values. They are never reset within a process.
var (
	markerCounter   atomic.Uint64
	contIDCounter   atomic.Uint64
	dispatchCounter atomic.Uint64
	runnableCounter atomic.Uint64
	callbackCounter atomic.Uint32
	taskCounter     atomic.Uint64
	promiseCounter  atomic.Uint64
)

// FreshMarker mints a unique Marker.
func FreshMarker() Marker {
	return Marker(markerCounter.Add(1))
}

// FreshContID mints a unique ContID.
func FreshContID() ContID {
	return ContID(contIDCounter.Add(1))
}

// FreshDispatchID mints a unique DispatchID.
func FreshDispatchID() DispatchID {
	return DispatchID(dispatchCounter.Add(1))
}

// FreshRunnableID mints a unique RunnableID.
func FreshRunnableID() RunnableID {
	return RunnableID(runnableCounter.Add(1))
}

// FreshCallbackID mints a unique CallbackID.
func FreshCallbackID() CallbackID {
	return CallbackID(callbackCounter.Add(1))
}

// FreshTaskID mints a unique TaskID.
func FreshTaskID() TaskID {
	return TaskID(taskCounter.Add(1))
}

// FreshPromiseID mints a unique PromiseID.
func FreshPromiseID() PromiseID {
	return PromiseID(promiseCounter.Add(1))
}

package vm

import (
	"errors"
	"fmt"
)

// Pre-defined VM error types for consistent error handling
var (
	// Continuation errors
	ErrOneShotViolation = errors.New("one-shot violation")

	// Dispatch errors
	ErrUnhandledEffect        = errors.New("unhandled effect")
	ErrNoMatchingHandler      = errors.New("no matching handler")
	ErrDelegateNoOuterHandler = errors.New("delegate: no outer handler")
	ErrHandlerNotFound        = errors.New("handler not found")

	// Arena errors
	ErrInvalidSegment = errors.New("invalid segment")

	// Store errors
	ErrStorePoisoned = errors.New("store poisoned")

	// Host-side and programming errors
	ErrHostError     = errors.New("host error")
	ErrTypeError     = errors.New("type error")
	ErrInternalError = errors.New("internal error")

	// Exception propagation
	ErrUncaughtException = errors.New("uncaught exception")
)

// Exception is a host exception flowing through Throw/GenThrow. Value holds
// a host payload and Message a text payload; exceptions synthesized by the
// VM itself set only Message, and ExceptionFromError sets both.
type Exception struct {
	Message string
	Value   interface{}
}

// NewException wraps a host exception payload.
func NewException(value interface{}) *Exception {
	return &Exception{Value: value}
}

// RuntimeException synthesizes an exception from a message.
func RuntimeException(message string) *Exception {
	return &Exception{Message: message}
}

// ExceptionFromError wraps a Go error as a host exception.
func ExceptionFromError(err error) *Exception {
	return &Exception{Message: err.Error(), Value: err}
}

func (e *Exception) String() string {
	if e == nil {
		return "<nil exception>"
	}
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%v", e.Value)
}

// VMError wraps a sentinel error type with the context fields each kind
// carries. Error() and Unwrap() support errors.Is.
type VMError struct {
	Type    error  // the base error type
	Message string // additional context message

	ContID      ContID        // one-shot violations
	EffectRepr  string        // dispatch errors
	Marker      Marker        // handler-not-found
	Exception   *Exception    // uncaught exceptions
	Trace       []TraceEntry  // assembled trace for uncaught exceptions
	ActiveChain []ActiveChain // active-chain slice for uncaught exceptions
}

// Error implements the error interface.
func (e *VMError) Error() string {
	switch {
	case errors.Is(e.Type, ErrOneShotViolation):
		return fmt.Sprintf("vm error: %s: continuation %d already consumed", e.Type.Error(), e.ContID)
	case errors.Is(e.Type, ErrHandlerNotFound):
		return fmt.Sprintf("vm error: %s: marker %d", e.Type.Error(), e.Marker)
	case errors.Is(e.Type, ErrUnhandledEffect),
		errors.Is(e.Type, ErrNoMatchingHandler),
		errors.Is(e.Type, ErrDelegateNoOuterHandler):
		return fmt.Sprintf("vm error: %s: %s", e.Type.Error(), e.EffectRepr)
	case errors.Is(e.Type, ErrUncaughtException):
		return fmt.Sprintf("vm error: %s: %s", e.Type.Error(), e.Exception.String())
	}
	if e.Message != "" {
		return fmt.Sprintf("vm error: %s: %s", e.Type.Error(), e.Message)
	}
	return fmt.Sprintf("vm error: %s", e.Type.Error())
}

// Unwrap allows error unwrapping for errors.Is and errors.As.
func (e *VMError) Unwrap() error {
	return e.Type
}

// NewVMError builds a VMError with a context message.
func NewVMError(errType error, message string) *VMError {
	return &VMError{Type: errType, Message: message}
}

// OneShotViolationError reports a consumed continuation used again.
func OneShotViolationError(contID ContID) *VMError {
	return &VMError{Type: ErrOneShotViolation, ContID: contID}
}

// UnhandledEffectError reports an effect with no handler in scope.
func UnhandledEffectError(effect *Effect) *VMError {
	return &VMError{Type: ErrUnhandledEffect, EffectRepr: effect.String()}
}

// NoMatchingHandlerError reports a chain that resolved to zero candidates.
func NoMatchingHandlerError(effect *Effect) *VMError {
	return &VMError{Type: ErrNoMatchingHandler, EffectRepr: effect.String()}
}

// DelegateNoOuterHandlerError reports delegation past the end of the chain.
func DelegateNoOuterHandlerError(effect *Effect) *VMError {
	return &VMError{Type: ErrDelegateNoOuterHandler, EffectRepr: effect.String()}
}

// HandlerNotFoundError reports a registry lookup failure; this is an
// invariant violation.
func HandlerNotFoundError(marker Marker) *VMError {
	return &VMError{Type: ErrHandlerNotFound, Marker: marker}
}

// InvalidSegmentError reports an arena consistency failure.
func InvalidSegmentError(message string) *VMError {
	return &VMError{Type: ErrInvalidSegment, Message: message}
}

// HostError reports a host-side failure.
func HostError(message string) *VMError {
	return &VMError{Type: ErrHostError, Message: message}
}

// TypeErrorf reports a typing failure at the bridge.
func TypeErrorf(format string, args ...interface{}) *VMError {
	return &VMError{Type: ErrTypeError, Message: fmt.Sprintf(format, args...)}
}

// InternalError reports a programming error inside the VM.
func InternalError(message string) *VMError {
	return &VMError{Type: ErrInternalError, Message: message}
}

// UncaughtExceptionError reports an exception that bubbled past all
// handlers, together with the assembled trace and active-chain slice.
func UncaughtExceptionError(exc *Exception, trace []TraceEntry, chain []ActiveChain) *VMError {
	return &VMError{
		Type:        ErrUncaughtException,
		Exception:   exc,
		Trace:       trace,
		ActiveChain: chain,
	}
}

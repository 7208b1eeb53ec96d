package events

import (
	"errors"
	"fmt"
)

// Registration and declaration errors.
// Use errors.Is() to check for these errors as they are usually wrapped with
// the offending event or type name.
var (
	// ErrNotRegistered is returned by RemoveHandler when the handler was never
	// added for that event on that emitter.
	ErrNotRegistered = errors.New("handler not registered")

	// ErrInconsistentHierarchy is returned by Declare when the bases of a type
	// cannot be linearized into a single ancestor chain.
	ErrInconsistentHierarchy = errors.New("inconsistent type hierarchy")

	// ErrDuplicateType is returned by Declare when a type with the same name
	// is already declared in the registry.
	ErrDuplicateType = errors.New("type already declared")

	// ErrNilBase is returned by Declare when one of the bases is nil.
	ErrNilBase = errors.New("nil base type")

	// ErrInvalidType is returned when a type name is empty or an emitter is
	// initialized without a type.
	ErrInvalidType = errors.New("invalid type")

	// ErrNilHandler is returned when a nil handler or handler func is
	// registered.
	ErrNilHandler = errors.New("nil handler")

	// ErrSubjectType is returned by handlers built with Typed when the emitter
	// subject is not of the expected type.
	ErrSubjectType = errors.New("unexpected subject type")
)

// IsNotRegistered reports whether err indicates a missing handler registration.
func IsNotRegistered(err error) bool {
	return errors.Is(err, ErrNotRegistered)
}

// HandlerPanicError is returned by RecoveryMiddleware when a handler panics.
type HandlerPanicError struct {
	Event   string
	Handler string
	Value   any
	Stack   []byte
}

func (e *HandlerPanicError) Error() string {
	return fmt.Sprintf("handler %s panicked on event %q: %v", e.Handler, e.Event, e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *HandlerPanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// IsHandlerPanic checks if an error was produced by a recovered handler panic.
func IsHandlerPanic(err error) bool {
	var panicErr *HandlerPanicError
	return errors.As(err, &panicErr)
}

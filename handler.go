package events

import (
	"context"
	"fmt"
	"slices"
)

// AnyEvent is the reserved event name whose handlers run for every event
// dispatched to the node they are registered on.
const AnyEvent = "*"

// Effect is a value a handler hands back to the firing caller.
type Effect = any

// HandlerFunc is the signature of every event handler.
//
// subject is the host object of the emitter the event was fired on. The
// returned slice is appended to the effects of the firing call; returning nil
// contributes nothing. Returning an error aborts the whole firing call and the
// error is handed to the caller unmodified.
type HandlerFunc func(ctx context.Context, subject any, event string, args Args) ([]Effect, error)

// Handler is a HandlerFunc marked for a set of events.
//
// Handlers are compared by pointer: registering the same *Handler twice for an
// event has no additional effect, and RemoveHandler needs the pointer that was
// added.
type Handler struct {
	fn     HandlerFunc
	events []string
	bound  bool
	name   string
}

// On marks fn as a handler for the given events. The handler is bound: it is
// meant to be declared as part of a type and runs before unbound handlers of
// the same dispatch node.
//
//	var onStart = events.On(func(ctx context.Context, vm any, event string, args events.Args) ([]events.Effect, error) {
//	    return nil, nil
//	}, "domain-start")
//
//	vmType := events.MustDeclare("QubesVM", events.WithHandlers(onStart))
func On(fn HandlerFunc, events ...string) *Handler {
	return newHandler(fn, true, events)
}

// NewHandler wraps fn as an unbound handler, the kind that is attached to a
// single emitter at runtime. The events list is informational for
// AddHandler callers and is used by Extension.Attach.
func NewHandler(fn HandlerFunc, events ...string) *Handler {
	return newHandler(fn, false, events)
}

func newHandler(fn HandlerFunc, bound bool, names []string) *Handler {
	evs := make([]string, 0, len(names))
	for _, name := range names {
		if !slices.Contains(evs, name) {
			evs = append(evs, name)
		}
	}
	return &Handler{
		fn:     fn,
		events: evs,
		bound:  bound,
		name:   funcName(fn),
	}
}

// Named sets the name used for h in logs, spans and monitor entries.
func (h *Handler) Named(name string) *Handler {
	if name != "" {
		h.name = name
	}
	return h
}

// Name returns the handler name.
func (h *Handler) Name() string {
	return h.name
}

// Events returns the events h is marked for.
func (h *Handler) Events() []string {
	return slices.Clone(h.events)
}

// Bound reports whether h was declared with On.
func (h *Handler) Bound() bool {
	return h.bound
}

// Handles reports whether h is marked for event, either by name or through
// the match-all event.
func (h *Handler) Handles(event string) bool {
	return slices.Contains(h.events, event) || slices.Contains(h.events, AnyEvent)
}

// Call invokes the underlying function.
func (h *Handler) Call(ctx context.Context, subject any, event string, args Args) ([]Effect, error) {
	return h.fn(ctx, subject, event, args)
}

func (h *Handler) String() string {
	return fmt.Sprintf("Handler(%s, events=%v, bound=%t)", h.name, h.events, h.bound)
}

// IsHandler reports whether x is a marked handler: a *Handler carrying both a
// callable and an events set.
func IsHandler(x any) bool {
	h, ok := x.(*Handler)
	return ok && h != nil && h.fn != nil && h.events != nil
}

// Typed adapts a handler expecting a concrete subject type. The returned
// HandlerFunc fails with ErrSubjectType when the emitter subject is of another
// type.
//
//	events.On(events.Typed(func(ctx context.Context, vm *QubesVM, event string, args events.Args) ([]events.Effect, error) {
//	    return []events.Effect{vm.Name}, nil
//	}), "domain-spawn")
func Typed[S any](fn func(ctx context.Context, subject S, event string, args Args) ([]Effect, error)) HandlerFunc {
	return func(ctx context.Context, subject any, event string, args Args) ([]Effect, error) {
		s, ok := subject.(S)
		if !ok {
			var zero S
			return nil, fmt.Errorf("%w: got %T, want %T", ErrSubjectType, subject, zero)
		}
		return fn(ctx, s, event, args)
	}
}

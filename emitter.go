package events

import (
	"fmt"
	"log/slog"
)

// Emitter is the per-object state of the engine: the enablement flag and the
// handlers registered on this object at runtime.
//
// Embed an *Emitter (or an Emitter initialized with Init) in a host object
// and fire events through it:
//
//	type QubesVM struct {
//	    *events.Emitter
//	    Name string
//	}
//
//	vm := &QubesVM{Name: "work"}
//	vm.Emitter, _ = events.New(vmType, vm, events.WithEventsEnabled(true))
//	effects, err := vm.FireEvent(ctx, "domain-start", nil)
//
// An Emitter holds mutable state without locking: concurrent AddHandler,
// RemoveHandler and firing calls on the same emitter need external
// synchronization. Emitters of the same type share their type-level tables,
// which are read-only.
type Emitter struct {
	// EventsEnabled gates dispatch. Firing a disabled emitter returns an empty
	// effect list and runs no handler.
	EventsEnabled bool

	typ      *Type
	subject  any
	handlers handlerTable
	opts     *options
	logger   *slog.Logger
}

// New creates an emitter of type typ for subject. The subject is what
// handlers receive as their subject argument; a nil subject makes the
// emitter its own subject.
func New(typ *Type, subject any, opts ...Option) (*Emitter, error) {
	e := &Emitter{}
	if err := e.Init(typ, subject, opts...); err != nil {
		return nil, err
	}
	return e, nil
}

// MustNew is like New but panics on error.
func MustNew(typ *Type, subject any, opts ...Option) *Emitter {
	e, err := New(typ, subject, opts...)
	if err != nil {
		panic("events: " + err.Error())
	}
	return e
}

// Init initializes an emitter value in place, for hosts that embed Emitter by
// value. EventsEnabled keeps a true value set before Init; otherwise it takes
// the default of the type. WithEventsEnabled overrides both.
func (e *Emitter) Init(typ *Type, subject any, opts ...Option) error {
	if typ == nil {
		return fmt.Errorf("%w: nil type", ErrInvalidType)
	}
	o := newOptions(opts...)

	e.typ = typ
	e.subject = subject
	if e.subject == nil {
		e.subject = e
	}
	e.handlers = make(handlerTable)
	e.opts = o
	e.EventsEnabled = e.EventsEnabled || typ.EventsEnabledDefault()
	if o.eventsEnabled != nil {
		e.EventsEnabled = *o.eventsEnabled
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger.With("component", "events>"+typ.name)
	return nil
}

// Type returns the declared type of the emitter.
func (e *Emitter) Type() *Type {
	return e.typ
}

// Subject returns the host object handlers receive.
func (e *Emitter) Subject() any {
	return e.subject
}

// AddHandler registers h for event on this emitter only. Adding the same
// handler twice for an event has no additional effect. The handler keeps the
// bound flag it was created with: NewHandler handlers run after the bound
// handlers of the instance node.
func (e *Emitter) AddHandler(event string, h *Handler) error {
	if e.typ == nil {
		return fmt.Errorf("%w: emitter not initialized", ErrInvalidType)
	}
	if h == nil || h.fn == nil {
		return fmt.Errorf("%w: event %q", ErrNilHandler, event)
	}
	e.handlers.add(event, h)
	return nil
}

// AddHandlerFunc wraps fn in an unbound handler, registers it for event and
// returns it so it can be removed later.
func (e *Emitter) AddHandlerFunc(event string, fn HandlerFunc) (*Handler, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: event %q", ErrNilHandler, event)
	}
	h := NewHandler(fn, event)
	if err := e.AddHandler(event, h); err != nil {
		return nil, err
	}
	return h, nil
}

// RemoveHandler unregisters h for event. Returns an error wrapping
// ErrNotRegistered if h was not registered for event on this emitter.
func (e *Emitter) RemoveHandler(event string, h *Handler) error {
	if e.typ == nil {
		return fmt.Errorf("%w: emitter not initialized", ErrInvalidType)
	}
	if h == nil || !e.handlers.remove(event, h) {
		return fmt.Errorf("%w: event %q on %s", ErrNotRegistered, event, e.typ.name)
	}
	return nil
}

// Handlers returns the handlers registered on this emitter for event, in
// registration order.
func (e *Emitter) Handlers(event string) []*Handler {
	return e.handlers.get(event)
}

// HasHandler reports whether h is registered on this emitter for event.
func (e *Emitter) HasHandler(event string, h *Handler) bool {
	set, ok := e.handlers[event]
	return ok && set.contains(h)
}

// Events returns the event names with handlers registered on this emitter,
// sorted.
func (e *Emitter) Events() []string {
	return e.handlers.events()
}

func (e *Emitter) String() string {
	if e.typ == nil {
		return "Emitter(<uninitialized>)"
	}
	return fmt.Sprintf("Emitter(%s, enabled=%t)", e.typ.name, e.EventsEnabled)
}

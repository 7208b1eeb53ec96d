package events

import (
	"errors"
	"fmt"
	"slices"
)

// ErrNotApplicable is returned by Extension.Attach when the emitter type is
// not a subtype of any of the extension targets.
var ErrNotApplicable = errors.New("extension does not apply to emitter type")

// Extension groups the handlers a plug-in contributes to emitters of some
// types. Its handlers are unbound: once attached they run after the bound
// handlers of the instance node.
//
//	ext := events.NewExtension("audit", vmType)
//	ext.Handle(logStart, "domain-start")
//	for _, vm := range vms {
//	    _ = ext.Attach(vm.Emitter)
//	}
type Extension struct {
	name     string
	targets  []*Type
	handlers []*Handler
}

// NewExtension creates an extension applying to emitters whose ancestor
// chain contains one of targets. Without targets it applies to every emitter.
func NewExtension(name string, targets ...*Type) *Extension {
	return &Extension{
		name:    name,
		targets: slices.DeleteFunc(slices.Clone(targets), func(t *Type) bool { return t == nil }),
	}
}

// Name returns the extension name.
func (x *Extension) Name() string {
	return x.name
}

// Handle adds an unbound handler for events and returns it.
func (x *Extension) Handle(fn HandlerFunc, events ...string) *Handler {
	h := NewHandler(fn, events...)
	h.name = x.name + ":" + h.name
	x.handlers = append(x.handlers, h)
	return h
}

// Handlers returns the handlers of the extension.
func (x *Extension) Handlers() []*Handler {
	return slices.Clone(x.handlers)
}

// Applies reports whether the extension applies to emitters of type t.
func (x *Extension) Applies(t *Type) bool {
	if t == nil {
		return false
	}
	if len(x.targets) == 0 {
		return true
	}
	for _, target := range x.targets {
		if t.IsSubtype(target) {
			return true
		}
	}
	return false
}

// Attach registers the handlers of the extension on e.
func (x *Extension) Attach(e *Emitter) error {
	if !x.Applies(e.Type()) {
		return fmt.Errorf("%w: %s on %s", ErrNotApplicable, x.name, e.Type())
	}
	for _, h := range x.handlers {
		for _, event := range h.events {
			if err := e.AddHandler(event, h); err != nil {
				return err
			}
		}
	}
	return nil
}

// Detach removes the handlers of the extension from e. Handlers that are not
// registered are reported with ErrNotRegistered after the others are removed.
func (x *Extension) Detach(e *Emitter) error {
	var errs []error
	for _, h := range x.handlers {
		for _, event := range h.events {
			if err := e.RemoveHandler(event, h); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

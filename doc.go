// Package events provides an in-process, hierarchy-aware event emitter.
//
// Objects that emit events embed an Emitter. Every emitter belongs to a
// declared Type; types have bases, and handlers declared on a type run for
// every emitter of that type or of a subtype. Handlers can also be added to a
// single emitter at runtime.
//
// Architecture:
//   - A Registry declares types and linearizes their bases (C3) into one
//     ancestor chain, the MRO
//   - The handler table of a type holds only the handlers it declares itself;
//     inherited handlers are found by walking the MRO at dispatch time
//   - FireEvent walks the chain from the most base type to the most derived
//     one and the emitter last, FireEventPre walks it the other way round
//   - Effects returned by handlers are collected in invocation order
//   - The first handler error aborts the firing call
//
// Declaring types:
//
//	reg := events.NewRegistry()
//
//	baseVM := reg.MustDeclare("BaseVM", events.WithHandlers(
//	    events.On(onDomainStart, "domain-start"),
//	))
//	appVM := reg.MustDeclare("AppVM",
//	    events.WithBases(baseVM),
//	    events.WithHandlers(events.On(onAppStart, "domain-start")),
//	)
//
// Emitting:
//
//	type AppVM struct {
//	    *events.Emitter
//	    Name string
//	}
//
//	vm := &AppVM{Name: "work"}
//	vm.Emitter = events.MustNew(appVM, vm, events.WithEventsEnabled(true))
//
//	// pre events can veto: a failing handler aborts the action
//	if _, err := vm.FireEventPre(ctx, "domain-pre-start", nil); err != nil {
//	    return err
//	}
//	effects, err := vm.FireEvent(ctx, "domain-start", events.NewArgs("start_guid", true))
//
// Emitters start disabled unless the type or the options enable them. A
// disabled emitter returns an empty effect list without calling anything.
//
// Instance handlers:
//
//	h, _ := vm.AddHandlerFunc("domain-shutdown", func(ctx context.Context, subject any, event string, args events.Args) ([]events.Effect, error) {
//	    return nil, nil
//	})
//	defer vm.RemoveHandler("domain-shutdown", h)
//
// Within one node of the walk, bound handlers (declared with On) run before
// unbound ones, and named handlers run before the match-all handlers
// registered under AnyEvent.
//
// Extensions group handlers for a set of types and attach them to matching
// emitters. A Relay forwards fired events to a transport.Publisher.
//
// Handlers get the firing context: ContextDispatchID, ContextPhase,
// ContextNode and ContextHandler describe the call. Middleware wraps every
// handler invocation; RecoveryMiddleware turns panics into errors.
//
// The engine does no locking around dispatch. Emitters and the types they use
// are meant to be driven from one goroutine at a time.
package events

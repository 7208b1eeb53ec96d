package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	events "github.com/ttasket/qubes-events"
	"github.com/ttasket/qubes-events/transport"
	"go.opentelemetry.io/otel/trace"
)

// Middleware returns an events.Middleware that records every handler
// invocation in store. Store failures are logged and never change the
// outcome of the handler.
//
//	emitter, _ := events.New(vmType, vm,
//	    events.WithMiddleware(monitor.Middleware(store)),
//	)
func Middleware(store Store, opts ...Option) events.Middleware {
	o := &middlewareOptions{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}

	return func(next events.HandlerFunc) events.HandlerFunc {
		return func(ctx context.Context, subject any, event string, args events.Args) ([]events.Effect, error) {
			if len(o.events) > 0 && !slices.Contains(o.events, event) {
				return next(ctx, subject, event, args)
			}

			entry := newEntry(ctx, event, o.now())
			if err := store.Record(ctx, entry); err != nil {
				o.warn(ctx, "monitor record failed", entry, err)
			}

			start := time.Now()
			returned := false
			defer func() {
				if returned {
					return
				}
				// the handler panicked or exited its goroutine
				r := recover()
				cause := errHandlerExited
				if r != nil {
					cause = fmt.Errorf("%w: %v", errHandlerPanicked, r)
				}
				o.complete(ctx, store, entry, StatusFailed, cause, time.Since(start))
				if r != nil {
					panic(r)
				}
			}()
			effects, handlerErr := next(ctx, subject, event, args)
			returned = true

			status := StatusCompleted
			if handlerErr != nil {
				status = StatusFailed
			}
			o.complete(ctx, store, entry, status, handlerErr, time.Since(start))
			return effects, handlerErr
		}
	}
}

var (
	errHandlerPanicked = errors.New("handler panicked")
	errHandlerExited   = errors.New("handler did not return")
)

func (o *middlewareOptions) complete(ctx context.Context, store Store, entry *Entry, status Status, cause error, duration time.Duration) {
	if err := store.UpdateStatus(ctx, entry.ID, status, cause, duration); err != nil {
		o.warn(ctx, "monitor update failed", entry, err)
	}
}

func newEntry(ctx context.Context, event string, now time.Time) *Entry {
	entry := &Entry{
		ID:         transport.NewID(),
		DispatchID: events.ContextDispatchID(ctx),
		Event:      event,
		Phase:      events.ContextPhase(ctx).String(),
		Node:       events.ContextNode(ctx),
		Status:     StatusPending,
		StartedAt:  now,
	}
	if e := events.ContextEmitter(ctx); e != nil {
		entry.Type = e.Type().Name()
	}
	if h := events.ContextHandler(ctx); h != nil {
		entry.Handler = h.Name()
		entry.Bound = h.Bound()
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		entry.TraceID = sc.TraceID().String()
		entry.SpanID = sc.SpanID().String()
	}
	return entry
}

func (o *middlewareOptions) warn(ctx context.Context, msg string, entry *Entry, err error) {
	logger := o.logger
	if logger == nil {
		logger = events.ContextLogger(ctx)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn(msg,
		"entry", entry.ID,
		"event", entry.Event,
		"handler", entry.Handler,
		"error", err)
}

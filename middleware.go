package events

import (
	"context"
	"runtime/debug"
	"time"
)

// Middleware wraps a handler invocation. Middleware runs inside the firing
// call and sees the dispatch accessors (ContextEvent, ContextHandler, ...) in
// the context it receives.
type Middleware func(HandlerFunc) HandlerFunc

// Chain composes middleware; the first one is the outermost.
func Chain(mw ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(mw) - 1; i >= 0; i-- {
			next = mw[i](next)
		}
		return next
	}
}

// RecoveryMiddleware turns a handler panic into a *HandlerPanicError that
// aborts the firing call like any other handler error. Without it a panic
// unwinds through FireEvent to the caller.
func RecoveryMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, subject any, event string, args Args) (effects []Effect, err error) {
			defer func() {
				if r := recover(); r != nil {
					var name string
					if h := ContextHandler(ctx); h != nil {
						name = h.name
					}
					if logger := ContextLogger(ctx); logger != nil {
						logger.Error("handler panic recovered",
							"event", event,
							"handler", name,
							"error", r)
					}
					effects = nil
					err = &HandlerPanicError{
						Event:   event,
						Handler: name,
						Value:   r,
						Stack:   debug.Stack(),
					}
				}
			}()
			return next(ctx, subject, event, args)
		}
	}
}

// LoggingMiddleware logs every handler invocation at debug level with the
// emitter logger.
func LoggingMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, subject any, event string, args Args) ([]Effect, error) {
			start := time.Now()
			effects, err := next(ctx, subject, event, args)
			logger := ContextLogger(ctx)
			if logger == nil {
				return effects, err
			}
			var name string
			if h := ContextHandler(ctx); h != nil {
				name = h.name
			}
			logger.Debug("handler called",
				"event", event,
				"phase", ContextPhase(ctx),
				"node", ContextNode(ctx),
				"handler", name,
				"effects", len(effects),
				"duration", time.Since(start),
				"error", err)
			return effects, err
		}
	}
}

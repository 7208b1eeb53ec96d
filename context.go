package events

import (
	"context"
	"log/slog"
)

const (
	callContextKey contextKey = iota
)

// contextKey
type contextKey int

// dispatchInfo is shared by every handler call of one firing call.
type dispatchInfo struct {
	id      string
	event   string
	phase   Phase
	emitter *Emitter
	logger  *slog.Logger
}

// callInfo describes one handler invocation.
type callInfo struct {
	*dispatchInfo
	node    string
	handler *Handler
}

func contextWithCall(ctx context.Context, d *dispatchInfo, node string, h *Handler) context.Context {
	return context.WithValue(ctx, callContextKey, &callInfo{dispatchInfo: d, node: node, handler: h})
}

func callFromContext(ctx context.Context) *callInfo {
	c, _ := ctx.Value(callContextKey).(*callInfo)
	return c
}

// ContextDispatchID returns the id of the firing call the handler runs in.
func ContextDispatchID(ctx context.Context) string {
	if c := callFromContext(ctx); c != nil {
		return c.id
	}
	return ""
}

// ContextEvent returns the name of the event being dispatched.
func ContextEvent(ctx context.Context) string {
	if c := callFromContext(ctx); c != nil {
		return c.event
	}
	return ""
}

// ContextPhase returns the phase of the firing call.
func ContextPhase(ctx context.Context) Phase {
	if c := callFromContext(ctx); c != nil {
		return c.phase
	}
	return PhasePost
}

// ContextNode returns the dispatch node the handler was found on: a type
// name, or NodeInstance for handlers registered on the emitter itself.
func ContextNode(ctx context.Context) string {
	if c := callFromContext(ctx); c != nil {
		return c.node
	}
	return ""
}

// ContextHandler returns the handler being invoked.
func ContextHandler(ctx context.Context) *Handler {
	if c := callFromContext(ctx); c != nil {
		return c.handler
	}
	return nil
}

// ContextEmitter returns the emitter the event was fired on.
func ContextEmitter(ctx context.Context) *Emitter {
	if c := callFromContext(ctx); c != nil {
		return c.emitter
	}
	return nil
}

// ContextLogger returns the emitter logger, or nil outside of a dispatch.
func ContextLogger(ctx context.Context) *slog.Logger {
	if c := callFromContext(ctx); c != nil {
		return c.logger
	}
	return nil
}

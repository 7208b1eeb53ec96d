package events

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Phase tells post events from pre events.
type Phase string

const (
	// PhasePost is the phase of FireEvent: base types first, the instance last.
	PhasePost Phase = "post"
	// PhasePre is the phase of FireEventPre: the instance first, then the
	// ancestor chain from the most derived type to the most base one.
	PhasePre Phase = "pre"
)

func (p Phase) String() string {
	return string(p)
}

// node is one step of a traversal order.
type node struct {
	name  string
	table handlerTable
}

// FireEvent fires a post event: handlers run from the most base type of the
// ancestor chain to the most derived one, and the handlers registered on the
// emitter run last.
//
// The effects of all handlers are returned in invocation order. If a handler
// fails, no further handler runs and its error is returned unmodified, with no
// partial effects. Firing a disabled emitter returns an empty list.
func (e *Emitter) FireEvent(ctx context.Context, event string, args Args) ([]Effect, error) {
	if e.typ == nil {
		return nil, fmt.Errorf("%w: emitter not initialized", ErrInvalidType)
	}
	if !e.EventsEnabled {
		return []Effect{}, nil
	}
	order := make([]node, 0, len(e.typ.mro)+1)
	for _, t := range slices.Backward(e.typ.mro) {
		order = append(order, node{name: t.name, table: t.handlers})
	}
	order = append(order, node{name: NodeInstance, table: e.handlers})
	return e.dispatch(ctx, PhasePost, order, event, args)
}

// FireEventPre fires a pre event: the handlers registered on the emitter run
// first, then the ancestor chain from the most derived type to the most base
// one. A failing handler vetoes the action the event announces.
func (e *Emitter) FireEventPre(ctx context.Context, event string, args Args) ([]Effect, error) {
	if e.typ == nil {
		return nil, fmt.Errorf("%w: emitter not initialized", ErrInvalidType)
	}
	if !e.EventsEnabled {
		return []Effect{}, nil
	}
	order := make([]node, 0, len(e.typ.mro)+1)
	order = append(order, node{name: NodeInstance, table: e.handlers})
	for _, t := range e.typ.mro {
		order = append(order, node{name: t.name, table: t.handlers})
	}
	return e.dispatch(ctx, PhasePre, order, event, args)
}

// dispatch runs the candidates of every node of order, bound handlers first
// within a node, and collects their effects. Nil args reach handlers as an
// empty Args shared by the whole firing call.
func (e *Emitter) dispatch(ctx context.Context, phase Phase, order []node, event string, args Args) (effects []Effect, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if args == nil {
		args = Args{}
	}
	info := &dispatchInfo{
		id:      NewID(),
		event:   event,
		phase:   phase,
		emitter: e,
		logger:  e.logger,
	}

	start := time.Now()
	calls := 0

	if e.opts.tracingEnabled {
		spanName := event + ".fire"
		if phase == PhasePre {
			spanName = event + ".fire_pre"
		}
		var span trace.Span
		ctx, span = otel.Tracer(instrumentationName).Start(ctx, spanName,
			trace.WithAttributes(
				attribute.String(spanKeyEvent, event),
				attribute.String(spanKeyType, e.typ.name),
				attribute.String(spanKeyPhase, phase.String()),
				attribute.String(spanKeyDispatchID, info.id),
			),
			trace.WithSpanKind(trace.SpanKindInternal))
		defer func() {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetAttributes(attribute.Int(spanKeyEffects, len(effects)))
			}
			span.SetAttributes(attribute.Int(spanKeyHandlers, calls))
			span.End()
		}()
	}

	if e.opts.metricsEnabled {
		defer func() {
			loadInstruments().record(ctx, e.typ.name, event, phase, calls, err != nil, time.Since(start))
		}()
	}

	effects = []Effect{}
	for _, n := range order {
		if n.table == nil {
			continue
		}
		for _, h := range n.table.candidates(event) {
			calls++
			fn := h.fn
			if len(e.opts.middleware) > 0 {
				fn = Chain(e.opts.middleware...)(fn)
			}
			out, callErr := fn(contextWithCall(ctx, info, n.name, h), e.subject, event, args)
			if callErr != nil {
				e.logger.Debug("handler failed, dispatch aborted",
					"event", event,
					"phase", phase,
					"node", n.name,
					"handler", h.name,
					"dispatch_id", info.id,
					"error", callErr)
				return nil, callErr
			}
			if out != nil {
				effects = append(effects, out...)
			}
		}
	}

	e.logger.Debug("event dispatched",
		"event", event,
		"phase", phase,
		"dispatch_id", info.id,
		"handlers", calls,
		"effects", len(effects))
	return effects, nil
}

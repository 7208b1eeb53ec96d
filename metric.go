package events

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// instrumentationName names the tracer and meter of the engine.
const instrumentationName = "github.com/ttasket/qubes-events"

type instruments struct {
	fired    metric.Int64Counter
	calls    metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
}

// loadInstruments creates the instruments once against the global meter
// provider. The global provider delegates, so a provider installed later
// still receives the measurements.
var loadInstruments = sync.OnceValue(func() *instruments {
	return newInstruments(otel.Meter(instrumentationName))
})

func newInstruments(meter metric.Meter) *instruments {
	fired, _ := meter.Int64Counter("events.fired",
		metric.WithDescription("Total number of firing calls on enabled emitters"))
	calls, _ := meter.Int64Counter("events.handler.calls",
		metric.WithDescription("Total number of handler invocations"))
	failures, _ := meter.Int64Counter("events.handler.errors",
		metric.WithDescription("Total number of handler invocations that aborted a firing call"))
	duration, _ := meter.Float64Histogram("events.fire.duration",
		metric.WithDescription("Duration of firing calls"),
		metric.WithUnit("s"))
	return &instruments{
		fired:    fired,
		calls:    calls,
		failures: failures,
		duration: duration,
	}
}

func (m *instruments) record(ctx context.Context, typeName, event string, phase Phase, calls int, failed bool, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(spanKeyType, typeName),
		attribute.String(spanKeyEvent, event),
		attribute.String(spanKeyPhase, phase.String()),
	)
	m.fired.Add(ctx, 1, attrs)
	m.calls.Add(ctx, int64(calls), attrs)
	if failed {
		m.failures.Add(ctx, 1, attrs)
	}
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}

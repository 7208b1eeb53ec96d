package events

import (
	"log/slog"
)

// options holds emitter configuration (unexported)
type options struct {
	logger         *slog.Logger
	tracingEnabled bool
	metricsEnabled bool
	middleware     []Middleware
	eventsEnabled  *bool
}

// Option configures an emitter.
type Option func(*options)

// newOptions creates options with defaults and applies provided options
func newOptions(opts ...Option) *options {
	o := &options{
		tracingEnabled: true,
		metricsEnabled: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger sets the logger of the emitter. Dispatch only logs at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTracing enables/disables an OpenTelemetry span per firing call.
// Default is true.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithMetrics enables/disables OpenTelemetry metrics. Default is true.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithMiddleware wraps every handler invocation of the emitter. The first
// middleware is the outermost.
func WithMiddleware(mw ...Middleware) Option {
	return func(o *options) {
		for _, m := range mw {
			if m != nil {
				o.middleware = append(o.middleware, m)
			}
		}
	}
}

// WithEventsEnabled sets the initial EventsEnabled value, overriding the type
// default.
func WithEventsEnabled(enabled bool) Option {
	return func(o *options) {
		o.eventsEnabled = &enabled
	}
}

package channel

import (
	"log/slog"
	"time"

	"github.com/ttasket/qubes-events/transport"
)

// DefaultBufferSize is the per-subscriber buffer size
var DefaultBufferSize = 100

// options holds configuration for transport (unexported)
type options struct {
	bufferSize int
	timeout    time.Duration
	onError    func(error)
	logger     *slog.Logger
}

// Option configures the channel transport
type Option func(*options)

// WithBufferSize sets the buffer size of subscription channels
func WithBufferSize(size int) Option {
	return func(o *options) {
		if size >= 0 {
			o.bufferSize = size
		}
	}
}

// WithTimeout sets how long Publish waits for a subscriber with a full
// buffer. Zero (default) drops the record immediately.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithErrorHandler sets the error handler callback.
// Called when a record is dropped for a subscriber.
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) {
		if fn != nil {
			o.onError = fn
		}
	}
}

// WithLogger sets the logger for transport
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// newOptions creates options with defaults and applies provided options
func newOptions(opts ...Option) *options {
	o := &options{
		bufferSize: DefaultBufferSize,
		onError:    func(error) {},
		logger:     transport.Logger("transport>channel"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

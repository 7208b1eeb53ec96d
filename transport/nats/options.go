package nats

import (
	"log/slog"

	"github.com/ttasket/qubes-events/payload"
)

// Option configures the NATS transport
type Option func(*Transport)

// WithCodec sets the codec records are encoded with
func WithCodec(c payload.Codec) Option {
	return func(t *Transport) {
		if c != nil {
			t.codec = c
		}
	}
}

// WithSubjectPrefix sets the prefix of published subjects. An empty prefix
// publishes on the topic itself.
func WithSubjectPrefix(prefix string) Option {
	return func(t *Transport) {
		t.prefix = prefix
	}
}

// WithDrain makes Close drain the core connection.
func WithDrain() Option {
	return func(t *Transport) {
		t.drain = true
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithErrorHandler sets the error handler callback
func WithErrorHandler(fn func(error)) Option {
	return func(t *Transport) {
		if fn != nil {
			t.onError = fn
		}
	}
}

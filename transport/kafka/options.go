package kafka

import (
	"log/slog"

	"github.com/ttasket/qubes-events/payload"
)

// Option configures the Kafka transport
type Option func(*Transport)

// WithCodec sets the codec records are encoded with
func WithCodec(c payload.Codec) Option {
	return func(t *Transport) {
		if c != nil {
			t.codec = c
		}
	}
}

// WithTopicPrefix sets the prefix of produced topics. An empty prefix
// produces to the relay topic itself.
func WithTopicPrefix(prefix string) Option {
	return func(t *Transport) {
		t.topicPrefix = prefix
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

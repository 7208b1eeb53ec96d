package redis

import (
	"log/slog"
	"time"

	"github.com/ttasket/qubes-events/payload"
)

// Option configures the Redis transport
type Option func(*Transport)

// WithCodec sets the codec records are encoded with
func WithCodec(c payload.Codec) Option {
	return func(t *Transport) {
		if c != nil {
			t.codec = c
		}
	}
}

// WithMaxLen sets the max length for streams (MAXLEN)
func WithMaxLen(n int64) Option {
	return func(t *Transport) {
		if n > 0 {
			t.maxLen = n
		}
	}
}

// WithMaxAge sets the max age of stream entries (MINID-based trimming).
// Entries older than this duration are trimmed on each publish.
//
// Set to 0 (default) for unlimited retention.
func WithMaxAge(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.maxAge = d
		}
	}
}

// WithCloseClient makes Close close the Redis client as well.
func WithCloseClient() Option {
	return func(t *Transport) {
		t.closeClient = true
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

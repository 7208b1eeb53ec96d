package monitor

import (
	"log/slog"
	"time"
)

// middlewareOptions holds configuration for Middleware.
type middlewareOptions struct {
	events []string
	logger *slog.Logger
	now    func() time.Time
}

// Option configures Middleware.
type Option func(*middlewareOptions)

// WithEvents restricts monitoring to the given event names.
func WithEvents(events ...string) Option {
	return func(o *middlewareOptions) {
		o.events = append(o.events, events...)
	}
}

// WithLogger sets the logger for store failures. By default the emitter
// logger carried in the dispatch context is used.
func WithLogger(l *slog.Logger) Option {
	return func(o *middlewareOptions) {
		o.logger = l
	}
}

// mongoOptions holds configuration for MongoStore.
type mongoOptions struct {
	collection string
	ttl        time.Duration
}

// MongoOption configures a MongoStore.
type MongoOption func(*mongoOptions)

// WithCollection sets the collection name. Default is "monitor_entries".
func WithCollection(name string) MongoOption {
	return func(o *mongoOptions) {
		if name != "" {
			o.collection = name
		}
	}
}

// WithTTL makes MongoDB expire entries ttl after they started. The expiry
// index is created by EnsureIndexes.
//
//	store := monitor.NewMongoStore(db, monitor.WithTTL(7*24*time.Hour))
func WithTTL(ttl time.Duration) MongoOption {
	return func(o *mongoOptions) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

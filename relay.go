package events

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/ttasket/qubes-events/ratelimit"
	"github.com/ttasket/qubes-events/transport"
	"go.opentelemetry.io/otel/trace"
)

// DefaultRelayTopic is the topic relayed records are published to unless
// WithRelayTopic is given.
const DefaultRelayTopic = "qubes.events"

// Relay forwards fired events to a transport.Publisher. It is a match-all
// unbound handler: attached to an emitter it sees every event fired on it,
// after the other handlers of the instance node with a registration order
// ahead of it.
//
//	relay := events.NewRelay(redisPublisher, events.WithRelayTopic("vm"))
//	_ = relay.Attach(vm.Emitter)
type Relay struct {
	publisher   transport.Publisher
	topic       string
	limiter     ratelimit.Limiter
	strict      bool
	filter      []string
	subjectName func(any) string
	logger      *slog.Logger
	handler     *Handler

	published atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithRelayTopic sets the topic records are published to.
func WithRelayTopic(topic string) RelayOption {
	return func(r *Relay) {
		if topic != "" {
			r.topic = topic
		}
	}
}

// WithRelayLimiter throttles publishing. Records over the limit are dropped
// and counted; the firing call is not delayed.
func WithRelayLimiter(l ratelimit.Limiter) RelayOption {
	return func(r *Relay) {
		r.limiter = l
	}
}

// WithRelayStrict makes a publish failure abort the firing call. By default
// failures are logged and the dispatch continues.
func WithRelayStrict(strict bool) RelayOption {
	return func(r *Relay) {
		r.strict = strict
	}
}

// WithRelayFilter restricts relaying to the given event names.
func WithRelayFilter(events ...string) RelayOption {
	return func(r *Relay) {
		r.filter = append(r.filter, events...)
	}
}

// WithRelaySubjectName sets how the subject of an emitter is named in
// records. The default uses String() when the subject has one and the Go type
// name otherwise.
func WithRelaySubjectName(fn func(any) string) RelayOption {
	return func(r *Relay) {
		if fn != nil {
			r.subjectName = fn
		}
	}
}

// WithRelayLogger sets the logger used for publish failures.
func WithRelayLogger(l *slog.Logger) RelayOption {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRelay creates a relay publishing to pub.
func NewRelay(pub transport.Publisher, opts ...RelayOption) (*Relay, error) {
	if pub == nil {
		return nil, transport.ErrNoPublisher
	}
	r := &Relay{
		publisher:   pub,
		topic:       DefaultRelayTopic,
		subjectName: defaultSubjectName,
		logger:      transport.Logger("events>relay"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.handler = NewHandler(r.forward, AnyEvent).Named("relay:" + r.topic)
	return r, nil
}

func defaultSubjectName(subject any) string {
	if s, ok := subject.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", subject)
}

// Handler returns the match-all handler of the relay.
func (r *Relay) Handler() *Handler {
	return r.handler
}

// Attach registers the relay on e.
func (r *Relay) Attach(e *Emitter) error {
	return e.AddHandler(AnyEvent, r.handler)
}

// Detach removes the relay from e.
func (r *Relay) Detach(e *Emitter) error {
	return e.RemoveHandler(AnyEvent, r.handler)
}

// RelayStats are the counters of a relay.
type RelayStats struct {
	Published int64
	Dropped   int64
	Failed    int64
}

// Stats returns the relay counters.
func (r *Relay) Stats() RelayStats {
	return RelayStats{
		Published: r.published.Load(),
		Dropped:   r.dropped.Load(),
		Failed:    r.failed.Load(),
	}
}

func (r *Relay) forward(ctx context.Context, subject any, event string, args Args) ([]Effect, error) {
	if len(r.filter) > 0 && !slices.Contains(r.filter, event) {
		return nil, nil
	}
	if r.limiter != nil && !r.limiter.Allow(ctx) {
		r.dropped.Add(1)
		r.logger.Warn("relay rate limited, record dropped", "event", event, "topic", r.topic)
		return nil, nil
	}

	rec := &transport.Record{
		ID:         transport.NewID(),
		DispatchID: ContextDispatchID(ctx),
		Subject:    r.subjectName(subject),
		Event:      event,
		Phase:      ContextPhase(ctx).String(),
		Args:       args.Copy(),
		Time:       time.Now().UTC(),
	}
	if e := ContextEmitter(ctx); e != nil {
		rec.Type = e.Type().Name()
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		rec.TraceID = sc.TraceID().String()
		rec.SpanID = sc.SpanID().String()
	}

	if err := r.publisher.Publish(ctx, r.topic, rec); err != nil {
		r.failed.Add(1)
		if r.strict {
			return nil, fmt.Errorf("relay %s: %w", event, err)
		}
		r.logger.Warn("relay publish failed",
			"event", event,
			"topic", r.topic,
			"record", rec.ID,
			"error", err)
		return nil, nil
	}
	r.published.Add(1)
	return nil, nil
}

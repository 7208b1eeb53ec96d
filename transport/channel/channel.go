// Package channel provides an in-memory publisher that fans relayed records
// out to subscribers over Go channels.
//
// The channel transport does NOT provide delivery guarantees:
//
//   - Records are lost on process exit
//   - Records are dropped for subscribers whose buffer is full (after
//     WithTimeout, if set)
//
// It suits in-process consumers of fired events and tests.
package channel

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ttasket/qubes-events/transport"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Transport implements transport.Publisher using Go channels
type Transport struct {
	status int32
	opts   *options

	mu     sync.RWMutex
	topics map[string]*topic

	dropped        atomic.Int64
	droppedCounter metric.Int64Counter
}

// topic manages the subscribers of a single topic
type topic struct {
	name string
	mu   sync.RWMutex
	subs map[string]*Subscription
}

// Subscription receives the records published to one topic.
type Subscription struct {
	id     string
	ch     chan *transport.Record
	topic  *topic
	closed bool
}

// ID returns the subscription id.
func (s *Subscription) ID() string {
	return s.id
}

// Records returns the channel records are delivered on. It is closed when the
// subscription or the transport is closed.
func (s *Subscription) Records() <-chan *transport.Record {
	return s.ch
}

// Close stops delivery and closes the records channel.
func (s *Subscription) Close(ctx context.Context) error {
	s.topic.mu.Lock()
	defer s.topic.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *Subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	delete(s.topic.subs, s.id)
	close(s.ch)
}

// New creates a new channel-based transport.
func New(opts ...Option) *Transport {
	meter := otel.Meter("events.transport.channel")
	droppedCounter, _ := meter.Int64Counter("events.transport.channel.dropped",
		metric.WithDescription("Number of records dropped by channel transport"),
		metric.WithUnit("{record}"),
	)
	return &Transport{
		status:         1,
		opts:           newOptions(opts...),
		topics:         make(map[string]*topic),
		droppedCounter: droppedCounter,
	}
}

func (t *Transport) isOpen() bool {
	return atomic.LoadInt32(&t.status) == 1
}

func (t *Transport) topic(name string, create bool) *topic {
	t.mu.RLock()
	tp, ok := t.topics[name]
	t.mu.RUnlock()
	if ok || !create {
		return tp
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if tp, ok = t.topics[name]; !ok {
		tp = &topic{name: name, subs: make(map[string]*Subscription)}
		t.topics[name] = tp
	}
	return tp
}

// Subscribe creates a subscription to the records of a topic.
func (t *Transport) Subscribe(ctx context.Context, name string) (*Subscription, error) {
	if !t.isOpen() {
		return nil, transport.ErrTransportClosed
	}
	if name == "" {
		return nil, transport.ErrTopicRequired
	}
	tp := t.topic(name, true)
	sub := &Subscription{
		id:    transport.NewID(),
		ch:    make(chan *transport.Record, t.opts.bufferSize),
		topic: tp,
	}
	tp.mu.Lock()
	tp.subs[sub.id] = sub
	tp.mu.Unlock()

	t.opts.logger.Debug("added subscriber", "topic", name, "subscriber", sub.id)
	return sub, nil
}

// Publish delivers a copy of rec to every subscriber of the topic. Records
// for subscribers that cannot take them are dropped and counted; publishing
// to a topic without subscribers is not an error.
func (t *Transport) Publish(ctx context.Context, name string, rec *transport.Record) error {
	if !t.isOpen() {
		return transport.ErrTransportClosed
	}
	if name == "" {
		return transport.ErrTopicRequired
	}
	if rec == nil {
		return transport.ErrNilRecord
	}
	tp := t.topic(name, false)
	if tp == nil {
		t.opts.logger.Debug("dropping record, no subscribers", "topic", name, "record", rec.ID)
		return nil
	}

	tp.mu.RLock()
	defer tp.mu.RUnlock()
	for _, sub := range tp.subs {
		if !t.send(ctx, sub, rec.Clone()) {
			t.dropped.Add(1)
			t.droppedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", name)))
			t.opts.logger.Debug("record dropped, subscriber too slow",
				"topic", name,
				"subscriber", sub.id,
				"record", rec.ID)
			t.opts.onError(transport.ErrPublishTimeout)
		}
	}
	return nil
}

func (t *Transport) send(ctx context.Context, sub *Subscription, rec *transport.Record) bool {
	select {
	case sub.ch <- rec:
		return true
	default:
	}
	if t.opts.timeout <= 0 {
		return false
	}
	timer := time.NewTimer(t.opts.timeout)
	defer timer.Stop()
	select {
	case sub.ch <- rec:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Dropped returns the number of records dropped since the transport was
// created.
func (t *Transport) Dropped() int64 {
	return t.dropped.Load()
}

// Subscribers returns the number of open subscriptions of a topic.
func (t *Transport) Subscribers(name string) int {
	tp := t.topic(name, false)
	if tp == nil {
		return 0
	}
	tp.mu.RLock()
	defer tp.mu.RUnlock()
	return len(tp.subs)
}

// Close shuts down the transport and closes all subscriptions
func (t *Transport) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&t.status, 1, 0) {
		return nil
	}
	t.mu.Lock()
	topics := t.topics
	t.topics = make(map[string]*topic)
	t.mu.Unlock()

	for _, tp := range topics {
		tp.mu.Lock()
		for _, sub := range tp.subs {
			sub.closeLocked()
		}
		tp.mu.Unlock()
	}
	t.opts.logger.Debug("transport closed")
	return nil
}

var _ transport.Publisher = (*Transport)(nil)

// Package nats provides NATS publishers for relayed event records.
//
// Two flavours are provided:
//   - Core (New): fire-and-forget publish with at-most-once delivery
//   - JetStream (NewJetStream): persisted publish, acknowledged by the
//     stream, deduplicated on the record id
//
// Records are published to the subject "<prefix>.<topic>" with the codec
// content type in the "content-type" header.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/ttasket/qubes-events/payload"
	"github.com/ttasket/qubes-events/transport"
)

// DefaultSubjectPrefix is the subject prefix unless WithSubjectPrefix is given.
const DefaultSubjectPrefix = "qubes.events"

// ErrConnRequired is returned when no connection is provided
var ErrConnRequired = errors.New("nats connection is required")

// Conn is the part of *nats.Conn the core publisher uses.
type Conn interface {
	PublishMsg(m *nats.Msg) error
	Drain() error
}

// JetStream is the part of jetstream.JetStream the JetStream publisher uses.
type JetStream interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Transport implements transport.Publisher on NATS.
type Transport struct {
	status  int32
	conn    Conn
	js      JetStream
	codec   payload.Codec
	prefix  string
	drain   bool
	logger  *slog.Logger
	onError func(error)
}

// New creates a NATS Core publisher.
//
//	nc, _ := nats.Connect(nats.DefaultURL)
//	pub, _ := natstransport.New(nc)
func New(conn Conn, opts ...Option) (*Transport, error) {
	if conn == nil {
		return nil, ErrConnRequired
	}
	t := newTransport(opts...)
	t.conn = conn
	return t, nil
}

// NewJetStream creates a JetStream publisher. The stream covering the
// subjects must exist.
//
//	js, _ := jetstream.New(nc)
//	pub, _ := natstransport.NewJetStream(js)
func NewJetStream(js JetStream, opts ...Option) (*Transport, error) {
	if js == nil {
		return nil, ErrConnRequired
	}
	t := newTransport(opts...)
	t.js = js
	return t, nil
}

func newTransport(opts ...Option) *Transport {
	t := &Transport{
		status:  1,
		codec:   payload.Default(),
		prefix:  DefaultSubjectPrefix,
		logger:  transport.Logger("transport>nats"),
		onError: func(error) {},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) isOpen() bool {
	return atomic.LoadInt32(&t.status) == 1
}

// Subject returns the subject a topic is published on.
func (t *Transport) Subject(topic string) string {
	if t.prefix == "" {
		return topic
	}
	return t.prefix + "." + topic
}

// Publish sends rec on the subject of topic.
func (t *Transport) Publish(ctx context.Context, topic string, rec *transport.Record) error {
	if !t.isOpen() {
		return transport.ErrTransportClosed
	}
	if topic == "" {
		return transport.ErrTopicRequired
	}
	data, err := transport.Encode(t.codec, rec)
	if err != nil {
		return err
	}

	msg := nats.NewMsg(t.Subject(topic))
	msg.Data = data
	msg.Header.Set(transport.ContentTypeHeader, t.codec.ContentType())

	if t.js != nil {
		ack, err := t.js.PublishMsg(ctx, msg, jetstream.WithMsgID(rec.ID))
		if err != nil {
			t.onError(err)
			return fmt.Errorf("jetstream publish %s: %w", msg.Subject, err)
		}
		t.logger.Debug("published record",
			"subject", msg.Subject,
			"record", rec.ID,
			"stream", ack.Stream,
			"seq", ack.Sequence,
			"duplicate", ack.Duplicate)
		return nil
	}

	if err := t.conn.PublishMsg(msg); err != nil {
		t.onError(err)
		return fmt.Errorf("nats publish %s: %w", msg.Subject, err)
	}
	t.logger.Debug("published record", "subject", msg.Subject, "record", rec.ID)
	return nil
}

// Decode decodes a record received on a subscription, picking the codec from
// the content-type header.
func Decode(msg *nats.Msg) (*transport.Record, error) {
	var contentType string
	if msg.Header != nil {
		contentType = msg.Header.Get(transport.ContentTypeHeader)
	}
	return transport.Decode(payload.ForContentType(contentType), msg.Data, msg.Subject)
}

// Close marks the publisher closed. The core connection is drained when
// WithDrain was given.
func (t *Transport) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&t.status, 1, 0) {
		return nil
	}
	if t.drain && t.conn != nil {
		return t.conn.Drain()
	}
	return nil
}

var _ transport.Publisher = (*Transport)(nil)

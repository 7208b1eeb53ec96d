// Package redis provides a Redis Streams publisher for relayed event records.
//
// Every topic maps to the stream "evt:<topic>". Each record is one stream
// entry with the encoded record in the "data" field and the codec content
// type in "content-type", so readers in other processes can decode it.
//
// Features:
//   - Stream trimming by count (MAXLEN) or age (MINID)
//   - Replay of a stream range for late consumers
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ttasket/qubes-events/payload"
	"github.com/ttasket/qubes-events/transport"
)

// Client defines the interface for Redis client operations.
// Supports *redis.Client, *redis.ClusterClient, and redis.UniversalClient.
type Client interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XRangeN(ctx context.Context, stream, start, stop string, count int64) *redis.XMessageSliceCmd
	XLen(ctx context.Context, stream string) *redis.IntCmd
	Close() error
}

// ErrClientRequired is returned when no Redis client is provided
var ErrClientRequired = errors.New("redis client is required")

// streamPrefix is the fixed prefix for Redis streams to avoid clashing with user data
const streamPrefix = "evt"

// Stream entry fields
const (
	fieldData        = "data"
	fieldContentType = transport.ContentTypeHeader
	fieldEvent       = "event"
)

// Transport implements transport.Publisher using Redis Streams
type Transport struct {
	status  int32
	client  Client
	codec   payload.Codec
	logger  *slog.Logger
	onError func(error)

	maxLen      int64         // Max stream length (0 = unlimited)
	maxAge      time.Duration // Max entry age for MINID trimming (0 = unlimited)
	closeClient bool
	now         func() time.Time
}

// New creates a new Redis publisher with a pre-initialized client
func New(client Client, opts ...Option) (*Transport, error) {
	if client == nil {
		return nil, ErrClientRequired
	}
	t := &Transport{
		status:  1,
		client:  client,
		codec:   payload.Default(),
		logger:  transport.Logger("transport>redis"),
		onError: func(error) {},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *Transport) isOpen() bool {
	return atomic.LoadInt32(&t.status) == 1
}

// StreamName returns the stream a topic is written to.
func StreamName(topic string) string {
	return streamPrefix + ":" + topic
}

// Publish appends rec to the stream of topic.
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

	args := &redis.XAddArgs{
		Stream: StreamName(topic),
		Values: map[string]any{
			fieldData:        data,
			fieldContentType: t.codec.ContentType(),
			fieldEvent:       rec.Event,
		},
	}
	if t.maxLen > 0 {
		args.MaxLen = t.maxLen
		args.Approx = true
	}
	if t.maxAge > 0 {
		minTime := t.now().Add(-t.maxAge).UnixMilli()
		args.MinID = fmt.Sprintf("%d-0", minTime)
		args.Approx = true
	}

	id, err := t.client.XAdd(ctx, args).Result()
	if err != nil {
		t.onError(err)
		return fmt.Errorf("xadd %s: %w", args.Stream, err)
	}
	t.logger.Debug("published record", "topic", topic, "record", rec.ID, "stream_id", id)
	return nil
}

// Entry is a record read back from a stream.
type Entry struct {
	StreamID string
	Record   *transport.Record
}

// Replay reads up to count entries of the stream of topic, starting at the
// stream id start ("-" for the beginning). Entries that fail to decode are
// returned as *transport.DecodeError values joined into the error, next to
// the entries that decoded.
func (t *Transport) Replay(ctx context.Context, topic, start string, count int64) ([]Entry, error) {
	if topic == "" {
		return nil, transport.ErrTopicRequired
	}
	if start == "" {
		start = "-"
	}
	msgs, err := t.client.XRangeN(ctx, StreamName(topic), start, "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("xrange %s: %w", StreamName(topic), err)
	}

	entries := make([]Entry, 0, len(msgs))
	var errs []error
	for _, msg := range msgs {
		rec, err := decodeMessage(msg)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		entries = append(entries, Entry{StreamID: msg.ID, Record: rec})
	}
	return entries, errors.Join(errs...)
}

func decodeMessage(msg redis.XMessage) (*transport.Record, error) {
	var data []byte
	switch v := msg.Values[fieldData].(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return nil, &transport.DecodeError{
			Err:   fmt.Errorf("%w: missing %q field", transport.ErrDecodeFailure, fieldData),
			MsgID: msg.ID,
		}
	}
	contentType, _ := msg.Values[fieldContentType].(string)
	return transport.Decode(payload.ForContentType(contentType), data, msg.ID)
}

// Len returns the number of entries in the stream of topic.
func (t *Transport) Len(ctx context.Context, topic string) (int64, error) {
	return t.client.XLen(ctx, StreamName(topic)).Result()
}

// Close marks the publisher closed. The client is closed too when
// WithCloseClient was given.
func (t *Transport) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&t.status, 1, 0) {
		return nil
	}
	if t.closeClient {
		return t.client.Close()
	}
	return nil
}

var _ transport.Publisher = (*Transport)(nil)

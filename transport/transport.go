// Package transport provides the record type and the publisher interface the
// event relay forwards fired events through.
//
// Publisher implementations (channel, redis, nats, kafka, grpc) import this
// package rather than the parent events package to avoid import cycles.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ttasket/qubes-events/payload"
)

// Transport errors
var (
	ErrTransportClosed = errors.New("transport closed")
	ErrTopicRequired   = errors.New("topic is required")
	ErrDecodeFailure   = errors.New("record decode failed")
	ErrNilRecord       = errors.New("nil record")
	ErrNoPublisher     = errors.New("publisher is required")
	ErrPublishTimeout  = errors.New("publish timeout")
)

// Record is one fired event as it leaves the process.
type Record struct {
	// ID identifies the record. Relays set it to a fresh id per record.
	ID string `json:"id" msgpack:"id"`
	// DispatchID identifies the firing call the record was produced by.
	DispatchID string `json:"dispatch_id,omitempty" msgpack:"dispatch_id,omitempty"`
	// Subject names the host object the event was fired on.
	Subject string `json:"subject" msgpack:"subject"`
	// Type is the declared type of the emitter.
	Type string `json:"type" msgpack:"type"`
	// Event is the event name.
	Event string `json:"event" msgpack:"event"`
	// Phase is "post" or "pre".
	Phase string `json:"phase" msgpack:"phase"`
	// Args are the named arguments of the event.
	Args map[string]any `json:"args,omitempty" msgpack:"args,omitempty"`
	// Time is when the record was produced.
	Time time.Time `json:"time" msgpack:"time"`
	// TraceID and SpanID link the record to the firing span, when traced.
	TraceID string `json:"trace_id,omitempty" msgpack:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty" msgpack:"span_id,omitempty"`
}

// Clone returns a copy of r with its own Args map.
func (r *Record) Clone() *Record {
	c := *r
	c.Args = maps.Clone(r.Args)
	return &c
}

func (r *Record) String() string {
	return fmt.Sprintf("Record(%s %s.%s %s)", r.ID, r.Type, r.Event, r.Phase)
}

// Publisher sends records to a topic.
// Implementations must be safe for concurrent use.
type Publisher interface {
	// Publish sends rec to topic. The record must not be modified afterwards.
	Publish(ctx context.Context, topic string, rec *Record) error

	// Close releases the publisher. Publishing after Close returns
	// ErrTransportClosed.
	Close(ctx context.Context) error
}

// DecodeError represents a record that failed to decode.
type DecodeError struct {
	RawData []byte // The raw data that failed to decode
	Err     error  // The decode error
	MsgID   string // Transport-specific message ID (e.g., Redis stream ID)
}

func (e *DecodeError) Error() string {
	return "decode error: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is a *DecodeError.
func IsDecodeError(err error) bool {
	var decodeErr *DecodeError
	return errors.As(err, &decodeErr)
}

// Encode serializes rec with codec.
func Encode(codec payload.Codec, rec *Record) ([]byte, error) {
	if rec == nil {
		return nil, ErrNilRecord
	}
	if codec == nil {
		codec = payload.Default()
	}
	data, err := codec.Encode(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	return data, nil
}

// Decode deserializes a record with codec. msgID is reported in the returned
// *DecodeError.
func Decode(codec payload.Codec, data []byte, msgID string) (*Record, error) {
	if codec == nil {
		codec = payload.Default()
	}
	rec := &Record{}
	if err := codec.Decode(data, rec); err != nil {
		return nil, &DecodeError{RawData: data, Err: errors.Join(ErrDecodeFailure, err), MsgID: msgID}
	}
	return rec, nil
}

// ID generation
var counter uint64

// NewID generates a new unique ID
func NewID() string {
	u, err := uuid.NewRandom()
	if err == nil {
		return u.String()
	}
	return strconv.FormatUint(atomic.AddUint64(&counter, 1), 10)
}

// Logger returns a logger with the given component name
func Logger(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

// ContentTypeHeader is the header/field name carrying the codec content type
// on transports that support metadata.
const ContentTypeHeader = "content-type"

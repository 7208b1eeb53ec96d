// Package kafka provides a Kafka publisher for relayed event records.
//
// Records are produced synchronously to the topic "<prefix>.<topic>", keyed
// by the record subject so that the events of one object stay ordered within
// a partition. The codec content type travels in the "content-type" header.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/IBM/sarama"
	"github.com/ttasket/qubes-events/payload"
	"github.com/ttasket/qubes-events/transport"
)

// Errors
var (
	ErrClientRequired = errors.New("kafka client is required")
	ErrProducerFailed = errors.New("failed to create kafka producer")
)

// DefaultTopicPrefix is the topic prefix unless WithTopicPrefix is given.
const DefaultTopicPrefix = "qubes-events"

// Transport implements transport.Publisher using a sarama SyncProducer
type Transport struct {
	status      int32
	producer    sarama.SyncProducer
	topicPrefix string
	codec       payload.Codec
	logger      *slog.Logger
	onError     func(error)
}

// New creates a publisher on an existing producer. The producer config must
// have Producer.Return.Successes enabled, as sarama requires for sync
// producers.
func New(producer sarama.SyncProducer, opts ...Option) (*Transport, error) {
	if producer == nil {
		return nil, ErrClientRequired
	}
	t := &Transport{
		status:      1,
		producer:    producer,
		topicPrefix: DefaultTopicPrefix,
		codec:       payload.Default(),
		logger:      transport.Logger("transport>kafka"),
		onError:     func(error) {},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// NewFromClient creates a publisher with a sync producer built on client.
//
//	config := sarama.NewConfig()
//	config.Producer.Return.Successes = true
//	client, _ := sarama.NewClient([]string{"localhost:9092"}, config)
//	pub, _ := kafka.NewFromClient(client)
func NewFromClient(client sarama.Client, opts ...Option) (*Transport, error) {
	if client == nil {
		return nil, ErrClientRequired
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		return nil, errors.Join(ErrProducerFailed, err)
	}
	return New(producer, opts...)
}

func (t *Transport) isOpen() bool {
	return atomic.LoadInt32(&t.status) == 1
}

// TopicName returns the Kafka topic a relay topic is produced to.
func (t *Transport) TopicName(topic string) string {
	if t.topicPrefix == "" {
		return topic
	}
	return t.topicPrefix + "." + topic
}

// Publish produces rec and waits for the broker acknowledgement.
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

	msg := &sarama.ProducerMessage{
		Topic: t.TopicName(topic),
		Key:   sarama.StringEncoder(rec.Subject),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte(transport.ContentTypeHeader), Value: []byte(t.codec.ContentType())},
			{Key: []byte("record-id"), Value: []byte(rec.ID)},
		},
	}
	partition, offset, err := t.producer.SendMessage(msg)
	if err != nil {
		t.onError(err)
		return fmt.Errorf("kafka produce %s: %w", msg.Topic, err)
	}

	t.logger.Debug("published record",
		"topic", msg.Topic,
		"record", rec.ID,
		"partition", partition,
		"offset", offset)
	return nil
}

// Decode decodes a consumed record, picking the codec from the content-type
// header.
func Decode(msg *sarama.ConsumerMessage) (*transport.Record, error) {
	var contentType string
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == transport.ContentTypeHeader {
			contentType = string(h.Value)
		}
	}
	msgID := fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
	return transport.Decode(payload.ForContentType(contentType), msg.Value, msgID)
}

// Close closes the producer.
func (t *Transport) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&t.status, 1, 0) {
		return nil
	}
	return t.producer.Close()
}

var _ transport.Publisher = (*Transport)(nil)

package transport

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrPublishFailed is the default error of a FailingPublisher.
var ErrPublishFailed = errors.New("publish failed")

// PublishedRecord represents a record that was published during a test
type PublishedRecord struct {
	Topic     string
	Record    *Record
	Timestamp time.Time
}

// RecordingPublisher records every published record.
// If Next is set, records are forwarded to it after being recorded.
type RecordingPublisher struct {
	Next Publisher

	mu      sync.Mutex
	records []PublishedRecord
	closed  bool
}

// NewRecordingPublisher creates a publisher that records everything it is
// given. next may be nil.
func NewRecordingPublisher(next Publisher) *RecordingPublisher {
	return &RecordingPublisher{Next: next}
}

// Publish records the record and delegates to Next
func (p *RecordingPublisher) Publish(ctx context.Context, topic string, rec *Record) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrTransportClosed
	}
	p.records = append(p.records, PublishedRecord{
		Topic:     topic,
		Record:    rec.Clone(),
		Timestamp: time.Now(),
	})
	p.mu.Unlock()

	if p.Next != nil {
		return p.Next.Publish(ctx, topic, rec)
	}
	return nil
}

// Close marks the publisher closed and closes Next.
func (p *RecordingPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	if p.Next != nil {
		return p.Next.Close(ctx)
	}
	return nil
}

// Records returns a copy of all recorded records
func (p *RecordingPublisher) Records() []PublishedRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make([]PublishedRecord, len(p.records))
	copy(result, p.records)
	return result
}

// Events returns the event names of the recorded records, in publish order.
func (p *RecordingPublisher) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, len(p.records))
	for i, r := range p.records {
		names[i] = r.Record.Event
	}
	return names
}

// Count returns the number of recorded records
func (p *RecordingPublisher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

// Reset clears all recorded records
func (p *RecordingPublisher) Reset() {
	p.mu.Lock()
	p.records = nil
	p.mu.Unlock()
}

// FailingPublisher fails publishes with a configured error.
// Useful for testing error handling.
type FailingPublisher struct {
	Next Publisher

	mu       sync.Mutex
	err      error
	failAll  bool
	failNext int
}

// NewFailingPublisher creates a publisher that can be configured to fail.
// next may be nil, in which case successful publishes are discarded.
func NewFailingPublisher(next Publisher) *FailingPublisher {
	return &FailingPublisher{Next: next}
}

// Publish fails if configured, otherwise delegates to Next
func (p *FailingPublisher) Publish(ctx context.Context, topic string, rec *Record) error {
	p.mu.Lock()
	shouldFail := p.failAll || p.failNext > 0
	err := p.err
	if p.failNext > 0 {
		p.failNext--
	}
	p.mu.Unlock()

	if shouldFail {
		if err != nil {
			return err
		}
		return ErrPublishFailed
	}
	if p.Next != nil {
		return p.Next.Publish(ctx, topic, rec)
	}
	return nil
}

// Close closes Next.
func (p *FailingPublisher) Close(ctx context.Context) error {
	if p.Next != nil {
		return p.Next.Close(ctx)
	}
	return nil
}

// FailAll makes all publishes fail with the given error
func (p *FailingPublisher) FailAll(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failAll = true
	p.err = err
}

// FailNext makes the next n publishes fail with the given error
func (p *FailingPublisher) FailNext(n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = n
	p.err = err
}

// Reset clears all failure configuration
func (p *FailingPublisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failAll = false
	p.failNext = 0
	p.err = nil
}

var (
	_ Publisher = (*RecordingPublisher)(nil)
	_ Publisher = (*FailingPublisher)(nil)
)

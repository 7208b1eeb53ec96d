package events

import (
	"context"
	"sync"
	"time"
)

// RecordedCall represents a single handler invocation seen by a Recorder.
type RecordedCall struct {
	Tag        string
	Subject    any
	Event      string
	Args       Args
	Phase      Phase
	Node       string
	DispatchID string
	Time       time.Time
}

// Recorder is a helper for testing dispatch order. Handlers built with
// Handler and Func append a call to the recorder when they run.
type Recorder struct {
	mu    sync.Mutex
	calls []RecordedCall
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Func returns a HandlerFunc that records a call tagged tag and returns
// effects.
func (r *Recorder) Func(tag string, effects ...Effect) HandlerFunc {
	return func(ctx context.Context, subject any, event string, args Args) ([]Effect, error) {
		r.mu.Lock()
		r.calls = append(r.calls, RecordedCall{
			Tag:        tag,
			Subject:    subject,
			Event:      event,
			Args:       args,
			Phase:      ContextPhase(ctx),
			Node:       ContextNode(ctx),
			DispatchID: ContextDispatchID(ctx),
			Time:       time.Now(),
		})
		r.mu.Unlock()
		return effects, nil
	}
}

// Handler returns an unbound handler for events that records calls tagged
// tag. Use On(r.Func(tag), events...) for a bound one.
func (r *Recorder) Handler(tag string, events ...string) *Handler {
	return NewHandler(r.Func(tag), events...).Named(tag)
}

// Calls returns a copy of all recorded calls
func (r *Recorder) Calls() []RecordedCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]RecordedCall, len(r.calls))
	copy(result, r.calls)
	return result
}

// Tags returns the tags of the recorded calls, in invocation order.
func (r *Recorder) Tags() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	tags := make([]string, len(r.calls))
	for i, c := range r.calls {
		tags[i] = c.Tag
	}
	return tags
}

// Count returns the number of recorded calls
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// Last returns the last recorded call, or nil if none
func (r *Recorder) Last() *RecordedCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return nil
	}
	call := r.calls[len(r.calls)-1]
	return &call
}

// Reset clears all recorded calls
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

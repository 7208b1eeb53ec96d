// Package monitor records handler invocations of fired events.
//
// Every invocation gets one Entry, written as pending before the handler runs
// and completed with its outcome afterwards. Entries of one firing call share
// a DispatchID.
//
//	store := monitor.NewMemoryStore()
//	emitter, _ := events.New(vmType, vm,
//	    events.WithMiddleware(monitor.Middleware(store)),
//	)
//
//	page, err := store.List(ctx, monitor.Filter{
//	    Status:    []monitor.Status{monitor.StatusFailed},
//	    StartTime: time.Now().Add(-time.Hour),
//	})
package monitor

import (
	"errors"
	"time"
)

// ErrStoreClosed is returned by a closed store.
var ErrStoreClosed = errors.New("monitor store closed")

// ErrEntryNotFound is returned by UpdateStatus for an unknown entry.
var ErrEntryNotFound = errors.New("monitor entry not found")

// ErrInvalidCursor is returned by List for a cursor it did not issue.
var ErrInvalidCursor = errors.New("invalid cursor")

// Status represents the processing status of a monitor entry.
type Status string

const (
	// StatusPending indicates the handler has started but not returned.
	StatusPending Status = "pending"

	// StatusCompleted indicates the handler returned without error.
	StatusCompleted Status = "completed"

	// StatusFailed indicates the handler returned an error, which aborted
	// the firing call.
	StatusFailed Status = "failed"
)

// Entry is one handler invocation.
type Entry struct {
	ID         string `json:"id"`
	DispatchID string `json:"dispatch_id"`

	// Dispatch context
	Type    string `json:"type"`
	Event   string `json:"event"`
	Phase   string `json:"phase"`
	Node    string `json:"node"`
	Handler string `json:"handler"`
	Bound   bool   `json:"bound"`

	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`

	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`

	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// IsComplete returns true if the handler has returned.
func (e *Entry) IsComplete() bool {
	return e.Status == StatusCompleted || e.Status == StatusFailed
}

// HasError returns true if the entry has an error recorded.
func (e *Entry) HasError() bool {
	return e.Error != ""
}

func (e *Entry) clone() *Entry {
	c := *e
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

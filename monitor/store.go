package monitor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"slices"
	"strings"
	"time"
)

// Store persists monitor entries.
// Implementations must be safe for concurrent use.
type Store interface {
	// Record creates or replaces the entry with entry.ID.
	Record(ctx context.Context, entry *Entry) error

	// Get returns the entry with the given id, or nil if there is none.
	Get(ctx context.Context, id string) (*Entry, error)

	// GetByDispatchID returns the entries of one firing call, in start order.
	GetByDispatchID(ctx context.Context, dispatchID string) ([]*Entry, error)

	// List returns a page of entries matching the filter.
	List(ctx context.Context, filter Filter) (*Page, error)

	// Count returns the number of entries matching the filter.
	Count(ctx context.Context, filter Filter) (int64, error)

	// UpdateStatus completes the entry with id.
	UpdateStatus(ctx context.Context, id string, status Status, err error, duration time.Duration) error

	// DeleteOlderThan removes entries started more than age ago and returns
	// how many were removed.
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// Filter specifies criteria for listing monitor entries.
// All fields are optional. Empty filter returns all entries.
type Filter struct {
	DispatchID string
	Type       string
	Event      string
	Phase      string
	Node       string
	Handler    string

	Status   []Status // empty = all statuses
	HasError *bool    // nil = ignore

	StartTime time.Time // inclusive
	EndTime   time.Time // exclusive

	MinDuration time.Duration

	// Cursor-based pagination
	Cursor    string // Opaque cursor from previous page (empty for first page)
	Limit     int    // Max results per page (0 = default limit)
	OrderDesc bool   // Order by started_at descending (default: ascending)
}

// Page represents a page of monitor entries with cursor-based pagination.
type Page struct {
	Entries []*Entry `json:"entries"`

	// NextCursor is empty on the last page.
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// DefaultLimit is the default page size when Limit is 0.
const DefaultLimit = 100

// MaxLimit is the maximum allowed page size.
const MaxLimit = 1000

// EffectiveLimit returns the effective limit, applying defaults and bounds.
func (f *Filter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultLimit
	}
	if f.Limit > MaxLimit {
		return MaxLimit
	}
	return f.Limit
}

// cursor is the position after the last entry of a page. Entries are ordered
// by (started_at, id).
type cursor struct {
	StartedAt time.Time `json:"s"`
	ID        string    `json:"i"`
}

func encodeCursor(c cursor) string {
	data, _ := json.Marshal(c)
	return base64.URLEncoding.EncodeToString(data)
}

func decodeCursor(s string) (cursor, error) {
	var c cursor
	if s == "" {
		return c, nil
	}
	data, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return c, err
	}
	err = json.Unmarshal(data, &c)
	return c, err
}

// compareEntries orders entries by start time, then id.
func compareEntries(a, b *Entry) int {
	if n := a.StartedAt.Compare(b.StartedAt); n != 0 {
		return n
	}
	return strings.Compare(a.ID, b.ID)
}

// after reports whether e comes after c in the listing order.
func (c cursor) after(e *Entry, desc bool) bool {
	n := compareEntries(e, &Entry{StartedAt: c.StartedAt, ID: c.ID})
	if desc {
		return n < 0
	}
	return n > 0
}

// Match reports whether e satisfies every criterion of the filter. The
// pagination fields are not criteria.
func (f *Filter) Match(e *Entry) bool {
	fields := []struct{ want, got string }{
		{f.DispatchID, e.DispatchID},
		{f.Type, e.Type},
		{f.Event, e.Event},
		{f.Phase, e.Phase},
		{f.Node, e.Node},
		{f.Handler, e.Handler},
	}
	for _, field := range fields {
		if field.want != "" && field.want != field.got {
			return false
		}
	}
	switch {
	case len(f.Status) > 0 && !slices.Contains(f.Status, e.Status):
		return false
	case f.HasError != nil && *f.HasError != e.HasError():
		return false
	case !f.StartTime.IsZero() && e.StartedAt.Before(f.StartTime):
		return false
	case !f.EndTime.IsZero() && !e.StartedAt.Before(f.EndTime):
		return false
	case f.MinDuration > 0 && e.Duration < f.MinDuration:
		return false
	}
	return true
}

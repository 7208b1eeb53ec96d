package monitor

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps monitor entries in a map. The daemon uses it when no
// MongoDB URI is configured; entries do not survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	now     func() time.Time
	closed  bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

// read runs fn under the read lock, failing once the store is closed.
func (s *MemoryStore) read(fn func()) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	fn()
	return nil
}

// write is read for mutations.
func (s *MemoryStore) write(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return fn()
}

// selectEntries returns copies of the entries keep accepts, in listing order.
// Callers hold the lock.
func (s *MemoryStore) selectEntries(keep func(*Entry) bool, desc bool) []*Entry {
	var out []*Entry
	for _, entry := range s.entries {
		if keep(entry) {
			out = append(out, entry.clone())
		}
	}
	slices.SortFunc(out, func(a, b *Entry) int {
		if desc {
			return compareEntries(b, a)
		}
		return compareEntries(a, b)
	})
	return out
}

func (s *MemoryStore) Record(ctx context.Context, entry *Entry) error {
	return s.write(func() error {
		s.entries[entry.ID] = entry.clone()
		return nil
	})
}

// Get returns a copy of the entry, or nil when id is unknown.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Entry, error) {
	var found *Entry
	err := s.read(func() {
		if entry, ok := s.entries[id]; ok {
			found = entry.clone()
		}
	})
	return found, err
}

func (s *MemoryStore) GetByDispatchID(ctx context.Context, dispatchID string) ([]*Entry, error) {
	var entries []*Entry
	err := s.read(func() {
		entries = s.selectEntries(func(e *Entry) bool { return e.DispatchID == dispatchID }, false)
	})
	return entries, err
}

func (s *MemoryStore) List(ctx context.Context, filter Filter) (*Page, error) {
	cur, err := decodeCursor(filter.Cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	var matches []*Entry
	err = s.read(func() {
		matches = s.selectEntries(func(e *Entry) bool {
			return filter.Match(e) && (filter.Cursor == "" || cur.after(e, filter.OrderDesc))
		}, filter.OrderDesc)
	})
	if err != nil {
		return nil, err
	}

	page := &Page{Entries: matches}
	if limit := filter.EffectiveLimit(); len(matches) > limit {
		page.Entries = matches[:limit]
		last := page.Entries[limit-1]
		page.HasMore = true
		page.NextCursor = encodeCursor(cursor{StartedAt: last.StartedAt, ID: last.ID})
	}
	return page, nil
}

func (s *MemoryStore) Count(ctx context.Context, filter Filter) (int64, error) {
	var n int64
	err := s.read(func() {
		for _, entry := range s.entries {
			if filter.Match(entry) {
				n++
			}
		}
	})
	return n, err
}

// UpdateStatus stores the outcome of a handler call. A nil err leaves the
// recorded error untouched.
func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status Status, err error, duration time.Duration) error {
	return s.write(func() error {
		entry, ok := s.entries[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
		}
		completed := s.now()
		entry.Status = status
		entry.Duration = duration
		entry.CompletedAt = &completed
		if err != nil {
			entry.Error = err.Error()
		}
		return nil
	})
}

func (s *MemoryStore) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	var deleted int64
	err := s.write(func() error {
		cutoff := s.now().Add(-age)
		for id, entry := range s.entries {
			if entry.StartedAt.Before(cutoff) {
				delete(s.entries, id)
				deleted++
			}
		}
		return nil
	})
	return deleted, err
}

// Close drops all entries. Every later call fails with ErrStoreClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = nil
	return nil
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

var _ Store = (*MemoryStore)(nil)

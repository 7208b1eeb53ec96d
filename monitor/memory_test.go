package monitor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestEntry(t *testing.T) {
	e := &Entry{Status: StatusPending}
	if e.IsComplete() || e.HasError() {
		t.Fatalf("pending entry reported complete or failed: %+v", e)
	}
	e.Status = StatusFailed
	e.Error = "boom"
	if !e.IsComplete() || !e.HasError() {
		t.Fatalf("failed entry not reported complete with error: %+v", e)
	}
}

func TestFilterMatch(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	entry := &Entry{
		DispatchID: "d1",
		Type:       "AppVM",
		Event:      "domain-start",
		Node:       "QubesVM",
		Status:     StatusFailed,
		Error:      "boom",
		StartedAt:  base,
		Duration:   2 * time.Second,
	}
	yes, no := true, false
	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty", Filter{}, true},
		{"fields", Filter{DispatchID: "d1", Type: "AppVM", Node: "QubesVM"}, true},
		{"other event", Filter{Event: "domain-stop"}, false},
		{"status", Filter{Status: []Status{StatusPending, StatusFailed}}, true},
		{"other status", Filter{Status: []Status{StatusCompleted}}, false},
		{"has error", Filter{HasError: &yes}, true},
		{"no error", Filter{HasError: &no}, false},
		{"start inclusive", Filter{StartTime: base}, true},
		{"end exclusive", Filter{EndTime: base}, false},
		{"min duration", Filter{MinDuration: 3 * time.Second}, false},
		{"cursor ignored", Filter{Cursor: "x", Limit: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Match(entry); got != tt.want {
				t.Errorf("Match = %t, want %t", got, tt.want)
			}
		})
	}
}

func TestFilterEffectiveLimit(t *testing.T) {
	tests := []struct {
		limit int
		want  int
	}{
		{0, DefaultLimit},
		{-1, DefaultLimit},
		{10, 10},
		{MaxLimit + 1, MaxLimit},
	}
	for _, tt := range tests {
		f := Filter{Limit: tt.limit}
		if got := f.EffectiveLimit(); got != tt.want {
			t.Errorf("EffectiveLimit(%d) = %d, want %d", tt.limit, got, tt.want)
		}
	}
}

func seed(t *testing.T, s *MemoryStore, base time.Time, n int) []*Entry {
	t.Helper()
	var entries []*Entry
	for i := range n {
		e := &Entry{
			ID:         fmt.Sprintf("e%02d", i),
			DispatchID: fmt.Sprintf("d%d", i%2),
			Type:       "QubesVM",
			Event:      "domain-start",
			Phase:      "post",
			Node:       "QubesVM",
			Handler:    "h",
			Status:     StatusCompleted,
			StartedAt:  base.Add(time.Duration(i) * time.Second),
			Duration:   time.Duration(i) * time.Millisecond,
		}
		if i%3 == 0 {
			e.Status = StatusFailed
			e.Error = "boom"
		}
		if err := s.Record(context.Background(), e); err != nil {
			t.Fatalf("Record: %v", err)
		}
		entries = append(entries, e)
	}
	return entries
}

func ids(entries []*Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("record and get", func(t *testing.T) {
		s := NewMemoryStore()
		e := &Entry{ID: "a", DispatchID: "d", Status: StatusPending, StartedAt: base}
		if err := s.Record(ctx, e); err != nil {
			t.Fatal(err)
		}
		e.Status = StatusFailed

		got, err := s.Get(ctx, "a")
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != StatusPending {
			t.Errorf("stored entry was mutated through the caller's pointer: %s", got.Status)
		}
		missing, err := s.Get(ctx, "nope")
		if err != nil || missing != nil {
			t.Errorf("Get(missing) = %v, %v; want nil, nil", missing, err)
		}
	})

	t.Run("update status", func(t *testing.T) {
		s := NewMemoryStore()
		s.now = func() time.Time { return base.Add(time.Minute) }
		_ = s.Record(ctx, &Entry{ID: "a", Status: StatusPending, StartedAt: base})

		if err := s.UpdateStatus(ctx, "a", StatusFailed, errors.New("veto"), 5*time.Millisecond); err != nil {
			t.Fatal(err)
		}
		got, _ := s.Get(ctx, "a")
		want := &Entry{
			ID:          "a",
			Status:      StatusFailed,
			Error:       "veto",
			StartedAt:   base,
			CompletedAt: ptr(base.Add(time.Minute)),
			Duration:    5 * time.Millisecond,
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("entry mismatch (-want +got):\n%s", diff)
		}

		err := s.UpdateStatus(ctx, "nope", StatusCompleted, nil, 0)
		if !errors.Is(err, ErrEntryNotFound) {
			t.Errorf("UpdateStatus(missing) = %v, want ErrEntryNotFound", err)
		}
	})

	t.Run("get by dispatch id", func(t *testing.T) {
		s := NewMemoryStore()
		seed(t, s, base, 6)
		got, err := s.GetByDispatchID(ctx, "d1")
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]string{"e01", "e03", "e05"}, ids(got)); diff != "" {
			t.Errorf("ids mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("filters", func(t *testing.T) {
		s := NewMemoryStore()
		seed(t, s, base, 10)
		yes, no := true, false

		tests := []struct {
			name   string
			filter Filter
			want   int64
		}{
			{"all", Filter{}, 10},
			{"dispatch", Filter{DispatchID: "d0"}, 5},
			{"status", Filter{Status: []Status{StatusFailed}}, 4},
			{"has error", Filter{HasError: &yes}, 4},
			{"no error", Filter{HasError: &no}, 6},
			{"start time", Filter{StartTime: base.Add(5 * time.Second)}, 5},
			{"end time", Filter{EndTime: base.Add(5 * time.Second)}, 5},
			{"min duration", Filter{MinDuration: 8 * time.Millisecond}, 2},
			{"event", Filter{Event: "domain-stopped"}, 0},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := s.Count(ctx, tt.filter)
				if err != nil {
					t.Fatal(err)
				}
				if got != tt.want {
					t.Errorf("Count = %d, want %d", got, tt.want)
				}
			})
		}
	})

	t.Run("pagination", func(t *testing.T) {
		s := NewMemoryStore()
		seed(t, s, base, 5)

		for _, desc := range []bool{false, true} {
			var got []string
			filter := Filter{Limit: 2, OrderDesc: desc}
			for {
				page, err := s.List(ctx, filter)
				if err != nil {
					t.Fatal(err)
				}
				got = append(got, ids(page.Entries)...)
				if !page.HasMore {
					if page.NextCursor != "" {
						t.Errorf("last page has a cursor")
					}
					break
				}
				filter.Cursor = page.NextCursor
			}
			want := []string{"e00", "e01", "e02", "e03", "e04"}
			if desc {
				want = []string{"e04", "e03", "e02", "e01", "e00"}
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("desc=%v order mismatch (-want +got):\n%s", desc, diff)
			}
		}
	})

	t.Run("invalid cursor", func(t *testing.T) {
		s := NewMemoryStore()
		if _, err := s.List(ctx, Filter{Cursor: "%%%"}); !errors.Is(err, ErrInvalidCursor) {
			t.Errorf("expected ErrInvalidCursor, got %v", err)
		}
	})

	t.Run("delete older than", func(t *testing.T) {
		s := NewMemoryStore()
		s.now = func() time.Time { return base.Add(10 * time.Second) }
		seed(t, s, base, 10)

		n, err := s.DeleteOlderThan(ctx, 5*time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if n != 5 || s.Len() != 5 {
			t.Errorf("deleted %d, left %d; want 5 and 5", n, s.Len())
		}
	})

	t.Run("closed", func(t *testing.T) {
		s := NewMemoryStore()
		_ = s.Close()
		if err := s.Record(ctx, &Entry{ID: "a"}); !errors.Is(err, ErrStoreClosed) {
			t.Errorf("Record after Close = %v", err)
		}
		if _, err := s.List(ctx, Filter{}); !errors.Is(err, ErrStoreClosed) {
			t.Errorf("List after Close = %v", err)
		}
	})
}

func ptr[T any](v T) *T {
	return &v
}

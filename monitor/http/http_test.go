package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/ttasket/qubes-events/monitor"
)

func newTestHandler(t *testing.T) (*Handler, *monitor.MemoryStore, time.Time) {
	t.Helper()
	ctx := context.Background()
	store := monitor.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	now := time.Now().UTC().Truncate(time.Second)
	for i := range 5 {
		e := &monitor.Entry{
			ID:         fmt.Sprintf("e%d", i),
			DispatchID: fmt.Sprintf("d%d", i%2),
			Type:       "AppVM",
			Event:      "domain-start",
			Phase:      "post",
			Node:       "BaseVM",
			Handler:    "on-start",
			Status:     monitor.StatusCompleted,
			StartedAt:  now.Add(time.Duration(i) * time.Second),
		}
		if i == 4 {
			e.Event = "domain-pre-start"
			e.Status = monitor.StatusFailed
			e.Error = "not enough memory"
			e.StartedAt = now.Add(-48 * time.Hour)
		}
		if err := store.Record(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	return New(store, nil), store, now
}

func serve(t *testing.T, h http.Handler, method, target string, out any) int {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if out != nil && w.Code == http.StatusOK {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s %s: %v", method, target, err)
		}
	}
	return w.Code
}

func ids(entries []*monitor.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestHandlerList(t *testing.T) {
	h, _, _ := newTestHandler(t)

	var page monitor.Page
	if code := serve(t, h, http.MethodGet, "/v1/monitor/entries", &page); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if diff := cmp.Diff([]string{"e4", "e0", "e1", "e2", "e3"}, ids(page.Entries)); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}

	page = monitor.Page{}
	serve(t, h, http.MethodGet, "/v1/monitor/entries?event=domain-start&limit=2&order_desc=true", &page)
	if diff := cmp.Diff([]string{"e3", "e2"}, ids(page.Entries)); diff != "" {
		t.Errorf("first page mismatch (-want +got):\n%s", diff)
	}
	if !page.HasMore || page.NextCursor == "" {
		t.Fatalf("first page has no cursor: %+v", page)
	}

	next := monitor.Page{}
	serve(t, h, http.MethodGet, "/v1/monitor/entries?event=domain-start&limit=2&order_desc=true&cursor="+page.NextCursor, &next)
	if diff := cmp.Diff([]string{"e1", "e0"}, ids(next.Entries)); diff != "" {
		t.Errorf("second page mismatch (-want +got):\n%s", diff)
	}

	failed := monitor.Page{}
	serve(t, h, http.MethodGet, "/v1/monitor/entries?status=failed&has_error=true", &failed)
	if diff := cmp.Diff([]string{"e4"}, ids(failed.Entries)); diff != "" {
		t.Errorf("failed entries mismatch (-want +got):\n%s", diff)
	}
}

func TestHandlerBadQuery(t *testing.T) {
	h, _, _ := newTestHandler(t)
	for _, q := range []string{"has_error=maybe", "limit=ten", "start_time=yesterday", "min_duration=long", "order_desc=up", "cursor=%25%25%25"} {
		if code := serve(t, h, http.MethodGet, "/v1/monitor/entries?"+q, nil); code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, code)
		}
	}
}

func TestHandlerCount(t *testing.T) {
	h, _, _ := newTestHandler(t)
	var resp countResponse
	serve(t, h, http.MethodGet, "/v1/monitor/entries/count?dispatch_id=d0", &resp)
	if resp.Count != 3 {
		t.Errorf("count = %d, want 3", resp.Count)
	}
}

func TestHandlerGet(t *testing.T) {
	h, _, _ := newTestHandler(t)

	var entry monitor.Entry
	if code := serve(t, h, http.MethodGet, "/v1/monitor/entries/e4", &entry); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if entry.Error != "not enough memory" || entry.Status != monitor.StatusFailed {
		t.Errorf("entry = %+v", entry)
	}
	if code := serve(t, h, http.MethodGet, "/v1/monitor/entries/missing", nil); code != http.StatusNotFound {
		t.Errorf("missing entry status = %d", code)
	}

	var resp dispatchResponse
	serve(t, h, http.MethodGet, "/v1/monitor/dispatches/d1", &resp)
	if diff := cmp.Diff([]string{"e1", "e3"}, ids(resp.Entries)); diff != "" {
		t.Errorf("dispatch entries mismatch (-want +got):\n%s", diff)
	}
}

func TestHandlerDelete(t *testing.T) {
	h, store, _ := newTestHandler(t)

	if code := serve(t, h, http.MethodDelete, "/v1/monitor/entries?older_than=1h", nil); code != http.StatusBadRequest {
		t.Errorf("unforced delete status = %d, want 400", code)
	}
	if code := serve(t, h, http.MethodDelete, "/v1/monitor/entries?older_than=-1h&force=true", nil); code != http.StatusBadRequest {
		t.Errorf("negative age status = %d, want 400", code)
	}

	var resp deleteResponse
	if code := serve(t, h, http.MethodDelete, "/v1/monitor/entries", &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if resp.Deleted != 1 || store.Len() != 4 {
		t.Errorf("deleted %d, %d left", resp.Deleted, store.Len())
	}
	if code := serve(t, h, http.MethodPut, "/v1/monitor/entries", nil); code != http.StatusMethodNotAllowed {
		t.Errorf("PUT status = %d, want 405", code)
	}
}

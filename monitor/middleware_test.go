package monitor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	events "github.com/ttasket/qubes-events"
)

type failingStore struct {
	*MemoryStore
}

func (failingStore) Record(context.Context, *Entry) error {
	return errors.New("store down")
}

func (failingStore) UpdateStatus(context.Context, string, Status, error, time.Duration) error {
	return errors.New("store down")
}

func newVM(t *testing.T, mw events.Middleware, handlers ...*events.Handler) *events.Emitter {
	t.Helper()
	reg := events.NewRegistry()
	base := reg.MustDeclare("BaseVM", events.WithHandlers(handlers...))
	vm := reg.MustDeclare("QubesVM", events.WithBases(base))
	return events.MustNew(vm, nil,
		events.WithEventsEnabled(true),
		events.WithMetrics(false),
		events.WithMiddleware(mw),
	)
}

func TestMiddlewareRecordsInvocations(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rec := events.NewRecorder()

	e := newVM(t, Middleware(store), events.On(rec.Func("bound", "ok"), "domain-start").Named("onStart"))
	if err := e.AddHandler("domain-start", rec.Handler("instance")); err != nil {
		t.Fatal(err)
	}

	effects, err := e.FireEvent(ctx, "domain-start", nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]events.Effect{"ok"}, effects); diff != "" {
		t.Errorf("effects mismatch (-want +got):\n%s", diff)
	}

	dispatchID := rec.Last().DispatchID
	got, err := store.GetByDispatchID(ctx, dispatchID)
	if err != nil {
		t.Fatal(err)
	}
	want := []*Entry{
		{DispatchID: dispatchID, Type: "QubesVM", Event: "domain-start", Phase: "post", Node: "BaseVM", Handler: "onStart", Bound: true, Status: StatusCompleted},
		{DispatchID: dispatchID, Type: "QubesVM", Event: "domain-start", Phase: "post", Node: events.NodeInstance, Handler: "instance", Status: StatusCompleted},
	}
	opts := cmpopts.IgnoreFields(Entry{}, "ID", "StartedAt", "CompletedAt", "Duration")
	if len(got) == 2 && got[0].Node != "BaseVM" {
		got[0], got[1] = got[1], got[0]
	}
	if diff := cmp.Diff(want, got, opts); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
	for _, entry := range got {
		if entry.ID == "" || entry.CompletedAt == nil {
			t.Errorf("entry not completed: %+v", entry)
		}
	}
}

func TestMiddlewareRecordsFailure(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	veto := errors.New("veto")

	e := newVM(t, Middleware(store), events.On(func(context.Context, any, string, events.Args) ([]events.Effect, error) {
		return nil, veto
	}, "domain-pre-start").Named("check"))

	_, err := e.FireEventPre(ctx, "domain-pre-start", nil)
	if !errors.Is(err, veto) {
		t.Fatalf("FireEventPre error = %v, want %v", err, veto)
	}

	page, err := store.List(ctx, Filter{Status: []Status{StatusFailed}})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Entries) != 1 {
		t.Fatalf("got %d failed entries, want 1", len(page.Entries))
	}
	entry := page.Entries[0]
	if entry.Error != "veto" || entry.Phase != "pre" || entry.Handler != "check" {
		t.Errorf("unexpected entry: %+v", entry)
	}
}

func TestMiddlewareRecordsPanic(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	boom := events.On(func(context.Context, any, string, events.Args) ([]events.Effect, error) {
		panic("boom")
	}, "domain-start").Named("boom")

	t.Run("recovered", func(t *testing.T) {
		e := newVM(t, events.Chain(events.RecoveryMiddleware(), Middleware(store)), boom)
		_, err := e.FireEvent(ctx, "domain-start", nil)
		if !events.IsHandlerPanic(err) {
			t.Fatalf("FireEvent error = %v, want a handler panic", err)
		}
	})

	t.Run("unrecovered", func(t *testing.T) {
		e := newVM(t, Middleware(store), boom)
		func() {
			defer func() {
				if r := recover(); r != "boom" {
					t.Errorf("recovered %v, want the handler panic", r)
				}
			}()
			_, _ = e.FireEvent(ctx, "domain-start", nil)
		}()
	})

	if n, _ := store.Count(ctx, Filter{Status: []Status{StatusPending}}); n != 0 {
		t.Errorf("%d entries left pending", n)
	}
	page, err := store.List(ctx, Filter{Status: []Status{StatusFailed}})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Entries) != 2 {
		t.Fatalf("got %d failed entries, want 2", len(page.Entries))
	}
	for _, entry := range page.Entries {
		if entry.CompletedAt == nil || entry.Handler != "boom" || !strings.Contains(entry.Error, "boom") {
			t.Errorf("unexpected entry: %+v", entry)
		}
	}
}

func TestMiddlewareEventFilter(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rec := events.NewRecorder()

	e := newVM(t, Middleware(store, WithEvents("domain-start")),
		events.On(rec.Func("h"), "domain-start", "domain-shutdown"))

	for _, ev := range []string{"domain-start", "domain-shutdown"} {
		if _, err := e.FireEvent(ctx, ev, nil); err != nil {
			t.Fatal(err)
		}
	}
	if rec.Count() != 2 {
		t.Fatalf("handler ran %d times, want 2", rec.Count())
	}
	if n, _ := store.Count(ctx, Filter{}); n != 1 {
		t.Errorf("store has %d entries, want 1", n)
	}
}

func TestMiddlewareStoreFailureIgnored(t *testing.T) {
	rec := events.NewRecorder()
	e := newVM(t, Middleware(failingStore{NewMemoryStore()}), events.On(rec.Func("h", 1), "x"))

	effects, err := e.FireEvent(context.Background(), "x", nil)
	if err != nil {
		t.Fatalf("store failure leaked into dispatch: %v", err)
	}
	if diff := cmp.Diff([]events.Effect{1}, effects); diff != "" {
		t.Errorf("effects mismatch (-want +got):\n%s", diff)
	}
}

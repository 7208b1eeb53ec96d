package events

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"syreclabs.com/go/faker"
)

// newTestEmitter creates an enabled emitter with metrics and tracing off.
func newTestEmitter(t *testing.T, typ *Type, subject any, opts ...Option) *Emitter {
	t.Helper()
	base := []Option{WithEventsEnabled(true), WithMetrics(false), WithTracing(false)}
	e, err := New(typ, subject, append(base, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestNewInvalidType(t *testing.T) {
	if _, err := New(nil, nil); !errors.Is(err, ErrInvalidType) {
		t.Errorf("New(nil) = %v, want ErrInvalidType", err)
	}

	var e Emitter
	e.EventsEnabled = true
	if _, err := e.FireEvent(context.Background(), "x", nil); !errors.Is(err, ErrInvalidType) {
		t.Errorf("FireEvent on uninitialized emitter = %v", err)
	}
	if _, err := e.FireEventPre(context.Background(), "x", nil); !errors.Is(err, ErrInvalidType) {
		t.Errorf("FireEventPre on uninitialized emitter = %v", err)
	}

	h := NewRecorder().Handler("h", "x")
	if err := e.AddHandler("x", h); !errors.Is(err, ErrInvalidType) {
		t.Errorf("AddHandler on uninitialized emitter = %v", err)
	}
	if _, err := e.AddHandlerFunc("x", h.Call); !errors.Is(err, ErrInvalidType) {
		t.Errorf("AddHandlerFunc on uninitialized emitter = %v", err)
	}
	if err := e.RemoveHandler("x", h); !errors.Is(err, ErrInvalidType) {
		t.Errorf("RemoveHandler on uninitialized emitter = %v", err)
	}
}

func TestEventsEnabledInit(t *testing.T) {
	reg := NewRegistry()
	off := reg.MustDeclare("Off")
	on := reg.MustDeclare("On", WithBases(off), WithEventsEnabledDefault(true))

	tests := []struct {
		name   string
		typ    *Type
		preset bool
		opts   []Option
		want   bool
	}{
		{"default false", off, false, nil, false},
		{"subtype default true", on, false, nil, true},
		{"preset true kept", off, true, nil, true},
		{"option overrides preset", off, true, []Option{WithEventsEnabled(false)}, false},
		{"option overrides type default", on, false, []Option{WithEventsEnabled(false)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Emitter{EventsEnabled: tt.preset}
			if err := e.Init(tt.typ, nil, tt.opts...); err != nil {
				t.Fatal(err)
			}
			if e.EventsEnabled != tt.want {
				t.Errorf("EventsEnabled = %v, want %v", e.EventsEnabled, tt.want)
			}
		})
	}
}

func TestSubject(t *testing.T) {
	reg := NewRegistry()
	typ := reg.MustDeclare("VM")
	rec := NewRecorder()

	self := newTestEmitter(t, typ, nil)
	if self.Subject() != self {
		t.Error("nil subject does not default to the emitter")
	}

	type host struct{ name string }
	h := &host{name: faker.Internet().UserName()}
	e := newTestEmitter(t, typ, h)
	_ = e.AddHandler("x", rec.Handler("h"))
	if _, err := e.FireEvent(context.Background(), "x", nil); err != nil {
		t.Fatal(err)
	}
	if rec.Last().Subject != h {
		t.Errorf("handler got subject %v, want %v", rec.Last().Subject, h)
	}
}

func TestAddHandler(t *testing.T) {
	reg := NewRegistry()
	e := newTestEmitter(t, reg.MustDeclare("VM"), nil)
	rec := NewRecorder()
	h := rec.Handler("h")

	if err := e.AddHandler("x", nil); !errors.Is(err, ErrNilHandler) {
		t.Errorf("AddHandler(nil) = %v", err)
	}
	if _, err := e.AddHandlerFunc("x", nil); !errors.Is(err, ErrNilHandler) {
		t.Errorf("AddHandlerFunc(nil) = %v", err)
	}

	for range 2 {
		if err := e.AddHandler("x", h); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := e.FireEvent(context.Background(), "x", nil); err != nil {
		t.Fatal(err)
	}
	if rec.Count() != 1 {
		t.Errorf("handler added twice ran %d times, want 1", rec.Count())
	}
	if !e.HasHandler("x", h) || e.HasHandler("y", h) {
		t.Error("HasHandler mismatch")
	}
	if got := e.Handlers("x"); len(got) != 1 || got[0] != h {
		t.Errorf("Handlers(x) = %v", got)
	}
}

func TestRemoveHandler(t *testing.T) {
	reg := NewRegistry()
	typ := reg.MustDeclare("VM")
	e := newTestEmitter(t, typ, nil)
	other := newTestEmitter(t, typ, nil)
	rec := NewRecorder()
	kept := rec.Handler("kept")
	h := rec.Handler("h")
	_ = e.AddHandler("x", kept)

	err := e.RemoveHandler("x", h)
	if !IsNotRegistered(err) {
		t.Fatalf("removing an unknown handler: %v", err)
	}

	before := e.Events()
	if err := e.AddHandler("y", h); err != nil {
		t.Fatal(err)
	}
	if err := e.RemoveHandler("y", h); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(before, e.Events()); diff != "" {
		t.Errorf("add+remove changed the instance table (-want +got):\n%s", diff)
	}

	_ = e.AddHandler("y", h)
	if err := e.RemoveHandler("x", h); !IsNotRegistered(err) {
		t.Errorf("removing for another event: %v", err)
	}
	if err := other.RemoveHandler("y", h); !IsNotRegistered(err) {
		t.Errorf("removing from another emitter: %v", err)
	}
	if err := e.RemoveHandler("y", nil); !IsNotRegistered(err) {
		t.Errorf("removing nil: %v", err)
	}
}

func TestRegistrationIsPerInstance(t *testing.T) {
	reg := NewRegistry()
	typ := reg.MustDeclare("VM")
	a := newTestEmitter(t, typ, nil)
	b := newTestEmitter(t, typ, nil)
	rec := NewRecorder()
	_ = a.AddHandler("x", rec.Handler("a"))

	if _, err := b.FireEvent(context.Background(), "x", nil); err != nil {
		t.Fatal(err)
	}
	if rec.Count() != 0 {
		t.Error("handler added on one emitter ran on another")
	}
	if len(typ.Handlers("x")) != 0 {
		t.Error("instance registration leaked into the type table")
	}
}

package events

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func tagging(tag string, trace *[]string) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, subject any, event string, args Args) ([]Effect, error) {
			*trace = append(*trace, tag+">")
			out, err := next(ctx, subject, event, args)
			*trace = append(*trace, "<"+tag)
			return out, err
		}
	}
}

func TestChain(t *testing.T) {
	var trace []string
	fn := Chain(tagging("a", &trace), tagging("b", &trace))(func(context.Context, any, string, Args) ([]Effect, error) {
		trace = append(trace, "handler")
		return nil, nil
	})
	_, _ = fn(context.Background(), nil, "x", nil)

	if diff := cmp.Diff([]string{"a>", "b>", "handler", "<b", "<a"}, trace); diff != "" {
		t.Errorf("chain order mismatch (-want +got):\n%s", diff)
	}
}

func TestMiddlewareWrapsEveryHandler(t *testing.T) {
	reg := NewRegistry()
	rec := NewRecorder()
	typ := reg.MustDeclare("VM", WithHandlers(On(rec.Func("bound"), "x")))
	var trace []string
	e := newTestEmitter(t, typ, nil, WithMiddleware(tagging("mw", &trace), nil))
	_ = e.AddHandler("x", rec.Handler("instance"))

	if _, err := e.FireEvent(context.Background(), "x", nil); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"mw>", "<mw", "mw>", "<mw"}, trace); diff != "" {
		t.Errorf("middleware calls mismatch (-want +got):\n%s", diff)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	reg := NewRegistry()
	rec := NewRecorder()
	cause := errors.New("disk full")
	typ := reg.MustDeclare("VM", WithHandlers(On(func(context.Context, any, string, Args) ([]Effect, error) {
		panic(cause)
	}, "x").Named("explode")))

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	e := newTestEmitter(t, typ, nil, WithLogger(logger), WithMiddleware(RecoveryMiddleware()))
	_ = e.AddHandler("x", rec.Handler("later"))

	got, err := e.FireEvent(context.Background(), "x", nil)
	if got != nil {
		t.Errorf("effects = %v, want nil", got)
	}
	if !IsHandlerPanic(err) {
		t.Fatalf("error = %v, want a handler panic", err)
	}
	var perr *HandlerPanicError
	errors.As(err, &perr)
	if perr.Handler != "explode" || perr.Event != "x" || len(perr.Stack) == 0 {
		t.Errorf("unexpected panic error: %+v", perr)
	}
	if !errors.Is(err, cause) {
		t.Error("panic value not unwrapped")
	}
	if rec.Count() != 0 {
		t.Error("dispatch continued after a recovered panic")
	}
	if !strings.Contains(logs.String(), "handler panic recovered") {
		t.Errorf("panic not logged: %q", logs.String())
	}
}

func TestLoggingMiddleware(t *testing.T) {
	reg := NewRegistry()
	typ := reg.MustDeclare("VM", WithHandlers(On(effects(1), "x").Named("one")))

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	e := newTestEmitter(t, typ, nil, WithLogger(logger), WithMiddleware(LoggingMiddleware()))

	got, err := e.FireEvent(context.Background(), "x", nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]Effect{1}, got); diff != "" {
		t.Errorf("effects mismatch (-want +got):\n%s", diff)
	}
	out := logs.String()
	for _, want := range []string{"handler called", "handler=one", "node=VM", "component=events>VM"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output misses %q:\n%s", want, out)
		}
	}
}

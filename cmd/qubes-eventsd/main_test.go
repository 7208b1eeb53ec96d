package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
	events "github.com/ttasket/qubes-events"
	"github.com/ttasket/qubes-events/internal/config"
	"github.com/ttasket/qubes-events/transport"
	grpctransport "github.com/ttasket/qubes-events/transport/grpc"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDeclareTypes(t *testing.T) {
	ts, err := declareTypes(events.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}

	var mro []string
	for _, typ := range ts.appVM.MRO() {
		mro = append(mro, typ.Name())
	}
	want := []string{"AppVM", "QubesVM", "BaseVM", "PropertyHolder", "Labeled"}
	if diff := cmp.Diff(want, mro); diff != "" {
		t.Errorf("MRO mismatch (-want +got):\n%s", diff)
	}
	if ts.labeled.Participates() {
		t.Error("Labeled takes part in dispatch")
	}
	if diff := cmp.Diff([]string{"property-set:label", "property-set:memory"}, ts.holder.Events()); diff != "" {
		t.Errorf("PropertyHolder events mismatch (-want +got):\n%s", diff)
	}
}

func newTestDaemon(t *testing.T) (*daemon, *transport.RecordingPublisher) {
	t.Helper()
	pub := transport.NewRecordingPublisher(nil)
	cfg := &config.Config{Transport: config.TransportChannel, Topic: "qubes.events"}
	d, err := newDaemon(cfg, discardLogger(), &relayTarget{publisher: pub}, grpctransport.NewServer(),
		events.WithLogger(discardLogger()),
		events.WithMetrics(false),
		events.WithMiddleware(events.RecoveryMiddleware()),
	)
	if err != nil {
		t.Fatal(err)
	}
	return d, pub
}

func TestDaemonBoot(t *testing.T) {
	ctx := context.Background()
	d, pub := newTestDaemon(t)

	if err := d.boot(ctx); err != nil {
		t.Fatal(err)
	}

	running := map[string]bool{}
	for _, q := range d.qubes {
		running[q.name] = q.running
	}
	if diff := cmp.Diff(map[string]bool{"sys-net": true, "work": true, "untrusted": false}, running); diff != "" {
		t.Errorf("running mismatch (-want +got):\n%s", diff)
	}

	var untrusted []string
	for _, r := range pub.Records() {
		if r.Record.Subject == "untrusted" {
			untrusted = append(untrusted, r.Record.Phase+":"+r.Record.Event)
		}
	}
	// The relay is an instance handler, so it sees the pre event before the
	// type-level veto.
	if diff := cmp.Diff([]string{"post:domain-load", "pre:domain-pre-start"}, untrusted); diff != "" {
		t.Errorf("untrusted records mismatch (-want +got):\n%s", diff)
	}

	for _, r := range pub.Records() {
		if r.Record.Subject == "work" && r.Record.Event == "domain-start" && r.Record.Type != "AppVM" {
			t.Errorf("record type = %q, want AppVM", r.Record.Type)
		}
	}
}

func TestQubeStartEffects(t *testing.T) {
	ctx := context.Background()
	ts, err := declareTypes(events.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	q, err := newQube(ts.appVM, "work", "fedora-42", map[string]any{"memory": 400}, events.WithMetrics(false))
	if err != nil {
		t.Fatal(err)
	}

	effects, err := q.FireEvent(ctx, "domain-start", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(effects) != 0 || q.running {
		t.Fatalf("qube fired before load: effects %v, running %v", effects, q.running)
	}

	if err := q.load(ctx); err != nil {
		t.Fatal(err)
	}
	effects, err = q.FireEvent(ctx, "domain-start", nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]events.Effect{"template:fedora-42"}, effects); diff != "" {
		t.Errorf("effects mismatch (-want +got):\n%s", diff)
	}
	if !q.running {
		t.Error("qube not running after domain-start")
	}

	effects, err = q.setProperty(ctx, "memory", 800)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]events.Effect{"work.memory=800"}, effects); diff != "" {
		t.Errorf("effects mismatch (-want +got):\n%s", diff)
	}
}

func TestQubeStartVeto(t *testing.T) {
	ts, err := declareTypes(events.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	q, err := newQube(ts.qubesVM, "sys-usb", "", nil, events.WithMetrics(false), events.WithEventsEnabled(true))
	if err != nil {
		t.Fatal(err)
	}
	if err := q.start(context.Background()); !errors.Is(err, errNotEnoughMemory) {
		t.Fatalf("start error = %v, want errNotEnoughMemory", err)
	}
	if q.running {
		t.Error("vetoed qube is running")
	}
}

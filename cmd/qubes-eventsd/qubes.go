package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	events "github.com/ttasket/qubes-events"
)

var errNotEnoughMemory = errors.New("not enough memory")

// qube is a host object firing events through its emitter.
type qube struct {
	*events.Emitter

	name     string
	template string
	props    map[string]any
	running  bool
}

func (q *qube) String() string {
	return q.name
}

func (q *qube) memory() int {
	m, _ := q.props["memory"].(int)
	return m
}

// qubeTypes is the declared hierarchy:
//
//	PropertyHolder <- BaseVM <- QubesVM <- AppVM
//	                                 Labeled <-'
type qubeTypes struct {
	holder  *events.Type
	base    *events.Type
	qubesVM *events.Type
	labeled *events.Type
	appVM   *events.Type
}

func declareTypes(reg *events.Registry) (*qubeTypes, error) {
	var (
		ts  qubeTypes
		err error
	)

	ts.holder, err = reg.Declare("PropertyHolder",
		events.WithProperties("name", "label", "memory"),
		events.WithLazyMember("label", func() (any, error) {
			return nil, errors.New("label is set per qube")
		}),
		events.WithHandlers(
			events.On(events.Typed(onPropertySet), "property-set:label", "property-set:memory").Named("onPropertySet"),
		),
	)
	if err != nil {
		return nil, err
	}

	ts.base, err = reg.Declare("BaseVM",
		events.WithBases(ts.holder),
		events.WithHandlers(
			events.On(events.Typed(onPreStart), "domain-pre-start").Named("onPreStart"),
			events.On(events.Typed(onStart), "domain-start").Named("onStart"),
			events.On(events.Typed(onShutdown), "domain-shutdown").Named("onShutdown"),
		),
	)
	if err != nil {
		return nil, err
	}

	ts.qubesVM, err = reg.Declare("QubesVM",
		events.WithBases(ts.base),
		events.WithHandlers(events.On(events.Typed(onStats), "domain-stats").Named("onStats")),
	)
	if err != nil {
		return nil, err
	}

	ts.labeled, err = reg.Declare("Labeled", events.AsPlain())
	if err != nil {
		return nil, err
	}

	ts.appVM, err = reg.Declare("AppVM",
		events.WithBases(ts.qubesVM, ts.labeled),
		events.WithHandlers(events.On(events.Typed(onAppStart), "domain-start").Named("onAppStart")),
	)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

func onPropertySet(ctx context.Context, q *qube, event string, args events.Args) ([]events.Effect, error) {
	name, _ := events.Arg[string](args, "name")
	return []events.Effect{fmt.Sprintf("%s.%s=%v", q, name, args.Get("newvalue"))}, nil
}

func onPreStart(ctx context.Context, q *qube, event string, args events.Args) ([]events.Effect, error) {
	if q.memory() <= 0 {
		return nil, fmt.Errorf("%w: %s", errNotEnoughMemory, q)
	}
	return nil, nil
}

func onStart(ctx context.Context, q *qube, event string, args events.Args) ([]events.Effect, error) {
	q.running = true
	return nil, nil
}

func onShutdown(ctx context.Context, q *qube, event string, args events.Args) ([]events.Effect, error) {
	q.running = false
	return nil, nil
}

func onStats(ctx context.Context, q *qube, event string, args events.Args) ([]events.Effect, error) {
	return []events.Effect{map[string]any{"qube": q.name, "memory": q.memory(), "running": q.running}}, nil
}

func onAppStart(ctx context.Context, q *qube, event string, args events.Args) ([]events.Effect, error) {
	return []events.Effect{"template:" + q.template}, nil
}

// newQube creates a qube of typ. Events stay disabled until the qube is
// loaded.
func newQube(typ *events.Type, name, template string, props map[string]any, opts ...events.Option) (*qube, error) {
	q := &qube{name: name, template: template, props: maps.Clone(props)}
	if q.props == nil {
		q.props = make(map[string]any)
	}
	emitter, err := events.New(typ, q, opts...)
	if err != nil {
		return nil, err
	}
	q.Emitter = emitter
	return q, nil
}

func (q *qube) load(ctx context.Context) error {
	q.EventsEnabled = true
	_, err := q.FireEvent(ctx, "domain-load", nil)
	return err
}

func (q *qube) start(ctx context.Context) error {
	if _, err := q.FireEventPre(ctx, "domain-pre-start", events.NewArgs("start_guid", true)); err != nil {
		return err
	}
	_, err := q.FireEvent(ctx, "domain-start", events.NewArgs("start_guid", true))
	return err
}

func (q *qube) shutdown(ctx context.Context) error {
	if _, err := q.FireEventPre(ctx, "domain-pre-shutdown", nil); err != nil {
		return err
	}
	_, err := q.FireEvent(ctx, "domain-shutdown", nil)
	return err
}

func (q *qube) setProperty(ctx context.Context, name string, value any) ([]events.Effect, error) {
	old := q.props[name]
	args := events.NewArgs("name", name, "newvalue", value, "oldvalue", old)
	if _, err := q.FireEventPre(ctx, "property-pre-set:"+name, args); err != nil {
		return nil, err
	}
	q.props[name] = value
	return q.FireEvent(ctx, "property-set:"+name, args)
}

// newAuditExtension logs every event fired on a VM.
func newAuditExtension(logger *slog.Logger, base *events.Type) *events.Extension {
	ext := events.NewExtension("audit", base)
	ext.Handle(func(ctx context.Context, subject any, event string, args events.Args) ([]events.Effect, error) {
		logger.Info("qube event",
			"qube", fmt.Sprint(subject),
			"event", event,
			"phase", events.ContextPhase(ctx),
			"dispatch_id", events.ContextDispatchID(ctx))
		return nil, nil
	}, events.AnyEvent)
	return ext
}

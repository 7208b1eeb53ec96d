// Command qubes-eventsd runs a small qube hierarchy on the events engine and
// relays every fired event to the configured transport and to a gRPC feed.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	events "github.com/ttasket/qubes-events"
	"github.com/ttasket/qubes-events/internal/config"
	"github.com/ttasket/qubes-events/internal/telemetry"
	"github.com/ttasket/qubes-events/monitor"
	monitorhttp "github.com/ttasket/qubes-events/monitor/http"
	grpctransport "github.com/ttasket/qubes-events/transport/grpc"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"google.golang.org/grpc"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "qubes-eventsd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := telemetry.SetupLogging(os.Stdout, cfg.ServiceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	feed := grpctransport.NewServer(grpctransport.WithLogger(logger))
	target, err := newRelayTarget(ctx, cfg, feed, logger)
	if err != nil {
		return fmt.Errorf("transport %s: %w", cfg.Transport, err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
		defer cancel()
		if err := errors.Join(target.close(sctx), feed.Close(sctx)); err != nil {
			logger.Warn("transport close failed", "error", err)
		}
	}()

	mw := []events.Middleware{events.RecoveryMiddleware(), events.LoggingMiddleware()}
	var store monitor.Store
	if cfg.MonitorEnabled() {
		var closeStore func()
		store, closeStore, err = openMonitor(ctx, cfg)
		if err != nil {
			return fmt.Errorf("monitor: %w", err)
		}
		defer closeStore()
		mw = append(mw, monitor.Middleware(store, monitor.WithLogger(logger)))
	}
	if cfg.MonitorHTTPAddr != "" {
		stopHTTP, err := serveMonitor(cfg, store, logger)
		if err != nil {
			return err
		}
		defer stopHTTP()
	}

	d, err := newDaemon(cfg, logger, target, feed,
		events.WithLogger(logger),
		events.WithTracing(cfg.OTLPEndpoint != ""),
		events.WithMiddleware(mw...),
	)
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}
	srv := grpc.NewServer()
	feed.Register(srv)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(lis)
	}()
	logger.Info("event feed listening", "addr", lis.Addr().String(), "transport", cfg.Transport)

	if err := d.boot(ctx); err != nil {
		logger.Error("boot failed", "error", err)
	}

	ticker := time.NewTicker(cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			if err := d.shutdown(context.Background()); err != nil {
				logger.Warn("shutdown events failed", "error", err)
			}
			_ = feed.Close(context.Background())
			srv.GracefulStop()
			return nil
		case err := <-serveErr:
			return fmt.Errorf("grpc serve: %w", err)
		case <-ticker.C:
			d.stats(ctx)
			if store != nil {
				if n, err := store.DeleteOlderThan(ctx, cfg.MonitorTTL); err != nil {
					logger.Warn("monitor cleanup failed", "error", err)
				} else if n > 0 {
					logger.Debug("monitor cleanup", "deleted", n)
				}
			}
		}
	}
}

// openMonitor returns the MongoDB store when a URI is configured and an
// in-memory store otherwise.
func openMonitor(ctx context.Context, cfg *config.Config) (monitor.Store, func(), error) {
	if cfg.MongoURI == "" {
		store := monitor.NewMemoryStore()
		return store, func() { _ = store.Close() }, nil
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, nil, err
	}
	disconnect := func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
		defer cancel()
		_ = client.Disconnect(sctx)
	}
	store := monitor.NewMongoStore(client.Database(cfg.MongoDatabase), monitor.WithTTL(cfg.MonitorTTL))
	if err := store.EnsureIndexes(ctx); err != nil {
		disconnect()
		return nil, nil, err
	}
	return store, disconnect, nil
}

func serveMonitor(cfg *config.Config, store monitor.Store, logger *slog.Logger) (func(), error) {
	lis, err := net.Listen("tcp", cfg.MonitorHTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.MonitorHTTPAddr, err)
	}
	srv := &http.Server{
		Handler:           monitorhttp.New(store, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("monitor http serve failed", "error", err)
		}
	}()
	logger.Info("monitor api listening", "addr", lis.Addr().String())
	return func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}, nil
}

// daemon owns the qubes and the relays attached to them. Qubes are only
// touched from the goroutine running the daemon loop.
type daemon struct {
	logger *slog.Logger
	types  *qubeTypes
	relays []*events.Relay
	audit  *events.Extension
	qubes  []*qube
}

func newDaemon(cfg *config.Config, logger *slog.Logger, target *relayTarget, feed *grpctransport.Server, opts ...events.Option) (*daemon, error) {
	types, err := declareTypes(events.NewRegistry())
	if err != nil {
		return nil, err
	}

	relayOpts := []events.RelayOption{events.WithRelayTopic(cfg.Topic), events.WithRelayLogger(logger)}
	if target.limiter != nil {
		relayOpts = append(relayOpts, events.WithRelayLimiter(target.limiter))
	}
	relay, err := events.NewRelay(target.publisher, relayOpts...)
	if err != nil {
		return nil, err
	}
	d := &daemon{
		logger: logger,
		types:  types,
		relays: []*events.Relay{relay},
		audit:  newAuditExtension(logger, types.base),
	}
	if cfg.Transport != config.TransportGRPC {
		feedRelay, err := events.NewRelay(feed, events.WithRelayTopic(cfg.Topic), events.WithRelayLogger(logger))
		if err != nil {
			return nil, err
		}
		d.relays = append(d.relays, feedRelay)
	}

	for _, def := range []struct {
		typ      *events.Type
		name     string
		template string
		props    map[string]any
	}{
		{types.qubesVM, "sys-net", "", map[string]any{"label": "red", "memory": 400}},
		{types.appVM, "work", "fedora-42", map[string]any{"label": "blue", "memory": 4000}},
		{types.appVM, "untrusted", "debian-13", map[string]any{"label": "red"}},
	} {
		q, err := newQube(def.typ, def.name, def.template, def.props, opts...)
		if err != nil {
			return nil, err
		}
		for _, r := range d.relays {
			if err := r.Attach(q.Emitter); err != nil {
				return nil, err
			}
		}
		if err := d.audit.Attach(q.Emitter); err != nil {
			return nil, err
		}
		d.qubes = append(d.qubes, q)
	}
	return d, nil
}

// boot loads and starts every qube. A qube whose start is vetoed stays
// halted.
func (d *daemon) boot(ctx context.Context) error {
	var errs []error
	for _, q := range d.qubes {
		if err := q.load(ctx); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := q.start(ctx); err != nil {
			d.logger.Warn("qube start vetoed", "qube", q.name, "error", err)
			continue
		}
		effects, err := q.setProperty(ctx, "label", q.props["label"])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		d.logger.Info("qube started", "qube", q.name, "type", q.Type().Name(), "effects", effects)
	}
	return errors.Join(errs...)
}

func (d *daemon) stats(ctx context.Context) {
	for _, q := range d.qubes {
		if !q.running {
			continue
		}
		effects, err := q.FireEvent(ctx, "domain-stats", events.NewArgs("interval", true))
		if err != nil {
			d.logger.Warn("stats failed", "qube", q.name, "error", err)
			continue
		}
		d.logger.Debug("stats", "qube", q.name, "effects", effects)
	}
	for _, r := range d.relays {
		s := r.Stats()
		d.logger.Debug("relay stats", "published", s.Published, "dropped", s.Dropped, "failed", s.Failed)
	}
}

func (d *daemon) shutdown(ctx context.Context) error {
	var errs []error
	for _, q := range d.qubes {
		if !q.running {
			continue
		}
		if err := q.shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Package streamgate runs the camera gateway control plane: relay hook events
// arrive on a unix socket, each stream path gets a worker process while it has
// demand, and every lifecycle change is published to the configured
// transports. The cmd/streamgate binary is a thin wrapper; Open can also be
// used to embed the gateway.
package streamgate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"

	"github.com/loykin/streamgate/internal/catalog"
	catalogfactory "github.com/loykin/streamgate/internal/catalog/factory"
	"github.com/loykin/streamgate/internal/config"
	"github.com/loykin/streamgate/internal/demand"
	historyfactory "github.com/loykin/streamgate/internal/history/factory"
	"github.com/loykin/streamgate/internal/intake"
	"github.com/loykin/streamgate/internal/manager"
	"github.com/loykin/streamgate/internal/metrics"
	"github.com/loykin/streamgate/internal/process"
	"github.com/loykin/streamgate/internal/publish"
	"github.com/loykin/streamgate/internal/server"
	gatetls "github.com/loykin/streamgate/internal/tls"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.Config

type Entity = catalog.Entity

type PathStatus = demand.PathStatus

type Status = process.Status

type Event = intake.Event

func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// Gateway is one running control plane.
type Gateway struct {
	cfg    *config.Config
	log    *slog.Logger
	mgr    *manager.Manager
	orch   *demand.Orchestrator
	intake *intake.Listener
	bus    *publish.Bus
	hub    *publish.Hub
	usage  *metrics.UsageCollector
	http   *http.Server

	// closed last, after every producer has stopped
	closers []io.Closer
}

// Preflight fails fast when the worker binary cannot be found.
func Preflight(d demand.Config) error {
	cmd := d.Worker.Command
	if strings.Contains(cmd, "{") {
		return nil
	}
	if _, err := exec.LookPath(cmd); err != nil {
		return fmt.Errorf("worker command %q: %w", cmd, err)
	}
	return nil
}

// Open wires every component described by cfg and starts accepting relay
// events. ctx bounds background samplers and catalog setup; call Close to stop.
func Open(ctx context.Context, cfg *Config, log *slog.Logger) (g *Gateway, err error) {
	if log == nil {
		log = slog.Default()
	}
	dcfg := cfg.Orchestration()
	if err := Preflight(dcfg); err != nil {
		return nil, err
	}
	g = &Gateway{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			_ = g.Close(context.Background())
		}
	}()

	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	g.usage = metrics.NewUsageCollector(cfg.Metrics.Usage, log)
	if cfg.Metrics.Enabled {
		if err := g.usage.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("register usage metrics: %w", err)
		}
	}

	g.mgr = manager.NewManager(log)
	env, err := cfg.GlobalEnv()
	if err != nil {
		return nil, fmt.Errorf("global env: %w", err)
	}
	g.mgr.SetGlobalEnv(env)

	cat, err := g.openCatalog(ctx)
	if err != nil {
		return nil, err
	}
	if err := g.openPublishers(ctx); err != nil {
		return nil, err
	}

	g.orch = demand.New(dcfg, g.mgr, cat, g.bus, log)
	g.intake = intake.NewListener(log)
	g.orch.Bind(g.intake)
	if err := g.intake.Listen(cfg.Intake.Socket); err != nil {
		return nil, err
	}
	if err := g.orch.Start(); err != nil {
		return nil, err
	}
	g.usage.Start(ctx, g.mgr.Running)

	if cfg.Server.Enabled {
		opts := server.Options{
			Processes: g.mgr,
			Paths:     g.orch,
			Usage:     g.usage,
			Metrics:   cfg.Metrics.Enabled,
			Log:       log,
		}
		if g.hub != nil {
			opts.Live = g.hub
		}
		if opts.TLS, err = gatetls.Setup(cfg.Server.TLS); err != nil {
			return nil, fmt.Errorf("tls: %w", err)
		}
		g.http, err = server.NewServer(cfg.Server.Listen, cfg.Server.BasePath, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP server: %w", err)
		}
		log.Info("status API listening", "addr", cfg.Server.Listen, "base_path", cfg.Server.BasePath, "tls", opts.TLS != nil)
	}
	log.Info("streamgate running", "socket", cfg.Intake.Socket, "worker", dcfg.Worker.Command)
	return g, nil
}

// openCatalog returns the DSN-backed store, seeded with any static entries,
// or a static catalog that follows config file edits.
func (g *Gateway) openCatalog(ctx context.Context) (catalog.Catalog, error) {
	cfg := g.cfg.Catalog
	if cfg.DSN == "" {
		static := catalog.NewStatic(cfg.Paths)
		if g.cfg.File() != "" {
			if err := g.cfg.WatchCatalog(g.log, static.Replace); err != nil {
				return nil, err
			}
		}
		g.log.Info("catalog ready", "source", "static", "paths", len(cfg.Paths))
		return static, nil
	}
	store, err := catalogfactory.NewFromDSN(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	g.closers = append(g.closers, store)
	for _, e := range cfg.Paths {
		if e.ID == "" {
			e.ID = e.Path
		}
		if err := store.Upsert(ctx, e); err != nil {
			return nil, fmt.Errorf("seed catalog %s: %w", e.Path, err)
		}
	}
	g.log.Info("catalog ready", "source", "dsn", "seeded", len(cfg.Paths))
	return store, nil
}

func (g *Gateway) openPublishers(ctx context.Context) error {
	cfg := g.cfg.Publish
	g.bus = publish.NewBus(g.log, cfg.Timeout)
	if cfg.WebSocket {
		g.hub = publish.NewHub(g.log, cfg.Hub)
		g.bus.Add(g.hub)
		g.closers = append(g.closers, g.hub)
	}
	if cfg.Redis.Addr != "" {
		r, err := publish.NewRedisPublisher(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis publisher: %w", err)
		}
		g.bus.Add(r)
		g.closers = append(g.closers, r)
	}
	if cfg.HistoryDSN != "" {
		sink, err := historyfactory.NewSinkFromDSN(cfg.HistoryDSN)
		if err != nil {
			return fmt.Errorf("history sink: %w", err)
		}
		t := publish.NewSinkTransport("history", sink)
		g.bus.Add(t)
		g.closers = append(g.closers, t)
	}
	g.log.Info("publishers ready", "transports", strings.Join(g.bus.Transports(), ","))
	return nil
}

// Dispatch feeds a relay event in without going through the socket.
func (g *Gateway) Dispatch(name string, fields map[string]string) error {
	if _, ok := intake.RequiredFields[name]; !ok {
		return fmt.Errorf("unknown event %q", name)
	}
	ev := intake.Event{Name: name, Fields: fields}
	if err := ev.Validate(); err != nil {
		return err
	}
	return g.orch.Dispatch(ev)
}

// Paths returns the demand state of every path seen so far.
func (g *Gateway) Paths() []PathStatus { return g.orch.Paths() }

// Path returns the demand state of one path.
func (g *Gateway) Path(path string) (PathStatus, bool) { return g.orch.Path(path) }

// Processes returns the status of every worker.
func (g *Gateway) Processes() []Status { return g.mgr.List() }

// Transports names the publish transports in use.
func (g *Gateway) Transports() []string { return g.bus.Transports() }

// Flush waits until every accepted event has been handled and published.
func (g *Gateway) Flush(ctx context.Context) error { return g.orch.Flush(ctx) }

// Close stops intake first so no new demand arrives, then tears down paths
// (publishing their final events) and the supervisor, then the transports.
func (g *Gateway) Close(ctx context.Context) error {
	var errs []error
	if g.http != nil {
		if err := g.http.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, fmt.Errorf("http: %w", err))
		}
	}
	if g.intake != nil {
		if err := g.intake.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("intake: %w", err))
		}
	}
	if g.orch != nil {
		if err := g.orch.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("orchestrator: %w", err))
		}
	}
	if g.usage != nil {
		g.usage.Stop()
	}
	if g.mgr != nil {
		if err := g.mgr.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("supervisor: %w", err))
		}
	}
	for i := len(g.closers) - 1; i >= 0; i-- {
		if err := g.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	g.closers = nil
	return errors.Join(errs...)
}

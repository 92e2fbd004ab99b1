// Package themerig wires the environment orchestrator together for
// embedding and for the themerig command.
package themerig

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/themerig/internal/config"
	"github.com/loykin/themerig/internal/env"
	"github.com/loykin/themerig/internal/health"
	"github.com/loykin/themerig/internal/metrics"
	"github.com/loykin/themerig/internal/orchestrator"
	"github.com/loykin/themerig/internal/provision"
	"github.com/loykin/themerig/internal/server"
	"github.com/loykin/themerig/internal/store"
	"github.com/loykin/themerig/internal/store/factory"
	"github.com/loykin/themerig/internal/supervisor"
	"github.com/loykin/themerig/internal/tools"
	"github.com/loykin/themerig/internal/workflow"
)

// Re-export core types for external consumers.

type Config = config.Config

type CreateResult = orchestrator.CreateResult

type CaptureResult = orchestrator.CaptureResult

type EnvironmentStatus = orchestrator.EnvironmentStatus

type CaptureRun = store.CaptureRun

type ServiceEvent = store.ServiceEvent

type Runner = workflow.Runner

// LoadConfig reads defaults, the optional TOML file at path and the
// environment.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

type Options struct {
	// Runner replaces the browser workflow, mostly for tests.
	Runner Runner
	Logger *slog.Logger
	// Registerer receives the metrics when cfg.Server.Metrics is set;
	// nil uses the Prometheus default registerer.
	Registerer prometheus.Registerer
}

// App owns one supervisor, orchestrator and history store.
type App struct {
	cfg     *Config
	log     *slog.Logger
	history store.Store
	sup     *supervisor.Supervisor
	prov    *provision.Provisioner
	orch    *orchestrator.Orchestrator

	closeOnce sync.Once
	closeErr  error
}

func New(cfg *Config, opts Options) (*App, error) {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Server.Metrics {
		reg := opts.Registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		if err := metrics.Register(reg); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	globalEnv, err := cfg.GlobalEnv()
	if err != nil {
		return nil, fmt.Errorf("global env: %w", err)
	}
	hist, err := openHistory(cfg, log)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log, history: hist}
	var events supervisor.EventRecorder
	var captures orchestrator.CaptureRecorder
	if hist != nil {
		events, captures = hist, hist
	}
	a.sup = supervisor.New(supervisor.Options{
		Backend:      cfg.Service(supervisor.Backend),
		Frontend:     cfg.Service(supervisor.Frontend),
		Probe:        health.New(nil, log.With("component", "health")),
		CheckTimeout: cfg.Health.Timeout,
		PollInterval: cfg.Health.Interval,
		BaseEnv:      env.FromList(globalEnv),
		History:      events,
		Logger:       log.With("component", "supervisor"),
	})
	a.prov = provision.New(cfg.Paths.Configs, cfg.Paths.BaseTemplate, cfg.Paths.Artifacts, log.With("component", "provision"))

	runner := opts.Runner
	if runner == nil {
		runner = workflow.NewBrowserRunner(cfg.Workflow(), log.With("component", "workflow"))
	}
	a.orch = orchestrator.New(orchestrator.Options{
		Supervisor:  a.sup,
		Provisioner: a.prov,
		Runner:      runner,
		History:     captures,
		FrontendURL: cfg.Frontend.URL,
		Logger:      log.With("component", "orchestrator"),
	})
	return a, nil
}

// openHistory returns nil when the store is disabled. A store that cannot
// be opened is an error; writes that fail later are only logged.
func openHistory(cfg *Config, log *slog.Logger) (store.Store, error) {
	st, err := factory.NewFromDSN(cfg.Store.DSN)
	if errors.Is(err, factory.ErrDisabled) {
		log.Info("history store disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := st.EnsureSchema(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("history schema: %w", err)
	}
	if cfg.Store.Retention > 0 {
		n, err := st.PurgeOlderThan(ctx, time.Now().Add(-cfg.Store.Retention))
		if err != nil {
			log.Warn("purging history failed", "error", err)
		} else if n > 0 {
			log.Info("purged history", "rows", n)
		}
	}
	return st, nil
}

func (a *App) Config() *Config { return a.cfg }

func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

func (a *App) Supervisor() *supervisor.Supervisor { return a.sup }

// History returns the store, or nil when history is disabled.
func (a *App) History() store.Store { return a.history }

func (a *App) CreateEnvironment(ctx context.Context, target string) CreateResult {
	return a.orch.CreateEnvironment(ctx, target)
}

func (a *App) GetScreenshots(ctx context.Context, target string) CaptureResult {
	return a.orch.GetScreenshots(ctx, target)
}

func (a *App) Status(ctx context.Context) EnvironmentStatus { return a.orch.Status(ctx) }

// Router builds the HTTP API for this app.
func (a *App) Router() *server.Router {
	opts := server.Options{
		BasePath: a.cfg.Server.BasePath,
		Metrics:  a.cfg.Server.Metrics,
		Logger:   a.log.With("component", "http"),
	}
	if a.history != nil {
		opts.History = a.history
	}
	return server.NewRouter(a.orch, opts)
}

// Tools builds the MCP tool server for this app.
func (a *App) Tools(version string) *tools.Server {
	return tools.New(a.orch, version, a.log.With("component", "tools"))
}

// Close stops both services and releases the history store. Safe to call
// more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		a.orch.Shutdown()
		if a.history != nil {
			a.closeErr = a.history.Close()
		}
	})
	return a.closeErr
}

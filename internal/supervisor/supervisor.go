// Package supervisor owns the lifecycle of the backend and frontend
// services: at most one tracked process per name, health-gated startup and
// graceful-then-forced shutdown.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/themerig/internal/env"
	"github.com/loykin/themerig/internal/health"
	"github.com/loykin/themerig/internal/metrics"
	"github.com/loykin/themerig/internal/process"
	"github.com/loykin/themerig/internal/store"
)

// Prober is the subset of health.Probe the supervisor uses.
type Prober interface {
	CheckService(ctx context.Context, service, url string, timeout time.Duration) bool
	WaitService(ctx context.Context, service, url string, timeout, interval, attempt time.Duration) bool
}

// EventRecorder receives lifecycle events. Failures are logged only.
type EventRecorder interface {
	RecordEvent(ctx context.Context, ev store.ServiceEvent) error
}

type Options struct {
	Backend      ServiceConfig
	Frontend     ServiceConfig
	Probe        Prober
	CheckTimeout time.Duration
	PollInterval time.Duration
	// BaseEnv is the environment services start from; nil means the
	// current OS environment.
	BaseEnv *env.Env
	History EventRecorder
	Logger  *slog.Logger
}

// Supervisor is constructed once per process and injected where needed.
//
// Lock order: mu, then process.Process internals. mu is held across the
// launch of a new process.
type Supervisor struct {
	mu       sync.Mutex
	entries  map[string]*entry
	lastErrs map[string]string

	services     map[string]ServiceConfig
	probe        Prober
	checkTimeout time.Duration
	pollInterval time.Duration
	baseEnv      *env.Env
	history      EventRecorder
	log          *slog.Logger

	shuttingDown atomic.Bool
	watchers     sync.WaitGroup
}

func New(opts Options) *Supervisor {
	s := &Supervisor{
		entries:      make(map[string]*entry),
		lastErrs:     make(map[string]string),
		services:     map[string]ServiceConfig{Backend: opts.Backend, Frontend: opts.Frontend},
		probe:        opts.Probe,
		checkTimeout: opts.CheckTimeout,
		pollInterval: opts.PollInterval,
		baseEnv:      opts.BaseEnv,
		history:      opts.History,
		log:          opts.Logger,
	}
	if s.log == nil {
		s.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.probe == nil {
		s.probe = health.New(nil, s.log)
	}
	if s.checkTimeout <= 0 {
		s.checkTimeout = health.DefaultTimeout
	}
	if s.pollInterval <= 0 {
		s.pollInterval = health.DefaultInterval
	}
	if s.baseEnv == nil {
		s.baseEnv = env.New()
	}
	for name, svc := range s.services {
		svc.Spec.Name = name
		s.services[name] = svc
		metrics.SetState(name, StateAbsent.String(), allStates)
	}
	return s
}

func (s *Supervisor) StartBackend(ctx context.Context) bool  { return s.Start(ctx, Backend) }
func (s *Supervisor) StartFrontend(ctx context.Context) bool { return s.Start(ctx, Frontend) }
func (s *Supervisor) StopBackend() bool                       { return s.Stop(Backend) }
func (s *Supervisor) StopFrontend() bool                      { return s.Stop(Frontend) }

// Start launches name and blocks until it is healthy or its startup timeout
// elapses. If name is already tracked it returns true without launching.
// On any failure the entry is removed before returning false; the caller
// may simply call Start again.
func (s *Supervisor) Start(ctx context.Context, name string) bool {
	svc, ok := s.services[name]
	if !ok {
		s.log.Error("unknown service", slog.String("service", name))
		return false
	}

	s.mu.Lock()
	if s.shuttingDown.Load() {
		s.mu.Unlock()
		s.log.Warn("refusing start during shutdown", slog.String("service", name))
		return false
	}
	if e, tracked := s.entries[name]; tracked {
		st := e.state
		s.mu.Unlock()
		s.log.Info("service already tracked", slog.String("service", name), slog.String("state", st.String()))
		return true
	}
	if err := svc.Spec.Validate(); err != nil {
		s.mu.Unlock()
		s.fail(name, 0, "launch", err)
		return false
	}
	s.log.Info("starting service",
		slog.String("service", name),
		slog.String("command", svc.Spec.Command),
		slog.String("workdir", svc.Spec.WorkDir))

	// The entry becomes visible only once the process exists, so Stop and
	// CleanupAll never see a tracked entry without a pid.
	e := &entry{proc: process.New(svc.Spec), state: StateStarting}
	launched := time.Now()
	if err := e.proc.Start(s.baseEnv.With(svc.Spec.Env).List()); err != nil {
		s.mu.Unlock()
		s.fail(name, 0, "launch", err)
		return false
	}
	s.entries[name] = e
	delete(s.lastErrs, name)
	s.watchers.Add(1)
	metrics.SetState(name, StateStarting.String(), allStates)
	s.mu.Unlock()
	pid := e.proc.PID()
	go s.watch(name, e)

	if err := s.awaitHealthy(ctx, name, svc, e); err != nil {
		s.mu.Lock()
		if s.entries[name] == e {
			e.state = StateStopping
			e.stopRequested = true
		}
		s.mu.Unlock()
		if forced, stopErr := e.proc.Stop(svc.StopGrace); stopErr != nil {
			s.log.Error("reaping failed start", slog.String("service", name), slog.Int("pid", pid), slog.Any("error", stopErr))
		} else if forced {
			s.log.Warn("failed start needed SIGKILL", slog.String("service", name), slog.Int("pid", pid))
		}
		s.untrack(name, e)
		reason := "health_timeout"
		switch {
		case errors.Is(err, ErrExitedDuringStartup):
			reason = "exited"
		case errors.Is(err, context.Canceled):
			reason = "cancelled"
		}
		s.fail(name, pid, reason, err)
		return false
	}

	s.mu.Lock()
	current := s.entries[name] == e
	if current {
		e.state = StateHealthy
	}
	s.mu.Unlock()
	if !current {
		// stopped or exited while we were waiting
		s.log.Warn("service left the registry before becoming healthy", slog.String("service", name))
		return false
	}
	elapsed := time.Since(launched)
	metrics.SetState(name, StateHealthy.String(), allStates)
	metrics.IncStart(name)
	metrics.ObserveStartDuration(name, elapsed.Seconds())
	s.record(store.ServiceEvent{Service: name, Event: store.EventStart, PID: pid})
	s.log.Info("service healthy",
		slog.String("service", name),
		slog.Int("pid", pid),
		slog.Duration("elapsed", elapsed.Round(time.Millisecond)))
	return true
}

// awaitHealthy polls the service URL, giving up early if the process dies.
func (s *Supervisor) awaitHealthy(ctx context.Context, name string, svc ServiceConfig, e *entry) error {
	waitCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go func() {
		select {
		case <-e.proc.Done():
			cancel(ErrExitedDuringStartup)
		case <-waitCtx.Done():
		}
	}()

	if s.probe.WaitService(waitCtx, name, svc.URL, svc.StartupTimeout, s.pollInterval, s.checkTimeout) {
		return nil
	}
	if cause := context.Cause(waitCtx); cause != nil {
		if errors.Is(cause, ErrExitedDuringStartup) {
			if exitErr := e.proc.ExitErr(); exitErr != nil {
				return fmt.Errorf("%w: %v", ErrExitedDuringStartup, exitErr)
			}
			return ErrExitedDuringStartup
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: %s not reachable at %s after %s", ErrHealthCheckTimeout, name, svc.URL, svc.StartupTimeout)
}

// Stop terminates the tracked process for name, escalating to SIGKILL after
// the service's grace period, and clears the entry. Stopping an untracked
// service is a no-op. Signal errors are logged and the entry is cleared
// anyway; the return value is false only in that case.
func (s *Supervisor) Stop(name string) bool {
	svc, ok := s.services[name]
	if !ok {
		s.log.Error("unknown service", slog.String("service", name))
		return false
	}
	s.mu.Lock()
	e, tracked := s.entries[name]
	if !tracked {
		s.mu.Unlock()
		return true
	}
	e.state = StateStopping
	e.stopRequested = true
	s.mu.Unlock()
	metrics.SetState(name, StateStopping.String(), allStates)

	pid := e.proc.PID()
	s.log.Info("stopping service", slog.String("service", name), slog.Int("pid", pid), slog.Duration("grace", svc.StopGrace))
	forced, err := e.proc.Stop(svc.StopGrace)
	s.untrack(name, e)

	detail := "graceful"
	if forced {
		detail = "forced"
	}
	if err != nil {
		detail = err.Error()
		s.setLastErr(name, err)
		s.log.Error("stop failed; handle cleared", slog.String("service", name), slog.Int("pid", pid), slog.Any("error", err))
	} else if forced {
		s.log.Warn("service ignored SIGTERM, killed", slog.String("service", name), slog.Int("pid", pid))
	}
	metrics.IncStop(name, forced)
	s.record(store.ServiceEvent{Service: name, Event: store.EventStop, PID: pid, Detail: detail})
	return err == nil
}

// watch clears the entry when a tracked process exits without a stop
// request. It does not restart anything.
func (s *Supervisor) watch(name string, e *entry) {
	defer s.watchers.Done()
	<-e.proc.Done()

	s.mu.Lock()
	unexpected := s.entries[name] == e && !e.stopRequested
	if unexpected {
		delete(s.entries, name)
	}
	s.mu.Unlock()
	if !unexpected {
		return
	}
	exitErr := e.proc.ExitErr()
	detail := "exited"
	if exitErr != nil {
		detail = exitErr.Error()
	}
	s.setLastErr(name, fmt.Errorf("process exited: %s", detail))
	metrics.SetState(name, StateAbsent.String(), allStates)
	s.record(store.ServiceEvent{Service: name, Event: store.EventExit, PID: e.proc.PID(), Detail: detail})
	s.log.Warn("service exited on its own", slog.String("service", name), slog.Int("pid", e.proc.PID()), slog.String("detail", detail))
}

func (s *Supervisor) untrack(name string, e *entry) {
	s.mu.Lock()
	if s.entries[name] == e {
		delete(s.entries, name)
	}
	s.mu.Unlock()
	metrics.SetState(name, StateAbsent.String(), allStates)
}

func (s *Supervisor) fail(name string, pid int, reason string, err error) {
	s.setLastErr(name, err)
	metrics.IncStartFailure(name, reason)
	s.record(store.ServiceEvent{Service: name, Event: store.EventStartFailed, PID: pid, Detail: err.Error()})
	s.log.Error("service start failed", slog.String("service", name), slog.String("reason", reason), slog.Any("error", err))
}

func (s *Supervisor) setLastErr(name string, err error) {
	s.mu.Lock()
	s.lastErrs[name] = err.Error()
	s.mu.Unlock()
}

func (s *Supervisor) record(ev store.ServiceEvent) {
	if s.history == nil {
		return
	}
	ev.OccurredAt = time.Now().UTC()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.history.RecordEvent(ctx, ev); err != nil {
		s.log.Warn("recording history failed", slog.String("service", ev.Service), slog.String("event", ev.Event), slog.Any("error", err))
	}
}

func (s *Supervisor) IsBackendHealthy(ctx context.Context) bool  { return s.IsHealthy(ctx, Backend) }
func (s *Supervisor) IsFrontendHealthy(ctx context.Context) bool { return s.IsHealthy(ctx, Frontend) }

// IsHealthy probes the service URL regardless of who launched the process
// listening there.
func (s *Supervisor) IsHealthy(ctx context.Context, name string) bool {
	svc, ok := s.services[name]
	if !ok {
		return false
	}
	return s.probe.CheckService(ctx, name, svc.URL, s.checkTimeout)
}

// IsEnvironmentRunning reports whether both services answer their health
// URLs. The probes run concurrently.
func (s *Supervisor) IsEnvironmentRunning(ctx context.Context) bool {
	var backendOK, frontendOK bool
	var g errgroup.Group
	g.Go(func() error { backendOK = s.IsBackendHealthy(ctx); return nil })
	g.Go(func() error { frontendOK = s.IsFrontendHealthy(ctx); return nil })
	_ = g.Wait()
	return backendOK && frontendOK
}

// State reports the registry view of one service.
func (s *Supervisor) State(name string) Status {
	st := Status{Name: name, State: StateAbsent, URL: s.services[name].URL}
	s.mu.Lock()
	e, ok := s.entries[name]
	st.LastError = s.lastErrs[name]
	if ok {
		st.State = e.state
	}
	s.mu.Unlock()
	if ok {
		st.PID = e.proc.PID()
		st.StartedAt = e.proc.StartedAt()
	}
	return st
}

// Snapshot returns backend then frontend.
func (s *Supervisor) Snapshot() []Status {
	return []Status{s.State(Backend), s.State(Frontend)}
}

// CleanupAll stops frontend then backend. Only the first call does work;
// later and concurrent calls return immediately. Starts are refused once it
// has begun.
func (s *Supervisor) CleanupAll() {
	if !s.shuttingDown.CompareAndSwap(false, true) {
		return
	}
	s.log.Info("cleaning up services")
	s.Stop(Frontend)
	s.Stop(Backend)
	s.watchers.Wait()
	s.log.Info("cleanup complete")
}

// ShuttingDown reports whether CleanupAll has been called.
func (s *Supervisor) ShuttingDown() bool { return s.shuttingDown.Load() }

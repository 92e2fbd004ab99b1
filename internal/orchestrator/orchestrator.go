// Package orchestrator is the entry point for the create-environment and
// capture operations.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/themerig/internal/metrics"
	"github.com/loykin/themerig/internal/rounds"
	"github.com/loykin/themerig/internal/store"
	"github.com/loykin/themerig/internal/supervisor"
	"github.com/loykin/themerig/internal/workflow"
)

var targetPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateTarget checks a target identifier.
func ValidateTarget(target string) error {
	if !targetPattern.MatchString(target) {
		return &ValidationError{Target: target}
	}
	return nil
}

// Supervisor is the part of supervisor.Supervisor the orchestrator drives.
type Supervisor interface {
	StartBackend(ctx context.Context) bool
	StartFrontend(ctx context.Context) bool
	Stop(name string) bool
	IsBackendHealthy(ctx context.Context) bool
	IsFrontendHealthy(ctx context.Context) bool
	IsEnvironmentRunning(ctx context.Context) bool
	Snapshot() []supervisor.Status
	CleanupAll()
}

// Provisioner is the part of provision.Provisioner the orchestrator drives.
type Provisioner interface {
	EnsureTargetFile(target string) (string, error)
	EnsureTargetDirectory(target string) (string, error)
	TargetFilePath(target string) string
	TargetExists(target string) bool
	DeleteTargetFile(target string) (bool, error)
	BaseTemplatePath() string
}

type CaptureRecorder interface {
	RecordCapture(ctx context.Context, run store.CaptureRun) error
}

type Options struct {
	Supervisor  Supervisor
	Provisioner Provisioner
	Runner      workflow.Runner
	History     CaptureRecorder // optional
	FrontendURL string
	Logger      *slog.Logger
}

// Orchestrator composes the supervisor, provisioner and workflow runner.
// Background service starts are bound to its lifetime and cancelled by
// Shutdown.
type Orchestrator struct {
	sup         Supervisor
	prov        Provisioner
	runner      workflow.Runner
	history     CaptureRecorder
	frontendURL string
	log         *slog.Logger

	lifeCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	closed   bool
	bg       sync.WaitGroup
	shutdown sync.Once
}

func New(opts Options) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		sup:         opts.Supervisor,
		prov:        opts.Provisioner,
		runner:      opts.Runner,
		history:     opts.History,
		frontendURL: opts.FrontendURL,
		log:         opts.Logger,
		lifeCtx:     ctx,
		cancel:      cancel,
	}
	if o.log == nil {
		o.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// CreateResult is the reply to a create-environment request.
type CreateResult struct {
	Success        bool   `json:"success"`
	ThemePath      string `json:"theme_path"`
	ScreenshotsDir string `json:"screenshots_dir"`
	CurrentRound   int    `json:"current_round"`
	FrontendURL    string `json:"frontend_url"`
	// Status is "running" when both services already answered, "starting"
	// when background starts were scheduled, empty on failure.
	Status  string `json:"status,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

const (
	StatusRunning  = "running"
	StatusStarting = "starting"
)

// CreateEnvironment provisions the target's theme file and artifact
// directory, then either reports the environment as already running or
// schedules both services to start in the background and returns without
// waiting for them.
func (o *Orchestrator) CreateEnvironment(ctx context.Context, target string) CreateResult {
	res := CreateResult{FrontendURL: o.frontendURL}
	if err := ValidateTarget(target); err != nil {
		metrics.IncEnvironmentRequest("invalid")
		res.Err = err
		res.Message = fmt.Sprintf("Invalid customer name: %s. Use alphanumeric characters, hyphens, and underscores only.", target)
		return res
	}
	fail := func(err error) CreateResult {
		metrics.IncEnvironmentRequest("error")
		o.log.Error("creating environment failed", "target", target, "error", err)
		res.Err = err
		res.Message = fmt.Sprintf("Error creating environment: %v", err)
		return res
	}

	o.log.Info("creating environment", "target", target)
	themePath, err := o.prov.EnsureTargetFile(target)
	if err != nil {
		return fail(err)
	}
	dir, err := o.prov.EnsureTargetDirectory(target)
	if err != nil {
		return fail(err)
	}
	res.ThemePath = themePath
	res.ScreenshotsDir = dir
	res.CurrentRound = rounds.NextRound(dir, o.log)

	if o.sup.IsEnvironmentRunning(ctx) {
		metrics.IncEnvironmentRequest(StatusRunning)
		res.Success = true
		res.Status = StatusRunning
		res.Message = fmt.Sprintf("Environment already running for %s. Theme file and screenshots directory verified.", target)
		return res
	}

	if !o.startInBackground() {
		return fail(ErrShuttingDown)
	}
	metrics.IncEnvironmentRequest(StatusStarting)
	res.Success = true
	res.Status = StatusStarting
	res.Message = fmt.Sprintf("Environment setup initiated for %s. "+
		"Theme file and screenshots directory created. "+
		"Backend and frontend services are starting (this may take 1-2 minutes). "+
		"Use get_screenshots to verify services are ready and capture screenshots.", target)
	return res
}

func (o *Orchestrator) startInBackground() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.bg.Add(2)
	go o.background(supervisor.Backend, o.sup.StartBackend)
	go o.background(supervisor.Frontend, o.sup.StartFrontend)
	return true
}

// background runs one start. A panic is logged and contained.
func (o *Orchestrator) background(name string, start func(context.Context) bool) {
	defer o.bg.Done()
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("background start panicked", "service", name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	if !start(o.lifeCtx) {
		o.log.Warn("background start did not reach healthy", "service", name)
	}
}

// PrepareForCapture requires a running environment and returns the
// target's artifact directory. It never starts services.
func (o *Orchestrator) PrepareForCapture(ctx context.Context, target string) (string, error) {
	if err := ValidateTarget(target); err != nil {
		return "", err
	}
	if !o.sup.IsEnvironmentRunning(ctx) {
		return "", ErrEnvironmentNotReady
	}
	return o.prov.EnsureTargetDirectory(target)
}

// CaptureResult is the reply to a screenshots request.
type CaptureResult struct {
	Success        bool     `json:"success"`
	RoundNumber    int      `json:"round_number"`
	Screenshots    []string `json:"screenshots"`
	ScreenshotsDir string   `json:"screenshots_dir"`
	Message        string   `json:"message"`
	RunID          string   `json:"run_id,omitempty"`
	Err            error    `json:"-"`
}

// GetScreenshots runs the workflow for the next round of target. The target
// directory is locked from round allocation until the run ends so
// concurrent captures cannot claim the same round.
func (o *Orchestrator) GetScreenshots(ctx context.Context, target string) CaptureResult {
	res := CaptureResult{Screenshots: []string{}}
	if err := ValidateTarget(target); err != nil {
		res.Err = err
		res.Message = fmt.Sprintf("Invalid customer name: %s. Use alphanumeric characters, hyphens, and underscores only.", target)
		return res
	}
	dir, err := o.PrepareForCapture(ctx, target)
	if errors.Is(err, ErrEnvironmentNotReady) {
		metrics.ObserveCapture("not_ready", 0)
		res.Err = err
		res.Message = "Environment is not running. Please create environment first using create_environment tool."
		return res
	}
	if err != nil {
		return o.captureError(res, target, err)
	}

	unlock, ok, err := rounds.TryLock(dir)
	if err == nil && !ok {
		o.log.Info("waiting for another capture of this target", "target", target)
		unlock, err = rounds.Lock(dir)
	}
	if err != nil {
		return o.captureError(res, target, err)
	}
	defer unlock()

	round := rounds.NextRound(dir, o.log)
	res.RoundNumber = round
	res.ScreenshotsDir = dir
	res.RunID = uuid.NewString()
	started := time.Now()
	o.log.Info("starting capture", "target", target, "round", round, "run_id", res.RunID)

	wres, err := o.runner.Run(ctx, target, round)
	if err != nil {
		res = o.captureError(res, target, err)
		o.recordCapture(res, target, started)
		return res
	}
	if wres.Artifacts != nil {
		res.Screenshots = wres.Artifacts
	}
	n := len(res.Screenshots)

	switch {
	case !wres.Success:
		res.Err = &WorkflowFailure{Target: target, Round: round, Captured: n, Step: wres.FailedStep}
		res.Message = fmt.Sprintf("Screenshot workflow failed. Captured %d/%d screenshots.", n, workflow.Steps)
		metrics.ObserveCapture("failed", n)
	case n < workflow.Steps:
		res.Success = true
		res.Message = fmt.Sprintf("Successfully captured %d screenshots for round %d. Captured %d/%d screenshots; the workflow stopped early",
			n, round, n, workflow.Steps)
		if wres.FailedStep != "" {
			res.Message += " at " + wres.FailedStep
		}
		res.Message += "."
		metrics.ObserveCapture("partial", n)
	default:
		res.Success = true
		res.Message = fmt.Sprintf("Successfully captured %d screenshots for round %d", n, round)
		metrics.ObserveCapture("success", n)
	}
	o.recordCapture(res, target, started)
	return res
}

func (o *Orchestrator) captureError(res CaptureResult, target string, err error) CaptureResult {
	o.log.Error("capture failed", "target", target, "error", err)
	metrics.ObserveCapture("failed", len(res.Screenshots))
	res.Success = false
	res.Err = err
	res.Message = fmt.Sprintf("Error capturing screenshots: %v", err)
	return res
}

func (o *Orchestrator) recordCapture(res CaptureResult, target string, started time.Time) {
	if o.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	run := store.CaptureRun{
		ID:         res.RunID,
		Target:     target,
		Round:      res.RoundNumber,
		Artifacts:  len(res.Screenshots),
		Success:    res.Success,
		Message:    res.Message,
		StartedAt:  started.UTC(),
		FinishedAt: time.Now().UTC(),
	}
	if err := o.history.RecordCapture(ctx, run); err != nil {
		o.log.Warn("recording capture failed", "run_id", res.RunID, "error", err)
	}
}

// DeleteResult is the reply to a theme delete request.
type DeleteResult struct {
	Success   bool   `json:"success"`
	Deleted   bool   `json:"deleted"`
	ThemePath string `json:"theme_path"`
	Message   string `json:"message"`
	Err       error  `json:"-"`
}

// DeleteTheme removes the target's theme file. Captured artifacts are left
// alone, and the base template can never be deleted through a target.
func (o *Orchestrator) DeleteTheme(target string) DeleteResult {
	var res DeleteResult
	if err := ValidateTarget(target); err != nil {
		res.Err = err
		res.Message = fmt.Sprintf("Invalid customer name: %s. Use alphanumeric characters, hyphens, and underscores only.", target)
		return res
	}
	path := o.prov.TargetFilePath(target)
	res.ThemePath = path
	if filepath.Clean(path) == filepath.Clean(o.prov.BaseTemplatePath()) {
		res.Err = ErrProtectedTemplate
		res.Message = fmt.Sprintf("Refusing to delete %s: it is the base template.", path)
		return res
	}
	if !o.prov.TargetExists(target) {
		res.Success = true
		res.Message = fmt.Sprintf("No theme file for %s.", target)
		return res
	}
	removed, err := o.prov.DeleteTargetFile(target)
	if err != nil {
		o.log.Error("deleting theme failed", "target", target, "error", err)
		res.Err = err
		res.Message = fmt.Sprintf("Error deleting theme: %v", err)
		return res
	}
	o.log.Info("deleted theme", "target", target, "path", path)
	res.Success = true
	res.Deleted = removed
	res.Message = fmt.Sprintf("Deleted theme file for %s. Screenshots were kept.", target)
	return res
}

// EnvironmentStatus combines the supervisor's registry with live probes.
type EnvironmentStatus struct {
	Running         bool                `json:"running"`
	BackendHealthy  bool                `json:"backend_healthy"`
	FrontendHealthy bool                `json:"frontend_healthy"`
	Services        []supervisor.Status `json:"services"`
}

func (o *Orchestrator) Status(ctx context.Context) EnvironmentStatus {
	st := EnvironmentStatus{
		BackendHealthy:  o.sup.IsBackendHealthy(ctx),
		FrontendHealthy: o.sup.IsFrontendHealthy(ctx),
		Services:        o.sup.Snapshot(),
	}
	st.Running = st.BackendHealthy && st.FrontendHealthy
	return st
}

// StopService stops one tracked service. Unknown names return false.
func (o *Orchestrator) StopService(name string) bool {
	if name != supervisor.Backend && name != supervisor.Frontend {
		return false
	}
	return o.sup.Stop(name)
}

// Shutdown cancels background starts, waits for them to unwind and stops
// both services. It is safe to call more than once.
func (o *Orchestrator) Shutdown() {
	o.shutdown.Do(func() {
		o.log.Info("shutting down")
		o.mu.Lock()
		o.closed = true
		o.mu.Unlock()
		o.cancel()
		o.bg.Wait()
		o.sup.CleanupAll()
	})
}

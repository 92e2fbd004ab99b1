package process

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

var (
	ErrAlreadyStarted = errors.New("process already started")
	// ErrKillTimeout is returned when a process survives SIGKILL for longer
	// than killWait. The handle should be considered lost.
	ErrKillTimeout = errors.New("process did not exit after kill")
)

// killWait bounds the wait after a forced kill so a stuck child cannot block
// shutdown.
const killWait = 5 * time.Second

// Process owns one launched command. It is started at most once; a single
// goroutine reaps it and closes Done.
type Process struct {
	spec Spec

	mu        sync.Mutex
	pid       int
	startedAt time.Time
	stoppedAt time.Time
	exitErr   error
	done      chan struct{}
	closers   []io.Closer
}

func New(spec Spec) *Process { return &Process{spec: spec} }

func (p *Process) Name() string { return p.spec.Name }

// Start launches the command with env as its complete environment (nil
// inherits the parent's). Stdout/stderr go to the spec's rotating log files
// or the null device.
func (p *Process) Start(env []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return ErrAlreadyStarted
	}

	cmd := p.spec.BuildCommand()
	cmd.Dir = p.spec.WorkDir
	if env != nil {
		cmd.Env = env
	}
	configureSysProcAttr(cmd)

	outW, errW, err := p.spec.Log.ProcessWriters(p.spec.Name)
	if err != nil {
		return fmt.Errorf("open log writers for %s: %w", p.spec.Name, err)
	}
	var closers []io.Closer
	if outW != nil {
		cmd.Stdout = outW
		closers = append(closers, outW)
	}
	if errW != nil {
		cmd.Stderr = errW
		closers = append(closers, errW)
	}

	if err := cmd.Start(); err != nil {
		closeAll(closers)
		return fmt.Errorf("start %s: %w", p.spec.Name, err)
	}

	done := make(chan struct{})
	p.pid = cmd.Process.Pid
	p.startedAt = time.Now()
	p.done = done
	p.closers = closers

	go func() {
		werr := cmd.Wait()
		p.mu.Lock()
		p.exitErr = werr
		p.stoppedAt = time.Now()
		cl := p.closers
		p.closers = nil
		p.mu.Unlock()
		closeAll(cl)
		close(done)
	}()
	return nil
}

// PID returns the launched pid, or 0 before Start.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

func (p *Process) StartedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startedAt
}

// Done is closed once the process has exited and been reaped. It is nil
// before Start.
func (p *Process) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Exited reports whether the process has been reaped.
func (p *Process) Exited() bool {
	d := p.Done()
	if d == nil {
		return false
	}
	select {
	case <-d:
		return true
	default:
		return false
	}
}

// ExitErr returns the error from cmd.Wait once exited.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// Stop sends a graceful termination signal to the process group and waits
// up to grace for exit, then escalates to a forced kill. forced reports
// whether escalation happened. Stopping a process that never started or has
// already exited is a no-op.
func (p *Process) Stop(grace time.Duration) (forced bool, err error) {
	p.mu.Lock()
	pid, done := p.pid, p.done
	p.mu.Unlock()
	if done == nil {
		return false, nil
	}
	select {
	case <-done:
		return false, nil
	default:
	}

	if err := terminate(pid); err != nil {
		return false, fmt.Errorf("terminate %s (pid %d): %w", p.spec.Name, pid, err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		return false, nil
	case <-timer.C:
	}

	if err := kill(pid); err != nil {
		return true, fmt.Errorf("kill %s (pid %d): %w", p.spec.Name, pid, err)
	}
	select {
	case <-done:
		return true, nil
	case <-time.After(killWait):
		return true, ErrKillTimeout
	}
}

func closeAll(cs []io.Closer) {
	for _, c := range cs {
		_ = c.Close()
	}
}

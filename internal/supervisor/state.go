package supervisor

import (
	"errors"
	"fmt"
	"time"

	"github.com/loykin/themerig/internal/process"
)

// Service names.
const (
	Backend  = "backend"
	Frontend = "frontend"
)

// ErrHealthCheckTimeout means a launched service did not answer its health
// URL within its startup timeout. The process is stopped before this is
// reported.
var ErrHealthCheckTimeout = errors.New("health check timed out")

// ErrExitedDuringStartup means the launched process ended before it became
// healthy.
var ErrExitedDuringStartup = errors.New("process exited during startup")

type State int32

// State machine:
// Absent -> Starting -> Healthy -> Stopping -> Absent
// Starting -> Absent on launch failure or health timeout
const (
	StateAbsent State = iota
	StateStarting
	StateHealthy
	StateStopping
)

var allStates = []string{"absent", "starting", "healthy", "stopping"}

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateStarting:
		return "starting"
	case StateHealthy:
		return "healthy"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText accepts the names produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range allStates {
		if string(text) == name {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown service state %q", text)
}

// ServiceConfig describes one supervised service.
type ServiceConfig struct {
	Spec           process.Spec
	URL            string
	StartupTimeout time.Duration
	StopGrace      time.Duration
}

// Status is a point-in-time view of one service as tracked by the
// supervisor. It says nothing about whether the URL answers; see the
// Is*Healthy probes for that.
type Status struct {
	Name      string    `json:"name"`
	State     State     `json:"state"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	URL       string    `json:"url"`
	LastError string    `json:"last_error,omitempty"`
}

// entry is the registry record for a tracked process.
type entry struct {
	proc          *process.Process
	state         State
	stopRequested bool
}

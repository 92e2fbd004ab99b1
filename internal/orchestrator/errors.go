package orchestrator

import (
	"errors"
	"fmt"
)

// ErrEnvironmentNotReady is returned when a capture is requested while the
// services are not both healthy. Captures never start services.
var ErrEnvironmentNotReady = errors.New("environment not ready")

// ErrProtectedTemplate is returned when a delete would remove the base
// template.
var ErrProtectedTemplate = errors.New("base template is protected")

// ErrShuttingDown is returned once Shutdown has begun.
var ErrShuttingDown = errors.New("orchestrator shutting down")

// ValidationError rejects a target identifier. No filesystem or process
// action has been taken when it is returned.
type ValidationError struct {
	Target string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid target %q: use letters, digits, hyphens and underscores only", e.Target)
}

// WorkflowFailure reports a capture run the UI workflow could not complete.
// Captured artifacts are still returned alongside it.
type WorkflowFailure struct {
	Target   string
	Round    int
	Captured int
	Step     string
}

func (e *WorkflowFailure) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("workflow failed for %s round %d after %d artifacts", e.Target, e.Round, e.Captured)
	}
	return fmt.Sprintf("workflow failed for %s round %d at %s after %d artifacts", e.Target, e.Round, e.Step, e.Captured)
}

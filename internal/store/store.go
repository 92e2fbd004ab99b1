package store

import (
	"context"
	"time"
)

// Service lifecycle event types.
const (
	EventStart       = "start"
	EventStartFailed = "start_failed"
	EventStop        = "stop"
	EventExit        = "exit" // the process ended without being asked to
)

// ServiceEvent is one lifecycle transition of a supervised service.
// OccurredAt should be in UTC.
type ServiceEvent struct {
	ID         int64     `json:"id"`
	Service    string    `json:"service"`
	Event      string    `json:"event"`
	PID        int       `json:"pid"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// CaptureRun records one screenshot workflow run for a target.
// ID is a UUID assigned by the caller.
type CaptureRun struct {
	ID         string    `json:"id"`
	Target     string    `json:"target"`
	Round      int       `json:"round"`
	Artifacts  int       `json:"artifacts"`
	Success    bool      `json:"success"`
	Message    string    `json:"message"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Store persists run history. It is informational only: callers log write
// failures and carry on.
type Store interface {
	EnsureSchema(ctx context.Context) error
	RecordEvent(ctx context.Context, ev ServiceEvent) error
	RecordCapture(ctx context.Context, run CaptureRun) error
	// RecentEvents returns newest first. An empty service matches all.
	RecentEvents(ctx context.Context, service string, limit int) ([]ServiceEvent, error)
	// RecentCaptures returns newest first. An empty target matches all.
	RecentCaptures(ctx context.Context, target string, limit int) ([]CaptureRun, error)
	PurgeOlderThan(ctx context.Context, olderThan time.Time) (int64, error)
	Close() error
}

// DefaultLimit applies when a query passes limit <= 0.
const DefaultLimit = 50

func Limit(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	return n
}

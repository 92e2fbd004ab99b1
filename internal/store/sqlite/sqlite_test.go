package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/themerig/internal/store"
)

func openMem(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	// idempotent
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema twice: %v", err)
	}
	return db
}

func TestSQLiteServiceEvents(t *testing.T) {
	db := openMem(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Minute)

	for i, ev := range []store.ServiceEvent{
		{Service: "backend", Event: store.EventStart, PID: 100, OccurredAt: base},
		{Service: "frontend", Event: store.EventStartFailed, Detail: "health timeout", OccurredAt: base.Add(time.Second)},
		{Service: "backend", Event: store.EventStop, PID: 100, OccurredAt: base.Add(2 * time.Second)},
	} {
		if err := db.RecordEvent(ctx, ev); err != nil {
			t.Fatalf("record event %d: %v", i, err)
		}
	}

	all, err := db.RecentEvents(ctx, "", 0)
	if err != nil {
		t.Fatalf("recent events: %v", err)
	}
	if len(all) != 3 || all[0].Event != store.EventStop {
		t.Fatalf("expected newest first, got %+v", all)
	}

	backend, err := db.RecentEvents(ctx, "backend", 1)
	if err != nil {
		t.Fatalf("recent backend: %v", err)
	}
	if len(backend) != 1 || backend[0].Service != "backend" || backend[0].PID != 100 {
		t.Fatalf("unexpected filtered events: %+v", backend)
	}
}

func TestSQLiteCaptureRuns(t *testing.T) {
	db := openMem(t)
	ctx := context.Background()
	start := time.Now().UTC().Add(-time.Hour)

	run := store.CaptureRun{
		ID: uuid.NewString(), Target: "acme", Round: 3, Artifacts: 2,
		Success: true, Message: "Captured 2/4 screenshots", StartedAt: start, FinishedAt: start.Add(time.Minute),
	}
	if err := db.RecordCapture(ctx, run); err != nil {
		t.Fatalf("record capture: %v", err)
	}
	// same id updates in place
	run.Artifacts = 4
	run.Message = "Captured 4/4 screenshots"
	if err := db.RecordCapture(ctx, run); err != nil {
		t.Fatalf("update capture: %v", err)
	}
	if err := db.RecordCapture(ctx, store.CaptureRun{ID: uuid.NewString(), Target: "other", Round: 1, StartedAt: start, FinishedAt: start}); err != nil {
		t.Fatalf("record other: %v", err)
	}

	got, err := db.RecentCaptures(ctx, "acme", 10)
	if err != nil {
		t.Fatalf("recent captures: %v", err)
	}
	if len(got) != 1 || got[0].Artifacts != 4 || got[0].Round != 3 || !got[0].Success {
		t.Fatalf("unexpected captures: %+v", got)
	}

	n, err := db.PurgeOlderThan(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 purged rows, got %d", n)
	}
}

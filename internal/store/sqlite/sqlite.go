package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/themerig/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.
type DB struct {
	db *sql.DB
}

var _ store.Store = (*DB)(nil)

// New opens a SQLite database at path, creating the parent directory.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	if p != ":memory:" && !strings.HasPrefix(p, "file:") {
		if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
			return nil, err
		}
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// one connection: keeps ":memory:" a single database and avoids SQLITE_BUSY
	d.SetMaxOpenConns(1)
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS service_events(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			service TEXT NOT NULL,
			event TEXT NOT NULL,
			pid INTEGER NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			occurred_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_service_events_service ON service_events(service);`,
		`CREATE TABLE IF NOT EXISTS capture_runs(
			id TEXT PRIMARY KEY,
			target TEXT NOT NULL,
			round INTEGER NOT NULL,
			artifacts INTEGER NOT NULL,
			success BOOLEAN NOT NULL,
			message TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_capture_runs_target ON capture_runs(target);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) RecordEvent(ctx context.Context, ev store.ServiceEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_events(service, event, pid, detail, occurred_at)
		VALUES(?, ?, ?, ?, ?);`,
		ev.Service, ev.Event, ev.PID, ev.Detail, ev.OccurredAt.UTC())
	return err
}

func (s *DB) RecordCapture(ctx context.Context, run store.CaptureRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO capture_runs(id, target, round, artifacts, success, message, started_at, finished_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			artifacts=excluded.artifacts,
			success=excluded.success,
			message=excluded.message,
			finished_at=excluded.finished_at;`,
		run.ID, run.Target, run.Round, run.Artifacts, run.Success, run.Message, run.StartedAt.UTC(), run.FinishedAt.UTC())
	return err
}

func (s *DB) RecentEvents(ctx context.Context, service string, limit int) ([]store.ServiceEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, service, event, pid, detail, occurred_at
		FROM service_events
		WHERE ? = '' OR service = ?
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?;`, service, service, store.Limit(limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]store.ServiceEvent, 0)
	for rows.Next() {
		var ev store.ServiceEvent
		if err := rows.Scan(&ev.ID, &ev.Service, &ev.Event, &ev.PID, &ev.Detail, &ev.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *DB) RecentCaptures(ctx context.Context, target string, limit int) ([]store.CaptureRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, target, round, artifacts, success, message, started_at, finished_at
		FROM capture_runs
		WHERE ? = '' OR target = ?
		ORDER BY started_at DESC
		LIMIT ?;`, target, target, store.Limit(limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]store.CaptureRun, 0)
	for rows.Next() {
		var r store.CaptureRun
		if err := rows.Scan(&r.ID, &r.Target, &r.Round, &r.Artifacts, &r.Success, &r.Message, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *DB) PurgeOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	var total int64
	for _, q := range []string{
		`DELETE FROM service_events WHERE occurred_at < ?;`,
		`DELETE FROM capture_runs WHERE finished_at < ?;`,
	} {
		res, err := s.db.ExecContext(ctx, q, olderThan.UTC())
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

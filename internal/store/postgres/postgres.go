package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/themerig/internal/store"
)

var _ store.Store = (*DB)(nil)

type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS service_events(
			id BIGSERIAL PRIMARY KEY,
			service TEXT NOT NULL,
			event TEXT NOT NULL,
			pid INTEGER NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			occurred_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_service_events_service ON service_events(service);`,
		`CREATE TABLE IF NOT EXISTS capture_runs(
			id TEXT PRIMARY KEY,
			target TEXT NOT NULL,
			round INTEGER NOT NULL,
			artifacts INTEGER NOT NULL,
			success BOOLEAN NOT NULL,
			message TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_capture_runs_target ON capture_runs(target);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) RecordEvent(ctx context.Context, ev store.ServiceEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO service_events(service, event, pid, detail, occurred_at)
		VALUES($1,$2,$3,$4,$5);`,
		ev.Service, ev.Event, ev.PID, ev.Detail, ev.OccurredAt.UTC())
	return err
}

func (p *DB) RecordCapture(ctx context.Context, run store.CaptureRun) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO capture_runs(id, target, round, artifacts, success, message, started_at, finished_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT(id) DO UPDATE SET
			artifacts=EXCLUDED.artifacts,
			success=EXCLUDED.success,
			message=EXCLUDED.message,
			finished_at=EXCLUDED.finished_at;`,
		run.ID, run.Target, run.Round, run.Artifacts, run.Success, run.Message, run.StartedAt.UTC(), run.FinishedAt.UTC())
	return err
}

func (p *DB) RecentEvents(ctx context.Context, service string, limit int) ([]store.ServiceEvent, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, service, event, pid, detail, occurred_at
		FROM service_events
		WHERE $1 = '' OR service = $1
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2;`, service, store.Limit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
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

func (p *DB) RecentCaptures(ctx context.Context, target string, limit int) ([]store.CaptureRun, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, target, round, artifacts, success, message, started_at, finished_at
		FROM capture_runs
		WHERE $1 = '' OR target = $1
		ORDER BY started_at DESC
		LIMIT $2;`, target, store.Limit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
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

func (p *DB) PurgeOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	var total int64
	for _, q := range []string{
		`DELETE FROM service_events WHERE occurred_at < $1;`,
		`DELETE FROM capture_runs WHERE finished_at < $1;`,
	} {
		res, err := p.db.ExecContext(ctx, q, olderThan.UTC())
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

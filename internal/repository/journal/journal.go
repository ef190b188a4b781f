// Package journal persists diagnostics events to Postgres.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bleq/internal/models"
)

// Schema creates the journal table if it does not exist.
const Schema = `
CREATE SCHEMA IF NOT EXISTS bleq;
CREATE TABLE IF NOT EXISTS bleq.task_events (
    id         bigserial PRIMARY KEY,
    session_id text        NOT NULL,
    at         timestamptz NOT NULL,
    task_id    text        NOT NULL,
    kind       text        NOT NULL,
    owner      text        NOT NULL,
    state      text        NOT NULL,
    error      text        NOT NULL DEFAULT '',
    elapsed_ms bigint      NOT NULL,
    seq        bigint      NOT NULL,
    priority   int         NOT NULL
);
CREATE INDEX IF NOT EXISTS task_events_at_idx ON bleq.task_events (at);
`

// Repository defines the interface for event journal storage.
type Repository interface {
	RecordEvents(ctx context.Context, events ...models.Event) (err error)
	Recent(ctx context.Context, limit int) (events []models.Event, err error)
	DeleteOlderThan(ctx context.Context, olderThan time.Time) (count int64, err error)
}

type repository struct {
	db        *pgxpool.Pool
	sessionID string
}

// Migrate applies Schema.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate journal schema: %w", err)
	}
	return nil
}

// RecordEvents inserts events in a single round trip.
func (r *repository) RecordEvents(ctx context.Context, events ...models.Event) error {
	if len(events) == 0 {
		return nil
	}
	query := `
        INSERT INTO bleq.task_events
        (session_id, at, task_id, kind, owner, state, error, elapsed_ms, seq, priority)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `
	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(query,
			r.sessionID, e.At, e.TaskID, e.Kind, e.Owner.String(), string(e.State), e.Error,
			e.Elapsed.Milliseconds(), int64(e.Seq), int(e.Priority),
		)
	}
	if err := r.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to record %d events: %w", len(events), err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (r *repository) Recent(ctx context.Context, limit int) ([]models.Event, error) {
	query := `
        SELECT at, task_id, kind, owner, state, error, elapsed_ms, seq, priority
        FROM bleq.task_events
        WHERE session_id = $1
        ORDER BY at DESC, seq DESC
        LIMIT $2
    `
	rows, err := r.db.Query(ctx, query, r.sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var (
			e         models.Event
			owner     string
			state     string
			elapsedMs int64
			seq       int64
			priority  int
		)
		if err := rows.Scan(&e.At, &e.TaskID, &e.Kind, &owner, &state, &e.Error, &elapsedMs, &seq, &priority); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if e.Owner, err = models.ParseOwner(owner); err != nil {
			return nil, fmt.Errorf("failed to parse event owner: %w", err)
		}
		e.State = models.TaskState(state)
		e.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		e.Seq = uint64(seq)
		e.Priority = models.Priority(priority)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

// DeleteOlderThan ...
func (r *repository) DeleteOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
        DELETE FROM bleq.task_events
        WHERE at < $1
    `
	result, err := r.db.Exec(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}
	return result.RowsAffected(), nil
}

// NewRepository creates a journal repository writing under sessionID.
func NewRepository(db *pgxpool.Pool, sessionID string) Repository {
	return &repository{db: db, sessionID: sessionID}
}

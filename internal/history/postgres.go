// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS render_jobs (
		job_id TEXT PRIMARY KEY,
		owner_key TEXT NOT NULL,
		owner TEXT NOT NULL DEFAULT '',
		session TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		stage TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		output_path TEXT NOT NULL DEFAULT '',
		input_name TEXT NOT NULL DEFAULT '',
		quality TEXT NOT NULL DEFAULT '',
		format TEXT NOT NULL DEFAULT '',
		resolution INTEGER NOT NULL DEFAULT 0,
		created_at_ms BIGINT NOT NULL,
		started_at_ms BIGINT NOT NULL DEFAULT 0,
		finished_at_ms BIGINT NOT NULL DEFAULT 0,
		updated_at_ms BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_render_jobs_owner ON render_jobs(owner_key, created_at_ms);
	CREATE INDEX IF NOT EXISTS idx_render_jobs_state ON render_jobs(state);
`

// PostgresStore implements Store on a shared Postgres database, for
// deployments where several web-tier replicas read the same history.
type PostgresStore struct {
	db *pgxpool.Pool
}

// OpenPostgres connects to dsn and creates the table if missing.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("history: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: migration failed: %w", err)
	}
	return NewPostgresStore(pool), nil
}

// NewPostgresStore wraps an existing pool. The table must exist.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Upsert implements Store.
func (r *PostgresStore) Upsert(ctx context.Context, e Entry) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO render_jobs (
			job_id, owner_key, owner, session, state, stage, message, output_path,
			input_name, quality, format, resolution,
			created_at_ms, started_at_ms, finished_at_ms, updated_at_ms
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (job_id) DO UPDATE SET
			state = EXCLUDED.state,
			stage = EXCLUDED.stage,
			message = EXCLUDED.message,
			output_path = EXCLUDED.output_path,
			started_at_ms = EXCLUDED.started_at_ms,
			finished_at_ms = EXCLUDED.finished_at_ms,
			updated_at_ms = EXCLUDED.updated_at_ms
		WHERE render_jobs.state NOT IN ('finished', 'error', 'cancelled')
	`,
		e.JobID, e.OwnerKey, e.Owner, e.Session, string(e.State), string(e.Stage), e.Message, e.OutputPath,
		e.InputName, e.Quality, e.Format, e.Resolution,
		toMillis(e.CreatedAt), toMillis(e.StartedAt), toMillis(e.FinishedAt), toMillis(e.UpdatedAt),
	)
	return err
}

const postgresSelect = `
	SELECT job_id, owner_key, owner, session, state, stage, message, output_path,
		input_name, quality, format, resolution,
		created_at_ms, started_at_ms, finished_at_ms, updated_at_ms
	FROM render_jobs`

// Get implements Store.
func (r *PostgresStore) Get(ctx context.Context, jobID string) (Entry, error) {
	e, err := scanEntry(r.db.QueryRow(ctx, postgresSelect+` WHERE job_id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

// ListByOwner implements Store.
func (r *PostgresStore) ListByOwner(ctx context.Context, ownerKey string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, postgresSelect+`
		WHERE owner_key = $1
		ORDER BY created_at_ms DESC, job_id DESC
		LIMIT $2`, ownerKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkInterrupted implements Store.
func (r *PostgresStore) MarkInterrupted(ctx context.Context) (int64, error) {
	now := toMillis(nowUTC())
	tag, err := r.db.Exec(ctx, `
		UPDATE render_jobs
		SET state = 'error', message = $1, output_path = '', finished_at_ms = $2, updated_at_ms = $2
		WHERE state IN ('pending', 'running')
	`, InterruptedMessage, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Ping implements Store.
func (r *PostgresStore) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// Close implements Store.
func (r *PostgresStore) Close() error {
	r.db.Close()
	return nil
}

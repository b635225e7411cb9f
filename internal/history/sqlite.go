// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/motivorastudios-blip/Motivora-studio/internal/persistence/sqlite"
	"github.com/motivorastudios-blip/Motivora-studio/internal/render/model"
)

const sqliteSchemaVersion = 1

// SQLiteStore implements Store on an embedded database file.
type SQLiteStore struct {
	DB *sql.DB
}

// OpenSQLite opens (and migrates) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sqlite.Open(ctx, path, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{DB: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: migration failed: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	current, err := sqlite.UserVersion(ctx, s.DB)
	if err != nil {
		return err
	}
	if current >= sqliteSchemaVersion {
		return nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
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
		created_at_ms INTEGER NOT NULL,
		started_at_ms INTEGER NOT NULL DEFAULT 0,
		finished_at_ms INTEGER NOT NULL DEFAULT 0,
		updated_at_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_render_jobs_owner ON render_jobs(owner_key, created_at_ms);
	CREATE INDEX IF NOT EXISTS idx_render_jobs_state ON render_jobs(state);
	`
	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", sqliteSchemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// Upsert implements Store.
func (s *SQLiteStore) Upsert(ctx context.Context, e Entry) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO render_jobs (
			job_id, owner_key, owner, session, state, stage, message, output_path,
			input_name, quality, format, resolution,
			created_at_ms, started_at_ms, finished_at_ms, updated_at_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			state = excluded.state,
			stage = excluded.stage,
			message = excluded.message,
			output_path = excluded.output_path,
			started_at_ms = excluded.started_at_ms,
			finished_at_ms = excluded.finished_at_ms,
			updated_at_ms = excluded.updated_at_ms
		WHERE render_jobs.state NOT IN ('finished', 'error', 'cancelled')
	`,
		e.JobID, e.OwnerKey, e.Owner, e.Session, string(e.State), string(e.Stage), e.Message, e.OutputPath,
		e.InputName, e.Quality, e.Format, e.Resolution,
		toMillis(e.CreatedAt), toMillis(e.StartedAt), toMillis(e.FinishedAt), toMillis(e.UpdatedAt),
	)
	return err
}

const sqliteSelect = `
	SELECT job_id, owner_key, owner, session, state, stage, message, output_path,
		input_name, quality, format, resolution,
		created_at_ms, started_at_ms, finished_at_ms, updated_at_ms
	FROM render_jobs`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e                                  Entry
		state, stage                       string
		created, started, finished, update int64
	)
	err := row.Scan(&e.JobID, &e.OwnerKey, &e.Owner, &e.Session, &state, &stage, &e.Message, &e.OutputPath,
		&e.InputName, &e.Quality, &e.Format, &e.Resolution,
		&created, &started, &finished, &update)
	if err != nil {
		return Entry{}, err
	}
	e.State = model.State(state)
	e.Stage = model.Stage(stage)
	e.CreatedAt = fromMillis(created)
	e.StartedAt = fromMillis(started)
	e.FinishedAt = fromMillis(finished)
	e.UpdatedAt = fromMillis(update)
	return e, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, jobID string) (Entry, error) {
	e, err := scanEntry(s.DB.QueryRowContext(ctx, sqliteSelect+` WHERE job_id = ?`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

// ListByOwner implements Store.
func (s *SQLiteStore) ListByOwner(ctx context.Context, ownerKey string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, sqliteSelect+`
		WHERE owner_key = ?
		ORDER BY created_at_ms DESC, job_id DESC
		LIMIT ?`, ownerKey, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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
func (s *SQLiteStore) MarkInterrupted(ctx context.Context) (int64, error) {
	now := toMillis(nowUTC())
	res, err := s.DB.ExecContext(ctx, `
		UPDATE render_jobs
		SET state = 'error', message = ?, output_path = '', finished_at_ms = ?, updated_at_ms = ?
		WHERE state IN ('pending', 'running')
	`, InterruptedMessage, now, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.DB.Close()
}

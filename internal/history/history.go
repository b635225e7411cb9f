// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package history is the durable, write-only mirror of job records. The
// orchestrator pushes material changes into it; it never reads them back to
// make decisions. Readers are the history endpoint and the CLI.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/motivorastudios-blip/Motivora-studio/internal/render/model"
)

// ErrNotFound is returned by Get for unknown job ids.
var ErrNotFound = errors.New("history: entry not found")

// InterruptedMessage is written to rows that were still live when the
// previous process exited.
const InterruptedMessage = "Render interrupted by restart."

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

// Entry is one persisted job row.
type Entry struct {
	JobID      string      `json:"jobId"`
	OwnerKey   string      `json:"ownerKey"`
	Owner      string      `json:"owner,omitempty"`
	Session    string      `json:"-"`
	State      model.State `json:"state"`
	Stage      model.Stage `json:"stage,omitempty"`
	Message    string      `json:"message"`
	OutputPath string      `json:"-"`
	InputName  string      `json:"inputName"`
	Quality    string      `json:"quality"`
	Format     string      `json:"format"`
	Resolution int         `json:"resolution"`
	CreatedAt  time.Time   `json:"createdAt"`
	StartedAt  time.Time   `json:"startedAt,omitempty"`
	FinishedAt time.Time   `json:"finishedAt,omitempty"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// EntryFromSnapshot maps a job snapshot onto a row.
func EntryFromSnapshot(s model.Snapshot, at time.Time) Entry {
	return Entry{
		JobID:      s.ID,
		OwnerKey:   s.Requester().OwnerKey(),
		Owner:      s.Owner,
		Session:    s.Session,
		State:      s.State,
		Stage:      s.Stage,
		Message:    s.Message,
		OutputPath: s.OutputPath,
		InputName:  s.Params.InputName,
		Quality:    string(s.Params.Quality),
		Format:     string(s.Params.Format),
		Resolution: s.Params.Resolution,
		CreatedAt:  s.CreatedAt,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		UpdatedAt:  at,
	}
}

// Store persists entries.
type Store interface {
	// Upsert inserts or replaces the row for e.JobID. A row that is already
	// terminal is never moved back to a live state.
	Upsert(ctx context.Context, e Entry) error
	Get(ctx context.Context, jobID string) (Entry, error)
	// ListByOwner returns the newest rows for ownerKey, newest first.
	ListByOwner(ctx context.Context, ownerKey string, limit int) ([]Entry, error)
	// MarkInterrupted moves every live row to error and returns how many
	// rows changed.
	MarkInterrupted(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open returns the backend for driver. DriverNone returns a nil Store and
// no error.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case DriverSQLite:
		s, err := OpenSQLite(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverPostgres:
		s, err := OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("history: unknown driver %q", driver)
	}
}

// Mirror adapts a Store to the orchestrator's sink interface.
type Mirror struct {
	store Store
}

// NewMirror wraps s.
func NewMirror(s Store) *Mirror {
	return &Mirror{store: s}
}

func (m *Mirror) Name() string { return "history" }

// Notify writes material events. Progress ticks are dropped.
func (m *Mirror) Notify(ctx context.Context, ev model.Event) error {
	if !ev.Kind.Material() {
		return nil
	}
	if err := m.store.Upsert(ctx, EntryFromSnapshot(ev.Snapshot, ev.At)); err != nil {
		return fmt.Errorf("history upsert %s: %w", ev.Snapshot.ID, err)
	}
	return nil
}

var nowUTC = func() time.Time { return time.Now().UTC() }

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store is the in-memory system of record for render jobs.
//
// Lock order is map lock, then record lock. Code holding a record lock never
// takes the map lock.
package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/motivorastudios-blip/Motivora-studio/internal/metrics"
	"github.com/motivorastudios-blip/Motivora-studio/internal/render/model"
)

// ErrDuplicateID is returned when admitting a record whose id exists.
var ErrDuplicateID = errors.New("duplicate job id")

// Caps are the admission limits. Zero Total means no global cap.
type Caps struct {
	PerOwner  int
	Anonymous int
	Total     int
}

// limitFor returns the cap that applies to ownerKey.
func (c Caps) limitFor(ownerKey string) int {
	if strings.HasPrefix(ownerKey, "user:") {
		return c.PerOwner
	}
	return c.Anonymous
}

type entry struct {
	mu  sync.Mutex
	rec model.Record
}

// Store holds job records keyed by id.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*entry
	now  func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		jobs: make(map[string]*entry),
		now:  time.Now,
	}
}

// SetClock replaces the time source. Tests only.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Admit inserts rec if the owner and global caps allow it. Counting and
// insertion happen under one write lock, so two concurrent submissions can
// never both take the last slot. A rejected record is never stored.
func (s *Store) Admit(rec model.Record, caps Caps) (model.Snapshot, error) {
	key := rec.OwnerKey()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[rec.ID]; exists {
		return model.Snapshot{}, fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
	}

	owned, total := 0, 0
	for _, e := range s.jobs {
		e.mu.Lock()
		if !e.rec.State.Terminal() {
			total++
			if e.rec.OwnerKey() == key {
				owned++
			}
		}
		e.mu.Unlock()
	}

	if limit := caps.limitFor(key); limit > 0 && owned >= limit {
		return model.Snapshot{}, &model.RejectedError{Reason: model.ReasonTooManyConcurrentJobs, Limit: limit}
	}
	if caps.Total > 0 && total >= caps.Total {
		return model.Snapshot{}, &model.RejectedError{Reason: model.ReasonServerBusy, Limit: caps.Total}
	}

	if rec.State == "" {
		rec.State = model.StatePending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	s.jobs[rec.ID] = &entry{rec: rec}
	metrics.SetRetainedJobs(len(s.jobs))
	return rec.Snapshot(), nil
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	e, ok := s.jobs[id]
	s.mu.RUnlock()
	return e, ok
}

// Get returns a snapshot of the record. The lock is released before return.
func (s *Store) Get(id string) (model.Snapshot, bool) {
	e, ok := s.lookup(id)
	if !ok {
		return model.Snapshot{}, false
	}
	e.mu.Lock()
	snap := e.rec.Snapshot()
	e.mu.Unlock()
	return snap, true
}

// Update runs fn with the record locked and returns the resulting snapshot.
// fn must not block on anything that may wait for this record. An error from
// fn is returned unchanged together with the snapshot; fn is responsible for
// not leaving partial writes behind.
func (s *Store) Update(id string, fn func(*model.Record) error) (model.Snapshot, error) {
	e, ok := s.lookup(id)
	if !ok {
		return model.Snapshot{}, model.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	err := fn(&e.rec)
	return e.rec.Snapshot(), err
}

// Finalize writes the terminal state exactly once. It returns applied=false
// without touching the record when it is already terminal. apply, if set,
// runs under the same lock before the snapshot is taken.
func (s *Store) Finalize(id string, state model.State, message string, apply func(*model.Record)) (model.Snapshot, bool, error) {
	return s.finalize(id, state, message, apply, false)
}

// FinalizeUnlessAborted is Finalize for the job's own monitor: it also
// declines while a cancellation is in flight, since the canceller owns the
// terminal write from the moment it raised the abort flag.
func (s *Store) FinalizeUnlessAborted(id string, state model.State, message string, apply func(*model.Record)) (model.Snapshot, bool, error) {
	return s.finalize(id, state, message, apply, true)
}

func (s *Store) finalize(id string, state model.State, message string, apply func(*model.Record), respectAbort bool) (model.Snapshot, bool, error) {
	if !state.Terminal() {
		return model.Snapshot{}, false, fmt.Errorf("finalize %s: %q is not terminal", id, state)
	}
	e, ok := s.lookup(id)
	if !ok {
		return model.Snapshot{}, false, model.ErrNotFound
	}

	s.mu.RLock()
	now := s.now()
	s.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec.State.Terminal() || (respectAbort && e.rec.AbortRequested) {
		return e.rec.Snapshot(), false, nil
	}
	e.rec.State = state
	e.rec.Message = message
	e.rec.FinishedAt = now
	e.rec.Handle = nil
	e.rec.ETA = nil
	if state != model.StateFinished {
		e.rec.OutputPath = ""
	}
	if apply != nil {
		apply(&e.rec)
	}
	return e.rec.Snapshot(), true, nil
}

// Now returns the store's current time.
func (s *Store) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now()
}

// CountActive returns the number of non-terminal records for ownerKey.
func (s *Store) CountActive(ownerKey string) int {
	n := 0
	s.each(func(r *model.Record) {
		if !r.State.Terminal() && r.OwnerKey() == ownerKey {
			n++
		}
	})
	return n
}

// Active returns the ids of all non-terminal records.
func (s *Store) Active() []string {
	var ids []string
	s.each(func(r *model.Record) {
		if !r.State.Terminal() {
			ids = append(ids, r.ID)
		}
	})
	sort.Strings(ids)
	return ids
}

// List returns snapshots matching keep, oldest first. A nil keep matches all.
func (s *Store) List(keep func(model.Snapshot) bool) []model.Snapshot {
	var out []model.Snapshot
	s.each(func(r *model.Record) {
		snap := r.Snapshot()
		if keep == nil || keep(snap) {
			out = append(out, snap)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// EvictTerminal drops terminal records that finished before cutoff and
// returns how many were removed. Live records are never evicted.
func (s *Store) EvictTerminal(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.jobs {
		e.mu.Lock()
		drop := e.rec.State.Terminal() && e.rec.FinishedAt.Before(cutoff)
		e.mu.Unlock()
		if drop {
			delete(s.jobs, id)
			n++
		}
	}
	metrics.SetRetainedJobs(len(s.jobs))
	return n
}

// Len returns the number of retained records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// each visits every record with its lock held. The map is snapshotted first
// so fn never runs under the map lock.
func (s *Store) each(fn func(*model.Record)) {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		fn(&e.rec)
		e.mu.Unlock()
	}
}

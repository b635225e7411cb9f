// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package model holds the render job record, its parameters and the error
// taxonomy shared by the orchestrator and its callers.
package model

import (
	"time"
)

// State is the lifecycle state of a render job.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateFinished  State = "finished"
	StateError     State = "error"
	StateCancelled State = "cancelled"
)

// Terminal reports whether s is absorbing.
func (s State) Terminal() bool {
	switch s {
	case StateFinished, StateError, StateCancelled:
		return true
	default:
		return false
	}
}

// Stage is the pipeline stage of a running job.
type Stage string

const (
	StageNone      Stage = ""
	StageRendering Stage = "rendering"
	StageEncoding  Stage = "encoding"
)

// ProcessHandle is the live child process of a stage. It is owned by exactly
// one record and never shared.
type ProcessHandle interface {
	Pid() int
	// Terminate stops the whole process tree and returns once it exited or
	// the bounded wait elapsed.
	Terminate(grace, timeout time.Duration) error
}

// Requester identifies who is asking: an authenticated user, an anonymous
// browser session, or neither.
type Requester struct {
	UserID    string
	SessionID string
}

// OwnerKey is the admission key for r. Anonymous callers are keyed by
// session; callers without a session share one pool.
func (r Requester) OwnerKey() string {
	switch {
	case r.UserID != "":
		return "user:" + r.UserID
	case r.SessionID != "":
		return "session:" + r.SessionID
	default:
		return "anonymous"
	}
}

// OwnerClass is a low-cardinality label for metrics.
func (r Requester) OwnerClass() string {
	switch {
	case r.UserID != "":
		return "user"
	case r.SessionID != "":
		return "session"
	default:
		return "anonymous"
	}
}

// Record is the authoritative in-memory job record. The store guards every
// access with the record's own lock; callers only ever see Snapshots.
type Record struct {
	ID      string
	Owner   string
	Session string
	Params  Params

	State    State
	Stage    Stage
	Progress float64
	Message  string
	ETA      *time.Duration

	FramesDone  int
	FramesTotal int

	Handle     ProcessHandle
	WorkDir    string
	OutputPath string

	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	// LastActivityAt is the last time the running stage produced output.
	LastActivityAt time.Time

	// Set by the cancellation path before the process is signalled. The
	// monitor never writes a terminal state while an abort is pending.
	AbortRequested bool
	AbortState     State
	AbortMessage   string
}

// Requester returns the identity that submitted the record.
func (r *Record) Requester() Requester {
	return Requester{UserID: r.Owner, SessionID: r.Session}
}

// OwnerKey is the admission key the record counts against.
func (r *Record) OwnerKey() string {
	return r.Requester().OwnerKey()
}

// AccessibleBy reports whether req may see, cancel or download the record.
// User-owned records need the same user; anonymous records need the same
// session.
func (r *Record) AccessibleBy(req Requester) bool {
	return canAccess(r.Owner, r.Session, req)
}

func canAccess(owner, session string, req Requester) bool {
	if owner != "" {
		return req.UserID == owner
	}
	return session != "" && req.SessionID == session
}

// Snapshot copies the caller-visible fields.
func (r *Record) Snapshot() Snapshot {
	s := Snapshot{
		ID:          r.ID,
		Owner:       r.Owner,
		Session:     r.Session,
		Params:      r.Params,
		State:       r.State,
		Stage:       r.Stage,
		Progress:    r.Progress,
		Message:     r.Message,
		FramesDone:  r.FramesDone,
		FramesTotal: r.FramesTotal,
		WorkDir:     r.WorkDir,
		OutputPath:  r.OutputPath,
		CreatedAt:   r.CreatedAt,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,

		LastActivityAt: r.LastActivityAt,
		AbortRequested: r.AbortRequested,
	}
	if r.ETA != nil {
		eta := *r.ETA
		s.ETA = &eta
	}
	return s
}

// Snapshot is an immutable copy of a Record at one instant.
type Snapshot struct {
	ID          string         `json:"jobId"`
	Owner       string         `json:"owner,omitempty"`
	Session     string         `json:"-"`
	Params      Params         `json:"params"`
	State       State          `json:"state"`
	Stage       Stage          `json:"stage,omitempty"`
	Progress    float64        `json:"progress"`
	Message     string         `json:"message"`
	ETA         *time.Duration `json:"eta,omitempty"`
	FramesDone  int            `json:"framesDone"`
	FramesTotal int            `json:"framesTotal"`
	WorkDir     string         `json:"-"`
	OutputPath  string         `json:"-"`
	CreatedAt   time.Time      `json:"createdAt"`
	StartedAt   time.Time      `json:"startedAt,omitempty"`
	FinishedAt  time.Time      `json:"finishedAt,omitempty"`

	LastActivityAt time.Time `json:"-"`
	AbortRequested bool      `json:"-"`
}

// Requester returns the identity that submitted the job.
func (s Snapshot) Requester() Requester {
	return Requester{UserID: s.Owner, SessionID: s.Session}
}

// AccessibleBy applies the same ownership rule as Record.AccessibleBy.
func (s Snapshot) AccessibleBy(req Requester) bool {
	return canAccess(s.Owner, s.Session, req)
}

// ETASeconds returns the ETA rounded to whole seconds, or nil when unknown.
func (s Snapshot) ETASeconds() *float64 {
	if s.ETA == nil {
		return nil
	}
	v := s.ETA.Round(time.Second).Seconds()
	return &v
}

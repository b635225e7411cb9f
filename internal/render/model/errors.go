// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown job ids, and for foreign ones where
	// the caller must not learn that the job exists.
	ErrNotFound = errors.New("job not found")
	// ErrNotReady is returned when downloading a job that has not finished.
	ErrNotReady = errors.New("job not ready")
	// ErrUnauthorized is returned when the requester does not own the job.
	ErrUnauthorized = errors.New("not authorized for job")
	// ErrInvalidPath is returned when an artifact resolves outside the storage root.
	ErrInvalidPath = errors.New("artifact path outside storage root")
	// ErrCancelled marks work abandoned because the job was cancelled.
	ErrCancelled = errors.New("job cancelled")
	// ErrInvalidParams is returned for parameter sets that cannot be rendered.
	ErrInvalidParams = errors.New("invalid render parameters")
)

// RejectReason explains an admission rejection.
type RejectReason string

const (
	ReasonTooManyConcurrentJobs RejectReason = "too_many_concurrent_jobs"
	ReasonServerBusy            RejectReason = "server_busy"
	ReasonShuttingDown          RejectReason = "shutting_down"
)

// RejectedError is returned by admission. No record exists for a rejected
// submission.
type RejectedError struct {
	Reason RejectReason
	Limit  int
}

func (e *RejectedError) Error() string {
	switch e.Reason {
	case ReasonTooManyConcurrentJobs:
		return fmt.Sprintf("maximum %d concurrent renders allowed, wait for a running render to complete", e.Limit)
	case ReasonServerBusy:
		return fmt.Sprintf("server is at capacity (%d renders), try again shortly", e.Limit)
	default:
		return "render rejected: " + string(e.Reason)
	}
}

// LaunchError means a stage could not be started at all.
type LaunchError struct {
	Stage Stage
	Op    string
	Err   error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %s: %v", e.Stage, e.Op, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// EngineFailure means the renderer exited non-zero or produced no frames.
type EngineFailure struct {
	ExitCode int
	LastLine string
}

func (e *EngineFailure) Error() string {
	return fmt.Sprintf("Renderer failed (code %d). Last line: %s", e.ExitCode, orNone(e.LastLine))
}

// EncodeFailure means the encoder exited non-zero or produced no artifact.
type EncodeFailure struct {
	ExitCode int
	LastLine string
}

func (e *EncodeFailure) Error() string {
	return fmt.Sprintf("Encoder failed (code %d). Last line: %s", e.ExitCode, orNone(e.LastLine))
}

func orNone(s string) string {
	if s == "" {
		return "no output"
	}
	return s
}

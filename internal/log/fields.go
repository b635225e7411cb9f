// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"
	FieldOwnerKey  = "owner_key"
	FieldUserID    = "user_id"
	FieldSessionID = "session_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldPID       = "pid"
	FieldExitCode  = "exit_code"
	FieldBinary    = "binary"

	// Job fields
	FieldStage    = "stage"
	FieldState    = "state"
	FieldProgress = "progress"
	FieldQuality  = "quality"
	FieldFormat   = "format"
	FieldFrames   = "frames"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path fields
	FieldPath    = "path"
	FieldWorkDir = "work_dir"
)

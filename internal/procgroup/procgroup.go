// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup spawns children as process-group leaders and tears the
// whole tree down again.
package procgroup

import (
	"errors"
	"os/exec"
)

var (
	ErrProcessNotFound = errors.New("process not found")
	ErrKillFailed      = errors.New("kill operation failed")
)

// Set configures the command to start in a new process group.
// Mandatory for Terminate to function as a group reaper.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

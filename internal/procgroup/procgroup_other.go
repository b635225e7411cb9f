// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build !unix && !windows

package procgroup

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"github.com/motivorastudios-blip/Motivora-studio/internal/log"
)

func set(cmd *exec.Cmd) {
	// No process groups here; Kill falls back to the leader only.
}

// Kill signals only the leader. SIGKILL maps to Process.Kill, anything else
// is sent as os.Interrupt.
func Kill(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if sig == syscall.SIGKILL {
		return cmd.Process.Kill()
	}
	log.L().Debug().Int("pid", cmd.Process.Pid).Msg("interrupting root process (no process groups)")
	return cmd.Process.Signal(os.Interrupt)
}

func isGone(err error) bool {
	return errors.Is(err, os.ErrProcessDone)
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package procgroup

import (
	"os/exec"
	"syscall"
	"time"

	"github.com/motivorastudios-blip/Motivora-studio/internal/log"
	"github.com/motivorastudios-blip/Motivora-studio/internal/metrics"
)

// Terminate stops the process group led by cmd.
// It sends SIGTERM to the group and waits up to grace for done to close.
// After that it sends SIGKILL to the group and to every descendant that was
// alive at the start (including ones that moved to another group), then waits
// up to timeout more. done must be closed by whoever owns cmd.Wait.
// It is safe to call on nil or already exited commands.
func Terminate(cmd *exec.Cmd, done <-chan struct{}, grace, timeout time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	logger := log.WithComponent("procgroup")

	select {
	case <-done:
		metrics.IncProcWait("already_exited")
		return nil
	default:
	}

	// Snapshot the tree first: once the leader is gone its orphans are
	// reparented and can no longer be found from it.
	stragglers := Descendants(pid)

	sendGroup(cmd, syscall.SIGTERM)
	logger.Debug().Int(log.FieldPID, pid).Str(log.FieldEvent, "proc.sigterm").Msg("sent SIGTERM to process group")

	select {
	case <-done:
		metrics.IncProcWait("exit_after_term")
		reap(stragglers)
		return nil
	case <-time.After(grace):
	}

	logger.Warn().Int(log.FieldPID, pid).Dur("grace", grace).Str(log.FieldEvent, "proc.sigkill").
		Msg("SIGTERM grace period exceeded, sending SIGKILL to process group")
	sendGroup(cmd, syscall.SIGKILL)
	reap(stragglers)

	select {
	case <-done:
		metrics.IncProcWait("forced_exit")
		return nil
	case <-time.After(timeout):
		metrics.IncProcWait("kill_timeout")
		logger.Error().Int(log.FieldPID, pid).Dur("timeout", timeout).Str(log.FieldEvent, "proc.kill_failed").
			Msg("process group did not exit after SIGKILL")
		return ErrKillFailed
	}
}

func sendGroup(cmd *exec.Cmd, sig syscall.Signal) {
	name := "SIGTERM"
	if sig == syscall.SIGKILL {
		name = "SIGKILL"
	}
	switch err := Kill(cmd, sig); {
	case err == nil:
		metrics.IncProcTerminate(name, "sent")
	case isGone(err):
		metrics.IncProcTerminate(name, "esrch")
	default:
		metrics.IncProcTerminate(name, "error")
	}
}

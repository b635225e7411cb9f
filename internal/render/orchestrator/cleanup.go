// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/motivorastudios-blip/Motivora-studio/internal/log"
	"github.com/motivorastudios-blip/Motivora-studio/internal/metrics"
	"github.com/motivorastudios-blip/Motivora-studio/internal/platform/fs"
	"github.com/motivorastudios-blip/Motivora-studio/internal/render/model"
)

// afterTerminal runs once per job, by whichever party wrote the terminal
// state, after that state is visible to readers.
func (o *Orchestrator) afterTerminal(snap model.Snapshot) {
	label := stageLabel(snap.Stage)
	metrics.RecordTerminal(string(snap.State), label)
	metrics.DecActiveJobs(label)

	_ = o.Cleanup(snap)
	o.notify(model.EventTerminal, snap)

	var dur int64
	if !snap.StartedAt.IsZero() {
		dur = snap.FinishedAt.Sub(snap.StartedAt).Milliseconds()
	}
	o.logger.Info().
		Str(log.FieldJobID, snap.ID).
		Str(log.FieldState, string(snap.State)).
		Str(log.FieldStage, label).
		Str("message", snap.Message).
		Int64("duration_ms", dur).
		Str(log.FieldEvent, "job.terminal").
		Msg("render job finished")
}

// Cleanup removes the job's scratch directory. The published artifact lives
// under renders/ and is never touched. Missing directories are not an
// error; failures are logged and counted but never change the job.
func (o *Orchestrator) Cleanup(snap model.Snapshot) error {
	if !snap.State.Terminal() {
		return fmt.Errorf("cleanup %s: job is still %s", snap.ID, snap.State)
	}
	if snap.WorkDir == "" {
		return nil
	}
	if filepath.Base(snap.WorkDir) != snap.ID {
		return o.cleanupFailed(snap, fmt.Errorf("work dir %q does not belong to job", snap.WorkDir))
	}
	dir, err := fs.ConfineAbsPath(o.workRoot, snap.WorkDir)
	if err != nil {
		return o.cleanupFailed(snap, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return o.cleanupFailed(snap, err)
	}
	return nil
}

func (o *Orchestrator) cleanupFailed(snap model.Snapshot, err error) error {
	metrics.RecordCleanupFailure(string(snap.State))
	o.logger.Warn().
		Err(err).
		Str(log.FieldJobID, snap.ID).
		Str(log.FieldWorkDir, snap.WorkDir).
		Str(log.FieldEvent, "cleanup.failed").
		Msg("scratch cleanup failed")
	return err
}

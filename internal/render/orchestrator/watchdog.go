// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/motivorastudios-blip/Motivora-studio/internal/log"
	"github.com/motivorastudios-blip/Motivora-studio/internal/render/model"
)

// Run sweeps for stalled jobs and expired records until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.sweep(ctx)
		}
	}
}

func (o *Orchestrator) sweep(ctx context.Context) {
	o.checkStalls(ctx)
	o.evictExpired()
}

// checkStalls aborts running jobs whose process produced no output for
// longer than the stall timeout.
func (o *Orchestrator) checkStalls(ctx context.Context) {
	timeout := time.Duration(o.stall.Load())
	if timeout <= 0 {
		return
	}
	now := o.store.Now()
	stalled := o.store.List(func(s model.Snapshot) bool {
		return s.State == model.StateRunning && !s.AbortRequested &&
			!s.LastActivityAt.IsZero() && now.Sub(s.LastActivityAt) > timeout
	})
	for _, s := range stalled {
		msg := fmt.Sprintf("Render stalled: no progress for %s.", timeout.Round(time.Second))
		o.logger.Warn().
			Str(log.FieldJobID, s.ID).
			Str(log.FieldStage, string(s.Stage)).
			Dur("idle", now.Sub(s.LastActivityAt)).
			Str(log.FieldEvent, "job.stalled").
			Msg("aborting stalled job")
		if _, err := o.abort(ctx, s.ID, model.StateError, msg); err != nil {
			o.logger.Warn().Err(err).Str(log.FieldJobID, s.ID).Msg("abort stalled job failed")
		}
	}
}

func (o *Orchestrator) evictExpired() {
	retention := time.Duration(o.retention.Load())
	if retention <= 0 {
		return
	}
	if n := o.store.EvictTerminal(o.store.Now().Add(-retention)); n > 0 {
		o.logger.Debug().Int("evicted", n).Msg("expired job records evicted")
	}
}

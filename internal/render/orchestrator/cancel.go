// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/motivorastudios-blip/Motivora-studio/internal/log"
	"github.com/motivorastudios-blip/Motivora-studio/internal/render/model"
	"github.com/motivorastudios-blip/Motivora-studio/internal/telemetry"
)

// Cancel stops id on behalf of req. Unknown and foreign jobs give the same
// ErrNotFound. Cancelling a terminal job succeeds without changing it.
func (o *Orchestrator) Cancel(ctx context.Context, id string, req model.Requester) error {
	snap, ok := o.store.Get(id)
	if !ok || !snap.AccessibleBy(req) {
		return model.ErrNotFound
	}
	_, err := o.abort(ctx, id, model.StateCancelled, MsgCancelled)
	return err
}

// abort is the only path that terminates a live job from outside its
// monitor. It raises the abort flag (the first request decides the final
// state), terminates the current process tree outside the record lock and
// then writes the terminal state itself. It reports whether this call wrote
// the terminal state.
func (o *Orchestrator) abort(ctx context.Context, id string, state model.State, message string) (bool, error) {
	_, span := o.tracer.Start(ctx, "render.abort", trace.WithAttributes(
		attribute.String(telemetry.JobIDKey, id),
		attribute.String(telemetry.JobStateKey, string(state)),
	))
	defer span.End()

	var (
		handle   model.ProcessHandle
		terminal bool
	)
	if _, err := o.store.Update(id, func(r *model.Record) error {
		if r.State.Terminal() {
			terminal = true
			return nil
		}
		if !r.AbortRequested {
			r.AbortRequested = true
			r.AbortState = state
			r.AbortMessage = message
		}
		state, message = r.AbortState, r.AbortMessage
		handle = r.Handle
		return nil
	}); err != nil {
		return false, err
	}
	if terminal {
		return false, nil
	}

	logger := o.logger.With().Str(log.FieldJobID, id).Logger()
	if handle != nil {
		start := time.Now()
		if err := handle.Terminate(o.cfg.TerminateGrace, o.cfg.KillTimeout); err != nil {
			// The bounded wait elapsed; the job is finalized regardless.
			logger.Warn().Err(err).Int(log.FieldPID, handle.Pid()).Msg("process tree did not exit in time")
		}
		logger.Debug().Dur("elapsed", time.Since(start)).Msg("process tree terminated")
	}

	snap, applied, err := o.store.Finalize(id, state, message, nil)
	if err != nil {
		return false, err
	}
	if applied {
		logger.Info().
			Str(log.FieldState, string(state)).
			Str(log.FieldEvent, "job.aborted").
			Msg(message)
		o.afterTerminal(snap)
	}
	return applied, nil
}

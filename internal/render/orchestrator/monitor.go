// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/motivorastudios-blip/Motivora-studio/internal/log"
	"github.com/motivorastudios-blip/Motivora-studio/internal/metrics"
	"github.com/motivorastudios-blip/Motivora-studio/internal/platform/fs"
	"github.com/motivorastudios-blip/Motivora-studio/internal/render/launcher"
	"github.com/motivorastudios-blip/Motivora-studio/internal/render/model"
	"github.com/motivorastudios-blip/Motivora-studio/internal/render/progress"
	"github.com/motivorastudios-blip/Motivora-studio/internal/telemetry"
)

// run supervises one job from launch to its terminal state.
func (o *Orchestrator) run(id string) {
	defer o.monitors.Done()
	logger := o.logger.With().Str(log.FieldJobID, id).Logger()

	var current *launcher.Process
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		logger.Error().
			Interface("panic", r).
			Bytes("stack", debug.Stack()).
			Str(log.FieldEvent, "monitor.panic").
			Msg("job monitor panicked")
		if current != nil {
			go drain(current.Lines())
			if err := current.Terminate(o.cfg.TerminateGrace, o.cfg.KillTimeout); err != nil {
				logger.Warn().Err(err).Msg("terminate after monitor panic failed")
			}
		}
		o.finishFromMonitor(id, model.StateError, MsgInternal, nil)
	}()

	ctx := log.ContextWithJobID(o.baseCtx, id)
	ctx, span := o.tracer.Start(ctx, "render.job", trace.WithAttributes(attribute.String(telemetry.JobIDKey, id)))
	defer span.End()

	layout, proc, ok := o.launchStage(ctx, id, model.StageRendering, launcher.Layout{})
	if !ok {
		return
	}
	current = proc
	if !o.superviseStage(ctx, id, proc, layout, logger) {
		return
	}

	layout, proc, ok = o.launchStage(ctx, id, model.StageEncoding, layout)
	if !ok {
		return
	}
	current = proc
	if !o.superviseStage(ctx, id, proc, layout, logger) {
		return
	}

	o.complete(id, layout, logger)
}

// launchStage starts stage for id. Filesystem work for the render stage
// (scratch directory, moving the input in) happens before the record is
// locked; the critical section only re-checks the abort flag, spawns the
// process and installs its handle, so a concurrent cancellation either
// prevents the start or sees the new handle.
func (o *Orchestrator) launchStage(ctx context.Context, id string, stage model.Stage, layout launcher.Layout) (launcher.Layout, *launcher.Process, bool) {
	var (
		proc      *launcher.Process
		launchErr error
		skipped   bool
		input     string
	)

	if stage == model.StageRendering {
		pre, ok := o.store.Get(id)
		if !ok {
			return layout, nil, false
		}
		if pre.State.Terminal() || pre.AbortRequested {
			o.discardInput(pre.Params.InputPath)
			if pre.State.Terminal() {
				_ = o.Cleanup(pre)
			}
			return layout, nil, false
		}
		layout, input, launchErr = o.prepareScratch(id, pre.Params)
	}

	now := o.store.Now()
	snap, err := o.store.Update(id, func(r *model.Record) error {
		if r.State.Terminal() {
			skipped = true
			return nil
		}
		if stage == model.StageRendering && layout.Dir != "" {
			r.WorkDir = layout.Dir
		}
		if r.AbortRequested {
			skipped = true
			return nil
		}
		if launchErr != nil {
			return nil
		}
		if input != "" {
			r.Params.InputPath = input
		}

		var err error
		if stage == model.StageRendering {
			proc, err = o.launcher.StartRender(ctx, r.Params, layout)
		} else {
			proc, err = o.launcher.StartEncode(ctx, r.Params, layout)
		}
		if err != nil {
			launchErr = err
			return nil
		}

		metrics.DecActiveJobs(stageLabel(r.Stage))
		metrics.IncActiveJobs(string(stage))
		r.Handle = proc
		r.State = model.StateRunning
		r.Stage = stage
		r.FramesDone = 0
		r.ETA = nil
		r.LastActivityAt = now
		if stage == model.StageRendering {
			r.StartedAt = now
			r.FramesTotal = o.launcher.FrameCount()
		} else {
			r.FramesTotal = o.launcher.EncodedFrames()
			if start := o.weights.EncodeStart(); start > r.Progress {
				r.Progress = start
			}
			r.Message = MsgEncoding
		}
		return nil
	})
	if err != nil {
		o.rollbackScratch(stage, layout)
		return layout, nil, false
	}

	switch {
	case skipped:
		// The canceller owns the terminal write. Scratch space created while
		// it was finalizing is swept here.
		o.rollbackScratch(stage, layout)
		if snap.State.Terminal() {
			_ = o.Cleanup(snap)
		}
		return layout, nil, false
	case launchErr != nil:
		o.logger.Error().
			Err(launchErr).
			Str(log.FieldJobID, id).
			Str(log.FieldStage, string(stage)).
			Str(log.FieldEvent, "stage.launch_failed").
			Msg("could not start stage")
		msg := model.SanitizeMessage("Could not start "+toolName(stage)+": "+launchErr.Error(), o.cfg.StorageRoot, snap.WorkDir)
		o.finishFromMonitor(id, model.StateError, msg, nil)
		return layout, nil, false
	}

	kind := model.EventStage
	if stage == model.StageRendering {
		kind = model.EventStarted
	}
	o.notify(kind, snap)
	return layout, proc, true
}

// prepareScratch creates the job's scratch directory and moves the uploaded
// input into it. The returned layout is valid whenever the directory exists,
// even if moving the input failed.
func (o *Orchestrator) prepareScratch(id string, p model.Params) (launcher.Layout, string, error) {
	l, err := launcher.EnsureWorkDir(o.workRoot, id)
	if err != nil {
		o.discardInput(p.InputPath)
		return launcher.Layout{}, "", err
	}
	input := l.Input(p.InputName)
	if err := o.adopt(p.InputPath, input); err != nil {
		o.discardInput(p.InputPath)
		return l, "", &model.LaunchError{Stage: model.StageRendering, Op: "adopt input", Err: err}
	}
	return l, input, nil
}

func (o *Orchestrator) rollbackScratch(stage model.Stage, layout launcher.Layout) {
	if stage != model.StageRendering || layout.Dir == "" {
		return
	}
	if err := os.RemoveAll(layout.Dir); err != nil {
		o.logger.Warn().Err(err).Str("dir", layout.Dir).Msg("could not remove scratch directory")
	}
}

// discardInput removes an uploaded input that will never be rendered. Only
// files inside the inbox are touched.
func (o *Orchestrator) discardInput(path string) {
	if path == "" {
		return
	}
	confined, err := fs.ConfineAbsPath(o.cfg.InboxDir, path)
	if err != nil {
		return
	}
	if err := os.Remove(confined); err != nil && !os.IsNotExist(err) {
		o.logger.Warn().Err(err).Str("path", confined).Msg("could not remove unused input")
	}
}

// superviseStage consumes proc's output until it exits and decides whether
// the stage succeeded. On failure the job is finalized as error unless an
// abort is in flight.
func (o *Orchestrator) superviseStage(ctx context.Context, id string, proc *launcher.Process, layout launcher.Layout, logger zerolog.Logger) bool {
	stage := proc.Stage
	parser := o.parserFor(stage)
	_, span := o.tracer.Start(ctx, "render."+string(stage),
		trace.WithAttributes(telemetry.StageAttributes(id, string(stage), proc.Pid(), 0)...))
	defer span.End()

	est := progress.NewEstimator(o.cfg.Estimator)
	for line := range proc.Lines() {
		o.observe(id, stage, line, parser, est)
	}
	code, waitErr := proc.Wait()
	elapsed := time.Since(proc.StartedAt)

	snap, ok := o.store.Get(id)
	if !ok {
		return false
	}
	if snap.AbortRequested || snap.State.Terminal() {
		metrics.ObserveStage(string(stage), "aborted", elapsed)
		return false
	}

	var failure error
	switch {
	case code != 0 || waitErr != nil:
		failure = stageFailure(stage, code, lastUseful(proc, parser))
	case stage == model.StageRendering && !hasFrames(layout.Frames):
		failure = stageFailure(stage, code, "no frames were written")
	case stage == model.StageEncoding && !nonEmptyFile(layout.Output(snap.Params.Format)):
		failure = stageFailure(stage, code, "no video was written")
	}

	if failure != nil {
		metrics.ObserveStage(string(stage), "error", elapsed)
		span.RecordError(failure)
		span.SetStatus(codes.Error, "stage failed")
		logger.Warn().
			Err(failure).
			Str(log.FieldStage, string(stage)).
			Int(log.FieldExitCode, code).
			Strs("tail", proc.Tail(5)).
			Str(log.FieldEvent, "stage.failed").
			Msg("stage failed")
		msg := model.SanitizeMessage(failure.Error(), o.cfg.StorageRoot, snap.WorkDir)
		o.finishFromMonitor(id, model.StateError, msg, nil)
		return false
	}

	metrics.ObserveStage(string(stage), "ok", elapsed)
	span.SetAttributes(telemetry.StageAttributes(id, string(stage), 0, snap.FramesDone)...)
	logger.Info().
		Str(log.FieldStage, string(stage)).
		Dur("elapsed", elapsed).
		Int(log.FieldFrames, snap.FramesDone).
		Str(log.FieldEvent, "stage.completed").
		Msg("stage completed")
	return true
}

// observe folds one output line into the record.
func (o *Orchestrator) observe(id string, stage model.Stage, line string, parser *progress.PatternParser, est *progress.Estimator) {
	now := o.store.Now()
	frame, isFrame := parser.Parse(line)
	var (
		auto   progress.AutoOrientation
		isAuto bool
	)
	if !isFrame && stage == model.StageRendering {
		auto, isAuto = progress.ParseAuto(line)
	}
	ignored := !isFrame && !isAuto && parser.Ignored(line)

	changed := false
	snap, err := o.store.Update(id, func(r *model.Record) error {
		if r.State.Terminal() || r.AbortRequested || r.Stage != stage {
			return nil
		}
		r.LastActivityAt = now
		switch {
		case isFrame:
			if frame.Total > 0 {
				r.FramesTotal = frame.Total
			}
			if frame.Done > r.FramesDone {
				r.FramesDone = frame.Done
			}
			if pct := o.weights.Overall(stage, r.FramesDone, r.FramesTotal); pct > r.Progress {
				r.Progress = pct
			}
			est.Observe(frame.Done, now)
			if eta, ok := est.ETA(r.FramesTotal, now); ok {
				r.ETA = &eta
			}
			r.Message = frameMessage(stage, r.FramesDone, r.FramesTotal)
			changed = true
		case isAuto:
			if auto.HasAxis {
				switch a := model.Axis(auto.Axis); a {
				case model.AxisX, model.AxisY, model.AxisZ:
					r.Params.Axis = a
				}
			}
			if auto.HasOffset {
				r.Params.OffsetDeg = auto.Offset
			}
			r.Message = fmt.Sprintf("Auto orientation: axis %s, start %.1f°", r.Params.Axis, r.Params.OffsetDeg)
			changed = true
		case !ignored:
			r.Message = model.SanitizeMessage(line, o.cfg.StorageRoot, r.WorkDir)
			changed = true
		}
		return nil
	})
	if err == nil && changed {
		o.notify(model.EventProgress, snap)
	}
}

// complete publishes the encoded video and finalizes the job as finished.
// An artifact whose finalize was vetoed by a concurrent abort is withdrawn.
func (o *Orchestrator) complete(id string, layout launcher.Layout, logger zerolog.Logger) {
	snap, ok := o.store.Get(id)
	if !ok {
		return
	}
	dst, err := o.publish(snap, layout.Output(snap.Params.Format))
	if err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "artifact.publish_failed").Msg("could not publish artifact")
		o.finishFromMonitor(id, model.StateError, MsgPublishFail, nil)
		return
	}

	final, applied, err := o.store.FinalizeUnlessAborted(id, model.StateFinished, MsgComplete, func(r *model.Record) {
		r.OutputPath = dst
		r.Progress = 100
		if r.FramesTotal > 0 {
			r.FramesDone = r.FramesTotal
		}
	})
	if err != nil || !applied {
		o.unpublish(dst)
		return
	}
	o.afterTerminal(final)
}

// finishFromMonitor writes a terminal state on behalf of the monitor. It
// declines while an abort is pending; the aborting party finalizes instead.
func (o *Orchestrator) finishFromMonitor(id string, state model.State, message string, apply func(*model.Record)) {
	snap, applied, err := o.store.FinalizeUnlessAborted(id, state, message, apply)
	if err != nil {
		o.logger.Warn().Err(err).Str(log.FieldJobID, id).Msg("finalize failed")
		return
	}
	if applied {
		o.afterTerminal(snap)
	}
}

func (o *Orchestrator) parserFor(stage model.Stage) *progress.PatternParser {
	if stage == model.StageEncoding {
		return o.encodeParser
	}
	return o.renderParser
}

func stageFailure(stage model.Stage, code int, last string) error {
	if stage == model.StageEncoding {
		return &model.EncodeFailure{ExitCode: code, LastLine: last}
	}
	return &model.EngineFailure{ExitCode: code, LastLine: last}
}

// lastUseful returns the newest captured line that is neither progress nor
// noise, falling back to the newest line.
func lastUseful(proc *launcher.Process, parser *progress.PatternParser) string {
	tail := proc.Tail(20)
	for i := len(tail) - 1; i >= 0; i-- {
		if _, ok := parser.Parse(tail[i]); ok || parser.Ignored(tail[i]) {
			continue
		}
		return tail[i]
	}
	return proc.LastLine()
}

func frameMessage(stage model.Stage, done, total int) string {
	verb := "Rendering"
	if stage == model.StageEncoding {
		verb = "Encoding"
	}
	if total > 0 {
		return fmt.Sprintf("%s frame %d/%d", verb, done, total)
	}
	return fmt.Sprintf("%s frame %d", verb, done)
}

func toolName(stage model.Stage) string {
	if stage == model.StageEncoding {
		return "encoder"
	}
	return "renderer"
}

func hasFrames(dir string) bool {
	matches, err := filepath.Glob(filepath.Join(dir, "frame_*"))
	return err == nil && len(matches) > 0
}

func nonEmptyFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

func drain(lines <-chan string) {
	for range lines {
	}
}

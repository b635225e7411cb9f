// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/motivorastudios-blip/Motivora-studio/internal/log"
	"github.com/motivorastudios-blip/Motivora-studio/internal/metrics"
	"github.com/motivorastudios-blip/Motivora-studio/internal/platform/fs"
	"github.com/motivorastudios-blip/Motivora-studio/internal/render/model"
	"github.com/motivorastudios-blip/Motivora-studio/internal/render/store"
)

// prepareParams normalizes p and confines its input to the inbox. Relative
// input paths are resolved against the inbox.
func (o *Orchestrator) prepareParams(p model.Params, maxInputBytes int64) (model.Params, error) {
	if p.InputPath == "" {
		return p, fmt.Errorf("%w: input path is required", model.ErrInvalidParams)
	}

	var (
		path string
		err  error
	)
	if filepath.IsAbs(p.InputPath) {
		path, err = fs.ConfineAbsPath(o.cfg.InboxDir, p.InputPath)
	} else {
		path, err = fs.ConfineRelPath(o.cfg.InboxDir, p.InputPath)
	}
	if err != nil {
		return p, fmt.Errorf("%w: input must be inside the upload directory", model.ErrInvalidParams)
	}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return p, fmt.Errorf("%w: input file not found", model.ErrInvalidParams)
	case err != nil:
		return p, fmt.Errorf("%w: input file: %v", model.ErrInvalidParams, err)
	case !info.Mode().IsRegular():
		return p, fmt.Errorf("%w: input is not a regular file", model.ErrInvalidParams)
	case info.Size() == 0:
		return p, fmt.Errorf("%w: input file is empty", model.ErrInvalidParams)
	case maxInputBytes > 0 && info.Size() > maxInputBytes:
		return p, fmt.Errorf("%w: input exceeds %d MiB", model.ErrInvalidParams, maxInputBytes>>20)
	}

	p.InputPath = path
	if p.InputName == "" {
		p.InputName = filepath.Base(path)
	}
	p = p.Normalize(o.cfg.Defaults)
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// admit creates the pending record if req is below its caps. The count is
// taken from the store in the same critical section as the insert.
func (o *Orchestrator) admit(req model.Requester, p model.Params, caps store.Caps) (model.Snapshot, error) {
	rec := model.Record{
		ID:      o.newID(),
		Owner:   req.UserID,
		Session: req.SessionID,
		Params:  p,
		Message: p.LaunchMessage(),
	}
	snap, err := o.store.Admit(rec, caps)
	if err != nil {
		var rej *model.RejectedError
		if errors.As(err, &rej) {
			metrics.RecordReject(string(rej.Reason))
			o.logger.Info().
				Str(log.FieldOwnerKey, req.OwnerKey()).
				Str("reason", string(rej.Reason)).
				Int("limit", rej.Limit).
				Str(log.FieldEvent, "job.rejected").
				Msg("render submission rejected")
		}
		return model.Snapshot{}, err
	}
	metrics.RecordAdmit(req.OwnerClass())
	metrics.IncActiveJobs(stageLabel(snap.Stage))
	return snap, nil
}

// stageLabel is the metrics label for the stage a live job is in.
func stageLabel(s model.Stage) string {
	if s == model.StageNone {
		return "pending"
	}
	return string(s)
}

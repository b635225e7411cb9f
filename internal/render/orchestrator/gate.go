// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/motivorastudios-blip/Motivora-studio/internal/log"
	"github.com/motivorastudios-blip/Motivora-studio/internal/platform/fs"
	"github.com/motivorastudios-blip/Motivora-studio/internal/render/model"
)

// Artifact is a download the gate has approved.
type Artifact struct {
	Path     string
	Name     string
	MIMEType string
	Size     int64
	ModTime  time.Time
}

// ResolveDownload returns the artifact of a finished job owned by req. The
// stored path is re-resolved on every call and must lie under renders/.
func (o *Orchestrator) ResolveDownload(id string, req model.Requester) (Artifact, error) {
	snap, ok := o.store.Get(id)
	if !ok {
		return Artifact{}, model.ErrNotFound
	}
	if !snap.AccessibleBy(req) {
		return Artifact{}, model.ErrUnauthorized
	}
	if snap.State != model.StateFinished || snap.OutputPath == "" {
		return Artifact{}, model.ErrNotReady
	}

	path, err := fs.ConfineAbsPath(o.rendersRoot, snap.OutputPath)
	if err != nil {
		o.logger.Warn().
			Err(err).
			Str(log.FieldJobID, id).
			Str(log.FieldEvent, "download.path_rejected").
			Msg("stored artifact path rejected")
		return Artifact{}, model.ErrInvalidPath
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Artifact{}, fmt.Errorf("%w: artifact missing", model.ErrNotFound)
		}
		return Artifact{}, err
	}
	if !info.Mode().IsRegular() {
		return Artifact{}, model.ErrInvalidPath
	}

	return Artifact{
		Path:     path,
		Name:     model.DownloadName(snap.Params.InputName, snap.Params.Format),
		MIMEType: snap.Params.Format.MIMEType(),
		Size:     info.Size(),
		ModTime:  info.ModTime(),
	}, nil
}

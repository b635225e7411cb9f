// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/motivorastudios-blip/Motivora-studio/internal/log"
	"github.com/motivorastudios-blip/Motivora-studio/internal/render/model"
)

// manifest sits next to a published artifact and records what produced it.
type manifest struct {
	JobID      string       `json:"jobId"`
	Owner      string       `json:"owner,omitempty"`
	Params     model.Params `json:"params"`
	CreatedAt  time.Time    `json:"createdAt"`
	FinishedAt time.Time    `json:"finishedAt"`
	Size       int64        `json:"size"`
}

// publish moves the encoded video out of the scratch directory into
// renders/<id><ext> and returns its absolute path.
func (o *Orchestrator) publish(snap model.Snapshot, src string) (string, error) {
	if err := os.MkdirAll(o.rendersRoot, 0o750); err != nil {
		return "", fmt.Errorf("create renders dir: %w", err)
	}
	dst := filepath.Join(o.rendersRoot, snap.ID+snap.Params.Format.Extension())
	if err := adoptFile(src, dst); err != nil {
		return "", fmt.Errorf("publish %s: %w", snap.ID, err)
	}

	info, err := os.Stat(dst)
	if err != nil {
		return "", fmt.Errorf("stat artifact: %w", err)
	}
	m := manifest{
		JobID:      snap.ID,
		Owner:      snap.Owner,
		Params:     snap.Params,
		CreatedAt:  snap.CreatedAt,
		FinishedAt: o.store.Now(),
		Size:       info.Size(),
	}
	if err := writeManifest(manifestPath(dst), m); err != nil {
		o.logger.Warn().Err(err).Str(log.FieldJobID, snap.ID).Msg("could not write artifact manifest")
	}
	return dst, nil
}

// unpublish withdraws an artifact whose job did not end as finished.
func (o *Orchestrator) unpublish(dst string) {
	for _, p := range []string{dst, manifestPath(dst)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			o.logger.Warn().Err(err).Str(log.FieldPath, p).Msg("could not withdraw artifact")
		}
	}
}

func manifestPath(artifact string) string {
	return strings.TrimSuffix(artifact, filepath.Ext(artifact)) + ".json"
}

func writeManifest(path string, m manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0o640)
}

// adoptFile moves src to dst. Across filesystems it falls back to a durable
// copy followed by removing src.
func adoptFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	pending, err := renameio.NewPendingFile(dst, renameio.WithPermissions(0o640))
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := io.Copy(pending, in); err != nil {
		return fmt.Errorf("copy %s: %w", filepath.Base(src), err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace: %w", err)
	}
	_ = in.Close()
	if err := os.Remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove source: %w", err)
	}
	return nil
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/motivorastudios-blip/Motivora-studio/internal/render/launcher"
)

// DiskStats describes the filesystem holding the storage root.
type DiskStats struct {
	TotalBytes  uint64  `json:"totalBytes"`
	FreeBytes   uint64  `json:"freeBytes"`
	UsedPercent float64 `json:"usedPercent"`
}

// ReadyReport is the readiness answer. Checks maps a probe name to "ok" or
// the reason it failed.
type ReadyReport struct {
	Ready      bool              `json:"ready"`
	Checks     map[string]string `json:"checks"`
	Disk       *DiskStats        `json:"disk,omitempty"`
	ActiveJobs int               `json:"activeJobs"`
}

// Ready probes everything a new job depends on: writable storage, both
// tools on PATH and, if configured, the history database.
func (o *Orchestrator) Ready(ctx context.Context) (ReadyReport, error) {
	rep := ReadyReport{Checks: make(map[string]string), ActiveJobs: len(o.store.Active())}
	var errs []error
	check := func(name string, err error) {
		if err != nil {
			rep.Checks[name] = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		rep.Checks[name] = "ok"
	}

	o.mu.RLock()
	closing := o.closing
	o.mu.RUnlock()
	if closing {
		check("admission", errors.New("shutting down"))
	}

	check("storage", probeWritable(o.workRoot))
	_, err := launcher.ResolveBinary(o.cfg.Launcher.RendererBin)
	check("renderer", err)
	_, err = launcher.ResolveBinary(o.cfg.Launcher.EncoderBin)
	check("encoder", err)
	if o.history != nil {
		check("history", o.history.Ping(ctx))
	}

	if usage, err := disk.UsageWithContext(ctx, o.cfg.StorageRoot); err == nil {
		rep.Disk = &DiskStats{TotalBytes: usage.Total, FreeBytes: usage.Free, UsedPercent: usage.UsedPercent}
	}

	rep.Ready = len(errs) == 0
	return rep, errors.Join(errs...)
}

func probeWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

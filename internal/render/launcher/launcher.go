// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package launcher starts the renderer and encoder as process-group leaders
// and streams their output.
package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/motivorastudios-blip/Motivora-studio/internal/log"
	"github.com/motivorastudios-blip/Motivora-studio/internal/metrics"
	"github.com/motivorastudios-blip/Motivora-studio/internal/procgroup"
	"github.com/motivorastudios-blip/Motivora-studio/internal/render/model"
)

// Config holds the external tool settings.
type Config struct {
	RendererBin       string
	Script            string
	RendererExtraArgs []string
	Seconds           float64
	RenderFPS         int

	EncoderBin string
	OutputFPS  int

	// WaitDelay bounds how long output is drained after the child exits.
	WaitDelay time.Duration
}

// Launcher starts stages. It is safe for concurrent use.
type Launcher struct {
	cfg    Config
	logger zerolog.Logger
}

// New returns a Launcher for cfg.
func New(cfg Config) *Launcher {
	if cfg.RenderFPS <= 0 {
		cfg.RenderFPS = 11
	}
	if cfg.Seconds <= 0 {
		cfg.Seconds = 10
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = 2 * time.Second
	}
	return &Launcher{cfg: cfg, logger: log.WithComponent("launcher")}
}

// Layout is the scratch directory of one job.
type Layout struct {
	Dir    string
	Frames string
}

// Output is where the encoder writes inside the scratch directory.
func (l Layout) Output(f model.Format) string {
	return filepath.Join(l.Dir, "output"+f.Extension())
}

// Input is where the adopted model lives inside the scratch directory.
func (l Layout) Input(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = ".stl"
	}
	return filepath.Join(l.Dir, "input"+ext)
}

// EnsureWorkDir creates <workRoot>/<jobID>/frames.
func EnsureWorkDir(workRoot, jobID string) (Layout, error) {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." {
		return Layout{}, &model.LaunchError{Stage: model.StageNone, Op: "mkdir", Err: fmt.Errorf("invalid job id %q", jobID)}
	}
	dir := filepath.Join(workRoot, jobID)
	frames := filepath.Join(dir, "frames")
	if err := os.MkdirAll(frames, 0o750); err != nil {
		return Layout{}, &model.LaunchError{Stage: model.StageNone, Op: "mkdir", Err: err}
	}
	return Layout{Dir: dir, Frames: frames}, nil
}

// ResolveBinary returns the absolute path of bin. A leading ~ is expanded.
func ResolveBinary(bin string) (string, error) {
	if bin == "" {
		return "", fmt.Errorf("empty executable name")
	}
	if strings.HasPrefix(bin, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			bin = filepath.Join(home, bin[2:])
		}
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return "", err
	}
	return filepath.Abs(path)
}

// StartRender launches the renderer for p.
func (l *Launcher) StartRender(ctx context.Context, p model.Params, layout Layout) (*Process, error) {
	return l.Start(ctx, model.StageRendering, l.cfg.RendererBin, l.RenderArgs(p, layout.Frames), layout.Dir)
}

// StartEncode launches the encoder over the frames in layout.
func (l *Launcher) StartEncode(ctx context.Context, p model.Params, layout Layout) (*Process, error) {
	return l.Start(ctx, model.StageEncoding, l.cfg.EncoderBin, l.EncodeArgs(p, layout.Frames, layout.Output(p.Format)), layout.Dir)
}

// Start spawns bin in its own process group with dir as working directory
// and returns immediately. Cancelling ctx kills the whole group; orderly
// shutdown goes through Process.Terminate instead.
func (l *Launcher) Start(ctx context.Context, stage model.Stage, bin string, args []string, dir string) (*Process, error) {
	path, err := ResolveBinary(bin)
	if err != nil {
		metrics.RecordProcessSpawn(string(stage), "not_found")
		return nil, &model.LaunchError{Stage: stage, Op: "resolve " + bin, Err: err}
	}

	cmd := exec.CommandContext(ctx, path, args...) // #nosec G204 -- binaries come from operator config
	cmd.Dir = dir
	procgroup.Set(cmd)
	cmd.Cancel = func() error {
		return procgroup.Kill(cmd, syscall.SIGKILL)
	}
	cmd.WaitDelay = l.cfg.WaitDelay

	proc := newProcess(stage, cmd)
	w := &lineWriter{emit: func(line string) {
		proc.tail.add(line)
		proc.lines <- line
	}}
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		metrics.RecordProcessSpawn(string(stage), "error")
		return nil, &model.LaunchError{Stage: stage, Op: "start", Err: err}
	}
	proc.StartedAt = time.Now()
	metrics.RecordProcessSpawn(string(stage), "ok")

	l.logger.Info().
		Str(log.FieldStage, string(stage)).
		Str(log.FieldBinary, path).
		Int(log.FieldPID, cmd.Process.Pid).
		Strs("args", args).
		Str(log.FieldEvent, "process.started").
		Msg("started child process")

	go proc.wait(w)
	return proc, nil
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package orchestrator runs render jobs: admission, one supervising
// goroutine per job across the render and encode stages, cancellation,
// scratch cleanup and download gating.
//
// Terminal states are written by exactly one party. The job's monitor
// finalizes normal completion and failures; the cancellation path (user
// cancel, stall watchdog, shutdown) finalizes everything it aborted.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/motivorastudios-blip/Motivora-studio/internal/config"
	"github.com/motivorastudios-blip/Motivora-studio/internal/history"
	"github.com/motivorastudios-blip/Motivora-studio/internal/log"
	"github.com/motivorastudios-blip/Motivora-studio/internal/metrics"
	"github.com/motivorastudios-blip/Motivora-studio/internal/render/launcher"
	"github.com/motivorastudios-blip/Motivora-studio/internal/render/model"
	"github.com/motivorastudios-blip/Motivora-studio/internal/render/progress"
	"github.com/motivorastudios-blip/Motivora-studio/internal/render/store"
	"github.com/motivorastudios-blip/Motivora-studio/internal/telemetry"
)

// Status messages shown to job owners.
const (
	MsgEncoding    = "Encoding video…"
	MsgComplete    = "Render complete."
	MsgCancelled   = "Render cancelled."
	MsgShutdown    = "Render interrupted by shutdown."
	MsgInternal    = "Internal error while supervising the render."
	MsgPublishFail = "Could not store the finished video."
)

// Config holds everything the orchestrator needs at construction.
type Config struct {
	// StorageRoot contains work/ and renders/.
	StorageRoot string
	// InboxDir is where submitted inputs must live.
	InboxDir string

	Launcher launcher.Config

	Caps          store.Caps
	MaxInputBytes int64
	Defaults      model.Defaults

	RenderWeight   float64
	RenderPatterns []string
	EncodePatterns []string
	EncodeIgnore   []string
	Estimator      progress.EstimatorConfig

	TerminateGrace time.Duration
	KillTimeout    time.Duration

	// StallTimeout aborts running jobs without output for this long; 0 is off.
	StallTimeout time.Duration
	// Retention is how long terminal records stay in memory; 0 keeps them.
	Retention time.Duration
	// NotifyRate is progress notifications per second per job; 0 is unlimited.
	NotifyRate float64
}

// ConfigFromApp maps the daemon configuration.
func ConfigFromApp(cfg config.AppConfig) Config {
	return Config{
		StorageRoot: cfg.Storage.Root,
		InboxDir:    cfg.Storage.InboxDir(),
		Launcher: launcher.Config{
			RendererBin:       cfg.Renderer.Bin,
			Script:            cfg.Renderer.Script,
			RendererExtraArgs: cfg.Renderer.ExtraArgs,
			Seconds:           cfg.Renderer.Seconds,
			RenderFPS:         cfg.Renderer.RenderFPS,
			EncoderBin:        cfg.Encoder.Bin,
			OutputFPS:         cfg.Encoder.OutputFPS,
			WaitDelay:         cfg.Process.WaitDelay,
		},
		Caps:           CapsFromLimits(cfg.Limits),
		MaxInputBytes:  cfg.Limits.MaxInputBytes,
		Defaults:       cfg.Jobs.Defaults.Model(),
		RenderWeight:   cfg.Progress.RenderWeight,
		RenderPatterns: cfg.Progress.RenderPatterns,
		EncodePatterns: cfg.Progress.EncodePatterns,
		EncodeIgnore:   cfg.Progress.EncodeIgnore,
		Estimator:      cfg.Progress.Estimator(),
		TerminateGrace: cfg.Process.TerminateGrace,
		KillTimeout:    cfg.Process.KillTimeout,
		StallTimeout:   cfg.Jobs.StallTimeout,
		Retention:      cfg.Jobs.Retention,
		NotifyRate:     cfg.Progress.NotifyRate,
	}
}

// CapsFromLimits converts the configured limits into admission caps.
func CapsFromLimits(l config.LimitsConfig) store.Caps {
	return store.Caps{PerOwner: l.MaxPerOwner, Anonymous: l.MaxAnonymous, Total: l.MaxTotal}
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithSinks adds mirrors that receive job events.
func WithSinks(sinks ...model.Sink) Option {
	return func(o *Orchestrator) { o.sinks = append(o.sinks, sinks...) }
}

// WithHistory serves History from s and mirrors material changes into it.
func WithHistory(s history.Store) Option {
	return func(o *Orchestrator) {
		o.history = s
		o.sinks = append(o.sinks, history.NewMirror(s))
	}
}

// WithIDGenerator replaces the UUIDv4 job id source.
func WithIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) { o.newID = gen }
}

// WithClock replaces the time source of the record store.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.store.SetClock(now) }
}

// WithSweepInterval sets how often Run checks for stalls and evictions.
func WithSweepInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.sweepInterval = d }
}

type limits struct {
	caps          store.Caps
	maxInputBytes int64
}

// Orchestrator owns every job of this process.
type Orchestrator struct {
	cfg      Config
	store    *store.Store
	launcher *launcher.Launcher
	weights  progress.Weights

	renderParser *progress.PatternParser
	encodeParser *progress.PatternParser

	workRoot    string
	rendersRoot string

	limits    atomic.Pointer[limits]
	stall     atomic.Int64
	retention atomic.Int64

	sinks    []model.Sink
	history  history.Store
	notifier *notifier

	newID         func() string
	adopt         func(src, dst string) error
	sweepInterval time.Duration
	startedAt     time.Time

	// mu orders admission against shutdown so no monitor is added once
	// Shutdown started waiting.
	mu       sync.RWMutex
	closing  bool
	monitors sync.WaitGroup
	shutOnce sync.Once
	shutErr  error

	baseCtx    context.Context
	cancelBase context.CancelFunc

	logger zerolog.Logger
	tracer trace.Tracer
}

// New validates cfg, creates the storage layout and starts the notification
// dispatcher. Shutdown must be called to release it.
func New(cfg Config, opts ...Option) (*Orchestrator, error) {
	if cfg.StorageRoot == "" {
		return nil, fmt.Errorf("orchestrator: storage root is required")
	}
	root, err := filepath.Abs(cfg.StorageRoot)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: storage root: %w", err)
	}
	cfg.StorageRoot = root
	if cfg.InboxDir == "" {
		cfg.InboxDir = filepath.Join(root, "uploads")
	}
	if cfg.Defaults == (model.Defaults{}) {
		cfg.Defaults = model.DefaultDefaults()
	}
	if cfg.RenderPatterns == nil {
		cfg.RenderPatterns = progress.DefaultRenderPatterns
	}
	if cfg.EncodePatterns == nil {
		cfg.EncodePatterns = progress.DefaultEncodePatterns
	}
	if cfg.EncodeIgnore == nil {
		cfg.EncodeIgnore = progress.DefaultEncodeIgnore
	}
	if cfg.TerminateGrace <= 0 {
		cfg.TerminateGrace = 500 * time.Millisecond
	}
	if cfg.KillTimeout <= 0 {
		cfg.KillTimeout = 5 * time.Second
	}

	renderParser, err := progress.NewPatternParser(cfg.RenderPatterns, nil)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: render patterns: %w", err)
	}
	encodeParser, err := progress.NewPatternParser(cfg.EncodePatterns, cfg.EncodeIgnore)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: encode patterns: %w", err)
	}

	o := &Orchestrator{
		cfg:           cfg,
		store:         store.New(),
		launcher:      launcher.New(cfg.Launcher),
		weights:       progress.Weights{Render: cfg.RenderWeight},
		renderParser:  renderParser,
		encodeParser:  encodeParser,
		workRoot:      filepath.Join(root, "work"),
		rendersRoot:   filepath.Join(root, "renders"),
		newID:         uuid.NewString,
		adopt:         adoptFile,
		sweepInterval: 5 * time.Second,
		startedAt:     time.Now(),
		logger:        log.WithComponent("orchestrator"),
		tracer:        telemetry.Tracer("renderd/orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}

	for _, dir := range []string{o.workRoot, o.rendersRoot, cfg.InboxDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("orchestrator: create %s: %w", dir, err)
		}
	}

	o.ApplyLimits(cfg.Caps, cfg.MaxInputBytes)
	o.SetStallTimeout(cfg.StallTimeout)
	o.SetRetention(cfg.Retention)
	o.baseCtx, o.cancelBase = context.WithCancel(context.Background())
	o.notifier = newNotifier(o.sinks, cfg.NotifyRate, o.logger)
	return o, nil
}

// Submit validates p, admits a job for req and starts supervising it. The
// returned snapshot is the freshly created pending record.
func (o *Orchestrator) Submit(ctx context.Context, req model.Requester, p model.Params) (model.Snapshot, error) {
	ctx, span := o.tracer.Start(ctx, "render.submit")
	defer span.End()

	lim := o.limits.Load()
	p, err := o.prepareParams(p, lim.maxInputBytes)
	if err != nil {
		span.SetAttributes(telemetry.ErrorAttributes(err, "invalid_params")...)
		return model.Snapshot{}, err
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closing {
		metrics.RecordReject(string(model.ReasonShuttingDown))
		return model.Snapshot{}, &model.RejectedError{Reason: model.ReasonShuttingDown}
	}

	snap, err := o.admit(req, p, lim.caps)
	if err != nil {
		span.SetAttributes(telemetry.ErrorAttributes(err, "rejected")...)
		return model.Snapshot{}, err
	}
	span.SetAttributes(telemetry.SubmitAttributes(snap.ID, req.OwnerClass(),
		string(p.Quality), string(p.Format), p.Resolution, p.GPU)...)

	logger := log.WithContext(ctx, o.logger)
	logger.Info().
		Str(log.FieldJobID, snap.ID).
		Str(log.FieldOwnerKey, req.OwnerKey()).
		Str(log.FieldQuality, string(p.Quality)).
		Str(log.FieldFormat, string(p.Format)).
		Str(log.FieldEvent, "job.admitted").
		Msg("render job admitted")

	o.notify(model.EventCreated, snap)
	o.monitors.Add(1)
	go o.run(snap.ID)
	return snap, nil
}

// Status returns the current snapshot of id without an ownership check.
func (o *Orchestrator) Status(id string) (model.Snapshot, error) {
	snap, ok := o.store.Get(id)
	if !ok {
		return model.Snapshot{}, model.ErrNotFound
	}
	return snap, nil
}

// StatusFor is Status for a requester. Foreign jobs are reported as not
// found so their existence does not leak.
func (o *Orchestrator) StatusFor(id string, req model.Requester) (model.Snapshot, error) {
	snap, ok := o.store.Get(id)
	if !ok || !snap.AccessibleBy(req) {
		return model.Snapshot{}, model.ErrNotFound
	}
	return snap, nil
}

// HealthReport is the liveness answer.
type HealthReport struct {
	Status       string        `json:"status"`
	ActiveJobs   int           `json:"activeJobs"`
	RetainedJobs int           `json:"retainedJobs"`
	Uptime       time.Duration `json:"uptimeNs"`
}

// Health reports liveness. It never touches a job.
func (o *Orchestrator) Health() HealthReport {
	status := "ok"
	o.mu.RLock()
	if o.closing {
		status = "shutting_down"
	}
	o.mu.RUnlock()
	return HealthReport{
		Status:       status,
		ActiveJobs:   len(o.store.Active()),
		RetainedJobs: o.store.Len(),
		Uptime:       time.Since(o.startedAt),
	}
}

// History returns req's most recent jobs, newest first. It reads the
// durable mirror when one is configured and the in-memory records
// otherwise. Callers without any identity get nothing.
func (o *Orchestrator) History(ctx context.Context, req model.Requester, limit int) ([]history.Entry, error) {
	if req.UserID == "" && req.SessionID == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	if o.history != nil {
		return o.history.ListByOwner(ctx, req.OwnerKey(), limit)
	}

	snaps := o.store.List(func(s model.Snapshot) bool { return s.AccessibleBy(req) })
	out := make([]history.Entry, 0, len(snaps))
	for i := len(snaps) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, history.EntryFromSnapshot(snaps[i], o.store.Now()))
	}
	return out, nil
}

// ApplyLimits replaces the admission caps. Running jobs are unaffected.
func (o *Orchestrator) ApplyLimits(caps store.Caps, maxInputBytes int64) {
	o.limits.Store(&limits{caps: caps, maxInputBytes: maxInputBytes})
}

// SetStallTimeout changes the watchdog threshold; 0 disables it.
func (o *Orchestrator) SetStallTimeout(d time.Duration) { o.stall.Store(int64(d)) }

// SetRetention changes how long terminal records are kept; 0 keeps them.
func (o *Orchestrator) SetRetention(d time.Duration) { o.retention.Store(int64(d)) }

// Shutdown stops admission, aborts every live job as error and waits for
// all monitors, bounded by ctx. It is safe to call more than once.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.shutOnce.Do(func() {
		o.mu.Lock()
		o.closing = true
		o.mu.Unlock()

		ids := o.store.Active()
		if len(ids) > 0 {
			o.logger.Info().Int("jobs", len(ids)).Str(log.FieldEvent, "shutdown.abort").Msg("aborting live jobs")
		}
		var wg sync.WaitGroup
		for _, id := range ids {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				if _, err := o.abort(ctx, id, model.StateError, MsgShutdown); err != nil {
					o.logger.Warn().Err(err).Str(log.FieldJobID, id).Msg("abort on shutdown failed")
				}
			}(id)
		}
		wg.Wait()

		done := make(chan struct{})
		go func() {
			o.monitors.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			o.shutErr = fmt.Errorf("orchestrator shutdown: %w", ctx.Err())
		}
		o.cancelBase()
		o.notifier.close()
	})
	return o.shutErr
}

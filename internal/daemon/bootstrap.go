// SPDX-License-Identifier: MIT

// Package daemon wires the render orchestrator, its backends and the HTTP
// API into one process and owns its lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/motivorastudios-blip/Motivora-studio/internal/auth"
	"github.com/motivorastudios-blip/Motivora-studio/internal/config"
	"github.com/motivorastudios-blip/Motivora-studio/internal/control/middleware"
	"github.com/motivorastudios-blip/Motivora-studio/internal/events"
	"github.com/motivorastudios-blip/Motivora-studio/internal/history"
	"github.com/motivorastudios-blip/Motivora-studio/internal/httpapi"
	"github.com/motivorastudios-blip/Motivora-studio/internal/log"
	"github.com/motivorastudios-blip/Motivora-studio/internal/render/model"
	"github.com/motivorastudios-blip/Motivora-studio/internal/render/orchestrator"
	"github.com/motivorastudios-blip/Motivora-studio/internal/telemetry"
)

// ServiceName identifies the daemon in logs and traces.
const ServiceName = "renderd"

// Options selects where the daemon reads its configuration.
type Options struct {
	// ConfigPath is the YAML file; empty means environment only.
	ConfigPath string
	Version    string
	// LogOutput defaults to os.Stdout.
	LogOutput io.Writer
}

// Daemon is a fully wired process, ready to Run.
type Daemon struct {
	Config       config.AppConfig
	Orchestrator *orchestrator.Orchestrator

	app    *App
	logger zerolog.Logger
}

// Bootstrap loads the configuration and builds every component. On error
// nothing is left running.
func Bootstrap(ctx context.Context, opts Options) (*Daemon, error) {
	out := opts.LogOutput
	if out == nil {
		out = os.Stdout
	}
	logCfg := log.Config{Level: "info", Output: out, Service: ServiceName, Version: opts.Version}
	log.Configure(logCfg)

	loader := config.NewLoader(opts.ConfigPath, opts.Version)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logCfg.Level = cfg.LogLevel
	log.Reconfigure(logCfg)
	logger := log.WithComponent("daemon")

	logger.Info().
		Str("version", opts.Version).
		Str("listen", cfg.API.ListenAddr).
		Str("storage", cfg.Storage.Root).
		Str("history", cfg.History.Driver).
		Str("redis", config.MaskURL(cfg.Events.RedisAddr)).
		Msg("starting render daemon")

	if err := config.ValidateRuntime(cfg); err != nil {
		// Jobs fail individually and /readyz reports it.
		logger.Warn().Err(err).Str("event", "config.runtime_invalid").Msg("runtime checks failed")
	}

	verifier, err := auth.NewVerifier(cfg.API.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}

	d := &Daemon{Config: cfg, logger: logger}
	var cleanups []namedHook
	onClose := func(name string, hook ShutdownHook) {
		cleanups = append(cleanups, namedHook{name: name, hook: hook})
	}
	fail := func(err error) (*Daemon, error) {
		for i := len(cleanups) - 1; i >= 0; i-- {
			_ = cleanups[i].hook(context.Background())
		}
		return nil, err
	}

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    ServiceName,
		ServiceVersion: opts.Version,
		Environment:    config.ParseString(config.EnvPrefix+"ENVIRONMENT", "production"),
		ExporterType:   cfg.Telemetry.ExporterType,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Telemetry initialization failed, continuing without tracing")
		tp = nil
	} else if tp.Enabled() {
		logger.Info().
			Str("endpoint", cfg.Telemetry.Endpoint).
			Float64("sampling_rate", cfg.Telemetry.SamplingRate).
			Msg("Telemetry initialized")
	}
	if tp != nil {
		onClose("telemetry", tp.Shutdown)
	}

	var orchOpts []orchestrator.Option

	hist, err := history.Open(ctx, cfg.History.Driver, cfg.History.DSN)
	if err != nil {
		return fail(fmt.Errorf("open history: %w", err))
	}
	if hist != nil {
		onClose("history", func(context.Context) error { return hist.Close() })
		n, err := hist.MarkInterrupted(ctx)
		if err != nil {
			return fail(fmt.Errorf("recover history: %w", err))
		}
		if n > 0 {
			logger.Warn().Int64("jobs", n).Str("event", "history.interrupted").Msg("marked jobs of a previous run as interrupted")
		}
		orchOpts = append(orchOpts, orchestrator.WithHistory(hist))
	}

	if cfg.Events.RedisAddr != "" {
		pub, err := events.NewPublisher(ctx, events.RedisConfig{
			Addr:        cfg.Events.RedisAddr,
			Password:    cfg.Events.RedisPassword,
			DB:          cfg.Events.RedisDB,
			SnapshotTTL: cfg.Events.SnapshotTTL,
		}, log.WithComponent("events"))
		if err != nil {
			return fail(fmt.Errorf("connect event bus: %w", err))
		}
		onClose("events", func(context.Context) error { return pub.Close() })
		orchOpts = append(orchOpts, orchestrator.WithSinks(model.Sink(pub)))
	}

	orch, err := orchestrator.New(orchestrator.ConfigFromApp(cfg), orchOpts...)
	if err != nil {
		return fail(err)
	}
	onClose("orchestrator", orch.Shutdown)
	d.Orchestrator = orch

	stack := middleware.StackConfig{
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		EnableLogging:         true,
		RateLimit:             cfg.API.RateLimit,
		RateWindow:            time.Minute,
	}
	if tp != nil && tp.Enabled() {
		stack.TracingService = ServiceName
	}
	handler := httpapi.New(orch, verifier, httpapi.Config{Stack: stack}).Handler()

	mgr, err := NewManager(DefaultServerConfig(cfg.API.ListenAddr, cfg.API.ShutdownTimeout), Deps{
		Logger:     logger,
		APIHandler: handler,
	})
	if err != nil {
		return fail(err)
	}
	// Hooks run newest first: the orchestrator drains before its sinks close.
	for _, c := range cleanups {
		mgr.RegisterShutdownHook(c.name, c.hook)
	}

	holder := config.NewConfigHolder(cfg, loader, opts.ConfigPath)
	d.app = NewApp(logger, mgr, holder, orch, logCfg)
	return d, nil
}

// Run serves until ctx is cancelled and then shuts everything down.
func (d *Daemon) Run(ctx context.Context) error {
	err := d.app.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	d.logger.Info().Msg("render daemon stopped")
	return nil
}

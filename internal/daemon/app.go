// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/motivorastudios-blip/Motivora-studio/internal/config"
	"github.com/motivorastudios-blip/Motivora-studio/internal/log"
	"github.com/motivorastudios-blip/Motivora-studio/internal/render/orchestrator"
	"github.com/motivorastudios-blip/Motivora-studio/internal/render/store"
)

// Orchestrator is the part of the render orchestrator the daemon drives.
type Orchestrator interface {
	Run(ctx context.Context) error
	ApplyLimits(caps store.Caps, maxInputBytes int64)
	SetStallTimeout(d time.Duration)
	SetRetention(d time.Duration)
}

// App owns the long-lived runtime lifecycle (watchers, reload wiring, the
// orchestrator sweeper) and delegates server management to Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	cfgHolder    *config.ConfigHolder
	orch         Orchestrator
	logCfg       log.Config
	reloadSignal os.Signal
}

// NewApp creates a new App. cfgHolder may be nil when the configuration is
// fixed for the life of the process.
func NewApp(logger zerolog.Logger, manager Manager, cfgHolder *config.ConfigHolder, orch Orchestrator, logCfg log.Config) *App {
	return &App{
		logger:       logger,
		manager:      manager,
		cfgHolder:    cfgHolder,
		orch:         orch,
		logCfg:       logCfg,
		reloadSignal: syscall.SIGHUP,
	}
}

// Run starts all owned background subsystems and blocks until ctx is cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}
	if a.orch == nil {
		return ErrMissingOrchestrator
	}

	g, ctx := errgroup.WithContext(ctx)

	// Config watcher is best-effort: startup should not fail if watcher cannot be started.
	if a.cfgHolder != nil {
		if err := a.cfgHolder.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).Str("event", "config.watcher_start_failed").Msg("failed to start config watcher")
		}

		applyCh := make(chan config.AppConfig, 1)
		a.cfgHolder.RegisterListener(applyCh)

		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case cfg := <-applyCh:
					a.apply(cfg)
				}
			}
		})
	}

	// SIGHUP trigger for manual reload.
	if a.cfgHolder != nil && a.reloadSignal != nil {
		g.Go(func() error {
			hupChan := make(chan os.Signal, 1)
			signal.Notify(hupChan, a.reloadSignal)
			defer signal.Stop(hupChan)

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hupChan:
					a.logger.Info().
						Str("event", "config.reload_signal").
						Str("signal", a.reloadSignal.String()).
						Msg("received reload signal, reloading config")

					if err := a.cfgHolder.Reload(context.Background()); err != nil {
						a.logger.Warn().
							Err(err).
							Str("event", "config.reload_failed").
							Msg("config reload failed")
					}
				}
			}
		})
	}

	// Watchdog and retention sweeper (stops via ctx).
	g.Go(func() error {
		return a.orch.Run(ctx)
	})

	// Main server lifecycle. Shutdown hooks stop the orchestrator.
	g.Go(func() error {
		return a.manager.Start(ctx)
	})

	return g.Wait()
}

// apply pushes the hot-reloadable settings into the running process. The
// listen address, storage layout and backends need a restart.
func (a *App) apply(cfg config.AppConfig) {
	a.orch.ApplyLimits(orchestrator.CapsFromLimits(cfg.Limits), cfg.Limits.MaxInputBytes)
	a.orch.SetStallTimeout(cfg.Jobs.StallTimeout)
	a.orch.SetRetention(cfg.Jobs.Retention)

	if cfg.LogLevel != a.logCfg.Level {
		a.logCfg.Level = cfg.LogLevel
		log.Reconfigure(a.logCfg)
	}

	a.logger.Info().
		Str("event", "config.applied").
		Int("max_per_owner", cfg.Limits.MaxPerOwner).
		Int("max_anonymous", cfg.Limits.MaxAnonymous).
		Int("max_total", cfg.Limits.MaxTotal).
		Dur("stall_timeout", cfg.Jobs.StallTimeout).
		Dur("retention", cfg.Jobs.Retention).
		Msg("applied reloaded configuration")
}

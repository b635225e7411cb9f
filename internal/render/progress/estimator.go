// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package progress

import (
	"math"
	"time"
)

// EstimatorConfig tunes the ETA.
type EstimatorConfig struct {
	// Alpha is the smoothing factor of the per-frame duration, in (0,1].
	Alpha float64
	// Warmup is the number of frame durations needed before an ETA is given.
	Warmup int
	// SafetyFactor scales the raw estimate; frame times vary a lot.
	SafetyFactor float64
}

// DefaultEstimatorConfig returns the stock tuning.
func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{Alpha: 0.3, Warmup: 5, SafetyFactor: 1.25}
}

// Estimator keeps an exponentially smoothed per-frame duration. It is not
// safe for concurrent use; each monitor owns one.
type Estimator struct {
	cfg       EstimatorConfig
	avg       time.Duration
	samples   int
	lastFrame int
	lastAt    time.Time
}

// NewEstimator returns an estimator with cfg, falling back to defaults for
// zero fields.
func NewEstimator(cfg EstimatorConfig) *Estimator {
	def := DefaultEstimatorConfig()
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		cfg.Alpha = def.Alpha
	}
	if cfg.Warmup < 0 {
		cfg.Warmup = def.Warmup
	}
	if cfg.SafetyFactor <= 0 {
		cfg.SafetyFactor = def.SafetyFactor
	}
	return &Estimator{cfg: cfg, lastFrame: -1}
}

// Observe records that frame was reached at now. Repeated or backwards frame
// numbers only reset the reference point.
func (e *Estimator) Observe(frame int, now time.Time) {
	if e.lastFrame >= 0 && frame > e.lastFrame && !e.lastAt.IsZero() {
		delta := now.Sub(e.lastAt) / time.Duration(frame-e.lastFrame)
		if delta > 0 {
			if e.samples == 0 {
				e.avg = delta
			} else {
				e.avg = time.Duration(e.cfg.Alpha*float64(delta) + (1-e.cfg.Alpha)*float64(e.avg))
			}
			e.samples++
		}
	}
	if frame != e.lastFrame {
		e.lastFrame = frame
		e.lastAt = now
	}
}

// Average returns the smoothed per-frame duration, or zero before any sample.
func (e *Estimator) Average() time.Duration {
	return e.avg
}

// ETA estimates the remaining time until total frames are done. It returns
// false during warm-up or when total is unknown. If the current frame is
// already taking longer than the average, the overrun is added.
func (e *Estimator) ETA(total int, now time.Time) (time.Duration, bool) {
	if total <= 0 || e.samples == 0 || e.samples < e.cfg.Warmup {
		return 0, false
	}
	remaining := total - e.lastFrame
	if remaining < 0 {
		remaining = 0
	}
	raw := float64(e.avg) * float64(remaining)
	if elapsed := now.Sub(e.lastAt); elapsed > e.avg {
		raw += float64(elapsed - e.avg)
	}
	eta := time.Duration(math.Max(0, raw*e.cfg.SafetyFactor))
	return eta, true
}

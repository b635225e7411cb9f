// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"regexp"
	"strconv"

	"github.com/motivorastudios-blip/Motivora-studio/internal/render/model"
	"github.com/motivorastudios-blip/Motivora-studio/internal/validate"
)

// Validate validates an AppConfig using the centralized validation package.
// Checks that need the host (writable storage, resolvable binaries) are in
// ValidateRuntime so a config can be checked on another machine.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.LogLevel("LogLevel", cfg.LogLevel)
	v.NotEmpty("Storage.Root", cfg.Storage.Root)

	v.NotEmpty("Renderer.Bin", cfg.Renderer.Bin)
	v.NotEmpty("Renderer.Script", cfg.Renderer.Script)
	v.FloatRange("Renderer.Seconds", cfg.Renderer.Seconds, 1, 120)
	v.Range("Renderer.RenderFPS", cfg.Renderer.RenderFPS, 1, 120)
	v.NotEmpty("Encoder.Bin", cfg.Encoder.Bin)
	v.Range("Encoder.OutputFPS", cfg.Encoder.OutputFPS, 0, 120)

	v.PositiveDuration("Process.TerminateGrace", cfg.Process.TerminateGrace)
	v.PositiveDuration("Process.KillTimeout", cfg.Process.KillTimeout)
	v.NonNegativeDuration("Process.WaitDelay", cfg.Process.WaitDelay)

	v.FloatRange("Progress.RenderWeight", cfg.Progress.RenderWeight, 1, 99)
	validatePatterns(v, "Progress.RenderPatterns", cfg.Progress.RenderPatterns, true)
	validatePatterns(v, "Progress.EncodePatterns", cfg.Progress.EncodePatterns, true)
	validatePatterns(v, "Progress.EncodeIgnore", cfg.Progress.EncodeIgnore, false)
	v.FloatRange("Progress.ETAAlpha", cfg.Progress.ETAAlpha, 0.01, 1)
	v.NonNegative("Progress.ETAWarmup", cfg.Progress.ETAWarmup)
	v.FloatRange("Progress.ETASafety", cfg.Progress.ETASafety, 1, 10)
	if cfg.Progress.NotifyRate < 0 {
		v.AddError("Progress.NotifyRate", "must be non-negative", cfg.Progress.NotifyRate)
	}

	v.Positive("Limits.MaxPerOwner", cfg.Limits.MaxPerOwner)
	v.Positive("Limits.MaxAnonymous", cfg.Limits.MaxAnonymous)
	v.NonNegative("Limits.MaxTotal", cfg.Limits.MaxTotal)
	if cfg.Limits.MaxInputBytes <= 0 {
		v.AddError("Limits.MaxInputBytes", "must be positive", cfg.Limits.MaxInputBytes)
	}

	v.NonNegativeDuration("Jobs.Retention", cfg.Jobs.Retention)
	v.NonNegativeDuration("Jobs.StallTimeout", cfg.Jobs.StallTimeout)
	v.OneOf("Jobs.Defaults.Quality", cfg.Jobs.Defaults.Quality,
		[]string{string(model.QualityFast), string(model.QualityStandard), string(model.QualityUltra)})
	v.OneOf("Jobs.Defaults.Format", cfg.Jobs.Defaults.Format,
		[]string{string(model.FormatMP4), string(model.FormatWebM)})
	v.OneOf("Jobs.Defaults.Axis", cfg.Jobs.Defaults.Axis,
		[]string{string(model.AxisX), string(model.AxisY), string(model.AxisZ)})
	resolutions := make([]string, 0, len(model.Resolutions))
	for _, r := range model.Resolutions {
		resolutions = append(resolutions, strconv.Itoa(r))
	}
	v.OneOf("Jobs.Defaults.Resolution", strconv.Itoa(cfg.Jobs.Defaults.Resolution), resolutions)
	v.Range("Jobs.Defaults.Kelvin", cfg.Jobs.Defaults.Kelvin, model.MinKelvin, model.MaxKelvin)

	v.ListenAddr("API.ListenAddr", cfg.API.ListenAddr)
	v.NonNegative("API.RateLimit", cfg.API.RateLimit)
	v.PositiveDuration("API.ShutdownTimeout", cfg.API.ShutdownTimeout)

	v.OneOf("History.Driver", cfg.History.Driver, []string{"sqlite", "postgres", "none"})
	if cfg.History.Driver != "none" {
		v.NotEmpty("History.DSN", cfg.History.DSN)
	}

	if cfg.Events.RedisAddr != "" {
		v.NonNegative("Events.RedisDB", cfg.Events.RedisDB)
		v.PositiveDuration("Events.SnapshotTTL", cfg.Events.SnapshotTTL)
	}

	if cfg.Telemetry.Enabled {
		v.OneOf("Telemetry.ExporterType", cfg.Telemetry.ExporterType, []string{"grpc", "http"})
		v.NotEmpty("Telemetry.Endpoint", cfg.Telemetry.Endpoint)
		v.FloatRange("Telemetry.SamplingRate", cfg.Telemetry.SamplingRate, 0, 1)
	}

	return v.Err()
}

// ValidateRuntime checks the host: storage is writable and both binaries
// resolve.
func ValidateRuntime(cfg AppConfig) error {
	v := validate.New()
	v.WritableDirectory("Storage.Root", cfg.Storage.Root, false)
	v.Executable("Renderer.Bin", cfg.Renderer.Bin)
	v.Executable("Encoder.Bin", cfg.Encoder.Bin)
	return v.Err()
}

func validatePatterns(v *validate.Validator, field string, patterns []string, needDone bool) {
	if needDone && len(patterns) == 0 {
		v.AddError(field, "at least one pattern is required", patterns)
		return
	}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			v.AddError(field, "invalid regular expression: "+err.Error(), p)
			continue
		}
		if needDone && re.SubexpIndex("done") < 0 {
			v.AddError(field, `pattern needs a named group "done"`, p)
		}
	}
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"path/filepath"
	"time"

	"github.com/motivorastudios-blip/Motivora-studio/internal/render/model"
	"github.com/motivorastudios-blip/Motivora-studio/internal/render/progress"
)

// AppConfig is the complete renderd configuration.
type AppConfig struct {
	Version  string `yaml:"-"`
	LogLevel string `yaml:"logLevel"`

	Storage   StorageConfig   `yaml:"storage"`
	Renderer  RendererConfig  `yaml:"renderer"`
	Encoder   EncoderConfig   `yaml:"encoder"`
	Process   ProcessConfig   `yaml:"process"`
	Progress  ProgressConfig  `yaml:"progress"`
	Limits    LimitsConfig    `yaml:"limits"`
	Jobs      JobsConfig      `yaml:"jobs"`
	API       APIConfig       `yaml:"api"`
	History   HistoryConfig   `yaml:"history"`
	Events    EventsConfig    `yaml:"events"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// StorageConfig locates the storage root. Scratch directories live under
// <root>/work and published artifacts under <root>/renders.
type StorageConfig struct {
	Root string `yaml:"root"`
	// Inbox is where the web tier drops uploaded models. Submitted input
	// paths are confined to it. Defaults to <root>/uploads.
	Inbox string `yaml:"inbox"`
}

// WorkDir is the parent of all per-job scratch directories.
func (s StorageConfig) WorkDir() string { return filepath.Join(s.Root, "work") }

// RendersDir is the only directory downloads are served from.
func (s StorageConfig) RendersDir() string { return filepath.Join(s.Root, "renders") }

// InboxDir returns Inbox or its default.
func (s StorageConfig) InboxDir() string {
	if s.Inbox != "" {
		return s.Inbox
	}
	return filepath.Join(s.Root, "uploads")
}

type RendererConfig struct {
	Bin       string   `yaml:"bin"`
	Script    string   `yaml:"script"`
	Seconds   float64  `yaml:"seconds"`
	RenderFPS int      `yaml:"renderFps"`
	ExtraArgs []string `yaml:"extraArgs"`
}

type EncoderConfig struct {
	Bin       string `yaml:"bin"`
	OutputFPS int    `yaml:"outputFps"`
}

// ProcessConfig bounds how long a stage may take to die.
type ProcessConfig struct {
	TerminateGrace time.Duration `yaml:"terminateGrace"`
	KillTimeout    time.Duration `yaml:"killTimeout"`
	WaitDelay      time.Duration `yaml:"waitDelay"`
}

type ProgressConfig struct {
	RenderWeight   float64  `yaml:"renderWeight"`
	RenderPatterns []string `yaml:"renderPatterns"`
	EncodePatterns []string `yaml:"encodePatterns"`
	EncodeIgnore   []string `yaml:"encodeIgnore"`
	ETAAlpha       float64  `yaml:"etaAlpha"`
	ETAWarmup      int      `yaml:"etaWarmup"`
	ETASafety      float64  `yaml:"etaSafety"`
	// NotifyRate caps mirror notifications for progress updates per job.
	NotifyRate float64 `yaml:"notifyRate"`
}

// Estimator returns the ETA estimator settings.
func (p ProgressConfig) Estimator() progress.EstimatorConfig {
	return progress.EstimatorConfig{Alpha: p.ETAAlpha, Warmup: p.ETAWarmup, SafetyFactor: p.ETASafety}
}

// LimitsConfig holds the admission caps. Hot-reloadable.
type LimitsConfig struct {
	MaxPerOwner   int   `yaml:"maxPerOwner"`
	MaxAnonymous  int   `yaml:"maxAnonymous"`
	MaxTotal      int   `yaml:"maxTotal"`
	MaxInputBytes int64 `yaml:"maxInputBytes"`
}

type JobsConfig struct {
	Retention    time.Duration `yaml:"retention"`
	StallTimeout time.Duration `yaml:"stallTimeout"`
	Defaults     DefaultsConfig `yaml:"defaults"`
}

// DefaultsConfig fills in parameters a submission leaves out.
type DefaultsConfig struct {
	Quality    string `yaml:"quality"`
	Format     string `yaml:"format"`
	Resolution int    `yaml:"resolution"`
	Axis       string `yaml:"axis"`
	Kelvin     int    `yaml:"kelvin"`
}

// Model converts d into render parameter defaults.
func (d DefaultsConfig) Model() model.Defaults {
	return model.Defaults{
		Quality:    model.Quality(d.Quality),
		Format:     model.Format(d.Format),
		Resolution: d.Resolution,
		Axis:       model.Axis(d.Axis),
		Kelvin:     d.Kelvin,
	}
}

type APIConfig struct {
	ListenAddr string `yaml:"listenAddr"`
	JWTSecret  string `yaml:"jwtSecret"`
	// RateLimit is requests per minute per client IP; 0 disables it.
	RateLimit       int           `yaml:"rateLimit"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type HistoryConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres, none
	DSN    string `yaml:"dsn"`
}

type EventsConfig struct {
	RedisAddr     string        `yaml:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword"`
	RedisDB       int           `yaml:"redisDb"`
	SnapshotTTL   time.Duration `yaml:"snapshotTtl"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ExporterType string  `yaml:"exporterType"` // grpc, http
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// Default returns the configuration used when neither file nor
// environment sets a value.
func Default() AppConfig {
	return AppConfig{
		LogLevel: "info",
		Storage: StorageConfig{
			Root: "storage",
		},
		Renderer: RendererConfig{
			Bin:       "blender",
			Script:    "turntable.py",
			Seconds:   10,
			RenderFPS: 11,
		},
		Encoder: EncoderConfig{
			Bin:       "ffmpeg",
			OutputFPS: 25,
		},
		Process: ProcessConfig{
			TerminateGrace: 500 * time.Millisecond,
			KillTimeout:    5 * time.Second,
			WaitDelay:      2 * time.Second,
		},
		Progress: ProgressConfig{
			RenderWeight:   progress.DefaultRenderWeight,
			RenderPatterns: append([]string(nil), progress.DefaultRenderPatterns...),
			EncodePatterns: append([]string(nil), progress.DefaultEncodePatterns...),
			EncodeIgnore:   append([]string(nil), progress.DefaultEncodeIgnore...),
			ETAAlpha:       progress.DefaultEstimatorConfig().Alpha,
			ETAWarmup:      progress.DefaultEstimatorConfig().Warmup,
			ETASafety:      progress.DefaultEstimatorConfig().SafetyFactor,
			NotifyRate:     2,
		},
		Limits: LimitsConfig{
			MaxPerOwner:   5,
			MaxAnonymous:  5,
			MaxInputBytes: 100 << 20,
		},
		Jobs: JobsConfig{
			Retention: time.Hour,
			Defaults: DefaultsConfig{
				Quality:    string(model.QualityUltra),
				Format:     string(model.FormatMP4),
				Resolution: 1080,
				Axis:       string(model.AxisZ),
				Kelvin:     5600,
			},
		},
		API: APIConfig{
			ListenAddr:      ":8088",
			RateLimit:       120,
			ShutdownTimeout: 15 * time.Second,
		},
		History: HistoryConfig{
			Driver: "sqlite",
		},
		Events: EventsConfig{
			SnapshotTTL: time.Hour,
		},
		Telemetry: TelemetryConfig{
			ExporterType: "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every renderd environment variable.
const EnvPrefix = "MOTIVORA_"

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{} // Mechanical tracking of consumed keys
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Path returns the config file path, empty for ENV-only configuration.
func (l *Loader) Path() string { return l.configPath }

// Wrapper methods for mechanical connection tracking

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envInt64(key string, defaultVal int64) int64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt64(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

// Load loads configuration with precedence: ENV > File > Defaults
// It enforces Strict Validated Order: Parse File (Strict) -> Apply Env -> Validate
func (l *Loader) Load() (AppConfig, error) {
	cfg, err := l.LoadUnvalidated()
	if err != nil {
		return cfg, err
	}
	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadUnvalidated applies defaults, file and environment but skips Validate.
func (l *Loader) LoadUnvalidated() (AppConfig, error) {
	// 1. Set defaults
	cfg := Default()

	// 2. Load from file (if provided)
	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	// 3. Override with environment variables (highest priority)
	l.mergeEnvConfig(&cfg)

	// SAFETY: absolute storage paths so confinement checks compare like with like
	if abs, err := filepath.Abs(cfg.Storage.Root); err == nil {
		cfg.Storage.Root = abs
	}
	if cfg.Storage.Inbox != "" {
		if abs, err := filepath.Abs(cfg.Storage.Inbox); err == nil {
			cfg.Storage.Inbox = abs
		}
	}
	if cfg.History.Driver == "sqlite" && cfg.History.DSN == "" {
		cfg.History.DSN = filepath.Join(cfg.Storage.Root, "history.db")
	}

	cfg.Version = l.version
	return cfg, nil
}

// loadFile decodes a YAML file over cfg with STRICT parsing.
// Unknown fields will cause a fatal error to prevent misconfiguration.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	return decodeStrict(data, cfg)
}

func decodeStrict(data []byte, cfg *AppConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true) // Reject unknown fields

	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	// Strict: Ensure no multiple documents or trailing content
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

// mergeEnvConfig overlays environment variables. The unprefixed names
// BLENDER_BIN and DATABASE_URL are honoured for compatibility with existing
// deployments; the prefixed form wins when both are set.
func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	cfg.LogLevel = l.envString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogLevel = l.envString(EnvPrefix+"LOG_LEVEL", cfg.LogLevel)

	cfg.Storage.Root = l.envString(EnvPrefix+"STORAGE_ROOT", cfg.Storage.Root)
	cfg.Storage.Inbox = l.envString(EnvPrefix+"INBOX", cfg.Storage.Inbox)

	cfg.Renderer.Bin = l.envString("BLENDER_BIN", cfg.Renderer.Bin)
	cfg.Renderer.Bin = l.envString(EnvPrefix+"BLENDER_BIN", cfg.Renderer.Bin)
	cfg.Renderer.Script = l.envString(EnvPrefix+"SCRIPT", cfg.Renderer.Script)
	cfg.Renderer.Seconds = l.envFloat(EnvPrefix+"SECONDS", cfg.Renderer.Seconds)
	cfg.Renderer.RenderFPS = l.envInt(EnvPrefix+"RENDER_FPS", cfg.Renderer.RenderFPS)

	cfg.Encoder.Bin = l.envString(EnvPrefix+"FFMPEG", cfg.Encoder.Bin)
	cfg.Encoder.OutputFPS = l.envInt(EnvPrefix+"FPS", cfg.Encoder.OutputFPS)

	cfg.Process.TerminateGrace = l.envDuration(EnvPrefix+"TERMINATE_GRACE", cfg.Process.TerminateGrace)
	cfg.Process.KillTimeout = l.envDuration(EnvPrefix+"KILL_TIMEOUT", cfg.Process.KillTimeout)

	cfg.Progress.RenderWeight = l.envFloat(EnvPrefix+"RENDER_WEIGHT", cfg.Progress.RenderWeight)

	cfg.Limits.MaxPerOwner = l.envInt(EnvPrefix+"MAX_JOBS_PER_OWNER", cfg.Limits.MaxPerOwner)
	cfg.Limits.MaxAnonymous = l.envInt(EnvPrefix+"MAX_JOBS_ANONYMOUS", cfg.Limits.MaxAnonymous)
	cfg.Limits.MaxTotal = l.envInt(EnvPrefix+"MAX_JOBS_TOTAL", cfg.Limits.MaxTotal)
	cfg.Limits.MaxInputBytes = l.envInt64(EnvPrefix+"MAX_INPUT_BYTES", cfg.Limits.MaxInputBytes)

	cfg.Jobs.Retention = l.envDuration(EnvPrefix+"RETENTION", cfg.Jobs.Retention)
	cfg.Jobs.StallTimeout = l.envDuration(EnvPrefix+"STALL_TIMEOUT", cfg.Jobs.StallTimeout)
	cfg.Jobs.Defaults.Quality = strings.ToLower(l.envString(EnvPrefix+"QUALITY", cfg.Jobs.Defaults.Quality))
	cfg.Jobs.Defaults.Format = strings.ToLower(l.envString(EnvPrefix+"FORMAT", cfg.Jobs.Defaults.Format))
	cfg.Jobs.Defaults.Resolution = l.envInt(EnvPrefix+"SIZE", cfg.Jobs.Defaults.Resolution)
	cfg.Jobs.Defaults.Axis = strings.ToUpper(l.envString(EnvPrefix+"AXIS", cfg.Jobs.Defaults.Axis))

	cfg.API.ListenAddr = l.envString(EnvPrefix+"LISTEN", cfg.API.ListenAddr)
	cfg.API.JWTSecret = l.envString(EnvPrefix+"JWT_SECRET", cfg.API.JWTSecret)
	cfg.API.RateLimit = l.envInt(EnvPrefix+"RATE_LIMIT", cfg.API.RateLimit)

	cfg.History.Driver = l.envString(EnvPrefix+"HISTORY_DRIVER", cfg.History.Driver)
	if dsn, ok := os.LookupEnv("DATABASE_URL"); ok && dsn != "" {
		l.ConsumedEnvKeys["DATABASE_URL"] = struct{}{}
		cfg.History.DSN = dsn
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			cfg.History.Driver = "postgres"
		}
	}
	cfg.History.DSN = l.envString(EnvPrefix+"HISTORY_DSN", cfg.History.DSN)

	cfg.Events.RedisAddr = l.envString(EnvPrefix+"REDIS_ADDR", cfg.Events.RedisAddr)
	cfg.Events.RedisPassword = l.envString(EnvPrefix+"REDIS_PASSWORD", cfg.Events.RedisPassword)
	cfg.Events.RedisDB = l.envInt(EnvPrefix+"REDIS_DB", cfg.Events.RedisDB)

	cfg.Telemetry.Enabled = l.envBool(EnvPrefix+"TELEMETRY_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.ExporterType = l.envString(EnvPrefix+"TELEMETRY_EXPORTER", cfg.Telemetry.ExporterType)
	cfg.Telemetry.Endpoint = l.envString(EnvPrefix+"TELEMETRY_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat(EnvPrefix+"TELEMETRY_SAMPLING", cfg.Telemetry.SamplingRate)
}

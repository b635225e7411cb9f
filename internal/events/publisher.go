// SPDX-License-Identifier: MIT

// Package events publishes job snapshots on Redis so other web-tier
// replicas can follow a job without talking to this process.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/motivorastudios-blip/Motivora-studio/internal/render/model"
)

const (
	channelPrefix  = "motivora:jobs:"
	snapshotPrefix = "motivora:job:"
)

// ErrNoSnapshot is returned by Latest when no snapshot is stored.
var ErrNoSnapshot = errors.New("events: no snapshot")

// Channel is the pub/sub channel carrying updates for jobID.
func Channel(jobID string) string { return channelPrefix + jobID }

// SnapshotKey is the key holding the latest snapshot of jobID.
func SnapshotKey(jobID string) string { return snapshotPrefix + jobID }

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// SnapshotTTL bounds how long the latest snapshot outlives the job.
	SnapshotTTL time.Duration
}

// Publisher is a job event sink backed by Redis.
type Publisher struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewPublisher connects to Redis and verifies the connection.
func NewPublisher(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Msg("connected to Redis event bus")

	return newPublisher(client, cfg.SnapshotTTL, logger), nil
}

func newPublisher(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *Publisher {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Publisher{client: client, ttl: ttl, logger: logger}
}

func (p *Publisher) Name() string { return "events" }

// Notify stores the snapshot and publishes the event in one pipeline.
func (p *Publisher) Notify(ctx context.Context, ev model.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}
	id := ev.Snapshot.ID
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, SnapshotKey(id), payload, p.ttl)
		pipe.Publish(ctx, Channel(id), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("events: publish %s: %w", id, err)
	}
	return nil
}

// Latest returns the last event stored for jobID.
func (p *Publisher) Latest(ctx context.Context, jobID string) (model.Event, error) {
	raw, err := p.client.Get(ctx, SnapshotKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Event{}, ErrNoSnapshot
	}
	if err != nil {
		return model.Event{}, err
	}
	var ev model.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return model.Event{}, fmt.Errorf("events: decode %s: %w", jobID, err)
	}
	return ev, nil
}

// HealthCheck checks if Redis is available.
func (p *Publisher) HealthCheck(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motivorastudios-blip/Motivora-studio/internal/render/model"
)

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *Publisher) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	p := newPublisher(client, 10*time.Minute, zerolog.Nop())
	t.Cleanup(func() { _ = p.Close() })
	return mr, p
}

func testEvent(kind model.EventKind) model.Event {
	return model.Event{
		Kind: kind,
		Snapshot: model.Snapshot{
			ID:       "job-1",
			Owner:    "u1",
			State:    model.StateRunning,
			Stage:    model.StageRendering,
			Progress: 23.33,
			Message:  "Rendering frame 1/3",
		},
		At: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestPublisher_StoresLatestWithTTL(t *testing.T) {
	mr, p := setupMiniRedis(t)
	ctx := context.Background()

	require.NoError(t, p.Notify(ctx, testEvent(model.EventProgress)))

	assert.True(t, mr.Exists(SnapshotKey("job-1")))
	assert.Equal(t, 10*time.Minute, mr.TTL(SnapshotKey("job-1")))

	got, err := p.Latest(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.EventProgress, got.Kind)
	assert.Equal(t, model.StateRunning, got.Snapshot.State)
	assert.InDelta(t, 23.33, got.Snapshot.Progress, 1e-9)

	mr.FastForward(11 * time.Minute)
	_, err = p.Latest(ctx, "job-1")
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestPublisher_PublishesOnJobChannel(t *testing.T) {
	mr, p := setupMiniRedis(t)
	ctx := context.Background()

	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()}).Subscribe(ctx, Channel("job-1"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, p.Notify(ctx, testEvent(model.EventTerminal)))

	select {
	case msg := <-sub.Channel():
		var ev model.Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, model.EventTerminal, ev.Kind)
		assert.Equal(t, "job-1", ev.Snapshot.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("no message published")
	}
}

func TestPublisher_HealthCheck(t *testing.T) {
	mr, p := setupMiniRedis(t)
	assert.Equal(t, "events", p.Name())
	require.NoError(t, p.HealthCheck(context.Background()))

	mr.SetError("ERR simulated failure")
	assert.Error(t, p.HealthCheck(context.Background()))
	assert.Error(t, p.Notify(context.Background(), testEvent(model.EventCreated)))
}

func TestNewPublisher_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewPublisher(ctx, RedisConfig{Addr: "127.0.0.1:1"}, zerolog.Nop())
	assert.Error(t, err)
}

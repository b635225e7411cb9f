// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/motivorastudios-blip/Motivora-studio/internal/config"
	"github.com/motivorastudios-blip/Motivora-studio/internal/log"
	"github.com/motivorastudios-blip/Motivora-studio/internal/render/store"
)

type fakeOrchestrator struct {
	mu        sync.Mutex
	caps      store.Caps
	maxInput  int64
	stall     time.Duration
	retention time.Duration
	runErr    error
}

func (f *fakeOrchestrator) Run(ctx context.Context) error {
	if f.runErr != nil {
		return f.runErr
	}
	<-ctx.Done()
	return nil
}

func (f *fakeOrchestrator) ApplyLimits(caps store.Caps, maxInputBytes int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.caps = caps
	f.maxInput = maxInputBytes
}

func (f *fakeOrchestrator) SetStallTimeout(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stall = d
}

func (f *fakeOrchestrator) SetRetention(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retention = d
}

func (f *fakeOrchestrator) snapshot() (store.Caps, time.Duration, time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.caps, f.stall, f.retention
}

type fakeManager struct {
	started chan struct{}
}

func (m *fakeManager) Start(ctx context.Context) error {
	close(m.started)
	<-ctx.Done()
	return nil
}

func (m *fakeManager) Shutdown(context.Context) error { return nil }
func (m *fakeManager) RegisterShutdownHook(string, ShutdownHook) {}

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestApp_RequiresManagerAndOrchestrator(t *testing.T) {
	logger := log.WithComponent("test")
	assert.ErrorIs(t, NewApp(logger, nil, nil, &fakeOrchestrator{}, log.Config{}).Run(context.Background()), ErrMissingManager)
	assert.ErrorIs(t, NewApp(logger, &fakeManager{started: make(chan struct{})}, nil, nil, log.Config{}).Run(context.Background()), ErrMissingOrchestrator)
}

func TestApp_ReloadAppliesLimits(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	path := filepath.Join(dir, "renderd.yaml")
	writeConfig(t, path, "storage:\n  root: "+dir+"\nhistory:\n  driver: none\nlimits:\n  maxPerOwner: 3\n")

	loader := config.NewLoader(path, "test")
	cfg, err := loader.Load()
	require.NoError(t, err)
	holder := config.NewConfigHolder(cfg, loader, path)

	orch := &fakeOrchestrator{}
	mgr := &fakeManager{started: make(chan struct{})}
	app := NewApp(log.WithComponent("test"), mgr, holder, orch, log.Config{Level: cfg.LogLevel})
	app.reloadSignal = nil

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	<-mgr.started

	writeConfig(t, path, "storage:\n  root: "+dir+"\nhistory:\n  driver: none\n"+
		"limits:\n  maxPerOwner: 9\n  maxTotal: 40\njobs:\n  stallTimeout: 2m\n  retention: 10m\n")
	require.Eventually(t, func() bool {
		_ = holder.Reload(ctx)
		caps, _, _ := orch.snapshot()
		return caps.PerOwner == 9
	}, 5*time.Second, 50*time.Millisecond)

	caps, stall, retention := orch.snapshot()
	assert.Equal(t, store.Caps{PerOwner: 9, Anonymous: 5, Total: 40}, caps)
	assert.Equal(t, 2*time.Minute, stall)
	assert.Equal(t, 10*time.Minute, retention)

	// An invalid file keeps the running limits.
	writeConfig(t, path, "limits:\n  maxPerOwner: -1\n")
	assert.Error(t, holder.Reload(ctx))
	caps, _, _ = orch.snapshot()
	assert.Equal(t, 9, caps.PerOwner)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestApp_OrchestratorFailureStopsServer(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	boom := errors.New("sweeper crashed")
	mgr := &fakeManager{started: make(chan struct{})}
	app := NewApp(log.WithComponent("test"), mgr, nil, &fakeOrchestrator{runErr: boom}, log.Config{})

	done := make(chan error, 1)
	go func() { done <- app.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, boom)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after orchestrator failure")
	}
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.False(t, p.Enabled())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProvider_InvalidExporter(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{
		Enabled:      true,
		ExporterType: "carrier-pigeon",
		Endpoint:     "localhost:4317",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported exporter type")
}

func TestNewProvider_SamplingRates(t *testing.T) {
	for _, rate := range []float64{0, 0.25, 1} {
		p, err := NewProvider(context.Background(), Config{
			Enabled:      true,
			ServiceName:  "renderd-test",
			ExporterType: "http",
			Endpoint:     "localhost:4318",
			SamplingRate: rate,
		})
		require.NoError(t, err, "rate %v", rate)
		assert.True(t, p.Enabled())

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		_ = p.Shutdown(ctx)
		cancel()
	}
}

func TestTracer(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	ctx, span := Tracer("render").Start(context.Background(), "render.submit")
	require.NotNil(t, span)
	span.End()
	assert.NotNil(t, trace.SpanFromContext(ctx))
}

func TestProvider_ConcurrentShutdown(t *testing.T) {
	provider := &Provider{}
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			assert.NoError(t, provider.Shutdown(ctx))
		}()
	}
	wg.Wait()
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestReconfigureSetsServiceAndComponent(t *testing.T) {
	var buf bytes.Buffer
	Reconfigure(Config{Level: "debug", Output: &buf, Service: "renderd-test", Version: "v0.0.1"})
	t.Cleanup(func() { Reconfigure(Config{Level: "info"}) })

	l := WithComponent("orchestrator")
	l.Debug().Str(FieldEvent, "job.created").Msg("created")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "renderd-test", entries[0]["service"])
	assert.Equal(t, "v0.0.1", entries[0]["version"])
	assert.Equal(t, "orchestrator", entries[0][FieldComponent])
	assert.Equal(t, "job.created", entries[0][FieldEvent])
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestMiddlewareLogsRoutePattern(t *testing.T) {
	var buf bytes.Buffer
	Reconfigure(Config{Level: "info", Output: &buf})
	t.Cleanup(func() { Reconfigure(Config{Level: "info"}) })

	r := chi.NewRouter()
	r.Use(Middleware())
	r.Get("/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/abc", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "/jobs/{id}", entries[0]["route"])
	assert.Equal(t, float64(http.StatusNotFound), entries[0]["status"])
	assert.Equal(t, "warn", entries[0]["level"])
	assert.Equal(t, "request.handled", entries[0][FieldEvent])
}

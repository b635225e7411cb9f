// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package problem

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motivorastudios-blip/Motivora-studio/internal/log"
)

func TestWrite(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/abc", nil)
	r = r.WithContext(log.ContextWithRequestID(r.Context(), "req-1"))
	w := httptest.NewRecorder()

	Write(w, r, http.StatusNotFound, "jobs/not_found", "Not Found", "NOT_FOUND", "job not found",
		map[string]any{"jobId": "abc", "status": 200})

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Equal(t, "req-1", w.Header().Get(HeaderRequestID))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "jobs/not_found", body["type"])
	assert.Equal(t, "NOT_FOUND", body["code"])
	assert.Equal(t, "job not found", body["detail"])
	assert.Equal(t, "/api/v1/jobs/abc", body["instance"])
	assert.Equal(t, "req-1", body[JSONKeyRequestID])
	assert.Equal(t, "abc", body["jobId"])
	assert.EqualValues(t, 404, body["status"], "extras must not override reserved keys")
}

func TestWrite_NoRequestID(t *testing.T) {
	w := httptest.NewRecorder()
	Write(w, nil, http.StatusInternalServerError, "system/internal", "Internal Error", "INTERNAL", "", nil)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotContains(t, body, JSONKeyRequestID)
	assert.NotContains(t, body, "detail")
	assert.Empty(t, w.Header().Get(HeaderRequestID))
}

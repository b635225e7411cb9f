// SPDX-License-Identifier: MIT
package telemetry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func lookup(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, a := range attrs {
		if string(a.Key) == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestHTTPAttributes(t *testing.T) {
	attrs := HTTPAttributes("GET", "/api/v1/jobs/{id}", "http://localhost:8088/api/v1/jobs/x", 200)
	assert.Len(t, attrs, 4)
	v, _ := lookup(attrs, HTTPRouteKey)
	assert.Equal(t, "/api/v1/jobs/{id}", v.AsString())
	v, _ = lookup(attrs, HTTPStatusCodeKey)
	assert.Equal(t, int64(200), v.AsInt64())
}

func TestSubmitAttributes(t *testing.T) {
	attrs := SubmitAttributes("job-1", "session", "ultra", "webm", 1440, true)
	v, ok := lookup(attrs, JobIDKey)
	assert.True(t, ok)
	assert.Equal(t, "job-1", v.AsString())
	v, _ = lookup(attrs, JobResolutionKey)
	assert.Equal(t, int64(1440), v.AsInt64())
	v, _ = lookup(attrs, JobGPUKey)
	assert.True(t, v.AsBool())
}

func TestStageAttributes_OmitsZeroValues(t *testing.T) {
	assert.Len(t, StageAttributes("job-1", "rendering", 0, 0), 2)

	attrs := StageAttributes("job-1", "encoding", 4242, 110)
	assert.Len(t, attrs, 4)
	v, _ := lookup(attrs, ProcessPIDKey)
	assert.Equal(t, int64(4242), v.AsInt64())
}

func TestTerminalAndErrorAttributes(t *testing.T) {
	attrs := TerminalAttributes("error", 1, 1500)
	v, _ := lookup(attrs, JobStateKey)
	assert.Equal(t, "error", v.AsString())
	v, _ = lookup(attrs, ProcessExitCodeKey)
	assert.Equal(t, int64(1), v.AsInt64())

	attrs = ErrorAttributes(errors.New("boom"), "engine_failure")
	v, _ = lookup(attrs, ErrorKey)
	assert.True(t, v.AsBool())
	v, _ = lookup(attrs, ErrorTypeKey)
	assert.Equal(t, "engine_failure", v.AsString())
}

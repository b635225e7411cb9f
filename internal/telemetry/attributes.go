// SPDX-License-Identifier: MIT

// Package telemetry provides OpenTelemetry tracing utilities for renderd.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"
	HTTPUserAgentKey  = "http.user_agent"

	// Render job attributes
	JobIDKey         = "render.job_id"
	JobOwnerClassKey = "render.owner_class"
	JobStageKey      = "render.stage"
	JobStateKey      = "render.state"
	JobQualityKey    = "render.quality"
	JobFormatKey     = "render.format"
	JobResolutionKey = "render.resolution"
	JobGPUKey        = "render.gpu"
	JobFramesKey     = "render.frames"
	JobDurationKey   = "render.duration_ms"

	// Process attributes
	ProcessPIDKey      = "process.pid"
	ProcessExitCodeKey = "process.exit_code"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// SubmitAttributes describes an admission.
func SubmitAttributes(jobID, ownerClass, quality, format string, resolution int, gpu bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(JobIDKey, jobID),
		attribute.String(JobOwnerClassKey, ownerClass),
		attribute.String(JobQualityKey, quality),
		attribute.String(JobFormatKey, format),
		attribute.Int(JobResolutionKey, resolution),
		attribute.Bool(JobGPUKey, gpu),
	}
}

// StageAttributes describes one pipeline stage. Zero values are omitted.
func StageAttributes(jobID, stage string, pid, frames int) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 4)
	attrs = append(attrs, attribute.String(JobIDKey, jobID), attribute.String(JobStageKey, stage))
	if pid > 0 {
		attrs = append(attrs, attribute.Int(ProcessPIDKey, pid))
	}
	if frames > 0 {
		attrs = append(attrs, attribute.Int(JobFramesKey, frames))
	}
	return attrs
}

// TerminalAttributes describes how a job ended.
func TerminalAttributes(state string, exitCode int, durationMS int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(JobStateKey, state),
		attribute.Int(ProcessExitCodeKey, exitCode),
		attribute.Int64(JobDurationKey, durationMS),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}

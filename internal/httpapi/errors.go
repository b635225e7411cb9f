// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/motivorastudios-blip/Motivora-studio/internal/control/http/problem"
	"github.com/motivorastudios-blip/Motivora-studio/internal/log"
	"github.com/motivorastudios-blip/Motivora-studio/internal/render/model"
)

func writeProblem(w http.ResponseWriter, r *http.Request, status int, typ, title, code, detail string) {
	problem.Write(w, r, status, typ, title, code, detail, nil)
}

// writeError maps domain errors onto problem responses. Unknown and foreign
// jobs produce byte-identical bodies.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var rej *model.RejectedError
	switch {
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrUnauthorized):
		writeProblem(w, r, http.StatusNotFound, "jobs/not_found", "Not Found", "JOB_NOT_FOUND", "job not found")
	case errors.Is(err, model.ErrNotReady):
		writeProblem(w, r, http.StatusConflict, "jobs/not_ready", "Not Ready", "JOB_NOT_READY", "the render has not finished")
	case errors.Is(err, model.ErrInvalidPath):
		writeProblem(w, r, http.StatusForbidden, "jobs/invalid_path", "Forbidden", "INVALID_PATH", "artifact is not available")
	case errors.Is(err, model.ErrInvalidParams):
		writeProblem(w, r, http.StatusBadRequest, "jobs/invalid_params", "Bad Request", "INVALID_PARAMS", model.SanitizeMessage(err.Error()))
	case errors.As(err, &rej):
		switch rej.Reason {
		case model.ReasonShuttingDown:
			w.Header().Set("Retry-After", "30")
			writeProblem(w, r, http.StatusServiceUnavailable, "jobs/shutting_down", "Service Unavailable", "SHUTTING_DOWN", rej.Error())
		default:
			w.Header().Set("Retry-After", "10")
			problem.Write(w, r, http.StatusTooManyRequests, "jobs/"+string(rej.Reason), "Too Many Requests",
				"TOO_MANY_JOBS", rej.Error(), map[string]any{"reason": string(rej.Reason), "limit": rej.Limit})
		}
	default:
		logger := log.WithComponentFromContext(r.Context(), "httpapi")
		logger.Error().Err(err).Msg("request failed")
		writeProblem(w, r, http.StatusInternalServerError, "system/internal", "Internal Server Error", "INTERNAL", "")
	}
}

// writeValidation reports struct validation failures per field, keyed by
// the JSON field name.
func writeValidation(w http.ResponseWriter, r *http.Request, err error) {
	fields := map[string]string{}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, e := range verrs {
			rule := e.Tag()
			if e.Param() != "" {
				rule += "=" + e.Param()
			}
			fields[e.Field()] = rule
		}
	}
	problem.Write(w, r, http.StatusBadRequest, "jobs/invalid_params", "Bad Request", "INVALID_PARAMS",
		"request validation failed", map[string]any{"fields": fields})
}

func parseLimit(raw string, def, max int) (int, bool) {
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	if n > max {
		n = max
	}
	return n, true
}

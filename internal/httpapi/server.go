// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package httpapi is the HTTP surface of the render daemon. The web tier
// calls it with a bearer token identifying the end user or browser session.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/motivorastudios-blip/Motivora-studio/internal/auth"
	"github.com/motivorastudios-blip/Motivora-studio/internal/control/middleware"
	"github.com/motivorastudios-blip/Motivora-studio/internal/history"
	"github.com/motivorastudios-blip/Motivora-studio/internal/log"
	"github.com/motivorastudios-blip/Motivora-studio/internal/render/model"
	"github.com/motivorastudios-blip/Motivora-studio/internal/render/orchestrator"
)

// Service is what the handlers need from the orchestrator.
type Service interface {
	Submit(ctx context.Context, req model.Requester, p model.Params) (model.Snapshot, error)
	StatusFor(id string, req model.Requester) (model.Snapshot, error)
	Cancel(ctx context.Context, id string, req model.Requester) error
	ResolveDownload(id string, req model.Requester) (orchestrator.Artifact, error)
	History(ctx context.Context, req model.Requester, limit int) ([]history.Entry, error)
	Health() orchestrator.HealthReport
	Ready(ctx context.Context) (orchestrator.ReadyReport, error)
}

// Config configures the HTTP surface.
type Config struct {
	Stack middleware.StackConfig
	// MaxBodyBytes bounds JSON request bodies.
	MaxBodyBytes int64
}

// Server holds the handler dependencies.
type Server struct {
	svc      Service
	verifier *auth.Verifier
	validate *validator.Validate
	cfg      Config
	logger   zerolog.Logger
}

// New returns a server for svc. verifier authenticates every /api/v1 call.
func New(svc Service, verifier *auth.Verifier, cfg Config) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Server{
		svc:      svc,
		verifier: verifier,
		validate: v,
		cfg:      cfg,
		logger:   log.WithComponent("httpapi"),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := middleware.NewRouter(s.cfg.Stack)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware(s.verifier))
		r.Post("/jobs", s.handleSubmit)
		r.Get("/jobs/{id}", s.handleStatus)
		r.Post("/jobs/{id}/cancel", s.handleCancel)
		r.Get("/jobs/{id}/download", s.handleDownload)
		r.Get("/history", s.handleHistory)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusNotFound, "system/not_found", "Not Found", "NOT_FOUND", "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusMethodNotAllowed, "system/method_not_allowed", "Method Not Allowed", "METHOD_NOT_ALLOWED", "")
	})
	return r
}

// writeJSON writes a JSON response with the given status code. Encoding
// failures can only be logged once the header is out.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.L().Error().Err(err).Int("status", code).Msg("failed to encode JSON response")
	}
}

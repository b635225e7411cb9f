// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/motivorastudios-blip/Motivora-studio/internal/auth"
	"github.com/motivorastudios-blip/Motivora-studio/internal/history"
	"github.com/motivorastudios-blip/Motivora-studio/internal/log"
	"github.com/motivorastudios-blip/Motivora-studio/internal/render/model"
)

// SubmitRequest is the body of POST /api/v1/jobs. Enum values outside the
// supported sets fall back to the configured defaults and numbers are
// clamped, so validation only guards shape and size.
type SubmitRequest struct {
	Input          string  `json:"input" validate:"required,max=1024"`
	InputName      string  `json:"inputName" validate:"omitempty,max=255"`
	Quality        string  `json:"quality" validate:"omitempty,max=16"`
	Format         string  `json:"format" validate:"omitempty,max=16"`
	Resolution     int     `json:"resolution" validate:"gte=0,lte=8192"`
	Axis           string  `json:"axis" validate:"omitempty,max=1"`
	Offset         float64 `json:"offset"`
	AutoOrient     bool    `json:"autoOrient"`
	Kelvin         int     `json:"kelvin" validate:"gte=0,lte=100000"`
	Exposure       float64 `json:"exposure"`
	AutoBrightness bool    `json:"autoBrightness"`
	Watermark      bool    `json:"watermark"`
	GPU            bool    `json:"gpu"`
}

func (req SubmitRequest) params() model.Params {
	return model.Params{
		InputPath:      req.Input,
		InputName:      req.InputName,
		Quality:        model.Quality(req.Quality),
		Format:         model.Format(req.Format),
		Resolution:     req.Resolution,
		Axis:           model.Axis(req.Axis),
		OffsetDeg:      req.Offset,
		AutoOrient:     req.AutoOrient,
		Kelvin:         req.Kelvin,
		Exposure:       req.Exposure,
		AutoBrightness: req.AutoBrightness,
		Watermark:      req.Watermark,
		GPU:            req.GPU,
	}
}

// JobResponse is the status view of a job.
type JobResponse struct {
	JobID       string       `json:"jobId"`
	State       model.State  `json:"state"`
	Stage       model.Stage  `json:"stage,omitempty"`
	Progress    float64      `json:"progress"`
	Message     string       `json:"message"`
	ETASeconds  *float64     `json:"etaSeconds"`
	FramesDone  int          `json:"framesDone"`
	FramesTotal int          `json:"framesTotal"`
	Params      model.Params `json:"params"`
	CreatedAt   time.Time    `json:"createdAt"`
	FinishedAt  *time.Time   `json:"finishedAt,omitempty"`
}

func jobResponse(s model.Snapshot) JobResponse {
	res := JobResponse{
		JobID:       s.ID,
		State:       s.State,
		Stage:       s.Stage,
		Progress:    s.Progress,
		Message:     s.Message,
		ETASeconds:  s.ETASeconds(),
		FramesDone:  s.FramesDone,
		FramesTotal: s.FramesTotal,
		Params:      s.Params,
		CreatedAt:   s.CreatedAt,
	}
	if !s.FinishedAt.IsZero() {
		t := s.FinishedAt
		res.FinishedAt = &t
	}
	return res
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body SubmitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		detail := "request body must be a JSON object"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			detail = "request body too large"
		}
		writeProblem(w, r, http.StatusBadRequest, "jobs/invalid_body", "Bad Request", "INVALID_BODY", detail)
		return
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		writeProblem(w, r, http.StatusBadRequest, "jobs/invalid_body", "Bad Request", "INVALID_BODY", "request body must contain a single JSON object")
		return
	}
	if err := s.validate.Struct(&body); err != nil {
		writeValidation(w, r, err)
		return
	}

	snap, err := s.svc.Submit(r.Context(), auth.RequesterFromContext(r.Context()), body.params())
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/jobs/"+snap.ID)
	writeJSON(w, http.StatusAccepted, jobResponse(snap))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.StatusFor(chi.URLParam(r, "id"), auth.RequesterFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(snap))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req := auth.RequesterFromContext(r.Context())
	if err := s.svc.Cancel(r.Context(), id, req); err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := s.svc.StatusFor(id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(snap))
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	art, err := s.svc.ResolveDownload(id, auth.RequesterFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}

	f, err := os.Open(art.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, r, model.ErrNotFound)
			return
		}
		writeError(w, r, err)
		return
	}
	defer f.Close()

	logger := log.WithComponentFromContext(r.Context(), "httpapi")
	logger.Info().
		Str(log.FieldJobID, id).
		Int64("bytes", art.Size).
		Str(log.FieldEvent, "download.started").
		Msg("serving artifact")

	w.Header().Set("Content-Type", art.MIMEType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": art.Name}))
	w.Header().Set("Cache-Control", "private, no-store")
	http.ServeContent(w, r, art.Name, art.ModTime, f)
}

// HistoryResponse lists the caller's recent jobs, newest first.
type HistoryResponse struct {
	Jobs []history.Entry `json:"jobs"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r.URL.Query().Get("limit"), 50, 200)
	if !ok {
		writeProblem(w, r, http.StatusBadRequest, "history/invalid_limit", "Bad Request", "INVALID_LIMIT", "limit must be a positive integer")
		return
	}
	entries, err := s.svc.History(r.Context(), auth.RequesterFromContext(r.Context()), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Jobs: entries})
}

// handleHealth is liveness only; a draining daemon is still alive.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Health())
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	rep, err := s.svc.Ready(r.Context())
	code := http.StatusOK
	if err != nil || !rep.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motivorastudios-blip/Motivora-studio/internal/auth"
	"github.com/motivorastudios-blip/Motivora-studio/internal/history"
	"github.com/motivorastudios-blip/Motivora-studio/internal/render/model"
	"github.com/motivorastudios-blip/Motivora-studio/internal/render/orchestrator"
)

type fakeService struct {
	jobs      map[string]model.Snapshot
	submitted []model.Params
	submitErr error
	cancelled []string
	artifact  orchestrator.Artifact
	ready     orchestrator.ReadyReport
	readyErr  error
	history   []history.Entry
}

func newFake() *fakeService {
	return &fakeService{jobs: map[string]model.Snapshot{}}
}

func (f *fakeService) Submit(_ context.Context, req model.Requester, p model.Params) (model.Snapshot, error) {
	if f.submitErr != nil {
		return model.Snapshot{}, f.submitErr
	}
	f.submitted = append(f.submitted, p)
	snap := model.Snapshot{ID: "job-new", Owner: req.UserID, Session: req.SessionID, State: model.StatePending, Params: p}
	f.jobs[snap.ID] = snap
	return snap, nil
}

func (f *fakeService) StatusFor(id string, req model.Requester) (model.Snapshot, error) {
	snap, ok := f.jobs[id]
	if !ok || !snap.AccessibleBy(req) {
		return model.Snapshot{}, model.ErrNotFound
	}
	return snap, nil
}

func (f *fakeService) Cancel(_ context.Context, id string, req model.Requester) error {
	snap, err := f.StatusFor(id, req)
	if err != nil {
		return err
	}
	if !snap.State.Terminal() {
		snap.State = model.StateCancelled
		snap.Message = orchestrator.MsgCancelled
		f.jobs[id] = snap
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeService) ResolveDownload(id string, req model.Requester) (orchestrator.Artifact, error) {
	snap, ok := f.jobs[id]
	switch {
	case !ok:
		return orchestrator.Artifact{}, model.ErrNotFound
	case !snap.AccessibleBy(req):
		return orchestrator.Artifact{}, model.ErrUnauthorized
	case snap.State != model.StateFinished:
		return orchestrator.Artifact{}, model.ErrNotReady
	}
	return f.artifact, nil
}

func (f *fakeService) History(_ context.Context, _ model.Requester, limit int) ([]history.Entry, error) {
	if len(f.history) > limit {
		return f.history[:limit], nil
	}
	return f.history, nil
}

func (f *fakeService) Health() orchestrator.HealthReport {
	return orchestrator.HealthReport{Status: "ok"}
}

func (f *fakeService) Ready(context.Context) (orchestrator.ReadyReport, error) {
	return f.ready, f.readyErr
}

type testServer struct {
	*httptest.Server
	svc *fakeService
	v   *auth.Verifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	v, err := auth.NewVerifier("http-test-secret")
	require.NoError(t, err)
	svc := newFake()
	srv := httptest.NewServer(New(svc, v, Config{}).Handler())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, svc: svc, v: v}
}

func (ts *testServer) do(t *testing.T, method, path, userID, sessionID string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, body)
	require.NoError(t, err)
	if userID != "" || sessionID != "" {
		tok, err := ts.v.Issue(userID, sessionID, time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	res, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func decode(t *testing.T, res *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return out
}

func TestSubmit(t *testing.T) {
	ts := newTestServer(t)

	res := ts.do(t, http.MethodPost, "/api/v1/jobs", "alice", "", strings.NewReader(
		`{"input":"uploads/a.stl","inputName":"Bracket.stl","quality":"fast","format":"webm","resolution":720,"axis":"Y","offset":90,"gpu":true}`))
	require.Equal(t, http.StatusAccepted, res.StatusCode)
	assert.Equal(t, "/api/v1/jobs/job-new", res.Header.Get("Location"))
	body := decode(t, res)
	assert.Equal(t, "job-new", body["jobId"])
	assert.Equal(t, "pending", body["state"])

	require.Len(t, ts.svc.submitted, 1)
	p := ts.svc.submitted[0]
	assert.Equal(t, "uploads/a.stl", p.InputPath)
	assert.Equal(t, model.QualityFast, p.Quality)
	assert.Equal(t, model.FormatWebM, p.Format)
	assert.Equal(t, model.AxisY, p.Axis)
	assert.InDelta(t, 90, p.OffsetDeg, 0.001)
	assert.True(t, p.GPU)
}

func TestSubmit_BadBodies(t *testing.T) {
	ts := newTestServer(t)

	cases := map[string]string{
		"not json":      `nope`,
		"unknown field": `{"input":"a.stl","colour":"red"}`,
		"trailing data": `{"input":"a.stl"}{"input":"b.stl"}`,
	}
	for name, body := range cases {
		res := ts.do(t, http.MethodPost, "/api/v1/jobs", "alice", "", strings.NewReader(body))
		assert.Equal(t, http.StatusBadRequest, res.StatusCode, name)
		assert.Equal(t, "INVALID_BODY", decode(t, res)["code"], name)
	}

	res := ts.do(t, http.MethodPost, "/api/v1/jobs", "alice", "", strings.NewReader(`{"resolution":-1}`))
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	body := decode(t, res)
	assert.Equal(t, "INVALID_PARAMS", body["code"])
	fields := body["fields"].(map[string]any)
	assert.Equal(t, "required", fields["input"])
	assert.Equal(t, "gte=0", fields["resolution"])
	assert.Empty(t, ts.svc.submitted)
}

func TestSubmit_ErrorMapping(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&model.RejectedError{Reason: model.ReasonTooManyConcurrentJobs, Limit: 5}, http.StatusTooManyRequests, "TOO_MANY_JOBS"},
		{&model.RejectedError{Reason: model.ReasonServerBusy, Limit: 20}, http.StatusTooManyRequests, "TOO_MANY_JOBS"},
		{&model.RejectedError{Reason: model.ReasonShuttingDown}, http.StatusServiceUnavailable, "SHUTTING_DOWN"},
		{errors.Join(model.ErrInvalidParams, errors.New("input file not found")), http.StatusBadRequest, "INVALID_PARAMS"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tc := range cases {
		ts.svc.submitErr = tc.err
		res := ts.do(t, http.MethodPost, "/api/v1/jobs", "alice", "", strings.NewReader(`{"input":"a.stl"}`))
		assert.Equal(t, tc.status, res.StatusCode, tc.err.Error())
		body := decode(t, res)
		assert.Equal(t, tc.code, body["code"], tc.err.Error())
		if tc.status == http.StatusTooManyRequests {
			assert.NotEmpty(t, res.Header.Get("Retry-After"))
			assert.NotNil(t, body["limit"])
		}
		if tc.code == "INTERNAL" {
			assert.NotContains(t, body, "detail")
		}
	}
}

func TestStatus_ForeignAndUnknownLookAlike(t *testing.T) {
	ts := newTestServer(t)
	eta := 12 * time.Second
	ts.svc.jobs["j1"] = model.Snapshot{ID: "j1", Owner: "alice", State: model.StateRunning, Stage: model.StageRendering,
		Progress: 23.3, Message: "Rendering frame 1/3", ETA: &eta}

	res := ts.do(t, http.MethodGet, "/api/v1/jobs/j1", "alice", "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	body := decode(t, res)
	assert.Equal(t, "running", body["state"])
	assert.Equal(t, "rendering", body["stage"])
	assert.EqualValues(t, 12, body["etaSeconds"])

	foreign := ts.do(t, http.MethodGet, "/api/v1/jobs/j1", "mallory", "", nil)
	unknown := ts.do(t, http.MethodGet, "/api/v1/jobs/nope", "mallory", "", nil)
	assert.Equal(t, http.StatusNotFound, foreign.StatusCode)
	assert.Equal(t, http.StatusNotFound, unknown.StatusCode)
	fb, ub := decode(t, foreign), decode(t, unknown)
	delete(fb, "instance")
	delete(ub, "instance")
	delete(fb, "requestId")
	delete(ub, "requestId")
	assert.Equal(t, ub, fb)
}

func TestAPI_RequiresToken(t *testing.T) {
	ts := newTestServer(t)
	res := ts.do(t, http.MethodGet, "/api/v1/history", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res = ts.do(t, http.MethodGet, "/healthz", "", "", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "ok", decode(t, res)["status"])
}

func TestCancel(t *testing.T) {
	ts := newTestServer(t)
	ts.svc.jobs["j1"] = model.Snapshot{ID: "j1", Session: "s-1", State: model.StateRunning}

	res := ts.do(t, http.MethodPost, "/api/v1/jobs/j1/cancel", "", "s-2", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	for i := 0; i < 2; i++ {
		res = ts.do(t, http.MethodPost, "/api/v1/jobs/j1/cancel", "", "s-1", nil)
		require.Equal(t, http.StatusOK, res.StatusCode)
		assert.Equal(t, "cancelled", decode(t, res)["state"])
	}
	assert.Equal(t, []string{"j1", "j1"}, ts.svc.cancelled)
}

func TestDownload(t *testing.T) {
	ts := newTestServer(t)
	path := filepath.Join(t.TempDir(), "j1.mp4")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o600))
	info, err := os.Stat(path)
	require.NoError(t, err)

	ts.svc.jobs["j1"] = model.Snapshot{ID: "j1", Owner: "alice", State: model.StateFinished}
	ts.svc.jobs["j2"] = model.Snapshot{ID: "j2", Owner: "alice", State: model.StateRunning}
	ts.svc.artifact = orchestrator.Artifact{Path: path, Name: "bracket_turntable.mp4", MIMEType: "video/mp4", Size: 10, ModTime: info.ModTime()}

	res := ts.do(t, http.MethodGet, "/api/v1/jobs/j1/download", "alice", "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "video/mp4", res.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename=bracket_turntable.mp4`, res.Header.Get("Content-Disposition"))
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/jobs/j1/download", nil)
	require.NoError(t, err)
	tok, err := ts.v.Issue("alice", "", time.Minute)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Range", "bytes=2-4")
	ranged, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer ranged.Body.Close()
	assert.Equal(t, http.StatusPartialContent, ranged.StatusCode)
	part, err := io.ReadAll(ranged.Body)
	require.NoError(t, err)
	assert.Equal(t, "234", string(part))

	res = ts.do(t, http.MethodGet, "/api/v1/jobs/j2/download", "alice", "", nil)
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	res = ts.do(t, http.MethodGet, "/api/v1/jobs/j1/download", "mallory", "", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestHistory(t *testing.T) {
	ts := newTestServer(t)
	ts.svc.history = []history.Entry{{JobID: "b"}, {JobID: "a"}}

	res := ts.do(t, http.MethodGet, "/api/v1/history?limit=1", "alice", "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var body HistoryResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	require.Len(t, body.Jobs, 1)
	assert.Equal(t, "b", body.Jobs[0].JobID)

	res = ts.do(t, http.MethodGet, "/api/v1/history?limit=zero", "alice", "", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	ts.svc.history = nil
	res = ts.do(t, http.MethodGet, "/api/v1/history", "", "s-1", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, []any{}, decode(t, res)["jobs"])
}

func TestReady(t *testing.T) {
	ts := newTestServer(t)
	ts.svc.ready = orchestrator.ReadyReport{Ready: true, Checks: map[string]string{"storage": "ok"}}

	res := ts.do(t, http.MethodGet, "/readyz", "", "", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	ts.svc.ready = orchestrator.ReadyReport{Checks: map[string]string{"renderer": "not found"}}
	ts.svc.readyErr = errors.New("renderer: not found")
	res = ts.do(t, http.MethodGet, "/readyz", "", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.Equal(t, false, decode(t, res)["ready"])
}

func TestParseLimit(t *testing.T) {
	n, ok := parseLimit("", 50, 200)
	assert.True(t, ok)
	assert.Equal(t, 50, n)
	n, ok = parseLimit("999", 50, 200)
	assert.True(t, ok)
	assert.Equal(t, 200, n)
	_, ok = parseLimit("-3", 50, 200)
	assert.False(t, ok)
}

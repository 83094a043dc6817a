package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safety-worker-go/internal/api/handlers"
	"safety-worker-go/internal/config"
	"safety-worker-go/internal/metrics"
	"safety-worker-go/internal/models"
	"safety-worker-go/internal/services/dispatch"
	"safety-worker-go/internal/services/tasks"
	"safety-worker-go/internal/services/taskstate"
	"safety-worker-go/internal/store"
)

type fakeDispatcher struct {
	states   map[string]models.TaskState
	stopped  []uint
	revoked  []string
	enqueued []uint
	err      error
}

func (f *fakeDispatcher) EnqueueRecording(_ context.Context, recordingID uint) (models.Task, error) {
	if f.err != nil {
		return models.Task{}, f.err
	}
	f.enqueued = append(f.enqueued, recordingID)
	return models.Task{ID: "task-new", RecordingID: recordingID}, nil
}

func (f *fakeDispatcher) StopRecording(_ context.Context, recordingID uint) error {
	f.stopped = append(f.stopped, recordingID)
	return nil
}

func (f *fakeDispatcher) Revoke(_ context.Context, taskID string) error {
	f.revoked = append(f.revoked, taskID)
	return nil
}

func (f *fakeDispatcher) State(_ context.Context, taskID string) (models.TaskState, error) {
	s, ok := f.states[taskID]
	if !ok {
		return models.TaskState{}, taskstate.ErrNotFound
	}
	return s, nil
}

func (f *fakeDispatcher) Pending() int { return 3 }

func (f *fakeDispatcher) States(context.Context) ([]models.TaskState, error) {
	out := make([]models.TaskState, 0, len(f.states))
	for _, s := range f.states {
		out = append(out, s)
	}
	return out, nil
}

type fakePool struct {
	running []tasks.Info
}

func (p *fakePool) Running() []tasks.Info { return p.running }

func (p *fakePool) Get(id string) (tasks.Info, bool) {
	for _, info := range p.running {
		if info.TaskID == id {
			return info, true
		}
	}
	return tasks.Info{}, false
}

type testServer struct {
	handler    http.Handler
	dispatcher *fakeDispatcher
	store      *store.Store
	metrics    *metrics.WorkerMetrics
}

func newTestServer(t *testing.T, checks map[string]handlers.Check) *testServer {
	t.Helper()
	st, err := store.OpenMemory(strings.ReplaceAll(t.Name(), "/", "_"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	reg := prometheus.NewRegistry()
	m, err := metrics.NewWorkerMetrics(reg)
	require.NoError(t, err)

	d := &fakeDispatcher{states: map[string]models.TaskState{
		"t-1": {TaskID: "t-1", RecordingID: 4, Status: models.TaskStarted},
		"t-2": {TaskID: "t-2", Status: models.TaskPending},
	}}
	pool := &fakePool{running: []tasks.Info{{TaskID: "t-1", RecordingID: 4, State: "running"}}}

	cfg := &config.Config{WorkerID: "w-test", Version: "9.9.9", Port: 0, SwaggerHost: "localhost", SwaggerPort: 8000}
	srv := NewServer(cfg, Deps{Dispatcher: d, Pool: pool, Store: st, Gatherer: reg, Checks: checks})
	return &testServer{handler: srv.Handler(), dispatcher: d, store: st, metrics: m}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthReportsFailingChecks(t *testing.T) {
	ts := newTestServer(t, map[string]handlers.Check{
		"database": func(context.Context) error { return nil },
		"nats":     func(context.Context) error { return errors.New("disconnected") },
	})

	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp handlers.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "ok", resp.Checks["database"])
	assert.Equal(t, "disconnected", resp.Checks["nats"])
}

func TestHealthyWorker(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestWorkerInfoAndAPIInfo(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":"9.9.9"`)

	rec = ts.do(t, http.MethodGet, "/api/info", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"worker_id":"w-test"`)
}

func TestListAndGetTasks(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list handlers.TaskListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Running, 1)
	assert.Len(t, list.States, 2)

	rec = ts.do(t, http.MethodGet, "/tasks/t-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var one handlers.TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.Equal(t, models.TaskStarted, one.State.Status)
	require.NotNil(t, one.Running)
	assert.Equal(t, "running", one.Running.State)

	rec = ts.do(t, http.MethodGet, "/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDispatchTask(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/tasks", map[string]uint{"recording_id": 12})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []uint{12}, ts.dispatcher.enqueued)

	rec = ts.do(t, http.MethodPost, "/tasks", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts.dispatcher.err = fmt.Errorf("recording 12: %w", dispatch.ErrRecordingClosed)
	rec = ts.do(t, http.MethodPost, "/tasks", map[string]uint{"recording_id": 12})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStopTaskClosesRecordingOrRevokes(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/tasks/t-1/stop", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []uint{4}, ts.dispatcher.stopped)

	rec = ts.do(t, http.MethodPost, "/tasks/t-2/stop", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"t-2"}, ts.dispatcher.revoked)

	rec = ts.do(t, http.MethodPost, "/tasks/nope/stop", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordingIncidentsAndSnapshot(t *testing.T) {
	ts := newTestServer(t, nil)
	db := ts.store.DB()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, class := range []string{"person_forklift_proximity", "helmet"} {
		inc := models.Incident{
			Timestamp: base.Add(time.Duration(i) * time.Minute), ClassName: class,
			Frame: []byte{0xff, 0xd8, byte(i)}, RecordingID: 3,
		}
		require.NoError(t, db.Create(&inc).Error)
	}

	rec := ts.do(t, http.MethodGet, "/recordings/3/incidents?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list handlers.IncidentListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Incidents, 2)
	assert.Equal(t, "helmet", list.Incidents[0].ClassName, "newest first")

	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/incidents/%d/snapshot", list.Incidents[0].ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, []byte{0xff, 0xd8, 1}, rec.Body.Bytes())

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/recordings/abc/incidents", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/recordings/3/incidents?limit=-1", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/incidents/999/snapshot", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.metrics.RecordSaved("proximity")

	rec := ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "proximity")
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodOptions, "/tasks", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSystemStatsCountsRunningAndPending(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/system/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Stats struct {
			WorkerID       string `json:"worker_id"`
			RunningTasks   int    `json:"running_tasks"`
			PendingRetries int    `json:"pending_retries"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "w-test", resp.Stats.WorkerID)
	assert.Equal(t, 1, resp.Stats.RunningTasks)
	assert.Equal(t, 3, resp.Stats.PendingRetries)
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/opqueue/internal/pressure"
	"github.com/phrazzld/opqueue/internal/queue"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

type stubExecutor struct{}

func (stubExecutor) Execute(context.Context, string, string, json.RawMessage) (queue.Result, error) {
	return queue.Result{Success: true}, nil
}

type highMemory struct{}

func (highMemory) Level() pressure.Level { return pressure.LevelHigh }
func (highMemory) UsedBytes() uint64     { return 1 << 30 }

func testRouter(q *queue.Queue) http.Handler {
	operationHandler := NewOperationHandler(q, setupTestLogger())
	queueHandler := NewQueueHandler(q, setupTestLogger())

	r := chi.NewRouter()
	r.Post("/api/operations", operationHandler.Enqueue)
	r.Delete("/api/operations/{id}", operationHandler.Remove)
	r.Post("/api/operations/{id}/promote", operationHandler.Promote)
	r.Get("/api/operations/{id}/result", operationHandler.Result)
	r.Post("/api/groups/{correlationID}/promote", operationHandler.PromoteGroup)
	r.Delete("/api/groups/{correlationID}", operationHandler.RemoveGroup)
	r.Get("/api/state", queueHandler.State)
	r.Post("/api/queue/clear-completed", queueHandler.ClearCompleted)
	r.Post("/api/queue/pause", queueHandler.Pause)
	r.Post("/api/queue/resume", queueHandler.Resume)
	return r
}

func newTestServerQueue(opts ...queue.Option) *queue.Queue {
	cfg := queue.DefaultConfig()
	return queue.New(cfg, stubExecutor{}, setupTestLogger(), opts...)
}

func TestEnqueueEndpoint(t *testing.T) {
	q := newTestServerQueue()
	router := testRouter(q)

	body := `{"kind": "database", "label": "upsert_card", "priority": "high", "payload": {"statement": "SELECT 1"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/operations", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusAccepted, rr.Code)

	var resp EnqueueOperationResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	_, err := uuid.Parse(resp.ID)
	assert.NoError(t, err)

	assert.Equal(t, 1, q.State().Pending)
}

func TestEnqueueEndpointRejectsInvalidRequests(t *testing.T) {
	router := testRouter(newTestServerQueue())

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"kind": `},
		{"missing kind", `{"label": "x"}`},
		{"unknown priority", `{"kind": "database", "priority": "urgent"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/operations", bytes.NewBufferString(tc.body))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestEnqueueEndpointShedsUnderPressure(t *testing.T) {
	q := newTestServerQueue(queue.WithMemorySource(highMemory{}))
	router := testRouter(q)

	body := `{"kind": "database", "priority": "background"}`
	req := httptest.NewRequest(http.MethodPost, "/api/operations", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	body = `{"kind": "database", "priority": "immediate"}`
	req = httptest.NewRequest(http.MethodPost, "/api/operations", bytes.NewBufferString(body))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusAccepted, rr.Code)
}

func TestRemoveAndPromoteEndpoints(t *testing.T) {
	q := newTestServerQueue()
	router := testRouter(q)

	id, err := q.Enqueue(context.Background(), queue.EnqueueRequest{
		Kind:     "database",
		Priority: queue.PriorityLow,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/operations/"+id.String()+"/promote", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/operations/"+id.String(), nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	// Gone now.
	req = httptest.NewRequest(http.MethodDelete, "/api/operations/"+id.String(), nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	// Invalid ids are a client error.
	req = httptest.NewRequest(http.MethodDelete, "/api/operations/not-a-uuid", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestResultEndpoint(t *testing.T) {
	q := newTestServerQueue()
	router := testRouter(q)

	req := httptest.NewRequest(http.MethodGet, "/api/operations/"+uuid.New().String()+"/result", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGroupEndpoints(t *testing.T) {
	q := newTestServerQueue()
	router := testRouter(q)

	for i := 0; i < 2; i++ {
		_, err := q.Enqueue(context.Background(), queue.EnqueueRequest{
			Kind:          "sync",
			Priority:      queue.PriorityLow,
			CorrelationID: "batch-1",
		})
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/groups/batch-1/promote", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp GroupActionResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Affected)

	req = httptest.NewRequest(http.MethodDelete, "/api/groups/batch-1", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Affected)

	assert.Equal(t, 0, q.State().Pending)
}

func TestQueueControlEndpoints(t *testing.T) {
	cfg := queue.DefaultConfig()
	cfg.OptimisticOffline = true
	q := queue.New(cfg, stubExecutor{}, setupTestLogger(),
		queue.WithQualitySource(pressure.StaticQuality(pressure.QualityOffline)))
	router := testRouter(q)

	// Offline completion records a success without running the executor,
	// giving clear-completed something observable to prune.
	_, err := q.Enqueue(context.Background(), queue.EnqueueRequest{
		Kind:          "database",
		UserInitiated: true,
	})
	require.NoError(t, err)
	require.Equal(t, 1, q.State().Completed)

	for _, path := range []string{
		"/api/queue/pause",
		"/api/queue/resume",
		"/api/queue/clear-completed",
	} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, path, nil)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			assert.Equal(t, http.StatusNoContent, rr.Code)
		})
	}

	assert.Equal(t, 0, q.State().Completed, "clear-completed prunes the success")
}

func TestStateEndpoint(t *testing.T) {
	q := newTestServerQueue()
	router := testRouter(q)

	_, err := q.Enqueue(context.Background(), queue.EnqueueRequest{
		Kind:     "database",
		Priority: queue.PriorityNormal,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var state queue.QueueState
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&state))
	assert.Equal(t, 1, state.Pending)
	assert.Equal(t, 1, state.PriorityBreakdown["normal"])
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hray3182/topicmate/internal/queue"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeProviders map[string]error

func (f fakeProviders) CheckHealth(context.Context) map[string]error { return f }

func newQueue(t *testing.T) *queue.Queue {
	t.Helper()
	q := queue.New(queue.NewMemoryStore(), queue.Options{MaxAttempts: 1})
	q.Register("reminder", queue.HandlerFunc(func(context.Context, *queue.Job) error {
		return queue.Permanent(errors.New("reminder missing"))
	}))
	return q
}

func deadJob(t *testing.T, q *queue.Queue) string {
	t.Helper()
	ctx := context.Background()
	id, err := q.Enqueue(ctx, "reminder", map[string]string{"reminder_id": "r1"}, 0, "")
	require.NoError(t, err)
	_, err = q.ProcessDue(ctx, "reminder")
	require.NoError(t, err)
	return id
}

func serve(t *testing.T, h *Handler, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	NewRouter(h).ServeHTTP(w, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestHealth_OK(t *testing.T) {
	q := newQueue(t)
	_, err := q.Enqueue(context.Background(), "reminder", nil, 0, "")
	require.NoError(t, err)

	h := NewHandler(fakePinger{}, fakeProviders{"openai": nil}, q, nil)
	w, body := serve(t, h, http.MethodGet, "/healthz")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["database"])
	assert.Equal(t, map[string]any{"openai": "ok"}, body["providers"])
	assert.Equal(t, map[string]any{
		"reminder": map[string]any{"pending": float64(1), "active": float64(0), "dead": float64(0)},
	}, body["queue"])
}

func TestHealth_ProviderDownIsDegraded(t *testing.T) {
	h := NewHandler(nil, fakeProviders{"ollama": errors.New("connection refused"), "openai": nil}, newQueue(t), nil)
	w, body := serve(t, h, http.MethodGet, "/healthz")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "degraded", body["status"])
	assert.NotContains(t, body, "database")
	assert.Equal(t, map[string]any{"ollama": "connection refused", "openai": "ok"}, body["providers"])
}

func TestHealth_DatabaseDown(t *testing.T) {
	h := NewHandler(fakePinger{err: errors.New("dial tcp: refused")}, nil, newQueue(t), nil)
	w, body := serve(t, h, http.MethodGet, "/healthz")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unavailable", body["status"])
	assert.Equal(t, "dial tcp: refused", body["database"])
}

func TestListDead(t *testing.T) {
	q := newQueue(t)
	h := NewHandler(nil, nil, q, nil)

	_, body := serve(t, h, http.MethodGet, "/jobs/dead")
	assert.Equal(t, float64(0), body["count"])
	assert.Equal(t, []any{}, body["jobs"])

	id := deadJob(t, q)
	w, body := serve(t, h, http.MethodGet, "/jobs/dead")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["count"])
	jobs := body["jobs"].([]any)
	job := jobs[0].(map[string]any)
	assert.Equal(t, id, job["id"])
	assert.Equal(t, "dead", job["state"])
	assert.Equal(t, "reminder missing", job["last_error"])
}

func TestRetryDead(t *testing.T) {
	q := newQueue(t)
	h := NewHandler(nil, nil, q, nil)
	id := deadJob(t, q)

	w, body := serve(t, h, http.MethodPost, "/jobs/dead/"+id+"/retry")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, body["id"])

	job, err := q.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, queue.StatePending, job.State)

	w, _ = serve(t, h, http.MethodPost, "/jobs/dead/"+id+"/retry")
	assert.Equal(t, http.StatusConflict, w.Code)

	w, body = serve(t, h, http.MethodPost, "/jobs/dead/missing/retry")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "job not found", body["error"])
}

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buscafornecedor/profiler/pkg/config"
	"github.com/buscafornecedor/profiler/pkg/llm"
	"github.com/buscafornecedor/profiler/pkg/queue"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeStore implements JobStore in memory. CNPJs in active are treated as
// already enqueued.
type fakeStore struct {
	active  map[string]bool
	nextID  int64
	err     error
	metrics *queue.Metrics
}

func newFakeStore() *fakeStore {
	return &fakeStore{active: make(map[string]bool), nextID: 1}
}

func (f *fakeStore) Enqueue(_ context.Context, req queue.EnqueueRequest) (int64, bool, error) {
	if f.err != nil {
		return 0, false, f.err
	}
	if f.active[req.CNPJ] {
		return 0, false, nil
	}
	f.active[req.CNPJ] = true
	id := f.nextID
	f.nextID++
	return id, true, nil
}

func (f *fakeStore) Metrics(_ context.Context) (*queue.Metrics, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.metrics, nil
}

type fakePool struct {
	health *queue.PoolHealth
}

func (f *fakePool) Health() *queue.PoolHealth { return f.health }

type fakeProviders struct {
	snapshot []llm.ProviderHealth
}

func (f *fakeProviders) Snapshot() []llm.ProviderHealth { return f.snapshot }

func testServer(store JobStore, pool PoolReporter, providers ProviderReporter) *Server {
	return NewServer(nil, store, pool, providers, &config.ServerConfig{ListenAddr: ":0"})
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reqBody *strings.Reader
	if body == "" {
		reqBody = strings.NewReader("")
	} else {
		reqBody = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var parsed map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &parsed),
			"response should be JSON: %s", w.Body.String())
	}
	return w, parsed
}

func TestEnqueueAccepted(t *testing.T) {
	store := newFakeStore()
	r := testServer(store, nil, nil).Router()

	w, body := doJSON(t, r, http.MethodPost, "/api/v1/queue",
		`{"cnpj": "12.345.678/0001-90", "trade_name": "ACME"}`)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, true, body["enqueued"])
	assert.Equal(t, float64(1), body["id"])
}

func TestEnqueueDuplicateSkipped(t *testing.T) {
	store := newFakeStore()
	store.active["12.345.678/0001-90"] = true
	r := testServer(store, nil, nil).Router()

	w, body := doJSON(t, r, http.MethodPost, "/api/v1/queue",
		`{"cnpj": "12.345.678/0001-90"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["enqueued"])
	assert.Contains(t, body["message"], "active job")
}

func TestEnqueueMissingCNPJ(t *testing.T) {
	r := testServer(newFakeStore(), nil, nil).Router()

	w, _ := doJSON(t, r, http.MethodPost, "/api/v1/queue", `{"trade_name": "ACME"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnqueueStoreError(t *testing.T) {
	store := newFakeStore()
	store.err = assert.AnError
	r := testServer(store, nil, nil).Router()

	w, _ := doJSON(t, r, http.MethodPost, "/api/v1/queue", `{"cnpj": "12.345.678/0001-90"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestEnqueueBatch(t *testing.T) {
	store := newFakeStore()
	store.active["22.222.222/0001-22"] = true
	r := testServer(store, nil, nil).Router()

	w, body := doJSON(t, r, http.MethodPost, "/api/v1/queue/batch", `{
		"jobs": [
			{"cnpj": "11.111.111/0001-11"},
			{"cnpj": "22.222.222/0001-22"},
			{"cnpj": "33.333.333/0001-33"}
		]
	}`)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, float64(2), body["enqueued"])
	assert.Equal(t, float64(1), body["skipped"])
}

func TestEnqueueBatchEmpty(t *testing.T) {
	r := testServer(newFakeStore(), nil, nil).Router()

	w, _ := doJSON(t, r, http.MethodPost, "/api/v1/queue/batch", `{"jobs": []}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueueMetrics(t *testing.T) {
	store := newFakeStore()
	store.metrics = &queue.Metrics{
		Queued:          3,
		Done:            7,
		OldestQueuedAge: 90 * time.Second,
	}
	r := testServer(store, nil, nil).Router()

	w, body := doJSON(t, r, http.MethodGet, "/api/v1/queue/metrics", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), body["queued"])
	assert.Equal(t, float64(7), body["done"])
	assert.Equal(t, float64((90 * time.Second).Nanoseconds()), body["oldest_queued_age_ns"])
}

func TestProvidersHealth(t *testing.T) {
	providers := &fakeProviders{snapshot: []llm.ProviderHealth{
		{Provider: "sglang-a", Score: 87.5, Successes: 10},
		{Provider: "openrouter", Score: 42.0, Failures: 3},
	}}
	r := testServer(newFakeStore(), nil, providers).Router()

	w, body := doJSON(t, r, http.MethodGet, "/api/v1/providers/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	list, ok := body["providers"].([]any)
	require.True(t, ok)
	require.Len(t, list, 2)
	first := list[0].(map[string]any)
	assert.Equal(t, "sglang-a", first["provider"])
	assert.Equal(t, 87.5, first["score"])
}

func TestHealthzHealthyPool(t *testing.T) {
	pool := &fakePool{health: &queue.PoolHealth{IsHealthy: true, TotalWorkers: 4}}
	r := testServer(newFakeStore(), pool, nil).Router()

	w, body := doJSON(t, r, http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
	checks := body["checks"].(map[string]any)
	workerPool := checks["worker_pool"].(map[string]any)
	assert.Equal(t, "healthy", workerPool["status"])
}

func TestHealthzDegradedPool(t *testing.T) {
	pool := &fakePool{health: &queue.PoolHealth{
		IsHealthy: false,
		DBError:   "connection refused",
	}}
	r := testServer(newFakeStore(), pool, nil).Router()

	w, body := doJSON(t, r, http.MethodGet, "/healthz", "")

	// A sick pool degrades the status but keeps the probe passing; only an
	// unreachable database returns 503.
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "degraded", body["status"])
	checks := body["checks"].(map[string]any)
	workerPool := checks["worker_pool"].(map[string]any)
	assert.Equal(t, "connection refused", workerPool["message"])
}

func TestMetricsEndpointExposed(t *testing.T) {
	r := testServer(newFakeStore(), nil, nil).Router()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHTTPServerAddr(t *testing.T) {
	s := NewServer(nil, newFakeStore(), nil, nil, &config.ServerConfig{ListenAddr: ":9090"})
	assert.Equal(t, ":9090", s.HTTPServer().Addr)
}

func TestBatchEnqueueLargeBody(t *testing.T) {
	store := newFakeStore()
	r := testServer(store, nil, nil).Router()

	jobs := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		jobs = append(jobs, fmt.Sprintf(`{"cnpj": "%02d.000.000/0001-00"}`, i))
	}
	body := `{"jobs": [` + strings.Join(jobs, ",") + `]}`

	w, parsed := doJSON(t, r, http.MethodPost, "/api/v1/queue/batch", body)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, float64(50), parsed["enqueued"])
}

package queue

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buscafornecedor/profiler/pkg/config"
	"github.com/buscafornecedor/profiler/pkg/pipeline"
	"github.com/buscafornecedor/profiler/test/util"
)

func intTestQueueConfig() *config.QueueConfig {
	return &config.QueueConfig{
		WorkerCount:             2,
		PollInterval:            100 * time.Millisecond,
		PollIntervalJitter:      0,
		JobTimeout:              30 * time.Second,
		GracefulShutdownTimeout: 10 * time.Second,
		MaxAttempts:             3,
		BackoffStep:             30 * time.Second,
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db := util.SetupTestDatabase(t)
	return NewStore(db, 30*time.Second, 3)
}

func enqueueTestJob(ctx context.Context, t *testing.T, s *Store, cnpj string) int64 {
	t.Helper()
	id, inserted, err := s.Enqueue(ctx, EnqueueRequest{
		CNPJ:      cnpj,
		TradeName: "ACME",
		LegalName: "ACME LTDA",
		City:      "Joinville",
	})
	require.NoError(t, err)
	require.True(t, inserted)
	return id
}

// awaitCondition polls until condition returns true or the timeout elapses.
func awaitCondition(t *testing.T, timeout, interval time.Duration, msg string, condition func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case <-deadline:
			t.Fatalf("timed out: %s", msg)
		default:
			if condition() {
				return
			}
			time.Sleep(interval)
		}
	}
}

func TestEnqueueDeduplicatesActiveJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := enqueueTestJob(ctx, t, s, "11.111.111/0001-11")

	_, inserted, err := s.Enqueue(ctx, EnqueueRequest{CNPJ: "11.111.111/0001-11"})
	require.NoError(t, err)
	assert.False(t, inserted, "active CNPJ must not enqueue twice")

	// A different CNPJ is unaffected.
	second := enqueueTestJob(ctx, t, s, "22.222.222/0001-22")
	assert.Greater(t, second, first)

	// Once the first job is done, the CNPJ may be enqueued again.
	job, err := s.Claim(ctx, "w-0")
	require.NoError(t, err)
	require.NoError(t, s.Ack(ctx, job.ID, []byte(`{"ok": true}`)))

	_, inserted, err = s.Enqueue(ctx, EnqueueRequest{CNPJ: "11.111.111/0001-11"})
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestClaimOrderAndExhaustion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := enqueueTestJob(ctx, t, s, "11.111.111/0001-11")
	second := enqueueTestJob(ctx, t, s, "22.222.222/0001-22")

	jobA, err := s.Claim(ctx, "w-0")
	require.NoError(t, err)
	assert.Equal(t, first, jobA.ID, "oldest job claimed first")
	assert.Equal(t, StatusProcessing, jobA.Status)

	jobB, err := s.Claim(ctx, "w-1")
	require.NoError(t, err)
	assert.Equal(t, second, jobB.ID)

	_, err = s.Claim(ctx, "w-0")
	assert.ErrorIs(t, err, ErrNoJobsAvailable)
}

func TestNackBackoffAndTerminalFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	enqueueTestJob(ctx, t, s, "11.111.111/0001-11")

	// First failure: requeued with a future available_at, so not claimable.
	job, err := s.Claim(ctx, "w-0")
	require.NoError(t, err)
	require.NoError(t, s.Nack(ctx, job, assert.AnError))

	_, err = s.Claim(ctx, "w-0")
	assert.ErrorIs(t, err, ErrNoJobsAvailable, "backoff keeps the job unavailable")

	// Drive the job to its attempt limit directly.
	job.Attempts = 1
	require.NoError(t, s.Nack(ctx, job, assert.AnError))
	job.Attempts = 2
	require.NoError(t, s.Nack(ctx, job, assert.AnError))

	m, err := s.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Failed, "job parked as failed at max attempts")
	assert.Zero(t, m.Queued)
}

func TestRequeueStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	enqueueTestJob(ctx, t, s, "11.111.111/0001-11")
	_, err := s.Claim(ctx, "w-dead")
	require.NoError(t, err)

	// Nothing is stale yet.
	n, err := s.RequeueStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	// With zero staleness every processing job qualifies.
	n, err = s.RequeueStale(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := s.Claim(ctx, "w-0")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, job.Status)
}

func TestMetrics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	enqueueTestJob(ctx, t, s, "11.111.111/0001-11")
	enqueueTestJob(ctx, t, s, "22.222.222/0001-22")
	job, err := s.Claim(ctx, "w-0")
	require.NoError(t, err)
	require.NoError(t, s.Ack(ctx, job.ID, []byte(`{"ok": true}`)))

	m, err := s.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Queued)
	assert.Equal(t, 1, m.Done)
	assert.Zero(t, m.Processing)
	assert.Positive(t, m.OldestQueuedAge)
}

// countingExecutor acks every job with a minimal ok result.
type countingExecutor struct {
	executed atomic.Int64
}

func (e *countingExecutor) Execute(_ context.Context, job *Job) *pipeline.Result {
	e.executed.Add(1)
	return &pipeline.Result{RunID: "test", OK: true, SiteURL: job.SeedURL}
}

func TestWorkerPoolProcessesJobs(t *testing.T) {
	db := util.SetupTestDatabase(t)
	s := NewStore(db, 30*time.Second, 3)
	ctx := context.Background()

	cnpjs := []string{"11.111.111/0001-11", "22.222.222/0001-22", "33.333.333/0001-33"}
	for _, c := range cnpjs {
		enqueueTestJob(ctx, t, s, c)
	}

	executor := &countingExecutor{}
	pool := NewWorkerPool(s, intTestQueueConfig(), executor)
	require.NoError(t, pool.Start(ctx))
	defer pool.Stop()

	awaitCondition(t, 10*time.Second, 100*time.Millisecond, "all jobs processed", func() bool {
		m, err := s.Metrics(context.Background())
		return err == nil && m.Done == len(cnpjs)
	})
	assert.Equal(t, int64(len(cnpjs)), executor.executed.Load())

	// Stored result round-trips as pipeline.Result JSON.
	var raw []byte
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT result FROM profile_jobs LIMIT 1`).Scan(&raw))
	var res pipeline.Result
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.True(t, res.OK)

	health := pool.Health()
	assert.True(t, health.IsHealthy)
	assert.Equal(t, 2, health.TotalWorkers)
}

func TestWorkerNacksFailedResult(t *testing.T) {
	db := util.SetupTestDatabase(t)
	s := NewStore(db, time.Millisecond, 3)
	ctx := context.Background()

	enqueueTestJob(ctx, t, s, "11.111.111/0001-11")

	failing := executorFunc(func(_ context.Context, _ *Job) *pipeline.Result {
		return &pipeline.Result{
			RunID:      "test",
			OK:         false,
			ErrorKind:  "scrape_empty",
			Message:    "all fetch strategies produced no content",
			FailedStep: "scrape",
		}
	})
	cfg := intTestQueueConfig()
	cfg.WorkerCount = 1
	w := NewWorker("w-0", s, cfg, failing)

	require.NoError(t, w.pollAndProcess(ctx))

	var attempts int
	var lastError string
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT attempts, last_error FROM profile_jobs LIMIT 1`).Scan(&attempts, &lastError))
	assert.Equal(t, 1, attempts)
	assert.Contains(t, lastError, "scrape_empty")
}

// executorFunc adapts a function to JobExecutor.
type executorFunc func(ctx context.Context, job *Job) *pipeline.Result

func (f executorFunc) Execute(ctx context.Context, job *Job) *pipeline.Result {
	return f(ctx, job)
}

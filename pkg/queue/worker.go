package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/buscafornecedor/profiler/pkg/config"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// Worker is a single queue worker that polls for and processes profile jobs.
type Worker struct {
	id       string
	store    *Store
	config   *config.QueueConfig
	executor JobExecutor
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Health tracking
	mu            sync.RWMutex
	status        WorkerStatus
	currentJobID  int64
	jobsProcessed int
	lastActivity  time.Time
}

// NewWorker creates a new queue worker.
func NewWorker(id string, store *Store, cfg *config.QueueConfig, executor JobExecutor) *Worker {
	return &Worker{
		id:           id,
		store:        store,
		config:       cfg,
		executor:     executor,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish its current job.
// It is safe to call Stop multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        string(w.status),
		CurrentJobID:  w.currentJobID,
		JobsProcessed: w.jobsProcessed,
		LastActivity:  w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoJobsAvailable) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing job", "error", err)
				w.sleep(time.Second) // Brief backoff on error
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess claims one job and runs it to a terminal state.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	job, err := w.store.Claim(ctx, w.id)
	if err != nil {
		return err
	}

	log := slog.With("job_id", job.ID, "cnpj", job.CNPJ, "worker_id", w.id)
	log.Info("Job claimed", "attempts", job.Attempts)

	w.setStatus(WorkerStatusWorking, job.ID)
	defer w.setStatus(WorkerStatusIdle, 0)

	w.process(ctx, log, job)

	w.mu.Lock()
	w.jobsProcessed++
	w.mu.Unlock()
	return nil
}

// process executes the job under its timeout. A panic in the pipeline nacks
// the job instead of killing the worker.
func (w *Worker) process(ctx context.Context, log *slog.Logger, job *Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Job execution panicked", "panic", r)
			// Terminal writes use a background context; the job context may
			// already be cancelled.
			if err := w.store.Nack(context.Background(), job, fmt.Errorf("panic: %v", r)); err != nil {
				log.Error("Failed to nack panicked job", "error", err)
			}
		}
	}()

	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	result := w.executor.Execute(jobCtx, job)
	if result == nil {
		log.Error("Executor returned nil result")
		if err := w.store.Nack(context.Background(), job, errors.New("executor returned nil result")); err != nil {
			log.Error("Failed to nack job", "error", err)
		}
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		log.Error("Failed to marshal job result", "error", err)
		if err := w.store.Nack(context.Background(), job, fmt.Errorf("marshal result: %w", err)); err != nil {
			log.Error("Failed to nack job", "error", err)
		}
		return
	}

	if result.OK {
		if err := w.store.Ack(context.Background(), job.ID, payload); err != nil {
			log.Error("Failed to ack job", "error", err)
			return
		}
		log.Info("Job complete", "run_id", result.RunID)
		return
	}

	if err := w.store.Nack(context.Background(), job,
		fmt.Errorf("%s: %s", result.ErrorKind, result.Message)); err != nil {
		log.Error("Failed to nack job", "error", err)
		return
	}
	log.Info("Job failed",
		"run_id", result.RunID,
		"error_kind", result.ErrorKind,
		"failed_step", result.FailedStep,
		"attempts", job.Attempts+1)
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	// Range: [base - jitter, base + jitter]
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, jobID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentJobID = jobID
	w.lastActivity = time.Now()
}

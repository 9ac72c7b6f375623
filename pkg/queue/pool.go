package queue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/buscafornecedor/profiler/pkg/config"
)

// staleScanInterval is how often the pool scans for jobs abandoned by dead
// workers.
const staleScanInterval = time.Minute

// WorkerPool manages a pool of queue workers plus the stale-job recovery
// loop.
type WorkerPool struct {
	podID    string
	store    *Store
	config   *config.QueueConfig
	executor JobExecutor
	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool

	mu            sync.Mutex
	lastStaleScan time.Time
	staleRequeued int
}

// NewWorkerPool creates a new worker pool. Worker IDs are derived from the
// host name and pid so multiple replicas sharing one database stay apart.
func NewWorkerPool(store *Store, cfg *config.QueueConfig, executor JobExecutor) *WorkerPool {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &WorkerPool{
		podID:    fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		store:    store,
		config:   cfg,
		executor: executor,
		workers:  make([]*Worker, 0, cfg.WorkerCount),
		stopCh:   make(chan struct{}),
	}
}

// PodID returns this replica's identity prefix.
func (p *WorkerPool) PodID() string {
	return p.podID
}

// Start spawns worker goroutines and the stale-job recovery task.
// It is safe to call multiple times; subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return nil
	}
	p.started = true

	slog.Info("Starting worker pool", "pod_id", p.podID, "worker_count", p.config.WorkerCount)

	for i := 0; i < p.config.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-%d", p.podID, i)
		worker := NewWorker(workerID, p.store, p.config, p.executor)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runStaleRecovery(ctx)
	}()

	slog.Info("Worker pool started")
	return nil
}

// Stop signals all workers to stop and waits for them to finish. Workers
// finish their current jobs before exiting.
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully")

	for _, worker := range p.workers {
		worker.Stop()
	}

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	slog.Info("Worker pool stopped gracefully")
}

// runStaleRecovery periodically returns jobs whose worker died mid-flight to
// the queue. A lock older than twice the job timeout cannot belong to a live
// worker.
func (p *WorkerPool) runStaleRecovery(ctx context.Context) {
	ticker := time.NewTicker(staleScanInterval)
	defer ticker.Stop()

	staleness := 2 * p.config.JobTimeout
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.store.RequeueStale(ctx, staleness)
			if err != nil {
				slog.Warn("Stale job scan failed", "pod_id", p.podID, "error", err)
				continue
			}
			p.mu.Lock()
			p.lastStaleScan = time.Now()
			p.staleRequeued += n
			p.mu.Unlock()
			if n > 0 {
				slog.Info("Requeued stale jobs", "pod_id", p.podID, "count", n)
			}
		}
	}
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health() *PoolHealth {
	ctx := context.Background()

	metrics, err := p.store.Metrics(ctx)
	dbError := ""
	if err != nil {
		slog.Error("Failed to query queue metrics for health check",
			"pod_id", p.podID, "error", err)
		dbError = err.Error()
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	p.mu.Lock()
	lastStaleScan := p.lastStaleScan
	staleRequeued := p.staleRequeued
	p.mu.Unlock()

	return &PoolHealth{
		IsHealthy:     len(p.workers) > 0 && err == nil,
		DBReachable:   err == nil,
		DBError:       dbError,
		PodID:         p.podID,
		ActiveWorkers: activeWorkers,
		TotalWorkers:  len(p.workers),
		Queue:         metrics,
		WorkerStats:   workerStats,
		LastStaleScan: lastStaleScan,
		StaleRequeued: staleRequeued,
	}
}

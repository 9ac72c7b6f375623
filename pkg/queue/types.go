// Package queue implements the Postgres-backed profile job queue: enqueue
// with one-active-job-per-CNPJ dedupe, FOR UPDATE SKIP LOCKED claiming,
// ack/nack with retry backoff, and the worker pool that drives jobs through
// the pipeline.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/buscafornecedor/profiler/pkg/pipeline"
)

// ErrNoJobsAvailable indicates no claimable jobs are in the queue.
var ErrNoJobsAvailable = errors.New("no jobs available")

// Status is the lifecycle state of a profile job.
type Status string

// Job statuses.
const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Job is one stored profile request.
type Job struct {
	ID          int64
	CNPJ        string
	TradeName   string
	LegalName   string
	City        string
	SeedURL     string
	Status      Status
	Attempts    int
	MaxAttempts int
	AvailableAt time.Time
	CreatedAt   time.Time
}

// PipelineJob converts the stored row into the pipeline's job shape.
func (j *Job) PipelineJob() pipeline.Job {
	return pipeline.Job{
		CNPJ:      j.CNPJ,
		TradeName: j.TradeName,
		LegalName: j.LegalName,
		City:      j.City,
		SeedURL:   j.SeedURL,
	}
}

// EnqueueRequest is the payload for a new job.
type EnqueueRequest struct {
	CNPJ      string `json:"cnpj" binding:"required"`
	TradeName string `json:"trade_name"`
	LegalName string `json:"legal_name"`
	City      string `json:"city"`
	SeedURL   string `json:"seed_url"`
}

// JobExecutor runs one claimed job to its terminal result. The worker owns
// claiming, the per-job timeout, and the ack/nack bookkeeping.
type JobExecutor interface {
	Execute(ctx context.Context, job *Job) *pipeline.Result
}

// PipelineExecutor adapts the pipeline orchestrator to the executor contract.
type PipelineExecutor struct {
	Orchestrator *pipeline.Orchestrator
}

// Execute implements JobExecutor.
func (e *PipelineExecutor) Execute(ctx context.Context, job *Job) *pipeline.Result {
	return e.Orchestrator.Run(ctx, job.PipelineJob())
}

// Metrics summarizes the queue for the admin API.
type Metrics struct {
	Queued          int           `json:"queued"`
	Processing      int           `json:"processing"`
	Done            int           `json:"done"`
	Failed          int           `json:"failed"`
	OldestQueuedAge time.Duration `json:"oldest_queued_age_ns"`
}

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy     bool           `json:"is_healthy"`
	DBReachable   bool           `json:"db_reachable"`
	DBError       string         `json:"db_error,omitempty"`
	PodID         string         `json:"pod_id"`
	ActiveWorkers int            `json:"active_workers"`
	TotalWorkers  int            `json:"total_workers"`
	Queue         *Metrics       `json:"queue,omitempty"`
	WorkerStats   []WorkerHealth `json:"worker_stats"`
	LastStaleScan time.Time      `json:"last_stale_scan"`
	StaleRequeued int            `json:"stale_requeued"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"` // "idle" or "working"
	CurrentJobID  int64     `json:"current_job_id,omitempty"`
	JobsProcessed int       `json:"jobs_processed"`
	LastActivity  time.Time `json:"last_activity"`
}

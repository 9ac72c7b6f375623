package config

import "time"

// QueueConfig contains queue and worker pool configuration.
// These values control how profile jobs are polled, claimed, and processed.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines per process.
	// Each worker independently polls and processes jobs.
	WorkerCount int `yaml:"worker_count"`

	// PollInterval is the base interval for checking queued jobs.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// JobTimeout is the maximum wall-clock time for one profile pipeline.
	JobTimeout time.Duration `yaml:"job_timeout"`

	// GracefulShutdownTimeout is the max time to wait for active jobs to
	// complete during shutdown. Should match JobTimeout.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// MaxAttempts is how many times a job may fail before it is parked as
	// failed instead of being requeued.
	MaxAttempts int `yaml:"max_attempts"`

	// BackoffStep scales requeue delay: attempts × BackoffStep.
	BackoffStep time.Duration `yaml:"backoff_step"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             4,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		JobTimeout:              5 * time.Minute,
		GracefulShutdownTimeout: 5 * time.Minute,
		MaxAttempts:             3,
		BackoffStep:             30 * time.Second,
	}
}

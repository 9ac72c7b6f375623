package config

import "time"

// RetentionConfig controls how long finished profile jobs are kept before
// the cleanup service removes them.
type RetentionConfig struct {
	// DoneJobTTL is how long successfully completed jobs are retained.
	DoneJobTTL time.Duration `yaml:"done_job_ttl"`

	// FailedJobTTL is how long terminally failed jobs are retained. Kept
	// longer than done jobs so failures stay inspectable.
	FailedJobTTL time.Duration `yaml:"failed_job_ttl"`

	// CleanupInterval is how often the retention sweep runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		DoneJobTTL:      7 * 24 * time.Hour,
		FailedJobTTL:    30 * 24 * time.Hour,
		CleanupInterval: time.Hour,
	}
}

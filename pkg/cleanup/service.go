// Package cleanup enforces retention on finished profile jobs.
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/buscafornecedor/profiler/pkg/config"
)

// Service periodically removes profile_jobs rows past their retention TTL.
// Done and failed jobs age out on separate clocks; queued and processing
// rows are never touched. The sweep is idempotent and safe to run from
// multiple pods.
type Service struct {
	config *config.RetentionConfig
	db     *sql.DB

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, db *sql.DB) *Service {
	return &Service{config: cfg, db: db}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"done_job_ttl", s.config.DoneJobTTL,
		"failed_job_ttl", s.config.FailedJobTTL,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.Sweep(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one retention pass and returns the total rows removed.
func (s *Service) Sweep(ctx context.Context) int {
	total := 0
	total += s.expire(ctx, "done", s.config.DoneJobTTL)
	total += s.expire(ctx, "failed", s.config.FailedJobTTL)
	return total
}

func (s *Service) expire(ctx context.Context, status string, ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM profile_jobs
		WHERE status = $1
		  AND updated_at < now() - $2::interval`,
		status, fmt.Sprintf("%f seconds", ttl.Seconds()))
	if err != nil {
		slog.Error("Retention sweep failed", "status", status, "error", err)
		return 0
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	if n > 0 {
		slog.Info("Retention: removed expired jobs", "status", status, "count", n)
	}
	return int(n)
}

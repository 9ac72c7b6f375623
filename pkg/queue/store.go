package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Store is the SQL access layer for profile_jobs. All claiming is done with
// FOR UPDATE SKIP LOCKED so concurrent workers never block each other.
type Store struct {
	db          *sql.DB
	backoffStep time.Duration
	maxAttempts int
}

// NewStore builds a store. backoffStep scales the requeue delay: a job nacked
// on attempt n becomes available again after n x backoffStep.
func NewStore(db *sql.DB, backoffStep time.Duration, maxAttempts int) *Store {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Store{db: db, backoffStep: backoffStep, maxAttempts: maxAttempts}
}

// Enqueue inserts a new queued job unless an active (queued or processing)
// job already exists for the CNPJ. Returns the new job id and whether a row
// was inserted.
func (s *Store) Enqueue(ctx context.Context, req EnqueueRequest) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO profile_jobs (cnpj, trade_name, legal_name, city, seed_url, status, max_attempts)
		SELECT $1, $2, $3, $4, $5, 'queued', $6
		WHERE NOT EXISTS (
			SELECT 1 FROM profile_jobs
			WHERE cnpj = $1 AND status IN ('queued', 'processing')
		)
		RETURNING id`,
		req.CNPJ, req.TradeName, req.LegalName, req.City, req.SeedURL, s.maxAttempts,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("enqueue job: %w", err)
	}
	return id, true, nil
}

// Claim atomically claims the oldest available queued job for workerID.
// Returns ErrNoJobsAvailable when the queue is empty.
func (s *Store) Claim(ctx context.Context, workerID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		WITH next AS (
			SELECT id FROM profile_jobs
			WHERE status = 'queued' AND available_at <= now()
			ORDER BY id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE profile_jobs j
		SET status = 'processing', locked_at = now(), locked_by = $1, updated_at = now()
		FROM next
		WHERE j.id = next.id
		RETURNING j.id, j.cnpj, j.trade_name, j.legal_name, j.city, j.seed_url,
		          j.status, j.attempts, j.max_attempts, j.available_at, j.created_at`,
		workerID)

	var job Job
	err := row.Scan(&job.ID, &job.CNPJ, &job.TradeName, &job.LegalName, &job.City,
		&job.SeedURL, &job.Status, &job.Attempts, &job.MaxAttempts,
		&job.AvailableAt, &job.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoJobsAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return &job, nil
}

// Ack marks the job done and stores the terminal result JSON.
func (s *Store) Ack(ctx context.Context, jobID int64, result []byte) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE profile_jobs
		SET status = 'done', result = $2, locked_at = NULL, locked_by = '',
		    last_error = '', updated_at = now()
		WHERE id = $1`,
		jobID, result)
	if err != nil {
		return fmt.Errorf("ack job %d: %w", jobID, err)
	}
	return nil
}

// Nack returns a failed job to the queue with a retry backoff, or parks it as
// failed once attempts are exhausted.
func (s *Store) Nack(ctx context.Context, job *Job, cause error) error {
	attempts := job.Attempts + 1
	status := StatusQueued
	if attempts >= job.MaxAttempts {
		status = StatusFailed
	}
	availableAt := time.Now().Add(time.Duration(attempts) * s.backoffStep)

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE profile_jobs
		SET attempts = $2, status = $3, available_at = $4,
		    locked_at = NULL, locked_by = '', last_error = $5, updated_at = now()
		WHERE id = $1`,
		job.ID, attempts, status, availableAt, msg)
	if err != nil {
		return fmt.Errorf("nack job %d: %w", job.ID, err)
	}
	return nil
}

// RequeueStale returns processing jobs whose lock is older than staleness to
// the queue. Covers workers that died without nacking.
func (s *Store) RequeueStale(ctx context.Context, staleness time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE profile_jobs
		SET status = 'queued', locked_at = NULL, locked_by = '',
		    last_error = 'requeued: worker lock expired', updated_at = now()
		WHERE status = 'processing' AND locked_at < now() - $1::interval`,
		fmt.Sprintf("%f seconds", staleness.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs: %w", err)
	}
	return int(n), nil
}

// Metrics returns queue counts by status plus the age of the oldest queued job.
func (s *Store) Metrics(ctx context.Context) (*Metrics, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, count(*) FROM profile_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue metrics: %w", err)
	}
	defer rows.Close()

	m := &Metrics{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("queue metrics: %w", err)
		}
		switch Status(status) {
		case StatusQueued:
			m.Queued = count
		case StatusProcessing:
			m.Processing = count
		case StatusDone:
			m.Done = count
		case StatusFailed:
			m.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue metrics: %w", err)
	}

	var oldestSeconds sql.NullFloat64
	err = s.db.QueryRowContext(ctx, `
		SELECT EXTRACT(EPOCH FROM (now() - min(created_at)))
		FROM profile_jobs WHERE status = 'queued'`).Scan(&oldestSeconds)
	if err != nil {
		return nil, fmt.Errorf("queue metrics: %w", err)
	}
	if oldestSeconds.Valid {
		m.OldestQueuedAge = time.Duration(oldestSeconds.Float64 * float64(time.Second))
	}
	return m, nil
}

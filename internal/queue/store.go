package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobCols = `id, chunk_id, tenant_id, status, attempts,
	COALESCE(locked_by, ''), locked_at, COALESCE(last_error, ''), created_at, updated_at`

// claimSQL is the compare-and-swap that makes concurrent workers safe: the
// status predicate guarantees at most one UPDATE succeeds per pending job.
const claimSQL = `UPDATE embedding_jobs
	SET status = 'processing', locked_by = $2, locked_at = now(),
	    attempts = attempts + 1, updated_at = now()
	WHERE id = $1 AND status = 'pending'
	RETURNING attempts`

// Store persists embedding jobs in PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines and across
// processes.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a job Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// batchSender is the pgx surface enqueueing needs; *pgxpool.Pool and pgx.Tx
// both satisfy it.
type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

const enqueueSQL = `INSERT INTO embedding_jobs (id, chunk_id, tenant_id, status, attempts, created_at, updated_at)
	VALUES ($1, $2, $3, 'pending', 0, now(), now())`

// Enqueue creates one pending job per chunk ID.
func (s *Store) Enqueue(ctx context.Context, tenantID uuid.UUID, chunkIDs []uuid.UUID) (int, error) {
	return s.enqueue(ctx, s.pool, tenantID, chunkIDs)
}

// EnqueueTx enqueues within a caller-owned transaction, so chunk insertion
// and job creation commit or roll back together. Job rows belong to this
// package; callers never write embedding_jobs themselves.
func (s *Store) EnqueueTx(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, chunkIDs []uuid.UUID) (int, error) {
	return s.enqueue(ctx, tx, tenantID, chunkIDs)
}

func (s *Store) enqueue(ctx context.Context, db batchSender, tenantID uuid.UUID, chunkIDs []uuid.UUID) (int, error) {
	if len(chunkIDs) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, chunkID := range chunkIDs {
		batch.Queue(enqueueSQL, uuid.New(), chunkID, tenantID)
	}

	results := db.SendBatch(ctx, batch)
	defer func() {
		if closeErr := results.Close(); closeErr != nil {
			s.logger.Debug("closing enqueue batch", "error", closeErr)
		}
	}()

	for range chunkIDs {
		if _, err := results.Exec(); err != nil {
			return 0, fmt.Errorf("enqueueing embedding job: %w", err)
		}
	}
	return len(chunkIDs), nil
}

// OldestPending returns the oldest pending job across all tenants, or
// ErrNoPendingJobs. FIFO by creation order; id breaks creation-time ties so
// the order is total.
func (s *Store) OldestPending(ctx context.Context) (*Job, error) {
	var j Job
	err := s.pool.QueryRow(ctx,
		`SELECT `+jobCols+`
		 FROM embedding_jobs
		 WHERE status = 'pending'
		 ORDER BY created_at, id
		 LIMIT 1`,
	).Scan(&j.ID, &j.ChunkID, &j.TenantID, &j.Status, &j.Attempts,
		&j.LockedBy, &j.LockedAt, &j.LastError, &j.CreatedAt, &j.UpdatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, ErrNoPendingJobs
	case err != nil:
		return nil, fmt.Errorf("fetching oldest pending job: %w", err)
	}
	return &j, nil
}

// Claim atomically transitions a job from pending to processing, recording
// the worker identity and lock timestamp and incrementing the attempt count.
// claimed is false when another worker won the race.
func (s *Store) Claim(ctx context.Context, jobID uuid.UUID, workerID string) (attempts int, claimed bool, err error) {
	scanErr := s.pool.QueryRow(ctx, claimSQL, jobID, workerID).Scan(&attempts)
	switch {
	case errors.Is(scanErr, pgx.ErrNoRows):
		return 0, false, nil
	case scanErr != nil:
		return 0, false, fmt.Errorf("claiming job %s: %w", jobID, scanErr)
	}
	return attempts, true, nil
}

// Complete marks a job done and clears its lock and error fields.
func (s *Store) Complete(ctx context.Context, jobID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE embedding_jobs
		 SET status = 'completed', locked_by = NULL, locked_at = NULL,
		     last_error = NULL, updated_at = now()
		 WHERE id = $1`,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("completing job %s: %w", jobID, err)
	}
	return nil
}

// Release returns a job to pending for a later retry, recording the failure.
func (s *Store) Release(ctx context.Context, jobID uuid.UUID, jobErr string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE embedding_jobs
		 SET status = 'pending', locked_by = NULL, locked_at = NULL,
		     last_error = $2, updated_at = now()
		 WHERE id = $1`,
		jobID, truncateError(jobErr),
	)
	if err != nil {
		return fmt.Errorf("releasing job %s: %w", jobID, err)
	}
	return nil
}

// Fail marks a job terminally failed, recording the failure. Failed jobs do
// not retry automatically; see RequeueFailed.
func (s *Store) Fail(ctx context.Context, jobID uuid.UUID, jobErr string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE embedding_jobs
		 SET status = 'failed', locked_by = NULL, locked_at = NULL,
		     last_error = $2, updated_at = now()
		 WHERE id = $1`,
		jobID, truncateError(jobErr),
	)
	if err != nil {
		return fmt.Errorf("failing job %s: %w", jobID, err)
	}
	return nil
}

// Stats returns per-status job counts for a tenant.
func (s *Store) Stats(ctx context.Context, tenantID uuid.UUID) (Stats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM embedding_jobs WHERE tenant_id = $1 GROUP BY status`,
		tenantID,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("counting jobs: %w", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var status Status
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, fmt.Errorf("scanning job counts: %w", err)
		}
		switch status {
		case StatusPending:
			stats.Pending = count
		case StatusProcessing:
			stats.Processing = count
		case StatusCompleted:
			stats.Completed = count
		case StatusFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("iterating job counts: %w", err)
	}
	return stats, nil
}

// RequeueFailed is the external retry trigger for failed jobs: it returns a
// tenant's failed jobs to pending with a fresh attempt budget.
func (s *Store) RequeueFailed(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE embedding_jobs
		 SET status = 'pending', attempts = 0, locked_by = NULL, locked_at = NULL,
		     last_error = NULL, updated_at = now()
		 WHERE tenant_id = $1 AND status = 'failed'`,
		tenantID,
	)
	if err != nil {
		return 0, fmt.Errorf("requeueing failed jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListStale returns jobs stuck in processing with a lock older than cutoff.
// This is the detection half of stale-lock recovery; requeueing a stale job
// is an explicit operator decision, never automatic.
func (s *Store) ListStale(ctx context.Context, olderThan time.Duration) ([]Job, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobCols+`
		 FROM embedding_jobs
		 WHERE status = 'processing' AND locked_at < $1
		 ORDER BY locked_at`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("listing stale jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.ChunkID, &j.TenantID, &j.Status, &j.Attempts,
			&j.LockedBy, &j.LockedAt, &j.LastError, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning stale job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stale jobs: %w", err)
	}
	return jobs, nil
}

package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/substrata-ai/substrata/internal/background"
	"github.com/substrata-ai/substrata/internal/embedding"
)

// cachePopulateTimeout bounds the detached cache writes after a job completes.
const cachePopulateTimeout = 10 * time.Second

// DefaultBatchLimit is the number of jobs one RunBatch call processes at most.
const DefaultBatchLimit = 50

// ChunkData is the chunk content a job operates on.
type ChunkData struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	BotID       uuid.UUID
	Text        string
	ContentHash string
}

// JobStore is the queue surface the worker needs. *Store satisfies it.
type JobStore interface {
	OldestPending(ctx context.Context) (*Job, error)
	Claim(ctx context.Context, jobID uuid.UUID, workerID string) (attempts int, claimed bool, err error)
	Complete(ctx context.Context, jobID uuid.UUID) error
	Release(ctx context.Context, jobID uuid.UUID, jobErr string) error
	Fail(ctx context.Context, jobID uuid.UUID, jobErr string) error
}

// ChunkSource loads chunk content for a job. Implementations return
// ErrChunkNotFound (possibly wrapped) when the chunk row is gone.
type ChunkSource interface {
	ChunkData(ctx context.Context, chunkID uuid.UUID) (*ChunkData, error)
}

// Cache is the embedding cache surface the worker needs. Read errors are
// treated as misses by the worker; the cache itself never blocks a job.
type Cache interface {
	Get(ctx context.Context, hash string, tenantID uuid.UUID, modelVersion string) (vec []float32, found bool, err error)
	Put(ctx context.Context, hash string, tenantID uuid.UUID, modelVersion string, vec []float32) error
}

// VectorSink stores the vector a completed job produced.
type VectorSink interface {
	Upsert(ctx context.Context, chunkID, tenantID, botID uuid.UUID, vec []float32) error
}

// Config tunes a Worker.
type Config struct {
	// ID identifies this worker in job locks. Default: hostname + random suffix.
	ID string

	// BatchLimit caps jobs per RunBatch call. Default: DefaultBatchLimit.
	BatchLimit int

	// ProviderRate limits embedding provider calls. Zero disables limiting.
	ProviderRate rate.Limit

	// ProviderBurst is the limiter burst size. Default 1 when ProviderRate is set.
	ProviderBurst int
}

// Worker pulls embedding jobs, resolves vectors through the cache or the
// provider, stores them, and advances job state. Any number of Workers may
// run concurrently against the same queue; the claim CAS is the only
// coordination between them.
type Worker struct {
	id       string
	jobs     JobStore
	chunks   ChunkSource
	cache    Cache
	embedder embedding.Embedder
	vectors  VectorSink
	limiter  *rate.Limiter
	batch    int
	logger   *slog.Logger
}

// NewWorker creates a Worker.
func NewWorker(jobs JobStore, chunks ChunkSource, cache Cache, embedder embedding.Embedder,
	vectors VectorSink, cfg Config, logger *slog.Logger) (*Worker, error) {

	if jobs == nil || chunks == nil || cache == nil || embedder == nil || vectors == nil {
		return nil, fmt.Errorf("all worker dependencies are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	id := cfg.ID
	if id == "" {
		host, _ := os.Hostname()
		id = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}

	batch := cfg.BatchLimit
	if batch <= 0 {
		batch = DefaultBatchLimit
	}

	var limiter *rate.Limiter
	if cfg.ProviderRate > 0 {
		burst := cfg.ProviderBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(cfg.ProviderRate, burst)
	}

	return &Worker{
		id:       id,
		jobs:     jobs,
		chunks:   chunks,
		cache:    cache,
		embedder: embedder,
		vectors:  vectors,
		limiter:  limiter,
		batch:    batch,
		logger:   logger.With("worker", id),
	}, nil
}

// ID returns the worker's lock-holder identity.
func (w *Worker) ID() string {
	return w.id
}

// RunBatch processes pending jobs until the batch limit is reached or the
// queue drains. It returns the number of jobs this worker claimed (whether
// they succeeded or not). Losing a claim race does not consume batch budget.
func (w *Worker) RunBatch(ctx context.Context) (processed int, err error) {
	for processed < w.batch {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}

		job, fetchErr := w.jobs.OldestPending(ctx)
		switch {
		case errors.Is(fetchErr, ErrNoPendingJobs):
			return processed, nil
		case fetchErr != nil:
			return processed, fetchErr
		}

		attempts, claimed, claimErr := w.jobs.Claim(ctx, job.ID, w.id)
		if claimErr != nil {
			return processed, claimErr
		}
		if !claimed {
			// Another worker won the race; fetch again.
			continue
		}

		w.process(ctx, job, attempts)
		processed++
	}
	return processed, nil
}

// process runs one claimed job to a terminal or retryable state. Job-level
// failures are absorbed into job state, never returned.
func (w *Worker) process(ctx context.Context, job *Job, attempts int) {
	data, err := w.chunks.ChunkData(ctx, job.ChunkID)
	switch {
	case errors.Is(err, ErrChunkNotFound):
		w.failNow(ctx, job.ID, fmt.Sprintf("chunk %s not found", job.ChunkID))
		return
	case err != nil:
		w.retryOrFail(ctx, job.ID, attempts, fmt.Errorf("loading chunk: %w", err))
		return
	}
	if data.Text == "" || data.ContentHash == "" {
		w.failNow(ctx, job.ID, fmt.Sprintf("chunk %s has no content or hash", job.ChunkID))
		return
	}

	modelVersion := w.embedder.ModelVersion()
	vec, hit, cacheErr := w.cache.Get(ctx, data.ContentHash, data.TenantID, modelVersion)
	if cacheErr != nil {
		// Cache read failure is a miss, never a job failure.
		w.logger.Warn("cache read failed, computing embedding",
			"job_id", job.ID, "error", cacheErr)
		hit = false
	}

	if !hit {
		if w.limiter != nil {
			if waitErr := w.limiter.Wait(ctx); waitErr != nil {
				w.retryOrFail(ctx, job.ID, attempts, fmt.Errorf("rate limiter: %w", waitErr))
				return
			}
		}
		vec, err = w.embedder.Embed(ctx, data.Text)
		if err != nil {
			w.retryOrFail(ctx, job.ID, attempts, fmt.Errorf("embedding provider: %w", err))
			return
		}
	}

	if err := w.vectors.Upsert(ctx, data.ID, data.TenantID, data.BotID, vec); err != nil {
		w.retryOrFail(ctx, job.ID, attempts, fmt.Errorf("storing embedding: %w", err))
		return
	}

	// Populate (or refresh) the cache off the hot path. A failure here only
	// costs a future recompute.
	hash, tenantID, vecCopy := data.ContentHash, data.TenantID, vec
	background.Go(w.logger, "embcache-populate", cachePopulateTimeout, func(ctx context.Context) error {
		return w.cache.Put(ctx, hash, tenantID, modelVersion, vecCopy)
	})

	if err := w.jobs.Complete(ctx, job.ID); err != nil {
		// The vector is stored; only the bookkeeping failed. Put the job back
		// so a retry converges instead of leaving a stuck processing row.
		w.logger.Error("marking job completed failed", "job_id", job.ID, "error", err)
		if relErr := w.jobs.Release(ctx, job.ID, truncateError(err.Error())); relErr != nil {
			w.logger.Error("releasing job after completion failure", "job_id", job.ID, "error", relErr)
		}
		return
	}

	w.logger.Debug("job completed", "job_id", job.ID, "chunk_id", data.ID, "cache_hit", hit)
}

// failNow marks a job failed without consuming further attempts (data errors
// are non-retryable).
func (w *Worker) failNow(ctx context.Context, jobID uuid.UUID, msg string) {
	w.logger.Warn("job failed on data error", "job_id", jobID, "reason", msg)
	if err := w.jobs.Fail(ctx, jobID, msg); err != nil {
		w.logger.Error("marking job failed", "job_id", jobID, "error", err)
	}
}

// retryOrFail applies the attempt ceiling: back to pending while attempts
// remain, terminally failed otherwise.
func (w *Worker) retryOrFail(ctx context.Context, jobID uuid.UUID, attempts int, cause error) {
	msg := truncateError(cause.Error())
	if attempts >= MaxAttempts {
		w.logger.Warn("job failed permanently", "job_id", jobID, "attempts", attempts, "error", cause)
		if err := w.jobs.Fail(ctx, jobID, msg); err != nil {
			w.logger.Error("marking job failed", "job_id", jobID, "error", err)
		}
		return
	}

	w.logger.Debug("job released for retry", "job_id", jobID, "attempts", attempts, "error", cause)
	if err := w.jobs.Release(ctx, jobID, msg); err != nil {
		w.logger.Error("releasing job for retry", "job_id", jobID, "error", err)
	}
}

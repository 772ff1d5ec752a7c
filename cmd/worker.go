package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/substrata-ai/substrata/internal/embcache"
	"github.com/substrata-ai/substrata/internal/embedding"
	"github.com/substrata-ai/substrata/internal/ingest"
	"github.com/substrata-ai/substrata/internal/queue"
	"github.com/substrata-ai/substrata/internal/vectorstore"
)

// maxIdlePoll caps the exponential idle backoff so a quiet queue is picked
// up within a bounded delay once jobs arrive.
const maxIdlePoll = 30 * time.Second

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the embedding worker pool",
	Long: `Runs a pool of embedding workers against the job queue. Each worker
claims pending jobs, resolves vectors through the cache or the embedding
provider, stores them, and advances job state. The pool drains in-flight
jobs and exits on SIGINT/SIGTERM.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireAPIKey(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := newPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	embedder, err := embedding.NewGemini(ctx, cfg.GeminiAPIKey, cfg.EmbedderModel)
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}

	jobs, err := queue.NewStore(pool, logger)
	if err != nil {
		return err
	}
	chunks, err := ingest.NewStore(pool, logger)
	if err != nil {
		return err
	}
	cache, err := embcache.New(pool, logger)
	if err != nil {
		return err
	}
	vectors, err := vectorstore.New(pool, logger)
	if err != nil {
		return err
	}

	logger.Info("starting embedding worker pool",
		"workers", cfg.WorkerCount, "batch_limit", cfg.BatchLimit,
		"model_version", embedder.ModelVersion())

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.WorkerCount; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		g.Go(func() error {
			w, err := queue.NewWorker(jobs, chunks, cache, embedder, vectors, queue.Config{
				ID:            workerID,
				BatchLimit:    cfg.BatchLimit,
				ProviderRate:  rate.Limit(cfg.ProviderRate),
				ProviderBurst: cfg.ProviderBurst,
			}, logger)
			if err != nil {
				return err
			}
			return runWorkerLoop(ctx, w, cfg.IdlePoll, logger.With("worker", workerID))
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("worker pool stopped")
	return nil
}

// runWorkerLoop alternates RunBatch calls with exponential idle backoff.
// Any processed job resets the backoff; transient errors wait it out too,
// so a struggling database is not hammered.
func runWorkerLoop(ctx context.Context, w *queue.Worker, idlePoll time.Duration, logger *slog.Logger) error {
	idle := backoff.NewExponentialBackOff()
	idle.InitialInterval = idlePoll
	idle.MaxInterval = maxIdlePoll
	idle.MaxElapsedTime = 0 // retry forever
	idle.Reset()

	for {
		processed, err := w.RunBatch(ctx)
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return ctx.Err()
		case err != nil:
			logger.Warn("batch run failed, backing off", "error", err)
			processed = 0
		}

		if processed > 0 {
			idle.Reset()
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(idle.NextBackOff()):
		}
	}
}

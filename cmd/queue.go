package cmd

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/substrata-ai/substrata/internal/queue"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Operate the embedding job queue",
}

var statsTenantID string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show embedding queue state for a tenant",
	RunE:  runStats,
}

var requeueTenantID string

var requeueCmd = &cobra.Command{
	Use:   "requeue",
	Short: "Return a tenant's failed embedding jobs to the queue",
	Long: `Resets a tenant's failed embedding jobs to pending with a fresh attempt
budget. Use after fixing the underlying cause (provider outage, quota).`,
	RunE: runRequeue,
}

var staleOlderThan time.Duration

var staleCmd = &cobra.Command{
	Use:   "stale",
	Short: "List jobs stuck in processing with an old lock",
	Long: `Lists jobs whose worker lock is older than the cutoff, usually left
behind by a crashed worker. Requeueing a stale job is a deliberate operator
action; inspect before acting.`,
	RunE: runStale,
}

func init() {
	statsCmd.Flags().StringVar(&statsTenantID, "tenant", "", "tenant UUID (required)")
	_ = statsCmd.MarkFlagRequired("tenant")

	requeueCmd.Flags().StringVar(&requeueTenantID, "tenant", "", "tenant UUID (required)")
	_ = requeueCmd.MarkFlagRequired("tenant")

	staleCmd.Flags().DurationVar(&staleOlderThan, "older-than", 10*time.Minute, "lock age cutoff")

	queueCmd.AddCommand(statsCmd, requeueCmd, staleCmd)
	rootCmd.AddCommand(queueCmd)
}

func newJobStore(cmd *cobra.Command) (*queue.Store, func(), error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	pool, err := newPool(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	store, err := queue.NewStore(pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}

func runStats(cmd *cobra.Command, args []string) error {
	tenantID, err := uuid.Parse(statsTenantID)
	if err != nil {
		return fmt.Errorf("invalid tenant UUID: %w", err)
	}

	store, closePool, err := newJobStore(cmd)
	if err != nil {
		return err
	}
	defer closePool()

	stats, err := store.Stats(cmd.Context(), tenantID)
	if err != nil {
		return err
	}

	fmt.Printf("Embedding jobs for tenant %s:\n", tenantID)
	fmt.Printf("  pending:    %d\n", stats.Pending)
	fmt.Printf("  processing: %d\n", stats.Processing)
	fmt.Printf("  completed:  %d\n", stats.Completed)
	fmt.Printf("  failed:     %d\n", stats.Failed)
	return nil
}

func runRequeue(cmd *cobra.Command, args []string) error {
	tenantID, err := uuid.Parse(requeueTenantID)
	if err != nil {
		return fmt.Errorf("invalid tenant UUID: %w", err)
	}

	store, closePool, err := newJobStore(cmd)
	if err != nil {
		return err
	}
	defer closePool()

	n, err := store.RequeueFailed(cmd.Context(), tenantID)
	if err != nil {
		return err
	}
	fmt.Printf("Requeued %d failed jobs for tenant %s\n", n, tenantID)
	return nil
}

func runStale(cmd *cobra.Command, args []string) error {
	store, closePool, err := newJobStore(cmd)
	if err != nil {
		return err
	}
	defer closePool()

	jobs, err := store.ListStale(cmd.Context(), staleOlderThan)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("No stale jobs")
		return nil
	}

	fmt.Printf("%d stale jobs (lock older than %s):\n", len(jobs), staleOlderThan)
	for _, j := range jobs {
		lockedAt := ""
		if j.LockedAt != nil {
			lockedAt = j.LockedAt.Format(time.RFC3339)
		}
		fmt.Printf("  %s  chunk=%s tenant=%s attempts=%d locked_by=%s locked_at=%s\n",
			j.ID, j.ChunkID, j.TenantID, j.Attempts, j.LockedBy, lockedAt)
	}
	return nil
}

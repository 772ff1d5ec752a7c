package cmd

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/substrata-ai/substrata/internal/ingest"
	"github.com/substrata-ai/substrata/internal/langdetect"
	"github.com/substrata-ai/substrata/internal/quota"
)

var ingestFlags struct {
	tenantID   string
	botID      string
	documentID string
	title      string
	url        string
	plan       string
	language   string
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Chunk a document and enqueue its embedding jobs",
	Long: `Reads a text file, upserts it as a document for the given tenant, splits
it into chunks, and enqueues one embedding job per chunk. Re-ingesting the
same document ID replaces its previous chunks.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFlags.tenantID, "tenant", "", "tenant UUID (required)")
	ingestCmd.Flags().StringVar(&ingestFlags.botID, "bot", "", "bot UUID (required)")
	ingestCmd.Flags().StringVar(&ingestFlags.documentID, "document", "", "document UUID (default: new)")
	ingestCmd.Flags().StringVar(&ingestFlags.title, "title", "", "document title")
	ingestCmd.Flags().StringVar(&ingestFlags.url, "url", "", "canonical source URL")
	ingestCmd.Flags().StringVar(&ingestFlags.plan, "plan", string(quota.PlanFree), "tenant plan (free, starter, pro, enterprise)")
	ingestCmd.Flags().StringVar(&ingestFlags.language, "language", "", "language override (skips detection)")
	_ = ingestCmd.MarkFlagRequired("tenant")
	_ = ingestCmd.MarkFlagRequired("bot")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	tenantID, err := uuid.Parse(ingestFlags.tenantID)
	if err != nil {
		return fmt.Errorf("invalid tenant UUID: %w", err)
	}
	botID, err := uuid.Parse(ingestFlags.botID)
	if err != nil {
		return fmt.Errorf("invalid bot UUID: %w", err)
	}
	documentID := uuid.New()
	if ingestFlags.documentID != "" {
		documentID, err = uuid.Parse(ingestFlags.documentID)
		if err != nil {
			return fmt.Errorf("invalid document UUID: %w", err)
		}
	}

	content, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading document file: %w", err)
	}

	ctx := cmd.Context()
	pool, err := newPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	store, err := ingest.NewStore(pool, logger)
	if err != nil {
		return err
	}
	if err := store.UpsertDocument(ctx, ingest.Document{
		ID:           documentID,
		TenantID:     tenantID,
		BotID:        botID,
		Title:        ingestFlags.title,
		CanonicalURL: ingestFlags.url,
		Content:      string(content),
	}); err != nil {
		return err
	}

	ingestor, err := ingest.NewIngestor(pool, langdetect.New(), logger)
	if err != nil {
		return err
	}
	result, err := ingestor.Ingest(ctx, ingest.Params{
		DocumentID:       documentID,
		TenantID:         tenantID,
		BotID:            botID,
		Text:             string(content),
		Plan:             quota.Plan(ingestFlags.plan),
		LanguageOverride: ingestFlags.language,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Document %s ingested: %d chunks, %d embedding jobs queued\n",
		documentID, result.ChunkCount, result.JobCount)
	return nil
}

package cmd

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/substrata-ai/substrata/internal/embedding"
	"github.com/substrata-ai/substrata/internal/retrieval"
	"github.com/substrata-ai/substrata/internal/vectorstore"
)

var queryFlags struct {
	tenantID       string
	botID          string
	conversationID string
	topK           int32
}

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Retrieve the chunks grounding a conversational turn",
	Long: `Embeds the query text, searches the tenant/bot's stored chunk embeddings,
and merges the matches with the conversation's pinned chunks. The merged
chunk IDs become the conversation's new pin set; passing the same
--conversation on the next query carries that context forward.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryFlags.tenantID, "tenant", "", "tenant UUID (required)")
	queryCmd.Flags().StringVar(&queryFlags.botID, "bot", "", "bot UUID (required)")
	queryCmd.Flags().StringVar(&queryFlags.conversationID, "conversation", "", "conversation UUID (default: new)")
	queryCmd.Flags().Int32Var(&queryFlags.topK, "top-k", 0, "nearest neighbors to request (default: from config)")
	_ = queryCmd.MarkFlagRequired("tenant")
	_ = queryCmd.MarkFlagRequired("bot")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireAPIKey(); err != nil {
		return err
	}

	tenantID, err := uuid.Parse(queryFlags.tenantID)
	if err != nil {
		return fmt.Errorf("invalid tenant UUID: %w", err)
	}
	botID, err := uuid.Parse(queryFlags.botID)
	if err != nil {
		return fmt.Errorf("invalid bot UUID: %w", err)
	}
	conversationID := uuid.New()
	if queryFlags.conversationID != "" {
		conversationID, err = uuid.Parse(queryFlags.conversationID)
		if err != nil {
			return fmt.Errorf("invalid conversation UUID: %w", err)
		}
	}

	ctx := cmd.Context()
	pool, err := newPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	embedder, err := embedding.NewGemini(ctx, cfg.GeminiAPIKey, cfg.EmbedderModel)
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}
	pins, err := retrieval.NewConversations(pool, logger)
	if err != nil {
		return err
	}
	chunks, err := retrieval.NewChunks(pool, logger)
	if err != nil {
		return err
	}
	searcher, err := vectorstore.New(pool, logger)
	if err != nil {
		return err
	}

	topK := queryFlags.topK
	if topK <= 0 {
		topK = cfg.RetrievalTopK
	}
	retriever, err := retrieval.New(pins, chunks, searcher, embedder, topK, logger)
	if err != nil {
		return err
	}

	result, err := retriever.Retrieve(ctx, tenantID, botID, conversationID, strings.Join(args, " "))
	if err != nil {
		return err
	}

	fmt.Printf("Conversation %s: %d chunks\n", conversationID, len(result.Chunks))
	for i, c := range result.Chunks {
		label := fmt.Sprintf("%.3f", c.Similarity)
		if c.Source == retrieval.SourcePinned {
			label = "pinned"
		}
		fmt.Printf("%2d. [%s] doc=%s %s\n", i+1, label, c.DocumentID, c.Metadata.Title)
		fmt.Printf("    %s\n", excerpt(c.Text, 160))
	}
	return nil
}

// excerpt collapses whitespace and truncates to max runes for one-line output.
func excerpt(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

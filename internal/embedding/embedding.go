// Package embedding defines the embedding provider boundary and its Gemini
// implementation.
package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// VectorDimension is the embedding width stored in pgvector columns.
// gemini-embedding-001 outputs 3072 dimensions by default but supports
// truncation via OutputDimensionality (Matryoshka Representation Learning);
// the schema pins vector(768), so every provider must match.
const VectorDimension int32 = 768

// DefaultModel is the default Gemini embedding model.
const DefaultModel = "gemini-embedding-001"

// Embedder produces fixed-length vectors for text. Implementations must
// return a hard error on transport failure or malformed responses — never a
// partial vector.
type Embedder interface {
	// Embed returns the embedding vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// ModelVersion identifies the model + dimensionality namespace. It scopes
	// cache keys so a provider upgrade never silently serves stale vectors.
	ModelVersion() string
}

// Gemini embeds text via the Google Gemini API.
//
// Gemini is safe for concurrent use.
type Gemini struct {
	client *genai.Client
	model  string
	dim    int32
}

// NewGemini creates a Gemini embedder. model defaults to DefaultModel when
// empty.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &Gemini{client: client, model: model, dim: VectorDimension}, nil
}

// Embed implements Embedder.
func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	dim := g.dim
	resp, err := g.client.Models.EmbedContent(ctx, g.model, genai.Text(text),
		&genai.EmbedContentConfig{OutputDimensionality: &dim})
	if err != nil {
		return nil, fmt.Errorf("embedding content: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("empty embedding response from model %s", g.model)
	}

	values := resp.Embeddings[0].Values
	if int32(len(values)) != g.dim {
		return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(values), g.dim)
	}
	return values, nil
}

// ModelVersion implements Embedder.
func (g *Gemini) ModelVersion() string {
	return fmt.Sprintf("%s@%d", g.model, g.dim)
}

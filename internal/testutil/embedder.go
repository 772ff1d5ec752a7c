package testutil

import (
	"context"
	"crypto/sha256"
	"sync"

	"github.com/substrata-ai/substrata/internal/embedding"
)

// StubEmbedder is a deterministic in-memory embedding.Embedder for tests.
// The vector for a given text is stable across calls, so cache behavior and
// search results are reproducible without a provider.
type StubEmbedder struct {
	mu sync.Mutex

	// EmbedCalls counts Embed invocations, including failed ones.
	EmbedCalls int

	// EmbedErr, when set, is returned by every Embed call.
	EmbedErr error

	// Version overrides the reported model version. Default: "stub@768".
	Version string
}

// Embed returns a deterministic unit-length-ish vector derived from text.
func (s *StubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	s.EmbedCalls++
	err := s.EmbedErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, embedding.VectorDimension)
	for i := range vec {
		b := sum[i%len(sum)]
		vec[i] = (float32(b)/255.0 - 0.5) / 16
	}
	return vec, nil
}

// ModelVersion implements embedding.Embedder.
func (s *StubEmbedder) ModelVersion() string {
	if s.Version != "" {
		return s.Version
	}
	return "stub@768"
}

// Calls returns the Embed invocation count.
func (s *StubEmbedder) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.EmbedCalls
}

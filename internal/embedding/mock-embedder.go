package embedding

import (
	"context"
	"hash/fnv"

	"github.com/hyperjump/chikuseki/pkg/utils"
)

// MockEmbedder is a deterministic feature-hashing embedder. Each word is hashed into one of
// the dimensions, so texts sharing vocabulary have high cosine similarity. It needs no model
// files and is used in tests and as the offline "hash" provider.
type MockEmbedder struct {
	dimensions int
	maxTokens  int
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
// maxTokens <= 0 disables the token budget.
func NewMockEmbedder(dimensions, maxTokens int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions, maxTokens: maxTokens}
}

// Embed returns a normalized bag-of-words vector for text.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := CheckInput(text, e.maxTokens); err != nil {
		return nil, err
	}
	emb := make([]float32, e.dimensions)
	for _, word := range SplitWords(text) {
		term := NormalizeTerm(word)
		if term == "" {
			continue
		}
		h := fnv.New64a()
		_, _ = h.Write([]byte(term))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dimensions))
		if sum&(1<<63) != 0 {
			emb[idx] -= 1
		} else {
			emb[idx] += 1
		}
	}
	if !utils.NormalizeL2(emb) {
		// punctuation-only input still maps to a stable unit vector
		h := fnv.New64a()
		_, _ = h.Write([]byte(text))
		emb[int(h.Sum64()%uint64(e.dimensions))] = 1
	}
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// MaxTokens returns the word budget (0 = unlimited).
func (e *MockEmbedder) MaxTokens() int {
	return e.maxTokens
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}

// Package embedding provides text embedding providers, caching, and rate limiting.
package embedding

import (
	"context"
	"fmt"
	"strings"
)

// Embedder produces vector embeddings for text. Implementations are deterministic for a
// fixed model, return unit-length vectors of Dimensions() length, and reject empty text or
// text over the MaxTokens() budget with an *EmbeddingError instead of truncating silently.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	MaxTokens() int
	Close() error
}

// ErrorKind classifies an EmbeddingError.
type ErrorKind string

const (
	ErrEmptyInput   ErrorKind = "empty_input"
	ErrInputTooLong ErrorKind = "input_too_long"
	ErrProvider     ErrorKind = "provider"
)

// EmbeddingError is returned when a provider cannot embed a text.
type EmbeddingError struct {
	Kind ErrorKind
	Err  error
}

func (e *EmbeddingError) Error() string {
	if e.Err == nil {
		return "embedding failed: " + string(e.Kind)
	}
	return fmt.Sprintf("embedding failed (%s): %v", e.Kind, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// Retryable reports whether truncating the input and trying again can help.
func (e *EmbeddingError) Retryable() bool {
	return e.Kind != ErrEmptyInput
}

// CountTokens returns the number of word tokens text spends from a MaxTokens budget.
func CountTokens(text string) int {
	return len(SplitWords(text))
}

// CheckInput validates text against a token budget counted in words.
func CheckInput(text string, maxTokens int) error {
	if strings.TrimSpace(text) == "" {
		return &EmbeddingError{Kind: ErrEmptyInput}
	}
	if maxTokens > 0 {
		if n := CountTokens(text); n > maxTokens {
			return &EmbeddingError{Kind: ErrInputTooLong, Err: fmt.Errorf("%d tokens exceeds budget of %d", n, maxTokens)}
		}
	}
	return nil
}

// Truncate returns text cut to at most maxTokens words. Text within budget is returned unchanged.
func Truncate(text string, maxTokens int) string {
	words := SplitWords(text)
	if maxTokens <= 0 || len(words) <= maxTokens {
		return text
	}
	return strings.Join(words[:maxTokens], " ")
}

// embedEach implements EmbedBatch on top of Embed.
func embedEach(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

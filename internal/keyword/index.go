// Package keyword provides a BM25 keyword index over chunk text.
package keyword

import (
	"context"

	"github.com/hyperjump/chikuseki/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// FuzzyEnabled enables fuzzy matching for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum Levenshtein edit distance for fuzzy matching (1 or 2).
	// Default is 2 when FuzzyEnabled is true.
	Fuzziness int
}

// KeywordIndex defines keyword search operations over chunks.
type KeywordIndex interface {
	Index(ctx context.Context, chunks []*models.Chunk) error
	Search(ctx context.Context, query string, limit int, filter models.SearchFilter, opts *SearchOptions) ([]*KeywordResult, error)
	Delete(ctx context.Context, ids []string) error
	// DocCount returns the total number of chunks in the index.
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit. ID is the chunk id.
type KeywordResult struct {
	ID    string
	Score float64
}

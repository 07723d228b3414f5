// Package vector provides time-partitioned vector indexes and similarity search.
package vector

import (
	"context"
	"fmt"

	"github.com/hyperjump/chikuseki/internal/models"
)

// VectorIndex stores chunk embeddings in per-day partitions and answers filtered similarity queries.
type VectorIndex interface {
	// Upsert inserts or replaces entries by chunk id. An id whose day changed moves partitions.
	Upsert(ctx context.Context, entries []*Entry) error
	// Search returns at most k results by cosine similarity, best first.
	Search(ctx context.Context, query []float32, k int, filter models.SearchFilter) ([]*Result, error)
	// SearchAbove returns every result scoring at least minScore, best first.
	SearchAbove(ctx context.Context, query []float32, minScore float64, filter models.SearchFilter) ([]*Result, error)
	Delete(ctx context.Context, ids []string) error
	Size() int
	Partitions() []models.Day
	Type() string
	Close() error
}

// Entry is one chunk embedding with the metadata needed for filtering.
type Entry struct {
	ChunkID     string
	Vector      []float32
	Source      models.Source
	Date        models.Day
	ExternalID  string
	DocumentRef string
}

// Result is a single vector search hit.
type Result struct {
	ChunkID     string
	Score       float64 // cosine similarity in [-1, 1]
	Source      models.Source
	Date        models.Day
	ExternalID  string
	DocumentRef string
}

// IndexWriteError is returned when entries cannot be written to the index.
type IndexWriteError struct {
	Op      string
	ChunkID string
	Err     error
}

func (e *IndexWriteError) Error() string {
	if e.ChunkID != "" {
		return fmt.Sprintf("vector index %s %s: %v", e.Op, e.ChunkID, e.Err)
	}
	return fmt.Sprintf("vector index %s: %v", e.Op, e.Err)
}

func (e *IndexWriteError) Unwrap() error { return e.Err }

// validateEntries checks every entry before anything is written.
func validateEntries(entries []*Entry, dimensions int) error {
	for _, e := range entries {
		if e == nil || e.ChunkID == "" {
			return &IndexWriteError{Op: "upsert", Err: fmt.Errorf("entry without chunk id")}
		}
		if len(e.Vector) != dimensions {
			return &IndexWriteError{Op: "upsert", ChunkID: e.ChunkID,
				Err: fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(e.Vector), dimensions)}
		}
		if !e.Date.Valid() {
			return &IndexWriteError{Op: "upsert", ChunkID: e.ChunkID, Err: fmt.Errorf("invalid date %q", e.Date)}
		}
	}
	return nil
}

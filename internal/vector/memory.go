package vector

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/chikuseki/internal/models"
)

// MemoryIndex is an in-memory day-partitioned index using brute-force cosine search over the
// partitions a query's date range selects. Suitable for tests and small corpora.
type MemoryIndex struct {
	shards *shardSet
	mu     sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{shards: newShardSet(dimensions)}, nil
}

// Type returns the index type identifier.
func (m *MemoryIndex) Type() string {
	return string(IndexTypeMemory)
}

// Upsert inserts or replaces entries. Either every entry is applied or none is.
func (m *MemoryIndex) Upsert(ctx context.Context, entries []*Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateEntries(entries, m.shards.dimensions); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.shards.put(e)
	}
	return nil
}

// Search returns the top-k entries matching filter.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int, filter models.SearchFilter) ([]*Result, error) {
	if len(query) != m.shards.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.shards.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.shards.topK(ctx, query, k, filter)
}

// SearchAbove returns every entry matching filter whose score is at least minScore.
func (m *MemoryIndex) SearchAbove(ctx context.Context, query []float32, minScore float64, filter models.SearchFilter) ([]*Result, error) {
	if len(query) != m.shards.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.shards.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.shards.above(ctx, query, minScore, filter)
}

// Delete removes entries by chunk id. Unknown ids are ignored.
func (m *MemoryIndex) Delete(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.shards.remove(id)
	}
	return nil
}

// Size returns the number of entries in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.shards.size()
}

// Partitions returns the non-empty days in ascending order.
func (m *MemoryIndex) Partitions() []models.Day {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.shards.partitions()
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}

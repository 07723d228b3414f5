package embedding

import (
	"container/list"
	"context"
	"crypto/sha256"
	"sync"
)

type cacheKey [sha256.Size]byte

func keyFor(text string) cacheKey { return sha256.Sum256([]byte(text)) }

type cacheEntry struct {
	key cacheKey
	vec []float32
}

// EmbeddingCache is an LRU of embeddings keyed by the SHA-256 of their text, so chunk-sized
// keys cost a fixed 32 bytes each.
type EmbeddingCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[cacheKey]*list.Element
	order    *list.List // front is most recently used
	hits     uint64
	misses   uint64
}

// NewEmbeddingCache creates a cache holding at most capacity vectors.
func NewEmbeddingCache(capacity int) *EmbeddingCache {
	if capacity < 1 {
		capacity = 1
	}
	return &EmbeddingCache{
		capacity: capacity,
		entries:  make(map[cacheKey]*list.Element, capacity),
		order:    list.New(),
	}
}

// Get returns the vector cached for text.
func (c *EmbeddingCache) Get(text string) ([]float32, bool) {
	k := keyFor(text)
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[k]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheEntry).vec, true
}

// Set caches vec for text and evicts the least recently used entry past capacity.
func (c *EmbeddingCache) Set(text string, vec []float32) {
	k := keyFor(text)
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[k]; ok {
		elem.Value.(*cacheEntry).vec = vec
		c.order.MoveToFront(elem)
		return
	}
	c.entries[k] = c.order.PushFront(&cacheEntry{key: k, vec: vec})
	for c.order.Len() > c.capacity {
		last := c.order.Back()
		c.order.Remove(last)
		delete(c.entries, last.Value.(*cacheEntry).key)
	}
}

// Len returns the number of cached vectors.
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns lookup hits and misses since creation.
func (c *EmbeddingCache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// CachedEmbedder deduplicates embedding work by content. Providers are deterministic, so
// identical text (the same story reposted on several days, repeated boilerplate) is embedded once.
type CachedEmbedder struct {
	Embedder
	cache *EmbeddingCache
}

// NewCachedEmbedder wraps inner with an LRU cache of the given capacity.
func NewCachedEmbedder(inner Embedder, capacity int) *CachedEmbedder {
	return &CachedEmbedder{Embedder: inner, cache: NewEmbeddingCache(capacity)}
}

// Embed returns the cached vector for text or computes and caches it. Errors are not cached.
// Callers get their own copy of the vector.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return append([]float32(nil), v...), nil
	}
	v, err := c.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, append([]float32(nil), v...))
	return v, nil
}

// EmbedBatch calls Embed for each text so cached entries are reused.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, c, texts)
}

// Cache exposes the underlying cache.
func (c *CachedEmbedder) Cache() *EmbeddingCache { return c.cache }

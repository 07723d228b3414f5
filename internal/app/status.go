package app

import (
	"context"

	"github.com/hyperjump/chikuseki/internal/coordination"
	"github.com/hyperjump/chikuseki/internal/embedding"
	"github.com/hyperjump/chikuseki/internal/models"
	"github.com/hyperjump/chikuseki/internal/storage"
)

// Status is a summary of what has been accumulated, as reported by the status endpoint and command.
type Status struct {
	Ledger           map[models.LedgerStatus]int `json:"ledger"`
	Unsettled        int                         `json:"unsettled"`
	Chunks           int64                       `json:"chunks"`
	VectorIndexSize  int                         `json:"vector_index_size"`
	Partitions       int                         `json:"partitions"`
	FirstDay         models.Day                  `json:"first_day,omitempty"`
	LastDay          models.Day                  `json:"last_day,omitempty"`
	KeywordDocuments uint64                      `json:"keyword_documents,omitempty"`
	DiskUsage        *storage.Usage              `json:"disk_usage,omitempty"`
	EmbeddingCache   *CacheStats                 `json:"embedding_cache,omitempty"`
	Coordination     *coordination.Snapshot      `json:"coordination,omitempty"`
	Config           *StatusConfig               `json:"config,omitempty"`
	UptimeSeconds    int64                       `json:"uptime_seconds,omitempty"`
}

// CacheStats reports embedding cache effectiveness since startup.
type CacheStats struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

// StatusConfig is the subset of configuration reported by status.
type StatusConfig struct {
	VectorIndexType     string `json:"vector_index_type"`
	EmbeddingProvider   string `json:"embedding_provider"`
	EmbeddingDimensions int    `json:"embedding_dimensions"`
	ChunkMaxChars       int    `json:"chunk_max_chars"`
	ChunkOverlapChars   int    `json:"chunk_overlap_chars"`
	HybridDigest        bool   `json:"hybrid_digest"`
	DatabasePath        string `json:"database_path,omitempty"`
	VectorIndexPath     string `json:"vector_index_path,omitempty"`
	BleveIndexPath      string `json:"bleve_index_path,omitempty"`
}

// Status collects ledger counts, index sizes and coordination values.
func (a *App) Status(ctx context.Context) (*Status, error) {
	counts, err := a.Store.Counts(ctx)
	if err != nil {
		return nil, err
	}
	chunks, err := a.Store.CountChunks(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := a.Coordination.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	// dated on or after the last clean run and still not done; everything when there was none
	unsettled, err := a.Store.PendingOrFailedSince(ctx, snap.LastSuccessDate)
	if err != nil {
		return nil, err
	}
	cfg := a.Config
	st := &Status{
		Ledger:          counts,
		Unsettled:       len(unsettled),
		Chunks:          chunks,
		VectorIndexSize: a.VectorIndex.Size(),
		Coordination:    snap,
		Config: &StatusConfig{
			VectorIndexType:     a.VectorIndex.Type(),
			EmbeddingProvider:   cfg.Embedding.Provider,
			EmbeddingDimensions: a.Embedder.Dimensions(),
			ChunkMaxChars:       cfg.Chunking.MaxChars,
			ChunkOverlapChars:   cfg.Chunking.OverlapChars,
			HybridDigest:        a.KeywordIndex != nil && cfg.Retrieval.KeywordWeight > 0,
			DatabasePath:        cfg.Storage.DatabasePath,
			BleveIndexPath:      cfg.Storage.BleveIndexPath,
		},
	}
	if days := a.VectorIndex.Partitions(); len(days) > 0 {
		st.Partitions = len(days)
		st.FirstDay = days[0]
		st.LastDay = days[len(days)-1]
	}
	paths := map[string]string{"ledger": cfg.Storage.DatabasePath}
	if a.KeywordIndex != nil {
		paths["keyword"] = cfg.Storage.BleveIndexPath
	}
	if a.VectorIndex.Type() == "bolt" {
		st.Config.VectorIndexPath = cfg.Storage.VectorIndexPath
		paths["vectors"] = cfg.Storage.VectorIndexPath
	}
	if a.KeywordIndex != nil {
		if n, err := a.KeywordIndex.DocCount(); err == nil {
			st.KeywordDocuments = n
		}
	}
	if cached, ok := a.Embedder.(*embedding.CachedEmbedder); ok {
		hits, misses := cached.Cache().Stats()
		st.EmbeddingCache = &CacheStats{Entries: cached.Cache().Len(), Hits: hits, Misses: misses}
	}
	if usage, err := storage.MeasureUsage(paths); err == nil {
		st.DiskUsage = usage
	}
	return st, nil
}

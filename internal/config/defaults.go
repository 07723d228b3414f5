package config

import (
	"fmt"
	"time"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/chikuseki/data/db/ledger.db"
	}
	if cfg.Storage.VectorIndexType == "" {
		cfg.Storage.VectorIndexType = "bolt"
	}
	if cfg.Storage.VectorIndexPath == "" {
		cfg.Storage.VectorIndexPath = "/usr/local/var/chikuseki/data/indices/vectors.bolt"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/chikuseki/data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 512
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.RateLimit > 0 && cfg.Embedding.RateBurst == 0 {
		cfg.Embedding.RateBurst = 1
	}
	if cfg.Chunking.MaxChars == 0 {
		cfg.Chunking.MaxChars = 1500
	}
	if cfg.Chunking.OverlapChars == 0 {
		cfg.Chunking.OverlapChars = 200
	}
	if cfg.Ingest.Concurrency == 0 {
		cfg.Ingest.Concurrency = 4
	}
	if cfg.Ingest.StalePendingAfter == 0 {
		cfg.Ingest.StalePendingAfter = 6 * time.Hour
	}
	if cfg.Retrieval.DefaultK == 0 {
		cfg.Retrieval.DefaultK = 10
	}
	if cfg.Retrieval.MaxK == 0 {
		cfg.Retrieval.MaxK = 100
	}
	if cfg.Retrieval.TrendGranularity == "" {
		cfg.Retrieval.TrendGranularity = "week"
	}
	if cfg.Retrieval.TrendKPerPeriod == 0 {
		cfg.Retrieval.TrendKPerPeriod = 5
	}
	if cfg.Retrieval.TrendMinScore == 0 {
		cfg.Retrieval.TrendMinScore = 0.5
	}
	if cfg.Retrieval.SemanticWeight == 0 {
		cfg.Retrieval.SemanticWeight = 1.0
	}
	if cfg.Retrieval.KeywordCandidates == 0 {
		cfg.Retrieval.KeywordCandidates = 100
	}
	if cfg.Feed.Patterns == nil {
		cfg.Feed.Patterns = []string{"**/*.md", "**/*.txt", "**/*.pdf", "**/*.docx", "**/*.odt", "**/*.rtf", "**/*.xlsx"}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Feed.Directories) > 0 && cfg.Feed.Recursive == nil {
		t := true
		cfg.Feed.Recursive = &t
	}
}

// Validate reports settings that cannot work together.
func (cfg *Config) Validate() error {
	if err := validateWindow("chunking", cfg.Chunking.MaxChars, cfg.Chunking.OverlapChars); err != nil {
		return err
	}
	for source := range cfg.Chunking.Sources {
		maxChars, overlap := cfg.Chunking.For(source)
		if err := validateWindow("chunking.sources."+source, maxChars, overlap); err != nil {
			return err
		}
	}
	switch cfg.Embedding.Provider {
	case "onnx", "hash":
	default:
		return fmt.Errorf("embedding.provider %q is not supported (supported: onnx, hash)", cfg.Embedding.Provider)
	}
	if cfg.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive")
	}
	switch cfg.Storage.VectorIndexType {
	case "bolt", "memory":
	default:
		return fmt.Errorf("storage.vector_index_type %q is not supported (supported: bolt, memory)", cfg.Storage.VectorIndexType)
	}
	if cfg.Ingest.Concurrency < 1 {
		return fmt.Errorf("ingest.concurrency must be at least 1")
	}
	switch cfg.Retrieval.TrendGranularity {
	case "day", "week", "month":
	default:
		return fmt.Errorf("retrieval.trend_granularity %q is not supported (supported: day, week, month)", cfg.Retrieval.TrendGranularity)
	}
	if cfg.Retrieval.KeywordWeight < 0 || cfg.Retrieval.SemanticWeight < 0 {
		return fmt.Errorf("retrieval weights must not be negative")
	}
	return nil
}

func validateWindow(section string, maxChars, overlap int) error {
	if maxChars <= 0 {
		return fmt.Errorf("%s.max_chars must be positive", section)
	}
	if overlap < 0 || overlap >= maxChars {
		return fmt.Errorf("%s.overlap_chars must be in [0, max_chars)", section)
	}
	return nil
}

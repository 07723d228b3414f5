// Package config provides configuration loading and structs for chikuseki.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Feed      FeedConfig      `yaml:"feed"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the database and indices.
type StorageConfig struct {
	// DatabasePath is the SQLite file holding the ledger, chunk text, and coordination state.
	DatabasePath string `yaml:"database_path"`
	// VectorIndexType is "bolt" (durable) or "memory".
	VectorIndexType string `yaml:"vector_index_type"`
	VectorIndexPath string `yaml:"vector_index_path"`
	// BleveIndexPath is the keyword index directory. Empty disables the keyword index.
	BleveIndexPath string `yaml:"bleve_index_path"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	// Provider is "onnx" (all-MiniLM-L6-v2) or "hash" (offline feature hashing).
	Provider    string `yaml:"provider"`
	ModelPath   string `yaml:"model_path"`
	LibraryPath string `yaml:"library_path"`
	Dimensions  int    `yaml:"dimensions"`
	MaxTokens   int    `yaml:"max_tokens"`
	CacheSize   int    `yaml:"cache_size"`
	// RateLimit is the maximum embedding calls per second; 0 disables throttling.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// ChunkingConfig holds the window policy, optionally overridden per source.
type ChunkingConfig struct {
	MaxChars     int                      `yaml:"max_chars"`
	OverlapChars int                      `yaml:"overlap_chars"`
	Sources      map[string]ChunkOverride `yaml:"sources"`
}

// ChunkOverride replaces the window policy for one source. Zero fields inherit the defaults.
type ChunkOverride struct {
	MaxChars     int `yaml:"max_chars"`
	OverlapChars int `yaml:"overlap_chars"`
}

// For returns the effective window policy for source.
func (c *ChunkingConfig) For(source string) (maxChars, overlapChars int) {
	maxChars, overlapChars = c.MaxChars, c.OverlapChars
	if o, ok := c.Sources[source]; ok {
		if o.MaxChars > 0 {
			maxChars = o.MaxChars
		}
		if o.OverlapChars > 0 {
			overlapChars = o.OverlapChars
		}
	}
	return maxChars, overlapChars
}

// IngestConfig holds accumulator settings.
type IngestConfig struct {
	Concurrency int `yaml:"concurrency"`
	// StalePendingAfter is the age after which the reaper fails pending ledger records.
	StalePendingAfter time.Duration `yaml:"stale_pending_after"`
}

// RetrievalConfig holds digest and trend query settings.
type RetrievalConfig struct {
	DefaultK         int     `yaml:"default_k"`
	MaxK             int     `yaml:"max_k"`
	TrendGranularity string  `yaml:"trend_granularity"`
	TrendKPerPeriod  int     `yaml:"trend_k_per_period"`
	TrendMinScore    float64 `yaml:"trend_min_score"`
	// KeywordWeight > 0 enables hybrid digest ranking with the keyword index.
	KeywordWeight     float64 `yaml:"keyword_weight"`
	SemanticWeight    float64 `yaml:"semantic_weight"`
	KeywordCandidates int     `yaml:"keyword_candidates"`
}

// FeedConfig holds the research drop-folder settings.
type FeedConfig struct {
	Directories []string `yaml:"directories"`
	// Patterns are doublestar globs relative to each directory.
	Patterns  []string `yaml:"patterns"`
	Watch     bool     `yaml:"watch"`
	Recursive *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (f *FeedConfig) RecursiveOrDefault() bool {
	if f.Recursive != nil {
		return *f.Recursive
	}
	return true
}

// Addr returns host:port for the HTTP server.
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads and parses the config file at path, expands paths, applies defaults, and validates.
// Returns an error if the file cannot be read or parsed, or the result is inconsistent.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	ApplyDefaults(&cfg)
	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	if cfg.Storage.BleveIndexPath != "" {
		cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	}
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	for i := range cfg.Feed.Directories {
		cfg.Feed.Directories[i] = expandPath(cfg.Feed.Directories[i], configDir)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}

package embedding

import (
	"fmt"

	"github.com/hyperjump/chikuseki/internal/config"
	"go.uber.org/zap"
)

// New builds the configured provider and stacks the cache and rate limiter on top of it.
// The rate limiter sits under the cache so cache hits are never throttled.
func New(cfg *config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	var base Embedder
	switch cfg.Provider {
	case "hash":
		base = NewMockEmbedder(cfg.Dimensions, cfg.MaxTokens)
	case "onnx":
		onnx, err := NewONNXEmbedder(cfg.ModelPath, cfg.LibraryPath, cfg.Dimensions, cfg.MaxTokens)
		if err != nil {
			return nil, fmt.Errorf("failed to create ONNX embedder: %w", err)
		}
		base = onnx
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: onnx, hash)", cfg.Provider)
	}
	if cfg.RateLimit > 0 {
		base = NewRateLimitedEmbedder(base, cfg.RateLimit, cfg.RateBurst)
	}
	if cfg.CacheSize > 0 {
		base = NewCachedEmbedder(base, cfg.CacheSize)
	}
	if logger != nil {
		logger.Debug("embedder ready",
			zap.String("provider", cfg.Provider),
			zap.Int("dimensions", base.Dimensions()),
			zap.Int("max_tokens", base.MaxTokens()),
			zap.Float64("rate_limit", cfg.RateLimit),
			zap.Int("cache_size", cfg.CacheSize),
		)
	}
	return base, nil
}

package embedding

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedEmbedder throttles calls to an external provider with a token bucket.
type RateLimitedEmbedder struct {
	Embedder
	limiter *rate.Limiter
}

// NewRateLimitedEmbedder allows perSecond calls per second with the given burst.
func NewRateLimitedEmbedder(inner Embedder, perSecond float64, burst int) *RateLimitedEmbedder {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedEmbedder{
		Embedder: inner,
		limiter:  rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Embed waits for a token and then delegates. A cancelled context returns ctx.Err(). A wait
// that cannot finish before the deadline fails right away with an error wrapping
// context.DeadlineExceeded, even though ctx itself has not expired yet.
func (r *RateLimitedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return r.Embedder.Embed(ctx, text)
}

// EmbedBatch takes one token per text.
func (r *RateLimitedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, r, texts)
}

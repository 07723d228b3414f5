package search

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hyperjump/chikuseki/internal/config"
	"github.com/hyperjump/chikuseki/internal/embedding"
	"github.com/hyperjump/chikuseki/internal/keyword"
	"github.com/hyperjump/chikuseki/internal/models"
	"github.com/hyperjump/chikuseki/internal/storage"
	"github.com/hyperjump/chikuseki/internal/vector"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Engine runs digest and trend queries.
type Engine struct {
	embedder     embedding.Embedder
	vectorIndex  vector.VectorIndex
	chunks       storage.ChunkStore
	keywordIndex keyword.KeywordIndex // optional; enables hybrid digest when KeywordWeight > 0
	config       *config.RetrievalConfig
	logger       *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithKeywordIndex enables hybrid digest ranking.
func WithKeywordIndex(k keyword.KeywordIndex) Option {
	return func(e *Engine) { e.keywordIndex = k }
}

// WithLogger sets a logger for query timing.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates a search engine with the given dependencies.
func NewEngine(
	embedder embedding.Embedder,
	vectorIndex vector.VectorIndex,
	chunks storage.ChunkStore,
	cfg *config.RetrievalConfig,
	opts ...Option,
) *Engine {
	e := &Engine{
		embedder:    embedder,
		vectorIndex: vectorIndex,
		chunks:      chunks,
		config:      cfg,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// embedQuery embeds the query text, cutting it to the provider budget instead of failing.
func (e *Engine) embedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.embedder.Embed(ctx, embedding.Truncate(text, e.embedder.MaxTokens()))
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	return vec, nil
}

func (e *Engine) hybrid() bool {
	return e.keywordIndex != nil && e.config.KeywordWeight > 0
}

// Digest returns at most K chunks relevant to the query inside its filter, best first.
// Ties are broken by newer date, then chunk ID.
func (e *Engine) Digest(ctx context.Context, q *models.DigestQuery) (*models.DigestResult, error) {
	startTime := time.Now()
	if err := ProcessDigest(q, e.config); err != nil {
		return nil, err
	}

	var (
		keywordResults  []*keyword.KeywordResult
		semanticResults []*vector.Result
	)
	hybrid := e.hybrid()
	candidates := q.K
	if hybrid && e.config.KeywordCandidates > candidates {
		candidates = e.config.KeywordCandidates
	}

	g, gctx := errgroup.WithContext(ctx)
	if hybrid {
		g.Go(func() error {
			results, err := e.keywordIndex.Search(gctx, q.Text, candidates, q.SearchFilter, nil)
			if err != nil {
				return fmt.Errorf("keyword search failed: %w", err)
			}
			keywordResults = results
			return nil
		})
	}
	g.Go(func() error {
		vec, err := e.embedQuery(gctx, q.Text)
		if err != nil {
			return err
		}
		results, err := e.vectorIndex.Search(gctx, vec, candidates, q.SearchFilter)
		if err != nil {
			return fmt.Errorf("vector search failed: %w", err)
		}
		semanticResults = results
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var hits []*models.Hit
	if hybrid {
		fused := Fuse(KeywordScores(keywordResults), SemanticScores(semanticResults),
			e.config.KeywordWeight, e.config.SemanticWeight)
		byID := make(map[string]*vector.Result, len(semanticResults))
		for _, r := range semanticResults {
			byID[r.ChunkID] = r
		}
		hits = make([]*models.Hit, 0, len(fused))
		for _, f := range fused {
			h := &models.Hit{ChunkID: f.ChunkID, Score: f.Score, SemanticScore: f.SemanticScore, KeywordScore: f.KeywordScore}
			if r, ok := byID[f.ChunkID]; ok {
				copyMeta(h, r)
			}
			hits = append(hits, h)
		}
	} else {
		hits = make([]*models.Hit, 0, len(semanticResults))
		for _, r := range semanticResults {
			h := &models.Hit{ChunkID: r.ChunkID, Score: r.Score, SemanticScore: r.Score}
			copyMeta(h, r)
			hits = append(hits, h)
		}
	}

	if err := e.hydrate(ctx, hits); err != nil {
		return nil, err
	}
	if hybrid {
		// keyword-only hits get their date from the chunk store, so order once more
		sortHits(hits)
	}
	if len(hits) > q.K {
		hits = hits[:q.K]
	}
	for i, h := range hits {
		h.Rank = i + 1
	}

	result := &models.DigestResult{
		Query:     q.Text,
		Hits:      hits,
		QueryTime: time.Since(startTime).Milliseconds(),
	}
	e.logger.Debug("digest query",
		zap.String("query", q.Text),
		zap.Int("hits", len(hits)),
		zap.Bool("hybrid", hybrid),
		zap.Int64("query_time_ms", result.QueryTime),
	)
	return result, nil
}

// Trend embeds the query once, collects every match at or above the score threshold and
// groups them into calendar periods in chronological order.
func (e *Engine) Trend(ctx context.Context, q *models.TrendQuery) (*models.TrendResult, error) {
	startTime := time.Now()
	if err := ProcessTrend(q, e.config); err != nil {
		return nil, err
	}
	vec, err := e.embedQuery(ctx, q.Text)
	if err != nil {
		return nil, err
	}
	results, err := e.vectorIndex.SearchAbove(ctx, vec, *q.MinScore, q.SearchFilter)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	type bucketState struct {
		bucket *models.TrendBucket
		docs   map[string]struct{}
	}
	byPeriod := make(map[models.Day]*bucketState)
	var kept []*models.Hit
	// results are best first, so the first KPerPeriod of each period are its top hits
	for _, r := range results {
		start := q.Granularity.PeriodStart(r.Date)
		st, ok := byPeriod[start]
		if !ok {
			st = &bucketState{
				bucket: &models.TrendBucket{
					PeriodStart: start,
					PeriodEnd:   q.Granularity.Next(start).AddDays(-1),
					Hits:        []*models.Hit{},
				},
				docs: make(map[string]struct{}),
			}
			byPeriod[start] = st
		}
		st.bucket.TotalMatches++
		st.docs[r.DocumentRef] = struct{}{}
		if len(st.bucket.Hits) < q.KPerPeriod {
			h := &models.Hit{ChunkID: r.ChunkID, Score: r.Score, SemanticScore: r.Score, Rank: len(st.bucket.Hits) + 1}
			copyMeta(h, r)
			st.bucket.Hits = append(st.bucket.Hits, h)
			kept = append(kept, h)
		}
	}
	if err := e.hydrate(ctx, kept); err != nil {
		return nil, err
	}

	buckets := make([]*models.TrendBucket, 0, len(byPeriod))
	total := 0
	for _, st := range byPeriod {
		st.bucket.DocumentCount = len(st.docs)
		total += st.bucket.TotalMatches
		buckets = append(buckets, st.bucket)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].PeriodStart < buckets[j].PeriodStart })
	if q.FillEmpty {
		buckets = fillEmpty(buckets, q.Granularity)
	}

	result := &models.TrendResult{
		Query:        q.Text,
		Granularity:  q.Granularity,
		Buckets:      buckets,
		TotalMatches: total,
		QueryTime:    time.Since(startTime).Milliseconds(),
	}
	e.logger.Debug("trend query",
		zap.String("query", q.Text),
		zap.String("granularity", string(q.Granularity)),
		zap.Int("buckets", len(buckets)),
		zap.Int("matches", total),
		zap.Int64("query_time_ms", result.QueryTime),
	)
	return result, nil
}

// fillEmpty inserts zero-count buckets for periods between the first and last bucket.
func fillEmpty(buckets []*models.TrendBucket, g models.Granularity) []*models.TrendBucket {
	if len(buckets) < 2 {
		return buckets
	}
	out := make([]*models.TrendBucket, 0, len(buckets))
	next := buckets[0].PeriodStart
	for _, b := range buckets {
		for next < b.PeriodStart {
			out = append(out, &models.TrendBucket{
				PeriodStart: next,
				PeriodEnd:   g.Next(next).AddDays(-1),
				Hits:        []*models.Hit{},
			})
			next = g.Next(next)
		}
		out = append(out, b)
		next = g.Next(b.PeriodStart)
	}
	return out
}

func copyMeta(h *models.Hit, r *vector.Result) {
	h.Source = r.Source
	h.Date = r.Date
	h.ExternalID = r.ExternalID
	h.DocumentRef = r.DocumentRef
}

// hydrate fills chunk text, and metadata missing from keyword-only hits, from the chunk store.
func (e *Engine) hydrate(ctx context.Context, hits []*models.Hit) error {
	if len(hits) == 0 {
		return nil
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
	}
	stored, err := e.chunks.GetChunks(ctx, ids)
	if err != nil {
		return fmt.Errorf("load chunk text: %w", err)
	}
	for _, h := range hits {
		c, ok := stored[h.ChunkID]
		if !ok {
			continue
		}
		h.Text = c.Text
		if h.DocumentRef == "" {
			h.Source = c.Source
			h.Date = c.Date
			h.ExternalID = c.ExternalID
			h.DocumentRef = c.DocumentRef
		}
	}
	return nil
}

// sortHits orders hits by score desc, then date desc, then chunk ID asc.
func sortHits(hits []*models.Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Date != b.Date {
			return a.Date > b.Date
		}
		return a.ChunkID < b.ChunkID
	})
}

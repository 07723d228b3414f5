package search

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/hyperjump/chikuseki/internal/config"
	"github.com/hyperjump/chikuseki/internal/embedding"
	"github.com/hyperjump/chikuseki/internal/indexer"
	"github.com/hyperjump/chikuseki/internal/keyword"
	"github.com/hyperjump/chikuseki/internal/models"
	"github.com/hyperjump/chikuseki/internal/storage"
	"github.com/hyperjump/chikuseki/internal/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dims = 256

type fixture struct {
	engine   *Engine
	acc      *indexer.Accumulator
	cfg      *config.RetrievalConfig
	store    *storage.SQLiteStorage
	embedder embedding.Embedder
	vectors  vector.VectorIndex
	keywords *keyword.BleveIndex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "db.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	emb := embedding.NewMockEmbedder(dims, 0)
	vecIndex, err := vector.NewMemoryIndex(dims)
	require.NoError(t, err)
	kwIndex, err := keyword.NewBleveIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kwIndex.Close() })

	cfg := &config.RetrievalConfig{
		DefaultK: 10, MaxK: 100,
		TrendGranularity: "week", TrendKPerPeriod: 3, TrendMinScore: 0.5,
		SemanticWeight: 1, KeywordCandidates: 50,
	}
	return &fixture{
		engine:   NewEngine(emb, vecIndex, store, cfg, WithKeywordIndex(kwIndex)),
		acc:      indexer.NewAccumulator(store, store, emb, vecIndex, nil, indexer.WithKeywordIndex(kwIndex)),
		cfg:      cfg,
		store:    store,
		embedder: emb,
		vectors:  vecIndex,
		keywords: kwIndex,
	}
}

func (f *fixture) ingest(t *testing.T, docs ...*models.Document) {
	t.Helper()
	report, err := f.acc.Ingest(context.Background(), docs)
	require.NoError(t, err)
	require.Equal(t, len(docs), report.Succeeded)
}

func doc(src models.Source, day models.Day, id, text string) *models.Document {
	return &models.Document{Source: src, Date: day, ExternalID: id, RawText: text}
}

func TestEngine_Digest(t *testing.T) {
	f := newFixture(t)
	f.ingest(t,
		doc(models.SourceArxiv, "2025-01-06", "p1", "retrieval augmented generation for code"),
		doc(models.SourceHNReddit, "2025-01-06", "h1", "protein folding with diffusion models"),
		doc(models.SourceArxiv, "2025-01-07", "p2", "retrieval augmented generation benchmarks"),
	)

	res, err := f.engine.Digest(context.Background(), &models.DigestQuery{
		Text:         "retrieval  augmented\ngeneration",
		SearchFilter: models.SearchFilter{From: "2025-01-06", To: "2025-01-06"},
		K:            5,
	})
	require.NoError(t, err)
	assert.Equal(t, "retrieval augmented generation", res.Query)
	require.Len(t, res.Hits, 2, "date filter keeps only 2025-01-06")
	assert.Equal(t, "p1", res.Hits[0].ExternalID)
	assert.Equal(t, 1, res.Hits[0].Rank)
	assert.Equal(t, "retrieval augmented generation for code", res.Hits[0].Text)
	assert.Equal(t, "arxiv/p1", res.Hits[0].DocumentRef)
	for _, h := range res.Hits {
		assert.Equal(t, models.Day("2025-01-06"), h.Date)
	}

	res, err = f.engine.Digest(context.Background(), &models.DigestQuery{Text: "retrieval augmented generation", K: 1})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
}

func TestEngine_DigestDeterministicTieBreak(t *testing.T) {
	f := newFixture(t)
	f.ingest(t,
		doc(models.SourceArxiv, "2025-01-01", "old", "agent evaluation"),
		doc(models.SourceArxiv, "2025-01-03", "new-b", "agent evaluation"),
		doc(models.SourceReport, "2025-01-03", "new-a", "agent evaluation"),
	)
	var first []string
	for i := 0; i < 5; i++ {
		res, err := f.engine.Digest(context.Background(), &models.DigestQuery{Text: "agent evaluation"})
		require.NoError(t, err)
		var got []string
		for _, h := range res.Hits {
			got = append(got, h.ExternalID)
		}
		if first == nil {
			first = got
		}
		assert.Equal(t, first, got)
	}
	require.Len(t, first, 3)
	assert.Equal(t, "old", first[2], "equal scores put newer days first")
}

func TestEngine_DigestValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Digest(context.Background(), &models.DigestQuery{Text: "  "})
	assert.Error(t, err)

	res, err := f.engine.Digest(context.Background(), &models.DigestQuery{Text: "anything"})
	require.NoError(t, err)
	assert.NotNil(t, res.Hits)
	assert.Empty(t, res.Hits, "empty index yields no hits")
}

func TestEngine_DigestHybrid(t *testing.T) {
	f := newFixture(t)
	f.cfg.KeywordWeight = 0.5
	f.cfg.SemanticWeight = 0.5
	f.ingest(t,
		doc(models.SourceArxiv, "2025-01-06", "k1", "Mixture of experts routing with sparse gates"),
		doc(models.SourceArxiv, "2025-01-06", "k2", "Dense transformers scale predictably"),
	)
	res, err := f.engine.Digest(context.Background(), &models.DigestQuery{Text: "sparse gates"})
	require.NoError(t, err)
	require.NotEmpty(t, res.Hits)
	assert.Equal(t, "k1", res.Hits[0].ExternalID)
	assert.Greater(t, res.Hits[0].KeywordScore, 0.0)
}

func TestEngine_TrendCounts(t *testing.T) {
	f := newFixture(t)
	var docs []*models.Document
	// week of 2025-01-06: 1 match, week of 2025-01-13: 1 match, week of 2025-01-20: 10 matches
	docs = append(docs,
		doc(models.SourceArxiv, "2025-01-07", "w1", "small language models"),
		doc(models.SourceHNReddit, "2025-01-08", "noise", "kernel scheduling internals"),
		doc(models.SourceArxiv, "2025-01-15", "w2", "small language models"),
	)
	for i := 0; i < 10; i++ {
		day := models.Day("2025-01-20").AddDays(i % 7)
		docs = append(docs, doc(models.SourceArxiv, day, fmt.Sprintf("w3-%d", i), "small language models"))
	}
	f.ingest(t, docs...)

	res, err := f.engine.Trend(context.Background(), &models.TrendQuery{Text: "small language models"})
	require.NoError(t, err)
	assert.Equal(t, models.GranularityWeek, res.Granularity)
	assert.Equal(t, []int{1, 1, 10}, res.Counts())
	assert.Equal(t, 12, res.TotalMatches)

	last := res.Buckets[2]
	assert.Equal(t, models.Day("2025-01-20"), last.PeriodStart)
	assert.Equal(t, models.Day("2025-01-26"), last.PeriodEnd)
	assert.Len(t, last.Hits, 3, "top k_per_period hits")
	assert.Equal(t, 10, last.DocumentCount)
	assert.Equal(t, "small language models", last.Hits[0].Text)
	for i := 1; i < len(res.Buckets); i++ {
		assert.Less(t, string(res.Buckets[i-1].PeriodStart), string(res.Buckets[i].PeriodStart))
	}
}

func TestEngine_TrendHonorsNonPositiveMinScore(t *testing.T) {
	f := newFixture(t)
	f.ingest(t,
		doc(models.SourceArxiv, "2025-01-07", "a", "small language models"),
		doc(models.SourceHNReddit, "2025-01-08", "noise", "kernel scheduling internals"),
	)

	res, err := f.engine.Trend(context.Background(), &models.TrendQuery{Text: "small language models"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalMatches, "configured threshold drops the unrelated document")

	floor := -1.0
	q := &models.TrendQuery{Text: "small language models", MinScore: &floor}
	res, err = f.engine.Trend(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalMatches)
	require.NotNil(t, q.MinScore)
	assert.Equal(t, -1.0, *q.MinScore, "an explicit threshold is kept")

	zero := 0.0
	q = &models.TrendQuery{Text: "small language models", MinScore: &zero}
	require.NoError(t, ProcessTrend(q, f.cfg))
	assert.Equal(t, 0.0, *q.MinScore)
}

func TestEngine_TrendRejectsOutOfRangeMinScore(t *testing.T) {
	f := newFixture(t)
	tooHigh := 1.5
	_, err := f.engine.Trend(context.Background(), &models.TrendQuery{Text: "x", MinScore: &tooHigh})
	assert.Error(t, err)
}

func TestEngine_TrendFillEmptyAndMonth(t *testing.T) {
	f := newFixture(t)
	f.ingest(t,
		doc(models.SourceArxiv, "2025-01-10", "a", "state space models"),
		doc(models.SourceArxiv, "2025-03-02", "b", "state space models"),
	)
	res, err := f.engine.Trend(context.Background(), &models.TrendQuery{Text: "state space models", Granularity: models.GranularityMonth})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1}, res.Counts())

	res, err = f.engine.Trend(context.Background(), &models.TrendQuery{Text: "state space models", Granularity: models.GranularityMonth, FillEmpty: true})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0, 1}, res.Counts())
	assert.Equal(t, models.Day("2025-02-01"), res.Buckets[1].PeriodStart)
	assert.Equal(t, models.Day("2025-02-28"), res.Buckets[1].PeriodEnd)
}

func TestEngine_TrendRespectsRange(t *testing.T) {
	f := newFixture(t)
	f.ingest(t,
		doc(models.SourceArxiv, "2025-01-02", "a", "test time compute"),
		doc(models.SourceArxiv, "2025-02-02", "b", "test time compute"),
	)
	res, err := f.engine.Trend(context.Background(), &models.TrendQuery{
		Text:         "test time compute",
		SearchFilter: models.SearchFilter{From: "2025-02-01"},
		Granularity:  models.GranularityDay,
	})
	require.NoError(t, err)
	require.Len(t, res.Buckets, 1)
	assert.Equal(t, models.Day("2025-02-02"), res.Buckets[0].PeriodStart)
}

package indexer

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/chikuseki/internal/config"
	"github.com/hyperjump/chikuseki/internal/embedding"
	"github.com/hyperjump/chikuseki/internal/keyword"
	"github.com/hyperjump/chikuseki/internal/models"
	"github.com/hyperjump/chikuseki/internal/storage"
	"github.com/hyperjump/chikuseki/internal/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDims = 32

type harness struct {
	store    *storage.SQLiteStorage
	vectors  *vector.MemoryIndex
	keywords *keyword.BleveIndex
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "db.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	vecIndex, err := vector.NewMemoryIndex(testDims)
	require.NoError(t, err)
	kwIndex, err := keyword.NewBleveIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kwIndex.Close() })
	return &harness{store: store, vectors: vecIndex, keywords: kwIndex}
}

func (h *harness) accumulator(e embedding.Embedder, idx vector.VectorIndex, opts ...Option) *Accumulator {
	if idx == nil {
		idx = h.vectors
	}
	chunking := &config.ChunkingConfig{MaxChars: 40, OverlapChars: 10}
	opts = append([]Option{WithKeywordIndex(h.keywords)}, opts...)
	return NewAccumulator(h.store, h.store, e, idx, chunking, opts...)
}

func doc(src models.Source, day models.Day, id, text string) *models.Document {
	return &models.Document{Source: src, Date: day, ExternalID: id, RawText: text}
}

// poisonEmbedder fails every text containing POISON with a provider error.
type poisonEmbedder struct {
	*embedding.MockEmbedder
	calls int32
}

func (p *poisonEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	atomic.AddInt32(&p.calls, 1)
	if strings.Contains(text, "POISON") {
		return nil, &embedding.EmbeddingError{Kind: embedding.ErrProvider, Err: errors.New("upstream 500")}
	}
	return p.MockEmbedder.Embed(ctx, text)
}

func TestIngest_IdempotentRerun(t *testing.T) {
	h := newHarness(t)
	emb := embedding.NewMockEmbedder(testDims, 0)
	acc := h.accumulator(emb, nil)
	ctx := context.Background()
	docs := []*models.Document{
		doc(models.SourceArxiv, "2025-01-06", "2501.00001", "Speculative decoding makes large language model inference faster."),
		doc(models.SourceHNReddit, "2025-01-06", "hn-1", "Show HN: a tiny vector database written in Go"),
	}

	report, err := acc.Ingest(ctx, docs)
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 2, report.Succeeded)
	size := h.vectors.Size()
	assert.Greater(t, size, 2)
	assert.Equal(t, report.Chunks, size)

	stored, err := h.store.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(size), stored)
	kwCount, err := h.keywords.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(size), kwCount)

	query, err := emb.Embed(ctx, "language model inference")
	require.NoError(t, err)
	before, err := h.vectors.Search(ctx, query, 100, models.SearchFilter{})
	require.NoError(t, err)
	require.Len(t, before, size)

	again, err := acc.Ingest(ctx, docs)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Succeeded)
	assert.Equal(t, 2, again.Skipped)
	assert.Equal(t, size, h.vectors.Size(), "re-run must not add vectors")
	assert.NotEqual(t, report.RunID, again.RunID)

	after, err := h.vectors.Search(ctx, query, 100, models.SearchFilter{})
	require.NoError(t, err)
	assert.Equal(t, before, after, "re-run must leave results and scores unchanged")
}

func TestIngest_FailedDocumentDoesNotAffectNeighbours(t *testing.T) {
	h := newHarness(t)
	acc := h.accumulator(&poisonEmbedder{MockEmbedder: embedding.NewMockEmbedder(testDims, 0)}, nil)
	ctx := context.Background()
	docs := []*models.Document{
		doc(models.SourceArxiv, "2025-01-06", "a", "mixture of experts routing"),
		doc(models.SourceArxiv, "2025-01-06", "b", "POISON POISON POISON"),
		doc(models.SourceArxiv, "2025-01-06", "c", "mixture of experts scaling"),
	}

	report, err := acc.Ingest(ctx, docs)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, models.OutcomeFailed, report.Outcomes[1].Result)

	query, err := embedding.NewMockEmbedder(testDims, 0).Embed(ctx, "mixture of experts")
	require.NoError(t, err)
	hits, err := h.vectors.Search(ctx, query, 100, models.SearchFilter{})
	require.NoError(t, err)
	var ids []string
	for _, hit := range hits {
		ids = append(ids, hit.ExternalID)
	}
	assert.ElementsMatch(t, []string{"a", "c"}, ids)

	rec, err := h.store.Get(ctx, docs[1].Key())
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, rec.Status)
	for _, d := range []*models.Document{docs[0], docs[2]} {
		rec, err := h.store.Get(ctx, d.Key())
		require.NoError(t, err)
		assert.Equal(t, models.StatusDone, rec.Status)
	}
}

func TestIngest_DuplicatesAndInvalid(t *testing.T) {
	h := newHarness(t)
	acc := h.accumulator(embedding.NewMockEmbedder(testDims, 0), nil)
	docs := []*models.Document{
		doc(models.SourceArxiv, "2025-01-06", "a", "first copy"),
		doc(models.SourceArxiv, "2025-01-06", "a", "second copy"),
		doc("blog", "2025-01-06", "b", "unknown source"),
		doc(models.SourceArxiv, "2025-01-06", "", "missing id"),
	}
	report, err := acc.Ingest(context.Background(), docs)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 4)
	assert.Equal(t, models.OutcomeSucceeded, report.Outcomes[0].Result)
	assert.Equal(t, models.OutcomeSkipped, report.Outcomes[1].Result)
	assert.Equal(t, models.OutcomeFailed, report.Outcomes[2].Result)
	assert.Equal(t, models.OutcomeFailed, report.Outcomes[3].Result)

	counts, err := h.store.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.StatusDone], "invalid documents never reach the ledger")
	assert.Equal(t, 0, counts[models.StatusFailed])
}

func TestIngest_PartialFailureKeepsGoodChunks(t *testing.T) {
	h := newHarness(t)
	e := &poisonEmbedder{MockEmbedder: embedding.NewMockEmbedder(testDims, 0)}
	acc := h.accumulator(e, nil)
	ctx := context.Background()
	text := "clean words at the start of this document " + strings.Repeat("x", 60) + " POISON"
	d := doc(models.SourceReport, "2025-01-07", "report-1", text)

	report, err := acc.Ingest(ctx, []*models.Document{d})
	require.NoError(t, err, "embedding failures are per document, not fatal")
	require.Len(t, report.Outcomes, 1)
	out := report.Outcomes[0]
	assert.Equal(t, models.OutcomeFailed, out.Result)
	assert.Greater(t, out.FailedChunks, 0)
	assert.Less(t, out.FailedChunks, out.Chunks)
	assert.Equal(t, out.Chunks-out.FailedChunks, h.vectors.Size())

	rec, err := h.store.Get(ctx, d.Key())
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, rec.Status)
	assert.Contains(t, rec.LastError, "failed to embed")

	// failed documents are skipped until explicitly retried
	again, err := acc.Ingest(ctx, []*models.Document{d})
	require.NoError(t, err)
	assert.Equal(t, 1, again.Skipped)

	require.NoError(t, h.store.Retry(ctx, d.Key()))
	fixed := doc(models.SourceReport, "2025-01-07", "report-1", strings.ReplaceAll(text, "POISON", "fine"))
	retried, err := acc.Ingest(ctx, []*models.Document{fixed})
	require.NoError(t, err)
	assert.Equal(t, 1, retried.Succeeded)
	rec, err = h.store.Get(ctx, d.Key())
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, rec.Status)
	assert.Equal(t, 2, rec.Attempts)
	assert.Equal(t, retried.Outcomes[0].Chunks, h.vectors.Size(), "deterministic ids overwrite the partial upsert")
}

func TestIngest_TruncatesAndRetriesOnce(t *testing.T) {
	h := newHarness(t)
	// 40-char windows hold more than three words, so every first attempt is over budget
	e := &poisonEmbedder{MockEmbedder: embedding.NewMockEmbedder(testDims, 3)}
	acc := h.accumulator(e, nil)
	report, err := acc.Ingest(context.Background(), []*models.Document{
		doc(models.SourceArxiv, "2025-01-06", "long", "one two three four five six seven eight"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, int32(2), atomic.LoadInt32(&e.calls))
}

func TestIngest_EmptyInputIsNotRetried(t *testing.T) {
	h := newHarness(t)
	e := &poisonEmbedder{MockEmbedder: embedding.NewMockEmbedder(testDims, 0)}
	acc := h.accumulator(e, nil)
	report, err := acc.Ingest(context.Background(), []*models.Document{
		doc(models.SourceArxiv, "2025-01-06", "blank", "      "),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&e.calls))
}

func TestIngest_EmptyTextSucceedsWithNoChunks(t *testing.T) {
	h := newHarness(t)
	acc := h.accumulator(embedding.NewMockEmbedder(testDims, 0), nil)
	report, err := acc.Ingest(context.Background(), []*models.Document{doc(models.SourceArxiv, "2025-01-06", "empty", "")})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 0, report.Chunks)
}

// blockingEmbedder blocks until the context is cancelled.
type blockingEmbedder struct {
	*embedding.MockEmbedder
	once    sync.Once
	started chan struct{}
}

func (b *blockingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestIngest_CancellationLeavesPending(t *testing.T) {
	h := newHarness(t)
	e := &blockingEmbedder{MockEmbedder: embedding.NewMockEmbedder(testDims, 0), started: make(chan struct{})}
	acc := h.accumulator(e, nil, WithConcurrency(1))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-e.started
		cancel()
	}()
	docs := []*models.Document{
		doc(models.SourceArxiv, "2025-01-06", "a", "some text"),
		doc(models.SourceArxiv, "2025-01-06", "b", "more text"),
	}
	report, err := acc.Ingest(ctx, docs)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, report.Pending)
	assert.Equal(t, 0, h.vectors.Size())

	rec, err := h.store.Get(context.Background(), docs[0].Key())
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, rec.Status)
}

func TestIngest_ThrottledPastDeadlineLeavesPending(t *testing.T) {
	h := newHarness(t)
	e := embedding.NewRateLimitedEmbedder(embedding.NewMockEmbedder(testDims, 0), 1, 1)
	acc := h.accumulator(e, nil, WithConcurrency(1))
	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	docs := []*models.Document{
		doc(models.SourceArxiv, "2025-01-06", "a", "first short text"),
		doc(models.SourceArxiv, "2025-01-06", "b", "second short text"),
		doc(models.SourceArxiv, "2025-01-06", "c", "third short text"),
	}

	report, err := acc.Ingest(ctx, docs)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Len(t, report.Outcomes, 3)
	assert.Equal(t, models.OutcomeSucceeded, report.Outcomes[0].Result)
	assert.Equal(t, models.OutcomeSucceeded, report.Outcomes[1].Result)
	assert.Equal(t, models.OutcomePending, report.Outcomes[2].Result)
	assert.Equal(t, 0, report.Failed)

	rec, err := h.store.Get(context.Background(), docs[2].Key())
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, rec.Status, "a throttled document stays eligible for the next run")
}

type failingIndex struct {
	*vector.MemoryIndex
}

func (f *failingIndex) Upsert(ctx context.Context, entries []*vector.Entry) error {
	return &vector.IndexWriteError{Op: "upsert", Err: errors.New("disk full")}
}

func TestIngest_IndexWriteErrorIsFatal(t *testing.T) {
	h := newHarness(t)
	acc := h.accumulator(embedding.NewMockEmbedder(testDims, 0), &failingIndex{MemoryIndex: h.vectors})
	d := doc(models.SourceArxiv, "2025-01-06", "a", "text that cannot be stored")

	report, err := acc.Ingest(context.Background(), []*models.Document{d})
	var werr *vector.IndexWriteError
	require.ErrorAs(t, err, &werr)
	require.NotNil(t, report)
	assert.Equal(t, 0, report.Succeeded)

	rec, err := h.store.Get(context.Background(), d.Key())
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, rec.Status, "never marked done before the index write")
}

func TestIngest_PerSourcePolicyAndProgress(t *testing.T) {
	h := newHarness(t)
	var calls []int
	acc := NewAccumulator(h.store, h.store, embedding.NewMockEmbedder(testDims, 0), h.vectors,
		&config.ChunkingConfig{
			MaxChars: 100, OverlapChars: 10,
			Sources: map[string]config.ChunkOverride{"arxiv": {MaxChars: 20, OverlapChars: 5}},
		},
		WithProgress(func(done, total int) {
			assert.Equal(t, 2, total)
			calls = append(calls, done)
		}),
	)
	text := strings.Repeat("abcde ", 10) // 60 characters
	report, err := acc.Ingest(context.Background(), []*models.Document{
		doc(models.SourceArxiv, "2025-01-06", "a", text),
		doc(models.SourceReport, "2025-01-06", "r", text),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, report.Outcomes[0].Chunks, "arxiv uses 20/5 windows")
	assert.Equal(t, 1, report.Outcomes[1].Chunks, "report uses the 100 char default")
	assert.Equal(t, []int{0, 1, 2}, calls)
}

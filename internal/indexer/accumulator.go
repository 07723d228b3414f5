// Package indexer chunks documents and accumulates them into the ledger, vector index,
// chunk store and keyword index.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/chikuseki/internal/config"
	"github.com/hyperjump/chikuseki/internal/embedding"
	"github.com/hyperjump/chikuseki/internal/keyword"
	"github.com/hyperjump/chikuseki/internal/models"
	"github.com/hyperjump/chikuseki/internal/storage"
	"github.com/hyperjump/chikuseki/internal/vector"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of documents ingested in parallel when none is configured.
const DefaultConcurrency = 4

// Accumulator ingests batches of documents idempotently.
type Accumulator struct {
	ledger       storage.Ledger
	chunks       storage.ChunkStore
	embedder     embedding.Embedder
	vectorIndex  vector.VectorIndex
	keywordIndex keyword.KeywordIndex // optional
	chunking     *config.ChunkingConfig
	concurrency  int
	logger       *zap.Logger
	progress     func(done, total int)
}

// Option configures an Accumulator.
type Option func(*Accumulator)

// WithLogger sets a logger for per-document events.
func WithLogger(l *zap.Logger) Option {
	return func(a *Accumulator) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithProgress registers a callback invoked after each document is settled. Calls are serialized.
func WithProgress(fn func(done, total int)) Option {
	return func(a *Accumulator) { a.progress = fn }
}

// WithKeywordIndex also writes chunks to a keyword index for hybrid retrieval.
func WithKeywordIndex(k keyword.KeywordIndex) Option {
	return func(a *Accumulator) { a.keywordIndex = k }
}

// WithConcurrency bounds the number of documents processed at once.
func WithConcurrency(n int) Option {
	return func(a *Accumulator) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// NewAccumulator creates an accumulator. chunking may be nil to use the default window policy.
func NewAccumulator(
	ledger storage.Ledger,
	chunks storage.ChunkStore,
	embedder embedding.Embedder,
	vectorIndex vector.VectorIndex,
	chunking *config.ChunkingConfig,
	opts ...Option,
) *Accumulator {
	a := &Accumulator{
		ledger:      ledger,
		chunks:      chunks,
		embedder:    embedder,
		vectorIndex: vectorIndex,
		chunking:    chunking,
		concurrency: DefaultConcurrency,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Ingest processes docs and returns a report with one outcome per input document, in input order.
//
// Documents already done, or failed and awaiting an explicit retry, are skipped. A document is
// marked done only after its chunks are written to every index. Index write and ledger errors
// abort the call; cancellation leaves unfinished documents pending. In both cases the partial
// report is returned with the error.
func (a *Accumulator) Ingest(ctx context.Context, docs []*models.Document) (*models.IngestionReport, error) {
	start := time.Now()
	report := &models.IngestionReport{RunID: uuid.NewString(), Outcomes: []*models.DocumentOutcome{}}
	log := a.logger.With(zap.String("run_id", report.RunID))
	policies := newPolicyTable(a.chunking)

	outcomes := make([]*models.DocumentOutcome, len(docs))
	seen := make(map[models.LedgerKey]bool, len(docs))
	var work []int
	for i, doc := range docs {
		if doc == nil {
			outcomes[i] = &models.DocumentOutcome{Result: models.OutcomeFailed, Reason: "nil document"}
			continue
		}
		key := doc.Key()
		if err := doc.Validate(); err != nil {
			outcomes[i] = &models.DocumentOutcome{Key: key, Result: models.OutcomeFailed, Reason: err.Error()}
			continue
		}
		if seen[key] {
			outcomes[i] = &models.DocumentOutcome{Key: key, Result: models.OutcomeSkipped, Reason: "duplicate in batch"}
			continue
		}
		seen[key] = true
		work = append(work, i)
	}

	var mu sync.Mutex
	settled := len(docs) - len(work)
	a.reportProgress(&mu, &settled, 0, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for _, i := range work {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			o, err := a.ingestOne(gctx, docs[i], policies, log)
			outcomes[i] = o
			a.reportProgress(&mu, &settled, 1, len(docs))
			return err
		})
	}
	err := g.Wait()
	if ctx.Err() != nil {
		err = ctx.Err()
	}

	for i, o := range outcomes {
		if o == nil {
			// never started because the call was aborted or cancelled
			o = &models.DocumentOutcome{Key: docs[i].Key(), Result: models.OutcomePending, Reason: "not started"}
		}
		report.Add(o)
	}
	report.Duration = time.Since(start).Milliseconds()

	fields := []zap.Field{
		zap.Int("documents", len(docs)),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Int("pending", report.Pending),
		zap.Int("chunks", report.Chunks),
		zap.Int64("duration_ms", report.Duration),
	}
	if err != nil {
		log.Warn("ingest aborted", append(fields, zap.Error(err))...)
		return report, err
	}
	log.Info("ingest finished", fields...)
	return report, nil
}

func (a *Accumulator) reportProgress(mu *sync.Mutex, settled *int, delta, total int) {
	if a.progress == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	*settled += delta
	a.progress(*settled, total)
}

// ingestOne returns the document's outcome and a non-nil error only when the whole call must stop.
func (a *Accumulator) ingestOne(ctx context.Context, doc *models.Document, policies policyTable, log *zap.Logger) (*models.DocumentOutcome, error) {
	key := doc.Key()
	out := &models.DocumentOutcome{Key: key}
	log = log.With(zap.Stringer("key", key))

	// stop maps any failure to the right outcome: cancellation leaves the document pending.
	stop := func(err error) (*models.DocumentOutcome, error) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			out.Result = models.OutcomePending
			out.Reason = "cancelled"
			return out, ctxErr
		}
		if cancelled(ctx, err) {
			out.Result = models.OutcomePending
			out.Reason = "cancelled: " + err.Error()
			return out, err
		}
		out.Result = models.OutcomePending
		out.Reason = err.Error()
		return out, err
	}

	rec, err := a.ledger.Get(ctx, key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return stop(err)
	case rec.Status == models.StatusDone:
		out.Result = models.OutcomeSkipped
		out.Reason = "already ingested"
		return out, nil
	case rec.Status == models.StatusFailed:
		out.Result = models.OutcomeSkipped
		out.Reason = "failed previously; retry required"
		return out, nil
	}
	if err := ctx.Err(); err != nil {
		return stop(err)
	}

	if err := a.ledger.MarkPending(ctx, key); err != nil {
		return stop(err)
	}

	chunks := policies.chunker(doc.Source).Chunk(doc)
	out.Chunks = len(chunks)

	var (
		stored   []*models.Chunk
		entries  []*vector.Entry
		firstErr error
	)
	for _, c := range chunks {
		vec, err := a.embed(ctx, c.Text)
		if err != nil {
			if cancelled(ctx, err) {
				return stop(err)
			}
			out.FailedChunks++
			if firstErr == nil {
				firstErr = err
			}
			log.Debug("chunk embedding failed", zap.Int("index", c.Index), zap.Error(err))
			continue
		}
		stored = append(stored, c)
		entries = append(entries, &vector.Entry{
			ChunkID:     c.ChunkID,
			Vector:      vec,
			Source:      c.Source,
			Date:        c.Date,
			ExternalID:  c.ExternalID,
			DocumentRef: c.DocumentRef,
		})
	}

	if len(entries) > 0 {
		if err := a.writeIndexes(ctx, stored, entries); err != nil {
			return stop(err)
		}
	}
	if err := ctx.Err(); err != nil {
		return stop(err)
	}

	if out.FailedChunks == 0 {
		if err := a.ledger.MarkDone(ctx, key, len(chunks)); err != nil {
			return stop(err)
		}
		out.Result = models.OutcomeSucceeded
		log.Debug("document ingested", zap.Int("chunks", len(chunks)))
		return out, nil
	}

	reason := fmt.Sprintf("%d of %d chunks failed to embed: %v", out.FailedChunks, len(chunks), firstErr)
	if err := a.ledger.MarkFailed(ctx, key, reason); err != nil {
		return stop(err)
	}
	out.Result = models.OutcomeFailed
	out.Reason = reason
	log.Info("document failed", zap.String("reason", reason))
	return out, nil
}

// embed embeds text, truncating to the provider budget and retrying once on a retryable failure.
func (a *Accumulator) embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := a.embedder.Embed(ctx, text)
	if err == nil {
		return vec, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if cancelled(ctx, err) {
		return nil, err
	}
	var embErr *embedding.EmbeddingError
	if !errors.As(err, &embErr) {
		embErr = &embedding.EmbeddingError{Kind: embedding.ErrProvider, Err: err}
	}
	if !embErr.Retryable() {
		return nil, embErr
	}
	vec, err = a.embedder.Embed(ctx, embedding.Truncate(text, a.embedder.MaxTokens()))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return vec, nil
}

// cancelled reports whether err means the call was cancelled or ran out of time. This includes
// waits that give up early because they could not finish before the deadline, while ctx.Err()
// is still nil.
func cancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// writeIndexes writes successful chunks to the vector index, chunk store and keyword index.
// Every failure is reported as an *vector.IndexWriteError.
func (a *Accumulator) writeIndexes(ctx context.Context, chunks []*models.Chunk, entries []*vector.Entry) error {
	if err := a.vectorIndex.Upsert(ctx, entries); err != nil {
		var werr *vector.IndexWriteError
		if errors.As(err, &werr) {
			return err
		}
		return &vector.IndexWriteError{Op: "upsert", Err: err}
	}
	if err := a.chunks.PutChunks(ctx, chunks); err != nil {
		return &vector.IndexWriteError{Op: "store chunks", ChunkID: chunks[0].ChunkID, Err: err}
	}
	if a.keywordIndex != nil {
		if err := a.keywordIndex.Index(ctx, chunks); err != nil {
			return &vector.IndexWriteError{Op: "keyword index", Err: err}
		}
	}
	return nil
}

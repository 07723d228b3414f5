// Package app wires the storage, indexes, embedder and engines into one component graph
// shared by the HTTP server and the CLI.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/chikuseki/internal/config"
	"github.com/hyperjump/chikuseki/internal/coordination"
	"github.com/hyperjump/chikuseki/internal/embedding"
	"github.com/hyperjump/chikuseki/internal/feed"
	"github.com/hyperjump/chikuseki/internal/indexer"
	"github.com/hyperjump/chikuseki/internal/keyword"
	"github.com/hyperjump/chikuseki/internal/models"
	"github.com/hyperjump/chikuseki/internal/search"
	"github.com/hyperjump/chikuseki/internal/storage"
	"github.com/hyperjump/chikuseki/internal/vector"
	"github.com/hyperjump/chikuseki/pkg/utils"
	"go.uber.org/zap"
)

// App holds initialized services.
type App struct {
	Config       *config.Config
	Store        *storage.SQLiteStorage
	Embedder     embedding.Embedder
	VectorIndex  vector.VectorIndex
	KeywordIndex keyword.KeywordIndex // nil when storage.bleve_index_path is empty
	Engine       *search.Engine
	Coordination *coordination.Store
	Loader       *feed.Loader
	Logger       *zap.Logger

	now func() time.Time
}

// New opens every component described by cfg. logger may be nil.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	logger = utils.OrNop(logger)
	a := &App{Config: cfg, Logger: logger, now: time.Now}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.Store = store

	a.Embedder, err = embedding.New(&cfg.Embedding, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	a.VectorIndex, err = vector.NewVectorIndex(cfg.Storage.VectorIndexType, cfg.Storage.VectorIndexPath, cfg.Embedding.Dimensions)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	logger.Info("vector index initialized",
		zap.String("type", a.VectorIndex.Type()),
		zap.Int("size", a.VectorIndex.Size()),
		zap.Int("partitions", len(a.VectorIndex.Partitions())),
	)

	engineOpts := []search.Option{search.WithLogger(logger)}
	if cfg.Storage.BleveIndexPath != "" {
		kw, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
		}
		a.KeywordIndex = kw
		engineOpts = append(engineOpts, search.WithKeywordIndex(kw))
	}

	a.Engine = search.NewEngine(a.Embedder, a.VectorIndex, store, &cfg.Retrieval, engineOpts...)
	a.Coordination = coordination.NewStore(store)
	a.Loader = feed.NewLoader(logger)
	return a, nil
}

// Accumulator returns an accumulator over the app's stores. opts are applied after the defaults.
func (a *App) Accumulator(opts ...indexer.Option) *indexer.Accumulator {
	base := []indexer.Option{
		indexer.WithLogger(a.Logger),
		indexer.WithConcurrency(a.Config.Ingest.Concurrency),
	}
	if a.KeywordIndex != nil {
		base = append(base, indexer.WithKeywordIndex(a.KeywordIndex))
	}
	return indexer.NewAccumulator(a.Store, a.Store, a.Embedder, a.VectorIndex, &a.Config.Chunking, append(base, opts...)...)
}

// Ingest runs one accumulation pass over docs. Documents from a source in backoff are reported
// skipped without touching the ledger. The run date is recorded whenever the pass starts, the
// success date only when it finishes without failures.
func (a *App) Ingest(ctx context.Context, docs []*models.Document, opts ...indexer.Option) (*models.IngestionReport, error) {
	now := a.now()
	today := models.DayOf(now)
	if err := a.Coordination.SetLastRunDate(ctx, today); err != nil {
		return nil, err
	}

	backoff := make(map[models.Source]bool)
	for _, src := range models.Sources {
		in, err := a.Coordination.InBackoff(ctx, src, now)
		if err != nil {
			return nil, err
		}
		backoff[src] = in
	}
	var accepted []*models.Document
	held := make(map[int]*models.DocumentOutcome)
	for i, d := range docs {
		if d != nil && backoff[d.Source] {
			held[i] = &models.DocumentOutcome{Key: d.Key(), Result: models.OutcomeSkipped, Reason: "source in backoff"}
			continue
		}
		accepted = append(accepted, d)
	}
	if len(held) > 0 {
		a.Logger.Info("skipping documents from sources in backoff", zap.Int("documents", len(held)))
	}

	report, err := a.Accumulator(opts...).Ingest(ctx, accepted)
	if report != nil && len(held) > 0 {
		report = mergeHeld(report, held, len(docs))
	}
	if err != nil {
		return report, err
	}
	if report.Failed == 0 && report.Pending == 0 {
		if err := a.Coordination.SetLastSuccessDate(ctx, today); err != nil {
			return report, err
		}
	}
	return report, nil
}

// mergeHeld puts the outcomes of held documents back at their input positions. The
// accumulator's outcomes follow the order of the documents it was given.
func mergeHeld(report *models.IngestionReport, held map[int]*models.DocumentOutcome, total int) *models.IngestionReport {
	merged := &models.IngestionReport{RunID: report.RunID, Duration: report.Duration, Outcomes: make([]*models.DocumentOutcome, 0, total)}
	next := 0
	for i := 0; i < total; i++ {
		if o, ok := held[i]; ok {
			merged.Add(o)
			continue
		}
		if next < len(report.Outcomes) {
			merged.Add(report.Outcomes[next])
			next++
		}
	}
	return merged
}

// IngestFiles loads each feed file or directory and ingests the documents in one pass.
func (a *App) IngestFiles(ctx context.Context, paths []string, opts ...indexer.Option) (*models.IngestionReport, error) {
	docs, err := a.LoadPaths(ctx, paths)
	if err != nil {
		return nil, err
	}
	return a.Ingest(ctx, docs, opts...)
}

// Close releases every component that was opened.
func (a *App) Close() {
	if a.KeywordIndex != nil {
		_ = a.KeywordIndex.Close()
	}
	if a.VectorIndex != nil {
		_ = a.VectorIndex.Close()
	}
	if a.Embedder != nil {
		_ = a.Embedder.Close()
	}
	if a.Store != nil {
		_ = a.Store.Close()
	}
}

package cli

import (
	"context"
	"time"

	"github.com/hyperjump/chikuseki/internal/app"
	"github.com/hyperjump/chikuseki/internal/coordination"
	"github.com/hyperjump/chikuseki/internal/models"
	"github.com/hyperjump/chikuseki/internal/search"
)

// backend is what the query and maintenance commands run against: the stores opened directly,
// or a running server when --server is set (its process holds the index file locks).
type backend interface {
	Digest(ctx context.Context, q *models.DigestQuery) (*models.DigestResult, error)
	Trend(ctx context.Context, q *models.TrendQuery) (*models.TrendResult, error)
	Ledger(ctx context.Context, filter models.LedgerFilter) ([]*models.LedgerRecord, error)
	Retry(ctx context.Context, key models.LedgerKey) (*models.LedgerRecord, error)
	Reap(ctx context.Context, olderThan time.Duration) (int, error)
	Coordination(ctx context.Context) (*coordination.Snapshot, error)
	SetBackoff(ctx context.Context, source models.Source, until time.Time) error
	ClearBackoff(ctx context.Context, source models.Source) error
	SetMarker(ctx context.Context, marker string, day models.Day) error
	Status(ctx context.Context) (*app.Status, error)
	Close()
}

type localBackend struct {
	app *app.App
}

func (b *localBackend) Digest(ctx context.Context, q *models.DigestQuery) (*models.DigestResult, error) {
	if err := search.ProcessDigest(q, &b.app.Config.Retrieval); err != nil {
		return nil, err
	}
	return b.app.Engine.Digest(ctx, q)
}

func (b *localBackend) Trend(ctx context.Context, q *models.TrendQuery) (*models.TrendResult, error) {
	if err := search.ProcessTrend(q, &b.app.Config.Retrieval); err != nil {
		return nil, err
	}
	return b.app.Engine.Trend(ctx, q)
}

func (b *localBackend) Ledger(ctx context.Context, filter models.LedgerFilter) ([]*models.LedgerRecord, error) {
	return b.app.Store.List(ctx, filter)
}

func (b *localBackend) Retry(ctx context.Context, key models.LedgerKey) (*models.LedgerRecord, error) {
	if err := b.app.Store.Retry(ctx, key); err != nil {
		return nil, err
	}
	return b.app.Store.Get(ctx, key)
}

func (b *localBackend) Reap(ctx context.Context, olderThan time.Duration) (int, error) {
	return b.app.Store.ReapStalePending(ctx, olderThan)
}

func (b *localBackend) Coordination(ctx context.Context) (*coordination.Snapshot, error) {
	return b.app.Coordination.Snapshot(ctx)
}

func (b *localBackend) SetBackoff(ctx context.Context, source models.Source, until time.Time) error {
	return b.app.Coordination.SetBackoffUntil(ctx, source, until)
}

func (b *localBackend) ClearBackoff(ctx context.Context, source models.Source) error {
	return b.app.Coordination.ClearBackoff(ctx, source)
}

func (b *localBackend) SetMarker(ctx context.Context, marker string, day models.Day) error {
	c := b.app.Coordination
	switch marker {
	case markerLastRun:
		return c.SetLastRunDate(ctx, day)
	case markerLastSuccess:
		return c.SetLastSuccessDate(ctx, day)
	case markerLastTrendReport:
		return c.SetLastTrendReportDate(ctx, day)
	}
	return errUnknownMarker(marker)
}

func (b *localBackend) Status(ctx context.Context) (*app.Status, error) {
	return b.app.Status(ctx)
}

func (b *localBackend) Close() {
	b.app.Close()
}

package cli

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/chikuseki/internal/app"
	"github.com/hyperjump/chikuseki/internal/config"
	"github.com/hyperjump/chikuseki/internal/models"
	"github.com/hyperjump/chikuseki/internal/server"
	"github.com/hyperjump/chikuseki/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sharedText = "speculative decoding for llm inference"

func newTestApp(t *testing.T) *app.App {
	t.Helper()
	dir := t.TempDir()
	c := &config.Config{
		Storage: config.StorageConfig{
			DatabasePath:    filepath.Join(dir, "ledger.db"),
			VectorIndexType: "memory",
		},
		Embedding: config.EmbeddingConfig{Provider: "hash", Dimensions: 64},
	}
	config.ApplyDefaults(c)
	a, err := app.New(c, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	_, err = a.Ingest(context.Background(), []*models.Document{
		{Source: models.SourceArxiv, Date: "2025-01-06", ExternalID: "p1", RawText: sharedText},
		{Source: models.SourceArxiv, Date: "2025-01-07", ExternalID: "blank", RawText: "   "},
		{Source: models.SourceHNReddit, Date: "2025-01-13", ExternalID: "h1", RawText: sharedText},
	})
	require.NoError(t, err)
	return a
}

// eachBackend runs fn against the stores opened directly and through a server.
func eachBackend(t *testing.T, fn func(t *testing.T, b backend)) {
	t.Run("local", func(t *testing.T) {
		fn(t, &localBackend{app: newTestApp(t)})
	})
	t.Run("http", func(t *testing.T) {
		a := newTestApp(t)
		srv := server.NewServer(a, &a.Config.Server, zap.NewNop(), nil)
		ts := httptest.NewServer(srv.Router())
		t.Cleanup(ts.Close)
		fn(t, newHTTPBackend(ts.URL+"/"))
	})
}

func TestBackend_DigestAndTrend(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()
		digest, err := b.Digest(ctx, &models.DigestQuery{
			Text:         "speculative decoding",
			SearchFilter: models.SearchFilter{From: "2025-01-06", To: "2025-01-06"},
		})
		require.NoError(t, err)
		require.Len(t, digest.Hits, 1)
		assert.Equal(t, "arxiv/p1", digest.Hits[0].DocumentRef)

		minScore := 0.9
		trend, err := b.Trend(ctx, &models.TrendQuery{Text: sharedText, Granularity: models.GranularityWeek, MinScore: &minScore})
		require.NoError(t, err)
		assert.Equal(t, []int{1, 1}, trend.Counts())
		assert.Equal(t, models.Day("2025-01-13"), trend.Buckets[1].PeriodStart)

		_, err = b.Digest(ctx, &models.DigestQuery{Text: "  "})
		assert.Error(t, err)
	})
}

func TestBackend_Ledger(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()
		failed, err := b.Ledger(ctx, models.LedgerFilter{Statuses: []models.LedgerStatus{models.StatusFailed}})
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, "blank", failed[0].ExternalID)

		all, err := b.Ledger(ctx, models.LedgerFilter{Since: "2025-01-07", Limit: 10})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		rec, err := b.Retry(ctx, failed[0].LedgerKey)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, rec.Status)

		_, err = b.Retry(ctx, failed[0].LedgerKey)
		assert.ErrorIs(t, err, storage.ErrInvalidTransition)
		_, err = b.Retry(ctx, models.LedgerKey{Source: models.SourceReport, Date: "2025-01-01", ExternalID: "missing"})
		assert.ErrorIs(t, err, storage.ErrNotFound)

		n, err := b.Reap(ctx, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})
}

func TestBackend_CoordinationAndStatus(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()
		require.NoError(t, b.SetBackoff(ctx, models.SourceArxiv, time.Now().Add(time.Hour)))
		require.NoError(t, b.SetMarker(ctx, markerLastTrendReport, "2025-01-10"))

		snap, err := b.Coordination(ctx)
		require.NoError(t, err)
		assert.Contains(t, snap.BackoffUntil, models.SourceArxiv)
		assert.Equal(t, models.Day("2025-01-10"), snap.LastTrendReportDate)
		assert.NotEmpty(t, snap.LastRunDate)

		require.NoError(t, b.ClearBackoff(ctx, models.SourceArxiv))
		snap, err = b.Coordination(ctx)
		require.NoError(t, err)
		assert.NotContains(t, snap.BackoffUntil, models.SourceArxiv)

		st, err := b.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, st.Ledger[models.StatusDone])
		assert.Equal(t, 1, st.Ledger[models.StatusFailed])
		assert.Equal(t, 1, st.Unsettled)
		assert.Equal(t, 2, st.VectorIndexSize)
		assert.Equal(t, models.Day("2025-01-06"), st.FirstDay)
		assert.Equal(t, models.Day("2025-01-13"), st.LastDay)
	})
}

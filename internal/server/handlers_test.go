package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/hyperjump/chikuseki/internal/app"
	"github.com/hyperjump/chikuseki/internal/config"
	"github.com/hyperjump/chikuseki/internal/coordination"
	"github.com/hyperjump/chikuseki/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticDirs []string

func (d staticDirs) Directories() []string { return d }

func newTestServer(t *testing.T, watch DirectoryLister) (*Server, http.Handler) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Storage: config.StorageConfig{
			DatabasePath:    filepath.Join(dir, "ledger.db"),
			VectorIndexType: "memory",
		},
		Embedding: config.EmbeddingConfig{Provider: "hash", Dimensions: 64},
	}
	config.ApplyDefaults(cfg)
	a, err := app.New(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	srv := NewServer(a, &cfg.Server, zap.NewNop(), watch)
	return srv, srv.Router()
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	_, h := newTestServer(t, nil)
	w := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIngestDigestTrend(t *testing.T) {
	_, h := newTestServer(t, nil)
	docs := ingestRequest{Documents: []*models.Document{
		{Source: models.SourceArxiv, Date: "2025-01-06", ExternalID: "p1", RawText: "speculative decoding for llm inference"},
		{Source: models.SourceHNReddit, Date: "2025-01-13", ExternalID: "h1", RawText: "speculative decoding for llm inference"},
		{Source: models.SourceReport, Date: "2025-01-13", ExternalID: "r1", RawText: "gardening tips"},
	}}
	w := do(t, h, http.MethodPost, "/api/v1/ingest", docs)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report models.IngestionReport
	decode(t, w, &report)
	assert.Equal(t, 3, report.Succeeded)
	assert.NotEmpty(t, report.RunID)

	w = do(t, h, http.MethodPost, "/api/v1/digest", models.DigestQuery{
		Text:         "speculative decoding",
		SearchFilter: models.SearchFilter{From: "2025-01-13", To: "2025-01-13"},
		K:            1,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var digest models.DigestResult
	decode(t, w, &digest)
	require.Len(t, digest.Hits, 1)
	assert.Equal(t, "h1", digest.Hits[0].ExternalID)

	w = do(t, h, http.MethodGet, "/api/v1/chunks?ref="+digest.Hits[0].DocumentRef, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var doc struct {
		Chunks []*models.Chunk `json:"chunks"`
	}
	decode(t, w, &doc)
	require.Len(t, doc.Chunks, 1)
	assert.Equal(t, digest.Hits[0].ChunkID, doc.Chunks[0].ChunkID)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/v1/chunks?ref=arxiv/none", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/v1/chunks", nil).Code)

	w = do(t, h, http.MethodPost, "/api/v1/trend", models.TrendQuery{Text: "speculative decoding for llm inference"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var trend models.TrendResult
	decode(t, w, &trend)
	assert.Equal(t, []int{1, 1}, trend.Counts())
}

func TestBadRequests(t *testing.T) {
	_, h := newTestServer(t, nil)
	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
	}{
		{"empty ingest", http.MethodPost, "/api/v1/ingest", ingestRequest{}},
		{"empty digest text", http.MethodPost, "/api/v1/digest", models.DigestQuery{Text: " "}},
		{"inverted range", http.MethodPost, "/api/v1/digest", models.DigestQuery{Text: "x", SearchFilter: models.SearchFilter{From: "2025-02-02", To: "2025-02-01"}}},
		{"bad granularity", http.MethodPost, "/api/v1/trend", models.TrendQuery{Text: "x", Granularity: "year"}},
		{"min score out of range", http.MethodPost, "/api/v1/trend", map[string]interface{}{"text": "x", "min_score": 2}},
		{"bad status", http.MethodGet, "/api/v1/ledger?status=stuck", nil},
		{"bad source", http.MethodPut, "/api/v1/coordination/backoff/twitter", backoffRequest{For: "1h"}},
		{"missing backoff", http.MethodPut, "/api/v1/coordination/backoff/arxiv", backoffRequest{}},
		{"bad day", http.MethodPut, "/api/v1/coordination/last-run", map[string]string{"date": "2025-13-01"}},
		{"bad reap duration", http.MethodPost, "/api/v1/ledger/reap", reapRequest{OlderThan: "-1h"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestLedgerListAndRetry(t *testing.T) {
	_, h := newTestServer(t, nil)
	w := do(t, h, http.MethodPost, "/api/v1/ingest", ingestRequest{Documents: []*models.Document{
		{Source: models.SourceArxiv, Date: "2025-01-06", ExternalID: "ok", RawText: "valid text"},
		{Source: models.SourceArxiv, Date: "2025-01-07", ExternalID: "blank", RawText: "   "},
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, h, http.MethodGet, "/api/v1/ledger?status=failed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Records []*models.LedgerRecord `json:"records"`
		Total   int                    `json:"total"`
	}
	decode(t, w, &list)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "blank", list.Records[0].ExternalID)

	key := list.Records[0].LedgerKey
	w = do(t, h, http.MethodPost, "/api/v1/ledger/retry", key)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var rec models.LedgerRecord
	decode(t, w, &rec)
	assert.Equal(t, models.StatusPending, rec.Status)

	w = do(t, h, http.MethodPost, "/api/v1/ledger/retry", key)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, h, http.MethodPost, "/api/v1/ledger/retry", models.LedgerKey{Source: models.SourceArxiv, Date: "2025-01-01", ExternalID: "nope"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/ledger?since=2025-01-07&source=arxiv", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &list)
	assert.Equal(t, 1, list.Total)

	w = do(t, h, http.MethodPost, "/api/v1/ledger/reap", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var reaped struct {
		Reaped int `json:"reaped"`
	}
	decode(t, w, &reaped)
	assert.Equal(t, 0, reaped.Reaped, "fresh pending records are not stale")
}

func TestCoordination(t *testing.T) {
	_, h := newTestServer(t, nil)

	w := do(t, h, http.MethodPut, "/api/v1/coordination/backoff/hn_reddit", backoffRequest{For: "2h"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = do(t, h, http.MethodPut, "/api/v1/coordination/last-trend-report", map[string]string{"date": "2025-01-05"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = do(t, h, http.MethodPut, "/api/v1/coordination/next-run", map[string]string{"date": "2025-01-05"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/coordination", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap coordination.Snapshot
	decode(t, w, &snap)
	assert.Equal(t, models.Day("2025-01-05"), snap.LastTrendReportDate)
	assert.Contains(t, snap.BackoffUntil, models.SourceHNReddit)

	w = do(t, h, http.MethodPost, "/api/v1/ingest", ingestRequest{Documents: []*models.Document{
		{Source: models.SourceHNReddit, Date: "2025-01-06", ExternalID: "h", RawText: "held back"},
	}})
	require.Equal(t, http.StatusOK, w.Code)
	var report models.IngestionReport
	decode(t, w, &report)
	assert.Equal(t, 1, report.Skipped)

	w = do(t, h, http.MethodDelete, "/api/v1/coordination/backoff/hn_reddit", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, h, http.MethodGet, "/api/v1/coordination", nil)
	snap = coordination.Snapshot{}
	decode(t, w, &snap)
	assert.NotContains(t, snap.BackoffUntil, models.SourceHNReddit)
	assert.NotEmpty(t, snap.LastRunDate)
}

func TestStatusAndFeedDirectories(t *testing.T) {
	_, h := newTestServer(t, nil)
	w := do(t, h, http.MethodGet, "/api/v1/feed/directories", nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	_, h = newTestServer(t, staticDirs{"/srv/research"})
	w = do(t, h, http.MethodGet, "/api/v1/feed/directories", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var dirs struct {
		Directories []string `json:"directories"`
	}
	decode(t, w, &dirs)
	assert.Equal(t, []string{"/srv/research"}, dirs.Directories)

	do(t, h, http.MethodPost, "/api/v1/ingest", ingestRequest{Documents: []*models.Document{
		{Source: models.SourceArxiv, Date: "2025-01-06", ExternalID: "p", RawText: "one chunk"},
	}})
	w = do(t, h, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status app.Status
	decode(t, w, &status)
	assert.Equal(t, 1, status.Ledger[models.StatusDone])
	assert.Equal(t, int64(1), status.Chunks)
	assert.Equal(t, 1, status.VectorIndexSize)
	assert.Equal(t, models.Day("2025-01-06"), status.FirstDay)
	assert.Equal(t, "memory", status.Config.VectorIndexType)
}

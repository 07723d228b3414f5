package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/chikuseki/internal/app"
	"github.com/hyperjump/chikuseki/internal/coordination"
	"github.com/hyperjump/chikuseki/internal/models"
	"github.com/hyperjump/chikuseki/internal/storage"
)

// httpBackend talks to a running chikuseki server.
type httpBackend struct {
	baseURL string
	client  *http.Client
}

func newHTTPBackend(serverURL string) *httpBackend {
	return &httpBackend{
		baseURL: strings.TrimRight(serverURL, "/"),
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

// do sends body as JSON (when non-nil) and decodes the response into out (when non-nil).
// 404 and 409 responses wrap the matching storage errors so callers can test them with errors.Is.
func (b *httpBackend) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(raw))
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		switch resp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", storage.ErrNotFound, msg)
		case http.StatusConflict:
			return fmt.Errorf("%w: %s", storage.ErrInvalidTransition, msg)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Ingest posts documents to the server. A report returned alongside a server error is discarded.
func (b *httpBackend) Ingest(ctx context.Context, docs []*models.Document) (*models.IngestionReport, error) {
	var report models.IngestionReport
	body := map[string]interface{}{"documents": docs}
	if err := b.do(ctx, http.MethodPost, "/api/v1/ingest", body, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (b *httpBackend) Digest(ctx context.Context, q *models.DigestQuery) (*models.DigestResult, error) {
	var res models.DigestResult
	if err := b.do(ctx, http.MethodPost, "/api/v1/digest", q, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (b *httpBackend) Trend(ctx context.Context, q *models.TrendQuery) (*models.TrendResult, error) {
	var res models.TrendResult
	if err := b.do(ctx, http.MethodPost, "/api/v1/trend", q, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (b *httpBackend) Ledger(ctx context.Context, filter models.LedgerFilter) ([]*models.LedgerRecord, error) {
	v := url.Values{}
	if filter.Since != "" {
		v.Set("since", string(filter.Since))
	}
	if filter.Source != "" {
		v.Set("source", string(filter.Source))
	}
	if len(filter.Statuses) > 0 {
		parts := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			parts[i] = string(s)
		}
		v.Set("status", strings.Join(parts, ","))
	}
	if filter.Limit > 0 {
		v.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := "/api/v1/ledger"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	var res struct {
		Records []*models.LedgerRecord `json:"records"`
	}
	if err := b.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return res.Records, nil
}

func (b *httpBackend) Retry(ctx context.Context, key models.LedgerKey) (*models.LedgerRecord, error) {
	var rec models.LedgerRecord
	if err := b.do(ctx, http.MethodPost, "/api/v1/ledger/retry", key, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (b *httpBackend) Reap(ctx context.Context, olderThan time.Duration) (int, error) {
	var res struct {
		Reaped int `json:"reaped"`
	}
	body := map[string]string{"older_than": olderThan.String()}
	if err := b.do(ctx, http.MethodPost, "/api/v1/ledger/reap", body, &res); err != nil {
		return 0, err
	}
	return res.Reaped, nil
}

func (b *httpBackend) Coordination(ctx context.Context) (*coordination.Snapshot, error) {
	var snap coordination.Snapshot
	if err := b.do(ctx, http.MethodGet, "/api/v1/coordination", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (b *httpBackend) SetBackoff(ctx context.Context, source models.Source, until time.Time) error {
	body := map[string]time.Time{"until": until}
	return b.do(ctx, http.MethodPut, "/api/v1/coordination/backoff/"+url.PathEscape(string(source)), body, nil)
}

func (b *httpBackend) ClearBackoff(ctx context.Context, source models.Source) error {
	return b.do(ctx, http.MethodDelete, "/api/v1/coordination/backoff/"+url.PathEscape(string(source)), nil, nil)
}

func (b *httpBackend) SetMarker(ctx context.Context, marker string, day models.Day) error {
	body := map[string]string{"date": string(day)}
	return b.do(ctx, http.MethodPut, "/api/v1/coordination/"+url.PathEscape(marker), body, nil)
}

func (b *httpBackend) Status(ctx context.Context) (*app.Status, error) {
	var st app.Status
	if err := b.do(ctx, http.MethodGet, "/api/v1/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (b *httpBackend) Close() {}

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/chikuseki/internal/models"
	"github.com/hyperjump/chikuseki/internal/search"
	"github.com/hyperjump/chikuseki/internal/storage"
	"go.uber.org/zap"
)

type ingestRequest struct {
	Documents []*models.Document `json:"documents"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Documents) == 0 {
		s.respondError(w, http.StatusBadRequest, "documents are required")
		return
	}
	s.logger.Debug("ingest request", zap.Int("documents", len(req.Documents)))
	report, err := s.app.Ingest(r.Context(), req.Documents)
	if err != nil {
		s.logger.Error("ingest failed", zap.Error(err))
		s.respondJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": err.Error(), "report": report})
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	var q models.DigestQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := search.ProcessDigest(&q, &s.app.Config.Retrieval); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("digest request", zap.String("query", q.Text), zap.Int("k", q.K))
	result, err := s.app.Engine.Digest(r.Context(), &q)
	if err != nil {
		s.logger.Error("digest failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	var q models.TrendQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := search.ProcessTrend(&q, &s.app.Config.Retrieval); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("trend request", zap.String("query", q.Text), zap.String("granularity", string(q.Granularity)))
	result, err := s.app.Engine.Trend(r.Context(), &q)
	if err != nil {
		s.logger.Error("trend failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

// parseLedgerFilter reads since, source, status (comma separated) and limit from the query string.
func parseLedgerFilter(r *http.Request) (models.LedgerFilter, error) {
	var f models.LedgerFilter
	q := r.URL.Query()
	if v := q.Get("since"); v != "" {
		d, err := models.ParseDay(v)
		if err != nil {
			return f, err
		}
		f.Since = d
	}
	if v := q.Get("source"); v != "" {
		src, err := models.ParseSource(v)
		if err != nil {
			return f, err
		}
		f.Source = src
	}
	if v := q.Get("status"); v != "" {
		for _, part := range strings.Split(v, ",") {
			st, err := models.ParseLedgerStatus(strings.TrimSpace(part))
			if err != nil {
				return f, err
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errors.New("limit must be a non-negative integer")
		}
		f.Limit = n
	}
	return f, nil
}

func (s *Server) handleLedgerList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseLedgerFilter(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := s.app.Store.List(r.Context(), filter)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"records": records, "total": len(records)})
}

func (s *Server) handleLedgerRetry(w http.ResponseWriter, r *http.Request) {
	var key models.LedgerKey
	if err := json.NewDecoder(r.Body).Decode(&key); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("ledger retry request", zap.Stringer("key", key))
	if err := s.app.Store.Retry(r.Context(), key); err != nil {
		s.respondStoreError(w, err)
		return
	}
	rec, err := s.app.Store.Get(r.Context(), key)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

type reapRequest struct {
	OlderThan string `json:"older_than,omitempty"`
}

func (s *Server) handleLedgerReap(w http.ResponseWriter, r *http.Request) {
	olderThan := s.app.Config.Ingest.StalePendingAfter
	var req reapRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.OlderThan != "" {
		d, err := time.ParseDuration(req.OlderThan)
		if err != nil || d <= 0 {
			s.respondError(w, http.StatusBadRequest, "older_than must be a positive duration")
			return
		}
		olderThan = d
	}
	n, err := s.app.Store.ReapStalePending(r.Context(), olderThan)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.logger.Info("reaped stale pending records", zap.Int("count", n), zap.Duration("older_than", olderThan))
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"reaped": n, "older_than": olderThan.String()})
}

func (s *Server) handleCoordination(w http.ResponseWriter, r *http.Request) {
	snap, err := s.app.Coordination.Snapshot(r.Context())
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, snap)
}

type backoffRequest struct {
	Until *time.Time `json:"until,omitempty"`
	For   string     `json:"for,omitempty"`
}

func (s *Server) handleSetBackoff(w http.ResponseWriter, r *http.Request) {
	src, err := models.ParseSource(chi.URLParam(r, "source"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req backoffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var until time.Time
	switch {
	case req.Until != nil:
		until = *req.Until
	case req.For != "":
		d, err := time.ParseDuration(req.For)
		if err != nil || d <= 0 {
			s.respondError(w, http.StatusBadRequest, "for must be a positive duration")
			return
		}
		until = time.Now().Add(d)
	default:
		s.respondError(w, http.StatusBadRequest, "until or for is required")
		return
	}
	if err := s.app.Coordination.SetBackoffUntil(r.Context(), src, until); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.logger.Info("source backoff set", zap.String("source", string(src)), zap.Time("until", until))
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"source": src, "backoff_until": until.UTC()})
}

func (s *Server) handleClearBackoff(w http.ResponseWriter, r *http.Request) {
	src, err := models.ParseSource(chi.URLParam(r, "source"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.app.Coordination.ClearBackoff(r.Context(), src); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"source": src, "status": "cleared"})
}

func (s *Server) handleSetMarker(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Date string `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	day, err := models.ParseDay(body.Date)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	marker := chi.URLParam(r, "marker")
	switch marker {
	case "last-run":
		err = s.app.Coordination.SetLastRunDate(ctx, day)
	case "last-success":
		err = s.app.Coordination.SetLastSuccessDate(ctx, day)
	case "last-trend-report":
		err = s.app.Coordination.SetLastTrendReportDate(ctx, day)
	default:
		s.respondError(w, http.StatusNotFound, "unknown coordination marker "+marker)
		return
	}
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"marker": marker, "date": string(day)})
}

// handleDocumentChunks returns every stored chunk of the document named by ?ref=source/external_id,
// in chunk order. It expands a digest hit back into the full document.
func (s *Server) handleDocumentChunks(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimSpace(r.URL.Query().Get("ref"))
	if ref == "" {
		s.respondError(w, http.StatusBadRequest, "ref is required")
		return
	}
	chunks, err := s.app.Store.ChunksByDocument(r.Context(), ref)
	if err != nil {
		s.logger.Error("chunk lookup failed", zap.String("ref", ref), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(chunks) == 0 {
		s.respondError(w, http.StatusNotFound, "no chunks for "+ref)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"document_ref": ref, "chunks": chunks})
}

func (s *Server) handleFeedDirectories(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.app.Status(r.Context())
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status.UptimeSeconds = int64(time.Since(s.started).Seconds())
	s.respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respondStoreError maps ledger and coordination errors to HTTP status codes.
func (s *Server) respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrInvalidTransition):
		s.respondError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("store operation failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

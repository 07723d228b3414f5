// Package coordination keeps the small typed values that let independent pipeline runs
// cooperate: the last run dates and per-source backoff windows.
package coordination

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/chikuseki/internal/models"
	"github.com/hyperjump/chikuseki/internal/storage"
)

// Key names a coordination value. Only the keys declared here can be stored.
type Key string

const (
	KeyLastRunDate         Key = "last_run_date"
	KeyLastSuccessDate     Key = "last_success_date"
	KeyLastTrendReportDate Key = "last_trend_report_date"
	backoffPrefix              = "backoff_until:"
)

// BackoffKey returns the key holding the backoff deadline of source.
func BackoffKey(source models.Source) Key {
	return Key(backoffPrefix + string(source))
}

// Store is a typed view over a storage.KV.
type Store struct {
	kv storage.KV
}

// NewStore returns a Store backed by kv.
func NewStore(kv storage.KV) *Store {
	return &Store{kv: kv}
}

func (s *Store) getDay(ctx context.Context, key Key) (models.Day, bool, error) {
	v, err := s.kv.GetValue(ctx, string(key))
	if errors.Is(err, storage.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}
	d, err := models.ParseDay(v)
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}
	return d, true, nil
}

func (s *Store) setDay(ctx context.Context, key Key, d models.Day) error {
	if !d.Valid() {
		return fmt.Errorf("write %s: invalid day %q", key, d)
	}
	if err := s.kv.SetValue(ctx, string(key), string(d)); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// LastRunDate returns the day of the last ingest run; ok is false when none was recorded.
func (s *Store) LastRunDate(ctx context.Context) (models.Day, bool, error) {
	return s.getDay(ctx, KeyLastRunDate)
}

func (s *Store) SetLastRunDate(ctx context.Context, d models.Day) error {
	return s.setDay(ctx, KeyLastRunDate, d)
}

// LastSuccessDate returns the day of the last ingest run without failures.
func (s *Store) LastSuccessDate(ctx context.Context) (models.Day, bool, error) {
	return s.getDay(ctx, KeyLastSuccessDate)
}

func (s *Store) SetLastSuccessDate(ctx context.Context, d models.Day) error {
	return s.setDay(ctx, KeyLastSuccessDate, d)
}

// LastTrendReportDate returns the day the last trend report was produced.
func (s *Store) LastTrendReportDate(ctx context.Context) (models.Day, bool, error) {
	return s.getDay(ctx, KeyLastTrendReportDate)
}

func (s *Store) SetLastTrendReportDate(ctx context.Context, d models.Day) error {
	return s.setDay(ctx, KeyLastTrendReportDate, d)
}

// BackoffUntil returns the backoff deadline of source; ok is false when none is set.
func (s *Store) BackoffUntil(ctx context.Context, source models.Source) (time.Time, bool, error) {
	if !source.Valid() {
		return time.Time{}, false, fmt.Errorf("unknown source %q", source)
	}
	key := BackoffKey(source)
	v, err := s.kv.GetValue(ctx, string(key))
	if errors.Is(err, storage.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read %s: %w", key, err)
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read %s: %w", key, err)
	}
	return t, true, nil
}

// SetBackoffUntil stops source from being ingested until t.
func (s *Store) SetBackoffUntil(ctx context.Context, source models.Source, t time.Time) error {
	if !source.Valid() {
		return fmt.Errorf("unknown source %q", source)
	}
	key := BackoffKey(source)
	if err := s.kv.SetValue(ctx, string(key), t.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// ClearBackoff removes the backoff deadline of source.
func (s *Store) ClearBackoff(ctx context.Context, source models.Source) error {
	if !source.Valid() {
		return fmt.Errorf("unknown source %q", source)
	}
	return s.kv.DeleteValue(ctx, string(BackoffKey(source)))
}

// InBackoff reports whether source is backing off at now.
func (s *Store) InBackoff(ctx context.Context, source models.Source, now time.Time) (bool, error) {
	until, ok, err := s.BackoffUntil(ctx, source)
	if err != nil || !ok {
		return false, err
	}
	return now.Before(until), nil
}

// Snapshot is every coordination value at one point in time.
type Snapshot struct {
	LastRunDate         models.Day                  `json:"last_run_date,omitempty"`
	LastSuccessDate     models.Day                  `json:"last_success_date,omitempty"`
	LastTrendReportDate models.Day                  `json:"last_trend_report_date,omitempty"`
	BackoffUntil        map[models.Source]time.Time `json:"backoff_until"`
}

// Snapshot reads every value in one pass over the store. Keys it does not know are ignored.
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	values, err := s.kv.ListValues(ctx)
	if err != nil {
		return nil, fmt.Errorf("list coordination values: %w", err)
	}
	snap := &Snapshot{BackoffUntil: make(map[models.Source]time.Time)}
	days := map[Key]*models.Day{
		KeyLastRunDate:         &snap.LastRunDate,
		KeyLastSuccessDate:     &snap.LastSuccessDate,
		KeyLastTrendReportDate: &snap.LastTrendReportDate,
	}
	for k, v := range values {
		key := Key(k)
		if dst, ok := days[key]; ok {
			d, err := models.ParseDay(v)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", key, err)
			}
			*dst = d
			continue
		}
		src, ok := strings.CutPrefix(k, backoffPrefix)
		if !ok || !models.Source(src).Valid() {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		snap.BackoffUntil[models.Source(src)] = t
	}
	return snap, nil
}

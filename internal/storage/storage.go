// Package storage persists the ingestion ledger, chunk text, and coordination values in SQLite.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/chikuseki/internal/models"
)

var (
	// ErrNotFound is returned when a ledger record or value does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned for a ledger state change the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid ledger transition")
)

// LedgerError wraps every failure of a ledger operation.
type LedgerError struct {
	Op  string
	Key models.LedgerKey
	Err error
}

func (e *LedgerError) Error() string {
	if e.Key == (models.LedgerKey{}) {
		return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("ledger %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *LedgerError) Unwrap() error { return e.Err }

// Ledger records per-document ingestion state.
//
// Allowed transitions: none→pending, pending→pending (attempts+1), pending→done,
// pending→failed, failed→pending via Retry only, done→done (no-op).
type Ledger interface {
	Get(ctx context.Context, key models.LedgerKey) (*models.LedgerRecord, error)
	IsDone(ctx context.Context, key models.LedgerKey) (bool, error)
	MarkPending(ctx context.Context, key models.LedgerKey) error
	MarkDone(ctx context.Context, key models.LedgerKey, chunkCount int) error
	MarkFailed(ctx context.Context, key models.LedgerKey, reason string) error
	Retry(ctx context.Context, key models.LedgerKey) error
	PendingOrFailedSince(ctx context.Context, since models.Day) ([]*models.LedgerRecord, error)
	ReapStalePending(ctx context.Context, olderThan time.Duration) (int, error)
	List(ctx context.Context, filter models.LedgerFilter) ([]*models.LedgerRecord, error)
	Counts(ctx context.Context) (map[models.LedgerStatus]int, error)
}

// ChunkStore keeps chunk text so retrieval can return it alongside vector hits.
type ChunkStore interface {
	PutChunks(ctx context.Context, chunks []*models.Chunk) error
	GetChunks(ctx context.Context, ids []string) (map[string]*models.Chunk, error)
	ChunksByDocument(ctx context.Context, documentRef string) ([]*models.Chunk, error)
	CountChunks(ctx context.Context) (int64, error)
}

// KV is a small string key-value table used by the coordination store.
type KV interface {
	GetValue(ctx context.Context, key string) (string, error)
	SetValue(ctx context.Context, key, value string) error
	DeleteValue(ctx context.Context, key string) error
	ListValues(ctx context.Context) (map[string]string, error)
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/chikuseki/internal/models"
)

const stalePendingReason = "stale pending"

const ledgerColumns = `source, date, external_id, status, attempts, chunk_count, last_error, last_attempt_at, created_at`

func scanRecord(row interface{ Scan(...interface{}) error }) (*models.LedgerRecord, error) {
	var rec models.LedgerRecord
	var source, date, status string
	var lastAttempt, created int64
	if err := row.Scan(&source, &date, &rec.ExternalID, &status, &rec.Attempts, &rec.ChunkCount,
		&rec.LastError, &lastAttempt, &created); err != nil {
		return nil, err
	}
	rec.Source = models.Source(source)
	rec.Date = models.Day(date)
	rec.Status = models.LedgerStatus(status)
	rec.LastAttemptAt = time.Unix(0, lastAttempt).UTC()
	rec.CreatedAt = time.Unix(0, created).UTC()
	return &rec, nil
}

func getRecord(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}, key models.LedgerKey) (*models.LedgerRecord, error) {
	rec, err := scanRecord(q.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM ingestion_ledger WHERE source = ? AND date = ? AND external_id = ?`,
		string(key.Source), string(key.Date), key.ExternalID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return rec, err
}

// Get returns the record for key or ErrNotFound.
func (s *SQLiteStorage) Get(ctx context.Context, key models.LedgerKey) (*models.LedgerRecord, error) {
	rec, err := getRecord(ctx, s.db, key)
	if err != nil {
		return nil, &LedgerError{Op: "get", Key: key, Err: err}
	}
	return rec, nil
}

// IsDone reports whether key has been fully ingested.
func (s *SQLiteStorage) IsDone(ctx context.Context, key models.LedgerKey) (bool, error) {
	rec, err := getRecord(ctx, s.db, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, &LedgerError{Op: "is_done", Key: key, Err: err}
	}
	return rec.Status == models.StatusDone, nil
}

// transition runs fn inside a transaction with the current record (nil when absent).
func (s *SQLiteStorage) transition(ctx context.Context, op string, key models.LedgerKey,
	fn func(tx *sql.Tx, cur *models.LedgerRecord, now int64) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &LedgerError{Op: op, Key: key, Err: err}
	}
	defer tx.Rollback()

	cur, err := getRecord(ctx, tx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return &LedgerError{Op: op, Key: key, Err: err}
	}
	if err := fn(tx, cur, s.now().UnixNano()); err != nil {
		return &LedgerError{Op: op, Key: key, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &LedgerError{Op: op, Key: key, Err: err}
	}
	return nil
}

func invalid(cur *models.LedgerRecord, to models.LedgerStatus) error {
	from := "none"
	if cur != nil {
		from = string(cur.Status)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// MarkPending creates a pending record or bumps the attempt count of an existing pending one.
func (s *SQLiteStorage) MarkPending(ctx context.Context, key models.LedgerKey) error {
	return s.transition(ctx, "mark_pending", key, func(tx *sql.Tx, cur *models.LedgerRecord, now int64) error {
		switch {
		case cur == nil:
			_, err := tx.ExecContext(ctx,
				`INSERT INTO ingestion_ledger (`+ledgerColumns+`) VALUES (?, ?, ?, ?, 1, 0, '', ?, ?)`,
				string(key.Source), string(key.Date), key.ExternalID, string(models.StatusPending), now, now)
			return err
		case cur.Status == models.StatusPending:
			_, err := tx.ExecContext(ctx,
				`UPDATE ingestion_ledger SET attempts = attempts + 1, last_attempt_at = ?
				 WHERE source = ? AND date = ? AND external_id = ?`,
				now, string(key.Source), string(key.Date), key.ExternalID)
			return err
		default:
			return invalid(cur, models.StatusPending)
		}
	})
}

// MarkDone moves a pending record to done. Marking a done record again is a no-op.
func (s *SQLiteStorage) MarkDone(ctx context.Context, key models.LedgerKey, chunkCount int) error {
	return s.transition(ctx, "mark_done", key, func(tx *sql.Tx, cur *models.LedgerRecord, now int64) error {
		if cur != nil && cur.Status == models.StatusDone {
			return nil
		}
		if cur == nil || cur.Status != models.StatusPending {
			return invalid(cur, models.StatusDone)
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE ingestion_ledger SET status = ?, chunk_count = ?, last_error = '', last_attempt_at = ?
			 WHERE source = ? AND date = ? AND external_id = ?`,
			string(models.StatusDone), chunkCount, now, string(key.Source), string(key.Date), key.ExternalID)
		return err
	})
}

// MarkFailed moves a pending record to failed with a reason.
func (s *SQLiteStorage) MarkFailed(ctx context.Context, key models.LedgerKey, reason string) error {
	return s.transition(ctx, "mark_failed", key, func(tx *sql.Tx, cur *models.LedgerRecord, now int64) error {
		if cur == nil || cur.Status != models.StatusPending {
			return invalid(cur, models.StatusFailed)
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE ingestion_ledger SET status = ?, last_error = ?, last_attempt_at = ?
			 WHERE source = ? AND date = ? AND external_id = ?`,
			string(models.StatusFailed), reason, now, string(key.Source), string(key.Date), key.ExternalID)
		return err
	})
}

// Retry moves a failed record back to pending so the next ingest picks it up.
func (s *SQLiteStorage) Retry(ctx context.Context, key models.LedgerKey) error {
	return s.transition(ctx, "retry", key, func(tx *sql.Tx, cur *models.LedgerRecord, now int64) error {
		if cur == nil {
			return ErrNotFound
		}
		if cur.Status != models.StatusFailed {
			return invalid(cur, models.StatusPending)
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE ingestion_ledger SET status = ?, last_attempt_at = ?
			 WHERE source = ? AND date = ? AND external_id = ?`,
			string(models.StatusPending), now, string(key.Source), string(key.Date), key.ExternalID)
		return err
	})
}

// PendingOrFailedSince returns records on or after since that are not done, oldest first.
func (s *SQLiteStorage) PendingOrFailedSince(ctx context.Context, since models.Day) ([]*models.LedgerRecord, error) {
	return s.List(ctx, models.LedgerFilter{
		Since:    since,
		Statuses: []models.LedgerStatus{models.StatusPending, models.StatusFailed},
	})
}

// ReapStalePending fails pending records whose last attempt is older than olderThan and
// returns how many were reaped.
func (s *SQLiteStorage) ReapStalePending(ctx context.Context, olderThan time.Duration) (int, error) {
	now := s.now()
	cutoff := now.Add(-olderThan).UnixNano()
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_ledger SET status = ?, last_error = ?, last_attempt_at = ?
		 WHERE status = ? AND last_attempt_at < ?`,
		string(models.StatusFailed), stalePendingReason, now.UnixNano(), string(models.StatusPending), cutoff)
	if err != nil {
		return 0, &LedgerError{Op: "reap_stale_pending", Err: err}
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// List returns records matching filter ordered by date, source and external id.
func (s *SQLiteStorage) List(ctx context.Context, filter models.LedgerFilter) ([]*models.LedgerRecord, error) {
	var where []string
	var args []interface{}
	if filter.Since != "" {
		where = append(where, "date >= ?")
		args = append(args, string(filter.Since))
	}
	if filter.Source != "" {
		where = append(where, "source = ?")
		args = append(args, string(filter.Source))
	}
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	query := `SELECT ` + ledgerColumns + ` FROM ingestion_ledger`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date, source, external_id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &LedgerError{Op: "list", Err: err}
	}
	defer rows.Close()

	recs := []*models.LedgerRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, &LedgerError{Op: "list", Err: err}
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &LedgerError{Op: "list", Err: err}
	}
	return recs, nil
}

// Counts returns the number of records per status.
func (s *SQLiteStorage) Counts(ctx context.Context) (map[models.LedgerStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM ingestion_ledger GROUP BY status`)
	if err != nil {
		return nil, &LedgerError{Op: "counts", Err: err}
	}
	defer rows.Close()
	counts := map[models.LedgerStatus]int{
		models.StatusPending: 0,
		models.StatusDone:    0,
		models.StatusFailed:  0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, &LedgerError{Op: "counts", Err: err}
		}
		counts[models.LedgerStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, &LedgerError{Op: "counts", Err: err}
	}
	return counts, nil
}

package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperjump/chikuseki/internal/models"
)

const chunkColumns = `chunk_id, document_ref, source, date, external_id, chunk_index, offset_start, offset_end, text`

// PutChunks inserts or replaces chunks in a transaction.
func (s *SQLiteStorage) PutChunks(ctx context.Context, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO chunks (`+chunkColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ChunkID, c.DocumentRef, string(c.Source), string(c.Date),
			c.ExternalID, c.Index, c.CharOffsetStart, c.CharOffsetEnd, c.Text); err != nil {
			return fmt.Errorf("store chunk %s: %w", c.ChunkID, err)
		}
	}
	return tx.Commit()
}

func scanChunk(row interface{ Scan(...interface{}) error }) (*models.Chunk, error) {
	var c models.Chunk
	var source, date string
	if err := row.Scan(&c.ChunkID, &c.DocumentRef, &source, &date, &c.ExternalID, &c.Index,
		&c.CharOffsetStart, &c.CharOffsetEnd, &c.Text); err != nil {
		return nil, err
	}
	c.Source = models.Source(source)
	c.Date = models.Day(date)
	return &c, nil
}

// GetChunks returns the stored chunks for ids, keyed by chunk id. Missing ids are absent from the map.
func (s *SQLiteStorage) GetChunks(ctx context.Context, ids []string) (map[string]*models.Chunk, error) {
	out := make(map[string]*models.Chunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	marks := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE chunk_id IN (`+strings.Join(marks, ", ")+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out[c.ChunkID] = c
	}
	return out, rows.Err()
}

// ChunksByDocument returns all chunks of a document ordered by index.
func (s *SQLiteStorage) ChunksByDocument(ctx context.Context, documentRef string) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE document_ref = ? ORDER BY chunk_index`, documentRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// CountChunks returns the total number of chunks.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	return count, err
}

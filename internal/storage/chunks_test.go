package storage

import (
	"context"
	"testing"

	"github.com/hyperjump/chikuseki/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkStore(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	chunks := []*models.Chunk{
		{ChunkID: "chunk:1", DocumentRef: "arxiv/x", Source: models.SourceArxiv, Date: "2025-01-06", ExternalID: "x", Index: 1, Text: "second", CharOffsetStart: 1300, CharOffsetEnd: 2000},
		{ChunkID: "chunk:0", DocumentRef: "arxiv/x", Source: models.SourceArxiv, Date: "2025-01-06", ExternalID: "x", Index: 0, Text: "first", CharOffsetStart: 0, CharOffsetEnd: 1500},
	}
	require.NoError(t, s.PutChunks(ctx, chunks))

	got, err := s.GetChunks(ctx, []string{"chunk:0", "chunk:missing"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "first", got["chunk:0"].Text)
	assert.Equal(t, models.Day("2025-01-06"), got["chunk:0"].Date)

	byDoc, err := s.ChunksByDocument(ctx, "arxiv/x")
	require.NoError(t, err)
	require.Len(t, byDoc, 2)
	assert.Equal(t, "chunk:0", byDoc[0].ChunkID)
	assert.Equal(t, 1500, byDoc[0].CharOffsetEnd)

	// replacing keeps one row per chunk id
	chunks[0].Text = "second, revised"
	require.NoError(t, s.PutChunks(ctx, chunks[:1]))
	n, err := s.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	got, err = s.GetChunks(ctx, []string{"chunk:1"})
	require.NoError(t, err)
	assert.Equal(t, "second, revised", got["chunk:1"].Text)
}

func TestKV(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.GetValue(ctx, "last_run_date")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetValue(ctx, "last_run_date", "2025-01-05"))
	require.NoError(t, s.SetValue(ctx, "last_run_date", "2025-01-06"))
	v, err := s.GetValue(ctx, "last_run_date")
	require.NoError(t, err)
	assert.Equal(t, "2025-01-06", v)

	all, err := s.ListValues(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"last_run_date": "2025-01-06"}, all)

	require.NoError(t, s.DeleteValue(ctx, "last_run_date"))
	require.NoError(t, s.DeleteValue(ctx, "last_run_date"))
	_, err = s.GetValue(ctx, "last_run_date")
	require.ErrorIs(t, err, ErrNotFound)
}

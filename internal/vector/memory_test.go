package vector

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hyperjump/chikuseki/internal/models"
)

func entry(id string, day models.Day, src models.Source, vec ...float32) *Entry {
	return &Entry{ChunkID: id, Vector: vec, Source: src, Date: day, ExternalID: "ext-" + id, DocumentRef: string(src) + "/ext-" + id}
}

func ids(results []*Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ChunkID
	}
	return out
}

func TestMemoryIndex_UpsertSearch(t *testing.T) {
	idx, err := NewMemoryIndex(3)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()

	err = idx.Upsert(ctx, []*Entry{
		entry("a", "2025-01-01", models.SourceArxiv, 1, 0, 0),
		entry("b", "2025-01-02", models.SourceArxiv, 0.9, 0.1, 0),
		entry("c", "2025-01-02", models.SourceHNReddit, 0, 1, 0),
	})
	if err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 3 {
		t.Errorf("Size=%d", idx.Size())
	}
	if got := idx.Partitions(); len(got) != 2 || got[0] != "2025-01-01" {
		t.Errorf("Partitions=%v", got)
	}

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 2, models.SearchFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(results); fmt.Sprint(got) != "[a b]" {
		t.Errorf("top results = %v, want [a b]", got)
	}
	if results[0].Score < results[1].Score {
		t.Error("results must be sorted by score")
	}
}

func TestMemoryIndex_FilterByDateAndSource(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Upsert(ctx, []*Entry{
		entry("d1", "2025-01-01", models.SourceArxiv, 1, 0),
		entry("d2", "2025-01-02", models.SourceArxiv, 1, 0),
		entry("d3", "2025-01-03", models.SourceReport, 1, 0),
	})
	results, _ := idx.Search(ctx, []float32{1, 0}, 10, models.SearchFilter{From: "2025-01-02", To: "2025-01-02"})
	if got := ids(results); fmt.Sprint(got) != "[d2]" {
		t.Errorf("single day filter = %v", got)
	}
	results, _ = idx.Search(ctx, []float32{1, 0}, 10, models.SearchFilter{Sources: []models.Source{models.SourceReport}})
	if got := ids(results); fmt.Sprint(got) != "[d3]" {
		t.Errorf("source filter = %v", got)
	}
	results, _ = idx.Search(ctx, []float32{1, 0}, 10, models.SearchFilter{From: "2025-02-01"})
	if results == nil || len(results) != 0 {
		t.Errorf("range without partitions should give an empty slice, got %v", results)
	}
}

func TestMemoryIndex_TieBreak(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Upsert(ctx, []*Entry{
		entry("z", "2025-01-01", models.SourceArxiv, 1, 0),
		entry("b", "2025-01-05", models.SourceArxiv, 1, 0),
		entry("a", "2025-01-05", models.SourceArxiv, 1, 0),
	})
	for i := 0; i < 5; i++ {
		results, _ := idx.Search(ctx, []float32{1, 0}, 3, models.SearchFilter{})
		if got := ids(results); fmt.Sprint(got) != "[a b z]" {
			t.Fatalf("run %d: order = %v, want newest day first then id", i, got)
		}
	}
	results, _ := idx.Search(ctx, []float32{1, 0}, 2, models.SearchFilter{})
	if got := ids(results); fmt.Sprint(got) != "[a b]" {
		t.Errorf("truncated order = %v", got)
	}
}

func TestMemoryIndex_UpsertMovesPartition(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Upsert(ctx, []*Entry{entry("x", "2025-01-01", models.SourceArxiv, 1, 0)})
	_ = idx.Upsert(ctx, []*Entry{entry("x", "2025-01-09", models.SourceArxiv, 0, 1)})
	if idx.Size() != 1 {
		t.Fatalf("Size=%d, want 1", idx.Size())
	}
	if got := idx.Partitions(); fmt.Sprint(got) != "[2025-01-09]" {
		t.Errorf("Partitions=%v", got)
	}
	results, _ := idx.Search(ctx, []float32{0, 1}, 1, models.SearchFilter{})
	if len(results) != 1 || results[0].Date != "2025-01-09" || results[0].Score < 0.99 {
		t.Errorf("last write should win, got %+v", results)
	}
}

func TestMemoryIndex_SearchAbove(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Upsert(ctx, []*Entry{
		entry("hi", "2025-01-01", models.SourceArxiv, 1, 0),
		entry("mid", "2025-01-02", models.SourceArxiv, 0.8, 0.6),
		entry("lo", "2025-01-03", models.SourceArxiv, 0, 1),
	})
	results, err := idx.SearchAbove(ctx, []float32{1, 0}, 0.5, models.SearchFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(results); fmt.Sprint(got) != "[hi mid]" {
		t.Errorf("SearchAbove = %v", got)
	}
}

func TestMemoryIndex_DimensionMismatch(t *testing.T) {
	idx, _ := NewMemoryIndex(3)
	ctx := context.Background()
	err := idx.Upsert(ctx, []*Entry{
		entry("ok", "2025-01-01", models.SourceArxiv, 1, 0, 0),
		entry("bad", "2025-01-01", models.SourceArxiv, 1, 0),
	})
	var werr *IndexWriteError
	if !errors.As(err, &werr) || werr.ChunkID != "bad" {
		t.Fatalf("expected IndexWriteError for bad, got %v", err)
	}
	if idx.Size() != 0 {
		t.Error("a rejected batch must not be partially applied")
	}
	if _, err := idx.Search(ctx, []float32{1}, 1, models.SearchFilter{}); err == nil {
		t.Error("expected error for query dimension mismatch")
	}
}

func TestMemoryIndex_Delete(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Upsert(ctx, []*Entry{
		entry("x", "2025-01-01", models.SourceArxiv, 1, 0),
		entry("y", "2025-01-02", models.SourceArxiv, 0, 1),
	})
	if err := idx.Delete(ctx, []string{"x", "unknown"}); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 1 {
		t.Errorf("expected size 1, got %d", idx.Size())
	}
	if got := idx.Partitions(); fmt.Sprint(got) != "[2025-01-02]" {
		t.Errorf("empty partition should be dropped, got %v", got)
	}
}

func TestMemoryIndex_CancelledContext(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	_ = idx.Upsert(context.Background(), []*Entry{entry("x", "2025-01-01", models.SourceArxiv, 1, 0)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := idx.Search(ctx, []float32{1, 0}, 1, models.SearchFilter{}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

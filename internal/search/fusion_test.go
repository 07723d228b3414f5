package search

import (
	"testing"

	"github.com/hyperjump/chikuseki/internal/keyword"
	"github.com/hyperjump/chikuseki/internal/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeywordScores(t *testing.T) {
	m := KeywordScores([]*keyword.KeywordResult{
		{ID: "a", Score: 2},
		{ID: "b", Score: 4},
		{ID: "c", Score: 1},
	})
	assert.Equal(t, map[string]float64{"a": 0.5, "b": 1, "c": 0.25}, m)
	assert.Empty(t, KeywordScores(nil))
	assert.Equal(t, map[string]float64{"z": 0}, KeywordScores([]*keyword.KeywordResult{{ID: "z"}}))
}

func TestSemanticScores_ClampsNegative(t *testing.T) {
	m := SemanticScores([]*vector.Result{
		{ChunkID: "c1", Score: 0.9},
		{ChunkID: "c2", Score: -0.3},
	})
	assert.Equal(t, 0.9, m["c1"])
	assert.Equal(t, 0.0, m["c2"])
}

func TestFuse(t *testing.T) {
	kw := map[string]float64{"d1": 1.0, "d2": 0.5}
	sem := map[string]float64{"d1": 0.5, "d2": 1.0, "d3": 0.2}
	results := Fuse(kw, sem, 0.5, 0.5)
	require.Len(t, results, 3)

	// d1 and d2 tie at 0.75 and fall back to chunk ID order
	assert.Equal(t, []string{"d1", "d2", "d3"}, []string{results[0].ChunkID, results[1].ChunkID, results[2].ChunkID})
	assert.InDelta(t, 0.75, results[0].Score, 1e-9)
	assert.InDelta(t, 0.1, results[2].Score, 1e-9)
	assert.Equal(t, 0.0, results[2].KeywordScore)
}

func TestFuse_SemanticOnlyWeights(t *testing.T) {
	results := Fuse(map[string]float64{"k": 1}, map[string]float64{"s": 0.4}, 0, 1)
	require.Len(t, results, 2)
	assert.Equal(t, "s", results[0].ChunkID)
	assert.Equal(t, 0.0, results[1].Score)
}

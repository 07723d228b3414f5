// Package search answers digest and trend queries over the accumulated index.
package search

import (
	"cmp"
	"slices"

	"github.com/hyperjump/chikuseki/internal/keyword"
	"github.com/hyperjump/chikuseki/internal/vector"
)

// FusedResult is one chunk's weighted combination of keyword and semantic relevance.
type FusedResult struct {
	ChunkID       string
	Score         float64
	KeywordScore  float64
	SemanticScore float64
}

// KeywordScores scales bleve scores into [0,1] by dividing by the best score in the set.
// bleve scores are unbounded, so this is what makes them comparable with cosine similarity.
func KeywordScores(results []*keyword.KeywordResult) map[string]float64 {
	var best float64
	for _, r := range results {
		best = max(best, r.Score)
	}
	scores := make(map[string]float64, len(results))
	for _, r := range results {
		if best > 0 {
			scores[r.ID] = r.Score / best
		} else {
			scores[r.ID] = 0
		}
	}
	return scores
}

// SemanticScores maps chunk ID to cosine similarity. Negative similarity counts as no
// relevance at all.
func SemanticScores(results []*vector.Result) map[string]float64 {
	scores := make(map[string]float64, len(results))
	for _, r := range results {
		scores[r.ChunkID] = max(r.Score, 0)
	}
	return scores
}

// Fuse combines the two score maps as keywordWeight*kw + semanticWeight*sem. A chunk found by
// only one retriever scores 0 on the other. Results are ordered by score, then chunk ID.
func Fuse(keywordScores, semanticScores map[string]float64, keywordWeight, semanticWeight float64) []*FusedResult {
	byID := make(map[string]*FusedResult, len(keywordScores)+len(semanticScores))
	get := func(id string) *FusedResult {
		r, ok := byID[id]
		if !ok {
			r = &FusedResult{ChunkID: id}
			byID[id] = r
		}
		return r
	}
	for id, s := range keywordScores {
		get(id).KeywordScore = s
	}
	for id, s := range semanticScores {
		get(id).SemanticScore = s
	}

	fused := make([]*FusedResult, 0, len(byID))
	for _, r := range byID {
		r.Score = keywordWeight*r.KeywordScore + semanticWeight*r.SemanticScore
		fused = append(fused, r)
	}
	slices.SortFunc(fused, func(a, b *FusedResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ChunkID, b.ChunkID)
	})
	return fused
}

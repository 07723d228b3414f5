package keyword

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/hyperjump/chikuseki/internal/models"
)

// open bounds for the date range query; every valid Day sorts between them
const (
	minDay = "0000-00-00"
	maxDay = "9999-99-99"
)

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// chunkDoc is the indexed form of a chunk.
type chunkDoc struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Date   string `json:"date"`
}

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so short technical terms match exactly.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("text", textFieldMapping)
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("source", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("date", keywordFieldMapping)
	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path creates an in-memory index.
// If you change the index mapping in code, remove the index directory to force a re-index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := newMapping()
	if path == "" {
		index, err := bleve.NewMemOnly(im)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// Index adds or replaces chunks in one batch.
func (b *BleveIndex) Index(ctx context.Context, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := b.index.NewBatch()
	for _, c := range chunks {
		if err := batch.Index(c.ChunkID, chunkDoc{Text: c.Text, Source: string(c.Source), Date: string(c.Date)}); err != nil {
			return fmt.Errorf("index chunk %s: %w", c.ChunkID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("Bleve batch failed: %w", err)
	}
	return nil
}

// Search runs a match query over chunk text restricted by filter and returns up to limit results.
// When opts.FuzzyEnabled is true, fuzzy matching is used for typo tolerance.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, filter models.SearchFilter, opts *SearchOptions) ([]*KeywordResult, error) {
	if limit <= 0 {
		return []*KeywordResult{}, nil
	}
	fuzziness := 0
	if opts != nil && opts.FuzzyEnabled {
		fuzziness = 2
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}

	var textQuery blevequery.Query
	if fuzziness > 0 {
		textQuery = buildFuzzyQuery(query, fuzziness)
	} else {
		mq := bleve.NewMatchQuery(query)
		mq.SetField("text")
		textQuery = mq
	}

	search := bleve.NewSearchRequest(withFilter(textQuery, filter))
	search.Size = limit
	results, err := b.index.SearchInContext(ctx, search)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*KeywordResult, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = &KeywordResult{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

// withFilter wraps q with the source and date restrictions of filter.
func withFilter(q blevequery.Query, filter models.SearchFilter) blevequery.Query {
	parts := []blevequery.Query{q}
	if len(filter.Sources) > 0 {
		sources := make([]blevequery.Query, len(filter.Sources))
		for i, s := range filter.Sources {
			tq := bleve.NewTermQuery(string(s))
			tq.SetField("source")
			sources[i] = tq
		}
		parts = append(parts, bleve.NewDisjunctionQuery(sources...))
	}
	if filter.From != "" || filter.To != "" {
		from, to := minDay, maxDay
		if filter.From != "" {
			from = string(filter.From)
		}
		if filter.To != "" {
			to = string(filter.To)
		}
		inclusive := true
		rq := bleve.NewTermRangeInclusiveQuery(from, to, &inclusive, &inclusive)
		rq.SetField("date")
		parts = append(parts, rq)
	}
	if len(parts) == 1 {
		return q
	}
	return bleve.NewConjunctionQuery(parts...)
}

// tokenizeQuery splits query into lowercase terms, filtering out empty strings.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// buildFuzzyQuery creates a disjunction of FuzzyQueries over the text field, one per term.
func buildFuzzyQuery(queryStr string, fuzziness int) blevequery.Query {
	terms := tokenizeQuery(queryStr)
	if len(terms) == 0 {
		mq := bleve.NewMatchQuery(queryStr)
		mq.SetField("text")
		return mq
	}
	fuzzy := make([]blevequery.Query, len(terms))
	for i, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField("text")
		fuzzy[i] = fq
	}
	if len(fuzzy) == 1 {
		return fuzzy[0]
	}
	return bleve.NewDisjunctionQuery(fuzzy...)
}

// Delete removes chunks from the index.
func (b *BleveIndex) Delete(ctx context.Context, ids []string) error {
	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return b.index.Batch(batch)
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

// DocCount returns the total number of chunks in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

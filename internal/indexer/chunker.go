package indexer

import (
	"github.com/hyperjump/chikuseki/internal/docid"
	"github.com/hyperjump/chikuseki/internal/models"
)

const (
	// DefaultMaxChars is the default window length in characters.
	DefaultMaxChars = 1500
	// DefaultOverlapChars is the default overlap between consecutive windows.
	DefaultOverlapChars = 200
)

// Chunker splits document text into overlapping character windows.
// Windows are measured in runes so a multi-byte character is never split.
type Chunker struct {
	maxChars     int
	overlapChars int
}

// NewChunker creates a chunker with the given window size and overlap (in characters).
// Non-positive maxChars falls back to DefaultMaxChars; overlap is clamped to [0, maxChars-1].
func NewChunker(maxChars, overlapChars int) *Chunker {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if overlapChars < 0 {
		overlapChars = 0
	}
	if overlapChars >= maxChars {
		overlapChars = maxChars - 1
	}
	return &Chunker{
		maxChars:     maxChars,
		overlapChars: overlapChars,
	}
}

// MaxChars returns the window length.
func (c *Chunker) MaxChars() int { return c.maxChars }

// OverlapChars returns the overlap between consecutive windows.
func (c *Chunker) OverlapChars() int { return c.overlapChars }

// Chunk splits doc.RawText into windows. Empty text yields no chunks; text shorter than
// the window yields exactly one chunk. Consecutive windows share exactly overlapChars characters.
func (c *Chunker) Chunk(doc *models.Document) []*models.Chunk {
	runes := []rune(doc.RawText)
	if len(runes) == 0 {
		return nil
	}
	ref := docid.DocumentRef(doc.Source, doc.ExternalID)
	step := c.maxChars - c.overlapChars
	chunks := make([]*models.Chunk, 0, len(runes)/step+1)
	for start := 0; ; start += step {
		end := start + c.maxChars
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, &models.Chunk{
			ChunkID:         docid.ChunkID(doc.Source, doc.ExternalID, start),
			DocumentRef:     ref,
			Source:          doc.Source,
			Date:            doc.Date,
			ExternalID:      doc.ExternalID,
			Index:           len(chunks),
			Text:            string(runes[start:end]),
			CharOffsetStart: start,
			CharOffsetEnd:   end,
		})
		if end == len(runes) {
			break
		}
	}
	return chunks
}

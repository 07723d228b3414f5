// Package models defines core data structures for documents, chunks, ledger records, queries, and results.
package models

import (
	"fmt"
	"strings"
)

// Source identifies where a document came from. The set is closed.
type Source string

const (
	SourceHNReddit Source = "hn_reddit"
	SourceArxiv    Source = "arxiv"
	SourceReport   Source = "report"
)

// Sources lists every known source in a stable order.
var Sources = []Source{SourceHNReddit, SourceArxiv, SourceReport}

// ParseSource returns the Source named by s.
func ParseSource(s string) (Source, error) {
	src := Source(strings.ToLower(strings.TrimSpace(s)))
	if !src.Valid() {
		return "", fmt.Errorf("unknown source %q", s)
	}
	return src, nil
}

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceHNReddit, SourceArxiv, SourceReport:
		return true
	}
	return false
}

// Document is a single fetched item handed to the accumulator. It is not mutated after creation.
type Document struct {
	Source     Source `json:"source"`
	Date       Day    `json:"date"`
	ExternalID string `json:"external_id"`
	Title      string `json:"title,omitempty"`
	URL        string `json:"url,omitempty"`
	RawText    string `json:"raw_text"`
}

// Key returns the ledger key of the document.
func (d *Document) Key() LedgerKey {
	return LedgerKey{Source: d.Source, Date: d.Date, ExternalID: d.ExternalID}
}

// Validate rejects documents that cannot be keyed in the ledger.
func (d *Document) Validate() error {
	if strings.TrimSpace(d.ExternalID) == "" {
		return &InvalidDocumentError{Reason: "missing external_id"}
	}
	if !d.Source.Valid() {
		return &InvalidDocumentError{ExternalID: d.ExternalID, Reason: fmt.Sprintf("unknown source %q", d.Source)}
	}
	if !d.Date.Valid() {
		return &InvalidDocumentError{ExternalID: d.ExternalID, Reason: fmt.Sprintf("invalid date %q", d.Date)}
	}
	return nil
}

// Chunk is a contiguous window of a document's text. Offsets count characters (runes)
// of the raw text; the end offset is exclusive.
type Chunk struct {
	ChunkID         string `json:"chunk_id" db:"id"`
	DocumentRef     string `json:"document_ref" db:"document_ref"`
	Source          Source `json:"source" db:"source"`
	Date            Day    `json:"date" db:"date"`
	ExternalID      string `json:"external_id" db:"external_id"`
	Index           int    `json:"index" db:"chunk_index"`
	Text            string `json:"text" db:"text"`
	CharOffsetStart int    `json:"char_offset_start" db:"char_offset_start"`
	CharOffsetEnd   int    `json:"char_offset_end" db:"char_offset_end"`
}

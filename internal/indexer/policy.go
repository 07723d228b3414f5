package indexer

import (
	"github.com/hyperjump/chikuseki/internal/config"
	"github.com/hyperjump/chikuseki/internal/models"
)

// policyTable maps each source to the chunker it uses. It is built once per batch so a config
// change never splits one batch across two policies.
type policyTable map[models.Source]*Chunker

func newPolicyTable(cfg *config.ChunkingConfig) policyTable {
	t := make(policyTable, len(models.Sources))
	for _, src := range models.Sources {
		maxChars, overlap := DefaultMaxChars, DefaultOverlapChars
		if cfg != nil {
			maxChars, overlap = cfg.For(string(src))
		}
		t[src] = NewChunker(maxChars, overlap)
	}
	return t
}

func (t policyTable) chunker(src models.Source) *Chunker {
	if c, ok := t[src]; ok {
		return c
	}
	return NewChunker(DefaultMaxChars, DefaultOverlapChars)
}

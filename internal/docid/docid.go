// Package docid derives stable identifiers for documents and chunks.
package docid

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/hyperjump/chikuseki/internal/models"
)

const chunkPrefix = "chunk:"

// DocumentRef returns the reference stored with every chunk of a document.
func DocumentRef(source models.Source, externalID string) string {
	return string(source) + "/" + externalID
}

// ChunkID returns a stable chunk ID for the window starting at charOffsetStart.
// Same (source, external id, offset) always yields the same ID, so re-ingestion overwrites.
func ChunkID(source models.Source, externalID string, charOffsetStart int) string {
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(externalID))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(charOffsetStart)))
	return chunkPrefix + hex.EncodeToString(h.Sum(nil))
}

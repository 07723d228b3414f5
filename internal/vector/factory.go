package vector

import "fmt"

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeMemory keeps every partition in memory only. Contents are lost on exit.
	IndexTypeMemory IndexType = "memory"
	// IndexTypeBolt persists partitions in a bbolt file and serves searches from memory.
	IndexTypeBolt IndexType = "bolt"
)

// NewVectorIndex creates a vector index of the specified type.
// Supported types: "memory" (default), "bolt". path is only used by bolt.
func NewVectorIndex(indexType, path string, dimensions int) (VectorIndex, error) {
	switch IndexType(indexType) {
	case IndexTypeMemory, "":
		return NewMemoryIndex(dimensions)
	case IndexTypeBolt:
		return NewBoltIndex(path, dimensions)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, bolt)", indexType)
	}
}

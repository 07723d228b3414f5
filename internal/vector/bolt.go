package vector

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hyperjump/chikuseki/internal/models"
	"go.etcd.io/bbolt"
)

const dayBucketPrefix = "day:"

var bucketLocator = []byte("locator")

// BoltIndex persists each day partition in its own bbolt bucket and keeps a locator bucket
// mapping chunk id to day. All entries are loaded into memory shards on open, so searches
// never touch disk.
type BoltIndex struct {
	db     *bbolt.DB
	shards *shardSet
	mu     sync.RWMutex
}

type boltEntry struct {
	Source      models.Source `json:"s"`
	ExternalID  string        `json:"e"`
	DocumentRef string        `json:"r"`
	Vector      []byte        `json:"v"`
}

// NewBoltIndex opens (or creates) the index file at path.
func NewBoltIndex(path string, dimensions int) (*BoltIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if path == "" {
		return nil, fmt.Errorf("bolt index requires a path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt index: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketLocator)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create locator bucket: %w", err)
	}
	idx := &BoltIndex{db: db, shards: newShardSet(dimensions)}
	if err := idx.load(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}
	return idx, nil
}

func dayBucket(d models.Day) []byte {
	return []byte(dayBucketPrefix + string(d))
}

func (b *BoltIndex) load() error {
	return b.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, bucket *bbolt.Bucket) error {
			if !strings.HasPrefix(string(name), dayBucketPrefix) {
				return nil
			}
			day := models.Day(strings.TrimPrefix(string(name), dayBucketPrefix))
			return bucket.ForEach(func(k, v []byte) error {
				var be boltEntry
				if err := json.Unmarshal(v, &be); err != nil {
					return fmt.Errorf("decode %s: %w", k, err)
				}
				vec := bytesToFloat32Slice(be.Vector)
				if len(vec) != b.shards.dimensions {
					return fmt.Errorf("entry %s has %d dimensions, index expects %d", k, len(vec), b.shards.dimensions)
				}
				b.shards.put(&Entry{
					ChunkID:     string(k),
					Vector:      vec,
					Source:      be.Source,
					Date:        day,
					ExternalID:  be.ExternalID,
					DocumentRef: be.DocumentRef,
				})
				return nil
			})
		})
	})
}

// Type returns the index type identifier.
func (b *BoltIndex) Type() string {
	return string(IndexTypeBolt)
}

// Upsert writes entries in one transaction and applies them to memory only after commit.
func (b *BoltIndex) Upsert(ctx context.Context, entries []*Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateEntries(entries, b.shards.dimensions); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.db.Update(func(tx *bbolt.Tx) error {
		loc := tx.Bucket(bucketLocator)
		for _, e := range entries {
			if prev := loc.Get([]byte(e.ChunkID)); prev != nil && models.Day(prev) != e.Date {
				if err := deleteFromDay(tx, models.Day(prev), e.ChunkID); err != nil {
					return err
				}
			}
			bucket, err := tx.CreateBucketIfNotExists(dayBucket(e.Date))
			if err != nil {
				return err
			}
			data, err := json.Marshal(boltEntry{
				Source:      e.Source,
				ExternalID:  e.ExternalID,
				DocumentRef: e.DocumentRef,
				Vector:      float32SliceToBytes(e.Vector),
			})
			if err != nil {
				return err
			}
			if err := bucket.Put([]byte(e.ChunkID), data); err != nil {
				return err
			}
			if err := loc.Put([]byte(e.ChunkID), []byte(e.Date)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &IndexWriteError{Op: "upsert", Err: err}
	}
	for _, e := range entries {
		b.shards.put(e)
	}
	return nil
}

// deleteFromDay removes id from a day bucket and drops the bucket when it becomes empty.
func deleteFromDay(tx *bbolt.Tx, day models.Day, id string) error {
	bucket := tx.Bucket(dayBucket(day))
	if bucket == nil {
		return nil
	}
	if err := bucket.Delete([]byte(id)); err != nil {
		return err
	}
	if k, _ := bucket.Cursor().First(); k == nil {
		return tx.DeleteBucket(dayBucket(day))
	}
	return nil
}

// Search returns the top-k entries matching filter.
func (b *BoltIndex) Search(ctx context.Context, query []float32, k int, filter models.SearchFilter) ([]*Result, error) {
	if len(query) != b.shards.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), b.shards.dimensions)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.shards.topK(ctx, query, k, filter)
}

// SearchAbove returns every entry matching filter whose score is at least minScore.
func (b *BoltIndex) SearchAbove(ctx context.Context, query []float32, minScore float64, filter models.SearchFilter) ([]*Result, error) {
	if len(query) != b.shards.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), b.shards.dimensions)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.shards.above(ctx, query, minScore, filter)
}

// Delete removes entries by chunk id. Unknown ids are ignored.
func (b *BoltIndex) Delete(ctx context.Context, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.db.Update(func(tx *bbolt.Tx) error {
		loc := tx.Bucket(bucketLocator)
		for _, id := range ids {
			day, ok := b.shards.dayOf(id)
			if !ok {
				continue
			}
			if err := deleteFromDay(tx, day, id); err != nil {
				return err
			}
			if err := loc.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &IndexWriteError{Op: "delete", Err: err}
	}
	for _, id := range ids {
		b.shards.remove(id)
	}
	return nil
}

// Size returns the number of entries in the index.
func (b *BoltIndex) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.shards.size()
}

// Partitions returns the non-empty days in ascending order.
func (b *BoltIndex) Partitions() []models.Day {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.shards.partitions()
}

// Close closes the underlying database.
func (b *BoltIndex) Close() error {
	return b.db.Close()
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}

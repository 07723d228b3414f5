package vector

import (
	"container/heap"
	"context"
	"sort"

	"github.com/hyperjump/chikuseki/internal/models"
	"github.com/hyperjump/chikuseki/pkg/utils"
)

type stored struct {
	entry *Entry
	norm  float64
}

// shard holds the entries of one day.
type shard struct {
	entries map[string]*stored
}

// shardSet is the in-memory partition layout shared by every index type. It is not safe for
// concurrent use; callers hold their own lock.
type shardSet struct {
	dimensions int
	days       []models.Day // sorted ascending
	shards     map[models.Day]*shard
	locator    map[string]models.Day // chunk id -> day
}

func newShardSet(dimensions int) *shardSet {
	return &shardSet{
		dimensions: dimensions,
		shards:     make(map[models.Day]*shard),
		locator:    make(map[string]models.Day),
	}
}

// put inserts or replaces e, moving it out of its previous partition if the day changed.
func (s *shardSet) put(e *Entry) {
	if prev, ok := s.locator[e.ChunkID]; ok && prev != e.Date {
		s.remove(e.ChunkID)
	}
	sh, ok := s.shards[e.Date]
	if !ok {
		sh = &shard{entries: make(map[string]*stored)}
		s.shards[e.Date] = sh
		i := sort.Search(len(s.days), func(i int) bool { return s.days[i] >= e.Date })
		s.days = append(s.days, "")
		copy(s.days[i+1:], s.days[i:])
		s.days[i] = e.Date
	}
	vec := make([]float32, len(e.Vector))
	copy(vec, e.Vector)
	cp := *e
	cp.Vector = vec
	sh.entries[e.ChunkID] = &stored{entry: &cp, norm: utils.Norm(vec)}
	s.locator[e.ChunkID] = e.Date
}

// remove deletes id and drops its partition when it becomes empty.
func (s *shardSet) remove(id string) {
	day, ok := s.locator[id]
	if !ok {
		return
	}
	delete(s.locator, id)
	sh := s.shards[day]
	if sh == nil {
		return
	}
	delete(sh.entries, id)
	if len(sh.entries) == 0 {
		delete(s.shards, day)
		i := sort.Search(len(s.days), func(i int) bool { return s.days[i] >= day })
		if i < len(s.days) && s.days[i] == day {
			s.days = append(s.days[:i], s.days[i+1:]...)
		}
	}
}

func (s *shardSet) dayOf(id string) (models.Day, bool) {
	d, ok := s.locator[id]
	return d, ok
}

func (s *shardSet) size() int {
	return len(s.locator)
}

func (s *shardSet) partitions() []models.Day {
	out := make([]models.Day, len(s.days))
	copy(out, s.days)
	return out
}

// daysInRange returns the partitions inside the inclusive range. Empty bounds are open.
func (s *shardSet) daysInRange(from, to models.Day) []models.Day {
	lo := 0
	if from != "" {
		lo = sort.Search(len(s.days), func(i int) bool { return s.days[i] >= from })
	}
	hi := len(s.days)
	if to != "" {
		hi = sort.Search(len(s.days), func(i int) bool { return s.days[i] > to })
	}
	if lo >= hi {
		return nil
	}
	return s.days[lo:hi]
}

// scan visits every entry matching filter and calls visit with its score.
// It checks ctx between partitions.
func (s *shardSet) scan(ctx context.Context, query []float32, filter models.SearchFilter, visit func(*Result)) error {
	qn := utils.Norm(query)
	for _, day := range s.daysInRange(filter.From, filter.To) {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, st := range s.shards[day].entries {
			e := st.entry
			if !filter.Matches(e.Source, e.Date) {
				continue
			}
			var score float64
			if qn > 0 && st.norm > 0 {
				score = utils.Dot(query, e.Vector) / (qn * st.norm)
			}
			visit(&Result{
				ChunkID:     e.ChunkID,
				Score:       score,
				Source:      e.Source,
				Date:        e.Date,
				ExternalID:  e.ExternalID,
				DocumentRef: e.DocumentRef,
			})
		}
	}
	return nil
}

// topK keeps the k best results seen by scan.
func (s *shardSet) topK(ctx context.Context, query []float32, k int, filter models.SearchFilter) ([]*Result, error) {
	if k <= 0 {
		return []*Result{}, nil
	}
	h := &resultHeap{}
	err := s.scan(ctx, query, filter, func(r *Result) {
		if h.Len() < k {
			heap.Push(h, r)
			return
		}
		if better(r, (*h)[0]) {
			(*h)[0] = r
			heap.Fix(h, 0)
		}
	})
	if err != nil {
		return nil, err
	}
	out := make([]*Result, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(*Result)
	}
	return out, nil
}

// above returns every result scoring at least minScore, best first.
func (s *shardSet) above(ctx context.Context, query []float32, minScore float64, filter models.SearchFilter) ([]*Result, error) {
	out := []*Result{}
	err := s.scan(ctx, query, filter, func(r *Result) {
		if r.Score >= minScore {
			out = append(out, r)
		}
	})
	if err != nil {
		return nil, err
	}
	SortResults(out)
	return out, nil
}

// better orders results by score desc, then date desc, then chunk id asc.
func better(a, b *Result) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Date != b.Date {
		return a.Date > b.Date
	}
	return a.ChunkID < b.ChunkID
}

// SortResults sorts results best first with deterministic tie-breaks.
func SortResults(results []*Result) {
	sort.Slice(results, func(i, j int) bool { return better(results[i], results[j]) })
}

// resultHeap is a min-heap: the worst kept result sits at the root.
type resultHeap []*Result

func (h resultHeap) Len() int            { return len(h) }
func (h resultHeap) Less(i, j int) bool  { return better(h[j], h[i]) }
func (h resultHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x interface{}) { *h = append(*h, x.(*Result)) }
func (h *resultHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

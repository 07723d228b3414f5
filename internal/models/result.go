package models

// Hit is a single retrieved chunk.
type Hit struct {
	ChunkID       string  `json:"chunk_id"`
	Score         float64 `json:"score"`
	SemanticScore float64 `json:"semantic_score"`
	KeywordScore  float64 `json:"keyword_score,omitempty"`
	Source        Source  `json:"source"`
	Date          Day     `json:"date"`
	ExternalID    string  `json:"external_id"`
	DocumentRef   string  `json:"document_ref"`
	Text          string  `json:"text,omitempty"`
	Rank          int     `json:"rank"`
}

// DigestResult is the response to a DigestQuery.
type DigestResult struct {
	Query     string `json:"query"`
	Hits      []*Hit `json:"hits"`
	QueryTime int64  `json:"query_time_ms"`
}

// TrendBucket holds the matches that fall in one calendar period.
type TrendBucket struct {
	PeriodStart   Day    `json:"period_start"`
	PeriodEnd     Day    `json:"period_end"`
	TotalMatches  int    `json:"total_matches"`
	DocumentCount int    `json:"document_count"`
	Hits          []*Hit `json:"hits"`
}

// TrendResult is the response to a TrendQuery. Buckets are in chronological order.
type TrendResult struct {
	Query        string         `json:"query"`
	Granularity  Granularity    `json:"granularity"`
	Buckets      []*TrendBucket `json:"buckets"`
	TotalMatches int            `json:"total_matches"`
	QueryTime    int64          `json:"query_time_ms"`
}

// Counts returns the per-bucket match counts in order.
func (r *TrendResult) Counts() []int {
	out := make([]int, len(r.Buckets))
	for i, b := range r.Buckets {
		out[i] = b.TotalMatches
	}
	return out
}

// OutcomeResult is how one document fared in an ingest call.
type OutcomeResult string

const (
	OutcomeSucceeded OutcomeResult = "succeeded"
	OutcomeFailed    OutcomeResult = "failed"
	OutcomeSkipped   OutcomeResult = "skipped"
	OutcomePending   OutcomeResult = "pending"
)

// DocumentOutcome records the result for one document of a batch.
type DocumentOutcome struct {
	Key          LedgerKey     `json:"key"`
	Result       OutcomeResult `json:"result"`
	Reason       string        `json:"reason,omitempty"`
	Chunks       int           `json:"chunks"`
	FailedChunks int           `json:"failed_chunks,omitempty"`
}

// IngestionReport summarizes one ingest call. Pending counts documents left pending by cancellation.
type IngestionReport struct {
	RunID     string             `json:"run_id"`
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
	Skipped   int                `json:"skipped"`
	Pending   int                `json:"pending"`
	Chunks    int                `json:"chunks"`
	Outcomes  []*DocumentOutcome `json:"outcomes"`
	Duration  int64              `json:"duration_ms"`
}

// Add records an outcome and updates the counters.
func (r *IngestionReport) Add(o *DocumentOutcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Result {
	case OutcomeSucceeded:
		r.Succeeded++
	case OutcomeFailed:
		r.Failed++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomePending:
		r.Pending++
	}
	if o.Result == OutcomeSucceeded || o.Result == OutcomeFailed {
		r.Chunks += o.Chunks - o.FailedChunks
	}
}

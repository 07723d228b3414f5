package models

import (
	"fmt"
	"strings"
	"time"
)

// SearchFilter restricts a search by source and an inclusive day range.
// Empty Sources means every source; empty From/To are open bounds.
type SearchFilter struct {
	Sources []Source `json:"sources,omitempty"`
	From    Day      `json:"from,omitempty"`
	To      Day      `json:"to,omitempty"`
}

// Matches reports whether an entry with the given source and day passes the filter.
func (f SearchFilter) Matches(source Source, day Day) bool {
	if !day.Within(f.From, f.To) {
		return false
	}
	if len(f.Sources) == 0 {
		return true
	}
	for _, s := range f.Sources {
		if s == source {
			return true
		}
	}
	return false
}

// Validate checks sources and the day range.
func (f SearchFilter) Validate() error {
	for _, s := range f.Sources {
		if !s.Valid() {
			return fmt.Errorf("unknown source %q", s)
		}
	}
	if f.From != "" && !f.From.Valid() {
		return fmt.Errorf("invalid from day %q", f.From)
	}
	if f.To != "" && !f.To.Valid() {
		return fmt.Errorf("invalid to day %q", f.To)
	}
	if f.From != "" && f.To != "" && f.From > f.To {
		return fmt.Errorf("from %s is after to %s", f.From, f.To)
	}
	return nil
}

// DigestQuery asks for the top-k chunks relevant to Text inside a (usually single-day) range.
type DigestQuery struct {
	Text string `json:"text"`
	SearchFilter
	K int `json:"k,omitempty"`
}

// Validate ensures the query is usable and applies defaults. K defaults to defaultK and is capped at maxK.
func (q *DigestQuery) Validate(defaultK, maxK int) error {
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("query text cannot be empty")
	}
	if err := q.SearchFilter.Validate(); err != nil {
		return err
	}
	if q.K <= 0 {
		q.K = defaultK
	}
	if maxK > 0 && q.K > maxK {
		q.K = maxK
	}
	return nil
}

// Granularity is the width of a trend bucket.
type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
)

// ParseGranularity returns the granularity named by s.
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(s)); g {
	case GranularityDay, GranularityWeek, GranularityMonth:
		return g, nil
	}
	return "", fmt.Errorf("unknown granularity %q (supported: day, week, month)", s)
}

// PeriodStart returns the first day of the period containing d. Weeks start on Monday.
func (g Granularity) PeriodStart(d Day) Day {
	t := d.Time()
	switch g {
	case GranularityWeek:
		offset := (int(t.Weekday()) + 6) % 7
		return DayOf(t.AddDate(0, 0, -offset))
	case GranularityMonth:
		return DayOf(time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC))
	default:
		return d
	}
}

// Next returns the first day of the period following the one that starts at start.
func (g Granularity) Next(start Day) Day {
	t := start.Time()
	switch g {
	case GranularityWeek:
		return DayOf(t.AddDate(0, 0, 7))
	case GranularityMonth:
		return DayOf(t.AddDate(0, 1, 0))
	default:
		return DayOf(t.AddDate(0, 0, 1))
	}
}

// TrendQuery asks for per-period buckets of matches for Text, by default over all history.
type TrendQuery struct {
	Text string `json:"text"`
	SearchFilter
	Granularity Granularity `json:"granularity,omitempty"`
	KPerPeriod  int         `json:"k_per_period,omitempty"`
	// MinScore overrides the configured match threshold when set. Zero and negative
	// thresholds are honored; nil means the configured default.
	MinScore *float64 `json:"min_score,omitempty"`
	// FillEmpty includes zero-count periods between the first and last non-empty bucket.
	FillEmpty bool `json:"fill_empty,omitempty"`
}

// Validate ensures the query is usable and applies defaults.
func (q *TrendQuery) Validate(defaultGranularity Granularity, defaultK, maxK int) error {
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("query text cannot be empty")
	}
	if err := q.SearchFilter.Validate(); err != nil {
		return err
	}
	if q.Granularity == "" {
		q.Granularity = defaultGranularity
	}
	g, err := ParseGranularity(string(q.Granularity))
	if err != nil {
		return err
	}
	q.Granularity = g
	if q.MinScore != nil && (*q.MinScore < -1 || *q.MinScore > 1) {
		return fmt.Errorf("min_score %v outside [-1, 1]", *q.MinScore)
	}
	if q.KPerPeriod <= 0 {
		q.KPerPeriod = defaultK
	}
	if maxK > 0 && q.KPerPeriod > maxK {
		q.KPerPeriod = maxK
	}
	return nil
}

package search

import (
	"github.com/hyperjump/chikuseki/internal/config"
	"github.com/hyperjump/chikuseki/internal/models"
	"github.com/hyperjump/chikuseki/pkg/utils"
)

// ProcessDigest normalizes the query text, validates the query and applies configured defaults.
func ProcessDigest(q *models.DigestQuery, cfg *config.RetrievalConfig) error {
	q.Text = utils.CollapseWhitespace(q.Text)
	return q.Validate(cfg.DefaultK, cfg.MaxK)
}

// ProcessTrend normalizes the query text, validates the query and applies configured defaults.
func ProcessTrend(q *models.TrendQuery, cfg *config.RetrievalConfig) error {
	q.Text = utils.CollapseWhitespace(q.Text)
	if err := q.Validate(models.Granularity(cfg.TrendGranularity), cfg.TrendKPerPeriod, cfg.MaxK); err != nil {
		return err
	}
	if q.MinScore == nil {
		minScore := cfg.TrendMinScore
		q.MinScore = &minScore
	}
	return nil
}

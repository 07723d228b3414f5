package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperjump/chikuseki/internal/models"
	"github.com/spf13/cobra"
)

var (
	qFrom    string
	qTo      string
	qDay     string
	qSources []string
	qK       int

	qGranularity string
	qMinScore    float64
	qFillEmpty   bool
)

var digestCmd = &cobra.Command{
	Use:   "digest [flags] <query>",
	Short: "Top chunks for a query within a day range",
	Long: `Return the chunks most relevant to the query, restricted to a day range and
optionally to some sources. The query is all remaining arguments joined by
spaces, so quoting is optional.

Examples:
  chikuseki digest --day 2025-01-06 agent frameworks
  chikuseki digest --from 2025-01-01 --to 2025-01-07 --sources arxiv -k 20 "retrieval augmented generation"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDigest,
}

var trendCmd = &cobra.Command{
	Use:   "trend [flags] <query>",
	Short: "Match counts per day, week or month for a query",
	Long: `Bucket every chunk scoring at least the match threshold by calendar period
and report the count per period together with the best chunks of each period.

Examples:
  chikuseki trend "mixture of experts"
  chikuseki trend --granularity month --fill-empty --from 2024-01-01 RAG`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTrend,
}

func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&qFrom, "from", "", "first day (YYYY-MM-DD), inclusive")
	cmd.Flags().StringVar(&qTo, "to", "", "last day (YYYY-MM-DD), inclusive")
	cmd.Flags().StringSliceVar(&qSources, "sources", nil, "restrict to sources (hn_reddit, arxiv, report)")
}

func init() {
	addFilterFlags(digestCmd)
	digestCmd.Flags().StringVar(&qDay, "day", "", "single day; shorthand for --from DAY --to DAY")
	digestCmd.Flags().IntVarP(&qK, "k", "k", 0, "number of chunks (default retrieval.default_k)")

	addFilterFlags(trendCmd)
	trendCmd.Flags().StringVarP(&qGranularity, "granularity", "g", "", "day, week or month (default retrieval.trend_granularity)")
	trendCmd.Flags().IntVarP(&qK, "k", "k", 0, "chunks shown per period (default retrieval.trend_k_per_period)")
	trendCmd.Flags().Float64Var(&qMinScore, "min-score", 0, "match threshold in [-1, 1], zero and negative values included (default retrieval.trend_min_score)")
	trendCmd.Flags().BoolVar(&qFillEmpty, "fill-empty", false, "include empty periods between the first and last match")

	rootCmd.AddCommand(digestCmd, trendCmd)
}

// buildQueryText joins positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildQueryText(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// buildFilter assembles the source and day filter from flags.
func buildFilter(from, to, day string, sources []string) (models.SearchFilter, error) {
	var f models.SearchFilter
	if day != "" {
		if from != "" || to != "" {
			return f, fmt.Errorf("--day cannot be combined with --from or --to")
		}
		from, to = day, day
	}
	f.From, f.To = models.Day(from), models.Day(to)
	for _, s := range sources {
		src, err := models.ParseSource(strings.TrimSpace(s))
		if err != nil {
			return f, err
		}
		f.Sources = append(f.Sources, src)
	}
	return f, f.Validate()
}

func runDigest(cmd *cobra.Command, args []string) error {
	filter, err := buildFilter(qFrom, qTo, qDay, qSources)
	if err != nil {
		return err
	}
	q := &models.DigestQuery{Text: buildQueryText(args), SearchFilter: filter, K: qK}

	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()
	result, err := b.Digest(context.Background(), q)
	if err != nil {
		return fmt.Errorf("digest failed: %w", err)
	}
	return WriteDigest(cmd.OutOrStdout(), result, format)
}

func runTrend(cmd *cobra.Command, args []string) error {
	filter, err := buildFilter(qFrom, qTo, "", qSources)
	if err != nil {
		return err
	}
	q := &models.TrendQuery{
		Text:         buildQueryText(args),
		SearchFilter: filter,
		KPerPeriod:   qK,
		FillEmpty:    qFillEmpty,
	}
	if cmd.Flags().Changed("min-score") {
		minScore := qMinScore
		q.MinScore = &minScore
	}
	if qGranularity != "" {
		g, err := models.ParseGranularity(qGranularity)
		if err != nil {
			return err
		}
		q.Granularity = g
	}

	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()
	result, err := b.Trend(context.Background(), q)
	if err != nil {
		return fmt.Errorf("trend failed: %w", err)
	}
	return WriteTrend(cmd.OutOrStdout(), result, format)
}

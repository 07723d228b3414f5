package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hyperjump/chikuseki/internal/app"
	"github.com/hyperjump/chikuseki/internal/coordination"
	"github.com/hyperjump/chikuseki/internal/models"
	"github.com/hyperjump/chikuseki/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat returns the format named by s.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case OutputText, OutputJSON:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", s)
}

const (
	snippetWords = 40
	barWidth     = 30
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteDigest writes a digest result to w in the given format.
func WriteDigest(w io.Writer, result *models.DigestResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, result)
	}
	fmt.Fprintf(w, "\nFound %d chunks for %q in %dms\n\n", len(result.Hits), result.Query, result.QueryTime)
	for _, hit := range result.Hits {
		writeHit(w, hit)
	}
	return nil
}

func writeHit(w io.Writer, hit *models.Hit) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "#%d | Score: %.4f", hit.Rank, hit.Score)
	if hit.KeywordScore > 0 {
		fmt.Fprintf(w, " (Semantic: %.4f, Keyword: %.4f)", hit.SemanticScore, hit.KeywordScore)
	}
	fmt.Fprintf(w, "\n%s | %s | %s\n", hit.Date, hit.Source, hit.DocumentRef)
	if hit.Text != "" {
		fmt.Fprintf(w, "\n%s\n", TruncateWords(utils.CollapseWhitespace(hit.Text), snippetWords))
	}
	fmt.Fprintln(w)
}

// WriteTrend writes a trend result to w. Text output draws one bar per bucket scaled to the busiest period.
func WriteTrend(w io.Writer, result *models.TrendResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, result)
	}
	fmt.Fprintf(w, "\nTrend for %q by %s: %d matches in %d periods (%dms)\n\n",
		result.Query, result.Granularity, result.TotalMatches, len(result.Buckets), result.QueryTime)
	peak := 0
	for _, c := range result.Counts() {
		if c > peak {
			peak = c
		}
	}
	for _, b := range result.Buckets {
		fmt.Fprintf(w, "%s  %-*s %d", b.PeriodStart, barWidth, bar(b.TotalMatches, peak), b.TotalMatches)
		if b.DocumentCount > 0 {
			fmt.Fprintf(w, " (%d docs)", b.DocumentCount)
		}
		fmt.Fprintln(w)
		for _, hit := range b.Hits {
			fmt.Fprintf(w, "            %.3f %s  %s\n", hit.Score, hit.DocumentRef,
				utils.Truncate(utils.CollapseWhitespace(hit.Text), 80))
		}
	}
	return nil
}

func bar(n, peak int) string {
	if peak == 0 || n == 0 {
		return ""
	}
	width := n * barWidth / peak
	if width == 0 {
		width = 1
	}
	return strings.Repeat("█", width)
}

// WriteReport writes an ingestion report. Text output lists only the documents that did not succeed.
func WriteReport(w io.Writer, report *models.IngestionReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	fmt.Fprintf(w, "Run %s finished in %dms\n", report.RunID, report.Duration)
	fmt.Fprintf(w, "  succeeded: %d  failed: %d  skipped: %d  pending: %d  chunks: %d\n",
		report.Succeeded, report.Failed, report.Skipped, report.Pending, report.Chunks)
	for _, o := range report.Outcomes {
		if o.Result == models.OutcomeSucceeded {
			continue
		}
		fmt.Fprintf(w, "  %-9s %s", o.Result, o.Key)
		if o.Reason != "" {
			fmt.Fprintf(w, ": %s", o.Reason)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// WriteLedger writes ledger records as a table.
func WriteLedger(w io.Writer, records []*models.LedgerRecord, format OutputFormat) error {
	if format == OutputJSON {
		if records == nil {
			records = []*models.LedgerRecord{}
		}
		return writeJSON(w, records)
	}
	if len(records) == 0 {
		fmt.Fprintln(w, "No ledger records.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tSOURCE\tEXTERNAL ID\tSTATUS\tATTEMPTS\tCHUNKS\tLAST ERROR")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n", r.Date, r.Source, utils.Truncate(r.ExternalID, 48),
			r.Status, r.Attempts, r.ChunkCount, utils.Truncate(r.LastError, 60))
	}
	return tw.Flush()
}

// WriteSnapshot writes the coordination values.
func WriteSnapshot(w io.Writer, snap *coordination.Snapshot, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, snap)
	}
	fmt.Fprintf(w, "Last run:           %s\n", orNever(snap.LastRunDate))
	fmt.Fprintf(w, "Last success:       %s\n", orNever(snap.LastSuccessDate))
	fmt.Fprintf(w, "Last trend report:  %s\n", orNever(snap.LastTrendReportDate))
	if len(snap.BackoffUntil) == 0 {
		fmt.Fprintln(w, "Backoff:            none")
		return nil
	}
	fmt.Fprintln(w, "Backoff:")
	sources := make([]string, 0, len(snap.BackoffUntil))
	for src := range snap.BackoffUntil {
		sources = append(sources, string(src))
	}
	sort.Strings(sources)
	for _, src := range sources {
		fmt.Fprintf(w, "  %-10s until %s\n", src, snap.BackoffUntil[models.Source(src)].UTC().Format(time.RFC3339))
	}
	return nil
}

func orNever(d models.Day) string {
	if d == "" {
		return "never"
	}
	return string(d)
}

// WriteStatus writes the accumulation summary.
func WriteStatus(w io.Writer, st *app.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintln(w, "chikuseki status")
	fmt.Fprintln(w, "----------------")
	fmt.Fprintf(w, "Documents:      %d done, %d pending, %d failed\n",
		st.Ledger[models.StatusDone], st.Ledger[models.StatusPending], st.Ledger[models.StatusFailed])
	if st.Unsettled > 0 {
		since := "ever"
		if st.Coordination != nil && st.Coordination.LastSuccessDate != "" {
			since = "since " + string(st.Coordination.LastSuccessDate)
		}
		fmt.Fprintf(w, "Unsettled:      %d %s\n", st.Unsettled, since)
	}
	fmt.Fprintf(w, "Chunks:         %d\n", st.Chunks)
	fmt.Fprintf(w, "Vectors:        %d in %d day partitions\n", st.VectorIndexSize, st.Partitions)
	if st.FirstDay != "" {
		fmt.Fprintf(w, "Days:           %s .. %s\n", st.FirstDay, st.LastDay)
	}
	if st.KeywordDocuments > 0 {
		fmt.Fprintf(w, "Keyword index:  %d chunks\n", st.KeywordDocuments)
	}
	if u := st.DiskUsage; u != nil {
		names := make([]string, 0, len(u.Components))
		for name := range u.Components {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, len(names))
		for i, name := range names {
			parts[i] = name + " " + formatBytes(u.Components[name])
		}
		fmt.Fprintf(w, "Disk usage:     %s (%s)\n", formatBytes(u.Total), strings.Join(parts, ", "))
	}
	if c := st.EmbeddingCache; c != nil {
		fmt.Fprintf(w, "Embed cache:    %d entries, %d hits, %d misses\n", c.Entries, c.Hits, c.Misses)
	}
	if st.UptimeSeconds > 0 {
		fmt.Fprintf(w, "Uptime:         %s\n", (time.Duration(st.UptimeSeconds) * time.Second).String())
	}
	if c := st.Config; c != nil {
		fmt.Fprintf(w, "Embedding:      %s (%d dims)\n", c.EmbeddingProvider, c.EmbeddingDimensions)
		fmt.Fprintf(w, "Vector index:   %s\n", c.VectorIndexType)
		fmt.Fprintf(w, "Chunking:       %d chars, %d overlap\n", c.ChunkMaxChars, c.ChunkOverlapChars)
		fmt.Fprintf(w, "Hybrid digest:  %t\n", c.HybridDigest)
	}
	if st.Coordination != nil {
		fmt.Fprintln(w)
		return WriteSnapshot(w, st.Coordination, OutputText)
	}
	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/chikuseki/internal/models"
	"github.com/spf13/cobra"
)

const (
	markerLastRun         = "last-run"
	markerLastSuccess     = "last-success"
	markerLastTrendReport = "last-trend-report"
)

func errUnknownMarker(marker string) error {
	return fmt.Errorf("unknown coordination marker %q (supported: %s, %s, %s)",
		marker, markerLastRun, markerLastSuccess, markerLastTrendReport)
}

var (
	backoffFor   time.Duration
	backoffUntil string
)

var coordCmd = &cobra.Command{
	Use:   "coord",
	Short: "Show and set the values shared with external schedulers",
}

var coordShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show run dates and source backoffs",
	Args:  cobra.NoArgs,
	RunE:  runCoordShow,
}

var coordBackoffCmd = &cobra.Command{
	Use:   "backoff <source>",
	Short: "Skip a source during ingest until a time",
	Long: `Skip a source during ingest until a time. Use --for for a duration from now
or --until for an RFC 3339 timestamp.

Examples:
  chikuseki coord backoff arxiv --for 6h
  chikuseki coord backoff hn_reddit --until 2025-01-07T00:00:00Z`,
	Args: cobra.ExactArgs(1),
	RunE: runCoordBackoff,
}

var coordClearBackoffCmd = &cobra.Command{
	Use:   "clear-backoff <source>",
	Short: "Remove a source backoff",
	Args:  cobra.ExactArgs(1),
	RunE:  runCoordClearBackoff,
}

var coordSetCmd = &cobra.Command{
	Use:   "set <last-run|last-success|last-trend-report> <day>",
	Short: "Set a run date marker",
	Args:  cobra.ExactArgs(2),
	RunE:  runCoordSet,
}

func init() {
	coordBackoffCmd.Flags().DurationVar(&backoffFor, "for", 0, "back off for this long from now")
	coordBackoffCmd.Flags().StringVar(&backoffUntil, "until", "", "back off until this RFC 3339 time")

	coordCmd.AddCommand(coordShowCmd, coordBackoffCmd, coordClearBackoffCmd, coordSetCmd)
	rootCmd.AddCommand(coordCmd)
}

func runCoordShow(cmd *cobra.Command, args []string) error {
	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()
	snap, err := b.Coordination(context.Background())
	if err != nil {
		return err
	}
	return WriteSnapshot(cmd.OutOrStdout(), snap, format)
}

// backoffDeadline resolves --for and --until into one instant.
func backoffDeadline(forDur time.Duration, until string, now time.Time) (time.Time, error) {
	switch {
	case forDur > 0 && until != "":
		return time.Time{}, fmt.Errorf("use either --for or --until")
	case forDur > 0:
		return now.Add(forDur), nil
	case until != "":
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --until: %w", err)
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("--for or --until is required")
}

func runCoordBackoff(cmd *cobra.Command, args []string) error {
	src, err := models.ParseSource(args[0])
	if err != nil {
		return err
	}
	until, err := backoffDeadline(backoffFor, backoffUntil, time.Now())
	if err != nil {
		return err
	}
	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()
	if err := b.SetBackoff(context.Background(), src, until); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s backed off until %s\n", src, until.UTC().Format(time.RFC3339))
	return nil
}

func runCoordClearBackoff(cmd *cobra.Command, args []string) error {
	src, err := models.ParseSource(args[0])
	if err != nil {
		return err
	}
	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()
	if err := b.ClearBackoff(context.Background(), src); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s backoff cleared\n", src)
	return nil
}

func runCoordSet(cmd *cobra.Command, args []string) error {
	marker := args[0]
	switch marker {
	case markerLastRun, markerLastSuccess, markerLastTrendReport:
	default:
		return errUnknownMarker(marker)
	}
	day, err := models.ParseDay(args[1])
	if err != nil {
		return err
	}
	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()
	if err := b.SetMarker(context.Background(), marker, day); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s set to %s\n", marker, day)
	return nil
}

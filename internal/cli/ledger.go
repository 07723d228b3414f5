package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/chikuseki/internal/models"
	"github.com/spf13/cobra"
)

var (
	ledgerSince    string
	ledgerSource   string
	ledgerStatuses []string
	ledgerLimit    int
	reapOlderThan  time.Duration
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and repair the ingestion ledger",
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ledger records",
	Long: `List ledger records ordered by day, source and external id.

Examples:
  chikuseki ledger list --status failed
  chikuseki ledger list --since 2025-01-01 --source arxiv --limit 50`,
	Args: cobra.NoArgs,
	RunE: runLedgerList,
}

var ledgerRetryCmd = &cobra.Command{
	Use:   "retry <source> <day> <external-id>",
	Short: "Reset a failed record to pending so the next ingest picks it up",
	Args:  cobra.ExactArgs(3),
	RunE:  runLedgerRetry,
}

var ledgerReapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Fail pending records whose last attempt is older than a threshold",
	Args:  cobra.NoArgs,
	RunE:  runLedgerReap,
}

func init() {
	ledgerListCmd.Flags().StringVar(&ledgerSince, "since", "", "only records on or after this day")
	ledgerListCmd.Flags().StringVar(&ledgerSource, "source", "", "only records from this source")
	ledgerListCmd.Flags().StringSliceVar(&ledgerStatuses, "status", nil, "only records in these statuses (pending, done, failed)")
	ledgerListCmd.Flags().IntVar(&ledgerLimit, "limit", 0, "maximum records (0 = all)")
	ledgerReapCmd.Flags().DurationVar(&reapOlderThan, "older-than", 0, "age threshold (default ingest.stale_pending_after)")

	ledgerCmd.AddCommand(ledgerListCmd, ledgerRetryCmd, ledgerReapCmd)
	rootCmd.AddCommand(ledgerCmd)
}

func buildLedgerFilter(since, source string, statuses []string, limit int) (models.LedgerFilter, error) {
	f := models.LedgerFilter{Limit: limit}
	if since != "" {
		d, err := models.ParseDay(since)
		if err != nil {
			return f, err
		}
		f.Since = d
	}
	if source != "" {
		src, err := models.ParseSource(source)
		if err != nil {
			return f, err
		}
		f.Source = src
	}
	for _, s := range statuses {
		st, err := models.ParseLedgerStatus(strings.TrimSpace(s))
		if err != nil {
			return f, err
		}
		f.Statuses = append(f.Statuses, st)
	}
	if limit < 0 {
		return f, fmt.Errorf("--limit must not be negative")
	}
	return f, nil
}

func runLedgerList(cmd *cobra.Command, args []string) error {
	filter, err := buildLedgerFilter(ledgerSince, ledgerSource, ledgerStatuses, ledgerLimit)
	if err != nil {
		return err
	}
	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()
	records, err := b.Ledger(context.Background(), filter)
	if err != nil {
		return err
	}
	return WriteLedger(cmd.OutOrStdout(), records, format)
}

func parseLedgerKey(args []string) (models.LedgerKey, error) {
	src, err := models.ParseSource(args[0])
	if err != nil {
		return models.LedgerKey{}, err
	}
	day, err := models.ParseDay(args[1])
	if err != nil {
		return models.LedgerKey{}, err
	}
	if strings.TrimSpace(args[2]) == "" {
		return models.LedgerKey{}, fmt.Errorf("external id cannot be empty")
	}
	return models.LedgerKey{Source: src, Date: day, ExternalID: args[2]}, nil
}

func runLedgerRetry(cmd *cobra.Command, args []string) error {
	key, err := parseLedgerKey(args)
	if err != nil {
		return err
	}
	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()
	rec, err := b.Retry(context.Background(), key)
	if err != nil {
		return fmt.Errorf("retry %s: %w", key, err)
	}
	return WriteLedger(cmd.OutOrStdout(), []*models.LedgerRecord{rec}, format)
}

func runLedgerReap(cmd *cobra.Command, args []string) error {
	olderThan := reapOlderThan
	if olderThan <= 0 {
		olderThan = cfg.Ingest.StalePendingAfter
	}
	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()
	n, err := b.Reap(context.Background(), olderThan)
	if err != nil {
		return err
	}
	if format == OutputJSON {
		return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"reaped": n, "older_than": olderThan.String()})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Reaped %d pending records older than %s\n", n, olderThan)
	return nil
}

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/hyperjump/chikuseki/internal/app"
	"github.com/hyperjump/chikuseki/internal/feed"
	"github.com/hyperjump/chikuseki/internal/indexer"
	"github.com/hyperjump/chikuseki/internal/models"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var noProgress bool

var ingestCmd = &cobra.Command{
	Use:   "ingest <paths...>",
	Short: "Ingest feed files and directories",
	Long: `Ingest feed files and directories into the index. Directories are walked with
feed.patterns; file names must carry the source prefix and the day, for example
hn_reddit_2025-01-06.md, arxiv_2025-01-06.md or daily_report_2025-01-06.pdf.

Documents already done in the ledger are skipped, so re-running on the same
folder is safe. Interrupting leaves the remaining documents pending; they are
picked up on the next run.

Examples:
  chikuseki ingest ~/feeds
  chikuseki ingest arxiv_2025-01-06.md hn_reddit_2025-01-06.md
  chikuseki --server http://localhost:8080 ingest ~/feeds/today`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&noProgress, "no-progress", false, "do not draw a progress bar")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		report *models.IngestionReport
		err    error
	)
	if serverURL != "" {
		var docs []*models.Document
		docs, err = app.LoadPaths(ctx, feed.NewLoader(logger), cfg.Feed.Patterns, args)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Sending %d documents to %s...\n", len(docs), serverURL)
		report, err = newHTTPBackend(serverURL).Ingest(ctx, docs)
	} else {
		a, openErr := openApp()
		if openErr != nil {
			return openErr
		}
		defer a.Close()
		docs, loadErr := a.LoadPaths(ctx, args)
		if loadErr != nil {
			return loadErr
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Loaded %d documents\n", len(docs))
		var opts []indexer.Option
		if !noProgress && format == OutputText && len(docs) > 0 {
			opts = append(opts, indexer.WithProgress(newProgress()))
		}
		report, err = a.Ingest(ctx, docs, opts...)
	}
	if report != nil {
		if writeErr := WriteReport(cmd.OutOrStdout(), report, format); writeErr != nil {
			return writeErr
		}
	}
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d documents failed", report.Failed)
	}
	return nil
}

// newProgress returns a progress callback that creates its bar once the total is known.
func newProgress() func(done, total int) {
	var (
		mu  sync.Mutex
		bar *progressbar.ProgressBar
	)
	return func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionSetDescription("[cyan]Ingesting[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(os.Stderr)
				}),
			)
		}
		_ = bar.Set(done)
	}
}

package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hyperjump/chikuseki/internal/app"
	"github.com/hyperjump/chikuseki/internal/server"
	"github.com/hyperjump/chikuseki/internal/watcher"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and watch the feed directories",
	Long: `Run the HTTP API. When feed.watch is enabled, files dropped into the feed
directories are ingested as they appear, and files already present are
ingested at startup (documents the ledger has seen are skipped).

Pending ledger records older than ingest.stale_pending_after are failed at
startup so that they can be retried.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if n, err := a.Store.ReapStalePending(ctx, cfg.Ingest.StalePendingAfter); err != nil {
		logger.Warn("reaping stale pending records failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("reaped stale pending records", zap.Int("count", n))
	}

	var watch server.DirectoryLister
	if cfg.Feed.Watch && len(cfg.Feed.Directories) > 0 {
		w := watcher.NewWatcher(
			cfg.Feed.Directories,
			cfg.Feed.Patterns,
			cfg.Feed.RecursiveOrDefault(),
			func(path string) { ingestChanged(ctx, a, path) },
			watcher.WithLogger(logger),
		)
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
		w.SyncExisting()
		watch = w
	}

	srv := server.NewServer(a, &cfg.Server, logger, watch)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-errCh:
		return err
	}

	logger.Info("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Stop(shutdownCtx)
}

// ingestChanged ingests the documents of one new or modified feed file.
func ingestChanged(ctx context.Context, a *app.App, path string) {
	report, err := a.IngestFiles(ctx, []string{path})
	if err != nil {
		logger.Warn("feed file ingest failed", zap.String("path", path), zap.Error(err))
		return
	}
	logger.Info("feed file ingested",
		zap.String("path", path),
		zap.String("run_id", report.RunID),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
	)
}

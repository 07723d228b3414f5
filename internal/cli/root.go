// Package cli implements the chikuseki command line.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hyperjump/chikuseki/internal/app"
	"github.com/hyperjump/chikuseki/internal/config"
	"github.com/hyperjump/chikuseki/pkg/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// DefaultConfigPath is where the config is read from when --config is not given.
const DefaultConfigPath = "/usr/local/etc/chikuseki/config.yaml"

// Version is set by the main package.
var Version = "dev"

var (
	cfgFile   string
	debug     bool
	outputArg string
	serverURL string

	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	format     OutputFormat
)

var rootCmd = &cobra.Command{
	Use:   "chikuseki",
	Short: "Accumulate daily research feeds and query them as digests and trends",
	Long: `chikuseki accumulates daily research feeds (HN/Reddit digests, arXiv papers and
daily reports) into a day-partitioned vector index, and answers digest and
trend queries over everything it has seen.

Example usage:
  chikuseki serve                               # API server, watches feed directories
  chikuseki ingest ~/feeds/2025-01-06           # Ingest a folder of feed files
  chikuseki digest --from 2025-01-06 "agents"   # Top chunks for one day
  chikuseki trend --granularity month "RAG"     # Match counts per month`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if format, err = ParseOutputFormat(outputArg); err != nil {
			return err
		}
		if cmd.Annotations[skipConfig] == "true" {
			return nil
		}
		cfg, configPath, err = loadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger, err = utils.NewLogger(cfg.Debug || debug)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		logger.Debug("config loaded", zap.String("config_path", configPath))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// skipConfig marks commands that run without a config file.
const skipConfig = "skip-config"

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", DefaultConfigPath, "config file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&outputArg, "output", "o", string(OutputText), "output format: text or json")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "",
		"server URL to query instead of opening the stores directly (use while 'serve' is running)")
}

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development) and uses it if present.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == DefaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				c, err := config.Load(fallback)
				if err != nil {
					return nil, "", err
				}
				return c, fallback, nil
			}
		}
	}
	c, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return c, path, nil
}

// openApp opens the stores named by the loaded config.
func openApp() (*app.App, error) {
	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return a, nil
}

// openBackend returns the server client when --server is set, otherwise the local stores.
func openBackend() (backend, error) {
	if serverURL != "" {
		return newHTTPBackend(serverURL), nil
	}
	a, err := openApp()
	if err != nil {
		return nil, err
	}
	return &localBackend{app: a}, nil
}

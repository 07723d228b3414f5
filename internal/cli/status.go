package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/hyperjump/chikuseki/internal/config"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what has been accumulated",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBackend()
		if err != nil {
			return err
		}
		defer b.Close()
		st, err := b.Status(context.Background())
		if err != nil {
			return fmt.Errorf("status failed: %w", err)
		}
		return WriteStatus(cmd.OutOrStdout(), st, format)
	},
}

var versionCmd = &cobra.Command{
	Use:         "version",
	Short:       "Print the version",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{skipConfig: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "chikuseki version %s\n", Version)
	},
}

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a config file with the default settings",
	Long: `Write a config file with every setting at its default value. The path
defaults to --config. An existing file is only replaced with --force.`,
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{skipConfig: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if len(args) > 0 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to replace it)", path)
		}
		var c config.Config
		config.ApplyDefaults(&c)
		if err := config.Save(path, &c); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "replace an existing file")
	rootCmd.AddCommand(statusCmd, versionCmd, initCmd)
}

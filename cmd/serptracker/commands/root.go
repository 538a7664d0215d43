// Package commands wires the serptracker CLI.
package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stoic-cipher/serp-tracker/internal/config"
	"github.com/stoic-cipher/serp-tracker/internal/storage"
	"github.com/stoic-cipher/serp-tracker/internal/storage/postgres"
	"github.com/stoic-cipher/serp-tracker/internal/storage/sqlite"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "serptracker",
	Short:         "serptracker follows Google rankings for client keyword portfolios.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the configuration file")
}

// ExecuteContext runs the CLI, printing any error to stderr.
func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openStore builds the storage backend named by the configuration.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Database.Driver {
	case config.DriverSQLite:
		return sqlite.New(cfg.Database.Path)
	case config.DriverPostgres:
		return postgres.New(ctx, cfg.Database.DSN)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

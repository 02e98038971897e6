package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tendant/record-files/pkg/recordfiles"
	"github.com/tendant/record-files/pkg/recordfiles/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ServiceFactory builds the service a command runs against.
type ServiceFactory func(ctx context.Context, verbose bool) (recordfiles.Service, error)

func main() {
	_ = godotenv.Load()

	rootCmd := NewRootCommand(serviceFromEnv)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func NewRootCommand(factory ServiceFactory) *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "recordfiles",
		Short: "Manage records and their files",
		Long: `Command line interface for the record-files service.

Runs the service in-process using the same environment variables as the
server (DATABASE_URL, STORAGE_URL, DERIVED_ARTIFACTS, ...). Thumbnails and
fulltext are generated on upload exactly as they are behind the HTTP API.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	connect := func(cmd *cobra.Command) (recordfiles.Service, error) {
		return factory(cmd.Context(), verbose)
	}

	rootCmd.AddCommand(NewRecordCommand(connect))
	rootCmd.AddCommand(NewUploadCommand(connect))
	rootCmd.AddCommand(NewListCommand(connect))
	rootCmd.AddCommand(NewCatCommand(connect))
	rootCmd.AddCommand(NewRemoveCommand(connect))
	rootCmd.AddCommand(NewDeriveKeyCommand())
	rootCmd.AddCommand(NewMigrateCommand())

	return rootCmd
}

func serviceFromEnv(ctx context.Context, verbose bool) (recordfiles.Service, error) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(config.WithEnv(""))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.DatabaseType == "memory" {
		logger.Warn("DATABASE_URL not set, records will not outlive this command")
	}
	return cfg.BuildService(ctx, logger)
}

// Package cmd implements the kbsync command line interface.
//
// Design: Following the pattern used by kubectl, hugo, and other standard
// Go CLI tools, all application logic is contained in the cmd package,
// leaving main.go as a minimal entry point.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kbsync/kbsync/internal/app"
	"github.com/kbsync/kbsync/internal/config"
	"github.com/kbsync/kbsync/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "kbsync",
	Short: "kbsync - wiki knowledge base synchronizer",
	Long: `kbsync keeps a Q&A knowledge base in sync with a Confluence wiki.

It detects changed pages, generates question/answer pairs from their
content, indexes them for vector retrieval, and answers questions with
human-confirmed corrections taking precedence over generated material.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// initLogger builds the process logger.
//
// Log level is controlled by the DEBUG environment variable:
//   - DEBUG set (any value): debug level logging
//   - DEBUG not set: info level logging
//
// Logs go to stderr; stdout is reserved for command output.
func initLogger() log.Logger {
	cfg := log.Config{Level: slog.LevelInfo}
	if os.Getenv("DEBUG") != "" {
		cfg.Level = slog.LevelDebug
	}
	return log.New(cfg)
}

// withApp wraps a command body with the full setup/teardown cycle:
// logger, config, and the application container.
func withApp(fn func(ctx context.Context, a *app.App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		logger := initLogger()
		slog.SetDefault(logger)

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		ctx := cmd.Context()
		a, err := app.Setup(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				logger.Warn("shutdown", "error", err)
			}
		}()

		return fn(ctx, a, args)
	}
}

// Package cli provides the command-line interface for running and inspecting
// advisory refresh jobs.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/timmy/safetrip/internal/app"
	"github.com/timmy/safetrip/internal/config"
	"github.com/timmy/safetrip/internal/logger"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	configPath string
	verbose    bool

	// Initialized in PersistentPreRunE for commands that need storage
	application *app.App
	appLogger   *logger.Logger
)

// offline commands run without a database.
var offline = map[string]bool{
	"validate": true,
	"version":  true,
	"help":     true,
}

var rootCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run and inspect travel advisory refresh jobs",
	Long: `Refresh drives the bulk advisory ingestion outside the API server.

It shares the job store with the server, so a run started here is subject to
the same admission rules: one running job at a time and one completed run per day.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := "warn"
		if verbose {
			level = "debug"
		}
		appLogger = logger.New(&logger.Config{
			Level:       level,
			Format:      "text",
			Output:      os.Stderr,
			ServiceName: "safetrip-refresh",
		})
		logger.SetDefaultLogger(appLogger)

		if offline[cmd.Name()] {
			return nil
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		application, err = app.New(cmd.Context(), cfg, appLogger)
		if err != nil {
			return fmt.Errorf("initialize: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeApp()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(cleanupCmd)
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	// PersistentPostRun is skipped when a command fails
	defer closeApp()
	return rootCmd.ExecuteContext(ctx)
}

func closeApp() {
	if application == nil {
		return
	}
	if err := application.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close resources: %v\n", err)
	}
	application = nil
}

// out is where command results are printed.
func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}

package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/timmy/safetrip/internal/domain"
)

var (
	historyLimit     int
	cleanupOlderThan time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the state of a refresh job",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent refresh jobs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete finished jobs older than a cutoff",
	Long: `Cleanup removes completed, failed and cancelled jobs started before the
cutoff, together with their per-country progress. Running jobs are never touched.

Examples:
  refresh cleanup --older-than 720h`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "max jobs")
	cleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 30*24*time.Hour, "age cutoff")
}

func runStatus(cmd *cobra.Command, args []string) error {
	view, err := application.Orchestrator.Status(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printJob(cmd, view)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	if historyLimit < 1 {
		return fmt.Errorf("--limit must be positive")
	}
	views, err := application.Orchestrator.History(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	if len(views) == 0 {
		fmt.Fprintln(out(cmd), "No jobs.")
		return nil
	}
	for _, v := range views {
		fmt.Fprintf(out(cmd), "%s  %-9s  %-9s  %d/%d processed, %d failed  %s\n",
			v.ID, v.Status, v.Trigger, v.ProcessedCountries, v.TotalCountries,
			v.FailedCountries, v.StartedAt.Format(time.RFC3339))
	}
	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	if cleanupOlderThan <= 0 {
		return fmt.Errorf("--older-than must be positive")
	}
	cutoff := time.Now().Add(-cleanupOlderThan)
	n, err := application.Jobs.DeleteJobsBefore(cmd.Context(), cutoff)
	if err != nil {
		return err
	}
	fmt.Fprintf(out(cmd), "Deleted %d job(s) started before %s\n", n, cutoff.Format(time.RFC3339))
	return nil
}

func printJob(cmd *cobra.Command, v domain.JobView) {
	w := out(cmd)
	fmt.Fprintf(w, "Job:        %s\n", v.ID)
	fmt.Fprintf(w, "Status:     %s\n", v.Status)
	if v.Trigger != "" {
		fmt.Fprintf(w, "Trigger:    %s\n", v.Trigger)
	}
	fmt.Fprintf(w, "Progress:   %d/%d processed, %d failed\n", v.ProcessedCountries, v.TotalCountries, v.FailedCountries)
	if v.CurrentCountry != "" {
		fmt.Fprintf(w, "Current:    %s\n", v.CurrentCountry)
	}
	fmt.Fprintf(w, "Started:    %s\n", v.StartedAt.Format(time.RFC3339))
	if v.CompletedAt != nil {
		fmt.Fprintf(w, "Completed:  %s\n", v.CompletedAt.Format(time.RFC3339))
	}
	if len(v.Errors) > 0 {
		fmt.Fprintf(w, "Errors:\n")
		for _, e := range v.Errors {
			fmt.Fprintf(w, "  - %s: %s\n", e.Country, strings.TrimSpace(e.Error))
		}
	}
}

func contextWithTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}

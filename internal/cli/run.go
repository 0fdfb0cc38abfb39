package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/timmy/safetrip/internal/domain"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a full refresh and wait for it to finish",
	Long: `Run refreshes every supported country in batches and blocks until the job
reaches a terminal state.

Interrupting the command stops at the next safe point and leaves the job
running, so "refresh resume" or the API server can pick it up again.`,
	Args: cobra.NoArgs,
	RunE: runRefresh,
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume jobs left running by an interrupted process",
	Args:  cobra.NoArgs,
	RunE:  runResume,
}

func runRefresh(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	orch := application.Orchestrator

	view, err := orch.RunSync(ctx, domain.TriggerCLI)
	if err != nil {
		if ctx.Err() != nil {
			return shutdown(cmd, "refresh interrupted, job left running")
		}
		return err
	}

	printJob(cmd, view)
	if view.Status == domain.JobStatusFailed {
		return fmt.Errorf("job %s failed", view.ID)
	}
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	orch := application.Orchestrator

	n, err := orch.Resume(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Fprintln(out(cmd), "No interrupted jobs.")
		return nil
	}

	fmt.Fprintf(out(cmd), "Resuming %d job(s)...\n", n)
	done := make(chan struct{})
	go func() {
		orch.Wait()
		close(done)
	}()

	select {
	case <-done:
		fmt.Fprintln(out(cmd), "Done.")
		return nil
	case <-ctx.Done():
		return shutdown(cmd, "resume interrupted, jobs left running")
	}
}

func shutdown(cmd *cobra.Command, msg string) error {
	shutdownCtx, cancel := contextWithTimeout(30 * time.Second)
	defer cancel()
	if err := application.Orchestrator.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s: %w", msg, err)
	}
	fmt.Fprintln(out(cmd), msg)
	return nil
}

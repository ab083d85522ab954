package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lowforge/internal/model"
	"lowforge/internal/watch"
)

var (
	runHumanInLoop bool
	runInteractive bool
	runParallel    int
	runTitle       string
	runDescription string
	runRequires    []string
	runPriority    int
)

// runCmd executes one or more workflow runs from request files.
var runCmd = &cobra.Command{
	Use:   "run [request.yaml...]",
	Short: "Execute development requests through the workflow",
	Long: `Runs each request file through the full workflow: knowledge search,
development, validation, review, knowledge update. Multiple files run
as a batch with bounded parallelism.

A request can also be given inline:
  lowforge run --title "Invoice Form" --description "capture billing data"`,
	RunE: runWorkflows,
}

// validateCmd re-validates a stored solution.
var validateCmd = &cobra.Command{
	Use:   "validate [solution-id]",
	Short: "Re-validate a stored solution",
	Args:  cobra.ExactArgs(1),
	RunE:  revalidateSolution,
}

func init() {
	runCmd.Flags().BoolVar(&runHumanInLoop, "human-in-loop", false, "Leave mid-confidence solutions pending for review")
	runCmd.Flags().BoolVarP(&runInteractive, "interactive", "i", false, "Show live progress while the workflow runs")
	runCmd.Flags().IntVar(&runParallel, "parallel", 1, "Maximum concurrent workflow runs for a batch")
	runCmd.Flags().StringVar(&runTitle, "title", "", "Inline request title")
	runCmd.Flags().StringVar(&runDescription, "description", "", "Inline request description")
	runCmd.Flags().StringSliceVar(&runRequires, "requirement", nil, "Inline request requirement (repeatable)")
	runCmd.Flags().IntVar(&runPriority, "priority", int(model.PriorityMedium), "Inline request priority (1-5)")
}

// signalContext returns a context cancelled by SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func runWorkflows(cmd *cobra.Command, args []string) error {
	reqs, err := collectRequests(args)
	if err != nil {
		return err
	}
	if len(reqs) == 0 {
		return fmt.Errorf("no requests given: pass request files or --title")
	}

	rt, err := newAppRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := signalContext()
	defer cancel()

	var stopProgress func()
	if runInteractive {
		stopProgress = startProgressView(rt.orch.Events())
	}

	var solutions []*model.Solution
	if len(reqs) == 1 {
		logger.Info("Running request", zap.String("request_id", reqs[0].ID), zap.String("title", reqs[0].Title))
		solutions = []*model.Solution{rt.orch.Execute(ctx, reqs[0], runHumanInLoop)}
	} else {
		logger.Info("Running batch", zap.Int("requests", len(reqs)), zap.Int("parallel", runParallel))
		solutions = rt.orch.RunBatch(ctx, reqs, runParallel, runHumanInLoop)
	}

	if stopProgress != nil {
		stopProgress()
	}

	failures := 0
	for i, sol := range solutions {
		if err := printRunReport(reqs[i], sol); err != nil {
			// Fall back to a bare summary if rendering fails.
			fmt.Printf("%s: %s (rate=%.2f)\n", reqs[i].Title, sol.RewardDecision, sol.SuccessRate)
		}
		if sol.RewardDecision == model.DecisionRejected {
			failures++
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d requests rejected", failures, len(reqs))
	}
	return nil
}

// collectRequests merges file-based and inline requests.
func collectRequests(paths []string) ([]*model.Request, error) {
	var reqs []*model.Request
	for _, path := range paths {
		req, err := watch.LoadRequest(path)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	if runTitle != "" {
		reqs = append(reqs, model.NewRequest(runTitle, runDescription, runRequires, model.Priority(runPriority)))
	}
	return reqs, nil
}

func revalidateSolution(cmd *cobra.Command, args []string) error {
	rt, err := newAppRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	sol, err := rt.store.GetSolution(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	logger.Info("Re-validating solution", zap.String("solution_id", sol.ID))
	result, err := rt.orch.Revalidate(ctx, sol)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sol.SetValidationResult(result)
	if err := rt.store.SaveSolution(sol); err != nil {
		return fmt.Errorf("failed to save validation result: %w", err)
	}

	fmt.Printf("Solution %s: score=%.2f valid=%t\n", sol.ID, result.Score, result.IsValid)
	for _, issue := range result.Issues {
		fmt.Printf("  issue: %s\n", issue)
	}
	for _, s := range result.Suggestions {
		fmt.Printf("  suggestion: %s\n", s)
	}
	return nil
}

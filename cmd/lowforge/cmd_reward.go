package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lowforge/internal/knowledge"
	"lowforge/internal/model"
)

var (
	rewardDecision     string
	rewardEvaluator    string
	scoreFunctionality float64
	scoreQuality       float64
	scorePerformance   float64
	scoreSatisfaction  float64

	cleanupRetentionDays int
)

// rewardCmd records a human review decision for a stored solution. The
// decision runs through the same knowledge pipeline as an automated one:
// success-rate nudge, version record, ledger entry, and (for accepted
// solutions) pattern distillation.
var rewardCmd = &cobra.Command{
	Use:   "reward [solution-id]",
	Short: "Record a review decision for a solution",
	Long: `Records an accepted/rejected/pending decision for a stored solution.
Accepting distills the solution into a reusable knowledge entry; the
decision always appends a version record and a reward transaction.

Score flags attach a weighted evaluation alongside the decision:
  lowforge reward sol_a1b2c3d4 --decision accepted --functionality 0.9`,
	Args: cobra.ExactArgs(1),
	RunE: rewardSolution,
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback [solution-id]",
	Short: "Roll a solution back to its previous version",
	Long: `Marks the solution rejected and appends a rollback version that copies
the previous snapshot forward. History is never destroyed.`,
	Args: cobra.ExactArgs(1),
	RunE: rollbackSolution,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old rejected solutions",
	Long: `Deletes rejected solutions older than the retention window. Accepted
and pending solutions are kept regardless of age.`,
	RunE: cleanupSolutions,
}

func init() {
	rewardCmd.Flags().StringVar(&rewardDecision, "decision", "", "Decision: accepted, rejected, or pending (required)")
	rewardCmd.Flags().StringVar(&rewardEvaluator, "evaluator", "", "Evaluator id recorded on the evaluation")
	rewardCmd.Flags().Float64Var(&scoreFunctionality, "functionality", -1, "Functionality score in [0,1]")
	rewardCmd.Flags().Float64Var(&scoreQuality, "quality", -1, "Code quality score in [0,1]")
	rewardCmd.Flags().Float64Var(&scorePerformance, "performance", -1, "Performance score in [0,1]")
	rewardCmd.Flags().Float64Var(&scoreSatisfaction, "satisfaction", -1, "User satisfaction score in [0,1]")
	_ = rewardCmd.MarkFlagRequired("decision")

	cleanupCmd.Flags().IntVar(&cleanupRetentionDays, "retention-days", 90, "Delete rejected solutions older than this many days")
}

func rewardSolution(cmd *cobra.Command, args []string) error {
	decision, err := model.ParseRewardDecision(rewardDecision)
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	// Distillation prompts the model only for accepted solutions.
	manager, err := newManager(st, decision == model.DecisionAccepted)
	if err != nil {
		return err
	}

	sol, err := st.GetSolution(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := manager.Store(ctx, sol, decision); err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}
	fmt.Printf("Solution %s: %s (rate=%.2f, %+d points)\n",
		sol.ID, decisionLabel(decision), sol.SuccessRate, model.RewardPoints(decision))

	if scoreFunctionality >= 0 || scoreQuality >= 0 || scorePerformance >= 0 || scoreSatisfaction >= 0 {
		fb := knowledge.Feedback{
			Functionality:    zeroIfUnset(scoreFunctionality),
			CodeQuality:      zeroIfUnset(scoreQuality),
			Performance:      zeroIfUnset(scorePerformance),
			UserSatisfaction: zeroIfUnset(scoreSatisfaction),
			EvaluatorID:      rewardEvaluator,
		}
		eval, err := manager.Evaluate(ctx, sol, fb)
		if err != nil {
			return fmt.Errorf("failed to record evaluation: %w", err)
		}
		fmt.Printf("Evaluation %s: overall=%.2f\n", eval.ID, eval.OverallScore)
	}
	return nil
}

func zeroIfUnset(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func rollbackSolution(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	manager, err := newManager(st, false)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	sol, err := manager.Rollback(ctx, args[0])
	if err != nil {
		return err
	}
	logger.Info("Rolled back solution",
		zap.String("solution_id", sol.ID), zap.Int("version", sol.Version))
	fmt.Printf("Solution %s rolled back to version %d (%s)\n",
		sol.ID, sol.Version, decisionLabel(sol.RewardDecision))
	return nil
}

func cleanupSolutions(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	manager, err := newManager(st, false)
	if err != nil {
		return err
	}

	n, err := manager.Cleanup(cleanupRetentionDays)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d rejected solutions older than %d days\n", n, cleanupRetentionDays)
	return nil
}

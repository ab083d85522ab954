package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"lowforge/internal/model"
)

var solutionsLimit int

// solutionsCmd groups solution inspection commands.
var solutionsCmd = &cobra.Command{
	Use:   "solutions",
	Short: "Inspect stored solutions",
}

var solutionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored solutions",
	RunE:  listSolutions,
}

var solutionsShowCmd = &cobra.Command{
	Use:   "show [solution-id]",
	Short: "Show one solution with its operations and version lineage",
	Args:  cobra.ExactArgs(1),
	RunE:  showSolution,
}

func init() {
	solutionsListCmd.Flags().IntVar(&solutionsLimit, "limit", 20, "Maximum solutions to list")
	solutionsCmd.AddCommand(solutionsListCmd)
	solutionsCmd.AddCommand(solutionsShowCmd)
}

func listSolutions(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	sols, err := st.ListSolutions(solutionsLimit)
	if err != nil {
		return err
	}
	if len(sols) == 0 {
		fmt.Println("No solutions stored yet.")
		return nil
	}

	fmt.Printf("%-14s %-10s %-6s %-8s %s\n", "ID", "DECISION", "RATE", "OPS", "TITLE")
	for _, sol := range sols {
		fmt.Printf("%-14s %-10s %-6.2f %-8d %s\n",
			sol.ID, sol.RewardDecision, sol.SuccessRate, len(sol.Operations), sol.Title)
	}
	return nil
}

func showSolution(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	sol, err := st.GetSolution(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Solution %s (version %d)\n", sol.ID, sol.Version)
	fmt.Printf("  Title:        %s\n", sol.Title)
	if sol.Description != "" {
		fmt.Printf("  Description:  %s\n", sol.Description)
	}
	fmt.Printf("  Request:      %s\n", sol.RequestID)
	fmt.Printf("  Decision:     %s\n", sol.RewardDecision)
	fmt.Printf("  Success rate: %.2f\n", sol.SuccessRate)
	fmt.Printf("  Exec time:    %.1fs\n", sol.ExecutionTime)
	if len(sol.Tags) > 0 {
		fmt.Printf("  Tags:         %s\n", strings.Join(sol.Tags, ", "))
	}
	fmt.Printf("  Created:      %s\n", sol.CreatedAt.Format("2006-01-02 15:04:05"))

	if len(sol.Operations) > 0 {
		fmt.Printf("\nOperations (%d):\n", len(sol.Operations))
		for i, op := range sol.Operations {
			status := "ok"
			if !op.Success {
				status = "FAILED"
			}
			fmt.Printf("  %2d. [%s] %s %s on %s (%.1fs)\n",
				i+1, status, op.Type, op.Action, op.TargetElement, op.ExecutionTime)
			if op.ErrorMessage != "" {
				fmt.Printf("      error: %s\n", op.ErrorMessage)
			}
		}
	}

	if vr := sol.ValidationResult; vr != nil {
		fmt.Printf("\nValidation: score=%.2f valid=%t (%s)\n", vr.Score, vr.IsValid, vr.ValidatorAgent)
		for _, issue := range vr.Issues {
			fmt.Printf("  issue: %s\n", issue)
		}
		for _, s := range vr.Suggestions {
			fmt.Printf("  suggestion: %s\n", s)
		}
	}

	versions, err := st.ListVersions(sol.ID)
	if err == nil && len(versions) > 0 {
		fmt.Printf("\nVersion lineage:\n")
		for _, v := range versions {
			marker := ""
			if v.IsRollback {
				marker = " (rollback)"
			}
			fmt.Printf("  v%d%s: %s — %s\n", v.VersionNumber, marker,
				v.CreatedAt.Format("2006-01-02 15:04"), v.ChangeSummary)
		}
	}

	txs, err := st.ListTransactions(sol.ID)
	if err == nil && len(txs) > 0 {
		fmt.Printf("\nReward ledger:\n")
		for _, tx := range txs {
			fmt.Printf("  %+d (%s): %s\n", tx.RewardPoints, tx.Status, tx.RewardReason)
		}
	}
	return nil
}

// decisionLabel renders a decision with a glyph, for report output.
func decisionLabel(d model.RewardDecision) string {
	switch d {
	case model.DecisionAccepted:
		return "✓ accepted"
	case model.DecisionRejected:
		return "✗ rejected"
	default:
		return "… pending"
	}
}

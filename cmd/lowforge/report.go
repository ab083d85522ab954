package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"lowforge/internal/model"
)

// printRunReport renders a markdown summary of one finished run.
func printRunReport(req *model.Request, sol *model.Solution) error {
	out, err := glamour.Render(buildRunReport(req, sol), "auto")
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

func buildRunReport(req *model.Request, sol *model.Solution) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", req.Title)
	fmt.Fprintf(&b, "**Decision:** %s  \n", decisionLabel(sol.RewardDecision))
	fmt.Fprintf(&b, "**Solution:** `%s`  \n", sol.ID)
	fmt.Fprintf(&b, "**Success rate:** %.2f  \n", sol.SuccessRate)
	fmt.Fprintf(&b, "**Execution time:** %.1fs\n", sol.ExecutionTime)

	if len(sol.Operations) > 0 {
		fmt.Fprintf(&b, "\n## Operations (%d)\n\n", len(sol.Operations))
		for i, op := range sol.Operations {
			mark := "x"
			if !op.Success {
				mark = " "
			}
			fmt.Fprintf(&b, "- [%s] %d. %s %s on `%s`\n", mark, i+1, op.Type, op.Action, op.TargetElement)
			if op.ErrorMessage != "" {
				fmt.Fprintf(&b, "  - error: %s\n", op.ErrorMessage)
			}
		}
	}

	if vr := sol.ValidationResult; vr != nil {
		fmt.Fprintf(&b, "\n## Validation\n\n")
		fmt.Fprintf(&b, "Score **%.2f**, valid: **%t**\n", vr.Score, vr.IsValid)
		if len(vr.Issues) > 0 {
			fmt.Fprintf(&b, "\nIssues:\n\n")
			for _, issue := range vr.Issues {
				fmt.Fprintf(&b, "- %s\n", issue)
			}
		}
		if len(vr.Suggestions) > 0 {
			fmt.Fprintf(&b, "\nSuggestions:\n\n")
			for _, s := range vr.Suggestions {
				fmt.Fprintf(&b, "- %s\n", s)
			}
		}
	}

	if sol.RewardDecision == model.DecisionPending {
		fmt.Fprintf(&b, "\n> Pending review: accept or reject with `lowforge reward %s --decision ...`\n", sol.ID)
	}
	return b.String()
}

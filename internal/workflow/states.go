// Package workflow contains the orchestration layer: an explicit
// finite-state machine that sequences knowledge search, development,
// validation, review and knowledge update for one request, plus the
// developer and validator sub-workflows it drives. All loops are
// bounded by error budgets and an iteration budget, so a run always
// terminates even when every external call fails.
package workflow

import (
	"strings"

	"lowforge/internal/config"
	"lowforge/internal/model"
)

// State names one node of the orchestrator state machine.
type State string

const (
	StateInitialize      State = "initialize"
	StateSearchKnowledge State = "search_knowledge"
	StateDevelop         State = "develop"
	StateValidate        State = "validate"
	StateReview          State = "review"
	StateUpdateKnowledge State = "update_knowledge"
	StateFinalize        State = "finalize"
	StateHandleError     State = "handle_error"
)

// AfterDevelopment picks the next state once a development iteration
// returns: recorded errors route to error handling, an empty plan with
// budget remaining retries development, anything else moves on to
// validation.
func AfterDevelopment(failed bool, sol *model.Solution, iteration, maxIterations int) State {
	if failed {
		return StateHandleError
	}
	if (sol == nil || len(sol.Operations) == 0) && iteration < maxIterations {
		return StateDevelop
	}
	return StateValidate
}

// AfterValidation routes to review only when validation produced a
// result; a recorded error or a missing result is unrecoverable.
func AfterValidation(failed bool, result *model.ValidationResult) State {
	if failed || result == nil {
		return StateHandleError
	}
	return StateReview
}

// Review is the pure decision function over the validation outcome:
//
//   - score ≥ auto_accept_score and valid        → accepted
//   - review_score ≤ score < auto and valid      → pending when a human
//     is in the loop, accepted otherwise
//   - score < review_score or invalid            → pending while the
//     iteration budget holds, rejected once it is spent
func Review(result *model.ValidationResult, iteration, maxIterations int, humanInLoop bool, cfg config.WorkflowConfig) model.RewardDecision {
	if result == nil {
		return model.DecisionRejected
	}
	switch {
	case result.IsValid && result.Score >= cfg.AutoAcceptScore:
		return model.DecisionAccepted
	case result.IsValid && result.Score >= cfg.ReviewScore:
		if humanInLoop {
			return model.DecisionPending
		}
		return model.DecisionAccepted
	default:
		if iteration < maxIterations {
			return model.DecisionPending
		}
		return model.DecisionRejected
	}
}

// AfterReview maps a review decision to the next state. Accepted
// solutions feed the knowledge base. A retryable outcome (a pending
// decision from the low score band, or a rejection) re-enters
// development while iterations remain; pending decisions awaiting a
// human reviewer finalize as-is.
func AfterReview(decision model.RewardDecision, result *model.ValidationResult, iteration, maxIterations int, cfg config.WorkflowConfig) State {
	switch decision {
	case model.DecisionAccepted:
		return StateUpdateKnowledge
	case model.DecisionRejected:
		if iteration < maxIterations {
			return StateDevelop
		}
		return StateFinalize
	default:
		// Pending from the low band means "try again"; pending from
		// the review band means "wait for a human".
		if result != nil && (!result.IsValid || result.Score < cfg.ReviewScore) && iteration < maxIterations {
			return StateDevelop
		}
		return StateFinalize
	}
}

// positiveIndicators is the fixed vocabulary a vision verdict must
// mention for a screenshot to count as evidence of success.
var positiveIndicators = []string{
	"success", "successful", "succeeded",
	"complete", "completed",
	"created", "saved", "submitted",
	"correct", "as expected", "passed",
}

// hasPositiveIndicator reports whether any suggestion line contains a
// positive-indicator phrase (case-insensitive).
func hasPositiveIndicator(suggestions []string) bool {
	for _, s := range suggestions {
		lower := strings.ToLower(s)
		for _, ind := range positiveIndicators {
			if strings.Contains(lower, ind) {
				return true
			}
		}
	}
	return false
}

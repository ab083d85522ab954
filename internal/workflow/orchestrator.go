package workflow

import (
	"context"
	"fmt"
	"time"

	"lowforge/internal/automation"
	"lowforge/internal/config"
	"lowforge/internal/knowledge"
	"lowforge/internal/llm"
	"lowforge/internal/logging"
	"lowforge/internal/model"
	"lowforge/internal/vision"
)

// KnowledgeBase is the slice of the knowledge manager the orchestrator
// depends on.
type KnowledgeBase interface {
	SearchSimilar(ctx context.Context, req *model.Request, limit int) ([]knowledge.ScoredSolution, error)
	Store(ctx context.Context, sol *model.Solution, decision model.RewardDecision) error
}

// developerPort and validatorPort let tests substitute the sub-workflows.
type developerPort interface {
	Develop(ctx context.Context, req *model.Request, prior []knowledge.ScoredSolution) (*model.Solution, error)
}

type validatorPort interface {
	Validate(ctx context.Context, sol *model.Solution) (*model.ValidationResult, error)
}

// Orchestrator runs the top-level state machine for one request at a
// time. Instances are safe for concurrent Execute calls: each call
// carries its own run state and browser sessions are never shared.
type Orchestrator struct {
	cfg      config.WorkflowConfig
	platform config.PlatformConfig
	kb       KnowledgeBase
	dev      developerPort
	val      validatorPort
	events   chan Event
}

// NewOrchestrator builds the orchestrator and its sub-workflows from
// the shared ports.
func NewOrchestrator(cfg *config.Config, client llm.Client, analyzer vision.Analyzer, drivers automation.Factory, kb KnowledgeBase) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg.Workflow,
		platform: cfg.Platform,
		kb:       kb,
		dev:      NewDeveloper(client, analyzer, drivers, cfg.Platform, cfg.Workflow),
		val:      NewValidator(client, analyzer, drivers, cfg.Platform, cfg.Workflow),
		events:   make(chan Event, 64),
	}
}

// run is the mutable state of one Execute call.
type run struct {
	req         *model.Request
	humanInLoop bool
	prior       []knowledge.ScoredSolution
	solution    *model.Solution
	result      *model.ValidationResult
	decision    model.RewardDecision
	iteration   int
	failed      bool
	errors      []string
	startedAt   time.Time
}

// Execute runs the full workflow for the request and always returns a
// solution: residual failures surface as a rejected solution carrying
// the failure reason in its description, never as a panic to the caller.
func (o *Orchestrator) Execute(ctx context.Context, req *model.Request, humanInLoop bool) (sol *model.Solution) {
	defer func() {
		if r := recover(); r != nil {
			logging.WorkflowError("[Orchestrator] Run panicked: %v", r)
			sol = o.failedSolution(req, fmt.Sprintf("workflow failed: %v", r))
		}
	}()

	r := &run{req: req, humanInLoop: humanInLoop, startedAt: time.Now()}

	state := StateInitialize
	reqID := ""
	if req != nil {
		reqID = req.ID
	}
	o.emit(EventRunStarted, reqID, state, "")
	logging.Audit(logging.AuditWorkflowStart, reqID, "", "", nil)

	for state != StateFinalize {
		next := o.step(ctx, r, state)
		logging.WorkflowDebug("[Orchestrator] %s → %s (iteration=%d)", state, next, r.iteration)
		logging.AuditTransition(reqID, string(state), string(next), "")
		o.emit(EventTransition, reqID, next, "")
		state = next
	}

	return o.finalize(r)
}

// step executes one state and returns the next one.
func (o *Orchestrator) step(ctx context.Context, r *run, state State) State {
	switch state {
	case StateInitialize:
		if r.req == nil || r.req.Title == "" {
			r.failed = true
			r.errors = append(r.errors, "request is absent or malformed")
			return StateHandleError
		}
		return StateSearchKnowledge

	case StateSearchKnowledge:
		prior, err := o.kb.SearchSimilar(ctx, r.req, 5)
		if err != nil {
			// Non-fatal: an empty result is an acceptable answer.
			logging.WorkflowWarn("[Orchestrator] Knowledge search failed: %v", err)
		}
		r.prior = prior
		return StateDevelop

	case StateDevelop:
		r.iteration++
		logging.Workflow("[Orchestrator] Development iteration %d/%d for %s",
			r.iteration, o.cfg.MaxIterations, r.req.ID)
		sol, err := o.dev.Develop(ctx, r.req, r.prior)
		if err != nil {
			r.errors = append(r.errors, fmt.Sprintf("development failed: %v", err))
			return AfterDevelopment(true, nil, r.iteration, o.cfg.MaxIterations)
		}
		r.solution = sol
		return AfterDevelopment(false, sol, r.iteration, o.cfg.MaxIterations)

	case StateValidate:
		result, err := o.val.Validate(ctx, r.solution)
		if err != nil {
			r.errors = append(r.errors, fmt.Sprintf("validation failed: %v", err))
			return AfterValidation(true, nil)
		}
		r.result = result
		if r.solution != nil {
			r.solution.SetValidationResult(result)
		}
		return AfterValidation(false, result)

	case StateReview:
		r.decision = Review(r.result, r.iteration, o.cfg.MaxIterations, r.humanInLoop, o.cfg)
		o.emit(EventDecision, r.req.ID, state, string(r.decision))
		logging.Workflow("[Orchestrator] Review: decision=%s score=%.2f valid=%t iteration=%d",
			r.decision, r.result.Score, r.result.IsValid, r.iteration)
		if r.solution != nil {
			r.solution.RewardDecision = r.decision
		}
		return AfterReview(r.decision, r.result, r.iteration, o.cfg.MaxIterations, o.cfg)

	case StateUpdateKnowledge:
		if err := o.kb.Store(ctx, r.solution, r.decision); err != nil {
			// Persistence failure does not invalidate the solution.
			logging.WorkflowWarn("[Orchestrator] Knowledge update failed: %v", err)
		}
		return StateFinalize

	case StateHandleError:
		for _, msg := range r.errors {
			logging.WorkflowError("[Orchestrator] Run error: %s", msg)
		}
		logging.Audit(logging.AuditWorkflowError, r.req.ID, "", fmt.Sprintf("%d errors", len(r.errors)), nil)
		r.failed = true
		return StateFinalize
	}
	return StateFinalize
}

// Revalidate runs only the validator sub-workflow against an existing
// solution, without touching the knowledge base or the review policy.
func (o *Orchestrator) Revalidate(ctx context.Context, sol *model.Solution) (*model.ValidationResult, error) {
	return o.val.Validate(ctx, sol)
}

// finalize produces the run's result. A failed run, or a run whose
// solution ended rejected, reports failure through a rejected solution.
func (o *Orchestrator) finalize(r *run) *model.Solution {
	elapsed := time.Since(r.startedAt).Seconds()
	reqID := ""
	if r.req != nil {
		reqID = r.req.ID
	}

	if r.failed || r.solution == nil {
		reason := "workflow failed"
		if len(r.errors) > 0 {
			reason = r.errors[len(r.errors)-1]
		}
		o.emit(EventRunFailed, reqID, StateFinalize, reason)
		logging.Audit(logging.AuditWorkflowComplete, reqID, "", "failed", map[string]interface{}{"elapsed": elapsed})
		return o.failedSolution(r.req, reason)
	}

	o.emit(EventRunFinished, reqID, StateFinalize, string(r.solution.RewardDecision))
	logging.Audit(logging.AuditWorkflowComplete, reqID, r.solution.ID, string(r.solution.RewardDecision),
		map[string]interface{}{"elapsed": elapsed, "iterations": r.iteration})
	logging.Workflow("[Orchestrator] Run complete for %s: %s in %.1fs (%d iterations)",
		reqID, r.solution.RewardDecision, elapsed, r.iteration)
	return r.solution
}

// failedSolution builds the rejected solution a failed run returns.
func (o *Orchestrator) failedSolution(req *model.Request, reason string) *model.Solution {
	reqID, title := "", "failed request"
	if req != nil {
		reqID, title = req.ID, req.Title
	}
	sol := model.NewSolution(reqID, title)
	sol.Description = reason
	sol.RewardDecision = model.DecisionRejected
	return sol
}

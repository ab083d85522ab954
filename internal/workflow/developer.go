package workflow

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"lowforge/internal/automation"
	"lowforge/internal/config"
	"lowforge/internal/jsonutil"
	"lowforge/internal/knowledge"
	"lowforge/internal/llm"
	"lowforge/internal/logging"
	"lowforge/internal/model"
	"lowforge/internal/vision"
)

// devState names a node of the developer sub-workflow.
type devState string

const (
	devAnalyzeRequest   devState = "analyze_request"
	devPlan             devState = "plan_implementation"
	devAuthenticate     devState = "authenticate"
	devExecute          devState = "execute_operations"
	devValidateResult   devState = "validate_result"
	devHandleError      devState = "handle_error"
	devFinalizeSolution devState = "finalize_solution"
	devDone             devState = "done"
)

// Developer turns a request into a candidate solution: it plans an
// operation sequence with the completion port and executes it against
// one browser session, checkpointing before every operation. A single
// error budget bounds authentication retries and operation failures.
type Developer struct {
	llm      llm.Client
	vision   vision.Analyzer // nil disables vision-based target resolution
	drivers  automation.Factory
	platform config.PlatformConfig
	cfg      config.WorkflowConfig
	agentID  string
}

// NewDeveloper wires a developer sub-workflow to its ports.
func NewDeveloper(client llm.Client, analyzer vision.Analyzer, drivers automation.Factory, platform config.PlatformConfig, cfg config.WorkflowConfig) *Developer {
	return &Developer{
		llm:      client,
		vision:   analyzer,
		drivers:  drivers,
		platform: platform,
		cfg:      cfg,
		agentID:  "developer",
	}
}

// devRun is the mutable state of one Develop call.
type devRun struct {
	req      *model.Request
	prior    []knowledge.ScoredSolution
	solution *model.Solution
	analysis map[string]interface{}
	driver   automation.Driver
	index    int
	errors   int
}

// Develop runs the sub-workflow to completion and returns the solution
// it produced. The solution carries its own outcome (per-operation
// success flags, validation verdict, reward decision); the error return
// is reserved for failures before a solution exists at all.
func (d *Developer) Develop(ctx context.Context, req *model.Request, prior []knowledge.ScoredSolution) (*model.Solution, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}

	run := &devRun{
		req:      req,
		prior:    prior,
		solution: model.NewSolution(req.ID, req.Title),
	}
	run.solution.DeveloperAgent = d.agentID
	run.solution.Tags = req.Tags

	driver, err := d.drivers.NewDriver(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open browser session: %w", err)
	}
	run.driver = driver
	defer func() {
		if err := driver.Close(); err != nil {
			logging.DeveloperWarn("[Developer] Session close failed: %v", err)
		}
	}()

	state := devAnalyzeRequest
	for state != devDone {
		logging.DeveloperDebug("[Developer] %s → entering (errors=%d index=%d)", state, run.errors, run.index)
		switch state {
		case devAnalyzeRequest:
			d.analyzeRequest(ctx, run)
			state = devPlan
		case devPlan:
			d.planImplementation(ctx, run)
			state = devAuthenticate
		case devAuthenticate:
			state = d.authenticate(ctx, run)
		case devExecute:
			state = d.executeOperation(ctx, run)
		case devValidateResult:
			d.validateResult(ctx, run)
			state = devFinalizeSolution
		case devHandleError:
			state = d.handleError(ctx, run)
		case devFinalizeSolution:
			d.finalizeSolution(run)
			state = devDone
		}
	}

	logging.Developer("[Developer] Finished %s: %d operations, rate=%.2f, decision=%s",
		run.solution.ID, len(run.solution.Operations), run.solution.SuccessRate, run.solution.RewardDecision)
	return run.solution, nil
}

// analyzeRequest asks the completion port for a structured reading of
// the request. Parse and transport failures cost one error and continue
// with whatever was extracted.
func (d *Developer) analyzeRequest(ctx context.Context, run *devRun) {
	prompt := fmt.Sprintf(`Analyze this low-code platform development request.

Title: %s
Description: %s
Requirements:
%s
Priority: %d

Return JSON:
{
    "complexity": "low|medium|high",
    "feasibility": 0.9,
    "required_modules": ["data_modeling", "form_design"],
    "risks": ["risk description"],
    "summary": "one paragraph implementation approach"
}`, run.req.Title, run.req.Description, bulletList(run.req.Requirements), run.req.Priority)

	reply, err := d.llm.Complete(ctx, prompt)
	if err != nil {
		run.errors++
		logging.DeveloperWarn("[Developer] Request analysis failed (errors=%d): %v", run.errors, err)
		run.analysis = map[string]interface{}{}
		return
	}
	run.analysis = jsonutil.Extract(reply)
	if len(run.analysis) == 0 {
		run.errors++
		logging.DeveloperWarn("[Developer] Request analysis unparseable (errors=%d)", run.errors)
	}
	run.solution.Metadata["analysis"] = run.analysis
}

// planImplementation turns the analysis into an ordered operation plan.
// Target locators are left unresolved; the execute loop resolves them
// lazily against live screenshots.
func (d *Developer) planImplementation(ctx context.Context, run *devRun) {
	var priorHints strings.Builder
	for i, sc := range run.prior {
		if i >= 3 {
			break
		}
		fmt.Fprintf(&priorHints, "- %q (similarity %.2f, success rate %.2f): %s\n",
			sc.Solution.Title, sc.Similarity, sc.Solution.SuccessRate, sc.Solution.Description)
	}
	if priorHints.Len() == 0 {
		priorHints.WriteString("(none)\n")
	}

	prompt := fmt.Sprintf(`Plan the UI operations to implement this request on the low-code platform.

Request: %s
Description: %s
Analysis summary: %s
Similar past solutions:
%s
Return JSON:
{
    "operations": [
        {
            "type": "data_modeling|form_design|page_design|workflow_design|report_design|dictionary_management|navigation|authentication",
            "action": "click|fill|select|drag_drop|hover|wait|screenshot|validate",
            "target_description": "human description of the target element",
            "parameters": {"value": "text to fill, option to select, etc."},
            "expected_result": "what should be true after this step"
        }
    ]
}`, run.req.Title, run.req.Description,
		jsonutil.StringOr(run.analysis, "summary", run.req.Description), priorHints.String())

	reply, err := d.llm.Complete(ctx, prompt)
	if err != nil {
		run.errors++
		logging.DeveloperWarn("[Developer] Planning failed (errors=%d): %v", run.errors, err)
		return
	}

	steps := jsonutil.MapSlice(jsonutil.Extract(reply), "operations")
	for _, step := range steps {
		op := model.NewOperation(
			parseOperationType(jsonutil.StringOr(step, "type", "")),
			parseActionType(jsonutil.StringOr(step, "action", "")),
			"", // resolved lazily during execution
		)
		op.Parameters["target_description"] = jsonutil.StringOr(step, "target_description", "")
		for k, v := range jsonutil.Map(step, "parameters") {
			op.Parameters[k] = v
		}
		op.ExpectedResult = jsonutil.StringOr(step, "expected_result", "")
		run.solution.AddOperation(op)
	}
	logging.Developer("[Developer] Planned %d operations for %s", len(steps), run.req.ID)
}

// authenticate logs the session into the platform. Skipped when the
// session is already authenticated; missing credentials or a failed
// attempt costs one error and retries while the budget holds.
func (d *Developer) authenticate(ctx context.Context, run *devRun) devState {
	if run.driver.Session().IsAuthenticated {
		return devExecute
	}
	if d.platform.Username == "" || d.platform.Password == "" {
		run.errors++
		logging.DeveloperError("[Developer] Platform credentials not configured (errors=%d)", run.errors)
		if run.errors < d.cfg.DeveloperMaxErrors {
			return devAuthenticate
		}
		return devHandleError
	}

	ok, err := run.driver.Authenticate(ctx, d.platform.Username, d.platform.Password, d.platform.BaseURL)
	if err != nil || !ok {
		run.errors++
		logging.DeveloperWarn("[Developer] Authentication failed (errors=%d): %v", run.errors, err)
		if run.errors < d.cfg.DeveloperMaxErrors {
			return devAuthenticate
		}
		return devHandleError
	}
	return devExecute
}

// executeOperation runs one loop iteration: checkpoint, resolve the
// target if needed, execute. Success advances the index; failure keeps
// it so the same operation is retried, bounded by the error budget.
func (d *Developer) executeOperation(ctx context.Context, run *devRun) devState {
	if run.index >= len(run.solution.Operations) {
		return devValidateResult
	}

	op := run.solution.Operations[run.index]

	if _, err := run.driver.Checkpoint(ctx, run.solution.ID, run.index); err != nil {
		logging.DeveloperWarn("[Developer] Checkpoint before operation %d failed: %v", run.index, err)
	}

	if op.TargetElement == "" {
		op.TargetElement = d.resolveTarget(ctx, run, op)
	}

	opCtx, cancel := context.WithTimeout(ctx, op.Timeout())
	ok := run.driver.ExecuteOperation(opCtx, op)
	cancel()
	logging.AuditOperation(run.req.ID, op.ID, ok, op.ExecutionTime)

	if !ok {
		run.errors++
		logging.DeveloperWarn("[Developer] Operation %d (%s %s) failed (errors=%d): %s",
			run.index, op.Action, op.TargetElement, run.errors, op.ErrorMessage)
		if run.errors >= d.cfg.DeveloperMaxErrors {
			return devHandleError
		}
		// Index stays put: the same operation is re-attempted next
		// iteration, bounded by the shared error budget.
		return devExecute
	}

	run.index++
	if run.index >= len(run.solution.Operations) {
		return devValidateResult
	}
	return devExecute
}

// resolveTarget asks the vision port for selector candidates matching
// the planned step's description and adopts the top suggestion. With no
// vision port or no suggestions it falls back to a locator synthesized
// from the description.
func (d *Developer) resolveTarget(ctx context.Context, run *devRun, op *model.Operation) string {
	desc := jsonutil.StringOr(op.Parameters, "target_description", string(op.Action))

	if d.vision != nil {
		shot, err := run.driver.Screenshot(ctx)
		if err == nil {
			targets, err := d.vision.FindTargets(ctx, shot, desc)
			if err == nil && len(targets) > 0 {
				logging.DeveloperDebug("[Developer] Resolved %q → %s", desc, targets[0])
				return targets[0]
			}
			if err != nil {
				logging.DeveloperWarn("[Developer] Target resolution for %q failed: %v", desc, err)
			}
		} else {
			logging.DeveloperWarn("[Developer] Screenshot for target resolution failed: %v", err)
		}
	}
	return synthesizeLocator(desc)
}

// validateResult takes a final screenshot and asks the vision port to
// judge the outcome. Valid requires a positive indicator in the
// suggestions and confidence above the developer floor.
func (d *Developer) validateResult(ctx context.Context, run *devRun) {
	result := model.NewValidationResult(d.agentID)
	start := time.Now()
	defer func() {
		result.ValidationTime = time.Since(start).Seconds()
		run.solution.SetValidationResult(result)
	}()

	if d.vision == nil {
		// Without vision the operation outcomes are the only signal.
		rate := run.solution.RecomputeSuccessRate()
		result.IsValid = rate >= d.cfg.AcceptSuccessRate
		result.Score = rate
		return
	}

	shot, err := run.driver.Screenshot(ctx)
	if err != nil {
		run.errors++
		result.Issues = append(result.Issues, fmt.Sprintf("final screenshot failed: %v", err))
		return
	}

	prompt := fmt.Sprintf(`Judge whether this request was implemented successfully based on the screenshot.

Request: %s
Expected outcome: %s

Describe what you see and state clearly whether the implementation succeeded.
Return JSON:
{
    "suggestions": ["verdict and observations"],
    "confidence_score": 0.9
}`, run.req.Title, run.req.Description)

	analysis, err := d.vision.AnalyzeScreenshot(ctx, shot, prompt)
	if err != nil {
		run.errors++
		result.Issues = append(result.Issues, fmt.Sprintf("vision verdict failed: %v", err))
		return
	}
	run.solution.AddVisualAnalysis(analysis)

	result.IsValid = hasPositiveIndicator(analysis.Suggestions) && analysis.Confidence > d.cfg.DevConfidenceFloor
	result.Score = analysis.Confidence
	if !result.IsValid {
		result.Issues = append(result.Issues, "no positive outcome indicator in final screenshot analysis")
	}
	result.Suggestions = analysis.Suggestions
}

// handleError terminates the run once the error budget is spent;
// otherwise it attempts a coarse rollback (re-navigate to the base URL,
// step the index back one) and re-enters the execute loop. This is
// best-effort recovery, not a platform-side state restore.
func (d *Developer) handleError(ctx context.Context, run *devRun) devState {
	if run.errors >= d.cfg.DeveloperMaxErrors {
		logging.DeveloperError("[Developer] Error budget exhausted (%d/%d), rejecting solution",
			run.errors, d.cfg.DeveloperMaxErrors)
		run.solution.RewardDecision = model.DecisionRejected
		return devFinalizeSolution
	}

	if err := run.driver.Navigate(ctx, d.platform.BaseURL); err != nil {
		run.errors++
		logging.DeveloperWarn("[Developer] Rollback navigation failed (errors=%d): %v", run.errors, err)
	}
	if run.index > 0 {
		run.index--
	}
	logging.Audit(logging.AuditRollback, run.req.ID, run.solution.ID, "", map[string]interface{}{
		"operation_index": run.index,
		"errors":          run.errors,
	})
	return devExecute
}

// finalizeSolution derives the success rate from per-operation flags,
// sets the reward decision, and totals execution time.
func (d *Developer) finalizeSolution(run *devRun) {
	sol := run.solution
	rate := sol.RecomputeSuccessRate()
	sol.ExecutionTime = sol.SumOperationTime()

	if sol.RewardDecision == model.DecisionRejected {
		// handle_error already sealed the outcome.
		return
	}

	valid := sol.ValidationResult != nil && sol.ValidationResult.IsValid
	switch {
	case valid && rate >= d.cfg.AcceptSuccessRate:
		sol.RewardDecision = model.DecisionAccepted
	case valid:
		sol.RewardDecision = model.DecisionPending
	default:
		sol.RewardDecision = model.DecisionRejected
	}
}

// synthesizeLocator derives a data-testid selector from a target
// description when no better locator is available.
func synthesizeLocator(description string) string {
	slug := strings.ToLower(strings.TrimSpace(description))
	slug = nonLocatorChars.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "unknown"
	}
	return fmt.Sprintf("[data-testid='%s']", slug)
}

var nonLocatorChars = regexp.MustCompile(`[^a-z0-9]+`)

func bulletList(items []string) string {
	if len(items) == 0 {
		return "- (none)"
	}
	var b strings.Builder
	for _, it := range items {
		b.WriteString("- ")
		b.WriteString(it)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// parseOperationType maps a planned step type onto the fixed set,
// defaulting to navigation for anything unrecognized.
func parseOperationType(s string) model.OperationType {
	switch model.OperationType(strings.ToLower(strings.TrimSpace(s))) {
	case model.OpDataModeling:
		return model.OpDataModeling
	case model.OpFormDesign:
		return model.OpFormDesign
	case model.OpPageDesign:
		return model.OpPageDesign
	case model.OpWorkflowDesign:
		return model.OpWorkflowDesign
	case model.OpReportDesign:
		return model.OpReportDesign
	case model.OpDictionaryManagement:
		return model.OpDictionaryManagement
	case model.OpAuthentication:
		return model.OpAuthentication
	default:
		return model.OpNavigation
	}
}

// parseActionType maps a planned action verb onto the fixed set,
// defaulting to click.
func parseActionType(s string) model.ActionType {
	switch model.ActionType(strings.ToLower(strings.TrimSpace(s))) {
	case model.ActionFill:
		return model.ActionFill
	case model.ActionSelect:
		return model.ActionSelect
	case model.ActionDragDrop:
		return model.ActionDragDrop
	case model.ActionHover:
		return model.ActionHover
	case model.ActionWait:
		return model.ActionWait
	case model.ActionScreenshot:
		return model.ActionScreenshot
	case model.ActionValidate:
		return model.ActionValidate
	default:
		return model.ActionClick
	}
}

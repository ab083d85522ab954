package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lowforge/internal/automation"
	"lowforge/internal/config"
	"lowforge/internal/jsonutil"
	"lowforge/internal/llm"
	"lowforge/internal/logging"
	"lowforge/internal/model"
	"lowforge/internal/vision"
)

// scenarioType classifies a generated test scenario.
type scenarioType string

const (
	scenarioBasic       scenarioType = "basic"
	scenarioEdge        scenarioType = "edge"
	scenarioError       scenarioType = "error"
	scenarioPerformance scenarioType = "performance"
)

// testStep is one UI action inside a scenario.
type testStep struct {
	Action string
	Target string
	Value  string
}

// testScenario is one generated test case for a candidate solution.
type testScenario struct {
	Name           string
	Type           scenarioType
	Steps          []testStep
	ExpectedResult string
	Criteria       []string

	succeeded   bool
	issues      []string
	elapsedSecs float64
}

// Validator exercises a candidate solution: it generates test scenarios
// with the completion port, drives them through its own browser session,
// and scores the outcome. Bounded by its own error budget.
type Validator struct {
	llm      llm.Client
	vision   vision.Analyzer // nil disables screenshot-based verdicts
	drivers  automation.Factory
	platform config.PlatformConfig
	cfg      config.WorkflowConfig
	agentID  string
}

// NewValidator wires a validator sub-workflow to its ports.
func NewValidator(client llm.Client, analyzer vision.Analyzer, drivers automation.Factory, platform config.PlatformConfig, cfg config.WorkflowConfig) *Validator {
	return &Validator{
		llm:      client,
		vision:   analyzer,
		drivers:  drivers,
		platform: platform,
		cfg:      cfg,
		agentID:  "validator",
	}
}

// Validate runs the sub-workflow and returns the verdict. An error is
// returned only when no verdict could be produced at all (for example
// the browser session could not be opened).
func (v *Validator) Validate(ctx context.Context, sol *model.Solution) (*model.ValidationResult, error) {
	if sol == nil {
		return nil, fmt.Errorf("solution is required")
	}

	start := time.Now()
	result := model.NewValidationResult(v.agentID)

	analysis := v.analyzeSolution(ctx, sol)
	scenarios := v.generateScenarios(ctx, sol, analysis)
	if len(scenarios) == 0 {
		// No scenarios means nothing was verified.
		result.IsValid = false
		result.Issues = append(result.Issues, "no test scenarios could be generated")
		result.ValidationTime = time.Since(start).Seconds()
		return result, nil
	}

	driver, err := v.drivers.NewDriver(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open validation session: %w", err)
	}
	defer func() {
		if err := driver.Close(); err != nil {
			logging.ValidatorWarn("[Validator] Session close failed: %v", err)
		}
	}()

	if err := driver.Navigate(ctx, v.platform.BaseURL); err != nil {
		logging.ValidatorWarn("[Validator] Environment setup navigation failed: %v", err)
	}

	errors := 0
	for i := range scenarios {
		if errors >= v.cfg.ValidatorMaxErrors {
			logging.ValidatorError("[Validator] Error budget exhausted (%d/%d), stopping after %d/%d scenarios",
				errors, v.cfg.ValidatorMaxErrors, i, len(scenarios))
			result.Issues = append(result.Issues,
				fmt.Sprintf("validation aborted after %d of %d scenarios (error budget exhausted)", i, len(scenarios)))
			break
		}
		if execErr := v.executeScenario(ctx, driver, &scenarios[i]); execErr != nil {
			errors++
			logging.ValidatorWarn("[Validator] Scenario %q errored (errors=%d): %v", scenarios[i].Name, errors, execErr)
		}
	}

	v.analyzeResults(result, scenarios)
	v.generateSuggestions(ctx, result, scenarios)
	result.ValidationTime = time.Since(start).Seconds()

	logging.Validator("[Validator] Solution %s: score=%.2f valid=%t issues=%d",
		sol.ID, result.Score, result.IsValid, len(result.Issues))
	return result, nil
}

// analyzeSolution extracts validation-relevant structure from the
// solution. Failures degrade to an empty analysis.
func (v *Validator) analyzeSolution(ctx context.Context, sol *model.Solution) map[string]interface{} {
	var steps []string
	for _, op := range sol.Operations {
		steps = append(steps, fmt.Sprintf("%s %s on %s (expected: %s)", op.Type, op.Action, op.TargetElement, op.ExpectedResult))
	}

	prompt := fmt.Sprintf(`Analyze this implemented solution to plan its validation.

Title: %s
Description: %s
Executed operations:
%s

Return JSON:
{
    "main_functions": ["what the solution does"],
    "validation_points": ["what must be checked"],
    "risks": ["likely failure modes"],
    "performance_factors": ["what could be slow"]
}`, sol.Title, sol.Description, strings.Join(steps, "\n"))

	reply, err := v.llm.Complete(ctx, prompt)
	if err != nil {
		logging.ValidatorWarn("[Validator] Solution analysis failed: %v", err)
		return map[string]interface{}{}
	}
	return jsonutil.Extract(reply)
}

// generateScenarios turns the analysis into named test scenarios.
func (v *Validator) generateScenarios(ctx context.Context, sol *model.Solution, analysis map[string]interface{}) []testScenario {
	prompt := fmt.Sprintf(`Generate test scenarios for this solution.

Title: %s
Validation points: %s
Risks: %s

Return JSON:
{
    "scenarios": [
        {
            "name": "scenario name",
            "type": "basic|edge|error|performance",
            "steps": [{"action": "click|fill|select|hover|wait|validate", "target": "element description", "value": "input value if any"}],
            "expected_result": "what the page should show afterwards",
            "validation_criteria": ["criterion"]
        }
    ]
}`, sol.Title,
		strings.Join(jsonutil.StringSlice(analysis, "validation_points"), "; "),
		strings.Join(jsonutil.StringSlice(analysis, "risks"), "; "))

	reply, err := v.llm.Complete(ctx, prompt)
	if err != nil {
		logging.ValidatorWarn("[Validator] Scenario generation failed: %v", err)
		return nil
	}

	var scenarios []testScenario
	for _, raw := range jsonutil.MapSlice(jsonutil.Extract(reply), "scenarios") {
		sc := testScenario{
			Name:           jsonutil.StringOr(raw, "name", fmt.Sprintf("scenario %d", len(scenarios)+1)),
			Type:           parseScenarioType(jsonutil.StringOr(raw, "type", "basic")),
			ExpectedResult: jsonutil.StringOr(raw, "expected_result", ""),
			Criteria:       jsonutil.StringSlice(raw, "validation_criteria"),
		}
		for _, rawStep := range jsonutil.MapSlice(raw, "steps") {
			sc.Steps = append(sc.Steps, testStep{
				Action: jsonutil.StringOr(rawStep, "action", "validate"),
				Target: jsonutil.StringOr(rawStep, "target", ""),
				Value:  jsonutil.StringOr(rawStep, "value", ""),
			})
		}
		scenarios = append(scenarios, sc)
	}
	logging.Validator("[Validator] Generated %d scenarios for %s", len(scenarios), sol.ID)
	return scenarios
}

// executeScenario drives one scenario through the session: run its
// steps (aborting on the first failed step), then judge the resulting
// screenshot against the expected result. The returned error reports
// infrastructure failures, not test failures.
func (v *Validator) executeScenario(ctx context.Context, driver automation.Driver, sc *testScenario) error {
	start := time.Now()
	defer func() { sc.elapsedSecs = time.Since(start).Seconds() }()

	before, err := driver.Screenshot(ctx)
	if err != nil {
		sc.issues = append(sc.issues, fmt.Sprintf("%s: before-screenshot failed", sc.Name))
		return err
	}

	for i, step := range sc.Steps {
		op := model.NewOperation(model.OpNavigation, parseActionType(step.Action), "")
		op.TargetElement = v.resolveStepTarget(ctx, driver, before, step.Target)
		if step.Value != "" {
			op.Parameters["value"] = step.Value
		}

		opCtx, cancel := context.WithTimeout(ctx, op.Timeout())
		ok := driver.ExecuteOperation(opCtx, op)
		cancel()
		if !ok {
			sc.issues = append(sc.issues, fmt.Sprintf("%s: step %d (%s %s) failed: %s",
				sc.Name, i+1, step.Action, step.Target, op.ErrorMessage))
			return nil // test failure, not an infrastructure error
		}
	}

	after, err := driver.Screenshot(ctx)
	if err != nil {
		sc.issues = append(sc.issues, fmt.Sprintf("%s: after-screenshot failed", sc.Name))
		return err
	}

	if v.vision == nil {
		// Without vision, completing every step is the best signal we have.
		sc.succeeded = true
		return nil
	}

	prompt := fmt.Sprintf(`Does this screenshot match the expected test result?

Scenario: %s
Expected result: %s
Validation criteria: %s

State clearly whether the expectation is met.
Return JSON:
{
    "suggestions": ["verdict and observations"],
    "confidence_score": 0.9
}`, sc.Name, sc.ExpectedResult, strings.Join(sc.Criteria, "; "))

	analysis, err := v.vision.AnalyzeScreenshot(ctx, after, prompt)
	if err != nil {
		sc.issues = append(sc.issues, fmt.Sprintf("%s: verdict analysis failed", sc.Name))
		return err
	}

	sc.succeeded = hasPositiveIndicator(analysis.Suggestions) && analysis.Confidence > v.cfg.ValConfidenceFloor
	if !sc.succeeded {
		sc.issues = append(sc.issues, fmt.Sprintf("%s: expected result not confirmed (confidence %.2f)",
			sc.Name, analysis.Confidence))
	}
	return nil
}

// resolveStepTarget resolves a step's target description to a selector
// via the vision port, falling back to a synthesized locator.
func (v *Validator) resolveStepTarget(ctx context.Context, driver automation.Driver, screenshot, description string) string {
	if v.vision != nil && description != "" {
		targets, err := v.vision.FindTargets(ctx, screenshot, description)
		if err == nil && len(targets) > 0 {
			return targets[0]
		}
	}
	return synthesizeLocator(description)
}

// analyzeResults aggregates scenario outcomes into the verdict:
// score is the scenario pass rate, validity requires the rate to meet
// the configured threshold.
func (v *Validator) analyzeResults(result *model.ValidationResult, scenarios []testScenario) {
	passed := 0
	totalTime := 0.0
	for _, sc := range scenarios {
		if sc.succeeded {
			passed++
		}
		result.Issues = append(result.Issues, sc.issues...)
		totalTime += sc.elapsedSecs
		result.TestResults[sc.Name] = map[string]interface{}{
			"type":      string(sc.Type),
			"succeeded": sc.succeeded,
			"elapsed":   sc.elapsedSecs,
		}
		if sc.Type == scenarioPerformance {
			result.PerformanceMetrics[sc.Name] = sc.elapsedSecs
		}
	}

	rate := float64(passed) / float64(len(scenarios))
	result.Score = rate
	result.IsValid = rate >= v.cfg.ValidityThreshold
	result.TestResults["scenarios_total"] = len(scenarios)
	result.TestResults["scenarios_passed"] = passed
	result.PerformanceMetrics["total_validation_time"] = totalTime
}

// generateSuggestions fills the result's suggestion list: a single
// no-change note when everything passed, otherwise prioritized fixes
// from the completion port.
func (v *Validator) generateSuggestions(ctx context.Context, result *model.ValidationResult, scenarios []testScenario) {
	if len(result.Issues) == 0 {
		result.Suggestions = []string{"no changes needed"}
		return
	}

	passed := 0
	for _, sc := range scenarios {
		if sc.succeeded {
			passed++
		}
	}

	prompt := fmt.Sprintf(`These issues were found while validating a solution (%d of %d scenarios passed):
%s

Return JSON:
{
    "fixes": ["prioritized fix"],
    "suggestions": ["improvement"],
    "optimizations": ["optimization tip"]
}`, passed, len(scenarios), bulletList(result.Issues))

	reply, err := v.llm.Complete(ctx, prompt)
	if err != nil {
		logging.ValidatorWarn("[Validator] Suggestion generation failed: %v", err)
		return
	}
	parsed := jsonutil.Extract(reply)
	result.Suggestions = append(result.Suggestions, jsonutil.StringSlice(parsed, "fixes")...)
	result.Suggestions = append(result.Suggestions, jsonutil.StringSlice(parsed, "suggestions")...)
	result.Suggestions = append(result.Suggestions, jsonutil.StringSlice(parsed, "optimizations")...)
}

func parseScenarioType(s string) scenarioType {
	switch scenarioType(strings.ToLower(strings.TrimSpace(s))) {
	case scenarioEdge:
		return scenarioEdge
	case scenarioError:
		return scenarioError
	case scenarioPerformance:
		return scenarioPerformance
	default:
		return scenarioBasic
	}
}

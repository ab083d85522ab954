package workflow

import (
	"context"
	"fmt"
	"sync"

	"lowforge/internal/automation"
	"lowforge/internal/config"
	"lowforge/internal/knowledge"
	"lowforge/internal/model"
)

// mockClient is a function-field completion double.
type mockClient struct {
	CompleteFunc func(ctx context.Context, prompt string) (string, error)
}

func (m *mockClient) Complete(ctx context.Context, prompt string) (string, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, prompt)
	}
	return "{}", nil
}

func (m *mockClient) CompleteWithSystem(ctx context.Context, system, prompt string) (string, error) {
	return m.Complete(ctx, prompt)
}

// mockAnalyzer is a function-field vision double.
type mockAnalyzer struct {
	AnalyzeScreenshotFunc func(ctx context.Context, screenshotPath, prompt string) (*model.VisualAnalysis, error)
	FindTargetsFunc       func(ctx context.Context, screenshotPath, targetDescription string) ([]string, error)
}

func (m *mockAnalyzer) AnalyzeScreenshot(ctx context.Context, screenshotPath, prompt string) (*model.VisualAnalysis, error) {
	if m.AnalyzeScreenshotFunc != nil {
		return m.AnalyzeScreenshotFunc(ctx, screenshotPath, prompt)
	}
	a := model.NewVisualAnalysis(screenshotPath)
	a.Suggestions = []string{"operation completed successfully"}
	a.Confidence = 0.95
	return a, nil
}

func (m *mockAnalyzer) FindTargets(ctx context.Context, screenshotPath, targetDescription string) ([]string, error) {
	if m.FindTargetsFunc != nil {
		return m.FindTargetsFunc(ctx, screenshotPath, targetDescription)
	}
	return []string{"#mock-target"}, nil
}

func (m *mockAnalyzer) ValidateElementLocation(ctx context.Context, screenshotPath, selector, expectedType string) (bool, error) {
	return true, nil
}

func (m *mockAnalyzer) AnalyzePageLayout(ctx context.Context, screenshotPath string) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}

// mockDriver is a function-field browser double. By default every
// action succeeds.
type mockDriver struct {
	mu sync.Mutex

	NavigateFunc         func(ctx context.Context, url string) error
	ExecuteOperationFunc func(ctx context.Context, op *model.Operation) bool
	AuthenticateFunc     func(ctx context.Context, username, password, loginURL string) (bool, error)

	session     *model.SessionInfo
	executed    []*model.Operation
	checkpoints int
	closed      bool
}

func newMockDriver() *mockDriver {
	return &mockDriver{session: model.NewSessionInfo("http://mock")}
}

func (m *mockDriver) Navigate(ctx context.Context, url string) error {
	if m.NavigateFunc != nil {
		return m.NavigateFunc(ctx, url)
	}
	m.session.CurrentURL = url
	return nil
}

func (m *mockDriver) Screenshot(ctx context.Context) (string, error) {
	return "/tmp/mock.png", nil
}

func (m *mockDriver) ExecuteOperation(ctx context.Context, op *model.Operation) bool {
	m.mu.Lock()
	m.executed = append(m.executed, op)
	m.mu.Unlock()
	if m.ExecuteOperationFunc != nil {
		op.Success = m.ExecuteOperationFunc(ctx, op)
	} else {
		op.Success = true
	}
	if !op.Success && op.ErrorMessage == "" {
		op.ErrorMessage = "mock failure"
	}
	return op.Success
}

func (m *mockDriver) Checkpoint(ctx context.Context, solutionID string, operationIndex int) (*model.OperationCheckpoint, error) {
	m.mu.Lock()
	m.checkpoints++
	m.mu.Unlock()
	return model.NewCheckpoint(solutionID, operationIndex), nil
}

func (m *mockDriver) Authenticate(ctx context.Context, username, password, loginURL string) (bool, error) {
	if m.AuthenticateFunc != nil {
		ok, err := m.AuthenticateFunc(ctx, username, password, loginURL)
		m.session.IsAuthenticated = ok
		return ok, err
	}
	m.session.IsAuthenticated = true
	return true, nil
}

func (m *mockDriver) Session() *model.SessionInfo { return m.session }

func (m *mockDriver) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// mockFactory hands out mock drivers and remembers them.
type mockFactory struct {
	mu      sync.Mutex
	build   func() *mockDriver
	drivers []*mockDriver
	err     error
}

func newMockFactory() *mockFactory {
	return &mockFactory{build: newMockDriver}
}

func (f *mockFactory) NewDriver(ctx context.Context) (automation.Driver, error) {
	if f.err != nil {
		return nil, f.err
	}
	d := f.build()
	f.mu.Lock()
	f.drivers = append(f.drivers, d)
	f.mu.Unlock()
	return d, nil
}

// mockKB is a function-field knowledge-base double.
type mockKB struct {
	mu sync.Mutex

	SearchSimilarFunc func(ctx context.Context, req *model.Request, limit int) ([]knowledge.ScoredSolution, error)

	stored []*model.Solution
}

func (m *mockKB) SearchSimilar(ctx context.Context, req *model.Request, limit int) ([]knowledge.ScoredSolution, error) {
	if m.SearchSimilarFunc != nil {
		return m.SearchSimilarFunc(ctx, req, limit)
	}
	return nil, nil
}

func (m *mockKB) Store(ctx context.Context, sol *model.Solution, decision model.RewardDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sol.RewardDecision = decision
	m.stored = append(m.stored, sol)
	return nil
}

// mockDeveloper and mockValidator substitute whole sub-workflows.
type mockDeveloper struct {
	mu          sync.Mutex
	DevelopFunc func(ctx context.Context, req *model.Request, prior []knowledge.ScoredSolution) (*model.Solution, error)
	calls       int
}

func (m *mockDeveloper) Develop(ctx context.Context, req *model.Request, prior []knowledge.ScoredSolution) (*model.Solution, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.DevelopFunc != nil {
		return m.DevelopFunc(ctx, req, prior)
	}
	sol := model.NewSolution(req.ID, req.Title)
	op := model.NewOperation(model.OpFormDesign, model.ActionClick, "#mock")
	op.Success = true
	sol.AddOperation(op)
	return sol, nil
}

type mockValidator struct {
	mu           sync.Mutex
	ValidateFunc func(ctx context.Context, sol *model.Solution) (*model.ValidationResult, error)
	calls        int
}

func (m *mockValidator) Validate(ctx context.Context, sol *model.Solution) (*model.ValidationResult, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.ValidateFunc != nil {
		return m.ValidateFunc(ctx, sol)
	}
	result := model.NewValidationResult("mock")
	result.IsValid = true
	result.Score = 0.95
	return result, nil
}

// testWorkflowConfig returns the documented default thresholds.
func testWorkflowConfig() config.WorkflowConfig {
	return config.DefaultConfig().Workflow
}

// testPlatformConfig returns platform settings with credentials set.
func testPlatformConfig() config.PlatformConfig {
	return config.PlatformConfig{
		BaseURL:  "http://mock",
		Username: "dev",
		Password: "secret",
	}
}

// planReply builds a completion reply containing n planned operations.
func planReply(n int) string {
	ops := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			ops += ","
		}
		ops += fmt.Sprintf(`{"type": "form_design", "action": "click", "target_description": "button %d", "expected_result": "step %d done"}`, i+1, i+1)
	}
	return fmt.Sprintf(`{"operations": [%s]}`, ops)
}

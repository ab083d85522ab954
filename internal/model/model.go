// Package model defines the entities that flow between the workflow
// orchestrator and its agents: development requests, UI operations,
// candidate solutions, validation results, and the checkpoint/session
// bookkeeping around them.
//
// Entities are working copies during a run; the store owns the durable
// versions. A Solution exclusively owns its Operations and its
// ValidationResult — they are never shared between solutions.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OperationType classifies an operation by the platform module it touches.
type OperationType string

const (
	OpDataModeling         OperationType = "data_modeling"
	OpFormDesign           OperationType = "form_design"
	OpPageDesign           OperationType = "page_design"
	OpWorkflowDesign       OperationType = "workflow_design"
	OpReportDesign         OperationType = "report_design"
	OpDictionaryManagement OperationType = "dictionary_management"
	OpNavigation           OperationType = "navigation"
	OpAuthentication       OperationType = "authentication"
)

// ActionType is the atomic UI action an operation performs.
type ActionType string

const (
	ActionClick      ActionType = "click"
	ActionFill       ActionType = "fill"
	ActionSelect     ActionType = "select"
	ActionDragDrop   ActionType = "drag_drop"
	ActionHover      ActionType = "hover"
	ActionWait       ActionType = "wait"
	ActionScreenshot ActionType = "screenshot"
	ActionValidate   ActionType = "validate"
)

// RewardDecision is the outcome the review policy assigns to a solution.
type RewardDecision string

const (
	DecisionAccepted RewardDecision = "accepted"
	DecisionRejected RewardDecision = "rejected"
	DecisionPending  RewardDecision = "pending"
)

// ParseRewardDecision converts a user-supplied string into a RewardDecision.
func ParseRewardDecision(s string) (RewardDecision, error) {
	switch RewardDecision(strings.ToLower(strings.TrimSpace(s))) {
	case DecisionAccepted:
		return DecisionAccepted, nil
	case DecisionRejected:
		return DecisionRejected, nil
	case DecisionPending:
		return DecisionPending, nil
	}
	return "", fmt.Errorf("unknown reward decision %q (want accepted, rejected or pending)", s)
}

// Priority orders requests from low (1) to critical (5).
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityMedium   Priority = 2
	PriorityHigh     Priority = 3
	PriorityUrgent   Priority = 4
	PriorityCritical Priority = 5
)

// newID returns a short, prefixed identifier such as "sol_1a2b3c4d".
func newID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.New().String()[:8])
}

// Request is a development request for the low-code platform.
// Immutable once created.
type Request struct {
	ID           string    `json:"request_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Requirements []string  `json:"requirements"`
	Priority     Priority  `json:"priority"`
	Requester    string    `json:"requester,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewRequest creates a Request with a generated id and creation time.
func NewRequest(title, description string, requirements []string, priority Priority) *Request {
	if priority < PriorityLow || priority > PriorityCritical {
		priority = PriorityMedium
	}
	return &Request{
		ID:           newID("req"),
		Title:        title,
		Description:  description,
		Requirements: requirements,
		Priority:     priority,
		CreatedAt:    time.Now(),
	}
}

// Operation is one atomic UI action against the platform. The automation
// executor mutates Success, ErrorMessage, ExecutionTime and the screenshot
// references in place; operations are never removed from a solution.
type Operation struct {
	ID               string                 `json:"operation_id"`
	Type             OperationType          `json:"operation_type"`
	Action           ActionType             `json:"action"`
	TargetElement    string                 `json:"target_element"`
	Parameters       map[string]interface{} `json:"parameters,omitempty"`
	ExpectedResult   string                 `json:"expected_result,omitempty"`
	TimeoutSeconds   int                    `json:"timeout"`
	RetryCount       int                    `json:"retry_count"`
	MaxRetries       int                    `json:"max_retries"`
	ScreenshotBefore string                 `json:"screenshot_before,omitempty"`
	ScreenshotAfter  string                 `json:"screenshot_after,omitempty"`
	ExecutionTime    float64                `json:"execution_time"` // seconds
	Success          bool                   `json:"success"`
	ErrorMessage     string                 `json:"error_message,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

// NewOperation creates an Operation with the default timeout and retry budget.
func NewOperation(opType OperationType, action ActionType, target string) *Operation {
	return &Operation{
		ID:             newID("op"),
		Type:           opType,
		Action:         action,
		TargetElement:  target,
		Parameters:     make(map[string]interface{}),
		TimeoutSeconds: 30,
		MaxRetries:     3,
		CreatedAt:      time.Now(),
	}
}

// Timeout returns the operation timeout as a duration.
func (o *Operation) Timeout() time.Duration {
	if o.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(o.TimeoutSeconds) * time.Second
}

// ValidationResult is the validator sub-workflow's verdict on a solution.
type ValidationResult struct {
	ID                 string                 `json:"validation_id"`
	IsValid            bool                   `json:"is_valid"`
	Score              float64                `json:"score"` // [0,1]
	Issues             []string               `json:"issues,omitempty"`
	Suggestions        []string               `json:"suggestions,omitempty"`
	TestResults        map[string]interface{} `json:"test_results,omitempty"`
	PerformanceMetrics map[string]float64     `json:"performance_metrics,omitempty"`
	ValidationTime     float64                `json:"validation_time"` // seconds
	ValidatorAgent     string                 `json:"validator_agent,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
}

// NewValidationResult creates an empty result attributed to the given agent.
func NewValidationResult(agent string) *ValidationResult {
	return &ValidationResult{
		ID:                 newID("val"),
		TestResults:        make(map[string]interface{}),
		PerformanceMetrics: make(map[string]float64),
		ValidatorAgent:     agent,
		CreatedAt:          time.Now(),
	}
}

// VisualAnalysis is one vision-port result captured during a run.
type VisualAnalysis struct {
	ID             string                   `json:"analysis_id"`
	ScreenshotPath string                   `json:"screenshot_path"`
	Elements       []map[string]interface{} `json:"elements,omitempty"`
	Layout         map[string]interface{}   `json:"layout_info,omitempty"`
	Suggestions    []string                 `json:"suggestions,omitempty"`
	Confidence     float64                  `json:"confidence_score"` // [0,1]
	AnalysisTime   float64                  `json:"analysis_time"`    // seconds
	ModelUsed      string                   `json:"model_used,omitempty"`
	CreatedAt      time.Time                `json:"created_at"`
}

// NewVisualAnalysis creates an empty analysis for the given screenshot.
func NewVisualAnalysis(screenshotPath string) *VisualAnalysis {
	return &VisualAnalysis{
		ID:             newID("vis"),
		ScreenshotPath: screenshotPath,
		Layout:         make(map[string]interface{}),
		CreatedAt:      time.Now(),
	}
}

// Solution is a candidate implementation of a request: an ordered operation
// sequence plus its validation and reward outcome.
type Solution struct {
	ID               string                 `json:"solution_id"`
	RequestID        string                 `json:"request_id"`
	Title            string                 `json:"title"`
	Description      string                 `json:"description,omitempty"`
	Operations       []*Operation           `json:"operations"`
	ValidationResult *ValidationResult      `json:"validation_result,omitempty"`
	VisualAnalyses   []*VisualAnalysis      `json:"visual_analysis,omitempty"`
	RewardDecision   RewardDecision         `json:"reward_decision"`
	SuccessRate      float64                `json:"success_rate"`   // [0,1]
	ExecutionTime    float64                `json:"execution_time"` // seconds, sum over operations
	DeveloperAgent   string                 `json:"developer_agent,omitempty"`
	Version          int                    `json:"version"`
	ParentSolutionID string                 `json:"parent_solution_id,omitempty"`
	Tags             []string               `json:"tags,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// NewSolution creates an empty solution for the given request.
func NewSolution(requestID, title string) *Solution {
	now := time.Now()
	return &Solution{
		ID:             newID("sol"),
		RequestID:      requestID,
		Title:          title,
		Operations:     []*Operation{},
		RewardDecision: DecisionPending,
		Version:        1,
		Metadata:       make(map[string]interface{}),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// AddOperation appends an operation to the solution.
func (s *Solution) AddOperation(op *Operation) {
	s.Operations = append(s.Operations, op)
	s.UpdatedAt = time.Now()
}

// SetValidationResult attaches the validator's verdict.
func (s *Solution) SetValidationResult(r *ValidationResult) {
	s.ValidationResult = r
	s.UpdatedAt = time.Now()
}

// AddVisualAnalysis records a vision-port result against the solution.
func (s *Solution) AddVisualAnalysis(a *VisualAnalysis) {
	s.VisualAnalyses = append(s.VisualAnalyses, a)
	s.UpdatedAt = time.Now()
}

// RecomputeSuccessRate derives SuccessRate from per-operation success flags:
// successful operations / total operations, 0.0 when there are none.
// This derivation is the only way SuccessRate is set at finalization.
func (s *Solution) RecomputeSuccessRate() float64 {
	if len(s.Operations) == 0 {
		s.SuccessRate = 0.0
		return s.SuccessRate
	}
	successful := 0
	for _, op := range s.Operations {
		if op.Success {
			successful++
		}
	}
	s.SuccessRate = float64(successful) / float64(len(s.Operations))
	return s.SuccessRate
}

// SumOperationTime totals per-operation execution time in seconds.
func (s *Solution) SumOperationTime() float64 {
	total := 0.0
	for _, op := range s.Operations {
		total += op.ExecutionTime
	}
	return total
}

// OperationCheckpoint snapshots automation state immediately before
// executing operation OperationIndex of SolutionID, supporting coarse
// rollback to "state before operation i".
type OperationCheckpoint struct {
	ID             string                 `json:"checkpoint_id"`
	SolutionID     string                 `json:"solution_id"`
	OperationIndex int                    `json:"operation_index"`
	StateSnapshot  map[string]interface{} `json:"state_snapshot"`
	ScreenshotPath string                 `json:"screenshot_path,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// NewCheckpoint creates a checkpoint shell; the automation driver fills in
// the state snapshot and screenshot.
func NewCheckpoint(solutionID string, operationIndex int) *OperationCheckpoint {
	return &OperationCheckpoint{
		ID:             newID("cp"),
		SolutionID:     solutionID,
		OperationIndex: operationIndex,
		StateSnapshot:  make(map[string]interface{}),
		CreatedAt:      time.Now(),
	}
}

// SessionInfo tracks one automation session against the platform.
type SessionInfo struct {
	ID              string    `json:"session_id"`
	PlatformURL     string    `json:"platform_url"`
	Username        string    `json:"username,omitempty"`
	IsAuthenticated bool      `json:"is_authenticated"`
	CurrentURL      string    `json:"current_url,omitempty"`
	LastActivity    time.Time `json:"last_activity"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewSessionInfo creates session bookkeeping for the given platform URL.
func NewSessionInfo(platformURL string) *SessionInfo {
	now := time.Now()
	return &SessionInfo{
		ID:           newID("session"),
		PlatformURL:  platformURL,
		LastActivity: now,
		CreatedAt:    now,
	}
}

// Touch updates the session's last-activity time.
func (si *SessionInfo) Touch() {
	si.LastActivity = time.Now()
}

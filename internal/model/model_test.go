package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecomputeSuccessRate(t *testing.T) {
	tests := []struct {
		name      string
		successes []bool
		want      float64
	}{
		{"no operations", nil, 0.0},
		{"all successful", []bool{true, true}, 1.0},
		{"none successful", []bool{false, false, false}, 0.0},
		{"partial", []bool{true, false, true, false}, 0.5},
		{"one of three", []bool{true, false, false}, 1.0 / 3.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sol := NewSolution("req_test", "test")
			for _, ok := range tt.successes {
				op := NewOperation(OpFormDesign, ActionClick, "#btn")
				op.Success = ok
				sol.AddOperation(op)
			}
			got := sol.RecomputeSuccessRate()
			if got != tt.want {
				t.Errorf("RecomputeSuccessRate() = %v, want %v", got, tt.want)
			}
			if sol.SuccessRate != tt.want {
				t.Errorf("SuccessRate = %v, want %v", sol.SuccessRate, tt.want)
			}
		})
	}
}

func TestSumOperationTime(t *testing.T) {
	sol := NewSolution("req_test", "test")
	for _, secs := range []float64{0.5, 1.25, 2.0} {
		op := NewOperation(OpNavigation, ActionClick, "#nav")
		op.ExecutionTime = secs
		sol.AddOperation(op)
	}
	assert.InDelta(t, 3.75, sol.SumOperationTime(), 1e-9)
}

func TestRewardPointsMapping(t *testing.T) {
	// The ledger mapping is exact: accepted +100, rejected -50, pending 0.
	assert.Equal(t, 100, RewardPoints(DecisionAccepted))
	assert.Equal(t, -50, RewardPoints(DecisionRejected))
	assert.Equal(t, 0, RewardPoints(DecisionPending))
	assert.Equal(t, 0, RewardPoints(RewardDecision("bogus")))
}

func TestParseRewardDecision(t *testing.T) {
	tests := []struct {
		in      string
		want    RewardDecision
		wantErr bool
	}{
		{"accepted", DecisionAccepted, false},
		{"REJECTED", DecisionRejected, false},
		{"  pending ", DecisionPending, false},
		{"maybe", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseRewardDecision(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestKnowledgeEntryRecordUsage(t *testing.T) {
	entry := NewKnowledgeEntry("Form pattern", "reusable form flow", EntrySolutionPattern)

	entry.RecordUsage(true)
	assert.Equal(t, 1, entry.UsageCount)
	assert.Equal(t, 1.0, entry.SuccessRate)

	entry.RecordUsage(false)
	assert.Equal(t, 2, entry.UsageCount)
	assert.Equal(t, 0.5, entry.SuccessRate)

	entry.RecordUsage(true)
	entry.RecordUsage(true)
	assert.Equal(t, 4, entry.UsageCount)
	assert.InDelta(t, 0.75, entry.SuccessRate, 1e-9)
	assert.False(t, entry.LastUsedAt.IsZero())
}

func TestKnowledgeEntryAddRating(t *testing.T) {
	entry := NewKnowledgeEntry("Nav pattern", "menu navigation", EntryBestPractice)

	entry.AddRating(0.8)
	entry.AddRating(0.6)
	assert.InDelta(t, 0.7, entry.QualityScore, 1e-9)

	// Out-of-range ratings are ignored.
	entry.AddRating(1.5)
	entry.AddRating(-0.1)
	assert.Len(t, entry.UserRatings, 2)
	assert.InDelta(t, 0.7, entry.QualityScore, 1e-9)
}

func TestCalculateOverallScore(t *testing.T) {
	eval := NewSolutionEvaluation("sol_x", "ai")
	eval.FunctionalityScore = 1.0
	eval.CodeQualityScore = 0.5
	eval.PerformanceScore = 0.5
	eval.UserSatisfactionScore = 0.0

	// Default weights: functionality 0.4, code_quality 0.2,
	// performance 0.2, user_satisfaction 0.2.
	got := eval.CalculateOverallScore(DefaultRewardCriteria())
	// (1.0*0.4 + 0.5*0.2 + 0.5*0.2 + 0.0*0.2) / 1.0 = 0.6
	assert.InDelta(t, 0.6, got, 1e-9)
	assert.InDelta(t, 0.6, eval.OverallScore, 1e-9)
}

func TestCalculateOverallScoreNoCriteria(t *testing.T) {
	eval := NewSolutionEvaluation("sol_x", "ai")
	eval.FunctionalityScore = 1.0

	assert.Equal(t, 0.0, eval.CalculateOverallScore(nil))
	assert.Equal(t, 0.0, eval.CalculateOverallScore([]RewardCriteria{}))
}

func TestCalculateOverallScoreSubsetOfCriteria(t *testing.T) {
	eval := NewSolutionEvaluation("sol_x", "human")
	eval.FunctionalityScore = 0.9
	eval.PerformanceScore = 0.3

	criteria := []RewardCriteria{
		{Name: "functionality", Weight: 0.5, IsActive: true},
		{Name: "performance", Weight: 0.5, IsActive: true},
	}
	got := eval.CalculateOverallScore(criteria)
	assert.InDelta(t, 0.6, got, 1e-9)
}

func TestNewRequestPriorityBounds(t *testing.T) {
	req := NewRequest("t", "d", nil, Priority(99))
	assert.Equal(t, PriorityMedium, req.Priority)

	req = NewRequest("t", "d", nil, PriorityCritical)
	assert.Equal(t, PriorityCritical, req.Priority)
}

func TestOperationTimeoutDefault(t *testing.T) {
	op := NewOperation(OpPageDesign, ActionWait, "")
	assert.Equal(t, 30, op.TimeoutSeconds)

	op.TimeoutSeconds = 0
	assert.Equal(t, "30s", op.Timeout().String())

	op.TimeoutSeconds = 5
	assert.Equal(t, "5s", op.Timeout().String())
}

func TestRewardTransactionLifecycle(t *testing.T) {
	tx := NewRewardTransaction("sol_x", 100, "solution_accepted", "accepted by review")
	assert.Equal(t, TransactionPending, tx.Status)
	assert.True(t, tx.ProcessedAt.IsZero())

	tx.MarkProcessed()
	assert.Equal(t, TransactionProcessed, tx.Status)
	assert.False(t, tx.ProcessedAt.IsZero())
}

func TestSolutionOwnership(t *testing.T) {
	sol := NewSolution("req_1", "Invoice Form")
	require.NotEmpty(t, sol.ID)
	assert.Equal(t, DecisionPending, sol.RewardDecision)
	assert.Equal(t, 1, sol.Version)

	op := NewOperation(OpFormDesign, ActionFill, "#field")
	sol.AddOperation(op)
	assert.Len(t, sol.Operations, 1)

	res := NewValidationResult("validator")
	res.IsValid = true
	res.Score = 0.9
	sol.SetValidationResult(res)
	require.NotNil(t, sol.ValidationResult)
	assert.Equal(t, 0.9, sol.ValidationResult.Score)
}

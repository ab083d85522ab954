package model

import "time"

// KnowledgeEntryType classifies a knowledge entry.
type KnowledgeEntryType string

const (
	EntrySolutionPattern KnowledgeEntryType = "solution_pattern"
	EntryBestPractice    KnowledgeEntryType = "best_practice"
	EntryCommonIssue     KnowledgeEntryType = "common_issue"
	EntryOptimizationTip KnowledgeEntryType = "optimization_tip"
)

// EvaluationStatus tracks the lifecycle of a solution evaluation.
type EvaluationStatus string

const (
	EvaluationPending    EvaluationStatus = "pending"
	EvaluationInProgress EvaluationStatus = "in_progress"
	EvaluationCompleted  EvaluationStatus = "completed"
	EvaluationFailed     EvaluationStatus = "failed"
)

// EntityType names the entity a VersionInfo record belongs to.
type EntityType string

const (
	EntitySolution       EntityType = "solution"
	EntityKnowledgeEntry EntityType = "knowledge_entry"
)

// Reward point deltas per decision. The mapping is exact and is asserted
// by the ledger tests.
const (
	RewardPointsAccepted = 100
	RewardPointsRejected = -50
	RewardPointsPending  = 0
)

// RewardPoints returns the ledger delta for a decision.
func RewardPoints(decision RewardDecision) int {
	switch decision {
	case DecisionAccepted:
		return RewardPointsAccepted
	case DecisionRejected:
		return RewardPointsRejected
	default:
		return RewardPointsPending
	}
}

// RewardCriteria is one named, weighted evaluation criterion. The active
// set drives SolutionEvaluation.CalculateOverallScore.
type RewardCriteria struct {
	ID               string             `json:"criteria_id"`
	Name             string             `json:"name"`
	Description      string             `json:"description"`
	Weight           float64            `json:"weight"` // [0,1]
	EvaluationMethod string             `json:"evaluation_method"`
	ThresholdValues  map[string]float64 `json:"threshold_values,omitempty"`
	IsActive         bool               `json:"is_active"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// DefaultRewardCriteria returns the built-in criteria set: functionality
// 0.4, code quality 0.2, performance 0.2, user satisfaction 0.2.
func DefaultRewardCriteria() []RewardCriteria {
	now := time.Now()
	mk := func(name, desc string, weight float64) RewardCriteria {
		return RewardCriteria{
			ID:               newID("crit"),
			Name:             name,
			Description:      desc,
			Weight:           weight,
			EvaluationMethod: "auto",
			ThresholdValues:  map[string]float64{"min": 0.0, "max": 1.0},
			IsActive:         true,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
	}
	return []RewardCriteria{
		mk("functionality", "Feature completeness and correctness", 0.4),
		mk("code_quality", "Operation sequence clarity and reuse", 0.2),
		mk("performance", "Execution and validation latency", 0.2),
		mk("user_satisfaction", "Reviewer feedback", 0.2),
	}
}

// SolutionEvaluation records a scored review of a solution against the
// active criteria.
type SolutionEvaluation struct {
	ID            string `json:"evaluation_id"`
	SolutionID    string `json:"solution_id"`
	EvaluatorType string `json:"evaluator_type"` // "human" or "ai"
	EvaluatorID   string `json:"evaluator_id,omitempty"`

	FunctionalityScore    float64 `json:"functionality_score"`
	CodeQualityScore      float64 `json:"code_quality_score"`
	PerformanceScore      float64 `json:"performance_score"`
	UserSatisfactionScore float64 `json:"user_satisfaction_score"`
	OverallScore          float64 `json:"overall_score"`

	DetailedFeedback       map[string]interface{} `json:"detailed_feedback,omitempty"`
	Strengths              []string               `json:"strengths,omitempty"`
	Weaknesses             []string               `json:"weaknesses,omitempty"`
	ImprovementSuggestions []string               `json:"improvement_suggestions,omitempty"`

	Status         EvaluationStatus `json:"status"`
	EvaluationTime float64          `json:"evaluation_time"` // seconds
	CreatedAt      time.Time        `json:"created_at"`
	CompletedAt    time.Time        `json:"completed_at,omitempty"`
}

// NewSolutionEvaluation creates a pending evaluation for a solution.
func NewSolutionEvaluation(solutionID, evaluatorType string) *SolutionEvaluation {
	return &SolutionEvaluation{
		ID:            newID("eval"),
		SolutionID:    solutionID,
		EvaluatorType: evaluatorType,
		Status:        EvaluationPending,
		CreatedAt:     time.Now(),
	}
}

// CalculateOverallScore weights the four sub-scores by the matching
// criteria and normalizes by the total weight of the criteria considered.
// Returns 0 when no criteria are given. The result is stored on the
// evaluation and returned.
func (e *SolutionEvaluation) CalculateOverallScore(criteria []RewardCriteria) float64 {
	if len(criteria) == 0 {
		e.OverallScore = 0.0
		return 0.0
	}
	weightedSum := 0.0
	totalWeight := 0.0
	for _, c := range criteria {
		switch c.Name {
		case "functionality":
			weightedSum += e.FunctionalityScore * c.Weight
		case "code_quality":
			weightedSum += e.CodeQualityScore * c.Weight
		case "performance":
			weightedSum += e.PerformanceScore * c.Weight
		case "user_satisfaction":
			weightedSum += e.UserSatisfactionScore * c.Weight
		}
		totalWeight += c.Weight
	}
	if totalWeight > 0 {
		e.OverallScore = weightedSum / totalWeight
	} else {
		e.OverallScore = 0.0
	}
	return e.OverallScore
}

// KnowledgeEntry is a distilled, reusable pattern derived only from an
// accepted solution.
type KnowledgeEntry struct {
	ID          string                 `json:"entry_id"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	EntryType   KnowledgeEntryType     `json:"entry_type"`
	Content     map[string]interface{} `json:"content"`

	RelatedSolutionIDs []string `json:"related_solution_ids,omitempty"`
	Tags               []string `json:"tags,omitempty"`
	Keywords           []string `json:"keywords,omitempty"`

	UsageCount  int       `json:"usage_count"`
	SuccessRate float64   `json:"success_rate"` // running rate over usages
	LastUsedAt  time.Time `json:"last_used_at,omitempty"`

	QualityScore float64   `json:"quality_score"` // mean of user ratings
	UserRatings  []float64 `json:"user_ratings,omitempty"`

	Version       int    `json:"version"`
	ParentEntryID string `json:"parent_entry_id,omitempty"`

	IsActive   bool `json:"is_active"`
	IsVerified bool `json:"is_verified"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewKnowledgeEntry creates an active, unverified entry.
func NewKnowledgeEntry(title, description string, entryType KnowledgeEntryType) *KnowledgeEntry {
	now := time.Now()
	return &KnowledgeEntry{
		ID:          newID("know"),
		Title:       title,
		Description: description,
		EntryType:   entryType,
		Content:     make(map[string]interface{}),
		Version:     1,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// RecordUsage bumps the usage count and folds the outcome into the
// running success rate.
func (k *KnowledgeEntry) RecordUsage(success bool) {
	k.UsageCount++
	k.LastUsedAt = time.Now()
	if k.UsageCount == 1 {
		if success {
			k.SuccessRate = 1.0
		} else {
			k.SuccessRate = 0.0
		}
		return
	}
	successes := k.SuccessRate * float64(k.UsageCount-1)
	if success {
		successes++
	}
	k.SuccessRate = successes / float64(k.UsageCount)
}

// AddRating records a user rating in [0,1] and recomputes the quality
// score as the mean of all ratings. Out-of-range ratings are ignored.
func (k *KnowledgeEntry) AddRating(rating float64) {
	if rating < 0.0 || rating > 1.0 {
		return
	}
	k.UserRatings = append(k.UserRatings, rating)
	sum := 0.0
	for _, r := range k.UserRatings {
		sum += r
	}
	k.QualityScore = sum / float64(len(k.UserRatings))
}

// VersionInfo is an append-only record of a change to a solution or
// knowledge entry. Rollback copies an older snapshot forward as a new
// version; history is never destroyed.
type VersionInfo struct {
	ID            string                 `json:"version_id"`
	EntityID      string                 `json:"entity_id"`
	EntityType    EntityType             `json:"entity_type"`
	VersionNumber int                    `json:"version_number"`
	ChangeSummary string                 `json:"change_summary"`
	ChangeDetails map[string]interface{} `json:"change_details,omitempty"`
	ChangedBy     string                 `json:"changed_by,omitempty"`
	ChangeReason  string                 `json:"change_reason,omitempty"`
	VersionData   map[string]interface{} `json:"version_data"`
	IsCurrent     bool                   `json:"is_current"`
	IsRollback    bool                   `json:"is_rollback"`
	CreatedAt     time.Time              `json:"created_at"`
}

// NewVersionInfo creates a current, non-rollback version record.
func NewVersionInfo(entityID string, entityType EntityType, versionNumber int, summary string) *VersionInfo {
	return &VersionInfo{
		ID:            newID("ver"),
		EntityID:      entityID,
		EntityType:    entityType,
		VersionNumber: versionNumber,
		ChangeSummary: summary,
		ChangeDetails: make(map[string]interface{}),
		VersionData:   make(map[string]interface{}),
		IsCurrent:     true,
		CreatedAt:     time.Now(),
	}
}

// TransactionStatus tracks a reward transaction's lifecycle.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionProcessed TransactionStatus = "processed"
)

// RewardTransaction is one append-only ledger entry tying a solution to a
// signed point delta.
type RewardTransaction struct {
	ID           string            `json:"transaction_id"`
	SolutionID   string            `json:"solution_id"`
	EvaluationID string            `json:"evaluation_id,omitempty"`
	RewardPoints int               `json:"reward_points"`
	RewardType   string            `json:"reward_type"`
	RewardReason string            `json:"reward_reason"`
	Status       TransactionStatus `json:"status"`
	ProcessedAt  time.Time         `json:"processed_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// NewRewardTransaction creates a pending ledger entry.
func NewRewardTransaction(solutionID string, points int, rewardType, reason string) *RewardTransaction {
	return &RewardTransaction{
		ID:           newID("tx"),
		SolutionID:   solutionID,
		RewardPoints: points,
		RewardType:   rewardType,
		RewardReason: reason,
		Status:       TransactionPending,
		CreatedAt:    time.Now(),
	}
}

// MarkProcessed stamps the transaction as processed.
func (t *RewardTransaction) MarkProcessed() {
	t.Status = TransactionProcessed
	t.ProcessedAt = time.Now()
}

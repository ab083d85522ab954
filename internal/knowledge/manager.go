// Package knowledge persists workflow outcomes and feeds prior art back
// into new runs. The manager stores solutions with their reward
// decision, distills accepted solutions into reusable knowledge entries,
// ranks historical solutions by similarity to new requests, and keeps
// the reward ledger and version history.
package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lowforge/internal/embedding"
	"lowforge/internal/jsonutil"
	"lowforge/internal/llm"
	"lowforge/internal/logging"
	"lowforge/internal/model"
	"lowforge/internal/store"
)

// Success-rate nudges applied when a decision lands. Clamped to [0,1].
const decisionNudge = 0.1

// Manager coordinates the knowledge base.
type Manager struct {
	llm      llm.Client
	store    store.Store
	embedder embedding.Engine // optional; nil disables semantic indexing
}

// NewManager wires the manager to its ports. embedder may be nil.
func NewManager(client llm.Client, st store.Store, embedder embedding.Engine) *Manager {
	return &Manager{llm: client, store: st, embedder: embedder}
}

// Store records a solution under the given decision: nudges its success
// rate, distills accepted solutions into a knowledge entry, appends a
// version record and a reward transaction, and writes the solution
// through the store.
func (m *Manager) Store(ctx context.Context, sol *model.Solution, decision model.RewardDecision) error {
	if sol == nil {
		return fmt.Errorf("solution is required")
	}

	sol.RewardDecision = decision
	switch decision {
	case model.DecisionAccepted:
		sol.SuccessRate = clamp01(sol.SuccessRate + decisionNudge)
		if entry, err := m.deriveEntry(ctx, sol); err != nil {
			logging.KnowledgeWarn("Knowledge distillation for %s failed: %v", sol.ID, err)
		} else if entry != nil {
			if err := m.saveEntry(ctx, entry); err != nil {
				logging.KnowledgeWarn("Failed to save knowledge entry for %s: %v", sol.ID, err)
			}
		}
	case model.DecisionRejected:
		sol.SuccessRate = clamp01(sol.SuccessRate - decisionNudge)
		if sol.ValidationResult == nil {
			sol.SetValidationResult(model.NewValidationResult("knowledge_manager"))
		}
		sol.ValidationResult.Issues = append(sol.ValidationResult.Issues,
			fmt.Sprintf("solution rejected on %s", time.Now().Format("2006-01-02")))
	}
	sol.UpdatedAt = time.Now()

	if err := m.recordVersion(sol, fmt.Sprintf("decision: %s", decision)); err != nil {
		logging.KnowledgeWarn("Failed to record version for %s: %v", sol.ID, err)
	}

	points := model.RewardPoints(decision)
	tx := model.NewRewardTransaction(sol.ID, points, "solution_"+string(decision),
		fmt.Sprintf("solution %s %s", sol.ID, decision))
	tx.MarkProcessed()
	if err := m.store.SaveTransaction(tx); err != nil {
		return fmt.Errorf("failed to record reward transaction: %w", err)
	}
	logging.AuditReward(sol.RequestID, sol.ID, points, string(decision))

	if err := m.store.SaveSolution(sol); err != nil {
		return fmt.Errorf("failed to save solution: %w", err)
	}

	logging.Knowledge("Stored solution %s (decision=%s rate=%.2f points=%+d)",
		sol.ID, decision, sol.SuccessRate, points)
	logging.Audit(logging.AuditKnowledgeStore, sol.RequestID, sol.ID, string(decision), nil)
	return nil
}

// recordVersion appends a snapshot of the solution's current state.
func (m *Manager) recordVersion(sol *model.Solution, summary string) error {
	latest, err := m.store.LatestVersion(sol.ID)
	if err != nil {
		return err
	}
	number := 1
	if latest != nil {
		number = latest.VersionNumber + 1
	}
	v := model.NewVersionInfo(sol.ID, model.EntitySolution, number, summary)
	v.VersionData = solutionSnapshot(sol)
	sol.Version = number
	return m.store.SaveVersion(v)
}

// solutionSnapshot captures the mutable solution state a rollback needs.
func solutionSnapshot(sol *model.Solution) map[string]interface{} {
	return map[string]interface{}{
		"title":           sol.Title,
		"description":     sol.Description,
		"reward_decision": string(sol.RewardDecision),
		"success_rate":    sol.SuccessRate,
		"execution_time":  sol.ExecutionTime,
		"operation_count": len(sol.Operations),
		"tags":            sol.Tags,
	}
}

// deriveEntry asks the completion port to distill the accepted solution
// into a reusable pattern. Unparseable replies yield a minimal entry
// built from the solution itself.
func (m *Manager) deriveEntry(ctx context.Context, sol *model.Solution) (*model.KnowledgeEntry, error) {
	var steps []string
	for _, op := range sol.Operations {
		steps = append(steps, fmt.Sprintf("%s %s on %s", op.Type, op.Action, op.TargetElement))
	}

	prompt := fmt.Sprintf(`Distill this accepted low-code development solution into a reusable pattern.

Solution title: %s
Description: %s
Success rate: %.2f
Operation sequence:
%s

Return JSON:
{
    "title": "pattern title",
    "description": "what the pattern achieves and when to apply it",
    "patterns": ["recurring technique 1"],
    "operation_sequences": ["reusable step ordering"],
    "notes": ["pitfalls or preconditions"],
    "optimizations": ["ways to speed this up"],
    "keywords": ["search keywords"]
}`, sol.Title, sol.Description, sol.SuccessRate, strings.Join(steps, "\n"))

	reply, err := m.llm.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("distillation prompt failed: %w", err)
	}
	parsed := jsonutil.Extract(reply)

	entry := model.NewKnowledgeEntry(
		jsonutil.StringOr(parsed, "title", "Pattern: "+sol.Title),
		jsonutil.StringOr(parsed, "description", sol.Description),
		model.EntrySolutionPattern,
	)
	entry.Content["patterns"] = jsonutil.StringSlice(parsed, "patterns")
	entry.Content["operation_sequences"] = jsonutil.StringSlice(parsed, "operation_sequences")
	entry.Content["notes"] = jsonutil.StringSlice(parsed, "notes")
	entry.Content["optimizations"] = jsonutil.StringSlice(parsed, "optimizations")
	entry.Keywords = jsonutil.StringSlice(parsed, "keywords")
	entry.Tags = sol.Tags
	entry.RelatedSolutionIDs = []string{sol.ID}
	return entry, nil
}

// saveEntry writes the entry and, when an embedder is configured, its
// embedding for semantic search. Embedding failures are non-fatal.
func (m *Manager) saveEntry(ctx context.Context, entry *model.KnowledgeEntry) error {
	if err := m.store.SaveKnowledgeEntry(entry); err != nil {
		return err
	}
	if m.embedder == nil {
		return nil
	}
	vs, ok := m.store.(interface {
		SaveKnowledgeEmbedding(entryID string, vec []float32) error
	})
	if !ok {
		return nil
	}
	vec, err := m.embedder.Embed(ctx, entry.Title+"\n"+entry.Description)
	if err != nil {
		logging.KnowledgeWarn("Embedding for entry %s failed: %v", entry.ID, err)
		return nil
	}
	if err := vs.SaveKnowledgeEmbedding(entry.ID, vec); err != nil {
		logging.KnowledgeWarn("Failed to index entry %s: %v", entry.ID, err)
	}
	return nil
}

// SearchSimilar finds accepted historical solutions resembling the
// request, ranked by weighted token similarity times success rate.
// Keyword extraction failures degrade to the request title.
func (m *Manager) SearchSimilar(ctx context.Context, req *model.Request, limit int) ([]ScoredSolution, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	if limit <= 0 {
		limit = 10
	}

	keywords := m.extractKeywords(ctx, req)
	candidates, err := m.store.SearchSolutions(keywords, model.DecisionAccepted, limit*5)
	if err != nil {
		return nil, fmt.Errorf("solution search failed: %w", err)
	}

	ranked := Rank(req, candidates)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	logging.Knowledge("SearchSimilar %q: %d candidates, returning %d", req.Title, len(candidates), len(ranked))
	logging.Audit(logging.AuditKnowledgeSearch, req.ID, req.Title, "", map[string]interface{}{
		"keywords":   keywords,
		"candidates": len(candidates),
	})
	return ranked, nil
}

// SearchEntries finds knowledge entries for a free-text query. With an
// embedding engine and a vector-capable store the query is embedded and
// matched against the indexed entries; otherwise, or when the index
// yields nothing, the search degrades to the lexical keyword path.
func (m *Manager) SearchEntries(ctx context.Context, query string, limit int) ([]*model.KnowledgeEntry, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	if limit <= 0 {
		limit = 10
	}

	if entries := m.searchEntriesSemantic(ctx, query, limit); len(entries) > 0 {
		return entries, nil
	}
	return m.store.SearchKnowledgeEntries(strings.Fields(strings.ToLower(query)), limit)
}

// searchEntriesSemantic runs the embedding-index lookup. Any failure
// returns nil so the caller falls back to lexical search.
func (m *Manager) searchEntriesSemantic(ctx context.Context, query string, limit int) []*model.KnowledgeEntry {
	if m.embedder == nil {
		return nil
	}
	vs, ok := m.store.(interface {
		SearchKnowledgeByEmbedding(query []float32, k int) ([]string, error)
	})
	if !ok {
		return nil
	}

	vec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		logging.KnowledgeWarn("Query embedding failed, falling back to lexical search: %v", err)
		return nil
	}
	ids, err := vs.SearchKnowledgeByEmbedding(vec, limit)
	if err != nil {
		logging.KnowledgeWarn("Vector search failed, falling back to lexical search: %v", err)
		return nil
	}

	var out []*model.KnowledgeEntry
	for _, id := range ids {
		entry, err := m.store.GetKnowledgeEntry(id)
		if err != nil {
			logging.KnowledgeWarn("Indexed entry %s not loadable: %v", id, err)
			continue
		}
		out = append(out, entry)
	}
	logging.Knowledge("SearchEntries %q: %d semantic hits", query, len(out))
	return out
}

// extractKeywords asks the completion port for search keywords, falling
// back to the request title's tokens.
func (m *Manager) extractKeywords(ctx context.Context, req *model.Request) []string {
	prompt := fmt.Sprintf(`Extract search keywords for finding similar development solutions.

Request title: %s
Description: %s
Requirements: %s

Return JSON: {"keywords": ["keyword1", "keyword2"]}`,
		req.Title, req.Description, strings.Join(req.Requirements, "; "))

	reply, err := m.llm.Complete(ctx, prompt)
	if err != nil {
		logging.KnowledgeWarn("Keyword extraction failed, falling back to title: %v", err)
		return strings.Fields(strings.ToLower(req.Title))
	}
	keywords := jsonutil.StringSlice(jsonutil.Extract(reply), "keywords")
	if len(keywords) == 0 {
		return strings.Fields(strings.ToLower(req.Title))
	}
	return keywords
}

// Feedback carries the four sub-scores (each in [0,1]) for Evaluate.
type Feedback struct {
	Functionality    float64
	CodeQuality      float64
	Performance      float64
	UserSatisfaction float64
	Strengths        []string
	Weaknesses       []string
	Suggestions      []string
	EvaluatorID      string
}

// Evaluate scores a solution against the active reward criteria and
// persists the evaluation with a matching ledger entry. The overall
// score is the weighted mean over active criteria (0 when none exist).
func (m *Manager) Evaluate(ctx context.Context, sol *model.Solution, fb Feedback) (*model.SolutionEvaluation, error) {
	if sol == nil {
		return nil, fmt.Errorf("solution is required")
	}

	criteria, err := m.store.ActiveCriteria()
	if err != nil {
		return nil, fmt.Errorf("failed to load criteria: %w", err)
	}

	eval := model.NewSolutionEvaluation(sol.ID, "human")
	if fb.EvaluatorID != "" {
		eval.EvaluatorID = fb.EvaluatorID
	}
	eval.FunctionalityScore = clamp01(fb.Functionality)
	eval.CodeQualityScore = clamp01(fb.CodeQuality)
	eval.PerformanceScore = clamp01(fb.Performance)
	eval.UserSatisfactionScore = clamp01(fb.UserSatisfaction)
	eval.Strengths = fb.Strengths
	eval.Weaknesses = fb.Weaknesses
	eval.ImprovementSuggestions = fb.Suggestions
	eval.CalculateOverallScore(criteria)
	eval.Status = model.EvaluationCompleted
	eval.CompletedAt = time.Now()

	if err := m.store.SaveEvaluation(eval); err != nil {
		return nil, fmt.Errorf("failed to save evaluation: %w", err)
	}

	points := int(eval.OverallScore * 100)
	tx := model.NewRewardTransaction(sol.ID, points, "evaluation",
		fmt.Sprintf("evaluation %s scored %.2f", eval.ID, eval.OverallScore))
	tx.EvaluationID = eval.ID
	tx.MarkProcessed()
	if err := m.store.SaveTransaction(tx); err != nil {
		logging.KnowledgeWarn("Failed to record evaluation transaction: %v", err)
	}

	logging.Knowledge("Evaluated solution %s: overall=%.2f", sol.ID, eval.OverallScore)
	return eval, nil
}

// Rollback marks a solution rejected and appends a rollback version that
// copies the previous snapshot forward. History is never destroyed.
func (m *Manager) Rollback(ctx context.Context, solutionID string) (*model.Solution, error) {
	if solutionID == "" {
		return nil, fmt.Errorf("solution id is required")
	}

	sol, err := m.store.GetSolution(solutionID)
	if err != nil {
		return nil, err
	}

	latest, err := m.store.LatestVersion(solutionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load version history: %w", err)
	}

	number := 1
	if latest != nil {
		number = latest.VersionNumber + 1
	}
	v := model.NewVersionInfo(solutionID, model.EntitySolution, number, "rollback")
	v.IsRollback = true
	if latest != nil {
		// Copy the prior snapshot forward rather than re-deriving it.
		for k, val := range latest.VersionData {
			v.VersionData[k] = val
		}
	} else {
		v.VersionData = solutionSnapshot(sol)
	}
	if err := m.store.SaveVersion(v); err != nil {
		return nil, fmt.Errorf("failed to save rollback version: %w", err)
	}

	sol.SuccessRate = clamp01(sol.SuccessRate - decisionNudge)
	sol.RewardDecision = model.DecisionRejected
	sol.Version = number
	sol.UpdatedAt = time.Now()
	if err := m.store.SaveSolution(sol); err != nil {
		return nil, fmt.Errorf("failed to save rolled-back solution: %w", err)
	}

	logging.Knowledge("Rolled back solution %s to version %d", solutionID, number)
	logging.Audit(logging.AuditVersionRollback, sol.RequestID, solutionID, "", map[string]interface{}{
		"version": number,
	})
	return sol, nil
}

// Cleanup deletes rejected solutions older than retentionDays. Accepted
// and pending solutions are retained regardless of age.
func (m *Manager) Cleanup(retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be positive, got %d", retentionDays)
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	n, err := m.store.CleanupRejectedBefore(cutoff)
	if err != nil {
		return 0, err
	}
	logging.Knowledge("Cleanup removed %d rejected solutions (retention=%dd)", n, retentionDays)
	return n, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

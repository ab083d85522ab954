package knowledge

import (
	"context"
	"fmt"
	"testing"
	"time"

	"lowforge/internal/model"
)

// --- MockClient ---

type MockClient struct {
	CompleteFunc func(ctx context.Context, prompt string) (string, error)
}

func (m *MockClient) Complete(ctx context.Context, prompt string) (string, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, prompt)
	}
	return "{}", nil
}

func (m *MockClient) CompleteWithSystem(ctx context.Context, system, prompt string) (string, error) {
	return m.Complete(ctx, prompt)
}

// --- MockStore ---

type MockStore struct {
	Solutions    map[string]*model.Solution
	Entries      map[string]*model.KnowledgeEntry
	Versions     map[string][]*model.VersionInfo
	Transactions []*model.RewardTransaction
	Evaluations  []*model.SolutionEvaluation
	Criteria     []model.RewardCriteria

	SearchSolutionsFunc func(keywords []string, decision model.RewardDecision, limit int) ([]*model.Solution, error)
}

func NewMockStore() *MockStore {
	return &MockStore{
		Solutions: make(map[string]*model.Solution),
		Entries:   make(map[string]*model.KnowledgeEntry),
		Versions:  make(map[string][]*model.VersionInfo),
		Criteria:  model.DefaultRewardCriteria(),
	}
}

func (m *MockStore) SaveSolution(s *model.Solution) error { m.Solutions[s.ID] = s; return nil }

func (m *MockStore) GetSolution(id string) (*model.Solution, error) {
	s, ok := m.Solutions[id]
	if !ok {
		return nil, fmt.Errorf("solution %s not found", id)
	}
	return s, nil
}

func (m *MockStore) ListSolutions(limit int) ([]*model.Solution, error) {
	var out []*model.Solution
	for _, s := range m.Solutions {
		out = append(out, s)
	}
	return out, nil
}

func (m *MockStore) SearchSolutions(keywords []string, decision model.RewardDecision, limit int) ([]*model.Solution, error) {
	if m.SearchSolutionsFunc != nil {
		return m.SearchSolutionsFunc(keywords, decision, limit)
	}
	var out []*model.Solution
	for _, s := range m.Solutions {
		if decision == "" || s.RewardDecision == decision {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MockStore) DeleteSolution(id string) error { delete(m.Solutions, id); return nil }

func (m *MockStore) CleanupRejectedBefore(cutoff time.Time) (int, error) {
	n := 0
	for id, s := range m.Solutions {
		if s.RewardDecision == model.DecisionRejected && s.CreatedAt.Before(cutoff) {
			delete(m.Solutions, id)
			n++
		}
	}
	return n, nil
}

func (m *MockStore) SaveKnowledgeEntry(e *model.KnowledgeEntry) error { m.Entries[e.ID] = e; return nil }

func (m *MockStore) GetKnowledgeEntry(id string) (*model.KnowledgeEntry, error) {
	e, ok := m.Entries[id]
	if !ok {
		return nil, fmt.Errorf("entry %s not found", id)
	}
	return e, nil
}

func (m *MockStore) ListKnowledgeEntries(limit int) ([]*model.KnowledgeEntry, error) {
	var out []*model.KnowledgeEntry
	for _, e := range m.Entries {
		out = append(out, e)
	}
	return out, nil
}

func (m *MockStore) SearchKnowledgeEntries(keywords []string, limit int) ([]*model.KnowledgeEntry, error) {
	return m.ListKnowledgeEntries(limit)
}

func (m *MockStore) SaveVersion(v *model.VersionInfo) error {
	m.Versions[v.EntityID] = append(m.Versions[v.EntityID], v)
	return nil
}

func (m *MockStore) ListVersions(entityID string) ([]*model.VersionInfo, error) {
	return m.Versions[entityID], nil
}

func (m *MockStore) LatestVersion(entityID string) (*model.VersionInfo, error) {
	versions := m.Versions[entityID]
	if len(versions) == 0 {
		return nil, nil
	}
	return versions[len(versions)-1], nil
}

func (m *MockStore) SaveTransaction(t *model.RewardTransaction) error {
	m.Transactions = append(m.Transactions, t)
	return nil
}

func (m *MockStore) ListTransactions(solutionID string) ([]*model.RewardTransaction, error) {
	var out []*model.RewardTransaction
	for _, t := range m.Transactions {
		if t.SolutionID == solutionID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MockStore) SaveEvaluation(e *model.SolutionEvaluation) error {
	m.Evaluations = append(m.Evaluations, e)
	return nil
}

func (m *MockStore) ActiveCriteria() ([]model.RewardCriteria, error) { return m.Criteria, nil }

func (m *MockStore) SaveCriteria(criteria []model.RewardCriteria) error {
	m.Criteria = criteria
	return nil
}

func (m *MockStore) Close() error { return nil }

// vecMockStore adds the optional vector-index methods on top of
// MockStore, the way the SQLite store exposes them.
type vecMockStore struct {
	*MockStore
	embeddings map[string][]float32
	hits       []string
}

func newVecMockStore() *vecMockStore {
	return &vecMockStore{MockStore: NewMockStore(), embeddings: make(map[string][]float32)}
}

func (v *vecMockStore) SaveKnowledgeEmbedding(entryID string, vec []float32) error {
	v.embeddings[entryID] = vec
	return nil
}

func (v *vecMockStore) SearchKnowledgeByEmbedding(query []float32, k int) ([]string, error) {
	if len(v.hits) > k {
		return v.hits[:k], nil
	}
	return v.hits, nil
}

// mockEmbedder is a function-field embedding double.
type mockEmbedder struct {
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	return []float32{1, 0, 0, 0}, nil
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (m *mockEmbedder) Dimensions() int { return 4 }

func (m *mockEmbedder) Name() string { return "mock" }

// --- tests ---

func TestStore_Accepted(t *testing.T) {
	st := NewMockStore()
	client := &MockClient{CompleteFunc: func(ctx context.Context, prompt string) (string, error) {
		return `{"title": "Form pattern", "description": "reuse the form flow", "keywords": ["form"]}`, nil
	}}
	mgr := NewManager(client, st, nil)

	sol := model.NewSolution("req_1", "Invoice Form")
	sol.SuccessRate = 0.85

	if err := mgr.Store(context.Background(), sol, model.DecisionAccepted); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	if sol.SuccessRate != 0.95 {
		t.Errorf("Expected success rate nudged to 0.95, got %v", sol.SuccessRate)
	}
	if sol.RewardDecision != model.DecisionAccepted {
		t.Errorf("Expected accepted decision, got %s", sol.RewardDecision)
	}
	if len(st.Entries) != 1 {
		t.Errorf("Expected 1 knowledge entry from accepted solution, got %d", len(st.Entries))
	}
	for _, e := range st.Entries {
		if e.Title != "Form pattern" {
			t.Errorf("Unexpected entry title %q", e.Title)
		}
		if len(e.RelatedSolutionIDs) != 1 || e.RelatedSolutionIDs[0] != sol.ID {
			t.Error("Entry should back-reference the originating solution")
		}
	}
	if len(st.Transactions) != 1 || st.Transactions[0].RewardPoints != 100 {
		t.Errorf("Expected one +100 transaction, got %+v", st.Transactions)
	}
	if st.Transactions[0].Status != model.TransactionProcessed {
		t.Error("Expected processed transaction")
	}
	if len(st.Versions[sol.ID]) != 1 {
		t.Errorf("Expected 1 version record, got %d", len(st.Versions[sol.ID]))
	}
}

func TestStore_AcceptedClampsToOne(t *testing.T) {
	st := NewMockStore()
	mgr := NewManager(&MockClient{}, st, nil)

	sol := model.NewSolution("req_1", "Form")
	sol.SuccessRate = 0.97
	if err := mgr.Store(context.Background(), sol, model.DecisionAccepted); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if sol.SuccessRate != 1.0 {
		t.Errorf("Expected success rate capped at 1.0, got %v", sol.SuccessRate)
	}
}

func TestStore_Rejected(t *testing.T) {
	st := NewMockStore()
	mgr := NewManager(&MockClient{}, st, nil)

	sol := model.NewSolution("req_1", "Broken Form")
	sol.SuccessRate = 0.05

	if err := mgr.Store(context.Background(), sol, model.DecisionRejected); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	if sol.SuccessRate != 0.0 {
		t.Errorf("Expected success rate floored at 0.0, got %v", sol.SuccessRate)
	}
	if sol.ValidationResult == nil || len(sol.ValidationResult.Issues) == 0 {
		t.Error("Expected a rejection note appended to validation issues")
	}
	if len(st.Entries) != 0 {
		t.Error("Rejected solutions must not produce knowledge entries")
	}
	if len(st.Transactions) != 1 || st.Transactions[0].RewardPoints != -50 {
		t.Errorf("Expected one -50 transaction, got %+v", st.Transactions)
	}
}

func TestStore_PendingPoints(t *testing.T) {
	st := NewMockStore()
	mgr := NewManager(&MockClient{}, st, nil)

	sol := model.NewSolution("req_1", "Form")
	sol.SuccessRate = 0.6
	if err := mgr.Store(context.Background(), sol, model.DecisionPending); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if sol.SuccessRate != 0.6 {
		t.Errorf("Pending must not nudge success rate, got %v", sol.SuccessRate)
	}
	if len(st.Transactions) != 1 || st.Transactions[0].RewardPoints != 0 {
		t.Errorf("Expected one 0-point transaction, got %+v", st.Transactions)
	}
}

func TestSearchSimilar_RanksAndFallsBack(t *testing.T) {
	st := NewMockStore()

	best := model.NewSolution("r", "Invoice Form")
	best.RewardDecision = model.DecisionAccepted
	best.SuccessRate = 1.0
	other := model.NewSolution("r", "Invoice Report")
	other.RewardDecision = model.DecisionAccepted
	other.SuccessRate = 0.5
	st.Solutions[best.ID] = best
	st.Solutions[other.ID] = other
	st.SearchSolutionsFunc = func(keywords []string, decision model.RewardDecision, limit int) ([]*model.Solution, error) {
		if decision != model.DecisionAccepted {
			t.Errorf("Expected accepted filter, got %s", decision)
		}
		return []*model.Solution{other, best}, nil
	}

	// Completion port returns garbage: keywords fall back to the title.
	var seenPrompt string
	client := &MockClient{CompleteFunc: func(ctx context.Context, prompt string) (string, error) {
		seenPrompt = prompt
		return "not json at all", nil
	}}
	mgr := NewManager(client, st, nil)

	req := model.NewRequest("Invoice Form", "", nil, model.PriorityMedium)
	ranked, err := mgr.SearchSimilar(context.Background(), req, 5)
	if err != nil {
		t.Fatalf("SearchSimilar failed: %v", err)
	}
	if seenPrompt == "" {
		t.Error("Expected keyword extraction prompt to be sent")
	}
	if len(ranked) != 2 {
		t.Fatalf("Expected 2 ranked solutions, got %d", len(ranked))
	}
	if ranked[0].Solution.ID != best.ID {
		t.Errorf("Expected best match first, got %s", ranked[0].Solution.Title)
	}
	if ranked[0].Similarity <= ranked[1].Similarity {
		t.Error("Expected descending similarity")
	}
}

func TestEvaluate_WeightedScore(t *testing.T) {
	st := NewMockStore()
	mgr := NewManager(&MockClient{}, st, nil)

	sol := model.NewSolution("req_1", "Form")
	eval, err := mgr.Evaluate(context.Background(), sol, Feedback{
		Functionality:    1.0,
		CodeQuality:      0.5,
		Performance:      0.5,
		UserSatisfaction: 0.5,
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	// 1.0×0.4 + 0.5×0.2 + 0.5×0.2 + 0.5×0.2 = 0.7 over weight sum 1.0
	if eval.OverallScore < 0.699 || eval.OverallScore > 0.701 {
		t.Errorf("Expected overall 0.7, got %v", eval.OverallScore)
	}
	if eval.Status != model.EvaluationCompleted {
		t.Errorf("Expected completed evaluation, got %s", eval.Status)
	}
	if len(st.Evaluations) != 1 {
		t.Error("Expected evaluation persisted")
	}
	if len(st.Transactions) != 1 || st.Transactions[0].EvaluationID != eval.ID {
		t.Error("Expected a ledger entry tied to the evaluation")
	}
}

func TestEvaluate_NoActiveCriteria(t *testing.T) {
	st := NewMockStore()
	st.Criteria = nil
	mgr := NewManager(&MockClient{}, st, nil)

	eval, err := mgr.Evaluate(context.Background(), model.NewSolution("r", "Form"), Feedback{Functionality: 1.0})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if eval.OverallScore != 0.0 {
		t.Errorf("Expected 0 score with no active criteria, got %v", eval.OverallScore)
	}
}

func TestRollback(t *testing.T) {
	st := NewMockStore()
	mgr := NewManager(&MockClient{}, st, nil)

	sol := model.NewSolution("req_1", "Form")
	sol.SuccessRate = 0.9
	sol.RewardDecision = model.DecisionAccepted
	st.Solutions[sol.ID] = sol

	v1 := model.NewVersionInfo(sol.ID, model.EntitySolution, 1, "initial")
	v1.VersionData["success_rate"] = 0.9
	st.Versions[sol.ID] = []*model.VersionInfo{v1}

	rolled, err := mgr.Rollback(context.Background(), sol.ID)
	if err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	if rolled.RewardDecision != model.DecisionRejected {
		t.Errorf("Expected rejected after rollback, got %s", rolled.RewardDecision)
	}
	if rolled.SuccessRate < 0.799 || rolled.SuccessRate > 0.801 {
		t.Errorf("Expected success rate 0.8 after rollback, got %v", rolled.SuccessRate)
	}
	versions := st.Versions[sol.ID]
	if len(versions) != 2 {
		t.Fatalf("Expected prior version retained plus rollback version, got %d", len(versions))
	}
	if !versions[1].IsRollback || versions[1].VersionNumber != 2 {
		t.Errorf("Unexpected rollback version: %+v", versions[1])
	}
	if versions[1].VersionData["success_rate"] != 0.9 {
		t.Error("Rollback version should copy the prior snapshot forward")
	}
}

func TestRollback_MissingID(t *testing.T) {
	mgr := NewManager(&MockClient{}, NewMockStore(), nil)
	if _, err := mgr.Rollback(context.Background(), ""); err == nil {
		t.Fatal("Expected error for missing solution id")
	}
}

func TestCleanup(t *testing.T) {
	st := NewMockStore()
	mgr := NewManager(&MockClient{}, st, nil)

	oldRejected := model.NewSolution("r", "Old")
	oldRejected.RewardDecision = model.DecisionRejected
	oldRejected.CreatedAt = time.Now().AddDate(0, 0, -100)
	oldAccepted := model.NewSolution("r", "Keep")
	oldAccepted.RewardDecision = model.DecisionAccepted
	oldAccepted.CreatedAt = time.Now().AddDate(0, 0, -200)
	st.Solutions[oldRejected.ID] = oldRejected
	st.Solutions[oldAccepted.ID] = oldAccepted

	n, err := mgr.Cleanup(90)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 deletion, got %d", n)
	}
	if _, ok := st.Solutions[oldAccepted.ID]; !ok {
		t.Error("Accepted solution must survive cleanup regardless of age")
	}

	if _, err := mgr.Cleanup(0); err == nil {
		t.Error("Expected error for non-positive retention")
	}
}

func TestStore_AcceptedIndexesEmbedding(t *testing.T) {
	st := newVecMockStore()
	mgr := NewManager(&MockClient{}, st, &mockEmbedder{})

	sol := model.NewSolution("req_1", "Invoice Form")
	sol.SuccessRate = 0.9
	if err := mgr.Store(context.Background(), sol, model.DecisionAccepted); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if len(st.Entries) != 1 {
		t.Fatalf("Expected 1 knowledge entry, got %d", len(st.Entries))
	}
	if len(st.embeddings) != 1 {
		t.Errorf("Expected the derived entry indexed for vector search, got %d embeddings", len(st.embeddings))
	}
}

func TestSearchEntries_SemanticPath(t *testing.T) {
	st := newVecMockStore()
	forms := model.NewKnowledgeEntry("Form pattern", "building forms", model.EntrySolutionPattern)
	reports := model.NewKnowledgeEntry("Report pattern", "building reports", model.EntrySolutionPattern)
	st.Entries[forms.ID] = forms
	st.Entries[reports.ID] = reports
	st.hits = []string{reports.ID, forms.ID}

	mgr := NewManager(&MockClient{}, st, &mockEmbedder{})
	entries, err := mgr.SearchEntries(context.Background(), "report layout", 5)
	if err != nil {
		t.Fatalf("SearchEntries failed: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != reports.ID || entries[1].ID != forms.ID {
		t.Errorf("Expected entries in index order [%s %s], got %+v", reports.ID, forms.ID, entries)
	}
}

func TestSearchEntries_LexicalFallback(t *testing.T) {
	st := NewMockStore() // no vector index
	entry := model.NewKnowledgeEntry("Form pattern", "building forms", model.EntrySolutionPattern)
	st.Entries[entry.ID] = entry

	mgr := NewManager(&MockClient{}, st, nil) // no embedder either
	entries, err := mgr.SearchEntries(context.Background(), "form", 5)
	if err != nil {
		t.Fatalf("SearchEntries failed: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != entry.ID {
		t.Errorf("Expected the lexical result, got %+v", entries)
	}
}

func TestSearchEntries_EmbedFailureFallsBack(t *testing.T) {
	st := newVecMockStore()
	entry := model.NewKnowledgeEntry("Form pattern", "building forms", model.EntrySolutionPattern)
	st.Entries[entry.ID] = entry
	st.hits = []string{entry.ID}

	embedder := &mockEmbedder{EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("quota exceeded")
	}}
	mgr := NewManager(&MockClient{}, st, embedder)
	entries, err := mgr.SearchEntries(context.Background(), "form", 5)
	if err != nil {
		t.Fatalf("SearchEntries failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected lexical fallback to still return the entry, got %+v", entries)
	}
}

func TestSearchEntries_EmptyQuery(t *testing.T) {
	mgr := NewManager(&MockClient{}, NewMockStore(), nil)
	if _, err := mgr.SearchEntries(context.Background(), "   ", 5); err == nil {
		t.Fatal("Expected error for blank query")
	}
}

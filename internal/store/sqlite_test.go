package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"lowforge/internal/model"
)

// newTestStore opens a store on the pure-Go driver in a temp directory.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSolutionRoundTrip(t *testing.T) {
	s := newTestStore(t)

	sol := model.NewSolution("req_1", "Invoice Form")
	sol.Description = "Builds an invoice entry form"
	sol.Tags = []string{"invoice", "form"}
	op := model.NewOperation(model.OpFormDesign, model.ActionClick, "#new-form")
	op.Success = true
	sol.AddOperation(op)
	sol.RecomputeSuccessRate()

	if err := s.SaveSolution(sol); err != nil {
		t.Fatalf("SaveSolution failed: %v", err)
	}

	loaded, err := s.GetSolution(sol.ID)
	if err != nil {
		t.Fatalf("GetSolution failed: %v", err)
	}

	if diff := cmp.Diff(sol, loaded, cmpopts.EquateApproxTime(time.Second)); diff != "" {
		t.Errorf("Solution round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestGetSolution_NotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetSolution("sol_missing"); err == nil {
		t.Fatal("Expected error for missing solution")
	}
}

func TestSaveSolution_Upsert(t *testing.T) {
	s := newTestStore(t)

	sol := model.NewSolution("req_1", "Report Page")
	if err := s.SaveSolution(sol); err != nil {
		t.Fatalf("SaveSolution failed: %v", err)
	}

	sol.RewardDecision = model.DecisionAccepted
	sol.SuccessRate = 0.9
	if err := s.SaveSolution(sol); err != nil {
		t.Fatalf("SaveSolution (update) failed: %v", err)
	}

	loaded, err := s.GetSolution(sol.ID)
	if err != nil {
		t.Fatalf("GetSolution failed: %v", err)
	}
	if loaded.RewardDecision != model.DecisionAccepted {
		t.Errorf("Expected accepted after update, got %s", loaded.RewardDecision)
	}

	all, err := s.ListSolutions(10)
	if err != nil {
		t.Fatalf("ListSolutions failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("Expected 1 solution after upsert, got %d", len(all))
	}
}

func TestSearchSolutions_KeywordsAndDecision(t *testing.T) {
	s := newTestStore(t)

	accepted := model.NewSolution("req_1", "Invoice Management Form")
	accepted.RewardDecision = model.DecisionAccepted
	rejected := model.NewSolution("req_2", "Invoice Report")
	rejected.RewardDecision = model.DecisionRejected
	unrelated := model.NewSolution("req_3", "User Dashboard")
	unrelated.RewardDecision = model.DecisionAccepted

	for _, sol := range []*model.Solution{accepted, rejected, unrelated} {
		if err := s.SaveSolution(sol); err != nil {
			t.Fatalf("SaveSolution failed: %v", err)
		}
	}

	results, err := s.SearchSolutions([]string{"invoice"}, model.DecisionAccepted, 10)
	if err != nil {
		t.Fatalf("SearchSolutions failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != accepted.ID {
		t.Errorf("Expected only the accepted invoice solution, got %d results", len(results))
	}

	// Empty keyword list matches everything with the decision.
	results, err = s.SearchSolutions(nil, model.DecisionAccepted, 10)
	if err != nil {
		t.Fatalf("SearchSolutions failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("Expected 2 accepted solutions, got %d", len(results))
	}
}

func TestSearchSolutions_StableOrder(t *testing.T) {
	s := newTestStore(t)

	var ids []string
	for _, title := range []string{"Form A", "Form B", "Form C"} {
		sol := model.NewSolution("req_1", title)
		sol.RewardDecision = model.DecisionAccepted
		if err := s.SaveSolution(sol); err != nil {
			t.Fatalf("SaveSolution failed: %v", err)
		}
		ids = append(ids, sol.ID)
	}

	results, err := s.SearchSolutions([]string{"form"}, model.DecisionAccepted, 10)
	if err != nil {
		t.Fatalf("SearchSolutions failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	for i, sol := range results {
		if sol.ID != ids[i] {
			t.Errorf("Result %d out of insertion order: got %s, want %s", i, sol.ID, ids[i])
		}
	}
}

func TestCleanupRejectedBefore(t *testing.T) {
	s := newTestStore(t)

	oldRejected := model.NewSolution("req_1", "Old rejected")
	oldRejected.RewardDecision = model.DecisionRejected
	oldRejected.CreatedAt = time.Now().AddDate(0, 0, -100)

	oldAccepted := model.NewSolution("req_2", "Old accepted")
	oldAccepted.RewardDecision = model.DecisionAccepted
	oldAccepted.CreatedAt = time.Now().AddDate(0, 0, -200)

	freshRejected := model.NewSolution("req_3", "Fresh rejected")
	freshRejected.RewardDecision = model.DecisionRejected

	for _, sol := range []*model.Solution{oldRejected, oldAccepted, freshRejected} {
		if err := s.SaveSolution(sol); err != nil {
			t.Fatalf("SaveSolution failed: %v", err)
		}
	}

	cutoff := time.Now().AddDate(0, 0, -90)
	deleted, err := s.CleanupRejectedBefore(cutoff)
	if err != nil {
		t.Fatalf("CleanupRejectedBefore failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deletion, got %d", deleted)
	}

	if _, err := s.GetSolution(oldRejected.ID); err == nil {
		t.Error("Old rejected solution should have been deleted")
	}
	if _, err := s.GetSolution(oldAccepted.ID); err != nil {
		t.Error("Old accepted solution must be retained regardless of age")
	}
	if _, err := s.GetSolution(freshRejected.ID); err != nil {
		t.Error("Fresh rejected solution must be retained")
	}
}

func TestKnowledgeEntryRoundTrip(t *testing.T) {
	s := newTestStore(t)

	e := model.NewKnowledgeEntry("Form pattern", "Reusable form layout", model.EntrySolutionPattern)
	e.Keywords = []string{"form", "layout"}
	e.RelatedSolutionIDs = []string{"sol_1"}

	if err := s.SaveKnowledgeEntry(e); err != nil {
		t.Fatalf("SaveKnowledgeEntry failed: %v", err)
	}

	loaded, err := s.GetKnowledgeEntry(e.ID)
	if err != nil {
		t.Fatalf("GetKnowledgeEntry failed: %v", err)
	}
	if diff := cmp.Diff(e, loaded, cmpopts.EquateApproxTime(time.Second)); diff != "" {
		t.Errorf("Knowledge entry round trip mismatch (-want +got):\n%s", diff)
	}

	hits, err := s.SearchKnowledgeEntries([]string{"layout"}, 10)
	if err != nil {
		t.Fatalf("SearchKnowledgeEntries failed: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("Expected 1 search hit, got %d", len(hits))
	}

	// Inactive entries are invisible to list and search.
	e.IsActive = false
	if err := s.SaveKnowledgeEntry(e); err != nil {
		t.Fatalf("SaveKnowledgeEntry (deactivate) failed: %v", err)
	}
	hits, err = s.SearchKnowledgeEntries([]string{"layout"}, 10)
	if err != nil {
		t.Fatalf("SearchKnowledgeEntries failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("Expected no hits for inactive entry, got %d", len(hits))
	}
}

func TestVersionHistory(t *testing.T) {
	s := newTestStore(t)

	v1 := model.NewVersionInfo("sol_1", model.EntitySolution, 1, "initial")
	v2 := model.NewVersionInfo("sol_1", model.EntitySolution, 2, "retry")
	v2.IsRollback = true

	if err := s.SaveVersion(v1); err != nil {
		t.Fatalf("SaveVersion failed: %v", err)
	}
	if err := s.SaveVersion(v2); err != nil {
		t.Fatalf("SaveVersion failed: %v", err)
	}

	versions, err := s.ListVersions("sol_1")
	if err != nil {
		t.Fatalf("ListVersions failed: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("Expected 2 versions, got %d", len(versions))
	}
	if versions[0].VersionNumber != 1 || versions[1].VersionNumber != 2 {
		t.Error("Versions not ordered by version number")
	}

	latest, err := s.LatestVersion("sol_1")
	if err != nil {
		t.Fatalf("LatestVersion failed: %v", err)
	}
	if latest == nil || latest.VersionNumber != 2 || !latest.IsRollback {
		t.Errorf("Unexpected latest version: %+v", latest)
	}

	none, err := s.LatestVersion("sol_unknown")
	if err != nil {
		t.Fatalf("LatestVersion failed: %v", err)
	}
	if none != nil {
		t.Error("Expected nil for entity with no versions")
	}
}

func TestRewardLedger(t *testing.T) {
	s := newTestStore(t)

	tx := model.NewRewardTransaction("sol_1", model.RewardPointsAccepted, "solution_accepted", "validation passed")
	tx.MarkProcessed()
	if err := s.SaveTransaction(tx); err != nil {
		t.Fatalf("SaveTransaction failed: %v", err)
	}

	txs, err := s.ListTransactions("sol_1")
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("Expected 1 transaction, got %d", len(txs))
	}
	if txs[0].RewardPoints != 100 || txs[0].Status != model.TransactionProcessed {
		t.Errorf("Unexpected transaction: %+v", txs[0])
	}
}

func TestDefaultCriteriaSeeded(t *testing.T) {
	s := newTestStore(t)

	criteria, err := s.ActiveCriteria()
	if err != nil {
		t.Fatalf("ActiveCriteria failed: %v", err)
	}
	if len(criteria) != 4 {
		t.Fatalf("Expected 4 seeded criteria, got %d", len(criteria))
	}
	total := 0.0
	for _, c := range criteria {
		total += c.Weight
	}
	if total < 0.99 || total > 1.01 {
		t.Errorf("Expected criteria weights to sum to 1.0, got %v", total)
	}
}

func TestKnowledgeEmbeddings(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveKnowledgeEmbedding("know_1", []float32{1, 0, 0}); err != nil {
		t.Fatalf("SaveKnowledgeEmbedding failed: %v", err)
	}
	if err := s.SaveKnowledgeEmbedding("know_2", []float32{0, 1, 0}); err != nil {
		t.Fatalf("SaveKnowledgeEmbedding failed: %v", err)
	}

	ids, err := s.SearchKnowledgeByEmbedding([]float32{0.9, 0.1, 0}, 1)
	if err != nil {
		t.Fatalf("SearchKnowledgeByEmbedding failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "know_1" {
		t.Errorf("Expected know_1 as nearest neighbour, got %v", ids)
	}
}

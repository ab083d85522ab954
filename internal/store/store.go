// Package store persists solutions, knowledge entries, versions and the
// reward ledger in SQLite. The Store interface is the persistence port
// the knowledge manager and workflows depend on; SQLiteStore is the
// production implementation.
package store

import (
	"time"

	"lowforge/internal/model"
)

// Store is the persistence port. Reads and writes are independent per
// entity id; no cross-entity transactions are offered or needed.
type Store interface {
	// Solutions
	SaveSolution(s *model.Solution) error
	GetSolution(id string) (*model.Solution, error)
	ListSolutions(limit int) ([]*model.Solution, error)
	// SearchSolutions returns solutions whose title, description or tags
	// contain any of the keywords, optionally filtered by decision.
	// Results come back in insertion order (stable for ranking).
	SearchSolutions(keywords []string, decision model.RewardDecision, limit int) ([]*model.Solution, error)
	DeleteSolution(id string) error
	// CleanupRejectedBefore deletes rejected solutions created before the
	// cutoff and reports how many were removed. Accepted and pending
	// solutions are never touched.
	CleanupRejectedBefore(cutoff time.Time) (int, error)

	// Knowledge entries
	SaveKnowledgeEntry(e *model.KnowledgeEntry) error
	GetKnowledgeEntry(id string) (*model.KnowledgeEntry, error)
	ListKnowledgeEntries(limit int) ([]*model.KnowledgeEntry, error)
	SearchKnowledgeEntries(keywords []string, limit int) ([]*model.KnowledgeEntry, error)

	// Version history (append-only)
	SaveVersion(v *model.VersionInfo) error
	ListVersions(entityID string) ([]*model.VersionInfo, error)
	LatestVersion(entityID string) (*model.VersionInfo, error)

	// Reward ledger (append-only)
	SaveTransaction(t *model.RewardTransaction) error
	ListTransactions(solutionID string) ([]*model.RewardTransaction, error)

	// Evaluations and criteria
	SaveEvaluation(e *model.SolutionEvaluation) error
	ActiveCriteria() ([]model.RewardCriteria, error)
	SaveCriteria(criteria []model.RewardCriteria) error

	Close() error
}

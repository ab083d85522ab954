package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"lowforge/internal/logging"
	"lowforge/internal/model"
)

// SQLiteStore implements Store over a single SQLite database. A single
// connection with WAL journaling keeps writers serialized without
// SQLITE_BUSY churn.
type SQLiteStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	dbPath    string
	vectorExt bool // sqlite-vec available
}

// NewSQLiteStore opens (or creates) the database at path. driver is
// "sqlite3" (cgo) or "sqlite" (pure Go); both register through imports.
func NewSQLiteStore(driver, path string) (*SQLiteStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewSQLiteStore")
	defer timer.Stop()

	if driver == "" {
		driver = "sqlite3"
	}
	logging.Store("Initializing SQLiteStore at %s (driver=%s)", path, driver)

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &SQLiteStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	s.detectVecExtension()
	if s.vectorExt {
		logging.Store("sqlite-vec extension detected, ANN knowledge search enabled")
	} else {
		logging.StoreDebug("sqlite-vec extension not available, using lexical search only")
	}

	if err := s.seedDefaultCriteria(); err != nil {
		logging.StoreWarn("Failed to seed default reward criteria: %v", err)
	}

	logging.Store("SQLiteStore ready at %s", path)
	return s, nil
}

// initialize creates the schema.
func (s *SQLiteStore) initialize() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS solutions (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			reward_decision TEXT NOT NULL,
			success_rate REAL NOT NULL DEFAULT 0,
			search_text TEXT,
			data TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_solutions_request ON solutions(request_id);
		CREATE INDEX IF NOT EXISTS idx_solutions_decision ON solutions(reward_decision);
		CREATE INDEX IF NOT EXISTS idx_solutions_created ON solutions(created_at);`,

		`CREATE TABLE IF NOT EXISTS knowledge_entries (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			entry_type TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			search_text TEXT,
			data TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_knowledge_type ON knowledge_entries(entry_type);
		CREATE INDEX IF NOT EXISTS idx_knowledge_active ON knowledge_entries(is_active);`,

		`CREATE TABLE IF NOT EXISTS version_info (
			id TEXT PRIMARY KEY,
			entity_id TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			version_number INTEGER NOT NULL,
			is_rollback INTEGER NOT NULL DEFAULT 0,
			data TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_versions_entity ON version_info(entity_id);`,

		`CREATE TABLE IF NOT EXISTS reward_transactions (
			id TEXT PRIMARY KEY,
			solution_id TEXT NOT NULL,
			evaluation_id TEXT,
			reward_points INTEGER NOT NULL,
			status TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_transactions_solution ON reward_transactions(solution_id);`,

		`CREATE TABLE IF NOT EXISTS solution_evaluations (
			id TEXT PRIMARY KEY,
			solution_id TEXT NOT NULL,
			overall_score REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_evaluations_solution ON solution_evaluations(solution_id);`,

		`CREATE TABLE IF NOT EXISTS reward_criteria (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			weight REAL NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			data TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
	}

	for _, table := range tables {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// seedDefaultCriteria inserts the built-in criteria set on first run.
func (s *SQLiteStore) seedDefaultCriteria() error {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM reward_criteria").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return s.SaveCriteria(model.DefaultRewardCriteria())
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	logging.Store("Closing SQLiteStore")
	return s.db.Close()
}

// DB exposes the underlying connection for maintenance tooling.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

const timeLayout = time.RFC3339Nano

// =============================================================================
// SOLUTIONS
// =============================================================================

// searchText builds the lexical search column for a solution.
func solutionSearchText(sol *model.Solution) string {
	parts := []string{sol.Title, sol.Description}
	parts = append(parts, sol.Tags...)
	return strings.ToLower(strings.Join(parts, " "))
}

// SaveSolution inserts or replaces a solution.
func (s *SQLiteStore) SaveSolution(sol *model.Solution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(sol)
	if err != nil {
		return fmt.Errorf("failed to marshal solution: %w", err)
	}

	_, err = s.db.Exec(`INSERT INTO solutions
		(id, request_id, title, description, reward_decision, success_rate, search_text, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title, description=excluded.description,
			reward_decision=excluded.reward_decision, success_rate=excluded.success_rate,
			search_text=excluded.search_text, data=excluded.data, updated_at=excluded.updated_at`,
		sol.ID, sol.RequestID, sol.Title, sol.Description, string(sol.RewardDecision),
		sol.SuccessRate, solutionSearchText(sol), string(data),
		sol.CreatedAt.UTC().Format(timeLayout), sol.UpdatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to save solution %s: %w", sol.ID, err)
	}
	logging.StoreDebug("Saved solution %s (decision=%s rate=%.2f)", sol.ID, sol.RewardDecision, sol.SuccessRate)
	return nil
}

// GetSolution loads a solution by id.
func (s *SQLiteStore) GetSolution(id string) (*model.Solution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRow("SELECT data FROM solutions WHERE id = ?", id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("solution %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load solution %s: %w", id, err)
	}
	var sol model.Solution
	if err := json.Unmarshal([]byte(data), &sol); err != nil {
		return nil, fmt.Errorf("failed to unmarshal solution %s: %w", id, err)
	}
	return &sol, nil
}

// ListSolutions returns solutions in insertion order, newest last.
func (s *SQLiteStore) ListSolutions(limit int) ([]*model.Solution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query("SELECT data FROM solutions ORDER BY rowid LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list solutions: %w", err)
	}
	defer rows.Close()
	return scanSolutions(rows)
}

// SearchSolutions matches any keyword against the search text. An empty
// keyword list matches everything (subject to the decision filter).
func (s *SQLiteStore) SearchSolutions(keywords []string, decision model.RewardDecision, limit int) ([]*model.Solution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	var conds []string
	var args []interface{}
	if decision != "" {
		conds = append(conds, "reward_decision = ?")
		args = append(args, string(decision))
	}
	var kwConds []string
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		kwConds = append(kwConds, "search_text LIKE ?")
		args = append(args, "%"+kw+"%")
	}
	if len(kwConds) > 0 {
		conds = append(conds, "("+strings.Join(kwConds, " OR ")+")")
	}

	query := "SELECT data FROM solutions"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY rowid LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search solutions: %w", err)
	}
	defer rows.Close()
	return scanSolutions(rows)
}

func scanSolutions(rows *sql.Rows) ([]*model.Solution, error) {
	var out []*model.Solution
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var sol model.Solution
		if err := json.Unmarshal([]byte(data), &sol); err != nil {
			logging.StoreWarn("Skipping undecodable solution row: %v", err)
			continue
		}
		out = append(out, &sol)
	}
	return out, rows.Err()
}

// DeleteSolution removes a solution by id.
func (s *SQLiteStore) DeleteSolution(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM solutions WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete solution %s: %w", id, err)
	}
	return nil
}

// CleanupRejectedBefore deletes rejected solutions created before cutoff.
func (s *SQLiteStore) CleanupRejectedBefore(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM solutions WHERE reward_decision = ? AND created_at < ?",
		string(model.DecisionRejected), cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("cleanup failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	logging.Store("Cleanup removed %d rejected solutions older than %s", n, cutoff.Format("2006-01-02"))
	return int(n), nil
}

// =============================================================================
// KNOWLEDGE ENTRIES
// =============================================================================

func entrySearchText(e *model.KnowledgeEntry) string {
	parts := []string{e.Title, e.Description}
	parts = append(parts, e.Keywords...)
	parts = append(parts, e.Tags...)
	return strings.ToLower(strings.Join(parts, " "))
}

// SaveKnowledgeEntry inserts or replaces a knowledge entry.
func (s *SQLiteStore) SaveKnowledgeEntry(e *model.KnowledgeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal knowledge entry: %w", err)
	}
	active := 0
	if e.IsActive {
		active = 1
	}
	_, err = s.db.Exec(`INSERT INTO knowledge_entries
		(id, title, entry_type, is_active, search_text, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title, entry_type=excluded.entry_type, is_active=excluded.is_active,
			search_text=excluded.search_text, data=excluded.data, updated_at=excluded.updated_at`,
		e.ID, e.Title, string(e.EntryType), active, entrySearchText(e), string(data),
		e.CreatedAt.UTC().Format(timeLayout), e.UpdatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to save knowledge entry %s: %w", e.ID, err)
	}
	logging.StoreDebug("Saved knowledge entry %s (%s)", e.ID, e.EntryType)
	return nil
}

// GetKnowledgeEntry loads an entry by id.
func (s *SQLiteStore) GetKnowledgeEntry(id string) (*model.KnowledgeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRow("SELECT data FROM knowledge_entries WHERE id = ?", id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("knowledge entry %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load knowledge entry %s: %w", id, err)
	}
	var e model.KnowledgeEntry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal knowledge entry %s: %w", id, err)
	}
	return &e, nil
}

// ListKnowledgeEntries returns active entries in insertion order.
func (s *SQLiteStore) ListKnowledgeEntries(limit int) ([]*model.KnowledgeEntry, error) {
	return s.queryEntries("SELECT data FROM knowledge_entries WHERE is_active = 1 ORDER BY rowid LIMIT ?", limit)
}

// SearchKnowledgeEntries matches any keyword against the search text.
func (s *SQLiteStore) SearchKnowledgeEntries(keywords []string, limit int) ([]*model.KnowledgeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	var kwConds []string
	var args []interface{}
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		kwConds = append(kwConds, "search_text LIKE ?")
		args = append(args, "%"+kw+"%")
	}
	query := "SELECT data FROM knowledge_entries WHERE is_active = 1"
	if len(kwConds) > 0 {
		query += " AND (" + strings.Join(kwConds, " OR ") + ")"
	}
	query += " ORDER BY rowid LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search knowledge entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *SQLiteStore) queryEntries(query string, limit int) ([]*model.KnowledgeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]*model.KnowledgeEntry, error) {
	var out []*model.KnowledgeEntry
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var e model.KnowledgeEntry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			logging.StoreWarn("Skipping undecodable knowledge row: %v", err)
			continue
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// =============================================================================
// VERSIONS
// =============================================================================

// SaveVersion appends a version record. Versions are never updated.
func (s *SQLiteStore) SaveVersion(v *model.VersionInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal version: %w", err)
	}
	rollback := 0
	if v.IsRollback {
		rollback = 1
	}
	// Older versions of the entity stop being current.
	if v.IsCurrent {
		if _, err := s.db.Exec(
			`UPDATE version_info SET data = json_set(data, '$.is_current', json('false')) WHERE entity_id = ?`,
			v.EntityID); err != nil {
			logging.StoreDebug("Failed to clear is_current flags for %s: %v", v.EntityID, err)
		}
	}
	_, err = s.db.Exec(`INSERT INTO version_info
		(id, entity_id, entity_type, version_number, is_rollback, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.EntityID, string(v.EntityType), v.VersionNumber, rollback, string(data),
		v.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to save version %s: %w", v.ID, err)
	}
	return nil
}

// ListVersions returns all versions of an entity, oldest first.
func (s *SQLiteStore) ListVersions(entityID string) ([]*model.VersionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT data FROM version_info WHERE entity_id = ? ORDER BY version_number", entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions for %s: %w", entityID, err)
	}
	defer rows.Close()

	var out []*model.VersionInfo
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var v model.VersionInfo
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			logging.StoreWarn("Skipping undecodable version row: %v", err)
			continue
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

// LatestVersion returns the highest-numbered version of an entity, or
// nil when the entity has no versions.
func (s *SQLiteStore) LatestVersion(entityID string) (*model.VersionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRow(
		"SELECT data FROM version_info WHERE entity_id = ? ORDER BY version_number DESC LIMIT 1",
		entityID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest version for %s: %w", entityID, err)
	}
	var v model.VersionInfo
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal version: %w", err)
	}
	return &v, nil
}

// =============================================================================
// REWARD LEDGER
// =============================================================================

// SaveTransaction appends a ledger entry.
func (s *SQLiteStore) SaveTransaction(t *model.RewardTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO reward_transactions
		(id, solution_id, evaluation_id, reward_points, status, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SolutionID, t.EvaluationID, t.RewardPoints, string(t.Status), string(data),
		t.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to save transaction %s: %w", t.ID, err)
	}
	logging.StoreDebug("Recorded reward transaction %s (%+d points for %s)", t.ID, t.RewardPoints, t.SolutionID)
	return nil
}

// ListTransactions returns the ledger entries for a solution, oldest first.
func (s *SQLiteStore) ListTransactions(solutionID string) ([]*model.RewardTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT data FROM reward_transactions WHERE solution_id = ? ORDER BY rowid", solutionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions for %s: %w", solutionID, err)
	}
	defer rows.Close()

	var out []*model.RewardTransaction
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var t model.RewardTransaction
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			logging.StoreWarn("Skipping undecodable transaction row: %v", err)
			continue
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// =============================================================================
// EVALUATIONS AND CRITERIA
// =============================================================================

// SaveEvaluation inserts or replaces an evaluation.
func (s *SQLiteStore) SaveEvaluation(e *model.SolutionEvaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal evaluation: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO solution_evaluations
		(id, solution_id, overall_score, status, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			overall_score=excluded.overall_score, status=excluded.status, data=excluded.data`,
		e.ID, e.SolutionID, e.OverallScore, string(e.Status), string(data),
		e.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to save evaluation %s: %w", e.ID, err)
	}
	return nil
}

// ActiveCriteria returns the active criteria set in insertion order.
func (s *SQLiteStore) ActiveCriteria() ([]model.RewardCriteria, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT data FROM reward_criteria WHERE is_active = 1 ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("failed to load criteria: %w", err)
	}
	defer rows.Close()

	var out []model.RewardCriteria
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var c model.RewardCriteria
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			logging.StoreWarn("Skipping undecodable criteria row: %v", err)
			continue
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveCriteria inserts or replaces criteria by name.
func (s *SQLiteStore) SaveCriteria(criteria []model.RewardCriteria) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range criteria {
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal criteria %s: %w", c.Name, err)
		}
		active := 0
		if c.IsActive {
			active = 1
		}
		_, err = s.db.Exec(`INSERT INTO reward_criteria
			(id, name, weight, is_active, data, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				weight=excluded.weight, is_active=excluded.is_active, data=excluded.data`,
			c.ID, c.Name, c.Weight, active, string(data), c.CreatedAt.UTC().Format(timeLayout))
		if err != nil {
			return fmt.Errorf("failed to save criteria %s: %w", c.Name, err)
		}
	}
	return nil
}

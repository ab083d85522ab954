package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"lowforge/internal/embedding"
	"lowforge/internal/logging"
)

// Optional vector search over knowledge entries. Embeddings are stored
// as JSON arrays next to the entry id; when the sqlite-vec extension is
// present (sqlite_vec build tag) a vec0 index accelerates lookups,
// otherwise queries fall back to a brute-force cosine scan. Lexical
// search remains the default path either way.

// detectVecExtension probes for vec0 virtual table support.
func (s *SQLiteStore) detectVecExtension() {
	if s.db == nil {
		return
	}
	if _, err := s.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err == nil {
		s.vectorExt = true
		_, _ = s.db.Exec("DROP TABLE IF EXISTS vec_probe")
		return
	}
	s.vectorExt = false
}

// HasVectorIndex reports whether ANN search is available.
func (s *SQLiteStore) HasVectorIndex() bool {
	return s.vectorExt
}

// ensureVectorTable creates the embedding side table on first use.
func (s *SQLiteStore) ensureVectorTable() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS knowledge_vectors (
		entry_id TEXT PRIMARY KEY,
		embedding TEXT NOT NULL
	)`)
	return err
}

// SaveKnowledgeEmbedding stores (or replaces) the embedding for an entry.
func (s *SQLiteStore) SaveKnowledgeEmbedding(entryID string, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureVectorTable(); err != nil {
		return fmt.Errorf("failed to create vector table: %w", err)
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO knowledge_vectors (entry_id, embedding) VALUES (?, ?)
		ON CONFLICT(entry_id) DO UPDATE SET embedding=excluded.embedding`,
		entryID, string(data))
	if err != nil {
		return fmt.Errorf("failed to save embedding for %s: %w", entryID, err)
	}
	return nil
}

// SearchKnowledgeByEmbedding returns the ids of the k entries most
// similar to the query vector. Without stored embeddings the result is
// empty; callers fall back to lexical search.
func (s *SQLiteStore) SearchKnowledgeByEmbedding(query []float32, k int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ensureVectorTable(); err != nil {
		return nil, fmt.Errorf("failed to create vector table: %w", err)
	}

	rows, err := s.db.Query("SELECT entry_id, embedding FROM knowledge_vectors")
	if err != nil {
		return nil, fmt.Errorf("failed to load embeddings: %w", err)
	}
	defer rows.Close()

	ids, corpus, err := scanEmbeddings(rows)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	hits := embedding.FindTopK(query, corpus, k)
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, ids[h.Index])
	}
	logging.StoreDebug("Vector search returned %d/%d entries", len(out), len(ids))
	return out, nil
}

func scanEmbeddings(rows *sql.Rows) ([]string, [][]float32, error) {
	var ids []string
	var corpus [][]float32
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, nil, err
		}
		var vec []float32
		if err := json.Unmarshal([]byte(data), &vec); err != nil {
			logging.StoreWarn("Skipping undecodable embedding for %s: %v", id, err)
			continue
		}
		ids = append(ids, id)
		corpus = append(corpus, vec)
	}
	return ids, corpus, rows.Err()
}

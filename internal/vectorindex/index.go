// Package vectorindex is a namespaced similarity store over SQLite.
// Embeddings are kept as little-endian float64 BLOBs and ranked in memory by
// cosine similarity; an FTS5 shadow table enables hybrid keyword retrieval.
package vectorindex

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"neuroforge/internal/domain"
)

// maxEmbedBytes caps the text handed to the embedder. Longer records are
// stored whole; only the embedded prefix is truncated.
const maxEmbedBytes = 8 * 1024

// rowsErrFunc is a function type for testing the rows.Err() error path.
type rowsErrFunc func() error

// SQLiteIndex stores records and their embeddings in SQLite, partitioned by
// namespace. It satisfies domain.MemoryIndex.
type SQLiteIndex struct {
	db       *sql.DB
	embedder domain.Embedder
	rowsErr  rowsErrFunc // nil means use rows.Err(); for testing only
}

// NewSQLiteIndex creates an index over db and initializes the schema.
func NewSQLiteIndex(db *sql.DB, embedder domain.Embedder) (*SQLiteIndex, error) {
	if db == nil {
		return nil, fmt.Errorf("db must not be nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder must not be nil")
	}
	idx := &SQLiteIndex{db: db, embedder: embedder}
	if err := idx.migrate(); err != nil {
		return nil, fmt.Errorf("vectorindex migrate: %w", err)
	}
	return idx, nil
}

// migrate creates the records table and FTS5 virtual table if absent.
func (s *SQLiteIndex) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			id TEXT PRIMARY KEY,
			namespace TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding BLOB NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_records_namespace ON records(namespace)`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS records_fts USING fts5(content)`)
	return err
}

// Upsert embeds text, cleans metadata, and persists the record under a fresh
// opaque id within namespace.
func (s *SQLiteIndex) Upsert(ctx context.Context, namespace, text string, metadata map[string]any) (string, error) {
	if namespace == "" {
		return "", fmt.Errorf("namespace must not be empty")
	}
	if text == "" {
		return "", fmt.Errorf("text must not be empty")
	}

	vec, err := s.embedder.Embed(ctx, truncateForEmbed(text))
	if err != nil {
		return "", fmt.Errorf("embed: %w", err)
	}

	meta, err := json.Marshal(CleanMetadata(metadata))
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	id := uuid.NewString()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO records (id, namespace, content, embedding, metadata) VALUES (?, ?, ?, ?, ?)",
		id, namespace, text, EncodeEmbedding(vec), string(meta))
	if err != nil {
		return "", err
	}
	rowid, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("get last insert id: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO records_fts(rowid, content) VALUES (?, ?)", rowid, text); err != nil {
		return "", err
	}
	return id, nil
}

// Query embeds text and returns the topK most similar records in namespace,
// ordered by decreasing cosine similarity.
func (s *SQLiteIndex) Query(ctx context.Context, namespace, text string, topK int) ([]domain.MemoryMatch, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace must not be empty")
	}
	if text == "" {
		return nil, fmt.Errorf("text must not be empty")
	}
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive")
	}

	vec, err := s.embedder.Embed(ctx, truncateForEmbed(text))
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, embedding, metadata, created_at FROM records WHERE namespace = ?", namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []domain.MemoryMatch
	for rows.Next() {
		var id, meta string
		var blob []byte
		var createdAt time.Time
		if err := rows.Scan(&id, &blob, &meta, &createdAt); err != nil {
			return nil, err
		}
		var metadata map[string]any
		if err := json.Unmarshal([]byte(meta), &metadata); err != nil {
			metadata = map[string]any{}
		}
		metadata["created_at"] = createdAt.UTC().Format(time.RFC3339)
		matches = append(matches, domain.MemoryMatch{
			ID:       id,
			Score:    CosineSimilarity(vec, DecodeEmbedding(blob)),
			Metadata: metadata,
		})
	}
	rowsErr := rows.Err()
	if s.rowsErr != nil {
		rowsErr = s.rowsErr()
	}
	if rowsErr != nil {
		return nil, rowsErr
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if topK > len(matches) {
		topK = len(matches)
	}
	return matches[:topK], nil
}

// rrfK is the Reciprocal Rank Fusion constant. A standard value of 60
// balances between top and lower-ranked results.
const rrfK = 60

// HybridQuery runs both a vector search and an FTS5 keyword search within
// namespace, merges by record id, and re-ranks with Reciprocal Rank Fusion.
// Records appearing in both lists get a score boost.
func (s *SQLiteIndex) HybridQuery(ctx context.Context, namespace, text string, topK int) ([]domain.MemoryMatch, error) {
	semantic, err := s.Query(ctx, namespace, text, topK)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	// FTS5 MATCH can reject query syntax; treat that as no keyword hits.
	keyword, err := s.keywordSearch(ctx, namespace, text, topK)
	if err != nil {
		keyword = nil
	}
	return mergeAndRank(semantic, keyword, topK), nil
}

// mergeAndRank combines semantic and keyword results using RRF.
func mergeAndRank(semantic, keyword []domain.MemoryMatch, topK int) []domain.MemoryMatch {
	type scored struct {
		match domain.MemoryMatch
		score float64
	}
	seen := make(map[string]*scored)
	for rank, m := range semantic {
		seen[m.ID] = &scored{match: m, score: 1.0 / float64(rrfK+rank+1)}
	}
	for rank, m := range keyword {
		rrfScore := 1.0 / float64(rrfK+rank+1)
		if existing, ok := seen[m.ID]; ok {
			existing.score += rrfScore
		} else {
			seen[m.ID] = &scored{match: m, score: rrfScore}
		}
	}

	all := make([]scored, 0, len(seen))
	for _, s := range seen {
		all = append(all, *s)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].score > all[j].score })

	if topK > len(all) {
		topK = len(all)
	}
	out := make([]domain.MemoryMatch, topK)
	for i := 0; i < topK; i++ {
		out[i] = all[i].match
		out[i].Score = all[i].score
	}
	return out
}

// keywordSearch finds records in namespace matching the FTS5 query, sorted by
// relevance. The score is the negated FTS5 rank (higher = better).
func (s *SQLiteIndex) keywordSearch(ctx context.Context, namespace, query string, topK int) ([]domain.MemoryMatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.metadata, r.created_at, f.rank
		FROM records_fts f
		JOIN records r ON r.rowid = f.rowid
		WHERE records_fts MATCH ? AND r.namespace = ?
		ORDER BY f.rank
		LIMIT ?
	`, query, namespace, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []domain.MemoryMatch
	for rows.Next() {
		var id, meta string
		var createdAt time.Time
		var rank float64
		if err := rows.Scan(&id, &meta, &createdAt, &rank); err != nil {
			return nil, err
		}
		var metadata map[string]any
		if err := json.Unmarshal([]byte(meta), &metadata); err != nil {
			metadata = map[string]any{}
		}
		metadata["created_at"] = createdAt.UTC().Format(time.RFC3339)
		matches = append(matches, domain.MemoryMatch{ID: id, Score: -rank, Metadata: metadata})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return matches, nil
}

// CleanMetadata drops nil values, keeps primitives and string lists, and
// stringifies everything else so the stored metadata stays JSON-flat.
func CleanMetadata(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		if v == nil {
			continue
		}
		switch val := v.(type) {
		case string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64:
			out[k] = val
		case []string:
			out[k] = val
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

// truncateForEmbed clips text to the embedding byte budget.
func truncateForEmbed(text string) string {
	if len(text) <= maxEmbedBytes {
		return text
	}
	return text[:maxEmbedBytes]
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 for empty, zero, or mismatched-length vectors.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// EncodeEmbedding converts a float64 slice to a byte slice for BLOB storage.
// Each float64 is stored as 8 bytes in little-endian format.
func EncodeEmbedding(vec []float64) []byte {
	buf := make([]byte, len(vec)*8)
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// DecodeEmbedding converts a byte slice back to a float64 slice.
func DecodeEmbedding(data []byte) []float64 {
	n := len(data) / 8
	vec := make([]float64, n)
	for i := range vec {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return vec
}

// Ensure SQLiteIndex implements domain.MemoryIndex at compile time.
var _ domain.MemoryIndex = (*SQLiteIndex)(nil)

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mnemo-sh/mnemo/internal/types"
)

// VectorMatch pairs a memory with its cosine distance from a query vector.
type VectorMatch struct {
	Memory   types.Memory
	Distance float64
}

// KeywordMatch pairs a memory with its FTS rank. Rank is bm25, so more
// negative means more relevant.
type KeywordMatch struct {
	Memory types.Memory
	Rank   float64
}

// UpsertMemory inserts or replaces a memory row. The id is a content
// hash, so re-storing identical text overwrites the same row.
func (s *Store) UpsertMemory(ctx context.Context, m *types.Memory) error {
	tagsJSON, err := json.Marshal(m.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	urlsJSON, err := json.Marshal(m.RelatedURLs)
	if err != nil {
		return fmt.Errorf("marshal related urls: %w", err)
	}

	var lastRetrieved any
	if m.LastRetrieved != nil {
		lastRetrieved = m.LastRetrieved.UTC().Format(time.RFC3339)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (
			id, text, embedding, context, tags, timestamp, session_time,
			preview, primary_source, related_urls, source_method, tier,
			retrieval_count, last_retrieved
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			embedding = excluded.embedding,
			context = excluded.context,
			tags = excluded.tags,
			timestamp = excluded.timestamp,
			session_time = excluded.session_time,
			preview = excluded.preview,
			primary_source = excluded.primary_source,
			related_urls = excluded.related_urls,
			source_method = excluded.source_method,
			tier = excluded.tier
	`, m.ID, m.Text, m.Embedding, m.Context, string(tagsJSON),
		m.Timestamp.UTC().Format(time.RFC3339), m.SessionTime,
		m.Preview, m.PrimarySource, string(urlsJSON), m.SourceMethod, m.Tier,
		m.RetrievalCount, lastRetrieved)
	if err != nil {
		return fmt.Errorf("upsert memory: %w", err)
	}
	return nil
}

// GetMemory retrieves a memory by id.
func (s *Store) GetMemory(ctx context.Context, id string) (*types.Memory, error) {
	row := s.db.QueryRowContext(ctx, selectMemory+` WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan memory: %w", err)
	}
	return m, nil
}

// DeleteMemory removes a memory row. Missing rows return ErrNotFound.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountMemories returns the number of memory rows.
func (s *Store) CountMemories(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&count)
	return count, err
}

// ListMemories returns all memory rows. Used by index rebuilds and
// maintenance sweeps; the observation cap keeps the table small enough
// for full scans.
func (s *Store) ListMemories(ctx context.Context) ([]types.Memory, error) {
	rows, err := s.db.QueryContext(ctx, selectMemory)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()
	return collectMemories(rows)
}

// GetMemoriesByIDs fetches the given ids, skipping any that are missing.
func (s *Store) GetMemoriesByIDs(ctx context.Context, ids []string) ([]types.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, selectMemory+` WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("get memories by ids: %w", err)
	}
	defer rows.Close()
	return collectMemories(rows)
}

// SemanticSearchMemories scans all embeddings and returns the k nearest
// memories within maxDistance, closest first.
func (s *Store) SemanticSearchMemories(ctx context.Context, query []float32, k int, maxDistance float64) ([]VectorMatch, error) {
	rows, err := s.db.QueryContext(ctx, selectMemory+` WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	defer rows.Close()

	var matches []VectorMatch
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		dist := CosineDistance(query, UnpackEmbedding(m.Embedding))
		if dist <= maxDistance {
			matches = append(matches, VectorMatch{Memory: *m, Distance: dist})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// NearestMemory returns the single closest memory to the query vector,
// or nil when the table is empty.
func (s *Store) NearestMemory(ctx context.Context, query []float32) (*VectorMatch, error) {
	matches, err := s.SemanticSearchMemories(ctx, query, 1, 2.0)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return &matches[0], nil
}

// KeywordSearchMemories runs a bm25 full-text query over memory text.
func (s *Store) KeywordSearchMemories(ctx context.Context, query string, k int) ([]KeywordMatch, error) {
	match := ftsMatchExpr(query)
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.text, m.embedding, m.context, m.tags, m.timestamp,
		       m.session_time, m.preview, m.primary_source, m.related_urls,
		       m.source_method, m.tier, m.retrieval_count, m.last_retrieved,
		       f.rank
		FROM memories_fts f
		JOIN memories m ON m.rowid = f.rowid
		WHERE memories_fts MATCH ?
		ORDER BY f.rank
		LIMIT ?
	`, match, k)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	var matches []KeywordMatch
	for rows.Next() {
		var km KeywordMatch
		if err := scanMemoryInto(rows, &km.Memory, &km.Rank); err != nil {
			return nil, fmt.Errorf("scan keyword match: %w", err)
		}
		matches = append(matches, km)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return matches, nil
}

// TouchRetrieval bumps the access counter for a fetched record.
func (s *Store) TouchRetrieval(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		UPDATE memories
		SET retrieval_count = retrieval_count + 1, last_retrieved = ?
		WHERE id = ?
	`, now, id)
	if err != nil {
		return fmt.Errorf("touch retrieval: %w", err)
	}
	return nil
}

// StaleMemories returns tier-3 records older than the cutoff that have
// never been retrieved. Used by the stale maintenance report.
func (s *Store) StaleMemories(ctx context.Context, cutoff time.Time) ([]types.Memory, error) {
	rows, err := s.db.QueryContext(ctx, selectMemory+`
		WHERE tier = 3 AND retrieval_count = 0 AND timestamp < ?
	`, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("stale memories: %w", err)
	}
	defer rows.Close()
	return collectMemories(rows)
}

// ftsMatchExpr builds a conjunction-free FTS5 match expression with each
// term quoted, so user input cannot inject FTS syntax.
func ftsMatchExpr(query string) string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, `""`)
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}

const selectMemory = `
	SELECT id, text, embedding, context, tags, timestamp, session_time,
	       preview, primary_source, related_urls, source_method, tier,
	       retrieval_count, last_retrieved
	FROM memories`

// scanMemory scans a row into a Memory, handling JSON columns and
// nullable timestamps.
func scanMemory(scanner interface{ Scan(...any) error }) (*types.Memory, error) {
	var m types.Memory
	if err := scanMemoryInto(scanner, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// scanMemoryInto scans the memory columns plus any trailing extras
// (such as an FTS rank) into the provided destinations.
func scanMemoryInto(scanner interface{ Scan(...any) error }, m *types.Memory, extra ...any) error {
	var tagsJSON, urlsJSON, timestamp string
	var lastRetrieved sql.NullString

	dests := []any{
		&m.ID, &m.Text, &m.Embedding, &m.Context, &tagsJSON, &timestamp,
		&m.SessionTime, &m.Preview, &m.PrimarySource, &urlsJSON,
		&m.SourceMethod, &m.Tier, &m.RetrievalCount, &lastRetrieved,
	}
	dests = append(dests, extra...)

	if err := scanner.Scan(dests...); err != nil {
		return err
	}

	if tagsJSON != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &m.Tags); err != nil {
			return fmt.Errorf("parse tags JSON: %w", err)
		}
	}
	if urlsJSON != "" {
		if err := json.Unmarshal([]byte(urlsJSON), &m.RelatedURLs); err != nil {
			return fmt.Errorf("parse related urls JSON: %w", err)
		}
	}
	if t, err := time.Parse(time.RFC3339, timestamp); err == nil {
		m.Timestamp = t
	}
	if lastRetrieved.Valid {
		if t, err := time.Parse(time.RFC3339, lastRetrieved.String); err == nil {
			m.LastRetrieved = &t
		}
	}
	return nil
}

func collectMemories(rows *sql.Rows) ([]types.Memory, error) {
	var out []types.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

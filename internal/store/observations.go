package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/mnemo-sh/mnemo/internal/types"
)

// ObservationMatch pairs an observation with its cosine distance.
type ObservationMatch struct {
	Observation types.Observation
	Distance    float64
}

// InsertObservation stores a captured observation.
func (s *Store) InsertObservation(ctx context.Context, o *types.Observation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO observations (
			id, session_id, tool_name, content, embedding, timestamp,
			has_error, error_pattern
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, o.ID, o.SessionID, o.ToolName, o.Content, o.Embedding,
		o.Timestamp.UTC().Format(time.RFC3339), boolToInt(o.HasError), o.ErrorPattern)
	if err != nil {
		return fmt.Errorf("insert observation: %w", err)
	}
	return nil
}

// CountObservations returns the number of observation rows.
func (s *Store) CountObservations(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM observations`).Scan(&count)
	return count, err
}

// ListObservationsSince returns observations at or after the cutoff,
// oldest first. The compactor analyzes these for promotion.
func (s *Store) ListObservationsSince(ctx context.Context, cutoff time.Time) ([]types.Observation, error) {
	rows, err := s.db.QueryContext(ctx, selectObservation+`
		WHERE timestamp >= ?
		ORDER BY timestamp ASC
	`, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	defer rows.Close()
	return collectObservations(rows)
}

// ListObservationsBefore returns observations strictly older than the
// cutoff, oldest first. The compactor digests and promotes from this
// batch before expiring it.
func (s *Store) ListObservationsBefore(ctx context.Context, cutoff time.Time) ([]types.Observation, error) {
	rows, err := s.db.QueryContext(ctx, selectObservation+`
		WHERE timestamp < ?
		ORDER BY timestamp ASC
	`, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("list expired observations: %w", err)
	}
	defer rows.Close()
	return collectObservations(rows)
}

// DeleteObservationsBefore removes observations older than the cutoff
// and returns how many were deleted.
func (s *Store) DeleteObservationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM observations WHERE timestamp < ?
	`, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("delete observations: %w", err)
	}
	return res.RowsAffected()
}

// EvictObservationsToCap deletes the oldest observations until at most
// keep rows remain. Returns the number evicted.
func (s *Store) EvictObservationsToCap(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM observations
		WHERE id IN (
			SELECT id FROM observations
			ORDER BY timestamp ASC
			LIMIT max(0, (SELECT COUNT(*) FROM observations) - ?)
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("evict observations: %w", err)
	}
	return res.RowsAffected()
}

// SemanticSearchObservations scans observation embeddings and returns
// the k nearest within maxDistance, closest first.
func (s *Store) SemanticSearchObservations(ctx context.Context, query []float32, k int, maxDistance float64) ([]ObservationMatch, error) {
	rows, err := s.db.QueryContext(ctx, selectObservation+` WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("semantic search observations: %w", err)
	}
	defer rows.Close()

	var matches []ObservationMatch
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		dist := CosineDistance(query, UnpackEmbedding(o.Embedding))
		if dist <= maxDistance {
			matches = append(matches, ObservationMatch{Observation: *o, Distance: dist})
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

const selectObservation = `
	SELECT id, session_id, tool_name, content, embedding, timestamp,
	       has_error, error_pattern
	FROM observations`

func scanObservation(scanner interface{ Scan(...any) error }) (*types.Observation, error) {
	var o types.Observation
	var timestamp string
	var hasError int

	err := scanner.Scan(&o.ID, &o.SessionID, &o.ToolName, &o.Content,
		&o.Embedding, &timestamp, &hasError, &o.ErrorPattern)
	if err != nil {
		return nil, err
	}

	o.HasError = hasError != 0
	if t, err := time.Parse(time.RFC3339, timestamp); err == nil {
		o.Timestamp = t
	}
	return &o, nil
}

func collectObservations(rows *sql.Rows) ([]types.Observation, error) {
	var out []types.Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

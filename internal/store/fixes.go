package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mnemo-sh/mnemo/internal/types"
)

// UpsertFixOutcome inserts or replaces a fix chain row.
func (s *Store) UpsertFixOutcome(ctx context.Context, f *types.FixOutcome) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fix_outcomes (
			chain_id, error_hash, error_text, strategy_id, strategy_text,
			outcome, confidence, attempts, successes, banned,
			first_seen, last_updated, bridged, embedding
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chain_id) DO UPDATE SET
			error_text = excluded.error_text,
			strategy_text = excluded.strategy_text,
			outcome = excluded.outcome,
			confidence = excluded.confidence,
			attempts = excluded.attempts,
			successes = excluded.successes,
			banned = excluded.banned,
			last_updated = excluded.last_updated,
			bridged = excluded.bridged,
			embedding = excluded.embedding
	`, f.ChainID, f.ErrorHash, f.ErrorText, f.StrategyID, f.StrategyText,
		f.Outcome, f.Confidence, f.Attempts, f.Successes, boolToInt(f.Banned),
		f.FirstSeen.UTC().Format(time.RFC3339), f.LastUpdated.UTC().Format(time.RFC3339),
		boolToInt(f.Bridged), f.Embedding)
	if err != nil {
		return fmt.Errorf("upsert fix outcome: %w", err)
	}
	return nil
}

// GetFixOutcome retrieves a chain by id.
func (s *Store) GetFixOutcome(ctx context.Context, chainID string) (*types.FixOutcome, error) {
	row := s.db.QueryRowContext(ctx, selectFixOutcome+` WHERE chain_id = ?`, chainID)
	f, err := scanFixOutcome(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan fix outcome: %w", err)
	}
	return f, nil
}

// FixOutcomesByErrorHash returns all chains recorded for an error
// fingerprint, most recently updated first.
func (s *Store) FixOutcomesByErrorHash(ctx context.Context, errorHash string) ([]types.FixOutcome, error) {
	rows, err := s.db.QueryContext(ctx, selectFixOutcome+`
		WHERE error_hash = ?
		ORDER BY last_updated DESC
	`, errorHash)
	if err != nil {
		return nil, fmt.Errorf("fix outcomes by hash: %w", err)
	}
	defer rows.Close()
	return collectFixOutcomes(rows)
}

// ListFixOutcomes returns all chains. The semantic fallback in history
// queries scans these when no exact hash matches.
func (s *Store) ListFixOutcomes(ctx context.Context) ([]types.FixOutcome, error) {
	rows, err := s.db.QueryContext(ctx, selectFixOutcome)
	if err != nil {
		return nil, fmt.Errorf("list fix outcomes: %w", err)
	}
	defer rows.Close()
	return collectFixOutcomes(rows)
}

// CountFixOutcomes returns the number of chain rows.
func (s *Store) CountFixOutcomes(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fix_outcomes`).Scan(&count)
	return count, err
}

const selectFixOutcome = `
	SELECT chain_id, error_hash, error_text, strategy_id, strategy_text,
	       outcome, confidence, attempts, successes, banned,
	       first_seen, last_updated, bridged, embedding
	FROM fix_outcomes`

func scanFixOutcome(scanner interface{ Scan(...any) error }) (*types.FixOutcome, error) {
	var f types.FixOutcome
	var firstSeen, lastUpdated string
	var banned, bridged int

	err := scanner.Scan(&f.ChainID, &f.ErrorHash, &f.ErrorText, &f.StrategyID,
		&f.StrategyText, &f.Outcome, &f.Confidence, &f.Attempts, &f.Successes,
		&banned, &firstSeen, &lastUpdated, &bridged, &f.Embedding)
	if err != nil {
		return nil, err
	}

	f.Banned = banned != 0
	f.Bridged = bridged != 0
	if t, err := time.Parse(time.RFC3339, firstSeen); err == nil {
		f.FirstSeen = t
	}
	if t, err := time.Parse(time.RFC3339, lastUpdated); err == nil {
		f.LastUpdated = t
	}
	return &f, nil
}

func collectFixOutcomes(rows *sql.Rows) ([]types.FixOutcome, error) {
	var out []types.FixOutcome
	for rows.Next() {
		f, err := scanFixOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fix outcome: %w", err)
		}
		out = append(out, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mnemo-sh/mnemo/internal/types"
)

// InsertQuarantine preserves a removed record for later inspection.
func (s *Store) InsertQuarantine(ctx context.Context, q *types.QuarantineRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quarantine (id, original_table, payload, reason, quarantined_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, q.ID, q.OriginalTable, q.Payload, q.Reason,
		q.QuarantinedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert quarantine: %w", err)
	}
	return nil
}

// ListQuarantine returns all quarantined records, newest first.
func (s *Store) ListQuarantine(ctx context.Context) ([]types.QuarantineRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, original_table, payload, reason, quarantined_at
		FROM quarantine
		ORDER BY quarantined_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list quarantine: %w", err)
	}
	defer rows.Close()
	return collectQuarantine(rows)
}

// CountQuarantine returns the number of quarantined records.
func (s *Store) CountQuarantine(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM quarantine`).Scan(&count)
	return count, err
}

func collectQuarantine(rows *sql.Rows) ([]types.QuarantineRecord, error) {
	var out []types.QuarantineRecord
	for rows.Next() {
		var q types.QuarantineRecord
		var at string
		if err := rows.Scan(&q.ID, &q.OriginalTable, &q.Payload, &q.Reason, &at); err != nil {
			return nil, fmt.Errorf("scan quarantine: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, at); err == nil {
			q.QuarantinedAt = t
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

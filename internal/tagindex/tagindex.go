// Package tagindex maintains the tag-to-record index in its own SQLite
// file, separate from the record tables. It also derives the tag
// co-occurrence matrix used for query-time tag expansion.
package tagindex

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Index is the tag index. All mutating operations bump a sync counter
// so the health check can detect drift against the record store.
type Index struct {
	mu    sync.Mutex
	db    *sql.DB
	dirty bool
	// cooc[a][b] counts records tagged with both a and b.
	cooc      map[string]map[string]int
	tagTotals map[string]int
}

const schema = `
CREATE TABLE IF NOT EXISTS tags (
    tag       TEXT NOT NULL,
    record_id TEXT NOT NULL,
    PRIMARY KEY (tag, record_id)
);
CREATE INDEX IF NOT EXISTS idx_tags_record ON tags(record_id);
CREATE TABLE IF NOT EXISTS sync_state (
    key   TEXT PRIMARY KEY,
    value INTEGER NOT NULL
);
INSERT OR IGNORE INTO sync_state (key, value) VALUES ('sync_count', 0);
`

// Open opens (or creates) the tag index at path.
func Open(path string) (*Index, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create tag index directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open tag index: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tag index schema: %w", err)
	}

	return &Index{db: db, dirty: true}, nil
}

// Close closes the underlying database.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Add indexes the tags for a record, replacing any prior tag set.
func (ix *Index) Add(ctx context.Context, recordID string, tags []string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tag transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE record_id = ?`, recordID); err != nil {
		return fmt.Errorf("clear record tags: %w", err)
	}
	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO tags (tag, record_id) VALUES (?, ?)`, tag, recordID); err != nil {
			return fmt.Errorf("insert tag: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sync_state SET value = value + 1 WHERE key = 'sync_count'`); err != nil {
		return fmt.Errorf("bump sync counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tag transaction: %w", err)
	}
	ix.dirty = true
	return nil
}

// Remove drops all tags for a record.
func (ix *Index) Remove(ctx context.Context, recordID string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, err := ix.db.ExecContext(ctx, `DELETE FROM tags WHERE record_id = ?`, recordID); err != nil {
		return fmt.Errorf("remove record tags: %w", err)
	}
	if _, err := ix.db.ExecContext(ctx, `UPDATE sync_state SET value = value + 1 WHERE key = 'sync_count'`); err != nil {
		return fmt.Errorf("bump sync counter: %w", err)
	}
	ix.dirty = true
	return nil
}

// Search returns record ids carrying the given tags. With matchAll set,
// only records carrying every tag are returned.
func (ix *Index) Search(ctx context.Context, tags []string, matchAll bool) ([]string, error) {
	if len(tags) == 0 {
		return nil, nil
	}

	placeholders := ""
	args := make([]any, 0, len(tags)+1)
	for i, tag := range tags {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, tag)
	}

	query := `SELECT record_id FROM tags WHERE tag IN (` + placeholders + `) GROUP BY record_id`
	if matchAll {
		query += ` HAVING COUNT(DISTINCT tag) = ?`
		args = append(args, len(tags))
	}

	rows, err := ix.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("tag search: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan record id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return ids, nil
}

// Known returns the distinct tag vocabulary, sorted. The search engine
// matches query text against this set for query-time tag expansion.
func (ix *Index) Known(ctx context.Context) ([]string, error) {
	rows, err := ix.db.QueryContext(ctx, `SELECT DISTINCT tag FROM tags ORDER BY tag`)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return tags, nil
}

// Rebuild replaces the whole index from record-id to tag-set pairs and
// resets the sync counter to the number of indexed records.
func (ix *Index) Rebuild(ctx context.Context, records map[string][]string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rebuild: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tags`); err != nil {
		return fmt.Errorf("clear tags: %w", err)
	}
	for id, tags := range records {
		for _, tag := range tags {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO tags (tag, record_id) VALUES (?, ?)`, tag, id); err != nil {
				return fmt.Errorf("insert tag: %w", err)
			}
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sync_state SET value = ? WHERE key = 'sync_count'`, len(records)); err != nil {
		return fmt.Errorf("reset sync counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rebuild: %w", err)
	}
	ix.dirty = true
	return nil
}

// SyncCount returns the mutation counter.
func (ix *Index) SyncCount(ctx context.Context) (int, error) {
	var count int
	err := ix.db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = 'sync_count'`).Scan(&count)
	return count, err
}

// RecordCount returns the number of distinct indexed records.
func (ix *Index) RecordCount(ctx context.Context) (int, error) {
	var count int
	err := ix.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT record_id) FROM tags`).Scan(&count)
	return count, err
}

// Expand widens a tag set with tags that co-occur with the input tags
// on more than minShare of the input tag's records. The matrix is
// rebuilt lazily after writes.
func (ix *Index) Expand(ctx context.Context, tags []string, minShare float64) ([]string, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.dirty {
		if err := ix.rebuildCoOccurrence(ctx); err != nil {
			return nil, err
		}
	}

	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if !seen[tag] {
			seen[tag] = true
			out = append(out, tag)
		}
	}

	for _, tag := range tags {
		total := ix.tagTotals[tag]
		if total == 0 {
			continue
		}
		for other, count := range ix.cooc[tag] {
			if seen[other] {
				continue
			}
			if float64(count)/float64(total) > minShare {
				seen[other] = true
				out = append(out, other)
			}
		}
	}
	return out, nil
}

// rebuildCoOccurrence recomputes the co-occurrence matrix from the tag
// table. Caller holds the mutex.
func (ix *Index) rebuildCoOccurrence(ctx context.Context) error {
	rows, err := ix.db.QueryContext(ctx, `SELECT record_id, tag FROM tags ORDER BY record_id`)
	if err != nil {
		return fmt.Errorf("load tags: %w", err)
	}
	defer rows.Close()

	byRecord := make(map[string][]string)
	for rows.Next() {
		var id, tag string
		if err := rows.Scan(&id, &tag); err != nil {
			return fmt.Errorf("scan tag: %w", err)
		}
		byRecord[id] = append(byRecord[id], tag)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate rows: %w", err)
	}

	cooc := make(map[string]map[string]int)
	totals := make(map[string]int)
	for _, tags := range byRecord {
		for _, a := range tags {
			totals[a]++
			for _, b := range tags {
				if a == b {
					continue
				}
				if cooc[a] == nil {
					cooc[a] = make(map[string]int)
				}
				cooc[a][b]++
			}
		}
	}

	ix.cooc = cooc
	ix.tagTotals = totals
	ix.dirty = false
	return nil
}

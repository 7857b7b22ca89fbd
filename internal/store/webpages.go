package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mnemo-sh/mnemo/internal/types"
)

// UpsertWebPage stores a fetched reference page, replacing any prior
// fetch of the same URL.
func (s *Store) UpsertWebPage(ctx context.Context, p *types.WebPage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO web_pages (url, title, content, embedding, fetched_at, domain)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			embedding = excluded.embedding,
			fetched_at = excluded.fetched_at,
			domain = excluded.domain
	`, p.URL, p.Title, p.Content, p.Embedding,
		p.FetchedAt.UTC().Format(time.RFC3339), p.Domain)
	if err != nil {
		return fmt.Errorf("upsert web page: %w", err)
	}
	return nil
}

// GetWebPage retrieves a page by URL.
func (s *Store) GetWebPage(ctx context.Context, url string) (*types.WebPage, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT url, title, content, embedding, fetched_at, domain
		FROM web_pages WHERE url = ?
	`, url)

	var p types.WebPage
	var fetchedAt string
	err := row.Scan(&p.URL, &p.Title, &p.Content, &p.Embedding, &fetchedAt, &p.Domain)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan web page: %w", err)
	}
	if t, err := time.Parse(time.RFC3339, fetchedAt); err == nil {
		p.FetchedAt = t
	}
	return &p, nil
}

// CountWebPages returns the number of stored pages.
func (s *Store) CountWebPages(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM web_pages`).Scan(&count)
	return count, err
}

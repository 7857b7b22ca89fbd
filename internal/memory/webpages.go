package memory

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/mnemo-sh/mnemo/internal/store"
	"github.com/mnemo-sh/mnemo/internal/types"
)

// SaveWebPage stores a fetched reference document, keyed by URL.
func (s *Service) SaveWebPage(ctx context.Context, page types.WebPage) error {
	if page.URL == "" {
		return fmt.Errorf("web page url required")
	}
	if page.FetchedAt.IsZero() {
		page.FetchedAt = time.Now().UTC()
	}
	if page.Domain == "" {
		if u, err := url.Parse(page.URL); err == nil {
			page.Domain = u.Hostname()
		}
	}
	if vec, err := s.embedder.Embed(ctx, page.Content); err == nil {
		page.Embedding = store.PackEmbedding(vec)
	} else {
		slog.Warn("embedding unavailable, storing page without vector",
			"component", "memory",
			"url", page.URL,
			"error", err,
		)
	}

	if err := s.store.UpsertWebPage(ctx, &page); err != nil {
		return fmt.Errorf("store web page: %w", err)
	}
	s.touchTimestamp()
	return nil
}

// GetWebPage fetches a stored page by URL.
func (s *Service) GetWebPage(ctx context.Context, pageURL string) (*types.WebPage, error) {
	return s.store.GetWebPage(ctx, pageURL)
}

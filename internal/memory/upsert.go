package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mnemo-sh/mnemo/internal/store"
	"github.com/mnemo-sh/mnemo/internal/types"
)

// Upsert writes a raw typed record into a collection. This is the
// administrative path: it skips the noise filter and dedup probe, but
// still backfills embeddings and keeps the tag index and the sideband
// timestamp consistent.
func (s *Service) Upsert(ctx context.Context, collection string, raw json.RawMessage) (any, error) {
	switch collection {
	case "", "memories":
		return s.upsertMemory(ctx, raw)
	case "observations":
		return s.upsertObservation(ctx, raw)
	case "fix_outcomes":
		return s.upsertFixOutcome(ctx, raw)
	case "web_pages":
		var page types.WebPage
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("decode web page: %w", err)
		}
		if err := s.SaveWebPage(ctx, page); err != nil {
			return nil, err
		}
		return &page, nil
	default:
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
}

func (s *Service) upsertMemory(ctx context.Context, raw json.RawMessage) (*types.Memory, error) {
	var m types.Memory
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode memory: %w", err)
	}
	if m.ID == "" || m.Text == "" {
		return nil, fmt.Errorf("memory upsert requires id and text")
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	if m.Tier == 0 {
		m.Tier = 2
	}
	if len(m.Embedding) == 0 {
		if vec, err := s.embedder.Embed(ctx, m.Text); err == nil {
			m.Embedding = store.PackEmbedding(vec)
		} else {
			slog.Warn("embedding unavailable, upserting without vector",
				"component", "memory",
				"memory_id", m.ID,
				"error", err,
			)
		}
	}

	if err := s.store.UpsertMemory(ctx, &m); err != nil {
		return nil, fmt.Errorf("upsert memory: %w", err)
	}
	if len(m.Tags) > 0 {
		if err := s.tags.Add(ctx, m.ID, m.Tags); err != nil {
			slog.Warn("tag index update failed",
				"component", "memory",
				"memory_id", m.ID,
				"error", err,
			)
		}
	}
	s.cache.Clear()
	s.touchTimestamp()
	return &m, nil
}

func (s *Service) upsertObservation(ctx context.Context, raw json.RawMessage) (*types.Observation, error) {
	var o types.Observation
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("decode observation: %w", err)
	}
	if o.Content == "" {
		return nil, fmt.Errorf("observation upsert requires content")
	}
	if o.ID == "" {
		o.ID = ulid.Make().String()
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = time.Now().UTC()
	}

	if err := s.store.InsertObservation(ctx, &o); err != nil {
		return nil, fmt.Errorf("upsert observation: %w", err)
	}
	s.touchTimestamp()
	return &o, nil
}

func (s *Service) upsertFixOutcome(ctx context.Context, raw json.RawMessage) (*types.FixOutcome, error) {
	var f types.FixOutcome
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode fix outcome: %w", err)
	}
	if f.ChainID == "" {
		return nil, fmt.Errorf("fix outcome upsert requires chain_id")
	}
	now := time.Now().UTC()
	if f.FirstSeen.IsZero() {
		f.FirstSeen = now
	}
	if f.LastUpdated.IsZero() {
		f.LastUpdated = now
	}

	if err := s.store.UpsertFixOutcome(ctx, &f); err != nil {
		return nil, fmt.Errorf("upsert fix outcome: %w", err)
	}
	s.touchTimestamp()
	return &f, nil
}

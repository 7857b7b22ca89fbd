package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/mnemo-sh/mnemo/internal/store"
	"github.com/mnemo-sh/mnemo/internal/types"
)

// staleAge is how long a tier-3 memory may sit unretrieved before the
// stale sweep quarantines it.
const staleAge = 90 * 24 * time.Hour

// MaintenanceReport summarizes one maintenance task run.
type MaintenanceReport struct {
	Task     string `json:"task"`
	Affected int    `json:"affected"`
}

// Maintenance runs an administrative task: "stale" quarantines unused
// ephemera, "rebuild_tags" reindexes tags from the record store, and
// "dedup" sweeps the memory table for near-duplicates that slipped in.
func (s *Service) Maintenance(ctx context.Context, task string) (*MaintenanceReport, error) {
	var affected int
	var err error

	switch task {
	case "stale":
		affected, err = s.sweepStale(ctx)
	case "rebuild_tags":
		affected, err = s.rebuildTags(ctx)
	case "dedup":
		affected, err = s.sweepDuplicates(ctx)
	default:
		return nil, fmt.Errorf("unknown maintenance task %q", task)
	}
	if err != nil {
		return nil, err
	}

	if affected > 0 {
		s.cache.Clear()
		s.touchTimestamp()
	}
	return &MaintenanceReport{Task: task, Affected: affected}, nil
}

// sweepStale quarantines tier-3 memories that were never retrieved.
func (s *Service) sweepStale(ctx context.Context) (int, error) {
	stale, err := s.store.StaleMemories(ctx, time.Now().UTC().Add(-staleAge))
	if err != nil {
		return 0, fmt.Errorf("list stale memories: %w", err)
	}

	quarantined := 0
	for _, m := range stale {
		if err := s.quarantineMemory(ctx, m, "stale: never retrieved"); err != nil {
			return quarantined, err
		}
		quarantined++
	}
	return quarantined, nil
}

// rebuildTags reindexes the tag index from the memory table.
func (s *Service) rebuildTags(ctx context.Context) (int, error) {
	memories, err := s.store.ListMemories(ctx)
	if err != nil {
		return 0, fmt.Errorf("list memories: %w", err)
	}

	records := make(map[string][]string, len(memories))
	for _, m := range memories {
		if len(m.Tags) > 0 {
			records[m.ID] = m.Tags
		}
	}
	if err := s.tags.Rebuild(ctx, records); err != nil {
		return 0, fmt.Errorf("rebuild tag index: %w", err)
	}
	return len(records), nil
}

// sweepDuplicates quarantines memories within the hard threshold of an
// older record. The oldest record in each cluster survives.
func (s *Service) sweepDuplicates(ctx context.Context) (int, error) {
	memories, err := s.store.ListMemories(ctx)
	if err != nil {
		return 0, fmt.Errorf("list memories: %w", err)
	}
	sort.Slice(memories, func(i, j int) bool {
		return memories[i].Timestamp.Before(memories[j].Timestamp)
	})

	type kept struct {
		id  string
		vec []float32
	}
	var survivors []kept
	quarantined := 0

	for _, m := range memories {
		if len(m.Embedding) == 0 {
			continue
		}
		vec := store.UnpackEmbedding(m.Embedding)

		duplicateOf := ""
		for _, k := range survivors {
			if store.CosineDistance(vec, k.vec) < s.cfg.Dedup.HardThreshold {
				duplicateOf = k.id
				break
			}
		}
		if duplicateOf == "" {
			survivors = append(survivors, kept{id: m.ID, vec: vec})
			continue
		}

		reason := fmt.Sprintf("near-duplicate of %s", duplicateOf)
		if err := s.quarantineMemory(ctx, m, reason); err != nil {
			return quarantined, err
		}
		quarantined++
	}
	return quarantined, nil
}

// quarantineMemory moves a memory out of the live table, preserving the
// original row as JSON.
func (s *Service) quarantineMemory(ctx context.Context, m types.Memory, reason string) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal memory %s: %w", m.ID, err)
	}
	if err := s.store.InsertQuarantine(ctx, &types.QuarantineRecord{
		ID:            m.ID,
		OriginalTable: "memories",
		Payload:       string(payload),
		Reason:        reason,
		QuarantinedAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("quarantine memory %s: %w", m.ID, err)
	}
	if err := s.store.DeleteMemory(ctx, m.ID); err != nil {
		return fmt.Errorf("delete quarantined memory %s: %w", m.ID, err)
	}
	if err := s.tags.Remove(ctx, m.ID); err != nil {
		return fmt.Errorf("deindex quarantined memory %s: %w", m.ID, err)
	}
	return nil
}

package compact

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mnemo-sh/mnemo/internal/config"
	"github.com/mnemo-sh/mnemo/internal/embedding"
	"github.com/mnemo-sh/mnemo/internal/errorsig"
	"github.com/mnemo-sh/mnemo/internal/ingest"
	"github.com/mnemo-sh/mnemo/internal/store"
	"github.com/mnemo-sh/mnemo/internal/types"
)

// CompactionStore is the slice of the record store the compactor writes to.
type CompactionStore interface {
	InsertObservation(ctx context.Context, o *types.Observation) error
	CountObservations(ctx context.Context) (int, error)
	ListObservationsBefore(ctx context.Context, cutoff time.Time) ([]types.Observation, error)
	DeleteObservationsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	EvictObservationsToCap(ctx context.Context, keep int) (int64, error)
	UpsertMemory(ctx context.Context, m *types.Memory) error
}

// Compactor owns all observation mutation. The service layer never
// touches observations directly; it sends flush requests over a channel
// and the compaction worker calls into here.
type Compactor struct {
	store    CompactionStore
	queue    *Queue
	embedder embedding.Embedder
	cfg      config.CompactionConfig
	now      func() time.Time
}

// New creates a compactor.
func New(store CompactionStore, queue *Queue, embedder embedding.Embedder, cfg config.CompactionConfig) *Compactor {
	return &Compactor{
		store:    store,
		queue:    queue,
		embedder: embedder,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Compact runs one full cycle: drain the queue into observations,
// collect the rows past their TTL, promote durable patterns and write a
// digest from that batch, delete it, and enforce the hard cap. A row
// older than the TTL is only ever deleted after the promotion pass has
// seen it.
func (c *Compactor) Compact(ctx context.Context) (*types.CompactionStats, error) {
	start := c.now().UTC()
	stats := &types.CompactionStats{}

	events, err := c.queue.Drain()
	if err != nil {
		return nil, fmt.Errorf("drain queue: %w", err)
	}
	for _, event := range events {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if err := c.store.InsertObservation(ctx, c.observationFrom(ctx, event)); err != nil {
			return stats, fmt.Errorf("insert observation: %w", err)
		}
		stats.Drained++
	}

	ttlCutoff := start.Add(-time.Duration(c.cfg.ObservationTTL))
	batch, err := c.store.ListObservationsBefore(ctx, ttlCutoff)
	if err != nil {
		return stats, fmt.Errorf("list expired observations: %w", err)
	}

	if len(batch) > 0 {
		promoted, err := c.promote(ctx, batch)
		if err != nil {
			// Promotion is best-effort enrichment; the cycle still counts
			slog.Warn("promotion pass failed",
				"component", "compact",
				"error", err,
			)
		}
		stats.Promoted = promoted

		if err := c.writeDigest(ctx, start, batch, stats); err != nil {
			slog.Warn("digest write failed",
				"component", "compact",
				"error", err,
			)
		}

		expired, err := c.store.DeleteObservationsBefore(ctx, ttlCutoff)
		if err != nil {
			return stats, fmt.Errorf("expire observations: %w", err)
		}
		stats.Expired = int(expired)
	}

	count, err := c.store.CountObservations(ctx)
	if err != nil {
		return stats, fmt.Errorf("count observations: %w", err)
	}
	if count > c.cfg.MaxObservations {
		evicted, err := c.store.EvictObservationsToCap(ctx, c.cfg.MaxObservations-c.cfg.EvictionBuffer)
		if err != nil {
			return stats, fmt.Errorf("enforce observation cap: %w", err)
		}
		stats.CapEvicted = int(evicted)
	}

	slog.Info("compaction cycle completed",
		"component", "compact",
		"drained", stats.Drained,
		"expired", stats.Expired,
		"promoted", stats.Promoted,
		"cap_evicted", stats.CapEvicted,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return stats, nil
}

// observationFrom converts a capture event, minting an id when the hook
// did not supply one and fingerprinting error content. Embedding is
// best-effort: an offline embedder leaves the observation searchable by
// scan but not by vector.
func (c *Compactor) observationFrom(ctx context.Context, event types.CaptureEvent) *types.Observation {
	o := &types.Observation{
		ID:        event.ID,
		SessionID: event.SessionID,
		ToolName:  event.ToolName,
		Content:   event.Content,
		Timestamp: event.Timestamp,
		HasError:  event.HasError,
	}
	if o.ID == "" {
		o.ID = ulid.Make().String()
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = c.now().UTC()
	}
	if o.HasError {
		o.ErrorPattern = errorsig.Normalize(event.Content)
	}
	if vec, err := c.embedder.Embed(ctx, event.Content); err == nil {
		o.Embedding = store.PackEmbedding(vec)
	}
	return o
}

// promote scans the expiring batch for durable patterns. The three
// criteria share one budget per cycle, in priority order: standalone
// errors, file churn, repeated commands.
func (c *Compactor) promote(ctx context.Context, observations []types.Observation) (int, error) {
	budget := c.cfg.MaxPromotions
	promoted := 0

	for _, candidate := range c.standaloneErrors(observations) {
		if budget == 0 {
			return promoted, nil
		}
		if err := c.promoteMemory(ctx, candidate); err != nil {
			return promoted, err
		}
		budget--
		promoted++
	}
	for _, candidate := range c.fileChurn(observations) {
		if budget == 0 {
			return promoted, nil
		}
		if err := c.promoteMemory(ctx, candidate); err != nil {
			return promoted, err
		}
		budget--
		promoted++
	}
	for _, candidate := range c.repeatedCommands(observations) {
		if budget == 0 {
			return promoted, nil
		}
		if err := c.promoteMemory(ctx, candidate); err != nil {
			return promoted, err
		}
		budget--
		promoted++
	}
	return promoted, nil
}

type promotion struct {
	text string
	tags []string
}

// standaloneErrors finds error observations never followed by a success
// of the same tool in the same session: the agent hit a wall and moved
// on, which is exactly the knowledge worth keeping.
func (c *Compactor) standaloneErrors(observations []types.Observation) []promotion {
	var out []promotion
	for i, o := range observations {
		if !o.HasError {
			continue
		}
		resolved := false
		for _, later := range observations[i+1:] {
			if later.SessionID == o.SessionID && later.ToolName == o.ToolName && !later.HasError {
				resolved = true
				break
			}
		}
		if !resolved {
			out = append(out, promotion{
				text: fmt.Sprintf("Unresolved error in %s: %s", o.ToolName, o.Content),
				tags: []string{"type:error-pattern", "source:compaction"},
			})
		}
	}
	return out
}

var filePathRe = regexp.MustCompile(`[\w./-]+\.\w{1,5}`)

// fileChurn finds files touched across many distinct sessions.
func (c *Compactor) fileChurn(observations []types.Observation) []promotion {
	sessions := make(map[string]map[string]bool)
	for _, o := range observations {
		for _, path := range filePathRe.FindAllString(o.Content, -1) {
			if !strings.Contains(path, "/") {
				continue
			}
			if sessions[path] == nil {
				sessions[path] = make(map[string]bool)
			}
			sessions[path][o.SessionID] = true
		}
	}

	var out []promotion
	for path, seen := range sessions {
		if len(seen) >= c.cfg.ChurnSessionMin {
			out = append(out, promotion{
				text: fmt.Sprintf("File %s keeps changing: touched in %d distinct sessions", path, len(seen)),
				tags: []string{"type:churn", "source:compaction"},
			})
		}
	}
	return out
}

// repeatedCommands finds commands run over and over, excluding test and
// commit invocations which repeat by nature.
func (c *Compactor) repeatedCommands(observations []types.Observation) []promotion {
	counts := make(map[string]int)
	for _, o := range observations {
		if o.ToolName != "bash" {
			continue
		}
		cmd := strings.TrimSpace(o.Content)
		if cmd == "" || strings.Contains(cmd, "test") || strings.Contains(cmd, "commit") {
			continue
		}
		counts[cmd]++
	}

	var out []promotion
	for cmd, n := range counts {
		if n >= c.cfg.RepeatedCommandMin {
			out = append(out, promotion{
				text: fmt.Sprintf("Frequent command (%d runs): %s", n, cmd),
				tags: []string{"type:workflow", "source:compaction"},
			})
		}
	}
	return out
}

// promoteMemory writes a promoted pattern into the memory table.
func (c *Compactor) promoteMemory(ctx context.Context, p promotion) error {
	m := &types.Memory{
		ID:           ingest.ContentID(p.text),
		Text:         p.text,
		Tags:         p.tags,
		Timestamp:    c.now().UTC(),
		Preview:      ingest.Preview(p.text, 120),
		SourceMethod: "compaction",
		Tier:         ingest.TierDefault,
	}
	if vec, err := c.embedder.Embed(ctx, p.text); err == nil {
		m.Embedding = store.PackEmbedding(vec)
	}
	if err := c.store.UpsertMemory(ctx, m); err != nil {
		return fmt.Errorf("promote memory: %w", err)
	}
	return nil
}

// writeDigest condenses the expiring batch into one tier-3 record: row
// count, the most used tool, and the dominant error pattern.
func (c *Compactor) writeDigest(ctx context.Context, start time.Time, batch []types.Observation, stats *types.CompactionStats) error {
	toolCounts := make(map[string]int)
	errorCounts := make(map[string]int)
	for _, o := range batch {
		toolCounts[o.ToolName]++
		if o.HasError && o.ErrorPattern != "" {
			errorCounts[o.ErrorPattern]++
		}
	}
	var topTool, topError string
	for name := range toolCounts {
		if topTool == "" || toolCounts[name] > toolCounts[topTool] {
			topTool = name
		}
	}
	for pattern := range errorCounts {
		if topError == "" || errorCounts[pattern] > errorCounts[topError] {
			topError = pattern
		}
	}

	text := fmt.Sprintf("Compaction digest %s: expired %d observations, promoted %d patterns",
		start.Format(time.RFC3339), len(batch), stats.Promoted)
	if topTool != "" {
		text += ", most used tool " + topTool
	}
	if topError != "" {
		text += ", dominant error " + topError
	}

	m := &types.Memory{
		ID:           ingest.ContentID(text),
		Text:         text,
		Tags:         []string{"type:auto-captured", "source:compaction"},
		Timestamp:    start,
		Preview:      ingest.Preview(text, 120),
		SourceMethod: "compaction",
		Tier:         ingest.TierEphemera,
	}
	return c.store.UpsertMemory(ctx, m)
}

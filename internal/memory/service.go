// Package memory is the service layer: it composes the store, the tag
// index, the search engine, the dedup engine, and the causal tracker
// behind the operations the transports expose.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mnemo-sh/mnemo/internal/causal"
	"github.com/mnemo-sh/mnemo/internal/compact"
	"github.com/mnemo-sh/mnemo/internal/config"
	"github.com/mnemo-sh/mnemo/internal/dedup"
	"github.com/mnemo-sh/mnemo/internal/embedding"
	"github.com/mnemo-sh/mnemo/internal/ingest"
	"github.com/mnemo-sh/mnemo/internal/search"
	"github.com/mnemo-sh/mnemo/internal/snapshot"
	"github.com/mnemo-sh/mnemo/internal/store"
	"github.com/mnemo-sh/mnemo/internal/tagindex"
	"github.com/mnemo-sh/mnemo/internal/types"
)

// Deps are the collaborators a Service composes. Snapshots, Uploader,
// and Flush may be nil; the corresponding operations then report
// themselves unavailable instead of panicking.
type Deps struct {
	Store     *store.Store
	Tags      *tagindex.Index
	Search    *search.Engine
	Dedup     *dedup.Engine
	Tracker   *causal.Tracker
	Queue     *compact.Queue
	Cache     *search.Cache
	Embedder  embedding.Embedder
	Snapshots *snapshot.Writer
	Uploader  snapshot.Uploader
	Flush     chan<- compact.FlushRequest
}

// Service implements the knowledge store operations.
type Service struct {
	store     *store.Store
	tags      *tagindex.Index
	search    *search.Engine
	dedup     *dedup.Engine
	tracker   *causal.Tracker
	queue     *compact.Queue
	cache     *search.Cache
	embedder  embedding.Embedder
	snapshots *snapshot.Writer
	uploader  snapshot.Uploader
	flush     chan<- compact.FlushRequest
	cfg       *config.Config
	version   string

	mu             sync.Mutex
	lastCompaction time.Time
}

// NewService creates the service.
func NewService(deps Deps, cfg *config.Config, version string) *Service {
	return &Service{
		store:     deps.Store,
		tags:      deps.Tags,
		search:    deps.Search,
		dedup:     deps.Dedup,
		tracker:   deps.Tracker,
		queue:     deps.Queue,
		cache:     deps.Cache,
		embedder:  deps.Embedder,
		snapshots: deps.Snapshots,
		uploader:  deps.Uploader,
		flush:     deps.Flush,
		cfg:       cfg,
		version:   version,
	}
}

// RememberRequest is a write to the memory table.
type RememberRequest struct {
	Text        string   `json:"text"`
	Context     string   `json:"context,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	SessionTime float64  `json:"session_time,omitempty"`
	Source      string   `json:"source,omitempty"`
	// Force bypasses the similarity thresholds, never the noise filter.
	Force bool `json:"force,omitempty"`
}

// Remember runs the write pipeline: noise filter, tag normalization,
// embedding, dedup, tier classification, citation extraction, upsert.
func (s *Service) Remember(ctx context.Context, req RememberRequest) (*types.RememberResult, error) {
	verdict := ingest.Filter(req.Text, s.cfg.Ingest.MinContentLength, s.cfg.Ingest.NoiseLengthExempt)
	if !verdict.Accept {
		return &types.RememberResult{Status: types.RememberBlocked, Reason: verdict.Reason}, nil
	}

	tags := ingest.NormalizeTags(req.Tags)
	isFix := ingest.HasTag(tags, "type:fix")
	status := types.RememberStored
	reason := ""

	// Embedding failure falls open: the memory is stored without a
	// vector and the dedup probe is skipped.
	vec, embErr := s.embedder.Embed(ctx, req.Text)
	if embErr != nil {
		slog.Warn("embedding unavailable, storing without vector",
			"component", "memory",
			"error", embErr,
		)
	} else {
		decision := s.dedup.Check(ctx, vec, isFix, req.Force)
		switch decision.Outcome {
		case dedup.Blocked:
			return &types.RememberResult{
				Status: types.RememberBlocked,
				ID:     decision.NearestID,
				Reason: decision.Reason(),
			}, nil
		case dedup.SoftDuplicate:
			status = types.RememberSoft
			reason = decision.Reason()
			// The marker persists on the record itself
			tags = append(tags, "possible-dupe:"+decision.NearestID)
		}
	}

	citations := ingest.ExtractCitations(req.Text, s.cfg.Ingest.MaxCitationURLs)
	m := &types.Memory{
		ID:            ingest.ContentID(req.Text),
		Text:          req.Text,
		Context:       req.Context,
		Tags:          tags,
		Timestamp:     time.Now().UTC(),
		SessionTime:   req.SessionTime,
		Preview:       ingest.Preview(req.Text, s.cfg.Ingest.PreviewLength),
		PrimarySource: citations.Primary,
		RelatedURLs:   citations.Related,
		SourceMethod:  sourceOrDefault(req.Source),
		Tier:          ingest.ClassifyTier(req.Text, tags),
	}
	if embErr == nil {
		m.Embedding = store.PackEmbedding(vec)
	}

	if err := s.store.UpsertMemory(ctx, m); err != nil {
		return nil, fmt.Errorf("store memory: %w", err)
	}
	if err := s.tags.Add(ctx, m.ID, tags); err != nil {
		slog.Warn("tag index update failed",
			"component", "memory",
			"memory_id", m.ID,
			"error", err,
		)
	}
	s.cache.Clear()
	s.touchTimestamp()
	s.bridgeFix(ctx, m)

	return &types.RememberResult{Status: status, ID: m.ID, Reason: reason}, nil
}

// bridgeFix feeds confirmed fixes into the causal tracker so durable
// fix memories and live outcome reports share one evidence pool.
func (s *Service) bridgeFix(ctx context.Context, m *types.Memory) {
	if m.Tier != ingest.TierCritical || !ingest.HasTag(m.Tags, "type:fix") {
		return
	}
	errText := m.Context
	if errText == "" {
		errText = m.Text
	}
	strategy := strings.TrimPrefix(m.Text, "Fixed ")
	if _, err := s.tracker.Bridge(ctx, errText, strategy); err != nil {
		slog.Warn("fix bridge failed",
			"component", "memory",
			"memory_id", m.ID,
			"error", err,
		)
	}
}

func sourceOrDefault(source string) string {
	if source == "" {
		return "manual"
	}
	return source
}

// AutoRemember appends a capture event to the queue. This is the cheap
// hook path; the event becomes an observation at the next compaction.
func (s *Service) AutoRemember(_ context.Context, event types.CaptureEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := s.queue.Append(event); err != nil {
		return fmt.Errorf("queue capture event: %w", err)
	}
	return nil
}

// Search runs a query through the search engine and records retrieval
// access on the returned memories.
func (s *Service) Search(ctx context.Context, query string, opts search.Options) ([]types.SearchResult, error) {
	results, err := s.search.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		if r.Source == "observation" {
			continue
		}
		if err := s.store.TouchRetrieval(ctx, r.Memory.ID); err != nil {
			slog.Warn("retrieval touch failed",
				"component", "memory",
				"memory_id", r.Memory.ID,
				"error", err,
			)
		}
	}
	return results, nil
}

// Get fetches one memory by id.
func (s *Service) Get(ctx context.Context, id string) (*types.Memory, error) {
	return s.store.GetMemory(ctx, id)
}

// Delete removes a memory and its tag index entries.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteMemory(ctx, id); err != nil {
		return err
	}
	if err := s.tags.Remove(ctx, id); err != nil {
		slog.Warn("tag index removal failed",
			"component", "memory",
			"memory_id", id,
			"error", err,
		)
	}
	s.cache.Clear()
	s.touchTimestamp()
	return nil
}

// Count returns the record count for a collection.
func (s *Service) Count(ctx context.Context, collection string) (int, error) {
	switch collection {
	case "", "memories":
		return s.store.CountMemories(ctx)
	case "observations":
		return s.store.CountObservations(ctx)
	case "fix_outcomes":
		return s.store.CountFixOutcomes(ctx)
	case "web_pages":
		return s.store.CountWebPages(ctx)
	case "quarantine":
		return s.store.CountQuarantine(ctx)
	default:
		return 0, fmt.Errorf("unknown collection %q", collection)
	}
}

// Query runs a structured filter against a collection.
func (s *Service) Query(ctx context.Context, collection string, filter map[string]any, limit int) (any, error) {
	switch collection {
	case "", "memories":
		return s.store.QueryMemories(ctx, filter, limit)
	case "observations":
		return s.store.QueryObservations(ctx, filter, limit)
	case "fix_outcomes":
		return s.store.QueryFixOutcomes(ctx, filter, limit)
	default:
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
}

// FlushQueue asks the compaction worker for an immediate cycle and
// waits for the result.
func (s *Service) FlushQueue(ctx context.Context) (*types.CompactionStats, error) {
	if s.flush == nil {
		return nil, fmt.Errorf("compaction worker not running")
	}

	req := compact.FlushRequest{Reply: make(chan compact.FlushReply, 1)}
	select {
	case s.flush <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case reply := <-req.Reply:
		return reply.Stats, reply.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NoteCompaction records when the last compaction cycle ran. Called by
// the compaction worker after each cycle.
func (s *Service) NoteCompaction(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCompaction = at
}

// Backup snapshots the database locally and ships the file off-box.
// The local snapshot survives an upload failure.
func (s *Service) Backup(ctx context.Context) (string, error) {
	if s.snapshots == nil {
		return "", fmt.Errorf("backups not configured")
	}

	path, err := s.snapshots.Write(ctx)
	if err != nil {
		return "", err
	}
	if s.uploader != nil {
		if err := s.uploader.Upload(ctx, filepath.Base(path), path); err != nil {
			return path, fmt.Errorf("snapshot written to %s but upload failed: %w", path, err)
		}
	}
	slog.Info("backup completed",
		"component", "memory",
		"path", path,
	)
	return path, nil
}

// Health reports counts and sync status across the record tables.
func (s *Service) Health(ctx context.Context) (*types.HealthStatus, error) {
	memCount, err := s.store.CountMemories(ctx)
	if err != nil {
		return nil, fmt.Errorf("count memories: %w", err)
	}
	obsCount, err := s.store.CountObservations(ctx)
	if err != nil {
		return nil, fmt.Errorf("count observations: %w", err)
	}
	fixCount, err := s.store.CountFixOutcomes(ctx)
	if err != nil {
		return nil, fmt.Errorf("count fix chains: %w", err)
	}
	depth, err := s.queue.Depth()
	if err != nil {
		return nil, fmt.Errorf("queue depth: %w", err)
	}

	// The index lags memories stored without tags but must never lead.
	indexed, err := s.tags.RecordCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("tag index count: %w", err)
	}

	s.mu.Lock()
	lastCompaction := s.lastCompaction
	s.mu.Unlock()

	return &types.HealthStatus{
		Status:         "ok",
		Version:        s.version,
		MemoryCount:    memCount,
		ObservationCnt: obsCount,
		FixChainCount:  fixCount,
		QueueDepth:     depth,
		TagIndexSynced: indexed <= memCount,
		LastCompaction: lastCompaction,
	}, nil
}

// touchTimestamp writes the last-write marker other processes poll to
// detect store changes without opening the database.
func (s *Service) touchTimestamp() {
	path := s.cfg.Database.TimestampPath
	if path == "" {
		return
	}
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	if err := os.WriteFile(path, []byte(stamp+"\n"), 0o644); err != nil {
		slog.Warn("timestamp write failed",
			"component", "memory",
			"path", path,
			"error", err,
		)
	}
}

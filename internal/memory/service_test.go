package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mnemo-sh/mnemo/internal/causal"
	"github.com/mnemo-sh/mnemo/internal/compact"
	"github.com/mnemo-sh/mnemo/internal/config"
	"github.com/mnemo-sh/mnemo/internal/dedup"
	"github.com/mnemo-sh/mnemo/internal/embedding"
	"github.com/mnemo-sh/mnemo/internal/ingest"
	"github.com/mnemo-sh/mnemo/internal/search"
	"github.com/mnemo-sh/mnemo/internal/store"
	"github.com/mnemo-sh/mnemo/internal/tagindex"
	"github.com/mnemo-sh/mnemo/internal/types"
)

func testConfig(dir string) *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{
			TimestampPath: filepath.Join(dir, "last_write"),
		},
		Dedup: config.DedupConfig{
			HardThreshold: 0.12,
			SoftThreshold: 0.20,
			FixThreshold:  0.05,
		},
		Search: config.SearchConfig{
			DefaultTopK:          10,
			MaxTopK:              500,
			MinDistanceThreshold: 0.05,
			MaxDistanceThreshold: 0.8,
			RRFConstant:          60,
			RecencyWeight:        0.05,
			KeywordOverlapWeight: 0.05,
			CoOccurrenceMinShare: 0.4,
		},
		Ingest: config.IngestConfig{
			MinContentLength:  20,
			NoiseLengthExempt: 85,
			MaxCitationURLs:   4,
			PreviewLength:     120,
		},
		Causal: config.CausalConfig{
			BanMinAttempts:   2,
			BanConfidence:    0.18,
			RecommendedFloor: 0.5,
			DecayHalfLife:    config.Duration(30 * 24 * time.Hour),
		},
	}
}

func newTestService(t *testing.T) (*Service, *store.Store, chan compact.FlushRequest) {
	t.Helper()
	return newTestServiceTuned(t, func(*config.Config) {})
}

func newTestServiceTuned(t *testing.T, tune func(*config.Config)) (*Service, *store.Store, chan compact.FlushRequest) {
	t.Helper()
	dir := t.TempDir()

	st, err := store.New(filepath.Join(dir, "mnemo.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	tags, err := tagindex.Open(filepath.Join(dir, "tags.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tags.Close() })

	queue, err := compact.NewQueue(filepath.Join(dir, "queue.jsonl"))
	if err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(dir)
	tune(cfg)
	emb := embedding.NewLocal(64)
	flushCh := make(chan compact.FlushRequest, 1)

	svc := NewService(Deps{
		Store:    st,
		Tags:     tags,
		Search:   search.NewEngine(st, tags, emb, nil, cfg.Search),
		Dedup:    dedup.New(st, cfg.Dedup),
		Tracker:  causal.New(st, emb, cfg.Causal),
		Queue:    queue,
		Embedder: emb,
		Flush:    flushCh,
	}, cfg, "test")

	return svc, st, flushCh
}

func TestRemember_StoresMemory(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.Remember(ctx, RememberRequest{
		Text: "The flush worker deadlocks when the queue lock is taken during shutdown",
		Tags: []string{"Type:Decision", "area:worker"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != types.RememberStored || result.ID == "" {
		t.Fatalf("result = %+v", result)
	}

	m, err := st.GetMemory(ctx, result.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Embedding) == 0 || m.Preview == "" {
		t.Errorf("memory missing embedding or preview: %+v", m)
	}
	// Tags are normalized on the way in
	if m.Tags[0] != "type:decision" {
		t.Errorf("tags = %v", m.Tags)
	}

	// The sideband marker is touched on every write
	if _, err := os.Stat(svc.cfg.Database.TimestampPath); err != nil {
		t.Errorf("timestamp marker missing: %v", err)
	}
}

func TestRemember_RejectsNoise(t *testing.T) {
	svc, _, _ := newTestService(t)

	result, err := svc.Remember(context.Background(), RememberRequest{Text: "ok"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != types.RememberBlocked {
		t.Errorf("status = %s, want blocked", result.Status)
	}

	// Force never overrides the noise filter
	result, err = svc.Remember(context.Background(), RememberRequest{Text: "ok", Force: true})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != types.RememberBlocked {
		t.Errorf("forced status = %s, want blocked", result.Status)
	}
}

func TestRemember_BlocksDuplicate(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	text := "Connection pool exhaustion fixed by bounding the retry fan-out"

	first, err := svc.Remember(ctx, RememberRequest{Text: text})
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Remember(ctx, RememberRequest{Text: text})
	if err != nil {
		t.Fatal(err)
	}
	if second.Status != types.RememberBlocked {
		t.Fatalf("duplicate status = %s, want blocked", second.Status)
	}
	if second.ID != first.ID {
		t.Errorf("nearest id = %s, want %s", second.ID, first.ID)
	}

	// Force bypasses the similarity check
	forced, err := svc.Remember(ctx, RememberRequest{Text: text, Force: true})
	if err != nil {
		t.Fatal(err)
	}
	if forced.Status != types.RememberStored {
		t.Errorf("forced status = %s, want stored", forced.Status)
	}
}

func TestRemember_SoftDuplicateTagsRecord(t *testing.T) {
	svc, st, _ := newTestServiceTuned(t, func(cfg *config.Config) {
		// Any non-identical second write lands in the soft zone
		cfg.Dedup.HardThreshold = 0.0001
		cfg.Dedup.FixThreshold = 0.0001
		cfg.Dedup.SoftThreshold = 1.9
	})
	ctx := context.Background()

	first, err := svc.Remember(ctx, RememberRequest{
		Text: "The retry loop spins when the backoff cap is zero",
	})
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Remember(ctx, RememberRequest{
		Text: "Zero backoff cap makes the retry loop spin without pausing",
	})
	if err != nil {
		t.Fatal(err)
	}
	if second.Status != types.RememberSoft {
		t.Fatalf("status = %s, want soft", second.Status)
	}

	m, err := st.GetMemory(ctx, second.ID)
	if err != nil {
		t.Fatal(err)
	}
	marker := "possible-dupe:" + first.ID
	if !ingest.HasTag(m.Tags, marker) {
		t.Errorf("tags = %v, want %s persisted", m.Tags, marker)
	}

	ids, err := svc.tags.Search(ctx, []string{marker}, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != second.ID {
		t.Errorf("marker index lookup = %v", ids)
	}
}

func TestRemember_BridgesFixIntoCausalChain(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Remember(ctx, RememberRequest{
		Text:    "Fixed the flaky scheduler test by pinning the clock in setup",
		Context: "TestSchedule fails intermittently with timer drift",
		Tags:    []string{"type:fix"},
	})
	if err != nil {
		t.Fatal(err)
	}

	count, err := st.CountFixOutcomes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("fix chains = %d, want 1 bridged chain", count)
	}
	chains, err := st.ListFixOutcomes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !chains[0].Bridged || chains[0].Outcome != "success" {
		t.Errorf("chain = %+v", chains[0])
	}
}

func TestSearch_FindsAndTouchesMemory(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.Remember(ctx, RememberRequest{
		Text: "Postgres connection pooling exhaustion under load causes request timeouts",
	})
	if err != nil {
		t.Fatal(err)
	}

	results, err := svc.Search(ctx, "postgres connection pooling exhaustion", search.Options{Mode: search.ModeSemantic})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 || results[0].Memory.ID != result.ID {
		t.Fatalf("results = %+v", results)
	}

	m, err := st.GetMemory(ctx, result.ID)
	if err != nil {
		t.Fatal(err)
	}
	if m.RetrievalCount != 1 {
		t.Errorf("retrieval count = %d, want 1", m.RetrievalCount)
	}
}

func TestDelete_RemovesMemoryAndTags(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.Remember(ctx, RememberRequest{
		Text: "Decision: keep the tag index in its own database file",
		Tags: []string{"type:decision"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.Delete(ctx, result.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Get(ctx, result.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("get after delete = %v, want ErrNotFound", err)
	}

	ids, err := svc.tags.Search(ctx, []string{"type:decision"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("tag index still lists %v", ids)
	}
}

func TestAutoRememberAndHealth(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := svc.AutoRemember(ctx, types.CaptureEvent{
			SessionID: "s1",
			ToolName:  "bash",
			Content:   "tool output",
		}); err != nil {
			t.Fatal(err)
		}
	}

	health, err := svc.Health(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if health.Status != "ok" || health.Version != "test" {
		t.Errorf("health = %+v", health)
	}
	if health.QueueDepth != 2 {
		t.Errorf("queue depth = %d, want 2", health.QueueDepth)
	}
	if !health.TagIndexSynced {
		t.Error("tag index reported out of sync on empty store")
	}
}

func TestFlushQueue_RoundTrip(t *testing.T) {
	svc, _, flushCh := newTestService(t)

	go func() {
		req := <-flushCh
		req.Reply <- compact.FlushReply{Stats: &types.CompactionStats{Drained: 2}}
	}()

	stats, err := svc.FlushQueue(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Drained != 2 {
		t.Errorf("drained = %d, want 2", stats.Drained)
	}
}

func TestFlushQueue_ContextCancelled(t *testing.T) {
	svc, _, flushCh := newTestService(t)
	// Fill the channel so the send blocks
	flushCh <- compact.FlushRequest{}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := svc.FlushQueue(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestCountAndQuery(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Remember(ctx, RememberRequest{
		Text: "The watchdog rebinds the socket when the file disappears",
	}); err != nil {
		t.Fatal(err)
	}

	n, err := svc.Count(ctx, "memories")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
	if _, err := svc.Count(ctx, "nonsense"); err == nil {
		t.Error("unknown collection accepted")
	}

	rows, err := svc.Query(ctx, "memories", map[string]any{"tier": map[string]any{"$lte": 3}}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if memories, ok := rows.([]types.Memory); !ok || len(memories) != 1 {
		t.Errorf("query rows = %+v", rows)
	}
}

func TestMaintenance_RebuildTags(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	// Written behind the index's back
	if err := st.UpsertMemory(ctx, &types.Memory{
		ID:        "raw1",
		Text:      "imported record with tags the index never saw",
		Tags:      []string{"type:fix"},
		Timestamp: time.Now().UTC(),
		Tier:      2,
	}); err != nil {
		t.Fatal(err)
	}

	report, err := svc.Maintenance(ctx, "rebuild_tags")
	if err != nil {
		t.Fatal(err)
	}
	if report.Affected != 1 {
		t.Errorf("affected = %d, want 1", report.Affected)
	}

	ids, err := svc.tags.Search(ctx, []string{"type:fix"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "raw1" {
		t.Errorf("ids = %v", ids)
	}
}

func TestMaintenance_StaleSweep(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	if err := st.UpsertMemory(ctx, &types.Memory{
		ID:        "stale1",
		Text:      "ephemera nobody ever asked about",
		Timestamp: time.Now().UTC().Add(-100 * 24 * time.Hour),
		Tier:      3,
	}); err != nil {
		t.Fatal(err)
	}

	report, err := svc.Maintenance(ctx, "stale")
	if err != nil {
		t.Fatal(err)
	}
	if report.Affected != 1 {
		t.Errorf("affected = %d, want 1", report.Affected)
	}
	if _, err := st.GetMemory(ctx, "stale1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("stale memory still live: %v", err)
	}
	q, err := st.CountQuarantine(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if q != 1 {
		t.Errorf("quarantine count = %d, want 1", q)
	}
}

func TestMaintenance_DedupSweepKeepsOldest(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	vec := store.PackEmbedding([]float32{0.3, 0.4, 0.5})
	now := time.Now().UTC()
	if err := st.UpsertMemory(ctx, &types.Memory{
		ID: "older", Text: "original statement of the fact", Embedding: vec,
		Timestamp: now.Add(-time.Hour), Tier: 2,
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertMemory(ctx, &types.Memory{
		ID: "newer", Text: "restated copy of the fact", Embedding: vec,
		Timestamp: now, Tier: 2,
	}); err != nil {
		t.Fatal(err)
	}

	report, err := svc.Maintenance(ctx, "dedup")
	if err != nil {
		t.Fatal(err)
	}
	if report.Affected != 1 {
		t.Errorf("affected = %d, want 1", report.Affected)
	}
	if _, err := st.GetMemory(ctx, "older"); err != nil {
		t.Errorf("oldest record evicted: %v", err)
	}
	if _, err := st.GetMemory(ctx, "newer"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("newer duplicate survived: %v", err)
	}
}

func TestMaintenance_UnknownTask(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.Maintenance(context.Background(), "defrag"); err == nil {
		t.Error("unknown task accepted")
	}
}

func TestFixOperations(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	errText := "dial tcp: connection refused on startup"
	strategy := "wait for the port with a readiness probe"

	if _, err := svc.RecordFixAttempt(ctx, errText, strategy); err != nil {
		t.Fatal(err)
	}
	chain, err := svc.RecordFixOutcome(ctx, errText, strategy, true)
	if err != nil {
		t.Fatal(err)
	}
	if chain.Successes != 1 {
		t.Errorf("chain = %+v", chain)
	}

	history, err := svc.FixHistory(ctx, errText)
	if err != nil {
		t.Fatal(err)
	}
	if len(history.Recommended) != 1 {
		t.Errorf("history = %+v", history)
	}
}

func TestSaveWebPage(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	err := svc.SaveWebPage(ctx, types.WebPage{
		URL:     "https://www.sqlite.org/wal.html",
		Title:   "Write-Ahead Logging",
		Content: "WAL mode allows readers to proceed concurrently with a single writer",
	})
	if err != nil {
		t.Fatal(err)
	}

	page, err := svc.GetWebPage(ctx, "https://www.sqlite.org/wal.html")
	if err != nil {
		t.Fatal(err)
	}
	if page.Domain != "www.sqlite.org" {
		t.Errorf("domain = %q", page.Domain)
	}
	if page.FetchedAt.IsZero() || len(page.Embedding) == 0 {
		t.Errorf("page = %+v", page)
	}

	n, err := st.CountWebPages(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}

	if err := svc.SaveWebPage(ctx, types.WebPage{Content: "no url"}); err == nil {
		t.Error("page without url accepted")
	}
}

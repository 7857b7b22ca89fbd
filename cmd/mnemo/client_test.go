package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mnemo-sh/mnemo/internal/causal"
	"github.com/mnemo-sh/mnemo/internal/compact"
	"github.com/mnemo-sh/mnemo/internal/config"
	"github.com/mnemo-sh/mnemo/internal/dedup"
	"github.com/mnemo-sh/mnemo/internal/embedding"
	"github.com/mnemo-sh/mnemo/internal/gateway"
	"github.com/mnemo-sh/mnemo/internal/memory"
	"github.com/mnemo-sh/mnemo/internal/search"
	"github.com/mnemo-sh/mnemo/internal/snapshot"
	"github.com/mnemo-sh/mnemo/internal/store"
	"github.com/mnemo-sh/mnemo/internal/tagindex"
	"github.com/mnemo-sh/mnemo/internal/types"
	"github.com/mnemo-sh/mnemo/internal/worker"
)

// startTestDaemon wires a full service with a gateway and a compaction
// worker on a temporary socket, and returns the socket path.
func startTestDaemon(t *testing.T) string {
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

	cfg := &config.Config{
		Gateway: config.GatewayConfig{
			SocketPath:    filepath.Join(dir, "mnemo.sock"),
			ReadDeadline:  config.Duration(2 * time.Second),
			WatchdogCheck: config.Duration(time.Second),
			RebindBackoff: config.Duration(10 * time.Millisecond),
			RebindRetries: 3,
		},
		Database: config.DatabaseConfig{TimestampPath: filepath.Join(dir, "last_write")},
		Dedup:    config.DedupConfig{HardThreshold: 0.12, SoftThreshold: 0.20, FixThreshold: 0.05},
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
		Ingest: config.IngestConfig{MinContentLength: 20, NoiseLengthExempt: 85, MaxCitationURLs: 4, PreviewLength: 120},
		Compaction: config.CompactionConfig{
			Interval:           config.Duration(time.Hour),
			ObservationTTL:     config.Duration(30 * 24 * time.Hour),
			MaxObservations:    5000,
			EvictionBuffer:     500,
			MaxPromotions:      10,
			ChurnSessionMin:    5,
			RepeatedCommandMin: 3,
		},
		Causal: config.CausalConfig{BanMinAttempts: 2, BanConfidence: 0.18, RecommendedFloor: 0.5, DecayHalfLife: config.Duration(30 * 24 * time.Hour)},
	}
	emb := embedding.NewLocal(64)
	flushCh := make(chan compact.FlushRequest)

	svc := memory.NewService(memory.Deps{
		Store:     st,
		Tags:      tags,
		Search:    search.NewEngine(st, tags, emb, nil, cfg.Search),
		Dedup:     dedup.New(st, cfg.Dedup),
		Tracker:   causal.New(st, emb, cfg.Causal),
		Queue:     queue,
		Embedder:  emb,
		Snapshots: snapshot.NewWriter(st, filepath.Join(dir, "backups")),
		Flush:     flushCh,
	}, cfg, "test")

	ctx, cancel := context.WithCancel(context.Background())

	compaction := worker.NewCompactionCoordinator(
		compact.New(st, queue, emb, cfg.Compaction),
		time.Duration(cfg.Compaction.Interval),
		flushCh,
		func(at time.Time, _ *types.CompactionStats) { svc.NoteCompaction(at) },
	)
	go compaction.Run(ctx)

	gw := gateway.New(svc, cfg.Gateway)
	done := make(chan struct{})
	go func() {
		defer close(done)
		gw.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("gateway did not stop")
		}
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(cfg.Gateway.SocketPath); err == nil {
			return cfg.Gateway.SocketPath
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("socket never appeared")
	return ""
}

// executeClientCmd runs a client subcommand against the given socket
// with captured output. Package-level flag variables are reset so
// stale values from previous tests do not leak.
func executeClientCmd(t *testing.T, socket string, args ...string) (stdout, stderr string, err error) {
	t.Helper()

	clientSocketPath = ""
	clientJSONOutput = false
	rememberTags = nil
	rememberContext = ""
	rememberForce = false
	rememberStdin = false
	searchMode = "auto"
	searchTopK = 0
	searchMaxDistance = 0

	fullArgs := append([]string{"client"}, args...)
	fullArgs = append(fullArgs, "--socket", socket)

	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	rootCmd.SetOut(outBuf)
	rootCmd.SetErr(errBuf)
	rootCmd.SetArgs(fullArgs)

	err = rootCmd.Execute()

	rootCmd.SetOut(nil)
	rootCmd.SetErr(nil)
	rootCmd.SetArgs(nil)

	return outBuf.String(), errBuf.String(), err
}

func TestClientRememberAndSearch(t *testing.T) {
	socket := startTestDaemon(t)

	stdout, _, err := executeClientCmd(t, socket,
		"remember", "The retry helper caps exponential backoff at five attempts",
		"--tag", "type:decision")
	if err != nil {
		t.Fatalf("remember: %v", err)
	}
	if !strings.Contains(stdout, "Stored ") {
		t.Errorf("stdout = %q", stdout)
	}

	stdout, _, err = executeClientCmd(t, socket,
		"search", "retry helper exponential backoff", "--mode", "semantic")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !strings.Contains(stdout, "SCORE") || !strings.Contains(stdout, "type:decision") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestClientRemember_BlockedNoise(t *testing.T) {
	socket := startTestDaemon(t)

	_, stderr, err := executeClientCmd(t, socket, "remember", "running the test suite once")
	if err != nil {
		t.Fatalf("remember: %v", err)
	}
	if !strings.Contains(stderr, "Blocked:") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestClientHealth(t *testing.T) {
	socket := startTestDaemon(t)

	stdout, _, err := executeClientCmd(t, socket, "health", "--json")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !strings.Contains(stdout, `"status": "ok"`) {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestClientFlush(t *testing.T) {
	socket := startTestDaemon(t)

	stdout, _, err := executeClientCmd(t, socket, "flush")
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if !strings.Contains(stdout, "Drained 0") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestClientMaintenance(t *testing.T) {
	socket := startTestDaemon(t)

	stdout, _, err := executeClientCmd(t, socket, "maintenance", "rebuild_tags")
	if err != nil {
		t.Fatalf("maintenance: %v", err)
	}
	if !strings.Contains(stdout, "rebuild_tags") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestClient_DaemonUnreachable(t *testing.T) {
	_, _, err := executeClientCmd(t, filepath.Join(t.TempDir(), "missing.sock"), "health")
	if err == nil {
		t.Fatal("expected dial error")
	}
}

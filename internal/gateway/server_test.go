package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mnemo-sh/mnemo/internal/causal"
	"github.com/mnemo-sh/mnemo/internal/compact"
	"github.com/mnemo-sh/mnemo/internal/config"
	"github.com/mnemo-sh/mnemo/internal/dedup"
	"github.com/mnemo-sh/mnemo/internal/embedding"
	"github.com/mnemo-sh/mnemo/internal/memory"
	"github.com/mnemo-sh/mnemo/internal/search"
	"github.com/mnemo-sh/mnemo/internal/store"
	"github.com/mnemo-sh/mnemo/internal/tagindex"
)

func newTestService(t *testing.T) *memory.Service {
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
		Causal: config.CausalConfig{BanMinAttempts: 2, BanConfidence: 0.18, RecommendedFloor: 0.5, DecayHalfLife: config.Duration(30 * 24 * time.Hour)},
	}
	emb := embedding.NewLocal(64)

	return memory.NewService(memory.Deps{
		Store:    st,
		Tags:     tags,
		Search:   search.NewEngine(st, tags, emb, nil, cfg.Search),
		Dedup:    dedup.New(st, cfg.Dedup),
		Tracker:  causal.New(st, emb, cfg.Causal),
		Queue:    queue,
		Embedder: emb,
	}, cfg, "test")
}

func startTestServer(t *testing.T) string {
	t.Helper()
	socket := filepath.Join(t.TempDir(), "mnemo.sock")
	srv := New(newTestService(t), config.GatewayConfig{
		SocketPath:    socket,
		ReadDeadline:  config.Duration(2 * time.Second),
		WatchdogCheck: config.Duration(20 * time.Millisecond),
		RebindBackoff: config.Duration(10 * time.Millisecond),
		RebindRetries: 3,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("gateway did not shut down")
		}
	})

	waitForSocket(t, socket)
	return socket
}

func waitForSocket(t *testing.T, socket string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(socket); err == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("socket %s never appeared", socket)
}

// call sends one request line and decodes the reply line.
func call(t *testing.T, socket string, req map[string]any) map[string]any {
	t.Helper()
	conn, err := net.Dial("unix", socket)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	return callOn(t, conn, req)
}

func callOn(t *testing.T, conn net.Conn, req map[string]any) map[string]any {
	t.Helper()
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		t.Fatalf("write: %v", err)
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	var resp map[string]any
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("decode reply %q: %v", line, err)
	}
	return resp
}

func TestGateway_Ping(t *testing.T) {
	socket := startTestServer(t)

	resp := call(t, socket, map[string]any{"method": "ping"})
	if resp["ok"] != true || resp["result"] != "pong" {
		t.Errorf("resp = %v", resp)
	}
}

func TestGateway_RememberSearchGet(t *testing.T) {
	socket := startTestServer(t)

	resp := call(t, socket, map[string]any{
		"method": "remember",
		"params": map[string]any{
			"text": "The gateway read deadline bounds how long an idle client holds a goroutine",
			"tags": []string{"type:decision"},
		},
	})
	if resp["ok"] != true {
		t.Fatalf("remember failed: %v", resp)
	}
	result := resp["result"].(map[string]any)
	id := result["id"].(string)
	if result["status"] != "stored" || id == "" {
		t.Fatalf("result = %v", result)
	}

	resp = call(t, socket, map[string]any{
		"method": "search",
		"params": map[string]any{"query": "gateway read deadline idle client", "mode": "semantic"},
	})
	if resp["ok"] != true {
		t.Fatalf("search failed: %v", resp)
	}
	hits := resp["result"].([]any)
	if len(hits) == 0 {
		t.Fatal("no search hits over the socket")
	}

	resp = call(t, socket, map[string]any{
		"method": "get",
		"params": map[string]any{"id": id},
	})
	if resp["ok"] != true {
		t.Fatalf("get failed: %v", resp)
	}
}

func TestGateway_MultipleRequestsPerConnection(t *testing.T) {
	socket := startTestServer(t)

	conn, err := net.Dial("unix", socket)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	for i := 0; i < 3; i++ {
		resp := callOn(t, conn, map[string]any{"method": "ping"})
		if resp["result"] != "pong" {
			t.Fatalf("request %d: %v", i, resp)
		}
	}
}

func TestGateway_UnknownMethod(t *testing.T) {
	socket := startTestServer(t)

	resp := call(t, socket, map[string]any{"method": "teleport"})
	if resp["ok"] != false || resp["error"] == "" {
		t.Errorf("resp = %v", resp)
	}
}

func TestGateway_MalformedLine(t *testing.T) {
	socket := startTestServer(t)

	conn, err := net.Dial("unix", socket)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("{this is not json\n")); err != nil {
		t.Fatal(err)
	}
	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		t.Fatal(err)
	}
	var resp map[string]any
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatal(err)
	}
	if resp["ok"] != false {
		t.Errorf("resp = %v", resp)
	}

	// The connection survives a malformed line
	if got := callOn(t, conn, map[string]any{"method": "ping"}); got["result"] != "pong" {
		t.Errorf("post-error request = %v", got)
	}
}

func TestGateway_Count(t *testing.T) {
	socket := startTestServer(t)

	resp := call(t, socket, map[string]any{"method": "count", "collection": "memories"})
	if resp["ok"] != true {
		t.Fatalf("resp = %v", resp)
	}
	result := resp["result"].(map[string]any)
	if result["count"].(float64) != 0 {
		t.Errorf("count = %v", result["count"])
	}
}

func TestGateway_WatchdogRebindsSocket(t *testing.T) {
	socket := startTestServer(t)

	if err := os.Remove(socket); err != nil {
		t.Fatal(err)
	}
	waitForSocket(t, socket)

	resp := call(t, socket, map[string]any{"method": "ping"})
	if resp["result"] != "pong" {
		t.Errorf("resp after rebind = %v", resp)
	}
}

// failingListener errors on every accept, like a listener whose file
// descriptor has gone bad underneath it.
type failingListener struct{}

func (failingListener) Accept() (net.Conn, error) { return nil, errors.New("bad file descriptor") }
func (failingListener) Close() error              { return nil }
func (failingListener) Addr() net.Addr            { return &net.UnixAddr{Name: "failing", Net: "unix"} }

func TestGateway_AcceptErrorsTriggerRebind(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "mnemo.sock")
	srv := New(newTestService(t), config.GatewayConfig{
		SocketPath:    socket,
		ReadDeadline:  config.Duration(time.Second),
		WatchdogCheck: config.Duration(time.Hour),
		RebindBackoff: config.Duration(time.Millisecond),
		RebindRetries: 3,
	})
	t.Cleanup(func() {
		srv.shutdown.Store(true)
		srv.closeListener()
		os.Remove(socket)
	})

	// The loop gives up on the wedged listener and rebinds the socket
	srv.acceptLoop(context.Background(), failingListener{})

	waitForSocket(t, socket)
	resp := call(t, socket, map[string]any{"method": "ping"})
	if resp["result"] != "pong" {
		t.Errorf("resp after rebind = %v", resp)
	}
}

func TestGateway_RemovesSocketOnShutdown(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "mnemo.sock")
	srv := New(newTestService(t), config.GatewayConfig{
		SocketPath:    socket,
		ReadDeadline:  config.Duration(time.Second),
		WatchdogCheck: config.Duration(20 * time.Millisecond),
		RebindBackoff: config.Duration(10 * time.Millisecond),
		RebindRetries: 3,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Run(ctx)
		close(done)
	}()
	waitForSocket(t, socket)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("gateway did not stop")
	}
	if _, err := os.Stat(socket); !os.IsNotExist(err) {
		t.Errorf("socket file still present: %v", err)
	}
}

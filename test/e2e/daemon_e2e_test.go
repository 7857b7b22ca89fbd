//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/mnemo-sh/mnemo/pkg/client"
)

func (d *mnemoDaemon) httpRequest(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, fmt.Sprintf("http://%s%s", d.address, path), reader)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+d.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestDaemon_SocketAndHTTPShareState(t *testing.T) {
	d := startMnemo(t)
	ctx := context.Background()
	c := client.New(d.socketPath)

	result, err := c.Remember(ctx, client.RememberParams{
		Text: "End to end runs exercise both transports against one store",
		Tags: []string{"type:decision"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != "stored" {
		t.Fatalf("result = %+v", result)
	}

	// The record written over the socket is visible over HTTP.
	resp := d.httpRequest(t, http.MethodGet, "/api/v1/memories/"+result.ID, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("http get status = %d", resp.StatusCode)
	}

	results, err := c.Search(ctx, "end to end both transports", client.SearchParams{Mode: client.ModeSemantic})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("no search results")
	}
}

func TestDaemon_AuthEnforcedOverHTTP(t *testing.T) {
	d := startMnemo(t)

	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("http://%s/api/v1/memories/search?q=x", d.address), nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestDaemon_FlushDrainsCaptures(t *testing.T) {
	d := startMnemo(t)
	ctx := context.Background()
	c := client.New(d.socketPath)

	for i := 0; i < 3; i++ {
		err := c.Capture(ctx, client.CaptureParams{
			SessionID: "e2e",
			ToolName:  "bash",
			Content:   fmt.Sprintf("captured output number %d from the session", i),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	stats, err := c.Flush(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Drained != 3 {
		t.Errorf("drained = %d", stats.Drained)
	}

	n, err := c.Count(ctx, "observations")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("observations = %d", n)
	}
}

func TestDaemon_BackupWritesSnapshot(t *testing.T) {
	d := startMnemo(t)
	c := client.New(d.socketPath)

	path, err := c.Backup(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() == 0 {
		t.Error("snapshot is empty")
	}
}

func TestDaemon_WatchdogRebindsSocket(t *testing.T) {
	d := startMnemo(t)
	c := client.New(d.socketPath)

	if err := os.Remove(d.socketPath); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if err := c.Ping(context.Background()); err == nil {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("socket never rebound")
}

func TestDaemon_SocketRemovedOnShutdown(t *testing.T) {
	d := startMnemo(t)

	d.stop(t)

	if _, err := os.Stat(d.socketPath); !os.IsNotExist(err) {
		t.Errorf("socket still present after shutdown: %v", err)
	}
}

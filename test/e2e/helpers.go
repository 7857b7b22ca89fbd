//go:build e2e

package e2e

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

// mnemoDaemon manages a running mnemo process.
type mnemoDaemon struct {
	cmd        *exec.Cmd
	dataDir    string
	socketPath string
	address    string
	apiKey     string
	logFile    string
}

// startMnemo launches the daemon binary and waits for it to become
// healthy. The daemon is configured entirely via environment variables.
func startMnemo(t *testing.T) *mnemoDaemon {
	t.Helper()
	requireMnemo(t)

	dataDir := t.TempDir()
	apiKey := "e2e-test-api-key"
	port := freePort(t)
	address := fmt.Sprintf("127.0.0.1:%d", port)
	socketPath := filepath.Join(dataDir, "mnemo.sock")
	logFile := filepath.Join(dataDir, "mnemo.log")

	cmd := exec.Command(mnemoBin)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("MNEMO_PORT=%d", port),
		"MNEMO_API_KEY="+apiKey,
		"MNEMO_DB_PATH="+filepath.Join(dataDir, "mnemo.db"),
		"MNEMO_TAG_INDEX_PATH="+filepath.Join(dataDir, "tags.db"),
		"MNEMO_QUEUE_PATH="+filepath.Join(dataDir, "queue.jsonl"),
		"MNEMO_SOCKET_PATH="+socketPath,
		"MNEMO_BACKUP_DIR="+filepath.Join(dataDir, "backups"),
		"MNEMO_CONFIG_PATH="+filepath.Join(dataDir, "nonexistent.yaml"),
		"MNEMO_DEV_MODE=true", // local embedder, no OPENAI_API_KEY
	)

	lf, err := os.Create(logFile)
	if err != nil {
		t.Fatalf("create log file: %v", err)
	}
	cmd.Stdout = lf
	cmd.Stderr = lf

	if err := cmd.Start(); err != nil {
		lf.Close()
		t.Fatalf("start mnemo: %v", err)
	}

	d := &mnemoDaemon{
		cmd:        cmd,
		dataDir:    dataDir,
		socketPath: socketPath,
		address:    address,
		apiKey:     apiKey,
		logFile:    logFile,
	}

	t.Cleanup(func() {
		d.stop(t)
		lf.Close()
	})

	d.waitHealthy(t)
	return d
}

// stop sends SIGTERM and waits for a clean exit.
func (d *mnemoDaemon) stop(t *testing.T) {
	t.Helper()
	if d.cmd.Process == nil {
		return
	}
	_ = d.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- d.cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		_ = d.cmd.Process.Kill()
		t.Error("daemon did not exit after SIGTERM")
	}
}

// waitHealthy polls the HTTP health endpoint and the socket file.
func (d *mnemoDaemon) waitHealthy(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	url := fmt.Sprintf("http://%s/api/v1/health", d.address)

	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				if _, err := os.Stat(d.socketPath); err == nil {
					return
				}
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("daemon never became healthy, see %s", d.logFile)
}

// freePort asks the kernel for an available TCP port.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

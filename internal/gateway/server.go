// Package gateway serves the local line-oriented JSON protocol over a
// Unix domain socket. Each connection gets its own goroutine; a
// watchdog rebinds the socket if the file disappears out from under the
// listener.
package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/mnemo-sh/mnemo/internal/config"
	"github.com/mnemo-sh/mnemo/internal/memory"
)

// Server is the Unix socket gateway.
type Server struct {
	svc *memory.Service
	cfg config.GatewayConfig

	mu       sync.Mutex
	ln       net.Listener
	shutdown atomic.Bool
	conns    sync.WaitGroup
}

// New creates a gateway server.
func New(svc *memory.Service, cfg config.GatewayConfig) *Server {
	return &Server{svc: svc, cfg: cfg}
}

// Run binds the socket, serves connections, and supervises the socket
// file until ctx is cancelled. The socket file is removed on exit.
func (s *Server) Run(ctx context.Context) error {
	if err := s.bind(ctx); err != nil {
		return err
	}

	slog.Info("gateway started",
		"component", "gateway",
		"socket", s.cfg.SocketPath,
	)

	ticker := time.NewTicker(time.Duration(s.cfg.WatchdogCheck))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown.Store(true)
			s.closeListener()
			os.Remove(s.cfg.SocketPath)
			s.conns.Wait()
			slog.Info("gateway stopped",
				"component", "gateway",
				"reason", "context_cancelled",
			)
			return nil
		case <-ticker.C:
			s.checkSocket(ctx)
		}
	}
}

// bind creates the socket, replacing any stale file from a previous
// run, and starts the accept loop for the new listener.
func (s *Server) bind(ctx context.Context) error {
	if dir := filepath.Dir(s.cfg.SocketPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create socket directory: %w", err)
		}
	}
	os.Remove(s.cfg.SocketPath)

	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("bind socket: %w", err)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go s.acceptLoop(ctx, ln)
	return nil
}

// closeListener closes the current listener, if any.
func (s *Server) closeListener() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		s.ln.Close()
		s.ln = nil
	}
}

// checkSocket verifies the socket file still exists and rebinds when it
// does not. A failed rebind is retried at the next watchdog tick, so a
// transient filesystem problem never kills the gateway permanently.
func (s *Server) checkSocket(ctx context.Context) {
	if _, err := os.Stat(s.cfg.SocketPath); err == nil {
		return
	}

	slog.Warn("socket file missing, rebinding",
		"component", "gateway",
		"socket", s.cfg.SocketPath,
	)
	s.rebind(ctx)
}

// rebind closes the current listener and binds a fresh one with
// exponential backoff.
func (s *Server) rebind(ctx context.Context) {
	s.closeListener()

	backoff := retry.WithMaxRetries(
		uint64(s.cfg.RebindRetries),
		retry.NewExponential(time.Duration(s.cfg.RebindBackoff)),
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := s.bind(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		slog.Error("socket rebind failed",
			"component", "gateway",
			"socket", s.cfg.SocketPath,
			"error", err,
		)
		return
	}

	slog.Info("socket rebound",
		"component", "gateway",
		"socket", s.cfg.SocketPath,
	)
}

// acceptFailureLimit is how many consecutive accept errors the loop
// tolerates before it gives up on the listener and rebinds.
const acceptFailureLimit = 5

// acceptLoop accepts connections until the listener closes. A run of
// consecutive accept errors means the listener itself is wedged; the
// loop then hands it to the rebind path instead of spinning.
func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	failures := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.shutdown.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			failures++
			slog.Warn("accept failed",
				"component", "gateway",
				"consecutive", failures,
				"error", err,
			)
			if failures >= acceptFailureLimit {
				s.rebind(ctx)
				return
			}
			continue
		}
		failures = 0
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// handleConn serves one client. Every read is bounded by the configured
// deadline so an idle or wedged client cannot pin the goroutine.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	deadline := time.Duration(s.cfg.ReadDeadline)
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	encoder := json.NewEncoder(conn)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(deadline)); err != nil {
			return
		}
		if !scanner.Scan() {
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		resp := response{OK: true}
		if err := json.Unmarshal(line, &req); err != nil {
			resp = response{Error: fmt.Sprintf("malformed request: %v", err)}
		} else {
			result, err := s.dispatch(ctx, req)
			if err != nil {
				resp = response{Error: err.Error()}
			} else {
				resp.Result = result
			}
		}

		if err := encoder.Encode(resp); err != nil {
			return
		}
	}
}

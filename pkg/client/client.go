// Package client is a Go client for the mnemo daemon's Unix socket
// gateway. Every call opens a fresh connection, sends one line of JSON,
// and reads one line back.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// DefaultTimeout bounds the dial plus one request/response round trip.
const DefaultTimeout = 10 * time.Second

// Client talks to a running mnemo daemon.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New creates a client for the daemon listening at socketPath.
func New(socketPath string, opts ...Option) *Client {
	c := &Client{socketPath: socketPath, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type request struct {
	Method     string `json:"method"`
	Collection string `json:"collection,omitempty"`
	Params     any    `json:"params,omitempty"`
}

type response struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// call performs one request/response exchange. The context deadline,
// when set, takes precedence over the client timeout.
func (c *Client) call(ctx context.Context, method, collection string, params any, out any) error {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	if err := json.NewEncoder(conn).Encode(request{Method: method, Collection: collection, Params: params}); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}

	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if !resp.OK {
		return fmt.Errorf("%s: %s", method, resp.Error)
	}
	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// Ping checks that the daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, "ping", "", nil, nil)
}

// Remember stores a memory through the full write path.
func (c *Client) Remember(ctx context.Context, params RememberParams) (*RememberResult, error) {
	var result RememberResult
	if err := c.call(ctx, "remember", "", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Search retrieves memories matching the query.
func (c *Client) Search(ctx context.Context, query string, params SearchParams) ([]SearchResult, error) {
	req := map[string]any{"query": query}
	if params.Mode != "" {
		req["mode"] = string(params.Mode)
	}
	if params.TopK > 0 {
		req["top_k"] = params.TopK
	}
	if params.MaxDistance > 0 {
		req["max_distance"] = params.MaxDistance
	}

	var results []SearchResult
	if err := c.call(ctx, "search", "", req, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// Get fetches one memory by id.
func (c *Client) Get(ctx context.Context, id string) (*Memory, error) {
	var m Memory
	if err := c.call(ctx, "get", "", map[string]any{"id": id}, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Delete removes one memory by id.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.call(ctx, "delete", "", map[string]any{"id": id}, nil)
}

// Capture appends a raw observation to the capture queue. It is drained
// into observations at the next compaction cycle.
func (c *Client) Capture(ctx context.Context, params CaptureParams) error {
	return c.call(ctx, "auto_remember", "", params, nil)
}

// SavePage stores a fetched web page keyed by URL.
func (c *Client) SavePage(ctx context.Context, page WebPage) error {
	return c.call(ctx, "save_page", "", page, nil)
}

// Count returns the number of records in a collection.
func (c *Client) Count(ctx context.Context, collection string) (int, error) {
	var result struct {
		Count int `json:"count"`
	}
	if err := c.call(ctx, "count", collection, nil, &result); err != nil {
		return 0, err
	}
	return result.Count, nil
}

// Query lists raw records from a collection with a field filter.
func (c *Client) Query(ctx context.Context, collection string, filter map[string]any, limit int) (json.RawMessage, error) {
	params := map[string]any{"filter": filter}
	if limit > 0 {
		params["limit"] = limit
	}
	var rows json.RawMessage
	if err := c.call(ctx, "query", collection, params, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Upsert writes a raw typed record into a collection, bypassing the
// write-path filters. Intended for administrative repair and imports.
func (c *Client) Upsert(ctx context.Context, collection string, record any) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.call(ctx, "upsert", collection, record, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FixAttempt records that a fix strategy is being tried for an error.
func (c *Client) FixAttempt(ctx context.Context, errorText, strategy string) (*FixChain, error) {
	var chain FixChain
	params := map[string]any{"error": errorText, "strategy": strategy}
	if err := c.call(ctx, "fix_attempt", "", params, &chain); err != nil {
		return nil, err
	}
	return &chain, nil
}

// FixOutcome records whether a tried strategy worked.
func (c *Client) FixOutcome(ctx context.Context, errorText, strategy string, success bool) (*FixChain, error) {
	var chain FixChain
	params := map[string]any{"error": errorText, "strategy": strategy, "success": success}
	if err := c.call(ctx, "fix_outcome", "", params, &chain); err != nil {
		return nil, err
	}
	return &chain, nil
}

// FixHistory returns what has been tried for an error, bucketed into
// recommended, banned, and pending strategies.
func (c *Client) FixHistory(ctx context.Context, errorText string) (*FixHistory, error) {
	var history FixHistory
	if err := c.call(ctx, "fix_history", "", map[string]any{"error": errorText}, &history); err != nil {
		return nil, err
	}
	return &history, nil
}

// Flush asks the compaction worker to drain the capture queue now.
func (c *Client) Flush(ctx context.Context) (*CompactionStats, error) {
	var stats CompactionStats
	if err := c.call(ctx, "flush_queue", "", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Backup writes a database snapshot and returns its local path.
func (c *Client) Backup(ctx context.Context) (string, error) {
	var result struct {
		Path string `json:"path"`
	}
	if err := c.call(ctx, "backup", "", nil, &result); err != nil {
		return "", err
	}
	return result.Path, nil
}

// Maintenance runs an administrative task: "stale", "rebuild_tags", or
// "dedup".
func (c *Client) Maintenance(ctx context.Context, task string) (*MaintenanceReport, error) {
	var report MaintenanceReport
	if err := c.call(ctx, "maintenance", "", map[string]any{"task": task}, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Health returns the daemon health report.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var health Health
	if err := c.call(ctx, "health", "", nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// Package compact implements the capture queue and the background
// compaction cycle: drain, expire, digest, promote, cap.
package compact

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/mnemo-sh/mnemo/internal/types"
)

// Queue is the append-only capture queue. Hook processes append events
// cheaply; the compactor drains the file in one atomic swap so writers
// racing a drain land in the fresh file, never in limbo.
type Queue struct {
	mu   sync.Mutex
	path string
}

// NewQueue creates a queue backed by the JSONL file at path.
func NewQueue(path string) (*Queue, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create queue directory: %w", err)
		}
	}
	return &Queue{path: path}, nil
}

// Append writes one event to the end of the queue.
func (q *Queue) Append(event types.CaptureEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal capture event: %w", err)
	}

	f, err := os.OpenFile(q.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append to queue: %w", err)
	}
	return nil
}

// Depth returns the number of queued events.
func (q *Queue) Depth() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	f, err := os.Open(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open queue: %w", err)
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) > 0 {
			count++
		}
	}
	return count, scanner.Err()
}

// Drain reads every queued event and atomically replaces the queue with
// an empty file. Malformed lines are logged and dropped rather than
// wedging the whole queue.
func (q *Queue) Drain() ([]types.CaptureEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	f, err := os.Open(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open queue: %w", err)
	}

	var events []types.CaptureEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event types.CaptureEvent
		if err := json.Unmarshal(line, &event); err != nil {
			slog.Warn("dropping malformed capture event",
				"component", "compact",
				"error", err,
			)
			continue
		}
		events = append(events, event)
	}
	scanErr := scanner.Err()
	f.Close()
	if scanErr != nil {
		return nil, fmt.Errorf("read queue: %w", scanErr)
	}

	// Swap in an empty file; rename is atomic on POSIX filesystems
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, nil, 0o644); err != nil {
		return nil, fmt.Errorf("create empty queue: %w", err)
	}
	if err := os.Rename(tmp, q.path); err != nil {
		return nil, fmt.Errorf("swap queue: %w", err)
	}

	return events, nil
}

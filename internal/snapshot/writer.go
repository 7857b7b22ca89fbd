package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Dumper produces a consistent copy of the database at a path.
// Implemented by the sqlite store via VACUUM INTO.
type Dumper interface {
	BackupTo(ctx context.Context, path string) error
}

// Writer creates timestamped snapshot files in a local directory.
type Writer struct {
	dumper Dumper
	dir    string
	now    func() time.Time
}

// NewWriter creates a writer that snapshots into dir.
func NewWriter(dumper Dumper, dir string) *Writer {
	return &Writer{dumper: dumper, dir: dir, now: time.Now}
}

// Write dumps the database into a new snapshot file and returns its
// path. The dump lands in a temp file first so a crashed dump never
// leaves a half-written snapshot under the final name.
func (w *Writer) Write(ctx context.Context) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot directory: %w", err)
	}

	name := fmt.Sprintf("mnemo-%s.db", w.now().UTC().Format("20060102T150405Z"))
	final := filepath.Join(w.dir, name)
	tmp := final + ".tmp"

	if err := w.dumper.BackupTo(ctx, tmp); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("dump database: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("finalize snapshot: %w", err)
	}
	return final, nil
}

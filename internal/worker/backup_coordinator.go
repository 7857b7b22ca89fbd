package worker

import (
	"context"
	"log/slog"
	"time"
)

// BackupRunner performs one backup. Implemented by the memory service.
type BackupRunner interface {
	Backup(ctx context.Context) (string, error)
}

// BackupCoordinator runs periodic backups.
type BackupCoordinator struct {
	runner   BackupRunner
	interval time.Duration
}

// NewBackupCoordinator creates a backup coordinator.
func NewBackupCoordinator(runner BackupRunner, interval time.Duration) *BackupCoordinator {
	return &BackupCoordinator{runner: runner, interval: interval}
}

// Run starts the coordinator loop. Blocks until ctx is cancelled.
// Like compaction, the first backup waits a full interval.
func (c *BackupCoordinator) Run(ctx context.Context) {
	slog.Info("backup coordinator started",
		"component", "worker",
		"worker", "backup-coordinator",
		"interval", c.interval.String(),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("backup coordinator stopped",
				"component", "worker",
				"worker", "backup-coordinator",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.runBackup(ctx)
		}
	}
}

// runBackup executes one backup, continuing the loop on failure.
func (c *BackupCoordinator) runBackup(ctx context.Context) {
	start := time.Now()
	path, err := c.runner.Backup(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return // Graceful shutdown
		}
		slog.Error("backup failed",
			"component", "worker",
			"worker", "backup-coordinator",
			"error", err,
		)
		return
	}

	slog.Info("backup cycle completed",
		"component", "worker",
		"worker", "backup-coordinator",
		"path", path,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

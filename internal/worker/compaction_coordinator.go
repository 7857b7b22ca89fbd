// Package worker runs the background loops: periodic compaction with
// on-demand flushes, and periodic backups.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/mnemo-sh/mnemo/internal/compact"
	"github.com/mnemo-sh/mnemo/internal/types"
)

// CycleRunner runs one compaction cycle. Implemented by compact.Compactor.
type CycleRunner interface {
	Compact(ctx context.Context) (*types.CompactionStats, error)
}

// CompactionCoordinator drives the compactor. It is the only goroutine
// that mutates observations: timed cycles come from the ticker and
// on-demand cycles arrive as flush requests over the channel.
type CompactionCoordinator struct {
	compactor CycleRunner
	interval  time.Duration
	flush     <-chan compact.FlushRequest
	// onCycle is invoked after each successful cycle. May be nil.
	onCycle func(at time.Time, stats *types.CompactionStats)
}

// NewCompactionCoordinator creates a compaction coordinator.
func NewCompactionCoordinator(
	compactor CycleRunner,
	interval time.Duration,
	flush <-chan compact.FlushRequest,
	onCycle func(time.Time, *types.CompactionStats),
) *CompactionCoordinator {
	return &CompactionCoordinator{
		compactor: compactor,
		interval:  interval,
		flush:     flush,
		onCycle:   onCycle,
	}
}

// Run starts the coordinator loop. Blocks until ctx is cancelled.
//
// The first timed cycle waits a full interval; compaction is IO-heavy
// and should not spike resources during startup. Flush requests are
// served immediately at any point.
func (c *CompactionCoordinator) Run(ctx context.Context) {
	slog.Info("compaction coordinator started",
		"component", "worker",
		"worker", "compaction-coordinator",
		"interval", c.interval.String(),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("compaction coordinator stopped",
				"component", "worker",
				"worker", "compaction-coordinator",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.runCycle(ctx, "timer")
		case req := <-c.flush:
			stats, err := c.runCycle(ctx, "flush")
			if req.Reply != nil {
				select {
				case req.Reply <- compact.FlushReply{Stats: stats, Err: err}:
				default:
					// Caller gave up waiting
				}
			}
		}
	}
}

// runCycle executes one compaction cycle and reports the outcome.
func (c *CompactionCoordinator) runCycle(ctx context.Context, trigger string) (*types.CompactionStats, error) {
	start := time.Now()
	stats, err := c.compactor.Compact(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return stats, err // Graceful shutdown
		}
		slog.Error("compaction cycle failed",
			"component", "worker",
			"worker", "compaction-coordinator",
			"trigger", trigger,
			"error", err,
		)
		return stats, err
	}

	if c.onCycle != nil {
		c.onCycle(start, stats)
	}
	return stats, nil
}

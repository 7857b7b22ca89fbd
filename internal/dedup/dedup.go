// Package dedup decides whether incoming content is too close to an
// existing memory to store. Thresholds are cosine distances; records
// tagged as fixes use a stricter threshold because near-identical fixes
// for distinct errors are genuinely different knowledge.
package dedup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mnemo-sh/mnemo/internal/config"
	"github.com/mnemo-sh/mnemo/internal/store"
)

// Outcome classifies a dedup check.
type Outcome int

const (
	// Unique content is stored normally.
	Unique Outcome = iota
	// SoftDuplicate content is stored but tagged as a near-duplicate.
	SoftDuplicate
	// Blocked content is rejected as a duplicate.
	Blocked
)

// Decision carries the outcome and the nearest existing record.
type Decision struct {
	Outcome    Outcome
	NearestID  string
	Distance   float64
	Threshold  float64
}

// NearestProber is the slice of the record store the engine needs.
type NearestProber interface {
	NearestMemory(ctx context.Context, query []float32) (*store.VectorMatch, error)
}

// Engine runs dedup checks against the memory table.
type Engine struct {
	probe NearestProber
	cfg   config.DedupConfig
}

// New creates a dedup engine with the configured thresholds.
func New(probe NearestProber, cfg config.DedupConfig) *Engine {
	return &Engine{probe: probe, cfg: cfg}
}

// Check probes the nearest memory and applies the tiered thresholds.
// force bypasses the similarity thresholds entirely; the content-level
// noise filter is not this engine's concern and runs regardless.
// The similarity probe fails open: on error the content is admitted.
func (e *Engine) Check(ctx context.Context, embedding []float32, isFix, force bool) Decision {
	if force {
		return Decision{Outcome: Unique}
	}

	match, err := e.probe.NearestMemory(ctx, embedding)
	if err != nil {
		slog.Warn("dedup probe failed, admitting content",
			"component", "dedup",
			"error", err,
		)
		return Decision{Outcome: Unique}
	}
	if match == nil {
		return Decision{Outcome: Unique}
	}

	hard := e.cfg.HardThreshold
	if isFix {
		hard = e.cfg.FixThreshold
	}

	d := Decision{NearestID: match.Memory.ID, Distance: match.Distance}
	switch {
	case match.Distance < hard:
		d.Outcome = Blocked
		d.Threshold = hard
	case match.Distance < e.cfg.SoftThreshold:
		d.Outcome = SoftDuplicate
		d.Threshold = e.cfg.SoftThreshold
	default:
		d.Outcome = Unique
	}
	return d
}

// String renders the outcome for logs and responses.
func (o Outcome) String() string {
	switch o {
	case Blocked:
		return "blocked"
	case SoftDuplicate:
		return "soft_duplicate"
	default:
		return "unique"
	}
}

// Reason renders a human-readable explanation for a blocked decision.
func (d Decision) Reason() string {
	if d.Outcome == Unique {
		return ""
	}
	return fmt.Sprintf("distance %.3f to %s below threshold %.2f", d.Distance, d.NearestID, d.Threshold)
}

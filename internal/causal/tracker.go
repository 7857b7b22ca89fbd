// Package causal tracks which fix strategies actually worked for which
// errors. Chains are keyed by fingerprints of the normalized error and
// the strategy, so evidence accumulates across sessions even as paths
// and line numbers vary.
package causal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mnemo-sh/mnemo/internal/config"
	"github.com/mnemo-sh/mnemo/internal/embedding"
	"github.com/mnemo-sh/mnemo/internal/errorsig"
	"github.com/mnemo-sh/mnemo/internal/store"
	"github.com/mnemo-sh/mnemo/internal/types"
)

// semanticMatchDistance bounds the fallback match when no chain shares
// the exact error fingerprint.
const semanticMatchDistance = 0.25

// ChainStore is the slice of the record store the tracker uses.
type ChainStore interface {
	GetFixOutcome(ctx context.Context, chainID string) (*types.FixOutcome, error)
	UpsertFixOutcome(ctx context.Context, f *types.FixOutcome) error
	FixOutcomesByErrorHash(ctx context.Context, errorHash string) ([]types.FixOutcome, error)
	ListFixOutcomes(ctx context.Context) ([]types.FixOutcome, error)
	SemanticSearchObservations(ctx context.Context, query []float32, k int, maxDistance float64) ([]store.ObservationMatch, error)
}

// Tracker records attempts and outcomes and answers history queries.
type Tracker struct {
	store    ChainStore
	embedder embedding.Embedder
	cfg      config.CausalConfig
	now      func() time.Time
}

// New creates a tracker.
func New(chains ChainStore, embedder embedding.Embedder, cfg config.CausalConfig) *Tracker {
	return &Tracker{store: chains, embedder: embedder, cfg: cfg, now: time.Now}
}

// ChainID derives the chain key: hash(normalized error) + "_" + hash(strategy).
func ChainID(errorText, strategyText string) string {
	_, errHash := errorsig.Signature(errorText)
	return errHash + "_" + errorsig.Hash(strategyText)
}

// RecordAttempt notes that a strategy is being tried against an error,
// creating the chain on first sight.
func (t *Tracker) RecordAttempt(ctx context.Context, errorText, strategyText string) (*types.FixOutcome, error) {
	chain, err := t.loadOrCreate(ctx, errorText, strategyText)
	if err != nil {
		return nil, err
	}

	chain.Attempts++
	// A new attempt reopens the chain until its outcome is reported
	chain.Outcome = "pending"
	t.refresh(chain)

	if err := t.store.UpsertFixOutcome(ctx, chain); err != nil {
		return nil, fmt.Errorf("record attempt: %w", err)
	}
	return chain, nil
}

// RecordOutcome records whether the most recent attempt succeeded. A
// missing chain is created with one implied attempt, so outcomes
// reported without a prior RecordAttempt still count.
func (t *Tracker) RecordOutcome(ctx context.Context, errorText, strategyText string, success bool) (*types.FixOutcome, error) {
	chain, err := t.loadOrCreate(ctx, errorText, strategyText)
	if err != nil {
		return nil, err
	}

	if chain.Attempts == 0 {
		chain.Attempts = 1
	}
	if success {
		chain.Successes++
		chain.Outcome = "success"
	} else {
		chain.Outcome = "failure"
	}
	t.refresh(chain)

	if err := t.store.UpsertFixOutcome(ctx, chain); err != nil {
		return nil, fmt.Errorf("record outcome: %w", err)
	}
	return chain, nil
}

// Bridge confirms a chain from a durable fix memory rather than a live
// outcome report. Bridged chains count as one observed success.
func (t *Tracker) Bridge(ctx context.Context, errorText, strategyText string) (*types.FixOutcome, error) {
	chain, err := t.loadOrCreate(ctx, errorText, strategyText)
	if err != nil {
		return nil, err
	}

	if chain.Attempts == 0 {
		chain.Attempts = 1
	}
	if chain.Outcome != "success" {
		chain.Successes++
		chain.Outcome = "success"
	}
	chain.Bridged = true
	t.refresh(chain)

	if err := t.store.UpsertFixOutcome(ctx, chain); err != nil {
		return nil, fmt.Errorf("bridge fix: %w", err)
	}
	return chain, nil
}

// loadOrCreate fetches the chain or initializes a fresh one.
func (t *Tracker) loadOrCreate(ctx context.Context, errorText, strategyText string) (*types.FixOutcome, error) {
	normalized, errHash := errorsig.Signature(errorText)
	chainID := errHash + "_" + errorsig.Hash(strategyText)

	chain, err := t.store.GetFixOutcome(ctx, chainID)
	if err == nil {
		chain.LastUpdated = t.now().UTC()
		return chain, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load chain: %w", err)
	}

	now := t.now().UTC()
	chain = &types.FixOutcome{
		ChainID:      chainID,
		ErrorHash:    errHash,
		ErrorText:    normalized,
		StrategyID:   errorsig.Hash(strategyText),
		StrategyText: strategyText,
		FirstSeen:    now,
		LastUpdated:  now,
	}
	if vec, err := t.embedder.Embed(ctx, normalized); err == nil {
		chain.Embedding = store.PackEmbedding(vec)
	}
	return chain, nil
}

// refresh recomputes the Laplace confidence and the ban flag. The
// smoothed estimate (s+1)/(n+2) keeps one failure from condemning a
// strategy and one success from canonizing it.
func (t *Tracker) refresh(chain *types.FixOutcome) {
	chain.Confidence = float64(chain.Successes+1) / float64(chain.Attempts+2)
	chain.Banned = chain.Attempts >= t.cfg.BanMinAttempts && chain.Confidence < t.cfg.BanConfidence
	chain.LastUpdated = t.now().UTC()
}

// DecayedConfidence halves the stored confidence per half-life of
// inactivity. The decay is query-time only; the stored value is never
// rewritten.
func (t *Tracker) DecayedConfidence(chain *types.FixOutcome) float64 {
	age := t.now().UTC().Sub(chain.LastUpdated)
	halfLives := age.Hours() / time.Duration(t.cfg.DecayHalfLife).Hours()
	if halfLives < 0 {
		halfLives = 0
	}
	return chain.Confidence * math.Pow(0.5, halfLives)
}

// QueryHistory buckets known chains for an error. Exact fingerprint
// matches win; otherwise chains with semantically close errors are
// consulted; with no chains at all, recent observations provide context.
func (t *Tracker) QueryHistory(ctx context.Context, errorText string) (*types.FixHistory, error) {
	normalized, errHash := errorsig.Signature(errorText)

	chains, err := t.store.FixOutcomesByErrorHash(ctx, errHash)
	if err != nil {
		return nil, fmt.Errorf("fix history: %w", err)
	}

	if len(chains) == 0 {
		chains, err = t.semanticChains(ctx, normalized)
		if err != nil {
			return nil, err
		}
	}

	history := &types.FixHistory{}
	for i := range chains {
		chain := chains[i]
		decayed := t.DecayedConfidence(&chain)
		entry := types.FixHistoryEntry{Chain: chain, DecayedConfidence: decayed}

		switch {
		case chain.Outcome == "" || chain.Outcome == "pending":
			entry.Bucket = types.FixPending
			history.Pending = append(history.Pending, entry)
		case chain.Banned || (decayed < t.cfg.BanConfidence && chain.Attempts >= t.cfg.BanMinAttempts):
			entry.Bucket = types.FixBanned
			history.Banned = append(history.Banned, entry)
		default:
			// Above the floor, or middling but never banned
			entry.Bucket = types.FixRecommended
			history.Recommended = append(history.Recommended, entry)
		}
	}

	if len(chains) == 0 {
		history.Observations = t.observationFallback(ctx, normalized)
	}

	return history, nil
}

// semanticChains scans stored chains for errors close to the query.
func (t *Tracker) semanticChains(ctx context.Context, normalized string) ([]types.FixOutcome, error) {
	vec, err := t.embedder.Embed(ctx, normalized)
	if err != nil {
		return nil, nil
	}

	all, err := t.store.ListFixOutcomes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list chains: %w", err)
	}

	var out []types.FixOutcome
	for _, chain := range all {
		if len(chain.Embedding) == 0 {
			continue
		}
		if store.CosineDistance(vec, store.UnpackEmbedding(chain.Embedding)) <= semanticMatchDistance {
			out = append(out, chain)
		}
	}
	return out, nil
}

// observationFallback surfaces raw capture context when no chain knows
// this error.
func (t *Tracker) observationFallback(ctx context.Context, normalized string) []types.Observation {
	vec, err := t.embedder.Embed(ctx, normalized)
	if err != nil {
		return nil
	}
	matches, err := t.store.SemanticSearchObservations(ctx, vec, 5, 0.5)
	if err != nil {
		return nil
	}
	out := make([]types.Observation, len(matches))
	for i := range matches {
		out[i] = matches[i].Observation
	}
	return out
}

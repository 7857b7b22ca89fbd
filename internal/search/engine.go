package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mnemo-sh/mnemo/internal/config"
	"github.com/mnemo-sh/mnemo/internal/embedding"
	"github.com/mnemo-sh/mnemo/internal/store"
	"github.com/mnemo-sh/mnemo/internal/types"
)

// Recaller is the slice of the record store the engine reads from.
type Recaller interface {
	SemanticSearchMemories(ctx context.Context, query []float32, k int, maxDistance float64) ([]store.VectorMatch, error)
	KeywordSearchMemories(ctx context.Context, query string, k int) ([]store.KeywordMatch, error)
	GetMemoriesByIDs(ctx context.Context, ids []string) ([]types.Memory, error)
	SemanticSearchObservations(ctx context.Context, query []float32, k int, maxDistance float64) ([]store.ObservationMatch, error)
}

// TagLookup is the slice of the tag index the engine uses.
type TagLookup interface {
	Search(ctx context.Context, tags []string, matchAll bool) ([]string, error)
	Expand(ctx context.Context, tags []string, minShare float64) ([]string, error)
	Known(ctx context.Context) ([]string, error)
}

// Options tune a single search. Zero values fall back to configuration.
type Options struct {
	TopK        int
	Mode        Mode
	MaxDistance float64
}

// Engine orchestrates routing, retrieval, fusion, and ranking.
type Engine struct {
	store    Recaller
	tags     TagLookup
	embedder embedding.Embedder
	cache    *Cache
	cfg      config.SearchConfig
	now      func() time.Time
}

// NewEngine creates a search engine. cache may be nil to disable caching.
func NewEngine(recall Recaller, tags TagLookup, embedder embedding.Embedder, cache *Cache, cfg config.SearchConfig) *Engine {
	return &Engine{
		store:    recall,
		tags:     tags,
		embedder: embedder,
		cache:    cache,
		cfg:      cfg,
		now:      time.Now,
	}
}

// clampTopK bounds k to [1, MaxTopK], defaulting when unset.
func (e *Engine) clampTopK(k int) int {
	if k <= 0 {
		k = e.cfg.DefaultTopK
	}
	if k < 1 {
		k = 1
	}
	if k > e.cfg.MaxTopK {
		k = e.cfg.MaxTopK
	}
	return k
}

// clampDistance bounds the semantic distance cutoff to the configured
// window, defaulting to the loosest allowed value.
func (e *Engine) clampDistance(d float64) float64 {
	if d == 0 {
		return e.cfg.MaxDistanceThreshold
	}
	if d < e.cfg.MinDistanceThreshold {
		return e.cfg.MinDistanceThreshold
	}
	if d > e.cfg.MaxDistanceThreshold {
		return e.cfg.MaxDistanceThreshold
	}
	return d
}

// Search runs a query end to end: route, retrieve, fuse, rank, trim.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]types.SearchResult, error) {
	topK := e.clampTopK(opts.TopK)
	maxDistance := e.clampDistance(opts.MaxDistance)

	route := Classify(query)
	if opts.Mode != "" {
		route.Mode = opts.Mode
	}

	if cached := e.cache.Get(route.Mode, query, topK); cached != nil {
		return cached, nil
	}

	var results []types.SearchResult
	var err error

	switch route.Mode {
	case ModeTag:
		results, err = e.tagChannel(ctx, route.Tags)
	case ModeKeyword:
		results, err = e.keywordChannel(ctx, query, topK)
	case ModeSemantic:
		results, err = e.semanticChannel(ctx, query, topK, maxDistance)
	default:
		results, err = e.hybridChannel(ctx, query, topK, maxDistance)
	}
	if err != nil {
		// A failed channel degrades to an empty answer, never an error
		slog.Warn("retrieval channel failed",
			"component", "search",
			"mode", string(route.Mode),
			"error", err,
		)
		results = nil
	}

	results = e.expandByTags(ctx, query, results)

	results = applyStages(ctx, results, []Stage{
		keywordOverlapStage(query, e.cfg.KeywordOverlapWeight),
		recencyStage(e.now(), e.cfg.RecencyWeight),
		tierStage(),
		accessStage(),
	})

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}

	results = e.followLinks(ctx, results)

	// Observation fallback: durable memories first, but an empty answer
	// helps nobody when the capture stream has relevant context.
	if len(results) == 0 && route.Mode != ModeTag {
		results = e.observationFallback(ctx, query, topK, maxDistance)
	}

	e.cache.Put(route.Mode, query, topK, results)
	return results, nil
}

// expandByTags enriches any retrieval with records whose tags the query
// plausibly names: matching tags widen through co-occurrence and the
// resolved records merge in behind what retrieval already found. Every
// step fails open.
func (e *Engine) expandByTags(ctx context.Context, query string, results []types.SearchResult) []types.SearchResult {
	known, err := e.tags.Known(ctx)
	if err != nil {
		slog.Warn("tag vocabulary unavailable", "component", "search", "error", err)
		return results
	}
	matched := matchQueryTags(query, known)
	if len(matched) == 0 {
		return results
	}

	expanded, err := e.tags.Expand(ctx, matched, e.cfg.CoOccurrenceMinShare)
	if err != nil {
		expanded = matched
	}
	ids, err := e.tags.Search(ctx, expanded, false)
	if err != nil {
		slog.Warn("tag expansion lookup failed", "component", "search", "error", err)
		return results
	}

	seen := make(map[string]bool, len(results))
	for _, r := range results {
		seen[r.Memory.ID] = true
	}
	var fetch []string
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			fetch = append(fetch, id)
		}
	}
	if len(fetch) == 0 {
		return results
	}

	memories, err := e.store.GetMemoriesByIDs(ctx, fetch)
	if err != nil {
		slog.Warn("tag expansion resolve failed", "component", "search", "error", err)
		return results
	}
	for i := range memories {
		m := memories[i]
		results = append(results, types.SearchResult{Memory: &m, Score: 0.3, Source: "tag_expanded"})
	}
	return results
}

// matchQueryTags finds known tags the query refers to: an exact term
// match, the tag appearing inside the query text, or a dimensioned
// tag's value matching a query term.
func matchQueryTags(query string, known []string) []string {
	terms := queryTerms(query)
	termSet := make(map[string]bool, len(terms))
	for _, t := range terms {
		termSet[t] = true
	}
	lower := strings.ToLower(query)

	var out []string
	for _, tag := range known {
		lowTag := strings.ToLower(tag)
		if termSet[lowTag] || strings.Contains(lower, lowTag) {
			out = append(out, tag)
			continue
		}
		if _, value, ok := strings.Cut(lowTag, ":"); ok && termSet[value] {
			out = append(out, tag)
		}
	}
	return out
}

// followLinks appends records referenced by resolves/resolved_by tags
// on the ranked results. Linked records ride along behind the organic
// list and never displace it.
func (e *Engine) followLinks(ctx context.Context, results []types.SearchResult) []types.SearchResult {
	seen := make(map[string]bool, len(results))
	for _, r := range results {
		seen[r.Memory.ID] = true
	}
	var targets []string
	for _, r := range results {
		for _, tag := range r.Memory.Tags {
			id, ok := linkTarget(tag)
			if ok && !seen[id] {
				seen[id] = true
				targets = append(targets, id)
			}
		}
	}
	if len(targets) == 0 {
		return results
	}

	memories, err := e.store.GetMemoriesByIDs(ctx, targets)
	if err != nil {
		slog.Warn("link resolution failed", "component", "search", "error", err)
		return results
	}
	for i := range memories {
		m := memories[i]
		results = append(results, types.SearchResult{Memory: &m, Score: 0.1, Source: "linked"})
	}
	return results
}

// linkTarget extracts the record id from a linking tag.
func linkTarget(tag string) (string, bool) {
	for _, prefix := range []string{"resolves:", "resolved_by:"} {
		if id, ok := strings.CutPrefix(tag, prefix); ok && id != "" {
			return id, true
		}
	}
	return "", false
}

// tagChannel retrieves by tag, widening the tag set via co-occurrence.
func (e *Engine) tagChannel(ctx context.Context, tags []string) ([]types.SearchResult, error) {
	expanded, err := e.tags.Expand(ctx, tags, e.cfg.CoOccurrenceMinShare)
	if err != nil {
		// Expansion is an enrichment; fall back to the literal tags
		slog.Warn("tag expansion failed", "component", "search", "error", err)
		expanded = tags
	}

	ids, err := e.tags.Search(ctx, expanded, false)
	if err != nil {
		return nil, fmt.Errorf("tag search: %w", err)
	}
	memories, err := e.store.GetMemoriesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve tag matches: %w", err)
	}

	results := make([]types.SearchResult, len(memories))
	for i := range memories {
		m := memories[i]
		results[i] = types.SearchResult{Memory: &m, Score: 0.5, Source: "tag"}
	}
	return results, nil
}

// keywordChannel retrieves by FTS with positional base scores.
func (e *Engine) keywordChannel(ctx context.Context, query string, topK int) ([]types.SearchResult, error) {
	matches, err := e.store.KeywordSearchMemories(ctx, query, topK)
	if err != nil {
		return nil, fmt.Errorf("keyword channel: %w", err)
	}
	results := make([]types.SearchResult, len(matches))
	for i := range matches {
		m := matches[i].Memory
		results[i] = types.SearchResult{Memory: &m, Score: 1 / float64(i+1), Source: "keyword"}
	}
	return results, nil
}

// semanticChannel retrieves by embedding distance. When the embedder is
// unavailable the channel fails open to keyword retrieval.
func (e *Engine) semanticChannel(ctx context.Context, query string, topK int, maxDistance float64) ([]types.SearchResult, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		slog.Warn("embedding unavailable, falling back to keyword search",
			"component", "search",
			"error", err,
		)
		return e.keywordChannel(ctx, query, topK)
	}

	matches, err := e.store.SemanticSearchMemories(ctx, vec, topK, maxDistance)
	if err != nil {
		return nil, fmt.Errorf("semantic channel: %w", err)
	}
	results := make([]types.SearchResult, len(matches))
	for i := range matches {
		m := matches[i].Memory
		results[i] = types.SearchResult{Memory: &m, Score: 1 - matches[i].Distance, Source: "semantic"}
	}
	return results, nil
}

// hybridChannel fuses the semantic and keyword lists with RRF.
func (e *Engine) hybridChannel(ctx context.Context, query string, topK int, maxDistance float64) ([]types.SearchResult, error) {
	var semList []types.Memory
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		slog.Warn("embedding unavailable, hybrid degrades to keyword",
			"component", "search",
			"error", err,
		)
	} else {
		matches, err := e.store.SemanticSearchMemories(ctx, vec, topK*2, maxDistance)
		if err != nil {
			return nil, fmt.Errorf("hybrid semantic leg: %w", err)
		}
		for _, m := range matches {
			semList = append(semList, m.Memory)
		}
	}

	kwMatches, err := e.store.KeywordSearchMemories(ctx, query, topK*2)
	if err != nil {
		return nil, fmt.Errorf("hybrid keyword leg: %w", err)
	}
	kwList := make([]types.Memory, len(kwMatches))
	for i := range kwMatches {
		kwList[i] = kwMatches[i].Memory
	}

	return FuseRRF(semList, kwList, e.cfg.RRFConstant), nil
}

// observationFallback surfaces recent capture context when the memory
// tables have nothing. Observations are wrapped as pseudo-memories so
// callers keep a single result shape.
func (e *Engine) observationFallback(ctx context.Context, query string, topK int, maxDistance float64) []types.SearchResult {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil
	}
	matches, err := e.store.SemanticSearchObservations(ctx, vec, topK, maxDistance)
	if err != nil {
		slog.Warn("observation fallback failed", "component", "search", "error", err)
		return nil
	}

	results := make([]types.SearchResult, len(matches))
	for i := range matches {
		o := matches[i].Observation
		results[i] = types.SearchResult{
			Memory: &types.Memory{
				ID:           o.ID,
				Text:         o.Content,
				Timestamp:    o.Timestamp,
				Preview:      o.Content,
				SourceMethod: "observation",
				Tier:         3,
			},
			Score:  1 - matches[i].Distance,
			Source: "observation",
		}
	}
	return results
}

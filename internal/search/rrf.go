package search

import (
	"sort"

	"github.com/mnemo-sh/mnemo/internal/types"
)

// FuseRRF merges the semantic and keyword result lists with reciprocal
// rank fusion: each list contributes 1/(k + rank) per record, with rank
// starting at 1. Records present in both lists are labeled "both" and
// naturally rise, since they collect contributions from each side.
func FuseRRF(semantic, keyword []types.Memory, k int) []types.SearchResult {
	if k <= 0 {
		k = 60
	}

	type fused struct {
		memory   types.Memory
		score    float64
		semantic bool
		keyword  bool
		// order preserves first-seen position for deterministic ties
		order int
	}

	byID := make(map[string]*fused)
	next := 0

	add := func(list []types.Memory, isSemantic bool) {
		for rank, m := range list {
			f, ok := byID[m.ID]
			if !ok {
				f = &fused{memory: m, order: next}
				next++
				byID[m.ID] = f
			}
			f.score += 1 / float64(k+rank+1)
			if isSemantic {
				f.semantic = true
			} else {
				f.keyword = true
			}
		}
	}
	add(semantic, true)
	add(keyword, false)

	all := make([]*fused, 0, len(byID))
	for _, f := range byID {
		all = append(all, f)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].order < all[j].order
	})

	out := make([]types.SearchResult, len(all))
	for i, f := range all {
		source := "semantic"
		switch {
		case f.semantic && f.keyword:
			source = "both"
		case f.keyword:
			source = "keyword"
		}
		m := f.memory
		out[i] = types.SearchResult{Memory: &m, Score: f.score, Source: source}
	}
	return out
}

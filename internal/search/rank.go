package search

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/mnemo-sh/mnemo/internal/types"
)

// A Stage transforms a result list. Stages run in order and fail open:
// a stage that returns an error is skipped and the prior list survives.
type Stage struct {
	Name  string
	Apply func(ctx context.Context, results []types.SearchResult) ([]types.SearchResult, error)
}

// applyStages runs the pipeline with fail-open semantics. A ranking
// defect must never turn a successful retrieval into an error.
func applyStages(ctx context.Context, results []types.SearchResult, stages []Stage) []types.SearchResult {
	for _, stage := range stages {
		ranked, err := stage.Apply(ctx, results)
		if err != nil {
			slog.Warn("ranking stage skipped",
				"component", "search",
				"stage", stage.Name,
				"error", err,
			)
			continue
		}
		results = ranked
	}
	return results
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "it": true,
	"to": true, "in": true, "of": true, "and": true, "for": true,
}

// queryTerms lowercases and strips stopwords from a query.
func queryTerms(query string) []string {
	var out []string
	for _, f := range strings.Fields(strings.ToLower(query)) {
		f = strings.Trim(f, `"?.,!`)
		if f != "" && !stopwords[f] {
			out = append(out, f)
		}
	}
	return out
}

// keywordOverlapStage boosts results whose text contains the query
// terms, weighted by the fraction of terms present.
func keywordOverlapStage(query string, weight float64) Stage {
	terms := queryTerms(query)
	return Stage{
		Name: "keyword_overlap",
		Apply: func(_ context.Context, results []types.SearchResult) ([]types.SearchResult, error) {
			if len(terms) == 0 {
				return results, nil
			}
			for i := range results {
				text := strings.ToLower(results[i].Memory.Text)
				matched := 0
				for _, term := range terms {
					if strings.Contains(text, term) {
						matched++
					}
				}
				results[i].Score += weight * float64(matched) / float64(len(terms))
			}
			return results, nil
		},
	}
}

// recencyStage boosts records linearly by age, falling to zero at one
// year: weight * max(0, 1 - age_days/365).
func recencyStage(now time.Time, weight float64) Stage {
	return Stage{
		Name: "recency",
		Apply: func(_ context.Context, results []types.SearchResult) ([]types.SearchResult, error) {
			for i := range results {
				ageDays := now.Sub(results[i].Memory.Timestamp).Hours() / 24
				results[i].Score += weight * math.Max(0, 1-ageDays/365)
			}
			return results, nil
		},
	}
}

// tierStage nudges tier-1 records up and tier-3 records down.
func tierStage() Stage {
	return Stage{
		Name: "tier",
		Apply: func(_ context.Context, results []types.SearchResult) ([]types.SearchResult, error) {
			for i := range results {
				switch results[i].Memory.Tier {
				case 1:
					results[i].Score += 0.05
				case 3:
					results[i].Score -= 0.02
				}
			}
			return results, nil
		},
	}
}

// accessStage boosts frequently retrieved records, log-damped and
// capped so popularity never dominates relevance.
func accessStage() Stage {
	return Stage{
		Name: "access_frequency",
		Apply: func(_ context.Context, results []types.SearchResult) ([]types.SearchResult, error) {
			for i := range results {
				boost := 0.008 * math.Log(1+float64(results[i].Memory.RetrievalCount))
				results[i].Score += math.Min(0.03, boost)
			}
			return results, nil
		},
	}
}

package ingest

import "strings"

// Tiers order records by durability: tier 1 is load-bearing knowledge,
// tier 2 is the default, tier 3 is ephemera that decays first.
const (
	TierCritical = 1
	TierDefault  = 2
	TierEphemera = 3
)

var tier1Tags = []string{"type:fix", "type:decision", "priority:critical", "priority:high"}
var tier3Tags = []string{"type:auto-captured", "priority:low"}

// ClassifyTier assigns a tier from tags and content signals. Tags are
// assumed normalized.
func ClassifyTier(content string, tags []string) int {
	for _, tag := range tier1Tags {
		if HasTag(tags, tag) {
			return TierCritical
		}
	}

	lower := strings.ToLower(content)
	if strings.Contains(lower, "root cause") || strings.Contains(lower, "breaking") {
		return TierCritical
	}
	if strings.HasPrefix(content, "Fixed ") {
		return TierCritical
	}

	for _, tag := range tier3Tags {
		if HasTag(tags, tag) {
			return TierEphemera
		}
	}
	if len(strings.TrimSpace(content)) < 50 {
		return TierEphemera
	}

	return TierDefault
}

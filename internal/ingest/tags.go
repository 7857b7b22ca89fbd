package ingest

import "strings"

// bareTagDimensions maps undimensioned tags to their canonical
// dimension:value form. Unknown bare tags pass through untouched.
var bareTagDimensions = map[string]string{
	"fix":           "type:fix",
	"bugfix":        "type:fix",
	"decision":      "type:decision",
	"insight":       "type:insight",
	"preference":    "type:preference",
	"auto-captured": "type:auto-captured",
	"critical":      "priority:critical",
	"high":          "priority:high",
	"medium":        "priority:medium",
	"low":           "priority:low",
}

// NormalizeTags lowercases, maps bare tags onto their dimension, and
// deduplicates while preserving first-seen order.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))

	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if !strings.Contains(tag, ":") {
			if dimensioned, ok := bareTagDimensions[tag]; ok {
				tag = dimensioned
			}
		}
		if !seen[tag] {
			seen[tag] = true
			out = append(out, tag)
		}
	}
	return out
}

// HasTag reports whether the normalized tag set contains tag.
func HasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

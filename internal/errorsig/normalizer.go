// Package errorsig produces stable fingerprints for error messages.
// Two errors that differ only in paths, line numbers, or addresses
// normalize to the same text and therefore the same hash, which is what
// lets fix outcomes accumulate across sessions.
package errorsig

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
)

type stripRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Rules are applied in order; the catch-all number rule must stay last.
var stripRules = []stripRule{
	{regexp.MustCompile(`(?:[A-Za-z]:)?[/\\][\w./\\-]+`), "<path>"},
	{regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`), "<uuid>"},
	{regexp.MustCompile(`0x[0-9a-fA-F]+`), "<hex>"},
	{regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}[\w.:+-]*`), "<ts>"},
	{regexp.MustCompile(`\b[0-9a-f]{40}\b`), "<git-hash>"},
	{regexp.MustCompile(`\b[0-9a-f]{7}\b`), "<git-short>"},
	{regexp.MustCompile(`tmp[a-zA-Z0-9_]{6,10}`), "<tmp>"},
	{regexp.MustCompile(`<\w+ object at (?:0x[0-9a-fA-F]+|<hex>)>`), "<obj-repr>"},
	// :8080/ or ":3000 " trailing port numbers in connection errors.
	// RE2 has no lookahead, so the boundary character is captured and kept.
	{regexp.MustCompile(`:(\d{2,5})([/\s]|$)`), ":<port>$2"},
	{regexp.MustCompile(`(?i)\b\d+\s*(?:bytes?|[KMG]B)\b`), "<mem-size>"},
	{regexp.MustCompile(`,\s*line\s+\d+`), ", line <n>"},
	{regexp.MustCompile(`\d{2,}`), "<n>"},
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// Normalize strips the variable parts of an error message, producing a
// stable fingerprint suitable for hashing.
func Normalize(raw string) string {
	text := raw
	for _, rule := range stripRules {
		text = rule.pattern.ReplaceAllString(text, rule.replacement)
	}
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.ToLower(strings.TrimSpace(text))
}

// Hash computes the FNV-1a 64-bit hash of text, rendered as 16 hex
// characters and truncated to the first 8.
func Hash(text string) string {
	h := fnv.New64a()
	h.Write([]byte(text))
	return fmt.Sprintf("%016x", h.Sum64())[:8]
}

// Signature returns the normalized text and its hash in one call.
func Signature(raw string) (normalized, hash string) {
	normalized = Normalize(raw)
	return normalized, Hash(normalized)
}

// Package ingest implements the write-path gate: noise filtering, tag
// normalization, tier classification, citation extraction, and content
// hashing. Everything here is pure and deterministic.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// Verdict is the outcome of the noise filter.
type Verdict struct {
	Accept bool
	Reason string
}

// Noise patterns are anchored at the start so a real sentence that
// merely contains one of these phrases is not rejected.
var noisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(ok|okay|yes|no|sure|done|good|great|thanks|thank you)[.!]?$`),
	regexp.MustCompile(`(?i)^(running|executing|checking|looking at|searching for|reading|listing)\b`),
	regexp.MustCompile(`(?i)^(i'll|i will|let me|now i)\b`),
	regexp.MustCompile(`^[\w./-]+\.(go|py|js|ts|rs|md|json|yaml|yml|txt)$`),
	regexp.MustCompile(`^\$?\s*(ls|cd|pwd|cat|echo)\b`),
	regexp.MustCompile(`(?i)^(test passed|tests passed|build succeeded|no output)[.!]?$`),
}

// Filter screens content before it can become a memory. Content shorter
// than minLength is always rejected. Noise patterns reject content
// unless it is at least lengthExempt characters, on the theory that
// long content starting with filler still carries substance.
func Filter(content string, minLength, lengthExempt int) Verdict {
	trimmed := strings.TrimSpace(content)

	if len(trimmed) < minLength {
		return Verdict{Accept: false, Reason: fmt.Sprintf("content below %d characters", minLength)}
	}

	if len(trimmed) >= lengthExempt {
		return Verdict{Accept: true}
	}

	for _, pattern := range noisePatterns {
		if pattern.MatchString(trimmed) {
			return Verdict{Accept: false, Reason: "matches noise pattern " + pattern.String()}
		}
	}

	return Verdict{Accept: true}
}

// ContentID derives the record id from the content hash. Identical text
// always maps to the same id, which makes remember idempotent.
func ContentID(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}

// Preview returns the first n characters of content for list views.
func Preview(content string, n int) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) <= n {
		return content
	}
	return string(runes[:n])
}

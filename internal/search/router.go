// Package search implements the query router, the retrieval channels,
// reciprocal rank fusion, and the ranking pipeline.
package search

import (
	"regexp"
	"strings"
)

// Mode selects a retrieval channel.
type Mode string

const (
	// ModeAuto defers to the router's classification.
	ModeAuto     Mode = ""
	ModeTag      Mode = "tag"
	ModeKeyword  Mode = "keyword"
	ModeSemantic Mode = "semantic"
	ModeHybrid   Mode = "hybrid"
)

// Route is the router's verdict for a query. The router is pure: no IO,
// deterministic for a given query.
type Route struct {
	Mode Mode
	// Tags holds tag tokens when the query addresses the tag index.
	Tags []string
	// Terms holds the non-tag tokens for keyword/semantic channels.
	Terms []string
}

var (
	dimensionedTag = regexp.MustCompile(`^[a-z][a-z0-9_-]*:[a-z0-9][a-z0-9_.-]*$`)
	identifierRe   = regexp.MustCompile(`_|\.\w|^[A-Z]\w*[A-Z]|\w[A-Z]|^E\d{2,}$|^0x[0-9a-fA-F]+$`)
	questionWords  = map[string]bool{
		"why": true, "how": true, "what": true, "when": true, "where": true,
		"which": true, "should": true, "explain": true, "describe": true,
	}
)

// Classify routes a query to a retrieval mode. Rules apply in order:
// explicit tag tokens dominate; quoted phrases and boolean operators go
// to keyword; one- and two-token lookups go to keyword; question forms
// and five-plus-term prose go to semantic even when an identifier is
// present, so "why does gate_04 keep blocking" is semantic while
// "gate_04" alone is keyword. Short non-question queries carrying an
// identifier-shaped token also go to keyword; the three-to-four-token
// ambiguous middle is hybrid.
func Classify(query string) Route {
	query = strings.TrimSpace(query)
	fields := strings.Fields(query)

	var tags, terms []string
	for _, f := range fields {
		switch {
		case strings.HasPrefix(f, "tag:"):
			tags = append(tags, strings.TrimPrefix(f, "tag:"))
		case dimensionedTag.MatchString(f):
			tags = append(tags, f)
		default:
			terms = append(terms, f)
		}
	}

	if len(tags) > 0 && len(terms) == 0 {
		return Route{Mode: ModeTag, Tags: tags}
	}

	hasQuestion := strings.HasSuffix(query, "?")
	if len(terms) > 0 && questionWords[strings.ToLower(terms[0])] {
		hasQuestion = true
	}

	hasIdentifier := false
	quoted := strings.Count(query, `"`) >= 2
	boolean := false
	for _, t := range terms {
		if identifierRe.MatchString(t) {
			hasIdentifier = true
		}
		if t == "AND" || t == "OR" || t == "NOT" {
			boolean = true
		}
	}

	switch {
	case quoted || boolean:
		return Route{Mode: ModeKeyword, Tags: tags, Terms: terms}
	case len(terms) <= 2:
		return Route{Mode: ModeKeyword, Tags: tags, Terms: terms}
	case hasQuestion || len(terms) >= 5:
		return Route{Mode: ModeSemantic, Terms: terms}
	case hasIdentifier && len(terms) <= 4:
		return Route{Mode: ModeKeyword, Tags: tags, Terms: terms}
	default:
		return Route{Mode: ModeHybrid, Tags: tags, Terms: terms}
	}
}

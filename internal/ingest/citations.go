package ingest

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// Citations are the source URLs attached to a record. The first URL
// after ranking becomes the primary source.
type Citations struct {
	Primary string
	Related []string
}

var (
	markerRe = regexp.MustCompile(`\[(?:source|ref):\s*([^\]\s]+)\s*\]`)
	bareURL  = regexp.MustCompile(`https?://[^\s\])"']+`)
)

// domainAuthority ranks known documentation domains above general ones.
// Unlisted domains score 1.
var domainAuthority = map[string]int{
	"pkg.go.dev":            5,
	"go.dev":                5,
	"docs.python.org":       5,
	"developer.mozilla.org": 5,
	"sqlite.org":            5,
	"www.sqlite.org":        5,
	"github.com":            4,
	"stackoverflow.com":     3,
	"medium.com":            2,
}

// ExtractCitations pulls [source:]/[ref:] markers and bare URLs from
// content, validates them, and ranks by domain authority, capped at max.
func ExtractCitations(content string, max int) Citations {
	var ordered []string
	seen := make(map[string]bool)

	add := func(raw string) {
		raw = strings.TrimRight(raw, ".,;")
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return
		}
		if !seen[raw] {
			seen[raw] = true
			ordered = append(ordered, raw)
		}
	}

	// Explicit markers first so they win ties after the stable sort
	for _, m := range markerRe.FindAllStringSubmatch(content, -1) {
		add(m[1])
	}
	for _, m := range bareURL.FindAllString(content, -1) {
		add(m)
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return authority(ordered[i]) > authority(ordered[j])
	})

	if len(ordered) > max {
		ordered = ordered[:max]
	}
	if len(ordered) == 0 {
		return Citations{}
	}
	return Citations{Primary: ordered[0], Related: ordered}
}

func authority(raw string) int {
	u, err := url.Parse(raw)
	if err != nil {
		return 0
	}
	if score, ok := domainAuthority[u.Host]; ok {
		return score
	}
	return 1
}

package utils

import (
	"strings"

	"github.com/gobwas/glob"
)

// wildcardMarkers end a pattern that matches any sub-path.
var wildcardMarkers = []string{"(.*)", "*"}

// URLMatcher implements the exclude-URL policy shared by the page cache and
// the preload sweep. A pattern ending in "(.*)" or "*" is a prefix match on
// everything before the marker; any other pattern matches the exact path,
// ignoring a trailing slash.
type URLMatcher struct {
	prefixes []string
	exact    map[string]struct{}
}

// NewURLMatcher compiles patterns. Empty entries are ignored.
func NewURLMatcher(patterns []string) *URLMatcher {
	m := &URLMatcher{exact: make(map[string]struct{})}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		prefix, wild := trimWildcard(p)
		if wild {
			m.prefixes = append(m.prefixes, prefix)
			continue
		}
		m.exact[strings.TrimSuffix(p, "/")] = struct{}{}
	}
	return m
}

func trimWildcard(p string) (string, bool) {
	for _, marker := range wildcardMarkers {
		if strings.HasSuffix(p, marker) {
			return strings.TrimSuffix(p, marker), true
		}
	}
	return p, false
}

// Match reports whether urlPath is excluded.
func (m *URLMatcher) Match(urlPath string) bool {
	if m == nil {
		return false
	}
	for _, prefix := range m.prefixes {
		if strings.HasPrefix(urlPath, prefix) {
			return true
		}
	}
	_, ok := m.exact[strings.TrimSuffix(urlPath, "/")]
	return ok
}

// KeywordMatcher matches URLs against an exclude list of plain keywords
// (substring match) and glob patterns (entries containing * ? [ or {).
type KeywordMatcher struct {
	keywords []string
	globs    []glob.Glob
}

// NewKeywordMatcher compiles patterns; invalid globs fall back to keywords.
func NewKeywordMatcher(patterns []string) *KeywordMatcher {
	m := &KeywordMatcher{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if strings.ContainsAny(p, "*?[{") {
			if g, err := glob.Compile(p); err == nil {
				m.globs = append(m.globs, g)
				continue
			}
		}
		m.keywords = append(m.keywords, p)
	}
	return m
}

// Match reports whether s is excluded.
func (m *KeywordMatcher) Match(s string) bool {
	if m == nil {
		return false
	}
	for _, k := range m.keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	for _, g := range m.globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}

package docstore

import (
	"path"
	"strings"

	"github.com/tidwall/match"
)

// DefaultIgnorePatterns are skipped by List unless replaced with WithIgnore.
var DefaultIgnorePatterns = []string{
	".git",
	".hg",
	".svn",
	".docsession",
	"node_modules",
	"*.swp",
	"*~",
	".DS_Store",
}

// Ignore matches document paths against glob patterns. A pattern without a
// slash matches any path element; a pattern with one matches the path
// relative to the store root.
type Ignore struct {
	patterns []string
}

// NewIgnore creates a matcher for patterns. Empty patterns are dropped.
func NewIgnore(patterns ...string) *Ignore {
	ig := &Ignore{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		ig.patterns = append(ig.patterns, strings.Trim(p, "/"))
	}
	return ig
}

// Match reports whether p is ignored.
func (ig *Ignore) Match(p string) bool {
	if ig == nil || len(ig.patterns) == 0 {
		return false
	}
	rel := strings.TrimPrefix(path.Clean("/"+p), "/")
	base := path.Base(rel)
	for _, pat := range ig.patterns {
		if strings.Contains(pat, "/") {
			if match.Match(rel, pat) {
				return true
			}
			continue
		}
		if match.Match(base, pat) {
			return true
		}
	}
	return false
}

// Patterns returns the configured patterns.
func (ig *Ignore) Patterns() []string {
	out := make([]string, len(ig.patterns))
	copy(out, ig.patterns)
	return out
}

package cache

import (
	"strings"

	"github.com/tidwall/match"
)

// Pattern matches cache keys against a glob in which only '*' is special.
// Every other character, including '?' and '\', is literal. A key matches
// when the glob occurs anywhere in it, so "exam-sets:*" also matches
// "user:exam-sets:1"; anchor with explicit prefixes where that matters.
type Pattern struct {
	glob string
}

// globEscaper escapes the characters tidwall/match treats as syntax,
// leaving '*' as the only wildcard.
var globEscaper = strings.NewReplacer(`\`, `\\`, `?`, `\?`)

// CompilePattern prepares pattern for repeated matching.
func CompilePattern(pattern string) Pattern {
	return Pattern{glob: "*" + globEscaper.Replace(pattern) + "*"}
}

// Match reports whether key contains the pattern.
func (p Pattern) Match(key string) bool {
	return match.Match(key, p.glob)
}

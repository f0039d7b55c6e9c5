package route

import (
	"regexp"
	"strings"
)

type compiledGlob struct {
	pattern string
	re      *regexp.Regexp
}

// compileGlob turns an endpoint glob pattern into an anchored regexp: `*`
// matches within a path segment ([^/]*), `**` matches across segments (.*),
// and every other regex metacharacter is escaped literally.
func compileGlob(pattern string) (*compiledGlob, error) {
	var sb strings.Builder
	sb.WriteString("^")

	i := 0
	for i < len(pattern) {
		if pattern[i] == '*' {
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				sb.WriteString(".*")
				i += 2
			} else {
				sb.WriteString("[^/]*")
				i++
			}
			continue
		}
		j := i
		for j < len(pattern) && pattern[j] != '*' {
			j++
		}
		sb.WriteString(regexp.QuoteMeta(pattern[i:j]))
		i = j
	}
	sb.WriteString("$")

	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, err
	}
	return &compiledGlob{pattern: pattern, re: re}, nil
}

// IsEndpointAllowed reports whether url matches at least one of patterns.
// An empty pattern list matches nothing (spec.md's Route-model semantics,
// not the "empty means allow all" legacy behavior — see spec.md §9).
func IsEndpointAllowed(url string, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}
	for _, p := range patterns {
		g, err := compileGlob(p)
		if err != nil {
			continue
		}
		if g.re.MatchString(url) {
			return true
		}
	}
	return false
}

// matchesCompiled is the same check against precompiled globs, used on the
// hot path once a ResolvedRoute has compiled its AllowedEndpoints.
func matchesCompiled(url string, compiled []*compiledGlob) bool {
	if len(compiled) == 0 {
		return false
	}
	for _, g := range compiled {
		if g.re.MatchString(url) {
			return true
		}
	}
	return false
}

package context

import "strings"

// pattern is one line of an ignore file or inline pattern list.
type pattern struct {
	glob   string
	negate bool
}

// parsePatterns parses raw ignore-file lines (or inline pattern strings)
// into pattern values, skipping blanks and comments.
func parsePatterns(lines []string) ([]pattern, error) {
	var out []pattern
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		negate := strings.HasPrefix(line, "!")
		if negate {
			line = strings.TrimPrefix(line, "!")
		}
		line = strings.TrimSuffix(line, "/")
		out = append(out, pattern{glob: line, negate: negate})
	}
	return out, nil
}

// matchIgnored applies dockerignore-compatible semantics: patterns are
// evaluated in file order, later rules override earlier ones, and a
// negation only takes effect if a prior positive rule would otherwise
// have excluded the path (matching moby's exclusion algorithm).
func matchIgnored(patterns []pattern, relPath string) bool {
	excluded := false
	for _, p := range patterns {
		if !matchGlobOrPrefix(p.glob, relPath) {
			continue
		}
		excluded = !p.negate
	}
	return excluded
}

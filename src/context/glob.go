package context

import (
	"path/filepath"
	"strings"
)

// matchGlob extends filepath.Match with support for "**" (zero or more path
// segments), used for .dockerignore-style pattern matching against
// forward-slash relative paths.
func matchGlob(pattern, path string) bool {
	if !strings.Contains(pattern, "**") {
		matched, _ := filepath.Match(pattern, path)
		return matched
	}

	idx := strings.Index(pattern, "**")
	prefix := pattern[:idx]
	suffix := strings.TrimLeft(pattern[idx+2:], "/")

	if prefix != "" {
		prefix = strings.TrimRight(prefix, "/")
		if !strings.HasPrefix(path, prefix) {
			return false
		}
		path = strings.TrimPrefix(path, prefix)
		path = strings.TrimLeft(path, "/")
	}

	if suffix == "" {
		return true
	}

	parts := strings.Split(path, "/")
	for i := 0; i <= len(parts); i++ {
		tail := strings.Join(parts[i:], "/")
		if matchGlob(suffix, tail) {
			return true
		}
	}
	return false
}

// matchGlobOrPrefix reports whether pattern matches path itself, or matches
// an ancestor directory of path (dockerignore semantics: excluding a
// directory excludes everything beneath it).
func matchGlobOrPrefix(pattern, path string) bool {
	if matchGlob(pattern, path) {
		return true
	}
	parts := strings.Split(path, "/")
	for i := 1; i < len(parts); i++ {
		if matchGlob(pattern, strings.Join(parts[:i], "/")) {
			return true
		}
	}
	return false
}

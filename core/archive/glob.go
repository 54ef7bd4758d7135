package archive

import (
	"path"
	"strings"

	coreerrors "github.com/davidahmann/attest/core/errors"
)

// Match reports whether the slash separated name matches pattern. Segments follow
// path.Match; a "**" segment matches zero or more whole segments.
func Match(pattern, name string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

func matchSegments(pattern, name []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			rest := pattern[1:]
			for skip := 0; skip <= len(name); skip++ {
				if matchSegments(rest, name[skip:]) {
					return true
				}
			}
			return false
		}
		if len(name) == 0 {
			return false
		}
		ok, err := path.Match(pattern[0], name[0])
		if err != nil || !ok {
			return false
		}
		pattern = pattern[1:]
		name = name[1:]
	}
	return len(name) == 0
}

// matchTree reports whether name or any of its parent directories matches one of
// patterns, so including "tools" includes everything below it.
func matchTree(patterns []string, name string) bool {
	for candidate := name; candidate != "." && candidate != ""; candidate = path.Dir(candidate) {
		if matchAny(patterns, candidate) {
			return true
		}
	}
	return false
}

func matchAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if Match(pattern, name) {
			return true
		}
	}
	return false
}

// ValidatePatterns rejects malformed globs and globs that could escape the root.
func ValidatePatterns(patterns []string) error {
	for _, pattern := range patterns {
		if strings.TrimSpace(pattern) == "" {
			return coreerrors.InvalidConfiguration("empty glob pattern")
		}
		if strings.HasPrefix(pattern, "/") || strings.Contains(pattern, `\`) {
			return coreerrors.InvalidConfiguration("glob %q must be a slash separated path relative to the root", pattern)
		}
		for _, segment := range strings.Split(pattern, "/") {
			if segment == ".." {
				return coreerrors.InvalidConfiguration("glob %q must not contain '..'", pattern)
			}
			if _, err := path.Match(segment, ""); err != nil {
				return coreerrors.InvalidConfiguration("glob %q: %v", pattern, err)
			}
		}
	}
	return nil
}

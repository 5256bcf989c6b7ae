package local

import (
	"path"
	"strings"
)

// isExcluded reports whether the slash-separated relative path rel matches
// any pattern. Pattern forms:
//
//	*.tmp          glob against the base name
//	build/         a directory of that name at any depth, and everything under it
//	logs/*.log     glob against the whole relative path, or its trailing components
//	**/cache       glob against any single component, at any depth
func isExcluded(rel string, isDir bool, patterns []string) bool {
	base := path.Base(rel)

	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		pattern = strings.ReplaceAll(pattern, "\\", "/")

		if dir, ok := strings.CutSuffix(pattern, "/"); ok {
			if matchesDirectory(rel, isDir, dir) {
				return true
			}
			continue
		}

		if sub, ok := strings.CutPrefix(pattern, "**/"); ok {
			if matchesAnyComponent(rel, sub) {
				return true
			}
			continue
		}

		if strings.Contains(pattern, "/") {
			if matchesTrailing(rel, pattern) {
				return true
			}
			continue
		}

		if glob(pattern, base) {
			return true
		}
	}

	return false
}

func matchesDirectory(rel string, isDir bool, dir string) bool {
	parts := strings.Split(rel, "/")
	// The final component names a directory only when rel itself is one.
	last := len(parts) - 1
	if !isDir {
		last--
	}
	for i := 0; i <= last; i++ {
		if glob(dir, parts[i]) || glob(dir, strings.Join(parts[:i+1], "/")) {
			return true
		}
	}
	return false
}

func matchesAnyComponent(rel, pattern string) bool {
	if matchesTrailing(rel, pattern) {
		return true
	}
	for _, part := range strings.Split(rel, "/") {
		if glob(pattern, part) {
			return true
		}
	}
	return false
}

// matchesTrailing globs pattern against rel and each of its trailing
// component sequences.
func matchesTrailing(rel, pattern string) bool {
	parts := strings.Split(rel, "/")
	for i := range parts {
		if glob(pattern, strings.Join(parts[i:], "/")) {
			return true
		}
	}
	return false
}

func glob(pattern, name string) bool {
	matched, _ := path.Match(pattern, name)
	return matched
}

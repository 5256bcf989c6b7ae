// Package matcher selects hosts for per-step host filters.
//
// A filter entry is either an exact host name or a glob pattern
// (web*.example.com, db?.internal, app[12].example.com) using path.Match
// syntax. Matching is case-insensitive, as host names are.
package matcher

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrBadPattern is returned for malformed glob patterns.
var ErrBadPattern = errors.New("bad host pattern")

// IsPattern reports whether s contains glob metacharacters.
func IsPattern(s string) bool {
	return strings.ContainsAny(s, "*?[")
}

// Validate checks that pattern is a well-formed host name or glob.
func Validate(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("%w: empty", ErrBadPattern)
	}
	if _, err := path.Match(strings.ToLower(pattern), ""); err != nil {
		return fmt.Errorf("%w: %q", ErrBadPattern, pattern)
	}
	return nil
}

// Match reports whether host matches pattern. Malformed patterns match
// nothing.
func Match(pattern, host string) bool {
	pattern = strings.ToLower(pattern)
	host = strings.ToLower(host)

	if !IsPattern(pattern) {
		return pattern == host
	}
	ok, err := path.Match(pattern, host)
	return err == nil && ok
}

// Any reports whether host matches any of patterns. An empty filter matches
// every host.
func Any(patterns []string, host string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if Match(p, host) {
			return true
		}
	}
	return false
}

// Select returns the hosts matched by pattern, preserving order.
func Select(pattern string, hosts []string) []string {
	var out []string
	for _, h := range hosts {
		if Match(pattern, h) {
			out = append(out, h)
		}
	}
	return out
}

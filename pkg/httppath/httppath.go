// Package httppath holds the path rules shared by the access, rate limit and
// audit stages so that they all see a request path the same way.
package httppath

import (
	"path"
	"strings"
)

// Canonical reports whether p is rooted and already in cleaned form. A single
// trailing slash is allowed. Paths with empty, "." or ".." segments are not
// canonical because prefix rules would read them differently from the
// service that finally resolves them.
func Canonical(p string) bool {
	if p == "" || p[0] != '/' {
		return false
	}
	cleaned := path.Clean(p)
	return cleaned == p || cleaned+"/" == p
}

// HasPrefix reports whether p starts with prefix, ignoring ASCII case
func HasPrefix(p, prefix string) bool {
	return len(p) >= len(prefix) && strings.EqualFold(p[:len(prefix)], prefix)
}

// Key folds p to the form rule counters and lookups are keyed by
func Key(p string) string {
	return strings.ToLower(p)
}

// Package authz implements the bridge's authorization policy: a
// case-insensitive, whitespace-trimmed membership test against a
// fixed allow-list loaded once at startup.
package authz

import (
	"log/slog"
	"strings"
)

// List is an immutable allow-list of identifiers. A zero-value List
// denies everything.
type List struct {
	allowed map[string]struct{}
}

// New builds a List from the given identifiers. Each entry is trimmed
// and lowercased before being stored so Allowed can compare without
// re-normalizing on every call. An empty identifiers slice produces a
// List that denies every query; the caller is expected to log a
// startup warning in that case (New itself does, via logger, if one is
// supplied).
func New(identifiers []string, logger *slog.Logger) *List {
	l := &List{allowed: make(map[string]struct{}, len(identifiers))}
	for _, id := range identifiers {
		norm := normalize(id)
		if norm == "" {
			continue
		}
		l.allowed[norm] = struct{}{}
	}

	if len(l.allowed) == 0 && logger != nil {
		logger.Warn("authorization whitelist is empty; all senders will be denied")
	}

	return l
}

// Allowed reports whether identifier is a member of the list. The
// comparison trims whitespace and ignores case.
func (l *List) Allowed(identifier string) bool {
	if l == nil {
		return false
	}
	_, ok := l.allowed[normalize(identifier)]
	return ok
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

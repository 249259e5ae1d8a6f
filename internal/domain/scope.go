package domain

import "strings"

// Scope selects one registry, normally the normalized git remote of a repository
// (e.g. "github.com/owner/repo").
type Scope string

func NewScope(raw string) Scope {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimSuffix(s, ".git")
	return Scope(strings.TrimSuffix(s, "/"))
}

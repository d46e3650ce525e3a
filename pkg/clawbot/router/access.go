package router

import "strings"

// Access decides who may talk to the assistant. An empty allowlist lets
// everyone in.
//
// Entries are either "<channel>:<id>" (one identity on one channel) or a
// bare id, which matches that id on every channel.
type Access struct {
	full map[string]bool
	bare map[string]bool
}

// NewAccess builds an allowlist from config entries.
func NewAccess(allowed []string) *Access {
	a := &Access{full: map[string]bool{}, bare: map[string]bool{}}
	for _, entry := range allowed {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if strings.Contains(entry, ":") {
			a.full[entry] = true
		} else {
			a.bare[entry] = true
		}
	}
	return a
}

// Open reports whether the allowlist is empty.
func (a *Access) Open() bool {
	return len(a.full) == 0 && len(a.bare) == 0
}

// Allowed checks a "<channel>:<id>" user id.
func (a *Access) Allowed(userID string) bool {
	if a.Open() {
		return true
	}
	id := strings.ToLower(strings.TrimSpace(userID))
	if a.full[id] {
		return true
	}
	_, bare, found := strings.Cut(id, ":")
	if !found {
		bare = id
	}
	return a.bare[bare]
}

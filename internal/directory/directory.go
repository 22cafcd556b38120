// Package directory keeps the users a transport has seen so commands can
// tell known mentions apart and replies can show display names.
package directory

import (
	"strings"
	"sync"
)

// User is a directory entry.
type User struct {
	ID          string
	DisplayName string
	Username    string
}

// Directory is an in-memory user directory, safe for concurrent use.
type Directory struct {
	mu         sync.RWMutex
	users      map[string]User
	byUsername map[string]string
}

// New creates a directory seeded with users.
func New(seed ...User) *Directory {
	d := &Directory{
		users:      make(map[string]User),
		byUsername: make(map[string]string),
	}
	for _, u := range seed {
		d.Observe(u)
	}
	return d
}

// Observe records or refreshes a user. Empty fields keep their old values.
func (d *Directory) Observe(u User) {
	if u.ID == "" {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	old := d.users[u.ID]
	if u.DisplayName == "" {
		u.DisplayName = old.DisplayName
	}
	if u.Username == "" {
		u.Username = old.Username
	}
	if old.Username != "" && old.Username != u.Username {
		delete(d.byUsername, strings.ToLower(old.Username))
	}
	if u.Username != "" {
		d.byUsername[strings.ToLower(u.Username)] = u.ID
	}
	d.users[u.ID] = u
}

// Known reports whether id has been observed.
func (d *Directory) Known(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.users[id]
	return ok
}

// Resolve returns the display name of id, falling back to the username.
func (d *Directory) Resolve(id string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[id]
	if !ok {
		return "", false
	}
	switch {
	case u.DisplayName != "":
		return u.DisplayName, true
	case u.Username != "":
		return u.Username, true
	default:
		return "", false
	}
}

// LookupUsername returns the ID of the user with the given username.
// A leading @ is ignored and matching is case-insensitive.
func (d *Directory) LookupUsername(username string) (string, bool) {
	key := strings.ToLower(strings.TrimPrefix(username, "@"))

	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byUsername[key]
	return id, ok
}

// DisplayName resolves id, or returns id itself when it is unknown.
func (d *Directory) DisplayName(id string) string {
	if name, ok := d.Resolve(id); ok {
		return name
	}
	return id
}

// Lookup returns the stored entry for id.
func (d *Directory) Lookup(id string) (User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	return u, ok
}

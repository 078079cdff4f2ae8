package server

import (
	"sort"
	"sync"
)

// Directory maps logged-in usernames to their sessions. It enforces
// single-session-per-user: a username registers at most one session at
// a time.
type Directory struct {
	mu     sync.RWMutex
	online map[string]*Session
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{online: make(map[string]*Session)}
}

// Register binds username to sess. Returns false if the username is
// already bound to another session.
func (d *Directory) Register(username string, sess *Session) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, taken := d.online[username]; taken {
		return false
	}
	d.online[username] = sess
	return true
}

// Unregister removes username regardless of which session holds it.
func (d *Directory) Unregister(username string) {
	d.mu.Lock()
	delete(d.online, username)
	d.mu.Unlock()
}

// UnregisterSession removes username only if sess is the session bound
// to it, and reports whether a removal happened. The bool lets callers
// broadcast the offline status exactly once even when logout and
// connection teardown race.
func (d *Directory) UnregisterSession(username string, sess *Session) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	current, ok := d.online[username]
	if !ok || current != sess {
		return false
	}
	delete(d.online, username)
	return true
}

// Lookup returns the session bound to username.
func (d *Directory) Lookup(username string) (*Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	sess, ok := d.online[username]
	return sess, ok
}

// Online returns the logged-in usernames, sorted.
func (d *Directory) Online() []string {
	d.mu.RLock()
	names := make([]string, 0, len(d.online))
	for name := range d.online {
		names = append(names, name)
	}
	d.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Count returns the number of logged-in users.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.online)
}

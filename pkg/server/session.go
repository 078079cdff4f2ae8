package server

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parley-chat/parley/pkg/protocol"
)

// Session represents one active client connection.
type Session struct {
	ID         uint64
	Conn       *SafeConn // Connection with automatic write synchronization
	RemoteAddr string

	// Buffer reassembles frames from the byte stream. Only the
	// session's receive loop touches it.
	Buffer protocol.Buffer

	mu            sync.RWMutex // Protects the identity fields below
	username      string
	displayName   string
	role          int
	authenticated bool

	active  atomic.Bool
	cleanup sync.Once

	// Sliding-window chat rate limit, receive loop only.
	sendTimes []time.Time
}

// Authenticated reports whether the session has completed login.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// Username returns the logged-in username, or "" before login.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// DisplayName returns the logged-in display name, or "" before login.
func (s *Session) DisplayName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.displayName
}

// Role returns the cached role from login time. Moderation checks that
// must see current state read the store instead.
func (s *Session) Role() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

// SetIdentity marks the session authenticated as username.
func (s *Session) SetIdentity(username, displayName string, role int) {
	s.mu.Lock()
	s.username = username
	s.displayName = displayName
	s.role = role
	s.authenticated = true
	s.mu.Unlock()
}

// ClearIdentity reverts the session to the unauthenticated state. The
// connection stays open; the client may log in again.
func (s *Session) ClearIdentity() {
	s.mu.Lock()
	s.username = ""
	s.displayName = ""
	s.role = 0
	s.authenticated = false
	s.mu.Unlock()
}

// Active reports whether the session is still serving traffic.
func (s *Session) Active() bool {
	return s.active.Load()
}

// Deactivate marks the session as shut down. Idempotent.
func (s *Session) Deactivate() {
	s.active.Store(false)
}

// allowSend records a chat send attempt against the sliding window and
// reports whether it is within limit messages per window. Called only
// from the session's receive loop.
func (s *Session) allowSend(limit int, window time.Duration, now time.Time) bool {
	if limit <= 0 {
		return true
	}

	cutoff := now.Add(-window)
	kept := s.sendTimes[:0]
	for _, t := range s.sendTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.sendTimes = kept

	if len(s.sendTimes) >= limit {
		return false
	}
	s.sendTimes = append(s.sendTimes, now)
	return true
}

// SessionManager tracks all live sessions.
type SessionManager struct {
	sessions map[uint64]*Session
	nextID   uint64
	mu       sync.RWMutex
	metrics  *Metrics
}

// NewSessionManager creates an empty session registry.
func NewSessionManager(metrics *Metrics) *SessionManager {
	return &SessionManager{
		sessions: make(map[uint64]*Session),
		metrics:  metrics,
	}
}

// CreateSession registers a new session for conn.
func (sm *SessionManager) CreateSession(conn net.Conn) *Session {
	sessionID := atomic.AddUint64(&sm.nextID, 1)

	sess := &Session{
		ID:         sessionID,
		Conn:       NewSafeConn(conn),
		RemoteAddr: conn.RemoteAddr().String(),
	}
	sess.active.Store(true)

	sm.mu.Lock()
	sm.sessions[sessionID] = sess
	sessionCount := len(sm.sessions)
	sm.mu.Unlock()

	if sm.metrics != nil {
		sm.metrics.RecordActiveSessions(sessionCount)
		sm.metrics.RecordSessionCreated()
	}

	return sess
}

// GetSession returns a session by ID.
func (sm *SessionManager) GetSession(sessionID uint64) (*Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	sess, ok := sm.sessions[sessionID]
	return sess, ok
}

// AllSessions returns a snapshot of the live sessions.
func (sm *SessionManager) AllSessions() []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	sessions := make([]*Session, 0, len(sm.sessions))
	for _, sess := range sm.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

// RemoveSession drops a session from the registry and closes its
// connection. Safe to call more than once for the same ID.
func (sm *SessionManager) RemoveSession(sessionID uint64) {
	sm.mu.Lock()
	sess, ok := sm.sessions[sessionID]
	if !ok {
		sm.mu.Unlock()
		return
	}
	delete(sm.sessions, sessionID)
	sessionCount := len(sm.sessions)
	sm.mu.Unlock()

	if sm.metrics != nil {
		sm.metrics.RecordActiveSessions(sessionCount)
		sm.metrics.RecordSessionDisconnected()
	}

	sess.Conn.Close()
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CloseAll closes every session. Used during shutdown.
func (sm *SessionManager) CloseAll() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for _, sess := range sm.sessions {
		sess.Deactivate()
		sess.Conn.Close()
	}
	sm.sessions = make(map[uint64]*Session)
}

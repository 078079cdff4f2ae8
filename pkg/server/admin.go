package server

import (
	"time"

	"github.com/parley-chat/parley/pkg/protocol"
)

// Operator surface: programmatic server-side actions that do not ride
// the wire protocol (embedding binaries, ops consoles). All speak as
// ServerSender.

// BroadcastServerMessage sends a global chat message from the server
// operator to every authenticated session.
func (s *Server) BroadcastServerMessage(content string) {
	msg := protocol.NewGlobalMessage(ServerSender, content, time.Now())
	s.broadcast(msg, nil)
}

// SendAsServer delivers a private message from the server operator.
// Returns false when username is not online.
func (s *Server) SendAsServer(username, content string) bool {
	msg := protocol.NewPrivateMessage(ServerSender, username, content, time.Now())
	return s.sendToUser(username, msg)
}

// ConnectedSession describes one live connection for operator views.
type ConnectedSession struct {
	ID            uint64
	RemoteAddr    string
	Username      string
	Authenticated bool
}

// ConnectedSessions returns a snapshot of every live connection,
// including ones that have not logged in yet.
func (s *Server) ConnectedSessions() []ConnectedSession {
	sessions := s.sessions.AllSessions()

	out := make([]ConnectedSession, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, ConnectedSession{
			ID:            sess.ID,
			RemoteAddr:    sess.RemoteAddr,
			Username:      sess.Username(),
			Authenticated: sess.Authenticated(),
		})
	}
	return out
}

// AllAccountsWithStatus returns every account joined with its current
// online state, newest account first.
func (s *Server) AllAccountsWithStatus() ([]protocol.UserSummary, error) {
	accounts, err := s.db.AllUsers()
	if err != nil {
		return nil, err
	}

	summaries := make([]protocol.UserSummary, 0, len(accounts))
	for _, acct := range accounts {
		_, online := s.dir.Lookup(acct.Username)
		summaries = append(summaries, accountSummary(acct, online))
	}
	return summaries, nil
}

// OnlineCount returns the number of logged-in users.
func (s *Server) OnlineCount() int {
	return s.dir.Count()
}

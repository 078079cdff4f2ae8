package client

import "github.com/parley-chat/parley/pkg/protocol"

// Event is a typed occurrence delivered on Conn.Events(). Consumers
// switch on the concrete type.
type Event interface{ isEvent() }

// LoginSuccess reports a completed login with the server's view of the
// account.
type LoginSuccess struct {
	Result protocol.LoginResult
}

// OkEvent is a generic success reply.
type OkEvent struct {
	Content string
	Extra   string
}

// ErrorEvent is a rejection reply from the server.
type ErrorEvent struct {
	Content string
}

// Disconnected reports that the connection is gone. Err is nil on a
// clean local Close.
type Disconnected struct {
	Err error
}

// GlobalMessage is a room-wide chat message.
type GlobalMessage struct {
	Sender    string
	Content   string
	Timestamp string
}

// PrivateMessage is a direct chat message, including the local echo of
// messages this client sent.
type PrivateMessage struct {
	Sender    string
	Receiver  string
	Content   string
	Timestamp string
}

// OnlineList carries the server's current logged-in usernames.
type OnlineList struct {
	Users []string
}

// UserStatus reports a presence change for one user.
type UserStatus struct {
	Username string
	Status   string // protocol.StatusOnline or protocol.StatusOffline
}

// UserInfo carries one account summary.
type UserInfo struct {
	Summary protocol.UserSummary
}

// UserList carries account summaries from GET_ALL_USERS.
type UserList struct {
	Users []protocol.UserSummary
}

// NameList carries usernames from the banned/muted list queries.
type NameList struct {
	Kind  protocol.MessageType // TypeGetBannedList or TypeGetMutedList
	Users []string
}

// Kicked reports this client was kicked; the server closes the
// connection right after.
type Kicked struct {
	Content string
}

// Banned reports this client was banned; the server closes the
// connection right after.
type Banned struct {
	Content string
}

// Muted reports this client was muted.
type Muted struct {
	Content string
}

// Unmuted reports this client was unmuted.
type Unmuted struct {
	Content string
}

func (LoginSuccess) isEvent()   {}
func (OkEvent) isEvent()        {}
func (ErrorEvent) isEvent()     {}
func (Disconnected) isEvent()   {}
func (GlobalMessage) isEvent()  {}
func (PrivateMessage) isEvent() {}
func (OnlineList) isEvent()     {}
func (UserStatus) isEvent()     {}
func (UserInfo) isEvent()       {}
func (UserList) isEvent()       {}
func (NameList) isEvent()       {}
func (Kicked) isEvent()         {}
func (Banned) isEvent()         {}
func (Muted) isEvent()          {}
func (Unmuted) isEvent()        {}

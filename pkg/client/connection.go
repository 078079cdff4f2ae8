// Package client is the client half of the wire protocol: a connection
// that turns inbound frames into typed events and exposes command
// methods for every request the server understands.
package client

import (
	"net"
	"sync"
	"time"

	"github.com/parley-chat/parley/pkg/protocol"
)

const pingInterval = 30 * time.Second

// Conn is a live client connection. Commands may be called from any
// goroutine; events arrive on the Events channel until Disconnected.
type Conn struct {
	conn net.Conn

	writeMu sync.Mutex
	events  chan Event

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to a server over TCP.
func Dial(addr string) (*Conn, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewConn(conn), nil
}

// NewConn wraps an established connection (TCP, WebSocket adapter, or
// a test pipe) and starts its read and keepalive loops.
func NewConn(conn net.Conn) *Conn {
	c := &Conn{
		conn:   conn,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	go c.pingLoop()
	return c
}

// Events returns the inbound event stream. The channel closes after a
// Disconnected event is delivered.
func (c *Conn) Events() <-chan Event {
	return c.events
}

// Close tears the connection down. Idempotent.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *Conn) send(msg *protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.EncodeFrame(c.conn, msg)
}

func (c *Conn) readLoop() {
	var buffer protocol.Buffer
	buf := make([]byte, 4096)

	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			select {
			case <-c.done:
				err = nil
			default:
			}
			c.events <- Disconnected{Err: err}
			close(c.events)
			c.Close()
			return
		}
		buffer.Append(buf[:n])

		for buffer.HasCompleteFrame() {
			msg, err := buffer.ExtractFrame()
			if err != nil {
				c.events <- Disconnected{Err: err}
				close(c.events)
				c.Close()
				return
			}
			if event := translate(msg); event != nil {
				c.events <- event
			}
		}
	}
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.send(&protocol.Message{Type: protocol.TypePing}); err != nil {
				return
			}
		}
	}
}

// translate maps one inbound message to an event. Returns nil for
// messages the client swallows (PONG).
func translate(msg *protocol.Message) Event {
	switch msg.Type {
	case protocol.TypeOK:
		if msg.Extra != "" {
			var result protocol.LoginResult
			if err := msg.DecodeExtra(&result); err == nil && result.Username != "" {
				return LoginSuccess{Result: result}
			}
		}
		return OkEvent{Content: msg.Content, Extra: msg.Extra}
	case protocol.TypeError:
		return ErrorEvent{Content: msg.Content}
	case protocol.TypeMsgGlobal:
		return GlobalMessage{Sender: msg.Sender, Content: msg.Content, Timestamp: msg.Timestamp}
	case protocol.TypeMsgPrivate:
		return PrivateMessage{Sender: msg.Sender, Receiver: msg.Receiver, Content: msg.Content, Timestamp: msg.Timestamp}
	case protocol.TypeOnlineList:
		var users []string
		_ = msg.DecodeExtra(&users)
		return OnlineList{Users: users}
	case protocol.TypeUserStatus:
		var status protocol.StatusUpdate
		_ = msg.DecodeExtra(&status)
		return UserStatus{Username: msg.Sender, Status: status.Status}
	case protocol.TypeUserInfo:
		var summary protocol.UserSummary
		_ = msg.DecodeExtra(&summary)
		return UserInfo{Summary: summary}
	case protocol.TypeGetAllUsers:
		var users []protocol.UserSummary
		_ = msg.DecodeExtra(&users)
		return UserList{Users: users}
	case protocol.TypeGetBannedList, protocol.TypeGetMutedList:
		var users []string
		_ = msg.DecodeExtra(&users)
		return NameList{Kind: msg.Type, Users: users}
	case protocol.TypeKicked:
		return Kicked{Content: msg.Content}
	case protocol.TypeBanned:
		return Banned{Content: msg.Content}
	case protocol.TypeMuted:
		return Muted{Content: msg.Content}
	case protocol.TypeUnmuted:
		return Unmuted{Content: msg.Content}
	case protocol.TypePong:
		return nil
	default:
		return nil
	}
}

// Register creates an account.
func (c *Conn) Register(username, password string) error {
	msg, err := protocol.NewCredentialMessage(protocol.TypeRegister, username, password)
	if err != nil {
		return err
	}
	return c.send(msg)
}

// Login authenticates the connection.
func (c *Conn) Login(username, password string) error {
	msg, err := protocol.NewCredentialMessage(protocol.TypeLogin, username, password)
	if err != nil {
		return err
	}
	return c.send(msg)
}

// Logout returns the connection to the unauthenticated state.
func (c *Conn) Logout() error {
	return c.send(&protocol.Message{Type: protocol.TypeLogout})
}

// ChangePassword replaces the account password.
func (c *Conn) ChangePassword(oldPassword, newPassword string) error {
	msg, err := protocol.NewPasswordChangeMessage(oldPassword, newPassword)
	if err != nil {
		return err
	}
	return c.send(msg)
}

// SendGlobal sends a room-wide chat message.
func (c *Conn) SendGlobal(content string) error {
	return c.send(&protocol.Message{Type: protocol.TypeMsgGlobal, Content: content})
}

// SendPrivate sends a direct message to receiver.
func (c *Conn) SendPrivate(receiver, content string) error {
	return c.send(&protocol.Message{Type: protocol.TypeMsgPrivate, Receiver: receiver, Content: content})
}

// RequestOnlineList asks for the current online usernames.
func (c *Conn) RequestOnlineList() error {
	return c.send(&protocol.Message{Type: protocol.TypeOnlineList})
}

// RequestUserInfo asks for one account's summary. Empty username means
// the logged-in account.
func (c *Conn) RequestUserInfo(username string) error {
	return c.send(&protocol.Message{Type: protocol.TypeUserInfo, Receiver: username})
}

// Kick disconnects an online user. Admin only.
func (c *Conn) Kick(username string) error {
	return c.send(&protocol.Message{Type: protocol.TypeKickUser, Receiver: username})
}

// Ban bans a user and disconnects them if online. Admin only.
func (c *Conn) Ban(username string) error {
	return c.send(&protocol.Message{Type: protocol.TypeBanUser, Receiver: username})
}

// Unban lifts a ban. Admin only.
func (c *Conn) Unban(username string) error {
	return c.send(&protocol.Message{Type: protocol.TypeUnbanUser, Receiver: username})
}

// Mute silences a user. Admin only.
func (c *Conn) Mute(username string) error {
	return c.send(&protocol.Message{Type: protocol.TypeMuteUser, Receiver: username})
}

// Unmute lifts a mute. Admin only.
func (c *Conn) Unmute(username string) error {
	return c.send(&protocol.Message{Type: protocol.TypeUnmuteUser, Receiver: username})
}

// Promote grants the admin role. Admin only.
func (c *Conn) Promote(username string) error {
	return c.send(&protocol.Message{Type: protocol.TypePromoteUser, Receiver: username})
}

// Demote revokes the admin role. Admin only.
func (c *Conn) Demote(username string) error {
	return c.send(&protocol.Message{Type: protocol.TypeDemoteUser, Receiver: username})
}

// RequestAllUsers asks for every account with status. Admin only.
func (c *Conn) RequestAllUsers() error {
	return c.send(&protocol.Message{Type: protocol.TypeGetAllUsers})
}

// RequestBannedList asks for the banned usernames. Admin only.
func (c *Conn) RequestBannedList() error {
	return c.send(&protocol.Message{Type: protocol.TypeGetBannedList})
}

// RequestMutedList asks for the muted usernames. Admin only.
func (c *Conn) RequestMutedList() error {
	return c.send(&protocol.Message{Type: protocol.TypeGetMutedList})
}

// Ping sends a keepalive immediately.
func (c *Conn) Ping() error {
	return c.send(&protocol.Message{Type: protocol.TypePing})
}

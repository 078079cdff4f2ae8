package server

import (
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/pkg/database"
	"github.com/parley-chat/parley/pkg/protocol"
)

// End-to-end tests against a real listener: every assertion travels
// through the full accept loop, reassembly buffer, and dispatcher.

func startTestServer(t *testing.T, mutate func(*ServerConfig)) *Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := database.Open(filepath.Join(t.TempDir(), "journey.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := DefaultConfig()
	cfg.TCPPort = 0 // ephemeral port
	cfg.HTTPPort = 0
	cfg.MessageRateLimit = 100
	if mutate != nil {
		mutate(&cfg)
	}

	// nil metrics: no global prometheus registration from tests.
	srv := NewServer(db, cfg, logger, nil)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	return srv
}

type testClient struct {
	t    *testing.T
	conn net.Conn
}

func dialTestServer(t *testing.T, srv *Server) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(msg *protocol.Message) {
	c.t.Helper()
	require.NoError(c.t, protocol.EncodeFrame(c.conn, msg))
}

func (c *testClient) recv() (*protocol.Message, error) {
	c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	return protocol.DecodeFrame(c.conn)
}

// recvType reads until a message of the wanted type arrives, skipping
// interleaved broadcasts (presence updates, chat fan-out).
func (c *testClient) recvType(want protocol.MessageType) *protocol.Message {
	c.t.Helper()
	for i := 0; i < 20; i++ {
		msg, err := c.recv()
		require.NoError(c.t, err, "waiting for %s", want)
		if msg.Type == want {
			return msg
		}
	}
	c.t.Fatalf("no %s within 20 messages", want)
	return nil
}

func (c *testClient) register(username, password string) {
	c.t.Helper()
	msg, err := protocol.NewCredentialMessage(protocol.TypeRegister, username, password)
	require.NoError(c.t, err)
	c.send(msg)
	reply := c.recvType(protocol.TypeOK)
	assert.Equal(c.t, "Registration successful", reply.Content)
}

func (c *testClient) login(username, password string) *protocol.Message {
	c.t.Helper()
	msg, err := protocol.NewCredentialMessage(protocol.TypeLogin, username, password)
	require.NoError(c.t, err)
	c.send(msg)
	reply := c.recvType(protocol.TypeOK)
	// Login pushes the current roster; consume it so individual tests
	// see only the traffic they cause.
	c.recvType(protocol.TypeOnlineList)
	return reply
}

func (c *testClient) loginExpectError(username, password string) *protocol.Message {
	c.t.Helper()
	msg, err := protocol.NewCredentialMessage(protocol.TypeLogin, username, password)
	require.NoError(c.t, err)
	c.send(msg)
	return c.recvType(protocol.TypeError)
}

func TestJourneyRegisterLoginGlobalChat(t *testing.T) {
	srv := startTestServer(t, nil)

	alice := dialTestServer(t, srv)
	bob := dialTestServer(t, srv)

	alice.register("alice", "secret1")
	bob.register("bobby", "secret2")

	reply := alice.login("alice", "secret1")
	assert.Equal(t, "Login successful", reply.Content)

	var result protocol.LoginResult
	require.NoError(t, reply.DecodeExtra(&result))
	assert.Equal(t, "alice", result.Username)
	assert.Equal(t, database.RoleMember, result.Role)

	bob.login("bobby", "secret2")

	// Alice sees bob come online.
	status := alice.recvType(protocol.TypeUserStatus)
	assert.Equal(t, "bobby", status.Sender)
	var update protocol.StatusUpdate
	require.NoError(t, status.DecodeExtra(&update))
	assert.Equal(t, protocol.StatusOnline, update.Status)

	alice.send(&protocol.Message{Type: protocol.TypeMsgGlobal, Content: "hello room"})

	// Both room members receive it, sender included.
	got := bob.recvType(protocol.TypeMsgGlobal)
	assert.Equal(t, "alice", got.Sender)
	assert.Equal(t, "hello room", got.Content)
	assert.NotEmpty(t, got.Timestamp)

	echo := alice.recvType(protocol.TypeMsgGlobal)
	assert.Equal(t, "hello room", echo.Content)
}

func TestJourneyPrivateMessage(t *testing.T) {
	srv := startTestServer(t, nil)

	alice := dialTestServer(t, srv)
	bob := dialTestServer(t, srv)

	alice.register("alice", "secret1")
	bob.register("bobby", "secret2")
	alice.login("alice", "secret1")
	bob.login("bobby", "secret2")

	alice.send(&protocol.Message{Type: protocol.TypeMsgPrivate, Receiver: "bobby", Content: "psst"})

	got := bob.recvType(protocol.TypeMsgPrivate)
	assert.Equal(t, "alice", got.Sender)
	assert.Equal(t, "bobby", got.Receiver)
	assert.Equal(t, "psst", got.Content)

	// The sender gets an echo for local history.
	echo := alice.recvType(protocol.TypeMsgPrivate)
	assert.Equal(t, "psst", echo.Content)

	// Offline target.
	alice.send(&protocol.Message{Type: protocol.TypeMsgPrivate, Receiver: "ghost", Content: "anyone?"})
	errMsg := alice.recvType(protocol.TypeError)
	assert.Equal(t, "User not online: ghost", errMsg.Content)

	// Self target.
	alice.send(&protocol.Message{Type: protocol.TypeMsgPrivate, Receiver: "alice", Content: "me"})
	errMsg = alice.recvType(protocol.TypeError)
	assert.Equal(t, "Cannot send message to yourself", errMsg.Content)
}

func TestJourneyDuplicateLogin(t *testing.T) {
	srv := startTestServer(t, nil)

	first := dialTestServer(t, srv)
	second := dialTestServer(t, srv)

	first.register("alice", "secret1")
	first.login("alice", "secret1")

	errMsg := second.loginExpectError("alice", "secret1")
	assert.Equal(t, "User already logged in from another location", errMsg.Content)

	// After the first logs out, the name frees up.
	first.send(&protocol.Message{Type: protocol.TypeLogout})
	reply := first.recvType(protocol.TypeOK)
	assert.Equal(t, "Logged out successfully", reply.Content)

	reply = second.login("alice", "secret1")
	assert.Equal(t, "Login successful", reply.Content)
}

func TestJourneyAuthRejections(t *testing.T) {
	srv := startTestServer(t, nil)
	c := dialTestServer(t, srv)

	// Chat before login.
	c.send(&protocol.Message{Type: protocol.TypeMsgGlobal, Content: "hi"})
	errMsg := c.recvType(protocol.TypeError)
	assert.Equal(t, "Must be logged in to send messages", errMsg.Content)

	// Bad credential shapes.
	msg, err := protocol.NewCredentialMessage(protocol.TypeRegister, "ab", "secret1")
	require.NoError(t, err)
	c.send(msg)
	errMsg = c.recvType(protocol.TypeError)
	assert.Equal(t, "Username must be 3-20 characters", errMsg.Content)

	msg, err = protocol.NewCredentialMessage(protocol.TypeRegister, "alice", "abc")
	require.NoError(t, err)
	c.send(msg)
	errMsg = c.recvType(protocol.TypeError)
	assert.Equal(t, "Password must be at least 4 characters", errMsg.Content)

	c.send(&protocol.Message{Type: protocol.TypeLogin, Content: "not json"})
	errMsg = c.recvType(protocol.TypeError)
	assert.Equal(t, "Invalid request format", errMsg.Content)

	// Wrong password.
	c.register("alice", "secret1")
	errMsg = c.loginExpectError("alice", "wrong")
	assert.Equal(t, "Invalid username or password", errMsg.Content)

	// Unknown type.
	c.send(&protocol.Message{Type: protocol.MessageType(999)})
	errMsg = c.recvType(protocol.TypeError)
	assert.Equal(t, "Unknown command", errMsg.Content)
}

func TestJourneyKick(t *testing.T) {
	srv := startTestServer(t, nil)

	admin := dialTestServer(t, srv)
	target := dialTestServer(t, srv)

	target.register("victim", "secret1")
	target.login("victim", "secret1")
	admin.login("admin", "admin")

	admin.send(&protocol.Message{Type: protocol.TypeKickUser, Receiver: "victim"})

	notice := target.recvType(protocol.TypeKicked)
	assert.Equal(t, "You have been kicked by admin", notice.Content)

	reply := admin.recvType(protocol.TypeOK)
	assert.Equal(t, "User kicked: victim", reply.Content)

	// The target's connection dies shortly after the notice.
	require.Eventually(t, func() bool {
		_, err := target.recv()
		return err != nil
	}, 3*time.Second, 50*time.Millisecond)

	// Kicking an offline user fails.
	admin.send(&protocol.Message{Type: protocol.TypeKickUser, Receiver: "victim"})
	errMsg := admin.recvType(protocol.TypeError)
	assert.Equal(t, "User not online: victim", errMsg.Content)
}

func TestJourneyBanAndUnban(t *testing.T) {
	srv := startTestServer(t, nil)

	admin := dialTestServer(t, srv)
	target := dialTestServer(t, srv)

	target.register("victim", "secret1")
	target.login("victim", "secret1")
	admin.login("admin", "admin")

	admin.send(&protocol.Message{Type: protocol.TypeBanUser, Receiver: "victim"})

	notice := target.recvType(protocol.TypeBanned)
	assert.Equal(t, "You have been banned by admin", notice.Content)

	reply := admin.recvType(protocol.TypeOK)
	assert.Equal(t, "User banned: victim", reply.Content)

	// A banned account cannot log back in.
	again := dialTestServer(t, srv)
	errMsg := again.loginExpectError("victim", "secret1")
	assert.Equal(t, "Your account has been banned", errMsg.Content)

	// Unban restores access.
	admin.send(&protocol.Message{Type: protocol.TypeUnbanUser, Receiver: "victim"})
	reply = admin.recvType(protocol.TypeOK)
	assert.Equal(t, "User unbanned: victim", reply.Content)

	reply = again.login("victim", "secret1")
	assert.Equal(t, "Login successful", reply.Content)
}

func TestJourneyMuteAndUnmute(t *testing.T) {
	srv := startTestServer(t, nil)

	admin := dialTestServer(t, srv)
	target := dialTestServer(t, srv)

	target.register("chatty", "secret1")
	target.login("chatty", "secret1")
	admin.login("admin", "admin")

	admin.send(&protocol.Message{Type: protocol.TypeMuteUser, Receiver: "chatty"})

	notice := target.recvType(protocol.TypeMuted)
	assert.Equal(t, "You have been muted by admin", notice.Content)
	reply := admin.recvType(protocol.TypeOK)
	assert.Equal(t, "User muted: chatty", reply.Content)

	// Muted users cannot chat, but stay connected.
	target.send(&protocol.Message{Type: protocol.TypeMsgGlobal, Content: "hello?"})
	errMsg := target.recvType(protocol.TypeError)
	assert.Equal(t, "You are muted and cannot send messages", errMsg.Content)

	admin.send(&protocol.Message{Type: protocol.TypeUnmuteUser, Receiver: "chatty"})
	target.recvType(protocol.TypeUnmuted)
	admin.recvType(protocol.TypeOK)

	target.send(&protocol.Message{Type: protocol.TypeMsgGlobal, Content: "free again"})
	got := target.recvType(protocol.TypeMsgGlobal)
	assert.Equal(t, "free again", got.Content)
}

func TestJourneyAdminGate(t *testing.T) {
	srv := startTestServer(t, nil)

	member := dialTestServer(t, srv)
	member.register("member", "secret1")
	member.login("member", "secret1")

	for _, msgType := range []protocol.MessageType{
		protocol.TypeKickUser,
		protocol.TypeBanUser,
		protocol.TypeMuteUser,
		protocol.TypePromoteUser,
	} {
		member.send(&protocol.Message{Type: msgType, Receiver: "admin"})
		errMsg := member.recvType(protocol.TypeError)
		assert.Equal(t, "Admin privileges required", errMsg.Content)
	}

	member.send(&protocol.Message{Type: protocol.TypeGetAllUsers})
	errMsg := member.recvType(protocol.TypeError)
	assert.Equal(t, "Admin privileges required", errMsg.Content)
}

func TestJourneyPromoteAndDemote(t *testing.T) {
	srv := startTestServer(t, nil)

	admin := dialTestServer(t, srv)
	member := dialTestServer(t, srv)

	member.register("member", "secret1")
	member.login("member", "secret1")
	admin.login("admin", "admin")

	admin.send(&protocol.Message{Type: protocol.TypePromoteUser, Receiver: "member"})
	reply := admin.recvType(protocol.TypeOK)
	assert.Equal(t, "User promoted: member", reply.Content)

	// Freshly promoted admins can run moderation immediately.
	member.send(&protocol.Message{Type: protocol.TypeGetAllUsers})
	list := member.recvType(protocol.TypeGetAllUsers)
	var users []protocol.UserSummary
	require.NoError(t, list.DecodeExtra(&users))
	assert.Len(t, users, 2)

	admin.send(&protocol.Message{Type: protocol.TypePromoteUser, Receiver: "member"})
	errMsg := admin.recvType(protocol.TypeError)
	assert.Equal(t, "User is already an admin", errMsg.Content)

	admin.send(&protocol.Message{Type: protocol.TypeDemoteUser, Receiver: "member"})
	reply = admin.recvType(protocol.TypeOK)
	assert.Equal(t, "User demoted: member", reply.Content)

	admin.send(&protocol.Message{Type: protocol.TypeDemoteUser, Receiver: "admin"})
	errMsg = admin.recvType(protocol.TypeError)
	assert.Equal(t, "Cannot demote yourself", errMsg.Content)
}

func TestJourneyOnlineListAndUserInfo(t *testing.T) {
	srv := startTestServer(t, nil)

	alice := dialTestServer(t, srv)
	bob := dialTestServer(t, srv)

	alice.register("alice", "secret1")
	bob.register("bobby", "secret2")
	alice.login("alice", "secret1")
	bob.login("bobby", "secret2")

	alice.send(&protocol.Message{Type: protocol.TypeOnlineList})
	reply := alice.recvType(protocol.TypeOnlineList)
	var users []string
	require.NoError(t, reply.DecodeExtra(&users))
	assert.Equal(t, []string{"alice", "bobby"}, users)

	// Empty receiver means self.
	alice.send(&protocol.Message{Type: protocol.TypeUserInfo})
	info := alice.recvType(protocol.TypeUserInfo)
	var summary protocol.UserSummary
	require.NoError(t, info.DecodeExtra(&summary))
	assert.Equal(t, "alice", summary.Username)
	assert.True(t, summary.IsOnline)

	alice.send(&protocol.Message{Type: protocol.TypeUserInfo, Receiver: "ghost"})
	errMsg := alice.recvType(protocol.TypeError)
	assert.Equal(t, "User not found", errMsg.Content)
}

func TestJourneyChangePassword(t *testing.T) {
	srv := startTestServer(t, nil)

	c := dialTestServer(t, srv)
	c.register("alice", "secret1")
	c.login("alice", "secret1")

	msg, err := protocol.NewPasswordChangeMessage("wrong", "newpass")
	require.NoError(t, err)
	c.send(msg)
	errMsg := c.recvType(protocol.TypeError)
	assert.Equal(t, "Incorrect old password", errMsg.Content)

	msg, err = protocol.NewPasswordChangeMessage("secret1", "newpass")
	require.NoError(t, err)
	c.send(msg)
	reply := c.recvType(protocol.TypeOK)
	assert.Equal(t, "Password changed successfully", reply.Content)

	c.send(&protocol.Message{Type: protocol.TypeLogout})
	c.recvType(protocol.TypeOK)

	reply = c.login("alice", "newpass")
	assert.Equal(t, "Login successful", reply.Content)
}

func TestJourneyRateLimit(t *testing.T) {
	srv := startTestServer(t, func(cfg *ServerConfig) {
		cfg.MessageRateLimit = 2
	})

	c := dialTestServer(t, srv)
	c.register("alice", "secret1")
	c.login("alice", "secret1")

	c.send(&protocol.Message{Type: protocol.TypeMsgGlobal, Content: "one"})
	c.recvType(protocol.TypeMsgGlobal)
	c.send(&protocol.Message{Type: protocol.TypeMsgGlobal, Content: "two"})
	c.recvType(protocol.TypeMsgGlobal)

	c.send(&protocol.Message{Type: protocol.TypeMsgGlobal, Content: "three"})
	errMsg := c.recvType(protocol.TypeError)
	assert.Equal(t, "Rate limit exceeded. Please wait before sending more messages.", errMsg.Content)
}

func TestJourneyPingPong(t *testing.T) {
	srv := startTestServer(t, nil)

	c := dialTestServer(t, srv)
	// Keepalives need no authentication.
	c.send(&protocol.Message{Type: protocol.TypePing})
	c.recvType(protocol.TypePong)
}

func TestJourneyDisconnectBroadcastsOffline(t *testing.T) {
	srv := startTestServer(t, nil)

	alice := dialTestServer(t, srv)
	bob := dialTestServer(t, srv)

	alice.register("alice", "secret1")
	bob.register("bobby", "secret2")
	alice.login("alice", "secret1")
	bob.login("bobby", "secret2")

	alice.recvType(protocol.TypeUserStatus) // bobby online

	// Abrupt close, no LOGOUT.
	bob.conn.Close()

	status := alice.recvType(protocol.TypeUserStatus)
	assert.Equal(t, "bobby", status.Sender)
	var update protocol.StatusUpdate
	require.NoError(t, status.DecodeExtra(&update))
	assert.Equal(t, protocol.StatusOffline, update.Status)
}

func TestJourneyOversizedFrameDropsConnection(t *testing.T) {
	srv := startTestServer(t, nil)
	c := dialTestServer(t, srv)

	// Header declaring more than the maximum payload.
	header := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	_, err := c.conn.Write(header)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := c.recv()
		return err != nil
	}, 3*time.Second, 50*time.Millisecond)
}

package client_test

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/pkg/client"
	"github.com/parley-chat/parley/pkg/database"
	"github.com/parley-chat/parley/pkg/protocol"
	"github.com/parley-chat/parley/pkg/server"
)

func startServer(t *testing.T) *server.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := database.Open(filepath.Join(t.TempDir(), "client.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := server.DefaultConfig()
	cfg.TCPPort = 0
	cfg.HTTPPort = 0

	srv := server.NewServer(db, cfg, logger, nil)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv
}

func dial(t *testing.T, srv *server.Server) *client.Conn {
	t.Helper()
	conn, err := client.Dial(srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// nextEvent pulls events until one matches the predicate, skipping
// interleaved broadcasts.
func nextEvent[T client.Event](t *testing.T, conn *client.Conn) T {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case event, ok := <-conn.Events():
			require.True(t, ok, "event channel closed")
			if want, match := event.(T); match {
				return want
			}
		case <-timeout:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func TestClientLoginAndChat(t *testing.T) {
	srv := startServer(t)

	alice := dial(t, srv)
	bob := dial(t, srv)

	require.NoError(t, alice.Register("alice", "secret1"))
	ok := nextEvent[client.OkEvent](t, alice)
	assert.Equal(t, "Registration successful", ok.Content)

	require.NoError(t, bob.Register("bobby", "secret2"))
	nextEvent[client.OkEvent](t, bob)

	require.NoError(t, alice.Login("alice", "secret1"))
	login := nextEvent[client.LoginSuccess](t, alice)
	assert.Equal(t, "alice", login.Result.Username)
	// Login pushes the roster unprompted.
	roster := nextEvent[client.OnlineList](t, alice)
	assert.Equal(t, []string{"alice"}, roster.Users)

	require.NoError(t, bob.Login("bobby", "secret2"))
	nextEvent[client.LoginSuccess](t, bob)
	nextEvent[client.OnlineList](t, bob)

	// Alice observes bob's presence change.
	status := nextEvent[client.UserStatus](t, alice)
	assert.Equal(t, "bobby", status.Username)
	assert.Equal(t, protocol.StatusOnline, status.Status)

	require.NoError(t, alice.SendGlobal("hi all"))
	msg := nextEvent[client.GlobalMessage](t, bob)
	assert.Equal(t, "alice", msg.Sender)
	assert.Equal(t, "hi all", msg.Content)

	require.NoError(t, bob.SendPrivate("alice", "hey"))
	pm := nextEvent[client.PrivateMessage](t, alice)
	assert.Equal(t, "bobby", pm.Sender)
	assert.Equal(t, "hey", pm.Content)

	require.NoError(t, alice.RequestOnlineList())
	list := nextEvent[client.OnlineList](t, alice)
	assert.Equal(t, []string{"alice", "bobby"}, list.Users)
}

func TestClientErrorEvent(t *testing.T) {
	srv := startServer(t)
	c := dial(t, srv)

	require.NoError(t, c.Login("nobody", "nothing"))
	errEvent := nextEvent[client.ErrorEvent](t, c)
	assert.Equal(t, "Invalid username or password", errEvent.Content)
}

func TestClientKickedEvent(t *testing.T) {
	srv := startServer(t)

	admin := dial(t, srv)
	victim := dial(t, srv)

	require.NoError(t, victim.Register("victim", "secret1"))
	nextEvent[client.OkEvent](t, victim)
	require.NoError(t, victim.Login("victim", "secret1"))
	nextEvent[client.LoginSuccess](t, victim)

	require.NoError(t, admin.Login("admin", "admin"))
	nextEvent[client.LoginSuccess](t, admin)

	require.NoError(t, admin.Kick("victim"))

	kicked := nextEvent[client.Kicked](t, victim)
	assert.Contains(t, kicked.Content, "kicked by admin")

	// The server closes the connection after the notice.
	disc := nextEvent[client.Disconnected](t, victim)
	assert.Error(t, disc.Err)
}

func TestClientCleanCloseDeliversDisconnected(t *testing.T) {
	srv := startServer(t)
	c := dial(t, srv)

	require.NoError(t, c.Close())
	disc := nextEvent[client.Disconnected](t, c)
	assert.NoError(t, disc.Err)
}

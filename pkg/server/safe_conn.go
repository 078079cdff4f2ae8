package server

import (
	"net"
	"sync"

	"github.com/parley-chat/parley/pkg/protocol"
)

// SafeConn wraps a net.Conn with write synchronization so concurrent
// writers (the handler replying and broadcast fan-out goroutines) never
// interleave frame bytes on the wire.
//
// The raw conn is private: writing a frame without holding the mutex is
// not expressible.
type SafeConn struct {
	conn net.Conn
	mu   sync.Mutex // Protects writes to conn
}

// NewSafeConn wraps a net.Conn with write synchronization.
func NewSafeConn(conn net.Conn) *SafeConn {
	return &SafeConn{conn: conn}
}

// WriteMessage encodes msg and writes the whole frame under the write
// lock. This is the only way to write to the connection.
func (sc *SafeConn) WriteMessage(msg *protocol.Message) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return protocol.EncodeFrame(sc.conn, msg)
}

// WriteBytes writes a pre-encoded frame under the write lock. Used by
// broadcasts so the frame is encoded once and fanned out to every
// recipient.
func (sc *SafeConn) WriteBytes(data []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	_, err := sc.conn.Write(data)
	return err
}

// Read reads raw bytes from the connection. Reads need no write
// synchronization; a single receive loop owns the read side.
func (sc *SafeConn) Read(p []byte) (int, error) {
	return sc.conn.Read(p)
}

// Close closes the underlying connection.
func (sc *SafeConn) Close() error {
	return sc.conn.Close()
}

// RemoteAddr returns the remote network address.
func (sc *SafeConn) RemoteAddr() net.Addr {
	return sc.conn.RemoteAddr()
}

// Package server implements the chat server: connection acceptance,
// session lifecycle, the message dispatcher, and moderation.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parley-chat/parley/pkg/database"
	"github.com/parley-chat/parley/pkg/protocol"
)

// ServerSender is the sender name on operator and system messages.
const ServerSender = "[SERVER]"

// Server owns the listeners, the session registry, and the dispatcher.
type Server struct {
	config   ServerConfig
	db       *database.DB
	logger   *slog.Logger
	metrics  *Metrics
	sessions *SessionManager
	dir      *Directory

	tcpListener net.Listener
	httpServer  *http.Server

	mu      sync.Mutex
	started bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewServer wires a server from its collaborators. metrics may be nil.
func NewServer(db *database.DB, config ServerConfig, logger *slog.Logger, metrics *Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:   config,
		db:       db,
		logger:   logger,
		metrics:  metrics,
		sessions: NewSessionManager(metrics),
		dir:      NewDirectory(),
		done:     make(chan struct{}),
	}
}

// Start binds the TCP listener (and the HTTP listener when configured)
// and begins accepting connections. It does not block.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("server already started")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.TCPPort))
	if err != nil {
		return fmt.Errorf("failed to listen on tcp port %d: %w", s.config.TCPPort, err)
	}
	s.tcpListener = listener
	s.started = true

	s.logger.Info("tcp listener started", "addr", listener.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop(listener)

	if s.config.HTTPPort != 0 {
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", s.HandleWebSocket)
		mux.Handle("/metrics", promhttp.Handler())

		s.httpServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", s.config.HTTPPort),
			Handler: mux,
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.logger.Info("http listener started", "addr", s.httpServer.Addr)
			if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("http listener failed", "error", err)
			}
		}()
	}

	return nil
}

// Addr returns the bound TCP address, for tests that listen on :0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tcpListener == nil {
		return nil
	}
	return s.tcpListener.Addr()
}

// Stop closes the listeners and all sessions, then waits for the
// accept and receive loops to drain.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.done)
	listener := s.tcpListener
	httpServer := s.httpServer
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	if httpServer != nil {
		httpServer.Close()
	}

	s.sessions.CloseAll()
	s.wg.Wait()
	s.logger.Info("server stopped")
}

func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// handleConnection runs a session's full lifecycle on the calling
// goroutine. conn may be a TCP connection or the WebSocket adapter.
func (s *Server) handleConnection(conn net.Conn) {
	sess := s.sessions.CreateSession(conn)
	s.logger.Debug("session connected", "session_id", sess.ID, "remote", sess.RemoteAddr)

	defer s.teardownSession(sess)

	s.receiveLoop(sess)
}

// receiveLoop reads bytes into the session's reassembly buffer and
// dispatches every complete frame. Returns on connection close or a
// protocol violation.
func (s *Server) receiveLoop(sess *Session) {
	buf := make([]byte, 4096)

	for sess.Active() {
		n, err := sess.Conn.Read(buf)
		if err != nil {
			s.logger.Debug("session read ended", "session_id", sess.ID, "error", err)
			return
		}
		sess.Buffer.Append(buf[:n])

		for sess.Buffer.HasCompleteFrame() {
			msg, err := sess.Buffer.ExtractFrame()
			if err != nil {
				// Framing violations are fatal: a peer that cannot
				// frame correctly cannot be trusted with the stream.
				s.logger.Warn("framing violation, dropping connection",
					"session_id", sess.ID, "remote", sess.RemoteAddr, "error", err)
				return
			}

			s.dispatch(sess, msg)
			if !sess.Active() {
				return
			}
		}
	}
}

// dispatch guards handleMessage with a recover so one bad request
// cannot take the whole server down.
func (s *Server) dispatch(sess *Session, msg *protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked",
				"session_id", sess.ID, "type", msg.Type.String(), "panic", r)
			s.sendError(sess, "Internal server error")
		}
	}()

	if s.metrics != nil {
		s.metrics.RecordMessageReceived(msg.Type.String())
	}

	if err := s.handleMessage(sess, msg); err != nil {
		s.logger.Error("handler failed",
			"session_id", sess.ID, "type", msg.Type.String(), "error", err)
		s.sendError(sess, "Internal server error")
	}
}

// teardownSession releases everything a session holds. The sync.Once
// makes cleanup exactly-once no matter how many paths race into it
// (read error, logout, kick, server shutdown).
func (s *Server) teardownSession(sess *Session) {
	sess.cleanup.Do(func() {
		sess.Deactivate()

		username := sess.Username()
		if username != "" && s.dir.UnregisterSession(username, sess) {
			s.broadcastUserStatus(username, protocol.StatusOffline, sess)
		}
		sess.ClearIdentity()

		s.sessions.RemoveSession(sess.ID)
		s.logger.Debug("session closed", "session_id", sess.ID, "remote", sess.RemoteAddr)
	})
}

// send writes msg to sess, logging failures. Send failures are not
// fatal here; the receive loop notices the dead connection.
func (s *Server) send(sess *Session, msg *protocol.Message) {
	if err := sess.Conn.WriteMessage(msg); err != nil {
		s.logger.Debug("write failed", "session_id", sess.ID, "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordMessageSent(msg.Type.String())
	}
}

func (s *Server) sendOK(sess *Session, content, extra string) {
	s.send(sess, protocol.NewOK(content, extra))
}

func (s *Server) sendError(sess *Session, content string) {
	s.send(sess, protocol.NewError(content))
}

// broadcast encodes msg once and fans it out to every authenticated
// session except the one in except (nil sends to all). Delivery order
// across recipients is not defined.
func (s *Server) broadcast(msg *protocol.Message, except *Session) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		s.logger.Error("failed to encode broadcast", "type", msg.Type.String(), "error", err)
		return
	}

	for _, sess := range s.sessions.AllSessions() {
		if sess == except || !sess.Authenticated() || !sess.Active() {
			continue
		}
		if err := sess.Conn.WriteBytes(frame); err != nil {
			s.logger.Debug("broadcast write failed", "session_id", sess.ID, "error", err)
			continue
		}
		if s.metrics != nil {
			s.metrics.RecordMessageSent(msg.Type.String())
		}
	}
}

// sendToUser delivers msg to the named user's session if online.
func (s *Server) sendToUser(username string, msg *protocol.Message) bool {
	sess, ok := s.dir.Lookup(username)
	if !ok {
		return false
	}
	s.send(sess, msg)
	return true
}

func (s *Server) broadcastUserStatus(username, status string, except *Session) {
	msg, err := protocol.NewUserStatus(username, status)
	if err != nil {
		s.logger.Error("failed to build status update", "username", username, "error", err)
		return
	}
	s.broadcast(msg, except)
}

// disconnectUser force-closes username's session after a moderation
// action. notice is delivered before the close; delivery is best
// effort on a connection that is about to die anyway.
func (s *Server) disconnectUser(username string, notice *protocol.Message) {
	sess, ok := s.dir.Lookup(username)
	if !ok {
		return
	}

	if notice != nil {
		s.send(sess, notice)
	}
	// Brief pause so the notice frame flushes before the FIN.
	time.Sleep(50 * time.Millisecond)

	s.teardownSession(sess)
}

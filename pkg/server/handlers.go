package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/parley-chat/parley/pkg/database"
	"github.com/parley-chat/parley/pkg/protocol"
)

// handleMessage routes one inbound message. A returned error means an
// internal failure (storage, encoding); protocol-level rejections reply
// ERROR themselves and return nil.
func (s *Server) handleMessage(sess *Session, msg *protocol.Message) error {
	switch msg.Type {
	case protocol.TypeRegister:
		return s.handleRegister(sess, msg)
	case protocol.TypeLogin:
		return s.handleLogin(sess, msg)
	case protocol.TypeLogout:
		return s.handleLogout(sess)
	case protocol.TypeChangePassword:
		return s.handleChangePassword(sess, msg)
	case protocol.TypeMsgGlobal:
		return s.handleGlobalMessage(sess, msg)
	case protocol.TypeMsgPrivate:
		return s.handlePrivateMessage(sess, msg)
	case protocol.TypeOnlineList:
		return s.handleOnlineList(sess)
	case protocol.TypeUserInfo:
		return s.handleUserInfo(sess, msg)
	case protocol.TypeKickUser:
		return s.handleKick(sess, msg)
	case protocol.TypeBanUser:
		return s.handleBan(sess, msg)
	case protocol.TypeUnbanUser:
		return s.handleUnban(sess, msg)
	case protocol.TypeMuteUser:
		return s.handleMute(sess, msg)
	case protocol.TypeUnmuteUser:
		return s.handleUnmute(sess, msg)
	case protocol.TypePromoteUser:
		return s.handlePromote(sess, msg)
	case protocol.TypeDemoteUser:
		return s.handleDemote(sess, msg)
	case protocol.TypeGetAllUsers:
		return s.handleGetAllUsers(sess)
	case protocol.TypeGetBannedList:
		return s.handleGetBannedList(sess)
	case protocol.TypeGetMutedList:
		return s.handleGetMutedList(sess)
	case protocol.TypePing:
		s.send(sess, &protocol.Message{Type: protocol.TypePong})
		return nil
	default:
		s.sendError(sess, "Unknown command")
		return nil
	}
}

func (s *Server) handleRegister(sess *Session, msg *protocol.Message) error {
	var creds protocol.Credentials
	if err := msg.DecodeContent(&creds); err != nil {
		s.sendError(sess, "Invalid request format")
		return nil
	}

	username := strings.TrimSpace(creds.Username)
	if len(username) < 3 || len(username) > 20 {
		s.sendError(sess, "Username must be 3-20 characters")
		return nil
	}
	if len(creds.Password) < 4 {
		s.sendError(sess, "Password must be at least 4 characters")
		return nil
	}

	created, err := s.db.Register(username, creds.Password, username)
	if err != nil {
		return err
	}
	if !created {
		if s.metrics != nil {
			s.metrics.RecordAuthFailure()
		}
		s.sendError(sess, "Username already exists")
		return nil
	}

	s.logger.Info("user registered", "username", username, "remote", sess.RemoteAddr)
	s.sendOK(sess, "Registration successful", "")
	return nil
}

func (s *Server) handleLogin(sess *Session, msg *protocol.Message) error {
	if sess.Authenticated() {
		s.sendError(sess, "Already logged in")
		return nil
	}

	var creds protocol.Credentials
	if err := msg.DecodeContent(&creds); err != nil {
		s.sendError(sess, "Invalid request format")
		return nil
	}
	username := strings.TrimSpace(creds.Username)

	if _, online := s.dir.Lookup(username); online {
		s.sendError(sess, "User already logged in from another location")
		return nil
	}

	acct, err := s.db.GetUser(username)
	if err != nil && !errors.Is(err, database.ErrUserNotFound) {
		return err
	}
	if acct != nil && acct.IsBanned {
		if s.metrics != nil {
			s.metrics.RecordAuthFailure()
		}
		s.sendError(sess, "Your account has been banned")
		return nil
	}

	ok, err := s.db.Authenticate(username, creds.Password)
	if err != nil {
		return err
	}
	if !ok || acct == nil {
		if s.metrics != nil {
			s.metrics.RecordAuthFailure()
		}
		s.sendError(sess, "Invalid username or password")
		return nil
	}

	// The lookup above is advisory; this register is the atomic claim
	// that settles concurrent logins for the same name.
	if !s.dir.Register(username, sess) {
		s.sendError(sess, "User already logged in from another location")
		return nil
	}
	sess.SetIdentity(acct.Username, acct.DisplayName, acct.Role)

	reply := protocol.NewOK("Login successful", "")
	if err := reply.SetExtra(protocol.LoginResult{
		Username:    acct.Username,
		DisplayName: acct.DisplayName,
		Role:        acct.Role,
		IsMuted:     acct.IsMuted,
	}); err != nil {
		// Roll back so the directory does not hold a half-logged-in
		// session.
		s.dir.UnregisterSession(username, sess)
		sess.ClearIdentity()
		return err
	}
	s.send(sess, reply)

	s.logger.Info("user logged in", "username", username, "session_id", sess.ID)
	s.broadcastUserStatus(username, protocol.StatusOnline, sess)

	// New logins get the current room roster without asking.
	roster, err := protocol.NewOnlineList(s.dir.Online())
	if err != nil {
		return err
	}
	s.send(sess, roster)
	return nil
}

func (s *Server) handleLogout(sess *Session) error {
	if !sess.Authenticated() {
		s.sendError(sess, "Not logged in")
		return nil
	}

	username := sess.Username()
	if s.dir.UnregisterSession(username, sess) {
		s.broadcastUserStatus(username, protocol.StatusOffline, sess)
	}
	sess.ClearIdentity()

	s.logger.Info("user logged out", "username", username, "session_id", sess.ID)
	s.sendOK(sess, "Logged out successfully", "")
	return nil
}

func (s *Server) handleChangePassword(sess *Session, msg *protocol.Message) error {
	if !sess.Authenticated() {
		s.sendError(sess, "Not logged in")
		return nil
	}

	var change protocol.PasswordChange
	if err := msg.DecodeContent(&change); err != nil {
		s.sendError(sess, "Invalid request format")
		return nil
	}
	if len(change.NewPassword) < 4 {
		s.sendError(sess, "Password must be at least 4 characters")
		return nil
	}

	changed, err := s.db.ChangePassword(sess.Username(), change.OldPassword, change.NewPassword)
	if err != nil {
		return err
	}
	if !changed {
		s.sendError(sess, "Incorrect old password")
		return nil
	}

	s.logger.Info("password changed", "username", sess.Username())
	s.sendOK(sess, "Password changed successfully", "")
	return nil
}

// checkCanChat runs the shared gate for MSG_GLOBAL and MSG_PRIVATE:
// authentication, a fresh mute read, rate limit, and length. Returns
// false after replying when the message must be rejected.
func (s *Server) checkCanChat(sess *Session, content string) (bool, error) {
	if !sess.Authenticated() {
		s.sendError(sess, "Must be logged in to send messages")
		return false, nil
	}

	if strings.TrimSpace(content) == "" {
		s.sendError(sess, "Message cannot be empty")
		return false, nil
	}

	muted, err := s.db.IsMuted(sess.Username())
	if err != nil {
		return false, err
	}
	if muted {
		s.sendError(sess, "You are muted and cannot send messages")
		return false, nil
	}

	if !sess.allowSend(s.config.MessageRateLimit, s.config.RateWindow, time.Now()) {
		s.sendError(sess, "Rate limit exceeded. Please wait before sending more messages.")
		return false, nil
	}

	if s.config.MaxMessageLength > 0 && len(content) > s.config.MaxMessageLength {
		s.sendError(sess, "Message too long")
		return false, nil
	}

	return true, nil
}

func (s *Server) handleGlobalMessage(sess *Session, msg *protocol.Message) error {
	ok, err := s.checkCanChat(sess, msg.Content)
	if err != nil || !ok {
		return err
	}

	sender := sess.Username()
	out := protocol.NewGlobalMessage(sender, msg.Content, time.Now())

	// Sender receives their own global message back, like everyone
	// else in the room.
	s.broadcast(out, nil)

	if err := s.db.LogMessage(sender, "", msg.Content, database.MessageKindGlobal); err != nil {
		s.logger.Warn("failed to log global message", "sender", sender, "error", err)
	}
	return nil
}

func (s *Server) handlePrivateMessage(sess *Session, msg *protocol.Message) error {
	ok, err := s.checkCanChat(sess, msg.Content)
	if err != nil || !ok {
		return err
	}

	sender := sess.Username()
	receiver := strings.TrimSpace(msg.Receiver)
	if receiver == "" {
		s.sendError(sess, "Target user not specified")
		return nil
	}
	if receiver == sender {
		s.sendError(sess, "Cannot send message to yourself")
		return nil
	}

	out := protocol.NewPrivateMessage(sender, receiver, msg.Content, time.Now())
	if !s.sendToUser(receiver, out) {
		s.sendError(sess, fmt.Sprintf("User not online: %s", receiver))
		return nil
	}

	// Echo to the sender so their history shows the message.
	s.send(sess, out)

	if err := s.db.LogMessage(sender, receiver, msg.Content, database.MessageKindPrivate); err != nil {
		s.logger.Warn("failed to log private message", "sender", sender, "error", err)
	}
	return nil
}

func (s *Server) handleOnlineList(sess *Session) error {
	if !sess.Authenticated() {
		s.sendError(sess, "Not logged in")
		return nil
	}

	reply, err := protocol.NewOnlineList(s.dir.Online())
	if err != nil {
		return err
	}
	s.send(sess, reply)
	return nil
}

func (s *Server) handleUserInfo(sess *Session, msg *protocol.Message) error {
	if !sess.Authenticated() {
		s.sendError(sess, "Not logged in")
		return nil
	}

	target := strings.TrimSpace(msg.Receiver)
	if target == "" {
		target = sess.Username()
	}

	acct, err := s.db.GetUser(target)
	if errors.Is(err, database.ErrUserNotFound) {
		s.sendError(sess, "User not found")
		return nil
	}
	if err != nil {
		return err
	}

	_, online := s.dir.Lookup(target)
	reply := &protocol.Message{Type: protocol.TypeUserInfo, Receiver: target}
	if err := reply.SetExtra(accountSummary(acct, online)); err != nil {
		return err
	}
	s.send(sess, reply)
	return nil
}

// requireAdmin gates a moderation command on a fresh role read and a
// non-empty target. Returns the admin and target usernames, and false
// after replying when the command must be rejected.
func (s *Server) requireAdmin(sess *Session, msg *protocol.Message) (admin, target string, ok bool, err error) {
	if !sess.Authenticated() {
		s.sendError(sess, "Not logged in")
		return "", "", false, nil
	}

	admin = sess.Username()
	isAdmin, err := s.db.IsAdmin(admin)
	if err != nil {
		return "", "", false, err
	}
	if !isAdmin {
		s.sendError(sess, "Admin privileges required")
		return "", "", false, nil
	}

	target = strings.TrimSpace(msg.Receiver)
	if target == "" {
		s.sendError(sess, "Target user not specified")
		return "", "", false, nil
	}
	return admin, target, true, nil
}

func (s *Server) handleKick(sess *Session, msg *protocol.Message) error {
	admin, target, ok, err := s.requireAdmin(sess, msg)
	if err != nil || !ok {
		return err
	}
	if target == admin {
		s.sendError(sess, "Cannot kick yourself")
		return nil
	}
	if _, online := s.dir.Lookup(target); !online {
		s.sendError(sess, fmt.Sprintf("User not online: %s", target))
		return nil
	}

	notice := &protocol.Message{
		Type:    protocol.TypeKicked,
		Sender:  ServerSender,
		Content: fmt.Sprintf("You have been kicked by %s", admin),
	}
	s.disconnectUser(target, notice)

	if s.metrics != nil {
		s.metrics.RecordModeration("kick")
	}
	s.logger.Info("user kicked", "target", target, "admin", admin)
	s.sendOK(sess, fmt.Sprintf("User kicked: %s", target), "")
	return nil
}

func (s *Server) handleBan(sess *Session, msg *protocol.Message) error {
	admin, target, ok, err := s.requireAdmin(sess, msg)
	if err != nil || !ok {
		return err
	}
	if target == admin {
		s.sendError(sess, "Cannot ban yourself")
		return nil
	}

	targetIsAdmin, err := s.db.IsAdmin(target)
	if err != nil {
		return err
	}
	if targetIsAdmin {
		s.sendError(sess, "Cannot ban an admin")
		return nil
	}

	updated, err := s.db.SetBanned(target, true)
	if err != nil {
		return err
	}
	if !updated {
		s.sendError(sess, "User not found")
		return nil
	}

	notice := &protocol.Message{
		Type:    protocol.TypeBanned,
		Sender:  ServerSender,
		Content: fmt.Sprintf("You have been banned by %s", admin),
	}
	s.disconnectUser(target, notice)

	if s.metrics != nil {
		s.metrics.RecordModeration("ban")
	}
	s.logger.Info("user banned", "target", target, "admin", admin)
	s.sendOK(sess, fmt.Sprintf("User banned: %s", target), "")
	return nil
}

func (s *Server) handleUnban(sess *Session, msg *protocol.Message) error {
	admin, target, ok, err := s.requireAdmin(sess, msg)
	if err != nil || !ok {
		return err
	}
	if target == admin {
		s.sendError(sess, "Cannot unban yourself")
		return nil
	}

	updated, err := s.db.SetBanned(target, false)
	if err != nil {
		return err
	}
	if !updated {
		s.sendError(sess, "User not found")
		return nil
	}

	if s.metrics != nil {
		s.metrics.RecordModeration("unban")
	}
	s.logger.Info("user unbanned", "target", target, "admin", admin)
	s.sendOK(sess, fmt.Sprintf("User unbanned: %s", target), "")
	return nil
}

func (s *Server) handleMute(sess *Session, msg *protocol.Message) error {
	admin, target, ok, err := s.requireAdmin(sess, msg)
	if err != nil || !ok {
		return err
	}
	if target == admin {
		s.sendError(sess, "Cannot mute yourself")
		return nil
	}

	targetIsAdmin, err := s.db.IsAdmin(target)
	if err != nil {
		return err
	}
	if targetIsAdmin {
		s.sendError(sess, "Cannot mute an admin")
		return nil
	}

	updated, err := s.db.SetMuted(target, true)
	if err != nil {
		return err
	}
	if !updated {
		s.sendError(sess, "User not found")
		return nil
	}

	s.sendToUser(target, &protocol.Message{
		Type:    protocol.TypeMuted,
		Sender:  ServerSender,
		Content: fmt.Sprintf("You have been muted by %s", admin),
	})

	if s.metrics != nil {
		s.metrics.RecordModeration("mute")
	}
	s.logger.Info("user muted", "target", target, "admin", admin)
	s.sendOK(sess, fmt.Sprintf("User muted: %s", target), "")
	return nil
}

func (s *Server) handleUnmute(sess *Session, msg *protocol.Message) error {
	admin, target, ok, err := s.requireAdmin(sess, msg)
	if err != nil || !ok {
		return err
	}
	if target == admin {
		s.sendError(sess, "Cannot unmute yourself")
		return nil
	}

	updated, err := s.db.SetMuted(target, false)
	if err != nil {
		return err
	}
	if !updated {
		s.sendError(sess, "User not found")
		return nil
	}

	s.sendToUser(target, &protocol.Message{
		Type:    protocol.TypeUnmuted,
		Sender:  ServerSender,
		Content: fmt.Sprintf("You have been unmuted by %s", admin),
	})

	if s.metrics != nil {
		s.metrics.RecordModeration("unmute")
	}
	s.logger.Info("user unmuted", "target", target, "admin", admin)
	s.sendOK(sess, fmt.Sprintf("User unmuted: %s", target), "")
	return nil
}

func (s *Server) handlePromote(sess *Session, msg *protocol.Message) error {
	admin, target, ok, err := s.requireAdmin(sess, msg)
	if err != nil || !ok {
		return err
	}

	acct, err := s.db.GetUser(target)
	if errors.Is(err, database.ErrUserNotFound) {
		s.sendError(sess, "User not found")
		return nil
	}
	if err != nil {
		return err
	}
	if acct.Role == database.RoleAdmin {
		s.sendError(sess, "User is already an admin")
		return nil
	}

	if _, err := s.db.SetRole(target, database.RoleAdmin); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordModeration("promote")
	}
	s.logger.Info("user promoted", "target", target, "admin", admin)
	s.sendOK(sess, fmt.Sprintf("User promoted: %s", target), "")
	return nil
}

func (s *Server) handleDemote(sess *Session, msg *protocol.Message) error {
	admin, target, ok, err := s.requireAdmin(sess, msg)
	if err != nil || !ok {
		return err
	}
	if target == admin {
		s.sendError(sess, "Cannot demote yourself")
		return nil
	}

	acct, err := s.db.GetUser(target)
	if errors.Is(err, database.ErrUserNotFound) {
		s.sendError(sess, "User not found")
		return nil
	}
	if err != nil {
		return err
	}
	if acct.Role != database.RoleAdmin {
		s.sendError(sess, "User is not an admin")
		return nil
	}

	if _, err := s.db.SetRole(target, database.RoleMember); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordModeration("demote")
	}
	s.logger.Info("user demoted", "target", target, "admin", admin)
	s.sendOK(sess, fmt.Sprintf("User demoted: %s", target), "")
	return nil
}

// requireAdminNoTarget gates the list queries, which take no target.
func (s *Server) requireAdminNoTarget(sess *Session) (bool, error) {
	if !sess.Authenticated() {
		s.sendError(sess, "Not logged in")
		return false, nil
	}
	isAdmin, err := s.db.IsAdmin(sess.Username())
	if err != nil {
		return false, err
	}
	if !isAdmin {
		s.sendError(sess, "Admin privileges required")
		return false, nil
	}
	return true, nil
}

func (s *Server) handleGetAllUsers(sess *Session) error {
	ok, err := s.requireAdminNoTarget(sess)
	if err != nil || !ok {
		return err
	}

	accounts, err := s.db.AllUsers()
	if err != nil {
		return err
	}

	summaries := make([]protocol.UserSummary, 0, len(accounts))
	for _, acct := range accounts {
		_, online := s.dir.Lookup(acct.Username)
		summaries = append(summaries, accountSummary(acct, online))
	}

	reply := &protocol.Message{Type: protocol.TypeGetAllUsers}
	if err := reply.SetExtra(summaries); err != nil {
		return err
	}
	s.send(sess, reply)
	return nil
}

func (s *Server) handleGetBannedList(sess *Session) error {
	ok, err := s.requireAdminNoTarget(sess)
	if err != nil || !ok {
		return err
	}

	names, err := s.db.BannedUsernames()
	if err != nil {
		return err
	}

	reply := &protocol.Message{Type: protocol.TypeGetBannedList}
	if err := reply.SetExtra(names); err != nil {
		return err
	}
	s.send(sess, reply)
	return nil
}

func (s *Server) handleGetMutedList(sess *Session) error {
	ok, err := s.requireAdminNoTarget(sess)
	if err != nil || !ok {
		return err
	}

	names, err := s.db.MutedUsernames()
	if err != nil {
		return err
	}

	reply := &protocol.Message{Type: protocol.TypeGetMutedList}
	if err := reply.SetExtra(names); err != nil {
		return err
	}
	s.send(sess, reply)
	return nil
}

func accountSummary(acct *database.Account, online bool) protocol.UserSummary {
	return protocol.UserSummary{
		Username:    acct.Username,
		DisplayName: acct.DisplayName,
		Role:        acct.Role,
		IsBanned:    acct.IsBanned,
		IsMuted:     acct.IsMuted,
		CreatedAt:   acct.CreatedAt,
		IsOnline:    online,
	}
}

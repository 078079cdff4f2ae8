// Package protocol defines the wire format shared by server and
// clients: a Message envelope carried in length-prefixed JSON frames,
// plus the stream reassembly buffer.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType tags a Message with its meaning. Values are part of the
// wire protocol and must never be renumbered.
type MessageType int

const (
	TypeRegister       MessageType = 1
	TypeLogin          MessageType = 2
	TypeLogout         MessageType = 3
	TypeChangePassword MessageType = 4

	TypeMsgGlobal  MessageType = 10
	TypeMsgPrivate MessageType = 11

	TypeOnlineList MessageType = 20
	TypeUserStatus MessageType = 21
	TypeUserInfo   MessageType = 22

	TypeKickUser    MessageType = 30
	TypeBanUser     MessageType = 31
	TypeUnbanUser   MessageType = 32
	TypeMuteUser    MessageType = 33
	TypeUnmuteUser  MessageType = 34
	TypePromoteUser MessageType = 35
	TypeDemoteUser  MessageType = 36

	TypeGetAllUsers   MessageType = 40
	TypeGetBannedList MessageType = 41
	TypeGetMutedList  MessageType = 42

	TypeKicked  MessageType = 50
	TypeBanned  MessageType = 51
	TypeMuted   MessageType = 52
	TypeUnmuted MessageType = 53

	TypeOK    MessageType = 100
	TypeError MessageType = 101

	TypePing MessageType = 200
	TypePong MessageType = 201
)

// TimestampFormat is the layout of chat message timestamps on the wire.
const TimestampFormat = "2006-01-02 15:04:05"

// Status strings carried in USER_STATUS extra payloads.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

var typeNames = map[MessageType]string{
	TypeRegister:       "REGISTER",
	TypeLogin:          "LOGIN",
	TypeLogout:         "LOGOUT",
	TypeChangePassword: "CHANGE_PASSWORD",
	TypeMsgGlobal:      "MSG_GLOBAL",
	TypeMsgPrivate:     "MSG_PRIVATE",
	TypeOnlineList:     "ONLINE_LIST",
	TypeUserStatus:     "USER_STATUS",
	TypeUserInfo:       "USER_INFO",
	TypeKickUser:       "KICK_USER",
	TypeBanUser:        "BAN_USER",
	TypeUnbanUser:      "UNBAN_USER",
	TypeMuteUser:       "MUTE_USER",
	TypeUnmuteUser:     "UNMUTE_USER",
	TypePromoteUser:    "PROMOTE_USER",
	TypeDemoteUser:     "DEMOTE_USER",
	TypeGetAllUsers:    "GET_ALL_USERS",
	TypeGetBannedList:  "GET_BANNED_LIST",
	TypeGetMutedList:   "GET_MUTED_LIST",
	TypeKicked:         "KICKED",
	TypeBanned:         "BANNED",
	TypeMuted:          "MUTED",
	TypeUnmuted:        "UNMUTED",
	TypeOK:             "OK",
	TypeError:          "ERROR",
	TypePing:           "PING",
	TypePong:           "PONG",
}

// Known reports whether t is a message type this build understands.
func (t MessageType) Known() bool {
	_, ok := typeNames[t]
	return ok
}

func (t MessageType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(t))
}

// Message is the JSON envelope every frame carries. Content holds the
// primary payload (chat text, or JSON credentials for auth commands);
// Extra holds secondary structured payloads as nested JSON strings.
type Message struct {
	Type      MessageType `json:"type"`
	Sender    string      `json:"sender"`
	Receiver  string      `json:"receiver"`
	Content   string      `json:"content"`
	Timestamp string      `json:"timestamp"`
	Extra     string      `json:"extra"`
}

// Credentials is the content payload of REGISTER and LOGIN.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// PasswordChange is the content payload of CHANGE_PASSWORD.
type PasswordChange struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// LoginResult is the extra payload of a successful LOGIN reply.
type LoginResult struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Role        int    `json:"role"`
	IsMuted     bool   `json:"isMuted"`
}

// StatusUpdate is the extra payload of USER_STATUS.
type StatusUpdate struct {
	Status string `json:"status"`
}

// UserSummary is one entry of GET_ALL_USERS and the extra payload of
// USER_INFO.
type UserSummary struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Role        int    `json:"role"`
	IsBanned    bool   `json:"isBanned"`
	IsMuted     bool   `json:"isMuted"`
	CreatedAt   string `json:"createdAt"`
	IsOnline    bool   `json:"isOnline"`
}

// DecodeContent unmarshals the Content field into v.
func (m *Message) DecodeContent(v any) error {
	return json.Unmarshal([]byte(m.Content), v)
}

// DecodeExtra unmarshals the Extra field into v.
func (m *Message) DecodeExtra(v any) error {
	return json.Unmarshal([]byte(m.Extra), v)
}

// SetExtra marshals v and stores it in the Extra field.
func (m *Message) SetExtra(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode extra payload: %w", err)
	}
	m.Extra = string(data)
	return nil
}

// NewOK builds a success reply. extra may be empty.
func NewOK(content, extra string) *Message {
	return &Message{Type: TypeOK, Content: content, Extra: extra}
}

// NewError builds a failure reply.
func NewError(content string) *Message {
	return &Message{Type: TypeError, Content: content}
}

// NewGlobalMessage builds a room-wide chat message from sender.
func NewGlobalMessage(sender, content string, at time.Time) *Message {
	return &Message{
		Type:      TypeMsgGlobal,
		Sender:    sender,
		Content:   content,
		Timestamp: at.Format(TimestampFormat),
	}
}

// NewPrivateMessage builds a direct chat message from sender to receiver.
func NewPrivateMessage(sender, receiver, content string, at time.Time) *Message {
	return &Message{
		Type:      TypeMsgPrivate,
		Sender:    sender,
		Receiver:  receiver,
		Content:   content,
		Timestamp: at.Format(TimestampFormat),
	}
}

// NewUserStatus builds a presence update for username. status is
// StatusOnline or StatusOffline.
func NewUserStatus(username, status string) (*Message, error) {
	msg := &Message{Type: TypeUserStatus, Sender: username}
	if err := msg.SetExtra(StatusUpdate{Status: status}); err != nil {
		return nil, err
	}
	return msg, nil
}

// NewOnlineList builds an ONLINE_LIST reply carrying users in extra.
func NewOnlineList(users []string) (*Message, error) {
	if users == nil {
		users = []string{}
	}
	msg := &Message{Type: TypeOnlineList}
	if err := msg.SetExtra(users); err != nil {
		return nil, err
	}
	return msg, nil
}

// NewCredentialMessage builds a REGISTER or LOGIN request.
func NewCredentialMessage(t MessageType, username, password string) (*Message, error) {
	creds, err := json.Marshal(Credentials{Username: username, Password: password})
	if err != nil {
		return nil, fmt.Errorf("encode credentials: %w", err)
	}
	return &Message{Type: t, Sender: username, Content: string(creds)}, nil
}

// NewPasswordChangeMessage builds a CHANGE_PASSWORD request.
func NewPasswordChangeMessage(oldPassword, newPassword string) (*Message, error) {
	change, err := json.Marshal(PasswordChange{OldPassword: oldPassword, NewPassword: newPassword})
	if err != nil {
		return nil, fmt.Errorf("encode password change: %w", err)
	}
	return &Message{Type: TypeChangePassword, Content: string(change)}, nil
}

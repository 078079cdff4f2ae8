package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
	}{
		{
			name: "global message",
			msg:  NewGlobalMessage("alice", "hello everyone", time.Date(2025, 3, 1, 12, 30, 5, 0, time.UTC)),
		},
		{
			name: "private message",
			msg:  NewPrivateMessage("alice", "bob", "psst", time.Date(2025, 3, 1, 12, 30, 5, 0, time.UTC)),
		},
		{
			name: "error reply",
			msg:  NewError("Invalid username or password"),
		},
		{
			name: "ok with extra",
			msg:  NewOK("Login successful", `{"username":"alice","displayName":"alice","role":0,"isMuted":false}`),
		},
		{
			name: "empty fields",
			msg:  &Message{Type: TypePing},
		},
		{
			name: "unicode content",
			msg:  NewGlobalMessage("bob", "héllo wörld 日本語 🎉", time.Now()),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Encode(tt.msg)
			require.NoError(t, err)

			// Header declares exactly the payload length.
			length := binary.BigEndian.Uint32(frame[:HeaderSize])
			assert.Equal(t, int(length), len(frame)-HeaderSize)

			decoded, err := DecodeFrame(bytes.NewReader(frame))
			require.NoError(t, err)
			assert.Equal(t, tt.msg, decoded)
		})
	}
}

func TestDecodeMalformedPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", []byte{}},
		{"not json", []byte("hello")},
		{"json array", []byte(`[1,2,3]`)},
		{"truncated object", []byte(`{"type":`)},
		{"whitespace only", []byte("   \t\n")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.payload)
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}

func TestDecodeUnknownTypePreserved(t *testing.T) {
	msg, err := Decode([]byte(`{"type":999,"sender":"future","receiver":"","content":"","timestamp":"","extra":""}`))
	require.NoError(t, err)
	assert.Equal(t, MessageType(999), msg.Type)
	assert.False(t, msg.Type.Known())
	assert.Equal(t, "UNKNOWN(999)", msg.Type.String())
}

func TestDecodeFrameOversized(t *testing.T) {
	var header [HeaderSize]byte
	binary.BigEndian.PutUint32(header[:], MaxFrameSize+1)

	_, err := DecodeFrame(bytes.NewReader(header[:]))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestEncodeOversized(t *testing.T) {
	msg := NewGlobalMessage("alice", string(make([]byte, MaxFrameSize+1)), time.Now())
	_, err := Encode(msg)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecodeFrameTruncatedPayload(t *testing.T) {
	frame, err := Encode(NewError("short"))
	require.NoError(t, err)

	_, err = DecodeFrame(bytes.NewReader(frame[:len(frame)-2]))
	assert.Error(t, err)
}

func TestExtraPayloadHelpers(t *testing.T) {
	msg, err := NewUserStatus("alice", StatusOnline)
	require.NoError(t, err)
	assert.Equal(t, "alice", msg.Sender)

	var status StatusUpdate
	require.NoError(t, msg.DecodeExtra(&status))
	assert.Equal(t, StatusOnline, status.Status)

	list, err := NewOnlineList(nil)
	require.NoError(t, err)
	// nil becomes an empty JSON array, never null.
	assert.Equal(t, "[]", list.Extra)

	creds, err := NewCredentialMessage(TypeLogin, "bob", "hunter2")
	require.NoError(t, err)
	var decoded Credentials
	require.NoError(t, creds.DecodeContent(&decoded))
	assert.Equal(t, Credentials{Username: "bob", Password: "hunter2"}, decoded)
}

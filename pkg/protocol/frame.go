package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderSize is the size of the length prefix in bytes.
	HeaderSize = 4

	// MaxFrameSize is the maximum allowed payload size (1 MB). A peer
	// declaring a larger frame is considered hostile or corrupted and
	// the connection is dropped.
	MaxFrameSize = 1024 * 1024
)

var (
	ErrFrameTooLarge    = errors.New("frame exceeds maximum size (1 MB)")
	ErrMalformedPayload = errors.New("malformed message payload")
)

// Encode serializes msg into a complete frame: a 4-byte big-endian
// payload length followed by the UTF-8 JSON encoding of the message.
func Encode(msg *Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[:HeaderSize], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// EncodeFrame writes a complete frame for msg to w.
func EncodeFrame(w io.Writer, msg *Message) error {
	frame, err := Encode(msg)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	return nil
}

// DecodeFrame reads exactly one frame from r and decodes its message.
func DecodeFrame(r io.Reader) (*Message, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	return Decode(payload)
}

// Decode parses a frame payload (without the length prefix) into a
// Message. Unknown type tags are preserved rather than rejected, so a
// newer peer shows up in diagnostics with its raw tag; structurally
// invalid payloads fail with ErrMalformedPayload.
func Decode(payload []byte) (*Message, error) {
	trimmed := bytes.TrimLeft(payload, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrMalformedPayload
	}

	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return &msg, nil
}

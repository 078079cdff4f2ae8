package protocol

import (
	"encoding/binary"
	"errors"
)

// ErrIncompleteFrame is returned by ExtractFrame when the buffer does
// not yet hold a whole frame.
var ErrIncompleteFrame = errors.New("incomplete frame")

// Buffer reassembles frames from a TCP byte stream. Reads may deliver
// partial frames or several frames at once; Append accumulates the
// bytes and ExtractFrame removes exactly one frame from the front,
// leaving any remainder for the next call.
//
// Buffer is not safe for concurrent use; each session owns its own and
// only that session's receive loop touches it.
type Buffer struct {
	data []byte
}

// Append adds raw bytes received from the stream.
func (b *Buffer) Append(p []byte) {
	b.data = append(b.data, p...)
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Reset discards all buffered bytes.
func (b *Buffer) Reset() {
	b.data = nil
}

// HasCompleteFrame reports whether the buffer holds at least one whole
// frame. It also returns true when the declared length exceeds
// MaxFrameSize so the caller reaches ExtractFrame's error instead of
// waiting forever for bytes that never come.
func (b *Buffer) HasCompleteFrame() bool {
	if len(b.data) < HeaderSize {
		return false
	}
	length := binary.BigEndian.Uint32(b.data[:HeaderSize])
	if length > MaxFrameSize {
		return true
	}
	return uint32(len(b.data)) >= HeaderSize+length
}

// ExtractFrame removes one frame from the front of the buffer and
// decodes its message. Returns ErrIncompleteFrame if no whole frame is
// buffered, ErrFrameTooLarge or ErrMalformedPayload on protocol
// violations (both are fatal for the connection).
func (b *Buffer) ExtractFrame() (*Message, error) {
	if len(b.data) < HeaderSize {
		return nil, ErrIncompleteFrame
	}

	length := binary.BigEndian.Uint32(b.data[:HeaderSize])
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	if uint32(len(b.data)) < HeaderSize+length {
		return nil, ErrIncompleteFrame
	}

	payload := b.data[HeaderSize : HeaderSize+length]
	msg, err := Decode(payload)

	// Consume the frame's bytes even on decode failure so diagnostics
	// can inspect what remains.
	rest := b.data[HeaderSize+length:]
	b.data = append(b.data[:0], rest...)

	return msg, err
}

// Package wire implements the binary framing and message encodings of the
// relay protocol: an outer length-prefixed TCP frame carrying one of a
// fixed set of message types, and the JSON command/response shape used
// once two endpoints have paired.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Message types carried in the outer frame header.
const (
	MsgHello         uint16 = 0x0001
	MsgIAm           uint16 = 0x0002
	MsgSend          uint16 = 0x0003
	MsgDeliver       uint16 = 0x0004
	MsgAck           uint16 = 0x0005
	MsgKeepalive     uint16 = 0x0006
	MsgSendResult    uint16 = 0x0007
	MsgUpdateCommits uint16 = 0x0008
)

// MaxFrameLength is the largest payload the relay accepts in a single
// frame.
const MaxFrameLength = 1 << 20 // 1 MiB

// frameHeaderLength is the u16 msg_type + u32 length prefix.
const frameHeaderLength = 2 + 4

// Frame is one outer protocol message: a type tag and its raw payload.
type Frame struct {
	Type    uint16
	Payload []byte
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var header [frameHeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, err
	}

	msgType := binary.BigEndian.Uint16(header[0:2])
	length := binary.BigEndian.Uint32(header[2:6])
	if length > MaxFrameLength {
		return Frame{}, fmt.Errorf("frame too large: %d bytes exceeds %d", length, MaxFrameLength)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, fmt.Errorf("read frame payload: %w", err)
	}
	return Frame{Type: msgType, Payload: payload}, nil
}

// WriteFrame writes one length-prefixed frame to w.
func WriteFrame(w io.Writer, f Frame) error {
	if len(f.Payload) > MaxFrameLength {
		return fmt.Errorf("frame too large: %d bytes exceeds %d", len(f.Payload), MaxFrameLength)
	}

	var header [frameHeaderLength]byte
	binary.BigEndian.PutUint16(header[0:2], f.Type)
	binary.BigEndian.PutUint32(header[2:6], uint32(len(f.Payload)))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(f.Payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

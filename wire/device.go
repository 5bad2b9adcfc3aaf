package wire

import (
	"encoding/binary"
	"fmt"
)

// Device-layer discriminator bytes. These are the first byte of a SEND or
// DELIVER payload and are distinct from both JSON command traffic ('{' is
// 0x7b) and each other, so a receiver can tell the three payload kinds
// apart with a single byte peek.
const (
	DevHandshakeInit     byte = 0x01
	DevHandshakeComplete byte = 0x02
	DevMessage           byte = 0x10
	DevMessageResponse   byte = 0x11
)

// Handshake status codes carried in HandshakeComplete.
const (
	HandshakeAccepted uint8 = 0
	HandshakeRejected uint8 = 1
)

// Content type tags carried in Content.ContentType. 0 is UTF-8 text;
// anything else is opaque binary, identified out of band by the
// application (e.g. a firmware image or a sensor reading batch).
const (
	ContentTypeText        byte = 0
	ContentTypeOctetStream byte = 1
)

// Response status codes carried in ContentResponse.Status.
const (
	ContentStatusOK    uint8 = 0
	ContentStatusError uint8 = 1
)

// PeekDiscriminator reports which device-layer kind a payload is, for
// dispatch before any JSON or fixed-layout parsing is attempted.
func PeekDiscriminator(payload []byte) (byte, bool) {
	if len(payload) == 0 {
		return 0, false
	}
	switch payload[0] {
	case DevHandshakeInit, DevHandshakeComplete, DevMessage, DevMessageResponse:
		return payload[0], true
	default:
		return 0, false
	}
}

// HandshakeInit is sent by the invite acceptor to the inviter, consuming
// the invite's preimage and proposing the acceptor's own preimage for the
// inviter's future replies.
type HandshakeInit struct {
	SenderID52      [32]byte
	PreimageForPeer [32]byte
	RelayURL        string
}

func (m HandshakeInit) Bytes() []byte {
	buf := make([]byte, 0, 1+32+32+2+len(m.RelayURL))
	buf = append(buf, DevHandshakeInit)
	buf = append(buf, m.SenderID52[:]...)
	buf = append(buf, m.PreimageForPeer[:]...)
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(m.RelayURL)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, m.RelayURL...)
	return buf
}

func ParseHandshakeInit(data []byte) (HandshakeInit, error) {
	if len(data) < 1+32+32+2 || data[0] != DevHandshakeInit {
		return HandshakeInit{}, fmt.Errorf("HANDSHAKE_INIT malformed")
	}
	var m HandshakeInit
	copy(m.SenderID52[:], data[1:33])
	copy(m.PreimageForPeer[:], data[33:65])
	urlLen := int(binary.BigEndian.Uint16(data[65:67]))
	if len(data) < 67+urlLen {
		return HandshakeInit{}, fmt.Errorf("HANDSHAKE_INIT relay_url truncated")
	}
	m.RelayURL = string(data[67 : 67+urlLen])
	return m, nil
}

// HandshakeComplete is the inviter's reply to HandshakeInit: either
// acceptance (carrying the inviter's preimage for the acceptor's replies)
// or rejection.
type HandshakeComplete struct {
	Status          uint8
	PreimageForPeer [32]byte
	RelayURL        string
}

func (m HandshakeComplete) Bytes() []byte {
	buf := make([]byte, 0, 1+1+32+2+len(m.RelayURL))
	buf = append(buf, DevHandshakeComplete)
	buf = append(buf, m.Status)
	buf = append(buf, m.PreimageForPeer[:]...)
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(m.RelayURL)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, m.RelayURL...)
	return buf
}

func ParseHandshakeComplete(data []byte) (HandshakeComplete, error) {
	if len(data) < 1+1+32+2 || data[0] != DevHandshakeComplete {
		return HandshakeComplete{}, fmt.Errorf("HANDSHAKE_COMPLETE malformed")
	}
	var m HandshakeComplete
	m.Status = data[1]
	copy(m.PreimageForPeer[:], data[2:34])
	urlLen := int(binary.BigEndian.Uint16(data[34:36]))
	if len(data) < 36+urlLen {
		return HandshakeComplete{}, fmt.Errorf("HANDSHAKE_COMPLETE relay_url truncated")
	}
	m.RelayURL = string(data[36 : 36+urlLen])
	return m, nil
}

// Content is a generic, non-command payload exchanged between two paired
// endpoints — for carrying application data that isn't a JSON command, such
// as a firmware blob or a sensor reading batch. It rides the same SEND /
// DELIVER / ACK plumbing as commands but is tagged with its own
// discriminator so a receiver never has to guess at JSON-decode time.
type Content struct {
	ContentType byte
	RelayURL    string
	Payload     []byte
}

func (m Content) Bytes() []byte {
	buf := make([]byte, 0, 1+1+2+len(m.RelayURL)+4+len(m.Payload))
	buf = append(buf, DevMessage)
	buf = append(buf, m.ContentType)
	var urlLenBuf [2]byte
	binary.BigEndian.PutUint16(urlLenBuf[:], uint16(len(m.RelayURL)))
	buf = append(buf, urlLenBuf[:]...)
	buf = append(buf, m.RelayURL...)
	var payloadLenBuf [4]byte
	binary.BigEndian.PutUint32(payloadLenBuf[:], uint32(len(m.Payload)))
	buf = append(buf, payloadLenBuf[:]...)
	buf = append(buf, m.Payload...)
	return buf
}

func ParseContent(data []byte) (Content, error) {
	if len(data) < 1+1+2 || data[0] != DevMessage {
		return Content{}, fmt.Errorf("MESSAGE malformed")
	}
	var m Content
	m.ContentType = data[1]
	urlLen := int(binary.BigEndian.Uint16(data[2:4]))
	pos := 4
	if len(data) < pos+urlLen+4 {
		return Content{}, fmt.Errorf("MESSAGE relay_url truncated")
	}
	m.RelayURL = string(data[pos : pos+urlLen])
	pos += urlLen
	payloadLen := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if len(data) < pos+payloadLen {
		return Content{}, fmt.Errorf("MESSAGE content truncated")
	}
	m.Payload = append([]byte(nil), data[pos:pos+payloadLen]...)
	return m, nil
}

// ContentResponse answers a Content message, always carrying a successor
// preimage the same way HANDSHAKE_COMPLETE does.
type ContentResponse struct {
	Status       uint8
	NextPreimage [32]byte
	RelayURL     string
	Payload      []byte
}

func (m ContentResponse) Bytes() []byte {
	buf := make([]byte, 0, 1+1+32+2+len(m.RelayURL)+4+len(m.Payload))
	buf = append(buf, DevMessageResponse)
	buf = append(buf, m.Status)
	buf = append(buf, m.NextPreimage[:]...)
	var urlLenBuf [2]byte
	binary.BigEndian.PutUint16(urlLenBuf[:], uint16(len(m.RelayURL)))
	buf = append(buf, urlLenBuf[:]...)
	buf = append(buf, m.RelayURL...)
	var payloadLenBuf [4]byte
	binary.BigEndian.PutUint32(payloadLenBuf[:], uint32(len(m.Payload)))
	buf = append(buf, payloadLenBuf[:]...)
	buf = append(buf, m.Payload...)
	return buf
}

func ParseContentResponse(data []byte) (ContentResponse, error) {
	if len(data) < 1+1+32+2 || data[0] != DevMessageResponse {
		return ContentResponse{}, fmt.Errorf("MESSAGE_RESPONSE malformed")
	}
	var m ContentResponse
	m.Status = data[1]
	copy(m.NextPreimage[:], data[2:34])
	urlLen := int(binary.BigEndian.Uint16(data[34:36]))
	pos := 36
	if len(data) < pos+urlLen+4 {
		return ContentResponse{}, fmt.Errorf("MESSAGE_RESPONSE relay_url truncated")
	}
	m.RelayURL = string(data[pos : pos+urlLen])
	pos += urlLen
	payloadLen := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if len(data) < pos+payloadLen {
		return ContentResponse{}, fmt.Errorf("MESSAGE_RESPONSE content truncated")
	}
	m.Payload = append([]byte(nil), data[pos:pos+payloadLen]...)
	return m, nil
}

package wire

import (
	"encoding/binary"
	"fmt"
)

// SEND_RESULT status codes.
const (
	SendOK                  uint8 = 0
	SendErrNotConnected     uint8 = 1
	SendErrInvalidPreimage  uint8 = 2
	SendErrTimeout          uint8 = 3
	SendErrDisconnected     uint8 = 4
)

// StatusString renders a SEND_RESULT status for logging.
func StatusString(status uint8) string {
	switch status {
	case SendOK:
		return "success"
	case SendErrNotConnected:
		return "not connected"
	case SendErrInvalidPreimage:
		return "invalid preimage"
	case SendErrTimeout:
		return "timeout"
	case SendErrDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// helloVersion is the protocol version advertised in every HELLO.
const helloVersion uint8 = 1

// Hello is sent by the relay immediately after accepting a connection.
type Hello struct {
	Version        uint8
	Nonce          uint32
	MaxPayloadSize uint32
}

// NewHello builds a HELLO with the current protocol version.
func NewHello(nonce, maxPayloadSize uint32) Hello {
	return Hello{Version: helloVersion, Nonce: nonce, MaxPayloadSize: maxPayloadSize}
}

func (h Hello) Bytes() []byte {
	buf := make([]byte, 9)
	buf[0] = h.Version
	binary.BigEndian.PutUint32(buf[1:5], h.Nonce)
	binary.BigEndian.PutUint32(buf[5:9], h.MaxPayloadSize)
	return buf
}

func ParseHello(data []byte) (Hello, error) {
	if len(data) < 9 {
		return Hello{}, fmt.Errorf("HELLO too short: %d bytes", len(data))
	}
	return Hello{
		Version:        data[0],
		Nonce:          binary.BigEndian.Uint32(data[1:5]),
		MaxPayloadSize: binary.BigEndian.Uint32(data[5:9]),
	}, nil
}

// RecentResponse lets a reconnecting device hand the relay its cached
// responses so idempotent retries still resolve from cache after a fresh
// TCP connection (the response cache itself lives on the relay, but the
// device is the only party durable across the relay's own restarts).
type RecentResponse struct {
	Preimage [32]byte
	Response []byte
}

// IAm authenticates a device to the relay and registers its valid commits.
type IAm struct {
	ID52           [32]byte
	Signature      [64]byte
	Commits        [][32]byte
	RecentResponses []RecentResponse
}

func (m IAm) Bytes() []byte {
	size := 32 + 64 + 2 + len(m.Commits)*32 + 2
	for _, r := range m.RecentResponses {
		size += 32 + 4 + len(r.Response)
	}

	buf := make([]byte, 0, size)
	buf = append(buf, m.ID52[:]...)
	buf = append(buf, m.Signature[:]...)

	var countBuf [2]byte
	binary.BigEndian.PutUint16(countBuf[:], uint16(len(m.Commits)))
	buf = append(buf, countBuf[:]...)
	for _, c := range m.Commits {
		buf = append(buf, c[:]...)
	}

	binary.BigEndian.PutUint16(countBuf[:], uint16(len(m.RecentResponses)))
	buf = append(buf, countBuf[:]...)
	for _, r := range m.RecentResponses {
		buf = append(buf, r.Preimage[:]...)
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(r.Response)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, r.Response...)
	}
	return buf
}

func ParseIAm(data []byte) (IAm, error) {
	if len(data) < 32+64+2 {
		return IAm{}, fmt.Errorf("I_AM too short: %d bytes", len(data))
	}

	var m IAm
	copy(m.ID52[:], data[0:32])
	copy(m.Signature[:], data[32:96])
	commitCount := int(binary.BigEndian.Uint16(data[96:98]))

	commitsEnd := 98 + commitCount*32
	if len(data) < commitsEnd+2 {
		return IAm{}, fmt.Errorf("I_AM commits truncated")
	}

	m.Commits = make([][32]byte, commitCount)
	for i := 0; i < commitCount; i++ {
		start := 98 + i*32
		copy(m.Commits[i][:], data[start:start+32])
	}

	responseCount := int(binary.BigEndian.Uint16(data[commitsEnd : commitsEnd+2]))
	pos := commitsEnd + 2
	m.RecentResponses = make([]RecentResponse, 0, responseCount)
	for i := 0; i < responseCount; i++ {
		if len(data) < pos+36 {
			return IAm{}, fmt.Errorf("I_AM responses truncated")
		}
		var r RecentResponse
		copy(r.Preimage[:], data[pos:pos+32])
		respLen := int(binary.BigEndian.Uint32(data[pos+32 : pos+36]))
		pos += 36

		if len(data) < pos+respLen {
			return IAm{}, fmt.Errorf("I_AM response data truncated")
		}
		r.Response = append([]byte(nil), data[pos:pos+respLen]...)
		pos += respLen

		m.RecentResponses = append(m.RecentResponses, r)
	}

	return m, nil
}

// Send asks the relay to deliver payload to the recipient named by ToID52,
// gated by the commit the preimage hashes to.
type Send struct {
	ToID52   [32]byte
	Preimage [32]byte
	Payload  []byte
}

func (m Send) Bytes() []byte {
	buf := make([]byte, 0, 32+32+4+len(m.Payload))
	buf = append(buf, m.ToID52[:]...)
	buf = append(buf, m.Preimage[:]...)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(m.Payload)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, m.Payload...)
	return buf
}

func ParseSend(data []byte) (Send, error) {
	if len(data) < 32+32+4 {
		return Send{}, fmt.Errorf("SEND too short: %d bytes", len(data))
	}
	var m Send
	copy(m.ToID52[:], data[0:32])
	copy(m.Preimage[:], data[32:64])
	payloadLen := int(binary.BigEndian.Uint32(data[64:68]))
	if len(data) < 68+payloadLen {
		return Send{}, fmt.Errorf("SEND payload truncated")
	}
	m.Payload = append([]byte(nil), data[68:68+payloadLen]...)
	return m, nil
}

// UpdateCommits adds newly valid commits to an already-authenticated
// connection, without a full re-handshake.
type UpdateCommits struct {
	Commits [][32]byte
}

func (m UpdateCommits) Bytes() []byte {
	buf := make([]byte, 0, 2+len(m.Commits)*32)
	var countBuf [2]byte
	binary.BigEndian.PutUint16(countBuf[:], uint16(len(m.Commits)))
	buf = append(buf, countBuf[:]...)
	for _, c := range m.Commits {
		buf = append(buf, c[:]...)
	}
	return buf
}

func ParseUpdateCommits(data []byte) (UpdateCommits, error) {
	if len(data) < 2 {
		return UpdateCommits{}, fmt.Errorf("UPDATE_COMMITS too short")
	}
	count := int(binary.BigEndian.Uint16(data[0:2]))
	if len(data) < 2+count*32 {
		return UpdateCommits{}, fmt.Errorf("UPDATE_COMMITS truncated")
	}
	commits := make([][32]byte, count)
	for i := 0; i < count; i++ {
		start := 2 + i*32
		copy(commits[i][:], data[start:start+32])
	}
	return UpdateCommits{Commits: commits}, nil
}

// Deliver is the relay forwarding a routed message to its recipient. The
// gating preimage rides along so the recipient can resolve it against its
// own invites/peers to learn who sent the message — the relay has already
// validated it against the recipient's commit set, so this is a trusted
// assertion of sender identity, not a fresh credential to re-check.
type Deliver struct {
	MsgID    uint32
	Preimage [32]byte
	Payload  []byte
}

func (m Deliver) Bytes() []byte {
	buf := make([]byte, 4+32+4+len(m.Payload))
	binary.BigEndian.PutUint32(buf[0:4], m.MsgID)
	copy(buf[4:36], m.Preimage[:])
	binary.BigEndian.PutUint32(buf[36:40], uint32(len(m.Payload)))
	copy(buf[40:], m.Payload)
	return buf
}

func ParseDeliver(data []byte) (Deliver, error) {
	if len(data) < 4+32+4 {
		return Deliver{}, fmt.Errorf("DELIVER too short: %d bytes", len(data))
	}
	var m Deliver
	m.MsgID = binary.BigEndian.Uint32(data[0:4])
	copy(m.Preimage[:], data[4:36])
	payloadLen := int(binary.BigEndian.Uint32(data[36:40]))
	if len(data) < 40+payloadLen {
		return Deliver{}, fmt.Errorf("DELIVER payload truncated")
	}
	m.Payload = append([]byte(nil), data[40:40+payloadLen]...)
	return m, nil
}

// Ack is the recipient's reply to a DELIVER, routed back to the sender as
// the SEND_RESULT payload.
type Ack struct {
	MsgID   uint32
	Payload []byte
}

func (m Ack) Bytes() []byte {
	buf := make([]byte, 8+len(m.Payload))
	binary.BigEndian.PutUint32(buf[0:4], m.MsgID)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(m.Payload)))
	copy(buf[8:], m.Payload)
	return buf
}

func ParseAck(data []byte) (Ack, error) {
	if len(data) < 8 {
		return Ack{}, fmt.Errorf("ACK too short: %d bytes", len(data))
	}
	msgID := binary.BigEndian.Uint32(data[0:4])
	payloadLen := int(binary.BigEndian.Uint32(data[4:8]))
	if len(data) < 8+payloadLen {
		return Ack{}, fmt.Errorf("ACK payload truncated")
	}
	return Ack{MsgID: msgID, Payload: append([]byte(nil), data[8:8+payloadLen]...)}, nil
}

// SendResult is the relay's reply to a SEND, carrying either the
// recipient's response or a routing failure status.
type SendResult struct {
	Status  uint8
	Payload []byte
}

func SendResultOK(payload []byte) SendResult {
	return SendResult{Status: SendOK, Payload: payload}
}

func SendResultError(status uint8) SendResult {
	return SendResult{Status: status}
}

func (m SendResult) Bytes() []byte {
	buf := make([]byte, 5+len(m.Payload))
	buf[0] = m.Status
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(m.Payload)))
	copy(buf[5:], m.Payload)
	return buf
}

func ParseSendResult(data []byte) (SendResult, error) {
	if len(data) < 5 {
		return SendResult{}, fmt.Errorf("SEND_RESULT too short: %d bytes", len(data))
	}
	status := data[0]
	payloadLen := int(binary.BigEndian.Uint32(data[1:5]))
	if len(data) < 5+payloadLen {
		return SendResult{}, fmt.Errorf("SEND_RESULT payload truncated")
	}
	return SendResult{Status: status, Payload: append([]byte(nil), data[5:5+payloadLen]...)}, nil
}

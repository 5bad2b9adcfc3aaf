package node

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/latchnet/latch/capability"
	"github.com/latchnet/latch/identity"
	"github.com/latchnet/latch/wire"
)

// connection is a node's client-side link to a relay: dial, HELLO/I_AM
// handshake, then SEND/ACK/DELIVER framing on top of the raw socket.
type connection struct {
	conn net.Conn
}

// connectAnonymous dials addr and reads the relay's HELLO without replying
// with an I_AM, so the relay never learns this endpoint's identity — used
// for fire-and-forget SENDs where the sender expects no DELIVER back.
func connectAnonymous(addr string) (*connection, error) {
	c, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	if _, err := readHello(c); err != nil {
		c.Close()
		return nil, err
	}
	return &connection{conn: c}, nil
}

// connect dials addr and completes the I_AM handshake, registering commits
// with the relay so it can receive DELIVERs gated by them.
func connect(addr string, id *identity.Identity, commits []capability.Commit) (*connection, error) {
	c, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	hello, err := readHello(c)
	if err != nil {
		c.Close()
		return nil, err
	}

	msg := make([]byte, 4+32)
	binary.BigEndian.PutUint32(msg[0:4], hello.Nonce)
	pub := id.ID()
	copy(msg[4:], pub[:])
	signature := id.Sign(msg)

	iAm := wire.IAm{ID52: pub}
	copy(iAm.Signature[:], signature)
	for _, commit := range commits {
		iAm.Commits = append(iAm.Commits, [32]byte(commit))
	}

	if err := wire.WriteFrame(c, wire.Frame{Type: wire.MsgIAm, Payload: iAm.Bytes()}); err != nil {
		c.Close()
		return nil, fmt.Errorf("send I_AM: %w", err)
	}

	return &connection{conn: c}, nil
}

func readHello(c net.Conn) (wire.Hello, error) {
	frame, err := wire.ReadFrame(c)
	if err != nil {
		return wire.Hello{}, fmt.Errorf("read HELLO: %w", err)
	}
	if frame.Type != wire.MsgHello {
		return wire.Hello{}, fmt.Errorf("expected HELLO, got frame type 0x%04x", frame.Type)
	}
	return wire.ParseHello(frame.Payload)
}

// send delivers payload to toID gated by preimage and blocks for the
// relay's SEND_RESULT.
func (c *connection) send(toID identity.ID, preimage capability.Preimage, payload []byte) (wire.SendResult, error) {
	send := wire.Send{ToID52: toID, Preimage: preimage, Payload: payload}
	if err := wire.WriteFrame(c.conn, wire.Frame{Type: wire.MsgSend, Payload: send.Bytes()}); err != nil {
		return wire.SendResult{}, fmt.Errorf("write SEND: %w", err)
	}

	frame, err := wire.ReadFrame(c.conn)
	if err != nil {
		return wire.SendResult{}, fmt.Errorf("read SEND_RESULT: %w", err)
	}
	if frame.Type != wire.MsgSendResult {
		return wire.SendResult{}, fmt.Errorf("expected SEND_RESULT, got frame type 0x%04x", frame.Type)
	}
	return wire.ParseSendResult(frame.Payload)
}

// sendAck replies to a DELIVER with msgID, completing the round trip for
// whoever is blocked in RouteMessage waiting on it.
func (c *connection) sendAck(msgID uint32, payload []byte) error {
	ack := wire.Ack{MsgID: msgID, Payload: payload}
	if err := wire.WriteFrame(c.conn, wire.Frame{Type: wire.MsgAck, Payload: ack.Bytes()}); err != nil {
		return fmt.Errorf("write ACK: %w", err)
	}
	return nil
}

// updateCommits adds newly valid commits to the live connection without a
// full I_AM re-handshake, e.g. after this endpoint renews a preimage.
func (c *connection) updateCommits(commits []capability.Commit) error {
	update := wire.UpdateCommits{}
	for _, commit := range commits {
		update.Commits = append(update.Commits, [32]byte(commit))
	}
	if err := wire.WriteFrame(c.conn, wire.Frame{Type: wire.MsgUpdateCommits, Payload: update.Bytes()}); err != nil {
		return fmt.Errorf("write UPDATE_COMMITS: %w", err)
	}
	return nil
}

// receiveDeliver blocks for the next routed message the relay has for this
// connection.
func (c *connection) receiveDeliver() (wire.Deliver, error) {
	frame, err := wire.ReadFrame(c.conn)
	if err != nil {
		return wire.Deliver{}, err
	}
	if frame.Type != wire.MsgDeliver {
		return wire.Deliver{}, fmt.Errorf("expected DELIVER, got frame type 0x%04x", frame.Type)
	}
	return wire.ParseDeliver(frame.Payload)
}

func (c *connection) close() error {
	return c.conn.Close()
}

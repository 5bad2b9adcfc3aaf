package relay

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log"
	"net"

	"github.com/latchnet/latch/capability"
	"github.com/latchnet/latch/identity"
	"github.com/latchnet/latch/wire"
)

// maxPayloadSize is advertised to devices in HELLO; it is informational —
// the hard cap enforced on the wire is wire.MaxFrameLength.
const maxPayloadSize = 64 * 1024

// Session drives a single device connection: it sends the HELLO challenge,
// authenticates the device's I_AM, and then reactor-loops between reading
// inbound frames and draining outbound deliveries the router assigns to
// this device, until the connection closes.
type Session struct {
	conn   net.Conn
	router *Router
	nonce  uint32
	id     identity.ID
	hasID  bool

	// pendingByMsgID tracks in-flight DELIVERs this session itself
	// originated, so CancelPending can release their senders on close.
	pendingByMsgID []uint32
}

// NewSession wraps conn in a Session bound to router, with a fresh random
// nonce for the I_AM signature challenge.
func NewSession(conn net.Conn, router *Router) (*Session, error) {
	var nonceBytes [4]byte
	if _, err := rand.Read(nonceBytes[:]); err != nil {
		return nil, fmt.Errorf("generate session nonce: %w", err)
	}
	return &Session{
		conn:   conn,
		router: router,
		nonce:  binary.BigEndian.Uint32(nonceBytes[:]),
	}, nil
}

// Run sends HELLO and then services the connection until it closes or
// fails. It always unregisters the session's identity before returning.
func (s *Session) Run() error {
	hello := wire.NewHello(s.nonce, maxPayloadSize)
	if err := wire.WriteFrame(s.conn, wire.Frame{Type: wire.MsgHello, Payload: hello.Bytes()}); err != nil {
		return fmt.Errorf("send HELLO: %w", err)
	}

	deliveries := make(chan PendingDelivery, deliveryQueueDepth)
	frames := make(chan wire.Frame)
	readErrs := make(chan error, 1)

	go func() {
		for {
			frame, err := wire.ReadFrame(s.conn)
			if err != nil {
				readErrs <- err
				return
			}
			frames <- frame
		}
	}()

	defer s.cleanup()

	for {
		select {
		case frame := <-frames:
			cont, err := s.handleFrame(frame, deliveries)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		case delivery := <-deliveries:
			if err := s.sendDelivery(delivery); err != nil {
				return err
			}
		case err := <-readErrs:
			return err
		}
	}
}

func (s *Session) cleanup() {
	if s.hasID {
		s.router.Unregister(s.id)
	}
	s.router.CancelPending(s.pendingByMsgID...)
}

func (s *Session) handleFrame(frame wire.Frame, deliveries chan PendingDelivery) (bool, error) {
	switch frame.Type {
	case wire.MsgIAm:
		iAm, err := wire.ParseIAm(frame.Payload)
		if err != nil {
			return false, err
		}
		if err := s.handleIAm(iAm, deliveries); err != nil {
			return false, err
		}
	case wire.MsgSend:
		send, err := wire.ParseSend(frame.Payload)
		if err != nil {
			return false, err
		}
		if err := s.handleSend(send); err != nil {
			return false, err
		}
	case wire.MsgAck:
		ack, err := wire.ParseAck(frame.Payload)
		if err != nil {
			return false, err
		}
		s.router.HandleAck(ack.MsgID, ack.Payload)
	case wire.MsgUpdateCommits:
		update, err := wire.ParseUpdateCommits(frame.Payload)
		if err != nil {
			return false, err
		}
		if s.hasID {
			s.router.devicesMu.Lock()
			if device, found := s.router.devices[s.id]; found {
				for _, c := range update.Commits {
					device.commits[capability.Commit(c)] = struct{}{}
				}
			}
			s.router.devicesMu.Unlock()
		}
	case wire.MsgKeepalive:
		// no-op; reading the frame is enough to keep the connection alive
	default:
		log.Printf("session: unknown frame type 0x%04x", frame.Type)
	}
	return true, nil
}

func (s *Session) handleIAm(iAm wire.IAm, deliveries chan PendingDelivery) error {
	var id identity.ID
	copy(id[:], iAm.ID52[:])

	msg := make([]byte, 4+32)
	binary.BigEndian.PutUint32(msg[0:4], s.nonce)
	copy(msg[4:], iAm.ID52[:])

	if !identity.Verify(id, msg, iAm.Signature[:]) {
		return fmt.Errorf("I_AM signature verification failed for %s", id)
	}

	log.Printf("session: I_AM verified for %s (%d commits, %d recent responses)", id, len(iAm.Commits), len(iAm.RecentResponses))

	if s.hasID {
		s.router.Unregister(s.id)
	}

	commits := make([]capability.Commit, len(iAm.Commits))
	for i, c := range iAm.Commits {
		commits[i] = capability.Commit(c)
	}

	recent := make([]RecentResponse, len(iAm.RecentResponses))
	for i, r := range iAm.RecentResponses {
		recent[i] = RecentResponse{Preimage: capability.Preimage(r.Preimage), Response: r.Response}
	}

	s.id = id
	s.hasID = true
	s.router.Register(id, commits, recent, deliveries)
	return nil
}

func (s *Session) handleSend(send wire.Send) error {
	var toID identity.ID
	copy(toID[:], send.ToID52[:])
	preimage := capability.Preimage(send.Preimage)

	log.Printf("session: SEND to %s (%d bytes)", toID, len(send.Payload))

	outcome := s.router.RouteMessage(context.Background(), toID, preimage, send.Payload)
	log.Printf("session: -> %s (%d bytes response)", wire.StatusString(outcome.Status), len(outcome.Payload))

	result := wire.SendResult{Status: outcome.Status, Payload: outcome.Payload}
	if err := wire.WriteFrame(s.conn, wire.Frame{Type: wire.MsgSendResult, Payload: result.Bytes()}); err != nil {
		return fmt.Errorf("write SEND_RESULT: %w", err)
	}
	return nil
}

func (s *Session) sendDelivery(delivery PendingDelivery) error {
	s.pendingByMsgID = append(s.pendingByMsgID, delivery.MsgID)
	deliver := wire.Deliver{MsgID: delivery.MsgID, Preimage: delivery.Preimage, Payload: delivery.Payload}
	if err := wire.WriteFrame(s.conn, wire.Frame{Type: wire.MsgDeliver, Payload: deliver.Bytes()}); err != nil {
		return fmt.Errorf("write DELIVER: %w", err)
	}
	return nil
}

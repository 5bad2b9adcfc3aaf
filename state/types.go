// Package state manages the three associative collections an endpoint
// persists across restarts: invites it has issued, peers it is mid-pairing
// with, and peers it has fully paired with.
package state

import (
	"github.com/latchnet/latch/capability"
	"github.com/latchnet/latch/identity"
)

// PeerRole determines which commands a peer is permitted to invoke.
type PeerRole int

const (
	// RoleReader can only invoke read-only commands.
	RoleReader PeerRole = iota
	// RoleWriter can read and modify device state.
	RoleWriter
	// RoleOwner has full control, including invite management.
	RoleOwner
)

func (r PeerRole) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleWriter:
		return "writer"
	default:
		return "reader"
	}
}

// ParseRole parses the lowercase role names accepted over the wire,
// defaulting to RoleReader for anything unrecognized — matching the
// "unknown role string falls back to reader" behavior a sender relies on
// when issuing a loosely-typed invite/create request.
func ParseRole(s string) PeerRole {
	switch s {
	case "owner":
		return RoleOwner
	case "writer":
		return RoleWriter
	default:
		return RoleReader
	}
}

// InviteRecord is a pending invite this endpoint created, awaiting a
// HANDSHAKE_INIT that presents the matching preimage.
type InviteRecord struct {
	Alias     string               `json:"alias"`
	Preimage  capability.Preimage  `json:"-"`
	Role      PeerRole             `json:"role"`
	CreatedAt int64                `json:"created_at"`
}

// PendingPeerRecord tracks a peer this endpoint has started pairing with
// (by accepting their invite token) but has not yet completed a handshake
// with.
type PendingPeerRecord struct {
	Alias         string              `json:"alias"`
	TheirID       identity.ID         `json:"-"`
	TheirPreimage capability.Preimage `json:"-"`
	MyPreimage    capability.Preimage `json:"-"`
	RelayURL      string              `json:"relay_url"`
	CreatedAt     int64               `json:"created_at"`
}

// PeerRecord is a fully paired peer: bidirectional communication is
// possible.
type PeerRecord struct {
	Alias          string                `json:"alias"`
	Role           PeerRole              `json:"role"`
	LastKnownRelay string                `json:"last_known_relay"`
	LastContacted  int64                 `json:"last_contacted"`
	// IssuedPreimages are preimages this endpoint has handed to the peer —
	// the peer presents one of these to send us a message.
	IssuedPreimages []capability.Preimage `json:"-"`
	// TheirPreimage is the preimage this endpoint presents to message the
	// peer; absent until the peer has issued one.
	TheirPreimage   *capability.Preimage  `json:"-"`
}

package state

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/latchnet/latch/capability"
	"github.com/latchnet/latch/identity"
)

// serializableDoc mirrors State for JSON persistence, using hex strings for
// the byte-array map keys JSON cannot carry natively.
type serializableDoc struct {
	Invites      map[string]serializableInvite      `json:"invites"`
	PendingPeers map[string]serializablePendingPeer  `json:"pending_peers"`
	Peers        map[string]serializablePeer         `json:"peers"`
}

type serializableInvite struct {
	Alias     string   `json:"alias"`
	Preimage  string   `json:"preimage"`
	Role      PeerRole `json:"role"`
	CreatedAt int64    `json:"created_at"`
}

type serializablePendingPeer struct {
	Alias         string `json:"alias"`
	TheirID       string `json:"their_id52"`
	TheirPreimage string `json:"their_preimage"`
	MyPreimage    string `json:"my_preimage"`
	RelayURL      string `json:"relay_url"`
	CreatedAt     int64  `json:"created_at"`
}

type serializablePeer struct {
	Alias           string   `json:"alias"`
	Role            PeerRole `json:"role"`
	LastKnownRelay  string   `json:"last_known_relay"`
	LastContacted   int64    `json:"last_contacted"`
	IssuedPreimages []string `json:"issued_preimages"`
	TheirPreimage   *string  `json:"their_preimage,omitempty"`
}

func (r PeerRole) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *PeerRole) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*r = ParseRole(s)
	return nil
}

// Load reads state from path, or returns an empty State if the file does
// not exist yet — mirroring DeviceState::load's "missing file means fresh
// start" behavior.
func Load(path string) (*State, error) {
	s := newEmpty(path)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var doc serializableDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}

	for hexKey, inv := range doc.Invites {
		preimage, err := decodePreimage(inv.Preimage)
		if err != nil {
			return nil, fmt.Errorf("invite %s: %w", hexKey, err)
		}
		s.invites[preimage] = InviteRecord{Alias: inv.Alias, Preimage: preimage, Role: inv.Role, CreatedAt: inv.CreatedAt}
	}

	for hexKey, pp := range doc.PendingPeers {
		id, err := identity.ParseHexID(hexKey)
		if err != nil {
			return nil, fmt.Errorf("pending peer %s: %w", hexKey, err)
		}
		theirID, err := identity.ParseHexID(pp.TheirID)
		if err != nil {
			return nil, fmt.Errorf("pending peer %s: %w", hexKey, err)
		}
		theirPreimage, err := decodePreimage(pp.TheirPreimage)
		if err != nil {
			return nil, fmt.Errorf("pending peer %s: %w", hexKey, err)
		}
		myPreimage, err := decodePreimage(pp.MyPreimage)
		if err != nil {
			return nil, fmt.Errorf("pending peer %s: %w", hexKey, err)
		}
		s.pendingPeers[id] = PendingPeerRecord{
			Alias:         pp.Alias,
			TheirID:       theirID,
			TheirPreimage: theirPreimage,
			MyPreimage:    myPreimage,
			RelayURL:      pp.RelayURL,
			CreatedAt:     pp.CreatedAt,
		}
	}

	for hexKey, p := range doc.Peers {
		id, err := identity.ParseHexID(hexKey)
		if err != nil {
			return nil, fmt.Errorf("peer %s: %w", hexKey, err)
		}
		issued := make([]capability.Preimage, 0, len(p.IssuedPreimages))
		for _, h := range p.IssuedPreimages {
			pre, err := decodePreimage(h)
			if err != nil {
				return nil, fmt.Errorf("peer %s: %w", hexKey, err)
			}
			issued = append(issued, pre)
		}
		var theirPreimage *capability.Preimage
		if p.TheirPreimage != nil {
			pre, err := decodePreimage(*p.TheirPreimage)
			if err != nil {
				return nil, fmt.Errorf("peer %s: %w", hexKey, err)
			}
			theirPreimage = &pre
		}
		s.peers[id] = PeerRecord{
			Alias:           p.Alias,
			Role:            p.Role,
			LastKnownRelay:  p.LastKnownRelay,
			LastContacted:   p.LastContacted,
			IssuedPreimages: issued,
			TheirPreimage:   theirPreimage,
		}
	}

	return s, nil
}

// save writes the state to its path. Callers must hold s.mu.
func (s *State) save() error {
	doc := serializableDoc{
		Invites:      make(map[string]serializableInvite, len(s.invites)),
		PendingPeers: make(map[string]serializablePendingPeer, len(s.pendingPeers)),
		Peers:        make(map[string]serializablePeer, len(s.peers)),
	}

	for preimage, inv := range s.invites {
		doc.Invites[hex.EncodeToString(preimage[:])] = serializableInvite{
			Alias:     inv.Alias,
			Preimage:  hex.EncodeToString(inv.Preimage[:]),
			Role:      inv.Role,
			CreatedAt: inv.CreatedAt,
		}
	}

	for id, pp := range s.pendingPeers {
		doc.PendingPeers[id.HexString()] = serializablePendingPeer{
			Alias:         pp.Alias,
			TheirID:       pp.TheirID.HexString(),
			TheirPreimage: hex.EncodeToString(pp.TheirPreimage[:]),
			MyPreimage:    hex.EncodeToString(pp.MyPreimage[:]),
			RelayURL:      pp.RelayURL,
			CreatedAt:     pp.CreatedAt,
		}
	}

	for id, p := range s.peers {
		issued := make([]string, 0, len(p.IssuedPreimages))
		for _, pre := range p.IssuedPreimages {
			issued = append(issued, hex.EncodeToString(pre[:]))
		}
		var theirPreimage *string
		if p.TheirPreimage != nil {
			h := hex.EncodeToString(p.TheirPreimage[:])
			theirPreimage = &h
		}
		doc.Peers[id.HexString()] = serializablePeer{
			Alias:           p.Alias,
			Role:            p.Role,
			LastKnownRelay:  p.LastKnownRelay,
			LastContacted:   p.LastContacted,
			IssuedPreimages: issued,
			TheirPreimage:   theirPreimage,
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize state: %w", err)
	}

	// Persist-before-ack: every mutating call writes to disk before it
	// returns, so a crash never loses a commit the caller believes it made.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func decodePreimage(h string) (capability.Preimage, error) {
	var p capability.Preimage
	decoded, err := hex.DecodeString(h)
	if err != nil {
		return p, fmt.Errorf("decode preimage: %w", err)
	}
	if len(decoded) != len(p) {
		return p, fmt.Errorf("decode preimage: expected %d bytes, got %d", len(p), len(decoded))
	}
	copy(p[:], decoded)
	return p, nil
}

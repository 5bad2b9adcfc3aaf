package state

import (
	"errors"
	"sync"
	"time"

	"github.com/latchnet/latch/capability"
	"github.com/latchnet/latch/identity"
)

var (
	// ErrAmbiguousAlias is returned when more than one established peer
	// shares the alias a caller looked up by.
	ErrAmbiguousAlias = errors.New("state: alias matches more than one peer")
	// ErrPeerNotFound is returned when no established peer matches a lookup.
	ErrPeerNotFound = errors.New("state: peer not found")
)

// State is an endpoint's persisted collections of invites, in-flight
// pairings, and established peers. All mutating methods persist to disk
// before returning.
type State struct {
	mu   sync.Mutex
	path string

	invites      map[capability.Preimage]InviteRecord
	pendingPeers map[identity.ID]PendingPeerRecord
	peers        map[identity.ID]PeerRecord
}

func newEmpty(path string) *State {
	return &State{
		path:         path,
		invites:      make(map[capability.Preimage]InviteRecord),
		pendingPeers: make(map[identity.ID]PendingPeerRecord),
		peers:        make(map[identity.ID]PeerRecord),
	}
}

func now() int64 { return time.Now().Unix() }

// CreateInvite generates a fresh preimage, records an invite for it under
// alias/role, persists, and returns the commit the relay should register.
func (s *State) CreateInvite(alias string, role PeerRole) (InviteRecord, capability.Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	preimage, err := capability.Generate()
	if err != nil {
		return InviteRecord{}, capability.Commit{}, err
	}
	commit := capability.CommitFor(preimage)

	record := InviteRecord{Alias: alias, Preimage: preimage, Role: role, CreatedAt: now()}
	s.invites[preimage] = record

	if err := s.save(); err != nil {
		return InviteRecord{}, capability.Commit{}, err
	}
	return record, commit, nil
}

// AcceptInvite records a pending pairing for an invite token received from
// another endpoint, generating this endpoint's own preimage for the
// peer's future replies.
func (s *State) AcceptInvite(theirID identity.ID, theirPreimage capability.Preimage, alias string) (capability.Preimage, capability.Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	myPreimage, err := capability.Generate()
	if err != nil {
		return capability.Preimage{}, capability.Commit{}, err
	}
	myCommit := capability.CommitFor(myPreimage)

	s.pendingPeers[theirID] = PendingPeerRecord{
		Alias:         alias,
		TheirID:       theirID,
		TheirPreimage: theirPreimage,
		MyPreimage:    myPreimage,
		CreatedAt:     now(),
	}

	if err := s.save(); err != nil {
		return capability.Preimage{}, capability.Commit{}, err
	}
	return myPreimage, myCommit, nil
}

// CompleteHandshakeAsInviter consumes the invite matching preimage and
// establishes peerID as a peer with the invite's role, returning a new
// preimage and commit to hand the peer in HANDSHAKE_COMPLETE. Returns
// ok=false if no invite matches preimage — the caller must reject the
// handshake in that case without mutating any other state.
func (s *State) CompleteHandshakeAsInviter(preimage capability.Preimage, peerID identity.ID, peerPreimage capability.Preimage, peerRelay string) (newPreimage capability.Preimage, newCommit capability.Commit, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	invite, found := s.invites[preimage]
	if !found {
		return capability.Preimage{}, capability.Commit{}, false, nil
	}
	delete(s.invites, preimage)

	newPreimage, err = capability.Generate()
	if err != nil {
		return capability.Preimage{}, capability.Commit{}, false, err
	}
	newCommit = capability.CommitFor(newPreimage)

	theirPreimage := peerPreimage
	s.peers[peerID] = PeerRecord{
		Alias:           invite.Alias,
		Role:            invite.Role,
		LastKnownRelay:  peerRelay,
		LastContacted:   now(),
		IssuedPreimages: []capability.Preimage{newPreimage},
		TheirPreimage:   &theirPreimage,
	}

	if err := s.save(); err != nil {
		return capability.Preimage{}, capability.Commit{}, false, err
	}
	return newPreimage, newCommit, true, nil
}

// CompleteHandshakeAsAcceptor finishes a pairing this endpoint initiated by
// accepting an invite token, moving the pending record into the
// established peer map. Returns ok=false if there is no pending peer for
// peerID.
func (s *State) CompleteHandshakeAsAcceptor(peerID identity.ID, peerPreimage capability.Preimage, peerRelay string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, found := s.pendingPeers[peerID]
	if !found {
		return false, nil
	}
	delete(s.pendingPeers, peerID)

	theirPreimage := peerPreimage
	s.peers[peerID] = PeerRecord{
		Alias:           pending.Alias,
		Role:            RoleReader, // not meaningful on the acceptor side; the peer enforces its own role for us
		LastKnownRelay:  peerRelay,
		LastContacted:   now(),
		IssuedPreimages: []capability.Preimage{pending.MyPreimage},
		TheirPreimage:   &theirPreimage,
	}

	if err := s.save(); err != nil {
		return false, err
	}
	return true, nil
}

// AllCommits returns the commit for every preimage this endpoint currently
// considers live: outstanding invites, pending pairings, and preimages
// issued to established peers. This is the set registered with the relay
// on every (re)connection.
func (s *State) AllCommits() []capability.Commit {
	s.mu.Lock()
	defer s.mu.Unlock()

	commits := make([]capability.Commit, 0, len(s.invites)+len(s.pendingPeers)+len(s.peers))
	for preimage := range s.invites {
		commits = append(commits, capability.CommitFor(preimage))
	}
	for _, pending := range s.pendingPeers {
		commits = append(commits, capability.CommitFor(pending.MyPreimage))
	}
	for _, peer := range s.peers {
		for _, preimage := range peer.IssuedPreimages {
			commits = append(commits, capability.CommitFor(preimage))
		}
	}
	return commits
}

// PreimageLookupKind distinguishes the two things a live preimage can
// belong to.
type PreimageLookupKind int

const (
	LookupNone PreimageLookupKind = iota
	LookupInvite
	LookupPeer
)

// PreimageLookup is the result of resolving an inbound preimage to the
// sender it was issued to.
type PreimageLookup struct {
	Kind   PreimageLookupKind
	Invite InviteRecord
	PeerID identity.ID
	Peer   PeerRecord
}

// LookupPreimage identifies who an inbound message's preimage was issued
// to: an outstanding invite (a HANDSHAKE_INIT) or an established peer (a
// command). Absence means the message is unauthorized.
func (s *State) LookupPreimage(preimage capability.Preimage) PreimageLookup {
	s.mu.Lock()
	defer s.mu.Unlock()

	if invite, found := s.invites[preimage]; found {
		return PreimageLookup{Kind: LookupInvite, Invite: invite}
	}
	for id, peer := range s.peers {
		for _, issued := range peer.IssuedPreimages {
			if issued == preimage {
				return PreimageLookup{Kind: LookupPeer, PeerID: id, Peer: peer}
			}
		}
	}
	return PreimageLookup{Kind: LookupNone}
}

// ConsumeAndRenewPreimage retires oldPreimage from peerID's issued set and
// issues a fresh one in its place, returning ok=false if peerID is not an
// established peer.
func (s *State) ConsumeAndRenewPreimage(peerID identity.ID, oldPreimage capability.Preimage) (newPreimage capability.Preimage, newCommit capability.Commit, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	peer, found := s.peers[peerID]
	if !found {
		return capability.Preimage{}, capability.Commit{}, false, nil
	}

	remaining := peer.IssuedPreimages[:0]
	for _, p := range peer.IssuedPreimages {
		if p != oldPreimage {
			remaining = append(remaining, p)
		}
	}

	newPreimage, err = capability.Generate()
	if err != nil {
		return capability.Preimage{}, capability.Commit{}, false, err
	}
	newCommit = capability.CommitFor(newPreimage)

	peer.IssuedPreimages = append(remaining, newPreimage)
	peer.LastContacted = now()
	s.peers[peerID] = peer

	if err := s.save(); err != nil {
		return capability.Preimage{}, capability.Commit{}, false, err
	}
	return newPreimage, newCommit, true, nil
}

// PeerPreimage returns the preimage this endpoint should present to
// message peerID, if the peer has issued one.
func (s *State) PeerPreimage(peerID identity.ID) (capability.Preimage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	peer, found := s.peers[peerID]
	if !found || peer.TheirPreimage == nil {
		return capability.Preimage{}, false
	}
	return *peer.TheirPreimage, true
}

// UpdatePeerPreimage records a new preimage this endpoint should present to
// peerID, after the peer renewed it in a response.
func (s *State) UpdatePeerPreimage(peerID identity.ID, newPreimage capability.Preimage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	peer, found := s.peers[peerID]
	if !found {
		return nil
	}
	peer.TheirPreimage = &newPreimage
	peer.LastContacted = now()
	s.peers[peerID] = peer

	return s.save()
}

// FindPeerByAlias resolves a human-chosen alias to the established peer it
// names. Returns ErrAmbiguousAlias if more than one peer shares the alias,
// and ErrPeerNotFound if none do.
func (s *State) FindPeerByAlias(alias string) (identity.ID, PeerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matchID identity.ID
	var match PeerRecord
	found := false
	for id, peer := range s.peers {
		if peer.Alias != alias {
			continue
		}
		if found {
			return identity.ID{}, PeerRecord{}, ErrAmbiguousAlias
		}
		matchID, match, found = id, peer, true
	}
	if !found {
		return identity.ID{}, PeerRecord{}, ErrPeerNotFound
	}
	return matchID, match, nil
}

// RemovePeer deletes an established peer by alias — this endpoint's only
// form of revocation, since roles are not otherwise mutable.
func (s *State) RemovePeer(alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var target identity.ID
	found := false
	for id, peer := range s.peers {
		if peer.Alias == alias {
			target, found = id, true
			break
		}
	}
	if !found {
		return ErrPeerNotFound
	}
	delete(s.peers, target)
	return s.save()
}

// ListInvites returns all outstanding invites.
func (s *State) ListInvites() map[capability.Preimage]InviteRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[capability.Preimage]InviteRecord, len(s.invites))
	for k, v := range s.invites {
		out[k] = v
	}
	return out
}

// ListPeers returns all established peers.
func (s *State) ListPeers() map[identity.ID]PeerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[identity.ID]PeerRecord, len(s.peers))
	for k, v := range s.peers {
		out[k] = v
	}
	return out
}

// DeleteInviteByHexPrefix removes the first outstanding invite whose
// preimage's hex encoding starts with prefix, matching the behavior of the
// invite/delete command's short-id matching.
func (s *State) DeleteInviteByHexPrefix(prefix string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for preimage, invite := range s.invites {
		if hexHasPrefix(preimage, prefix) {
			delete(s.invites, preimage)
			_ = invite
			return true, s.save()
		}
	}
	return false, nil
}

func hexHasPrefix(preimage capability.Preimage, prefix string) bool {
	const hexDigits = "0123456789abcdef"
	if len(prefix) > len(preimage)*2 {
		return false
	}
	for i := 0; i < len(prefix); i++ {
		b := preimage[i/2]
		var nibble byte
		if i%2 == 0 {
			nibble = b >> 4
		} else {
			nibble = b & 0x0f
		}
		if hexDigits[nibble] != prefix[i] {
			return false
		}
	}
	return true
}

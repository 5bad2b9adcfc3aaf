package state

import (
	"path/filepath"
	"testing"

	"github.com/latchnet/latch/capability"
	"github.com/latchnet/latch/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestState(t *testing.T) *State {
	t.Helper()
	s, err := Load(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	return s
}

func randID(t *testing.T) identity.ID {
	t.Helper()
	id, err := identity.LoadOrCreate(t.TempDir())
	require.NoError(t, err)
	return id.ID()
}

func TestCreateInviteAndLookup(t *testing.T) {
	s := newTestState(t)

	invite, commit, err := s.CreateInvite("phone", RoleWriter)
	require.NoError(t, err)
	assert.Equal(t, capability.CommitFor(invite.Preimage), commit)

	lookup := s.LookupPreimage(invite.Preimage)
	require.Equal(t, LookupInvite, lookup.Kind)
	assert.Equal(t, "phone", lookup.Invite.Alias)
	assert.Equal(t, RoleWriter, lookup.Invite.Role)
}

func TestFullHandshakeLifecycle(t *testing.T) {
	inviter := newTestState(t)
	acceptor := newTestState(t)
	inviterID := randID(t)
	acceptorID := randID(t)

	invite, _, err := inviter.CreateInvite("phone", RoleOwner)
	require.NoError(t, err)

	myPreimage, _, err := acceptor.AcceptInvite(inviterID, invite.Preimage, "switch")
	require.NoError(t, err)

	newPreimage, _, ok, err := inviter.CompleteHandshakeAsInviter(invite.Preimage, acceptorID, myPreimage, "relay:8443")
	require.NoError(t, err)
	require.True(t, ok)

	// The consumed invite is gone; a replay must fail.
	_, _, ok, err = inviter.CompleteHandshakeAsInviter(invite.Preimage, acceptorID, myPreimage, "relay:8443")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = acceptor.CompleteHandshakeAsAcceptor(inviterID, newPreimage, "relay:8443")
	require.NoError(t, err)
	require.True(t, ok)

	peerID, peer, err := acceptor.FindPeerByAlias("switch")
	require.NoError(t, err)
	assert.Equal(t, inviterID, peerID)
	require.NotNil(t, peer.TheirPreimage)
	assert.Equal(t, newPreimage, *peer.TheirPreimage)
}

func TestCompleteHandshakeAsInviterRejectsUnknownPreimage(t *testing.T) {
	s := newTestState(t)
	var bogus capability.Preimage
	_, _, ok, err := s.CompleteHandshakeAsInviter(bogus, randID(t), capability.Preimage{}, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConsumeAndRenewPreimage(t *testing.T) {
	inviter := newTestState(t)
	acceptorID := randID(t)

	invite, _, err := inviter.CreateInvite("phone", RoleReader)
	require.NoError(t, err)

	issued, _, ok, err := inviter.CompleteHandshakeAsInviter(invite.Preimage, acceptorID, capability.Preimage{1}, "")
	require.NoError(t, err)
	require.True(t, ok)

	newPreimage, _, ok, err := inviter.ConsumeAndRenewPreimage(acceptorID, issued)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, issued, newPreimage)

	lookup := inviter.LookupPreimage(issued)
	assert.Equal(t, LookupNone, lookup.Kind)

	lookup = inviter.LookupPreimage(newPreimage)
	assert.Equal(t, LookupPeer, lookup.Kind)
}

func TestFindPeerByAliasAmbiguous(t *testing.T) {
	s := newTestState(t)
	a, b := randID(t), randID(t)

	invite1, _, _ := s.CreateInvite("dup", RoleReader)
	_, _, _, _ = s.CompleteHandshakeAsInviter(invite1.Preimage, a, capability.Preimage{1}, "")

	invite2, _, _ := s.CreateInvite("dup", RoleReader)
	_, _, _, _ = s.CompleteHandshakeAsInviter(invite2.Preimage, b, capability.Preimage{2}, "")

	_, _, err := s.FindPeerByAlias("dup")
	assert.ErrorIs(t, err, ErrAmbiguousAlias)
}

func TestRemovePeer(t *testing.T) {
	s := newTestState(t)
	peerID := randID(t)

	invite, _, _ := s.CreateInvite("phone", RoleReader)
	_, _, _, err := s.CompleteHandshakeAsInviter(invite.Preimage, peerID, capability.Preimage{1}, "")
	require.NoError(t, err)

	require.NoError(t, s.RemovePeer("phone"))
	_, _, err = s.FindPeerByAlias("phone")
	assert.ErrorIs(t, err, ErrPeerNotFound)

	assert.ErrorIs(t, s.RemovePeer("phone"), ErrPeerNotFound)
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Load(path)
	require.NoError(t, err)

	peerID := randID(t)
	invite, _, err := s.CreateInvite("phone", RoleOwner)
	require.NoError(t, err)
	_, _, _, err = s.CompleteHandshakeAsInviter(invite.Preimage, peerID, capability.Preimage{7}, "relay:8443")
	require.NoError(t, err)

	_, _, err = s.CreateInvite("pending-invite", RoleReader)
	require.NoError(t, err)

	reloaded, err := Load(path)
	require.NoError(t, err)

	assert.Len(t, reloaded.ListPeers(), 1)
	assert.Len(t, reloaded.ListInvites(), 1)

	_, peer, err := reloaded.FindPeerByAlias("phone")
	require.NoError(t, err)
	assert.Equal(t, RoleOwner, peer.Role)
	assert.Equal(t, "relay:8443", peer.LastKnownRelay)
}

func TestDeleteInviteByHexPrefix(t *testing.T) {
	s := newTestState(t)
	invite, _, err := s.CreateInvite("phone", RoleReader)
	require.NoError(t, err)

	prefix := invite.Preimage
	hexPrefix := hexEncodeFirst8(prefix)

	deleted, err := s.DeleteInviteByHexPrefix(hexPrefix)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Empty(t, s.ListInvites())
}

func hexEncodeFirst8(p capability.Preimage) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 16)
	for i := 0; i < 8; i++ {
		out[i*2] = hexDigits[p[i]>>4]
		out[i*2+1] = hexDigits[p[i]&0x0f]
	}
	return string(out)
}

func TestInviteTokenRoundTrip(t *testing.T) {
	id := randID(t)
	preimage, err := capability.Generate()
	require.NoError(t, err)

	token := CreateInviteToken(id, preimage)
	assert.Len(t, token, 86)

	gotID, gotPreimage, err := ParseInviteToken(token)
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
	assert.Equal(t, preimage, gotPreimage)
}

func TestParseInviteTokenRejectsWrongLength(t *testing.T) {
	_, _, err := ParseInviteToken("dG9vc2hvcnQ")
	assert.Error(t, err)
}

package node_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/latchnet/latch/node"
	"github.com/latchnet/latch/relay"
	"github.com/latchnet/latch/state"
)

// startRelay boots a relay server on addr and tears it down when the test
// ends.
func startRelay(t *testing.T, addr string) {
	t.Helper()
	server := relay.NewServer(addr)
	ctx, cancel := context.WithCancel(context.Background())

	ready := make(chan struct{})
	go func() {
		// ListenAndServe binds synchronously before accepting, but offers no
		// direct signal of readiness; a short settle delay below covers it.
		close(ready)
		_ = server.ListenAndServe(ctx)
	}()
	<-ready
	time.Sleep(50 * time.Millisecond)

	t.Cleanup(cancel)
}

func newTestNode(t *testing.T, kind string) *node.Node {
	t.Helper()
	n, err := node.New(t.TempDir(), node.Config{Kind: kind})
	require.NoError(t, err)
	return n
}

func TestPairingHappyPath(t *testing.T) {
	const relayAddr = "127.0.0.1:18601"
	startRelay(t, relayAddr)

	owner := newTestNode(t, "smart-switch")
	controller := newTestNode(t, "mobile-app")

	go func() {
		_ = owner.Run(relayAddr)
	}()
	time.Sleep(50 * time.Millisecond)

	token, err := owner.CreateInvite("owner", state.RoleOwner)
	require.NoError(t, err)
	require.Len(t, token, 86)

	err = controller.Pair(relayAddr, token, "switch")
	require.NoError(t, err)

	require.Equal(t, 1, owner.PeerCount())
	require.Equal(t, 1, controller.PeerCount())

	peers := owner.ListPeers()
	require.Len(t, peers, 1)
	for _, peer := range peers {
		require.Equal(t, state.RoleOwner, peer.Role)
		require.Equal(t, "owner", peer.Alias)
	}
}

func TestSendToUnknownPeerAliasFails(t *testing.T) {
	const relayAddr = "127.0.0.1:18602"
	startRelay(t, relayAddr)

	owner := newTestNode(t, "smart-switch")
	go func() {
		_ = owner.Run(relayAddr)
	}()
	time.Sleep(50 * time.Millisecond)

	controller := newTestNode(t, "mobile-app")
	// No pairing has happened: controller has no peer, so Send fails locally
	// before ever reaching the relay.
	_, err := controller.Send(relayAddr, "switch", "status", nil)
	require.Error(t, err)
}

func TestCommandRoundTripAfterPairing(t *testing.T) {
	const relayAddr = "127.0.0.1:18603"
	startRelay(t, relayAddr)

	owner := newTestNode(t, "smart-switch")
	owner.Command("status", func(ctx node.CommandContext, args json.RawMessage) (any, error) {
		return map[string]bool{"is_on": false}, nil
	})
	go func() {
		_ = owner.Run(relayAddr)
	}()
	time.Sleep(50 * time.Millisecond)

	controller := newTestNode(t, "mobile-app")
	token, err := owner.CreateInvite("controller", state.RoleWriter)
	require.NoError(t, err)
	require.NoError(t, controller.Pair(relayAddr, token, "switch"))

	data, err := controller.Send(relayAddr, "switch", "status", nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"is_on":false}`, string(data))
}

func TestSendContentRoundTripAfterPairing(t *testing.T) {
	const relayAddr = "127.0.0.1:18605"
	startRelay(t, relayAddr)

	owner := newTestNode(t, "smart-switch")
	var gotContentType byte
	var gotPayload []byte
	owner.OnContent(func(ctx node.CommandContext, contentType byte, payload []byte) ([]byte, error) {
		gotContentType = contentType
		gotPayload = append([]byte(nil), payload...)
		return []byte("received"), nil
	})
	go func() {
		_ = owner.Run(relayAddr)
	}()
	time.Sleep(50 * time.Millisecond)

	controller := newTestNode(t, "mobile-app")
	token, err := owner.CreateInvite("controller", state.RoleWriter)
	require.NoError(t, err)
	require.NoError(t, controller.Pair(relayAddr, token, "switch"))

	resp, err := controller.SendContent(relayAddr, "switch", 1, []byte("firmware bytes"))
	require.NoError(t, err)
	require.Equal(t, []byte("received"), resp)
	require.Equal(t, byte(1), gotContentType)
	require.Equal(t, []byte("firmware bytes"), gotPayload)
}

func TestRoleEnforcementOnOwnerOnlyCommand(t *testing.T) {
	const relayAddr = "127.0.0.1:18604"
	startRelay(t, relayAddr)

	owner := newTestNode(t, "smart-switch")
	go func() {
		_ = owner.Run(relayAddr)
	}()
	time.Sleep(50 * time.Millisecond)

	reader := newTestNode(t, "mobile-app")
	token, err := owner.CreateInvite("viewer", state.RoleReader)
	require.NoError(t, err)
	require.NoError(t, reader.Pair(relayAddr, token, "switch"))

	_, err = reader.Send(relayAddr, "switch", "invite/create", map[string]string{"alias": "x"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "permission denied")
}

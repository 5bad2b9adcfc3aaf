// Package node implements an endpoint of the messaging fabric: something
// that can issue invites, pair with other endpoints, and both send and
// receive commands once paired. The same type serves a battery-powered
// sensor answering a handful of commands and a controlling app that issues
// them — only which methods a particular deployment calls differs.
package node

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/latchnet/latch/capability"
	"github.com/latchnet/latch/identity"
	"github.com/latchnet/latch/state"
	"github.com/latchnet/latch/wire"
)

const (
	stateFileName  = "state.json"
	configFileName = "config.json"
)

// Node is one participant in the fabric: a long-term identity, its
// persisted pairing state, and the command handlers it answers.
type Node struct {
	identity *identity.Identity
	state    *state.State

	home       string
	config     Config
	configPath string

	relayAddr      string
	handlers       map[string]CommandHandler
	contentHandler ContentHandler
}

// New creates or loads the node rooted at home, writing config.json on
// first run and reusing whatever is already there on subsequent ones.
func New(home string, config Config) (*Node, error) {
	if err := os.MkdirAll(home, 0o700); err != nil {
		return nil, fmt.Errorf("create home directory: %w", err)
	}

	id, err := identity.LoadOrCreate(home)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}

	statePath := filepath.Join(home, stateFileName)
	st, err := state.Load(statePath)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	configPath := filepath.Join(home, configFileName)
	loadedConfig, err := loadOrWriteConfig(configPath, config)
	if err != nil {
		return nil, err
	}

	return &Node{
		identity:   id,
		state:      st,
		home:       home,
		config:     loadedConfig,
		configPath: configPath,
		handlers:   make(map[string]CommandHandler),
	}, nil
}

func loadOrWriteConfig(path string, fallback Config) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		data, err := json.MarshalIndent(fallback, "", "  ")
		if err != nil {
			return Config{}, fmt.Errorf("serialize config: %w", err)
		}
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return Config{}, fmt.Errorf("write config: %w", err)
		}
		return fallback, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return fallback, nil
	}
	return config, nil
}

// ID52 returns the node's public identity in its id52 string form.
func (n *Node) ID52() string { return n.identity.ID().String() }

// Kind returns the node's configured kind (e.g. "smart-switch").
func (n *Node) Kind() string { return n.config.Kind }

// Location returns the node's configured location, if any.
func (n *Node) Location() string { return n.config.Location }

// IsPaired reports whether the node has any established peer or
// outstanding invite.
func (n *Node) IsPaired() bool {
	return len(n.state.ListPeers()) > 0 || len(n.state.ListInvites()) > 0
}

// PeerCount returns the number of established peers.
func (n *Node) PeerCount() int { return len(n.state.ListPeers()) }

// InviteCount returns the number of outstanding invites.
func (n *Node) InviteCount() int { return len(n.state.ListInvites()) }

// ListPeers returns every established peer, keyed by their id52.
func (n *Node) ListPeers() map[identity.ID]state.PeerRecord {
	return n.state.ListPeers()
}

// RemovePeer deletes an established peer by alias, revoking its access.
func (n *Node) RemovePeer(alias string) error {
	return n.state.RemovePeer(alias)
}

// CreateInvite issues a fresh invite for alias under role and returns the
// out-of-band token to hand the invitee.
func (n *Node) CreateInvite(alias string, role state.PeerRole) (string, error) {
	invite, _, err := n.state.CreateInvite(alias, role)
	if err != nil {
		return "", fmt.Errorf("create invite: %w", err)
	}
	return state.CreateInviteToken(n.identity.ID(), invite.Preimage), nil
}

// Pair consumes an invite token from another node, completing the pairing
// handshake over relayAddr and recording the peer as alias on success.
func (n *Node) Pair(relayAddr, token, alias string) error {
	theirID, theirPreimage, err := state.ParseInviteToken(token)
	if err != nil {
		return err
	}

	myPreimage, myCommit, err := n.state.AcceptInvite(theirID, theirPreimage, alias)
	if err != nil {
		return fmt.Errorf("accept invite: %w", err)
	}

	conn, err := connect(relayAddr, n.identity, []capability.Commit{myCommit})
	if err != nil {
		return err
	}
	defer conn.close()

	init := wire.HandshakeInit{
		SenderID52:      n.identity.ID(),
		PreimageForPeer: myPreimage,
		RelayURL:        relayAddr,
	}

	result, err := conn.send(theirID, theirPreimage, init.Bytes())
	if err != nil {
		return err
	}
	if result.Status != wire.SendOK {
		return fmt.Errorf("pair: send failed with status %q", wire.StatusString(result.Status))
	}

	complete, err := wire.ParseHandshakeComplete(result.Payload)
	if err != nil {
		return fmt.Errorf("pair: %w", err)
	}
	if complete.Status != wire.HandshakeAccepted {
		return fmt.Errorf("pair: handshake rejected")
	}

	ok, err := n.state.CompleteHandshakeAsAcceptor(theirID, complete.PreimageForPeer, complete.RelayURL)
	if err != nil {
		return fmt.Errorf("complete handshake: %w", err)
	}
	if !ok {
		return fmt.Errorf("pair: no pending peer for %s", theirID)
	}

	log.Printf("node: paired with %s as %q", theirID, alias)
	return nil
}

// Send issues a command to an established peer by alias and waits for its
// response.
func (n *Node) Send(relayAddr, peerAlias, cmd string, args any) (json.RawMessage, error) {
	peerID, _, err := n.state.FindPeerByAlias(peerAlias)
	if err != nil {
		return nil, err
	}

	preimage, found := n.state.PeerPreimage(peerID)
	if !found {
		return nil, fmt.Errorf("send: no preimage for peer %q", peerAlias)
	}

	conn, err := connect(relayAddr, n.identity, n.state.AllCommits())
	if err != nil {
		return nil, err
	}
	defer conn.close()

	request, err := wire.NewRequest(cmd, args)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	result, err := conn.send(peerID, preimage, payload)
	if err != nil {
		return nil, err
	}
	if result.Status != wire.SendOK {
		return nil, fmt.Errorf("send: failed with status %q", wire.StatusString(result.Status))
	}

	body, newPreimage, hasPreimage := wire.SplitTrailingPreimage(result.Payload)
	if hasPreimage {
		if err := n.state.UpdatePeerPreimage(peerID, newPreimage); err != nil {
			return nil, fmt.Errorf("renew peer preimage: %w", err)
		}
	}

	var response wire.Response
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if !response.OK {
		return nil, fmt.Errorf("%s", response.Error)
	}
	return response.Data, nil
}

// SendContent delivers a non-command payload (contentType is one of the
// wire.ContentType* tags) to an established peer by alias and returns the
// peer's response bytes.
func (n *Node) SendContent(relayAddr, peerAlias string, contentType byte, payload []byte) ([]byte, error) {
	peerID, _, err := n.state.FindPeerByAlias(peerAlias)
	if err != nil {
		return nil, err
	}

	preimage, found := n.state.PeerPreimage(peerID)
	if !found {
		return nil, fmt.Errorf("send content: no preimage for peer %q", peerAlias)
	}

	conn, err := connect(relayAddr, n.identity, n.state.AllCommits())
	if err != nil {
		return nil, err
	}
	defer conn.close()

	message := wire.Content{ContentType: contentType, RelayURL: relayAddr, Payload: payload}
	result, err := conn.send(peerID, preimage, message.Bytes())
	if err != nil {
		return nil, err
	}
	if result.Status != wire.SendOK {
		return nil, fmt.Errorf("send content: failed with status %q", wire.StatusString(result.Status))
	}

	response, err := wire.ParseContentResponse(result.Payload)
	if err != nil {
		return nil, fmt.Errorf("parse MESSAGE_RESPONSE: %w", err)
	}
	if err := n.state.UpdatePeerPreimage(peerID, capability.Preimage(response.NextPreimage)); err != nil {
		return nil, fmt.Errorf("renew peer preimage: %w", err)
	}
	if response.Status != wire.ContentStatusOK {
		return nil, fmt.Errorf("%s", response.Payload)
	}
	return response.Payload, nil
}

// Run connects to relayAddr and services incoming HANDSHAKE_INIT and
// command traffic until the connection closes.
func (n *Node) Run(relayAddr string) error {
	n.relayAddr = relayAddr
	conn, err := connect(relayAddr, n.identity, n.state.AllCommits())
	if err != nil {
		return err
	}
	defer conn.close()

	log.Printf("node: %s running against relay %s", n.ID52(), relayAddr)

	for {
		deliver, err := conn.receiveDeliver()
		if err != nil {
			return err
		}

		preimage := capability.Preimage(deliver.Preimage)
		discriminator, _ := wire.PeekDiscriminator(deliver.Payload)
		switch discriminator {
		case wire.DevHandshakeInit:
			n.handleHandshake(conn, deliver.MsgID, preimage, deliver.Payload)
		case wire.DevMessage:
			n.handleContent(conn, deliver.MsgID, preimage, deliver.Payload)
		default:
			n.handleCommand(conn, deliver.MsgID, preimage, deliver.Payload)
		}
	}
}

// handleHandshake answers a HANDSHAKE_INIT presented against an outstanding
// invite: on match, it promotes the invite to an established peer and
// replies with this endpoint's own successor preimage; otherwise it rejects.
func (n *Node) handleHandshake(conn *connection, msgID uint32, preimage capability.Preimage, payload []byte) {
	init, err := wire.ParseHandshakeInit(payload)
	if err != nil {
		log.Printf("node: malformed HANDSHAKE_INIT: %v", err)
		return
	}

	var peerID identity.ID
	copy(peerID[:], init.SenderID52[:])

	newPreimage, newCommit, ok, err := n.state.CompleteHandshakeAsInviter(preimage, peerID, capability.Preimage(init.PreimageForPeer), init.RelayURL)
	if err != nil {
		log.Printf("node: handshake failed: %v", err)
		return
	}

	var complete wire.HandshakeComplete
	if ok {
		complete = wire.HandshakeComplete{Status: wire.HandshakeAccepted, PreimageForPeer: newPreimage, RelayURL: n.relayAddr}
	} else {
		complete = wire.HandshakeComplete{Status: wire.HandshakeRejected}
	}

	if err := conn.sendAck(msgID, complete.Bytes()); err != nil {
		log.Printf("node: failed to ack HANDSHAKE_INIT: %v", err)
		return
	}
	if ok {
		if err := conn.updateCommits([]capability.Commit{newCommit}); err != nil {
			log.Printf("node: failed to update commits after handshake: %v", err)
		}
		log.Printf("node: paired with %s via invite", peerID)
	}
}

// handleCommand answers a JSON command presented against a live peer
// preimage: identifies the sender, enforces its role, dispatches, renews
// the consumed preimage, and ACKs the response.
func (n *Node) handleCommand(conn *connection, msgID uint32, preimage capability.Preimage, payload []byte) {
	lookup := n.state.LookupPreimage(preimage)
	if lookup.Kind != state.LookupPeer {
		response := wire.ResponseErr("unauthorized")
		data, _ := json.Marshal(response)
		_ = conn.sendAck(msgID, data)
		return
	}

	ctx := CommandContext{PeerID: lookup.PeerID.String(), PeerAlias: lookup.Peer.Alias, Role: lookup.Peer.Role}

	var response wire.Response
	var req wire.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		response = wire.ResponseErr(fmt.Sprintf("invalid request: %v", err))
	} else {
		response = n.dispatch(ctx, req)
	}

	responseBytes, err := json.Marshal(response)
	if err != nil {
		log.Printf("node: failed to marshal response: %v", err)
		return
	}

	if newPreimage, newCommit, ok, err := n.state.ConsumeAndRenewPreimage(lookup.PeerID, preimage); err != nil {
		log.Printf("node: failed to renew preimage for %s: %v", lookup.PeerID, err)
	} else if ok {
		responseBytes = append(responseBytes, newPreimage[:]...)
		if err := conn.updateCommits([]capability.Commit{newCommit}); err != nil {
			log.Printf("node: failed to update commits: %v", err)
		}
	}

	if err := conn.sendAck(msgID, responseBytes); err != nil {
		log.Printf("node: failed to ack command: %v", err)
	}
}

// handleContent answers a non-command MESSAGE presented against a live peer
// preimage, the same way handleCommand answers a JSON command: identifies
// the sender, hands off to the registered ContentHandler, renews the
// consumed preimage, and ACKs with a MESSAGE_RESPONSE.
func (n *Node) handleContent(conn *connection, msgID uint32, preimage capability.Preimage, payload []byte) {
	lookup := n.state.LookupPreimage(preimage)
	if lookup.Kind != state.LookupPeer {
		response := wire.ContentResponse{Status: wire.ContentStatusError, Payload: []byte("unauthorized")}
		_ = conn.sendAck(msgID, response.Bytes())
		return
	}

	content, err := wire.ParseContent(payload)
	if err != nil {
		log.Printf("node: malformed MESSAGE: %v", err)
		return
	}

	newPreimage, newCommit, ok, err := n.state.ConsumeAndRenewPreimage(lookup.PeerID, preimage)
	if err != nil {
		log.Printf("node: failed to renew preimage for %s: %v", lookup.PeerID, err)
		return
	}
	if !ok {
		log.Printf("node: no live preimage to renew for %s", lookup.PeerID)
		return
	}

	ctx := CommandContext{PeerID: lookup.PeerID.String(), PeerAlias: lookup.Peer.Alias, Role: lookup.Peer.Role}

	var response wire.ContentResponse
	if n.contentHandler == nil {
		response = wire.ContentResponse{Status: wire.ContentStatusError, NextPreimage: [32]byte(newPreimage), RelayURL: n.relayAddr, Payload: []byte("no content handler registered")}
	} else if data, err := n.contentHandler(ctx, content.ContentType, content.Payload); err != nil {
		response = wire.ContentResponse{Status: wire.ContentStatusError, NextPreimage: [32]byte(newPreimage), RelayURL: n.relayAddr, Payload: []byte(err.Error())}
	} else {
		response = wire.ContentResponse{Status: wire.ContentStatusOK, NextPreimage: [32]byte(newPreimage), RelayURL: n.relayAddr, Payload: data}
	}

	if err := conn.sendAck(msgID, response.Bytes()); err != nil {
		log.Printf("node: failed to ack MESSAGE: %v", err)
		return
	}
	if err := conn.updateCommits([]capability.Commit{newCommit}); err != nil {
		log.Printf("node: failed to update commits: %v", err)
	}
}

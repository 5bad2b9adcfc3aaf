package node

import (
	"encoding/hex"
	"encoding/json"

	"github.com/latchnet/latch/state"
	"github.com/latchnet/latch/wire"
)

// CommandContext identifies the peer a command arrived from: who they are,
// what they call themselves in our state, and what they're permitted to do.
type CommandContext struct {
	PeerID    string // id52
	PeerAlias string
	Role      state.PeerRole
}

// CommandHandler answers a custom command with either result data or an
// error message. args is the raw JSON args object from the request,
// unmarshalled by the handler into whatever shape it expects.
type CommandHandler func(ctx CommandContext, args json.RawMessage) (any, error)

// Command registers a handler for a custom command name. Built-in commands
// (node/info, invite/*, peers/*) cannot be overridden.
func (n *Node) Command(name string, handler CommandHandler) {
	n.handlers[name] = handler
}

// ContentHandler answers a non-command MESSAGE payload (contentType is the
// wire.ContentType* tag, payload its raw bytes) with response bytes or an
// error. It is only called for senders whose preimage resolves to an
// established peer; any other sender gets an "unauthorized" response
// without the handler being called.
type ContentHandler func(ctx CommandContext, contentType byte, payload []byte) ([]byte, error)

// OnContent registers the handler for incoming MESSAGE frames. There is at
// most one: unlike commands, content has no name to dispatch on.
func (n *Node) OnContent(handler ContentHandler) {
	n.contentHandler = handler
}

// dispatch routes a parsed request to a built-in or custom handler and
// builds the JSON response, enforcing the role gate on owner-only commands.
func (n *Node) dispatch(ctx CommandContext, req wire.Request) wire.Response {
	switch req.Cmd {
	case "node/info":
		return wire.ResponseOK(map[string]string{
			"kind":     n.config.Kind,
			"location": n.config.Location,
			"id":       n.ID52(),
		})

	case "invite/create":
		if ctx.Role != state.RoleOwner {
			return wire.ResponseErr("permission denied: owner only")
		}
		var args struct {
			Alias string `json:"alias"`
			Role  string `json:"role"`
		}
		if len(req.Args) > 0 {
			_ = json.Unmarshal(req.Args, &args)
		}
		if args.Alias == "" {
			args.Alias = "user"
		}
		role := state.ParseRole(args.Role)
		token, err := n.CreateInvite(args.Alias, role)
		if err != nil {
			return wire.ResponseErr(err.Error())
		}
		return wire.ResponseOK(map[string]string{"token": token})

	case "invite/list":
		if ctx.Role != state.RoleOwner {
			return wire.ResponseErr("permission denied: owner only")
		}
		invites := n.state.ListInvites()
		list := make([]map[string]string, 0, len(invites))
		for preimage, invite := range invites {
			list = append(list, map[string]string{
				"id":    hex.EncodeToString(preimage[:8]),
				"alias": invite.Alias,
				"role":  invite.Role.String(),
			})
		}
		return wire.ResponseOK(map[string]any{"invites": list})

	case "invite/delete":
		if ctx.Role != state.RoleOwner {
			return wire.ResponseErr("permission denied: owner only")
		}
		var args struct {
			ID string `json:"id"`
		}
		if len(req.Args) > 0 {
			_ = json.Unmarshal(req.Args, &args)
		}
		if args.ID == "" {
			return wire.ResponseErr("missing id")
		}
		found, err := n.state.DeleteInviteByHexPrefix(args.ID)
		if err != nil {
			return wire.ResponseErr(err.Error())
		}
		if !found {
			return wire.ResponseErr("invite not found")
		}
		return wire.ResponseOK(map[string]bool{"deleted": true})

	case "peers/list":
		if ctx.Role != state.RoleOwner {
			return wire.ResponseErr("permission denied: owner only")
		}
		peers := n.state.ListPeers()
		list := make([]map[string]string, 0, len(peers))
		for id, peer := range peers {
			list = append(list, map[string]string{
				"id":    id.Short(10),
				"alias": peer.Alias,
				"role":  peer.Role.String(),
			})
		}
		return wire.ResponseOK(map[string]any{"peers": list})

	case "peers/remove":
		if ctx.Role != state.RoleOwner {
			return wire.ResponseErr("permission denied: owner only")
		}
		var args struct {
			Alias string `json:"alias"`
		}
		if len(req.Args) > 0 {
			_ = json.Unmarshal(req.Args, &args)
		}
		if err := n.state.RemovePeer(args.Alias); err != nil {
			return wire.ResponseErr(err.Error())
		}
		return wire.ResponseOK(map[string]bool{"removed": true})

	default:
		handler, found := n.handlers[req.Cmd]
		if !found {
			return wire.ResponseErr("unknown command: " + req.Cmd)
		}
		data, err := handler(ctx, req.Args)
		if err != nil {
			return wire.ResponseErr(err.Error())
		}
		return wire.ResponseOK(data)
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"code.cloudfoundry.org/bytefmt"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"github.com/latchnet/latch/node"
	"github.com/latchnet/latch/state"
)

func openNode(c *cli.Context) (*node.Node, error) {
	home := c.String("home")
	kind := c.String("kind")
	return node.New(home, node.Config{Kind: kind, Location: c.String("location")})
}

func main() {
	defaultHome := "./latchctl-home"
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		defaultHome = filepath.Join(dir, "latch")
	} else if home, err := os.UserHomeDir(); err == nil {
		defaultHome = filepath.Join(home, ".config", "latch")
	}

	app := &cli.App{
		Name:  "latchctl",
		Usage: "pair with and control endpoints on a messaging relay",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "home", Value: defaultHome, EnvVars: []string{"LATCH_HOME"}, Usage: "directory holding this endpoint's identity and state"},
			&cli.StringFlag{Name: "kind", Value: "controller", Usage: "kind reported by node/info on first run"},
			&cli.StringFlag{Name: "location", Value: "", Usage: "location reported by node/info on first run"},
		},
		Commands: []*cli.Command{
			{
				Name:  "info",
				Usage: "print this endpoint's identity and pairing summary",
				Action: func(c *cli.Context) error {
					n, err := openNode(c)
					if err != nil {
						return err
					}
					fmt.Printf("id52:     %s\n", n.ID52())
					fmt.Printf("kind:     %s\n", n.Kind())
					fmt.Printf("location: %s\n", n.Location())
					fmt.Printf("peers:    %d\n", n.PeerCount())
					fmt.Printf("invites:  %d\n", n.InviteCount())
					return nil
				},
			},
			{
				Name:  "invite",
				Usage: "manage outstanding invites",
				Subcommands: []*cli.Command{
					{
						Name:  "create",
						Usage: "issue a new invite token",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "alias", Value: "user", Usage: "display label for the invitee"},
							&cli.StringFlag{Name: "role", Value: "reader", Usage: "owner, writer, or reader"},
						},
						Action: func(c *cli.Context) error {
							n, err := openNode(c)
							if err != nil {
								return err
							}
							token, err := n.CreateInvite(c.String("alias"), state.ParseRole(c.String("role")))
							if err != nil {
								return err
							}
							fmt.Println(token)
							return nil
						},
					},
				},
			},
			{
				Name:  "pair",
				Usage: "consume an invite token from another endpoint",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "relay", Required: true, Usage: "relay address, e.g. 127.0.0.1:8443"},
					&cli.StringFlag{Name: "token", Required: true, Usage: "the 86-character invite token"},
					&cli.StringFlag{Name: "alias", Value: "peer", Usage: "display label for the inviter"},
				},
				Action: func(c *cli.Context) error {
					n, err := openNode(c)
					if err != nil {
						return err
					}
					if err := n.Pair(c.String("relay"), c.String("token"), c.String("alias")); err != nil {
						return err
					}
					log.Printf("paired with %s", c.String("alias"))
					return nil
				},
			},
			{
				Name:  "send",
				Usage: "issue a command to a paired peer and print its response",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "relay", Required: true, Usage: "relay address, e.g. 127.0.0.1:8443"},
					&cli.StringFlag{Name: "peer", Required: true, Usage: "alias of the paired peer to send to"},
					&cli.StringFlag{Name: "cmd", Required: true, Usage: "command name"},
					&cli.StringFlag{Name: "args", Value: "", Usage: "JSON-encoded command arguments"},
				},
				Action: func(c *cli.Context) error {
					n, err := openNode(c)
					if err != nil {
						return err
					}

					var args any
					if raw := c.String("args"); raw != "" {
						if err := json.Unmarshal([]byte(raw), &args); err != nil {
							return fmt.Errorf("invalid --args JSON: %w", err)
						}
					}

					data, err := n.Send(c.String("relay"), c.String("peer"), c.String("cmd"), args)
					if err != nil {
						return err
					}

					out, err := json.MarshalIndent(data, "", "  ")
					if err != nil {
						return err
					}
					fmt.Printf("%s (%s)\n", out, bytefmt.ByteSize(uint64(len(out))))
					return nil
				},
			},
			{
				Name:  "peers",
				Usage: "manage established peers",
				Subcommands: []*cli.Command{
					{
						Name:  "list",
						Usage: "list established peers",
						Action: func(c *cli.Context) error {
							n, err := openNode(c)
							if err != nil {
								return err
							}
							table := tablewriter.NewWriter(os.Stdout)
							table.SetHeader([]string{"id", "alias", "role", "relay"})
							for id, peer := range n.ListPeers() {
								table.Append([]string{id.Short(10), peer.Alias, peer.Role.String(), peer.LastKnownRelay})
							}
							table.Render()
							return nil
						},
					},
					{
						Name:  "remove",
						Usage: "remove an established peer by alias",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "alias", Required: true},
						},
						Action: func(c *cli.Context) error {
							n, err := openNode(c)
							if err != nil {
								return err
							}
							return n.RemovePeer(c.String("alias"))
						},
					},
				},
			},
		},
		Action: func(c *cli.Context) error {
			return cli.ShowAppHelp(c)
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

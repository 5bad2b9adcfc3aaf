package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/latchnet/latch/relay"
)

func main() {
	app := &cli.App{
		Name:  "latchrelay",
		Usage: "run the untrusted message relay endpoints connect through",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Value: ":8443",
				Usage: "address to accept device and controller connections on",
			},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server := relay.NewServer(c.String("listen"))
			return server.ListenAndServe(ctx)
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

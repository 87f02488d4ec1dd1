package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v3"

	"ripple/cmd/internal/app"
)

var version = "dev"

func main() {
	cmd := &cli.Command{
		Name:  "ripple",
		Usage: "social server with realtime chat delivery",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "start the HTTP and websocket server",
				Action: func(ctx context.Context, _ *cli.Command) error {
					return app.Run(ctx)
				},
			},
			{
				Name:  "version",
				Usage: "print the build version",
				Action: func(_ context.Context, _ *cli.Command) error {
					fmt.Println(version)
					return nil
				},
			},
		},
		DefaultCommand: "serve",
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

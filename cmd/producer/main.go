package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	// Variables already set in the environment win over .env.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "producer",
		Usage: "Publish newline-delimited events to an Event Hub",
		Commands: []*cli.Command{
			{
				Name:   "send",
				Usage:  "Read events from stdin, one per line, and send them in batches",
				Flags:  sendFlags(),
				Action: send,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

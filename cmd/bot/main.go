package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	if err := newCLIApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newCLIApp() *cli.App {
	app := &cli.App{
		Name:    "topicmate",
		Usage:   "Telegram forum-topic assistant",
		Version: Version,
		Commands: []*cli.Command{
			runCmd(),
			migrateCmd(),
			deadLettersCmd(),
		},
		// Running without a subcommand starts the bot.
		Action: runBot,
	}
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

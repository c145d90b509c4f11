package main

import (
	"github.com/alecthomas/kong"
)

// version is set by ldflags during build
var version = "dev"

type CLI struct {
	Version kong.VersionFlag `short:"v" help:"Show version"`
	Serve   ServeCmd         `cmd:"" help:"Run the card engine server"`
	Inspect InspectCmd       `cmd:"" help:"Render an archived session snapshot"`
	History HistoryCmd       `cmd:"" help:"Print the journaled signals of a session"`
	Watch   WatchCmd         `cmd:"" help:"Stream live signals from a running server"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("cardengine"),
		kong.Description("Turn-based card game engine with confidential card values"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version,
		},
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}

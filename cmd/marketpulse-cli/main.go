package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/google/subcommands"
)

var commands = []subcommands.Command{
	&updateCmd{},
	&snapshotCmd{},
	&seriesCmd{},
	&metricsCmd{},
	&portfolioCmd{},
	&runsCmd{},
	&exportCmd{},
	&triggerCmd{},
}

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	for _, c := range commands {
		commander.Register(c, "")
	}

	flag.Parse()
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	status := commander.Execute(ctx)
	cancel()
	os.Exit(int(status))
}

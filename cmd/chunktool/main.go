package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/google/subcommands"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(&processCmd{logger: logger}, "")
	subcommands.Register(&chunkCmd{logger: logger}, "")
	subcommands.Register(&clearCmd{logger: logger}, "")
	subcommands.Register(&benchCmd{logger: logger}, "")

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}

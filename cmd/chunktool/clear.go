package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"

	"github.com/google/subcommands"

	"github.com/rasterchunk/chunkcache/cacheserver"
)

type clearCmd struct {
	logger    *slog.Logger
	cacheRoot string
}

func (c *clearCmd) Name() string     { return "clear" }
func (c *clearCmd) Synopsis() string { return "delete the entire chunk cache" }
func (c *clearCmd) Usage() string    { return "chunktool clear -cache <dir>\n" }

func (c *clearCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.cacheRoot, "cache", ".chunkcache", "cache root directory")
}

func (c *clearCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	server := cacheserver.New(c.cacheRoot, cacheserver.WithLogger(c.logger))
	if err := server.ClearCache(); err != nil {
		c.logger.Error("clear failed", "cache", c.cacheRoot, "err", err)
		return subcommands.ExitFailure
	}
	fmt.Printf("cleared %s\n", c.cacheRoot)
	return subcommands.ExitSuccess
}

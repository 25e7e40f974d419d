package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/google/subcommands"

	"github.com/rasterchunk/chunkcache/cacheserver"
)

type chunkCmd struct {
	logger    *slog.Logger
	cacheRoot string
	out       string
}

func (c *chunkCmd) Name() string     { return "chunk" }
func (c *chunkCmd) Synopsis() string { return "fetch one chunk's raw blob from the cache" }
func (c *chunkCmd) Usage() string {
	return "chunktool chunk -cache <dir> [-out <file>] <source-image> <cx>,<cy>\n"
}

func (c *chunkCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.cacheRoot, "cache", ".chunkcache", "cache root directory")
	f.StringVar(&c.out, "out", "", "write the raw blob to this file instead of printing a summary")
}

func (c *chunkCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 2 {
		fmt.Println(c.Usage())
		return subcommands.ExitUsageError
	}
	source := f.Arg(0)
	cx, cy, err := parseCoord(f.Arg(1))
	if err != nil {
		c.logger.Error("invalid chunk coordinate", "arg", f.Arg(1), "err", err)
		return subcommands.ExitUsageError
	}

	server := cacheserver.New(c.cacheRoot, cacheserver.WithLogger(c.logger))
	blob, err := server.GetChunk(ctx, source, cx, cy)
	if err != nil {
		c.logger.Error("get chunk failed", "source", source, "cx", cx, "cy", cy, "err", err)
		return subcommands.ExitFailure
	}

	if c.out != "" {
		if err := os.WriteFile(c.out, blob, 0644); err != nil {
			c.logger.Error("write failed", "out", c.out, "err", err)
			return subcommands.ExitFailure
		}
		fmt.Printf("wrote %d bytes to %s\n", len(blob), c.out)
		return subcommands.ExitSuccess
	}

	fmt.Printf("chunk (%d,%d): %d bytes\n", cx, cy, len(blob))
	return subcommands.ExitSuccess
}

func parseCoord(s string) (cx, cy uint32, err error) {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want <cx>,<cy>, got %q", s)
	}
	x, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, err
	}
	y, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, err
	}
	return uint32(x), uint32(y), nil
}

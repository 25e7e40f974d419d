package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rasterchunk/chunkcache/internal/synth"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func writeFixture(t *testing.T, dir, name string, width, height int) string {
	t.Helper()
	data, err := synth.EncodePNG(synth.Gradient(width, height))
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestProcessChunkClearRoundTrip(t *testing.T) {
	dir := t.TempDir()
	source := writeFixture(t, dir, "source.png", 130, 90)
	cacheRoot := filepath.Join(dir, "cache")
	logger := discardLogger()

	process := &processCmd{logger: logger}
	processFS := flag.NewFlagSet("process", flag.ContinueOnError)
	process.SetFlags(processFS)
	require.NoError(t, processFS.Parse([]string{"-cache", cacheRoot, "-chunk-size", "64", source}))
	status := process.Execute(context.Background(), processFS)
	require.Equal(t, 0, int(status))

	chunkCommand := &chunkCmd{logger: logger}
	chunkFS := flag.NewFlagSet("chunk", flag.ContinueOnError)
	chunkCommand.SetFlags(chunkFS)
	outPath := filepath.Join(dir, "chunk_0_0.bin")
	require.NoError(t, chunkFS.Parse([]string{"-cache", cacheRoot, "-out", outPath, source, "0,0"}))
	status = chunkCommand.Execute(context.Background(), chunkFS)
	require.Equal(t, 0, int(status))

	blob, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Len(t, blob, 8+64*64*4)

	clearCommand := &clearCmd{logger: logger}
	clearFS := flag.NewFlagSet("clear", flag.ContinueOnError)
	clearCommand.SetFlags(clearFS)
	require.NoError(t, clearFS.Parse([]string{"-cache", cacheRoot}))
	status = clearCommand.Execute(context.Background(), clearFS)
	require.Equal(t, 0, int(status))

	_, err = os.Stat(cacheRoot)
	require.True(t, os.IsNotExist(err))
}

func TestChunkFailsFastWithoutProcessing(t *testing.T) {
	dir := t.TempDir()
	source := writeFixture(t, dir, "source.png", 64, 64)
	cacheRoot := filepath.Join(dir, "cache")
	logger := discardLogger()

	chunkCommand := &chunkCmd{logger: logger}
	chunkFS := flag.NewFlagSet("chunk", flag.ContinueOnError)
	chunkCommand.SetFlags(chunkFS)
	require.NoError(t, chunkFS.Parse([]string{"-cache", cacheRoot, source, "0,0"}))
	status := chunkCommand.Execute(context.Background(), chunkFS)
	require.NotEqual(t, 0, int(status))
}

func TestParseCoordRejectsMalformedInput(t *testing.T) {
	_, _, err := parseCoord("not-a-coord")
	require.Error(t, err)

	cx, cy, err := parseCoord("3,7")
	require.NoError(t, err)
	require.Equal(t, uint32(3), cx)
	require.Equal(t, uint32(7), cy)
}

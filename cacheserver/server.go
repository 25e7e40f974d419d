// Package cacheserver exposes the chunk cache's request surface: process a
// source into a cache entry, fetch one chunk's raw bytes, or clear the
// whole cache. The boundary between preprocessing and the viewer is just a
// Go interface here, not a network transport.
package cacheserver

import (
	"context"
	"log/slog"
	"os"

	"github.com/rasterchunk/chunkcache/cachestore"
	"github.com/rasterchunk/chunkcache/ccerr"
	"github.com/rasterchunk/chunkcache/chunk"
	"github.com/rasterchunk/chunkcache/codec"
	"github.com/rasterchunk/chunkcache/preprocess"
)

// Metadata is re-exported so callers don't need to import chunk directly
// for the common case of driving a Server.
type Metadata = chunk.Metadata

// Server is the chunk cache's request surface. It owns no per-session
// state: every method reads or writes the cache store on disk.
type Server interface {
	ProcessSource(ctx context.Context, path string) (Metadata, error)
	ForcePreprocess(ctx context.Context, path string) (Metadata, error)
	GetChunk(ctx context.Context, path string, cx, cy uint32) ([]byte, error)
	ClearCache() error
}

type config struct {
	logger    *slog.Logger
	chunkSize uint32
	progress  preprocess.ProgressFunc
}

// Option configures a Server.
type Option func(*config)

// WithLogger installs a logger for request-level breadcrumbs.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithChunkSize overrides the nominal chunk size used when tiling a new
// source. The default is preprocess.DefaultChunkSize.
func WithChunkSize(size uint32) Option {
	return func(c *config) { c.chunkSize = size }
}

// WithProgress installs a callback invoked as a source's chunk blobs are
// written during ProcessSource or ForcePreprocess.
func WithProgress(fn preprocess.ProgressFunc) Option {
	return func(c *config) { c.progress = fn }
}

type server struct {
	store    *cachestore.Store
	pipeline *preprocess.Pipeline
	cfg      config
}

// New returns a Server backed by a cache rooted at cacheRoot.
func New(cacheRoot string, opts ...Option) Server {
	cfg := config{
		logger:    slog.New(slog.DiscardHandler),
		chunkSize: preprocess.DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	store := cachestore.New(cacheRoot)
	pipelineOpts := []preprocess.Option{
		preprocess.WithLogger(cfg.logger),
		preprocess.WithChunkSize(cfg.chunkSize),
	}
	if cfg.progress != nil {
		pipelineOpts = append(pipelineOpts, preprocess.WithProgress(cfg.progress))
	}
	pipeline := preprocess.New(store, pipelineOpts...)

	return &server{store: store, pipeline: pipeline, cfg: cfg}
}

func (s *server) validate(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return ccerr.New(ccerr.FileNotFound, err)
		}
		return ccerr.New(ccerr.IO, err)
	}
	if _, err := codec.DetectKind(path); err != nil {
		return err
	}
	return nil
}

func (s *server) ProcessSource(ctx context.Context, path string) (Metadata, error) {
	if err := s.validate(path); err != nil {
		return Metadata{}, err
	}
	s.cfg.logger.Debug("cacheserver: process_source", "path", path)
	return s.pipeline.Process(ctx, path, false)
}

func (s *server) ForcePreprocess(ctx context.Context, path string) (Metadata, error) {
	if err := s.validate(path); err != nil {
		return Metadata{}, err
	}
	s.cfg.logger.Debug("cacheserver: force_preprocess", "path", path)
	return s.pipeline.Process(ctx, path, true)
}

func (s *server) GetChunk(_ context.Context, path string, cx, cy uint32) ([]byte, error) {
	if !s.store.IsComplete(path) {
		return nil, ccerr.New(ccerr.NotPreprocessed, nil)
	}

	chunkPath, err := s.store.ChunkPath(path, chunk.ID{CX: cx, CY: cy})
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(chunkPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ccerr.New(ccerr.NotPreprocessed, err)
		}
		return nil, ccerr.New(ccerr.IO, err)
	}
	return data, nil
}

func (s *server) ClearCache() error {
	s.cfg.logger.Debug("cacheserver: clear_cache")
	return s.store.ClearAll()
}

// Package preprocess implements the tiling pipeline: given a source image
// path, guarantee a complete cache entry exists and return its metadata.
package preprocess

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rasterchunk/chunkcache/cachestore"
	"github.com/rasterchunk/chunkcache/ccerr"
	"github.com/rasterchunk/chunkcache/chunk"
	"github.com/rasterchunk/chunkcache/codec"
)

// DefaultChunkSize is the nominal tile size, in pixels, used when a Pipeline
// isn't configured with a different one.
const DefaultChunkSize = 1024

// ProgressFunc is invoked once per chunk blob written, in no particular
// order, for callers that want to render progress (e.g. a progress bar).
type ProgressFunc func(done, total int)

type config struct {
	chunkSize uint32
	logger    *slog.Logger
	progress  ProgressFunc
}

// Option configures a Pipeline.
type Option func(*config)

// WithChunkSize overrides the nominal tile size. Must be called before the
// first Process call that decides the grid; changing it afterward doesn't
// retile already-cached sources unless Process is called with force.
func WithChunkSize(size uint32) Option {
	return func(c *config) { c.chunkSize = size }
}

// WithLogger installs a logger for pipeline stage breadcrumbs. The default
// discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithProgress installs a callback invoked as chunk blobs are written.
func WithProgress(fn ProgressFunc) Option {
	return func(c *config) { c.progress = fn }
}

// Pipeline decodes sources and materializes their cache entries. A single
// Pipeline is safe for concurrent use: concurrent Process calls for the
// same source serialize on that source's entry; calls for distinct sources
// proceed fully in parallel.
type Pipeline struct {
	store *cachestore.Store
	cfg   config
	locks sync.Map // digest string -> *sync.Mutex
}

// New returns a Pipeline that materializes cache entries under store.
func New(store *cachestore.Store, opts ...Option) *Pipeline {
	cfg := config{
		chunkSize: DefaultChunkSize,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Pipeline{store: store, cfg: cfg}
}

func (p *Pipeline) lockFor(sourcePath string) (*sync.Mutex, error) {
	digest, err := cachestore.Digest(sourcePath)
	if err != nil {
		return nil, err
	}
	lock, _ := p.locks.LoadOrStore(digest, &sync.Mutex{})
	return lock.(*sync.Mutex), nil
}

// Process guarantees a complete cache entry exists for sourcePath and
// returns its metadata. If a complete entry already exists and force is
// false, the persisted metadata is returned without touching the source
// file or any blob.
func (p *Pipeline) Process(ctx context.Context, sourcePath string, force bool) (chunk.Metadata, error) {
	lock, err := p.lockFor(sourcePath)
	if err != nil {
		return chunk.Metadata{}, err
	}
	lock.Lock()
	defer lock.Unlock()

	if !force && p.store.IsComplete(sourcePath) {
		p.cfg.logger.Debug("chunkcache: cache hit", "source", sourcePath)
		return p.store.ReadMetadata(sourcePath)
	}

	if _, err := os.Stat(sourcePath); err != nil {
		if os.IsNotExist(err) {
			return chunk.Metadata{}, ccerr.New(ccerr.FileNotFound, err)
		}
		return chunk.Metadata{}, ccerr.New(ccerr.IO, err)
	}

	p.cfg.logger.Debug("chunkcache: decode", "source", sourcePath)
	img, err := codec.Decode(sourcePath)
	if err != nil {
		return chunk.Metadata{}, err
	}

	if force {
		if _, err := p.store.ResetEntryDir(sourcePath); err != nil {
			return chunk.Metadata{}, err
		}
	} else {
		if _, err := p.store.EnsureEntryDir(sourcePath); err != nil {
			return chunk.Metadata{}, err
		}
	}

	metadata := chunk.BuildMetadata(img.Width, img.Height, p.cfg.chunkSize)

	p.cfg.logger.Debug("chunkcache: extract", "source", sourcePath, "chunks", len(metadata.Chunks))
	if err := p.extractAll(ctx, sourcePath, img, metadata); err != nil {
		return chunk.Metadata{}, err
	}

	p.cfg.logger.Debug("chunkcache: commit", "source", sourcePath)
	if err := p.store.WriteMetadataAtomic(sourcePath, metadata); err != nil {
		return chunk.Metadata{}, err
	}

	return metadata, nil
}

// extractAll partitions img into its chunks and writes each blob
// concurrently, bounded to GOMAXPROCS workers. A worker failure cancels
// the remaining work; no partial metadata is ever written.
func (p *Pipeline) extractAll(ctx context.Context, sourcePath string, img codec.Image, metadata chunk.Metadata) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(runtime.GOMAXPROCS(0))

	total := len(metadata.Chunks)
	var done int
	var doneMu sync.Mutex

	for c := range metadata.All() {
		info := c
		group.Go(func() error {
			select {
			case <-groupCtx.Done():
				return groupCtx.Err()
			default:
			}

			path, err := p.store.ChunkPath(sourcePath, info.ID())
			if err != nil {
				return err
			}
			if err := writeBlob(path, img, info); err != nil {
				return err
			}

			if p.cfg.progress != nil {
				doneMu.Lock()
				done++
				n := done
				doneMu.Unlock()
				p.cfg.progress(n, total)
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return ccerr.New(ccerr.IO, err)
	}
	return nil
}

// writeBlob extracts info's region from img's row-major buffer by a
// row-strided copy (each tile row is contiguous in the source buffer),
// frames it as [w_be_u32][h_be_u32][pixels], and writes it to path.
func writeBlob(path string, img codec.Image, info chunk.Info) error {
	blob := make([]byte, info.BlobLength())
	binary.BigEndian.PutUint32(blob[0:4], info.W)
	binary.BigEndian.PutUint32(blob[4:8], info.H)

	dstStride := int(info.W) * 4
	for row := uint32(0); row < info.H; row++ {
		srcOff := (int(info.Y+row)*int(img.Width) + int(info.X)) * 4
		dstOff := 8 + int(row)*dstStride
		copy(blob[dstOff:dstOff+dstStride], img.Pixels[srcOff:srcOff+dstStride])
	}

	if err := os.WriteFile(path, blob, 0644); err != nil {
		return fmt.Errorf("write chunk %s: %w", info.ID(), err)
	}
	return nil
}

// Package viewer implements the chunk manager: the viewer-side state
// machine that requests chunk blobs from a chunk server, bounds how many
// requests are outstanding at once, parses and validates each blob, and
// hands decoded pixels to a GPU uploader.
package viewer

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/rasterchunk/chunkcache/ccerr"
	"github.com/rasterchunk/chunkcache/chunk"
	"github.com/rasterchunk/chunkcache/scheduler"
)

// DefaultConcurrency is the number of outstanding request-and-upload
// pipelines the manager allows in flight at once. Deliberately small: it
// bounds peak CPU memory to roughly cap*chunkSize²*4 bytes plus whatever
// blobs are mid-flight, and keeps the IPC boundary and GPU upload path
// from saturating.
const DefaultConcurrency = 3

// ChunkFetcher is the manager's only dependency on the chunk server. A
// cacheserver.Server satisfies this without either package importing the
// other.
type ChunkFetcher interface {
	GetChunk(ctx context.Context, path string, cx, cy uint32) ([]byte, error)
}

type config struct {
	concurrency int64
}

// Option configures a Manager.
type Option func(*config)

// WithConcurrency overrides DefaultConcurrency.
func WithConcurrency(n int) Option {
	return func(c *config) { c.concurrency = int64(n) }
}

type queueItem struct {
	id     chunk.ID
	settle *sync.WaitGroup
}

// Manager holds one source's chunk grid state and drives its progressive
// load. All exported methods are safe for concurrent use.
type Manager struct {
	fetcher  ChunkFetcher
	uploader GPUUploader
	sem      *semaphore.Weighted

	mu       sync.Mutex
	path     string
	metadata chunk.Metadata
	states   map[chunk.ID]*ChunkState
	queue    []queueItem
	onReady  func(chunk.ID)

	// readyMu serializes the InGpu transition together with the ready
	// callback, so callback invocations never overlap.
	readyMu sync.Mutex

	drain sync.WaitGroup
}

// New returns a Manager that fetches chunks via fetcher and uploads them
// via uploader.
func New(fetcher ChunkFetcher, uploader GPUUploader, opts ...Option) *Manager {
	cfg := config{concurrency: DefaultConcurrency}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Manager{
		fetcher:  fetcher,
		uploader: uploader,
		sem:      semaphore.NewWeighted(cfg.concurrency),
		states:   make(map[chunk.ID]*ChunkState),
	}
}

// Initialize installs metadata for path and creates one ChunkState per
// chunk, all Unrequested. Any prior source's state is released first, as
// on a source switch.
func (m *Manager) Initialize(path string, metadata chunk.Metadata) {
	m.Cleanup()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.path = path
	m.metadata = metadata
	m.states = make(map[chunk.ID]*ChunkState, len(metadata.Chunks))
	for c := range metadata.All() {
		m.states[c.ID()] = &ChunkState{Status: Unrequested}
	}
}

// SetOnReady installs cb, invoked once per chunk each time it reaches
// InGpu, on the goroutine that completed that chunk's upload. Invocations
// never overlap, and they follow the order in which chunks reach InGpu.
func (m *Manager) SetOnReady(cb func(chunk.ID)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReady = cb
}

// Request enqueues id for loading if it is Unrequested or Error; it is a
// no-op if the chunk is already Requesting, InCpu, or InGpu, or unknown.
func (m *Manager) Request(id chunk.ID) {
	m.requestTracked(id, nil)
}

func (m *Manager) requestTracked(id chunk.ID, settle *sync.WaitGroup) {
	m.mu.Lock()
	state, ok := m.states[id]
	if !ok {
		m.mu.Unlock()
		if settle != nil {
			settle.Done()
		}
		return
	}
	if state.Status == Requesting || state.Status == InCpu || state.Status == InGpu {
		m.mu.Unlock()
		if settle != nil {
			settle.Done()
		}
		return
	}
	state.Status = Requesting
	state.Err = nil
	m.queue = append(m.queue, queueItem{id: id, settle: settle})
	m.mu.Unlock()

	m.dispatch()
}

// dispatch pulls queued items into free concurrency slots. It's safe to
// call redundantly; a call that finds no free slot or empty queue is a
// no-op.
func (m *Manager) dispatch() {
	for m.sem.TryAcquire(1) {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			m.sem.Release(1)
			return
		}
		item := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		m.drain.Add(1)
		go m.process(item)
	}
}

func (m *Manager) process(item queueItem) {
	defer m.drain.Done()
	defer func() {
		m.sem.Release(1)
		m.dispatch()
	}()
	defer func() {
		if item.settle != nil {
			item.settle.Done()
		}
	}()

	data, err := m.fetcher.GetChunk(context.Background(), m.path, item.id.CX, item.id.CY)
	if err != nil {
		m.fail(item.id, err)
		return
	}

	width, height, pixels, err := parseBlob(data)
	if err != nil {
		m.fail(item.id, err)
		return
	}

	m.mu.Lock()
	state, ok := m.states[item.id]
	if !ok {
		m.mu.Unlock()
		return
	}
	state.Status = InCpu
	state.Width, state.Height, state.Pixels = width, height, pixels
	m.mu.Unlock()

	texture, err := m.uploader.Upload(pixels, width, height)
	if err != nil {
		m.fail(item.id, ccerr.New(ccerr.GPUUploadFailed, err))
		return
	}

	m.readyMu.Lock()
	defer m.readyMu.Unlock()

	m.mu.Lock()
	state, ok = m.states[item.id]
	if !ok {
		m.mu.Unlock()
		m.uploader.Release(texture)
		return
	}
	state.Status = InGpu
	state.Texture = texture
	state.Pixels = nil
	cb := m.onReady
	m.mu.Unlock()

	if cb != nil {
		cb(item.id)
	}
}

func (m *Manager) fail(id chunk.ID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[id]
	if !ok {
		return
	}
	state.Status = Error
	state.Pixels = nil
	state.Err = err
	if state.Texture != nil {
		m.uploader.Release(state.Texture)
		state.Texture = nil
	}
}

// parseBlob validates and decodes a chunk blob per the wire format: a
// big-endian width/height header, then exactly width*height*4 RGBA bytes.
func parseBlob(data []byte) (width, height uint32, pixels []byte, err error) {
	if len(data) < 8 {
		return 0, 0, nil, ccerr.New(ccerr.FramingError, fmt.Errorf("blob too short: %d bytes", len(data)))
	}
	width = binary.BigEndian.Uint32(data[0:4])
	height = binary.BigEndian.Uint32(data[4:8])
	want := int(width) * int(height) * 4
	got := len(data) - 8
	if got != want {
		return 0, 0, nil, ccerr.New(ccerr.FramingError, fmt.Errorf("payload length %d does not match header %dx%d (want %d)", got, width, height, want))
	}
	return width, height, data[8:], nil
}

// LoadedChunks returns every chunk currently resident on the GPU.
func (m *Manager) LoadedChunks() []chunk.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []chunk.ID
	for id, state := range m.states {
		if state.Status == InGpu {
			result = append(result, id)
		}
	}
	return result
}

// Status returns the current lifecycle status of id, and whether id is
// known to this manager at all.
func (m *Manager) Status(id chunk.ID) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[id]
	if !ok {
		return Unrequested, false
	}
	return state.Status, true
}

// StatusStats returns a count of chunks per lifecycle status.
func (m *Manager) StatusStats() map[Status]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := make(map[Status]int, 5)
	for _, state := range m.states {
		stats[state.Status]++
	}
	return stats
}

// LoadProgressive drives the full spatially-interleaved load: it computes
// the scheduler's four batches for the current metadata and processes them
// in order, waiting for every request in a batch to settle (success or
// terminal failure) before starting the next.
func (m *Manager) LoadProgressive() {
	m.mu.Lock()
	gx, gy := m.metadata.ChunksX, m.metadata.ChunksY
	m.mu.Unlock()

	for _, batch := range scheduler.Batches(gx, gy) {
		var settle sync.WaitGroup
		for _, id := range batch {
			settle.Add(1)
			m.requestTracked(id, &settle)
		}
		settle.Wait()
	}
}

// Cleanup releases every GPU texture currently held and clears all chunk
// state. It waits for in-flight requests to drain first, so it never races
// with a texture upload that's still in progress.
func (m *Manager) Cleanup() {
	m.drain.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, state := range m.states {
		if state.Status == InGpu && state.Texture != nil {
			m.uploader.Release(state.Texture)
		}
	}
	m.states = make(map[chunk.ID]*ChunkState)
	m.queue = nil
}

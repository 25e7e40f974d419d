package viewer_test

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rasterchunk/chunkcache/chunk"
	"github.com/rasterchunk/chunkcache/viewer"
)

// fakeFetcher serves canned blobs keyed by chunk ID, counting calls and
// optionally blocking until released, to exercise concurrency bounds.
type fakeFetcher struct {
	mu       sync.Mutex
	blobs    map[chunk.ID][]byte
	errs     map[chunk.ID]error
	calls    map[chunk.ID]int
	gate     chan struct{} // if non-nil, every call blocks until a receive is sent
	inflight int
	maxInFl  int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		blobs: make(map[chunk.ID][]byte),
		errs:  make(map[chunk.ID]error),
		calls: make(map[chunk.ID]int),
	}
}

func (f *fakeFetcher) GetChunk(_ context.Context, _ string, cx, cy uint32) ([]byte, error) {
	id := chunk.ID{CX: cx, CY: cy}

	f.mu.Lock()
	f.calls[id]++
	f.inflight++
	if f.inflight > f.maxInFl {
		f.maxInFl = f.inflight
	}
	f.mu.Unlock()

	if f.gate != nil {
		<-f.gate
	}

	f.mu.Lock()
	f.inflight--
	err := f.errs[id]
	blob := f.blobs[id]
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return blob, nil
}

func blobFor(w, h uint32) []byte {
	buf := make([]byte, 8+int(w)*int(h)*4)
	binary.BigEndian.PutUint32(buf[0:4], w)
	binary.BigEndian.PutUint32(buf[4:8], h)
	for i := 8; i < len(buf); i += 4 {
		buf[i] = 0xAA
		buf[i+1] = 0xBB
		buf[i+2] = 0xCC
		buf[i+3] = 0xFF
	}
	return buf
}

func metadataFor(gx, gy uint32) chunk.Metadata {
	return chunk.BuildMetadata(gx*64, gy*64, 64)
}

func TestRequestIsIdempotentWhileInFlight(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.gate = make(chan struct{})
	id := chunk.ID{CX: 0, CY: 0}
	fetcher.blobs[id] = blobFor(64, 64)

	uploader := &viewer.NullUploader{}
	m := viewer.New(fetcher, uploader, viewer.WithConcurrency(1))
	m.Initialize("/src.png", metadataFor(1, 1))

	m.Request(id)
	m.Request(id)
	m.Request(id)
	close(fetcher.gate)

	waitForStatus(t, m, id, viewer.InGpu)

	fetcher.mu.Lock()
	calls := fetcher.calls[id]
	fetcher.mu.Unlock()
	if calls != 1 {
		t.Errorf("GetChunk called %d times for one chunk, want 1", calls)
	}
}

func TestConcurrencyCapIsEnforced(t *testing.T) {
	fetcher := newFakeFetcher()
	meta := metadataFor(4, 4)
	for c := range meta.All() {
		fetcher.blobs[c.ID()] = blobFor(c.W, c.H)
	}
	fetcher.gate = make(chan struct{})

	uploader := &viewer.NullUploader{}
	m := viewer.New(fetcher, uploader, viewer.WithConcurrency(2))
	m.Initialize("/src.png", meta)

	for c := range meta.All() {
		m.Request(c.ID())
	}

	time.Sleep(50 * time.Millisecond)
	fetcher.mu.Lock()
	inflight := fetcher.inflight
	fetcher.mu.Unlock()
	if inflight > 2 {
		t.Errorf("observed %d in-flight fetches, want <= 2", inflight)
	}
	close(fetcher.gate)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		stats := m.StatusStats()
		if stats[viewer.InGpu] == 16 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	stats := m.StatusStats()
	if stats[viewer.InGpu] != 16 {
		t.Fatalf("final stats = %v, want all 16 chunks InGpu", stats)
	}

	fetcher.mu.Lock()
	maxInFl := fetcher.maxInFl
	fetcher.mu.Unlock()
	if maxInFl > 2 {
		t.Errorf("max observed in-flight = %d, want <= 2", maxInFl)
	}
}

func TestFramingErrorIsolatesOneChunk(t *testing.T) {
	fetcher := newFakeFetcher()
	meta := metadataFor(2, 1)
	good := chunk.ID{CX: 0, CY: 0}
	bad := chunk.ID{CX: 1, CY: 0}

	goodInfo, _ := meta.Find(good)
	fetcher.blobs[good] = blobFor(goodInfo.W, goodInfo.H)
	fetcher.blobs[bad] = []byte{0x00, 0x00} // too short to carry a header

	uploader := &viewer.NullUploader{}
	m := viewer.New(fetcher, uploader)
	m.Initialize("/src.png", meta)

	m.Request(good)
	m.Request(bad)

	waitForStatus(t, m, good, viewer.InGpu)
	waitForStatus(t, m, bad, viewer.Error)

	loaded := m.LoadedChunks()
	if len(loaded) != 1 || loaded[0] != good {
		t.Errorf("LoadedChunks = %v, want only %v", loaded, good)
	}
}

func TestFetchErrorTransitionsToError(t *testing.T) {
	fetcher := newFakeFetcher()
	meta := metadataFor(1, 1)
	id := chunk.ID{CX: 0, CY: 0}
	fetcher.errs[id] = errors.New("source unavailable")

	m := viewer.New(fetcher, &viewer.NullUploader{})
	m.Initialize("/src.png", meta)
	m.Request(id)

	waitForStatus(t, m, id, viewer.Error)
}

func TestOnReadyFiresExactlyOncePerChunk(t *testing.T) {
	fetcher := newFakeFetcher()
	meta := metadataFor(3, 3)
	for c := range meta.All() {
		fetcher.blobs[c.ID()] = blobFor(c.W, c.H)
	}

	m := viewer.New(fetcher, &viewer.NullUploader{}, viewer.WithConcurrency(4))
	m.Initialize("/src.png", meta)

	var mu sync.Mutex
	seen := make(map[chunk.ID]int)
	var wg sync.WaitGroup
	wg.Add(9)
	m.SetOnReady(func(id chunk.ID) {
		mu.Lock()
		seen[id]++
		mu.Unlock()
		wg.Done()
	})

	for c := range meta.All() {
		m.Request(c.ID())
	}
	wg.Wait()

	for id, count := range seen {
		if count != 1 {
			t.Errorf("onReady fired %d times for %v, want 1", count, id)
		}
	}
}

func TestCleanupReleasesAllTextures(t *testing.T) {
	fetcher := newFakeFetcher()
	meta := metadataFor(2, 2)
	for c := range meta.All() {
		fetcher.blobs[c.ID()] = blobFor(c.W, c.H)
	}

	uploader := &viewer.NullUploader{}
	m := viewer.New(fetcher, uploader)
	m.Initialize("/src.png", meta)
	m.LoadProgressive()

	uploaded, _ := uploader.Stats()
	if uploaded != 4 {
		t.Fatalf("uploaded = %d, want 4", uploaded)
	}

	m.Cleanup()
	_, released := uploader.Stats()
	if released != 4 {
		t.Errorf("released = %d, want 4", released)
	}
	if len(m.LoadedChunks()) != 0 {
		t.Errorf("LoadedChunks after Cleanup = %v, want empty", m.LoadedChunks())
	}
}

func TestLoadProgressiveCoversEveryChunk(t *testing.T) {
	fetcher := newFakeFetcher()
	meta := metadataFor(5, 3)
	for c := range meta.All() {
		fetcher.blobs[c.ID()] = blobFor(c.W, c.H)
	}

	m := viewer.New(fetcher, &viewer.NullUploader{})
	m.Initialize("/src.png", meta)
	m.LoadProgressive()

	stats := m.StatusStats()
	if stats[viewer.InGpu] != 15 {
		t.Errorf("stats = %v, want 15 chunks InGpu", stats)
	}
}

func TestRequestOnUnknownChunkIsNoop(t *testing.T) {
	fetcher := newFakeFetcher()
	m := viewer.New(fetcher, &viewer.NullUploader{})
	m.Initialize("/src.png", metadataFor(1, 1))

	m.Request(chunk.ID{CX: 99, CY: 99})
	time.Sleep(10 * time.Millisecond)

	stats := m.StatusStats()
	if stats[viewer.InGpu] != 0 {
		t.Errorf("stats = %v, want no chunks touched", stats)
	}
}

func TestGPUUploadFailureTransitionsToError(t *testing.T) {
	fetcher := newFakeFetcher()
	meta := metadataFor(1, 1)
	id := chunk.ID{CX: 0, CY: 0}
	info, _ := meta.Find(id)
	fetcher.blobs[id] = blobFor(info.W, info.H)

	m := viewer.New(fetcher, failingUploader{})
	m.Initialize("/src.png", meta)
	m.Request(id)

	waitForStatus(t, m, id, viewer.Error)
}

type failingUploader struct{}

func (failingUploader) Upload([]byte, uint32, uint32) (viewer.TextureHandle, error) {
	return nil, fmt.Errorf("device lost")
}
func (failingUploader) Release(viewer.TextureHandle) {}

func waitForStatus(t *testing.T, m *viewer.Manager, id chunk.ID, want viewer.Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got, ok := m.Status(id); ok && got == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	got, _ := m.Status(id)
	t.Fatalf("chunk %v status = %v, want %v", id, got, want)
}

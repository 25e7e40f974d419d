package viewer

import "sync"

// TextureHandle is an opaque reference to a GPU texture, meaningful only to
// the GPUUploader implementation that produced it.
type TextureHandle any

// GPUUploader is the manager's only dependency on a real graphics context.
// The renderer itself — shader program, vertex buffers, viewport math — is
// out of scope for this repository; only this upload contract is defined
// here. A real implementation must create a new 2D texture with
// clamp-to-edge wrapping and nearest filtering, upload as RGBA /
// UNSIGNED_BYTE at mip level 0, and be safe for concurrent calls up to the
// manager's configured concurrency cap.
type GPUUploader interface {
	Upload(pixels []byte, width, height uint32) (TextureHandle, error)
	Release(handle TextureHandle)
}

// NullUploader is a deterministic in-memory GPUUploader used by tests and
// by tooling that wants to exercise the full request/parse/upload pipeline
// without a real graphics context. Each handle is a distinct
// *nullTexture; Release marks it freed so double-release bugs are
// detectable.
type NullUploader struct {
	mu       sync.Mutex
	uploaded int
	released int
}

type nullTexture struct {
	id       int
	width    int
	height   int
	released bool
}

func (u *NullUploader) Upload(pixels []byte, width, height uint32) (TextureHandle, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.uploaded++
	return &nullTexture{id: u.uploaded, width: int(width), height: int(height)}, nil
}

func (u *NullUploader) Release(handle TextureHandle) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if tex, ok := handle.(*nullTexture); ok {
		tex.released = true
	}
	u.released++
}

// Stats returns the number of uploads and releases observed so far.
func (u *NullUploader) Stats() (uploaded, released int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.uploaded, u.released
}

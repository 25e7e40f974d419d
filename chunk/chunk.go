// Package chunk provides the common types shared by the cache store,
// preprocessor, chunk server and viewer: chunk coordinates, per-chunk
// geometry, and the metadata record that describes a whole cache entry.
package chunk

import "fmt"

// ID identifies a chunk by its position in the tile grid.
type ID struct {
	CX uint32
	CY uint32
}

func (id ID) String() string {
	return fmt.Sprintf("chunk_%d_%d", id.CX, id.CY)
}

// Info describes one chunk's geometry within the source image. Bottom and
// right edge chunks may be smaller than the nominal chunk size.
type Info struct {
	CX uint32
	CY uint32
	X  uint32
	Y  uint32
	W  uint32
	H  uint32
}

func (i Info) ID() ID {
	return ID{CX: i.CX, CY: i.CY}
}

// BlobLength is the expected byte length of this chunk's blob: an 8 byte
// width/height header followed by w*h*4 RGBA bytes.
func (i Info) BlobLength() int {
	return 8 + int(i.W)*int(i.H)*4
}

// Metadata describes a complete cache entry: the source's dimensions, the
// nominal chunk size used to tile it, and the resulting grid of chunks.
type Metadata struct {
	TotalWidth  uint32 `json:"total_width"`
	TotalHeight uint32 `json:"total_height"`
	ChunkSize   uint32 `json:"chunk_size"`
	ChunksX     uint32 `json:"chunks_x"`
	ChunksY     uint32 `json:"chunks_y"`
	Chunks      []Info `json:"chunks"`
}

// ceilDiv computes ceil(a/b) for non-negative integers without overflow for
// the sizes this package deals with.
func ceilDiv(a, b uint32) uint32 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// BuildMetadata computes the chunk grid for a source of the given pixel
// dimensions tiled at chunkSize, per the dimension formulas:
//
//	chunksX = ceil(totalWidth / chunkSize), chunksY = ceil(totalHeight / chunkSize)
//	x = cx*chunkSize, y = cy*chunkSize
//	w = min(chunkSize, totalWidth-x), h = min(chunkSize, totalHeight-y)
func BuildMetadata(totalWidth, totalHeight, chunkSize uint32) Metadata {
	chunksX := ceilDiv(totalWidth, chunkSize)
	chunksY := ceilDiv(totalHeight, chunkSize)

	chunks := make([]Info, 0, int(chunksX)*int(chunksY))
	for cy := uint32(0); cy < chunksY; cy++ {
		for cx := uint32(0); cx < chunksX; cx++ {
			x := cx * chunkSize
			y := cy * chunkSize
			w := min(chunkSize, totalWidth-x)
			h := min(chunkSize, totalHeight-y)
			chunks = append(chunks, Info{CX: cx, CY: cy, X: x, Y: y, W: w, H: h})
		}
	}

	return Metadata{
		TotalWidth:  totalWidth,
		TotalHeight: totalHeight,
		ChunkSize:   chunkSize,
		ChunksX:     chunksX,
		ChunksY:     chunksY,
		Chunks:      chunks,
	}
}

// Find returns the Info for the given chunk ID, if present.
func (m Metadata) Find(id ID) (Info, bool) {
	if id.CY >= m.ChunksY || id.CX >= m.ChunksX {
		return Info{}, false
	}
	idx := int(id.CY)*int(m.ChunksX) + int(id.CX)
	if idx < 0 || idx >= len(m.Chunks) {
		return Info{}, false
	}
	info := m.Chunks[idx]
	if info.CX != id.CX || info.CY != id.CY {
		// Chunks slice is not in the expected row-major order; fall back
		// to a linear scan rather than trust the index.
		for _, c := range m.Chunks {
			if c.CX == id.CX && c.CY == id.CY {
				return c, true
			}
		}
		return Info{}, false
	}
	return info, true
}

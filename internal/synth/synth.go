// Package synth generates small synthetic RGBA images for tests, in place
// of the fixture archives a larger corpus might ship. Images are built
// procedurally so chunk boundaries and pixel values are known exactly,
// without embedding binary test data in the repository.
package synth

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

// Gradient returns a deterministic image.RGBA of the given size where each
// pixel's channels encode its own coordinates, which makes region-extraction
// bugs (off-by-one rows/columns, wrong stride) visible in a failing test's
// diff instead of a wash of identical bytes.
func Gradient(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: byte(x),
				G: byte(y),
				B: byte(x ^ y),
				A: 255,
			})
		}
	}
	return img
}

// Solid returns an image.RGBA of the given size filled with one color.
func Solid(width, height int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// EncodePNG encodes img as a PNG file's bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Case is a single named test input, mirroring the shape of a fixture entry
// without requiring an on-disk archive.
type Case struct {
	Name string
	Img  *image.RGBA
}

// Cases returns an iterator-friendly slice of named synthetic images
// spanning the boundary behaviors this repo's chunking logic must handle:
// exact multiples of a chunk size, ragged edges, and a single pixel.
func Cases() []Case {
	return []Case{
		{Name: "tiny_single_tile", Img: Gradient(800, 600)},
		{Name: "even_tiling", Img: Gradient(2048, 2048)},
		{Name: "ragged_edge", Img: Gradient(1500, 1000)},
		{Name: "single_pixel", Img: Gradient(1, 1)},
	}
}

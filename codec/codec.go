// Package codec decodes a source image file into a contiguous, row-major
// RGBA8 pixel buffer. It wraps the stdlib image decoders plus
// golang.org/x/image's bmp, tiff and webp decoders for the formats the
// stdlib doesn't cover; used only at preprocess time.
package codec

import (
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"

	"github.com/rasterchunk/chunkcache/ccerr"
)

// Kind is the detected source format, derived from the file extension. The
// extension gate is advisory only: the decoder remains authoritative for
// whether the bytes actually parse.
type Kind string

const (
	KindPNG  Kind = "png"
	KindJPEG Kind = "jpeg"
	KindBMP  Kind = "bmp"
	KindTIFF Kind = "tiff"
	KindWebP Kind = "webp"
)

// DetectKind maps a file path's extension to a Kind, or reports
// ccerr.ErrUnsupportedFormat if the extension isn't one of the five
// supported formats.
func DetectKind(path string) (Kind, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return KindPNG, nil
	case ".jpg", ".jpeg":
		return KindJPEG, nil
	case ".bmp":
		return KindBMP, nil
	case ".tif", ".tiff":
		return KindTIFF, nil
	case ".webp":
		return KindWebP, nil
	default:
		return "", ccerr.New(ccerr.UnsupportedFormat, fmt.Errorf("unsupported extension %q", filepath.Ext(path)))
	}
}

// Image holds a decoded source: its pixel dimensions and a tightly packed
// (no stride padding), non-premultiplied RGBA8 buffer, top-left origin,
// row-major.
type Image struct {
	Width  uint32
	Height uint32
	Pixels []byte
}

// Decode opens the file at path, detects its format from the extension,
// decodes it, and returns a packed RGBA8 buffer.
//
// Fails with ccerr.ErrFileNotFound if the path doesn't exist,
// ccerr.ErrUnsupportedFormat if the extension gate rejects it, and
// ccerr.ErrDecodeFailed if the underlying codec rejects the bytes. Never
// partially succeeds: on any error the returned Image is the zero value.
func Decode(path string) (Image, error) {
	kind, err := DetectKind(path)
	if err != nil {
		return Image{}, err
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Image{}, ccerr.New(ccerr.FileNotFound, err)
		}
		return Image{}, ccerr.New(ccerr.IO, err)
	}
	defer file.Close()

	img, err := decodeByKind(kind, file)
	if err != nil {
		return Image{}, ccerr.New(ccerr.DecodeFailed, err)
	}

	return toPackedRGBA(img), nil
}

func decodeByKind(kind Kind, r io.Reader) (image.Image, error) {
	switch kind {
	case KindPNG:
		return png.Decode(r)
	case KindJPEG:
		return jpeg.Decode(r)
	case KindBMP:
		return bmp.Decode(r)
	case KindTIFF:
		return tiff.Decode(r)
	case KindWebP:
		return webp.Decode(r)
	default:
		return nil, fmt.Errorf("codec: unreachable kind %q", kind)
	}
}

// toPackedRGBA converts any decoded image.Image into a *image.RGBA with
// stride == width*4 (no padding), copying pixels only when the decoder
// didn't already hand back one in that exact shape.
func toPackedRGBA(img image.Image) Image {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if rgba, ok := img.(*image.RGBA); ok && rgba.Stride == width*4 && bounds.Min == (image.Point{}) {
		return Image{Width: uint32(width), Height: uint32(height), Pixels: rgba.Pix}
	}

	packed := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(packed, packed.Bounds(), img, bounds.Min, draw.Src)
	return Image{Width: uint32(width), Height: uint32(height), Pixels: packed.Pix}
}

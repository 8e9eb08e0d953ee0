// CLAUDE:SUMMARY Viewport and RasterImage types plus deterministic PNG decode/encode helpers.
// Package imaging holds the bitmap types shared by the rasterizer, the page
// capturer and the differ, and the normalizer that brings two bitmaps onto
// the same canvas.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"os"
	"path/filepath"
)

// Viewport is a pixel width/height at which a page is rendered or a design
// is meant to be viewed. Both dimensions must be strictly positive.
type Viewport struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Validate rejects non-positive dimensions.
func (v Viewport) Validate() error {
	if v.Width <= 0 || v.Height <= 0 {
		return fmt.Errorf("imaging: viewport must be positive, got %dx%d", v.Width, v.Height)
	}
	return nil
}

// Pixels returns Width*Height.
func (v Viewport) Pixels() int { return v.Width * v.Height }

func (v Viewport) String() string { return fmt.Sprintf("%dx%d", v.Width, v.Height) }

// Origin records where a RasterImage came from.
type Origin struct {
	SourcePath string `json:"source_path"` // document path or page URL
	Page       int    `json:"page,omitempty"`
}

// RasterImage is an RGBA bitmap with origin metadata. It is never mutated
// after construction; callers must not write to the buffer returned by RGBA.
type RasterImage struct {
	rgba   *image.RGBA
	Origin Origin
}

// FromImage copies img into a new RasterImage with its bounds rebased at 0,0.
func FromImage(img image.Image, origin Origin) *RasterImage {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return &RasterImage{rgba: dst, Origin: origin}
}

func (r *RasterImage) Width() int  { return r.rgba.Rect.Dx() }
func (r *RasterImage) Height() int { return r.rgba.Rect.Dy() }

// Size returns the image dimensions as a Viewport.
func (r *RasterImage) Size() Viewport {
	return Viewport{Width: r.Width(), Height: r.Height()}
}

// RGBA exposes the pixel buffer (row-major, 4 bytes per pixel, stride
// RGBA().Stride). Read only.
func (r *RasterImage) RGBA() *image.RGBA { return r.rgba }

// DecodePNG decodes a PNG stream into a RasterImage.
func DecodePNG(rd io.Reader, origin Origin) (*RasterImage, error) {
	img, err := png.Decode(rd)
	if err != nil {
		return nil, fmt.Errorf("imaging: decode png: %w", err)
	}
	return FromImage(img, origin), nil
}

// LoadPNG reads and decodes the PNG file at path.
func LoadPNG(path string, origin Origin) (*RasterImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodePNG(f, origin)
}

var encoder = png.Encoder{CompressionLevel: png.DefaultCompression}

// EncodePNG writes img as PNG. The encoder settings are fixed so equal
// images always produce equal bytes.
func EncodePNG(w io.Writer, img image.Image) error {
	if err := encoder.Encode(w, img); err != nil {
		return fmt.Errorf("imaging: encode png: %w", err)
	}
	return nil
}

// PNGBytes encodes img to a byte slice.
func PNGBytes(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodePNG(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WritePNG encodes img to path atomically: the file appears complete or
// not at all.
func WritePNG(path string, img image.Image) error {
	data, err := PNGBytes(img)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes data to a temp file next to path then renames it.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("imaging: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("imaging: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("imaging: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("imaging: close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("imaging: rename %s: %w", path, err)
	}
	return nil
}

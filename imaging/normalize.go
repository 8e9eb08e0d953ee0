// CLAUDE:SUMMARY Scale-to-fit and pad normalizer that puts a bitmap on an exact target canvas.
package imaging

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
)

// Background is the neutral colour used to pad normalized images.
var Background = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// Normalize returns img placed on a canvas of exactly target size. The
// content is scaled to fit while keeping its aspect ratio, centred, and the
// remaining area is padded with Background. Nothing is cropped.
//
// Both paths composite onto Background, so the result is always opaque. An
// opaque image already at the target size comes back byte-identical.
func Normalize(img *RasterImage, target Viewport) (*RasterImage, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if img.Size() == target {
		dst := image.NewRGBA(image.Rect(0, 0, target.Width, target.Height))
		draw.Draw(dst, dst.Bounds(), image.NewUniform(Background), image.Point{}, draw.Src)
		draw.Draw(dst, dst.Bounds(), img.rgba, img.rgba.Rect.Min, draw.Over)
		return &RasterImage{rgba: dst, Origin: img.Origin}, nil
	}

	w, h := img.Width(), img.Height()
	scale := math.Min(float64(target.Width)/float64(w), float64(target.Height)/float64(h))
	dw := clamp(int(math.Round(float64(w)*scale)), 1, target.Width)
	dh := clamp(int(math.Round(float64(h)*scale)), 1, target.Height)

	dst := image.NewRGBA(image.Rect(0, 0, target.Width, target.Height))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(Background), image.Point{}, draw.Src)

	x0 := (target.Width - dw) / 2
	y0 := (target.Height - dh) / 2
	draw.CatmullRom.Scale(dst, image.Rect(x0, y0, x0+dw, y0+dh), img.rgba, img.rgba.Bounds(), draw.Over, nil)

	return &RasterImage{rgba: dst, Origin: img.Origin}, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// CLAUDE:SUMMARY Perceptual per-pixel differ (YIQ delta + anti-aliasing detection) producing a count and a diff image.
// Package pixeldiff compares two equally sized bitmaps.
//
// Colour distance is measured in YIQ space against a tolerance threshold, so
// sub-pixel rendering noise does not count as a difference. Pixels that only
// differ because of anti-aliasing are detected on both images and, unless
// IncludeAA is set, drawn in AAColor without being counted.
//
// The diff image has the inputs' dimensions: matching pixels are a faded
// grayscale copy of the first image, differing pixels are DiffColor.
package pixeldiff

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/hazyhaar/wirediff/fault"
	"github.com/hazyhaar/wirediff/imaging"
)

// maxYIQDelta is the largest possible YIQ distance between two colours.
const maxYIQDelta = 35215

// Options tunes the comparison.
type Options struct {
	// Threshold is the matching tolerance in [0,1]. Smaller is stricter.
	Threshold float64
	// IncludeAA counts anti-aliased pixels as differences.
	IncludeAA bool
	// Alpha is the opacity of matching pixels in the diff image.
	Alpha float64
	// DiffColor marks differing pixels.
	DiffColor color.RGBA
	// AAColor marks anti-aliased pixels that were not counted.
	AAColor color.RGBA
}

// DefaultOptions returns threshold 0.1, red differences, yellow
// anti-aliasing, matching pixels at 10% opacity.
func DefaultOptions() Options {
	return Options{
		Threshold: 0.1,
		Alpha:     0.1,
		DiffColor: color.RGBA{R: 255, A: 255},
		AAColor:   color.RGBA{R: 255, G: 255, A: 255},
	}
}

// Result is the outcome of a comparison.
type Result struct {
	DiffPixels  int
	TotalPixels int
	Image       *image.RGBA
}

// Differ compares bitmaps with fixed options. Safe for concurrent use.
type Differ struct {
	opts Options
}

// New returns a Differ. Threshold must lie in [0,1].
func New(opts Options) (*Differ, error) {
	if opts.Threshold < 0 || opts.Threshold > 1 {
		return nil, fmt.Errorf("pixeldiff: threshold %v out of [0,1]", opts.Threshold)
	}
	return &Differ{opts: opts}, nil
}

// Diff compares a and b. They must have identical dimensions, otherwise a
// fault.KindDimensionMismatch error is returned and nothing is produced.
// The count does not depend on argument order; the diff image is drawn
// over a.
func (d *Differ) Diff(a, b *imaging.RasterImage) (Result, error) {
	if a.Size() != b.Size() {
		return Result{}, fault.New(fault.KindDimensionMismatch, "diff",
			fmt.Sprintf("image sizes differ: %v vs %v", a.Size(), b.Size()))
	}

	w, h := a.Width(), a.Height()
	img1, img2 := a.RGBA(), b.RGBA()
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	res := Result{TotalPixels: w * h, Image: out}

	if bytes.Equal(img1.Pix, img2.Pix) {
		for y := range h {
			for x := range w {
				drawGray(img1, out, x, y, d.opts.Alpha)
			}
		}
		return res, nil
	}

	maxDelta := maxYIQDelta * d.opts.Threshold * d.opts.Threshold

	for y := range h {
		for x := range w {
			delta := colorDelta(img1, img2, x, y, x, y, false)
			if abs(delta) <= maxDelta {
				drawGray(img1, out, x, y, d.opts.Alpha)
				continue
			}
			if !d.opts.IncludeAA && (antialiased(img1, img2, x, y) || antialiased(img2, img1, x, y)) {
				out.SetRGBA(x, y, d.opts.AAColor)
				continue
			}
			out.SetRGBA(x, y, d.opts.DiffColor)
			res.DiffPixels++
		}
	}
	return res, nil
}

// antialiased reports whether the pixel at (x1,y1) of img looks like an
// anti-aliasing artefact: it sits between a darker and a brighter neighbour
// and those neighbours belong to flat regions in both images.
func antialiased(img, other *image.RGBA, x1, y1 int) bool {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	x0, y0 := max(x1-1, 0), max(y1-1, 0)
	x2, y2 := min(x1+1, w-1), min(y1+1, h-1)

	zeroes := 0
	if x1 == x0 || x1 == x2 || y1 == y0 || y1 == y2 {
		zeroes = 1
	}

	var minD, maxD float64
	var minX, minY, maxX, maxY int

	for x := x0; x <= x2; x++ {
		for y := y0; y <= y2; y++ {
			if x == x1 && y == y1 {
				continue
			}
			delta := colorDelta(img, img, x1, y1, x, y, true)
			switch {
			case delta == 0:
				zeroes++
				if zeroes > 2 {
					return false
				}
			case delta < minD:
				minD, minX, minY = delta, x, y
			case delta > maxD:
				maxD, maxX, maxY = delta, x, y
			}
		}
	}

	if minD == 0 || maxD == 0 {
		return false
	}

	return (hasManySiblings(img, minX, minY) && hasManySiblings(other, minX, minY)) ||
		(hasManySiblings(img, maxX, maxY) && hasManySiblings(other, maxX, maxY))
}

// hasManySiblings reports whether at least three neighbours of (x1,y1)
// share its exact colour.
func hasManySiblings(img *image.RGBA, x1, y1 int) bool {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	x0, y0 := max(x1-1, 0), max(y1-1, 0)
	x2, y2 := min(x1+1, w-1), min(y1+1, h-1)

	zeroes := 0
	if x1 == x0 || x1 == x2 || y1 == y0 || y1 == y2 {
		zeroes = 1
	}

	c := img.RGBAAt(x1, y1)
	for x := x0; x <= x2; x++ {
		for y := y0; y <= y2; y++ {
			if x == x1 && y == y1 {
				continue
			}
			if img.RGBAAt(x, y) == c {
				zeroes++
			}
			if zeroes > 2 {
				return true
			}
		}
	}
	return false
}

// colorDelta returns the squared YIQ distance between two pixels, signed
// negative when the first is brighter. With yOnly it returns the signed
// luma difference.
func colorDelta(img1, img2 *image.RGBA, x1, y1, x2, y2 int, yOnly bool) float64 {
	c1, c2 := img1.RGBAAt(x1, y1), img2.RGBAAt(x2, y2)
	if c1 == c2 {
		return 0
	}

	r1, g1, b1 := blendWhite(c1)
	r2, g2, b2 := blendWhite(c2)

	ya, yb := rgb2y(r1, g1, b1), rgb2y(r2, g2, b2)
	y := ya - yb
	if yOnly {
		return y
	}

	i := rgb2i(r1, g1, b1) - rgb2i(r2, g2, b2)
	q := rgb2q(r1, g1, b1) - rgb2q(r2, g2, b2)

	delta := 0.5053*y*y + 0.299*i*i + 0.1957*q*q
	if ya > yb {
		return -delta
	}
	return delta
}

// blendWhite composites a pixel onto white. image.RGBA holds premultiplied
// colour, so the channels are un-premultiplied before blending.
func blendWhite(c color.RGBA) (r, g, b float64) {
	if c.A == 255 {
		return float64(c.R), float64(c.G), float64(c.B)
	}
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	a := float64(n.A) / 255
	return blend(float64(n.R), a), blend(float64(n.G), a), blend(float64(n.B), a)
}

func drawGray(src, dst *image.RGBA, x, y int, alpha float64) {
	n := color.NRGBAModel.Convert(src.RGBAAt(x, y)).(color.NRGBA)
	v := blend(rgb2y(float64(n.R), float64(n.G), float64(n.B)), alpha*float64(n.A)/255)
	g := uint8(clamp255(v))
	dst.SetRGBA(x, y, color.RGBA{R: g, G: g, B: g, A: 255})
}

func blend(c, a float64) float64 { return 255 + (c-255)*a }

func rgb2y(r, g, b float64) float64 { return r*0.29889531 + g*0.58662247 + b*0.11448223 }
func rgb2i(r, g, b float64) float64 { return r*0.59597799 - g*0.27417610 - b*0.32180189 }
func rgb2q(r, g, b float64) float64 { return r*0.21147017 - g*0.52261711 + b*0.31114694 }

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func clamp255(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

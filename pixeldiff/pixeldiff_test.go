package pixeldiff

import (
	"image"
	"image/color"
	"math/rand/v2"
	"testing"

	"github.com/hazyhaar/wirediff/fault"
	"github.com/hazyhaar/wirediff/imaging"
)

var white = color.RGBA{255, 255, 255, 255}

func fill(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func raster(img *image.RGBA) *imaging.RasterImage {
	return imaging.FromImage(img, imaging.Origin{SourcePath: "test"})
}

func noisy(seed uint64, w, h int) *image.RGBA {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetRGBA(x, y, color.RGBA{uint8(rng.IntN(256)), uint8(rng.IntN(256)), uint8(rng.IntN(256)), 255})
		}
	}
	return img
}

func mustDiffer(t *testing.T, opts Options) *Differ {
	t.Helper()
	d, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestDiff_Identity(t *testing.T) {
	d := mustDiffer(t, DefaultOptions())
	a := raster(noisy(1, 40, 30))

	res, err := d.Diff(a, a)
	if err != nil {
		t.Fatal(err)
	}
	if res.DiffPixels != 0 {
		t.Fatalf("diff(a, a) = %d, want 0", res.DiffPixels)
	}
	if res.TotalPixels != 40*30 {
		t.Fatalf("total = %d, want %d", res.TotalPixels, 40*30)
	}
	for i := 0; i < len(res.Image.Pix); i += 4 {
		p := res.Image.Pix[i : i+4]
		if p[0] != p[1] || p[1] != p[2] {
			t.Fatalf("highlighted pixel at offset %d: %v", i, p)
		}
	}
}

func TestDiff_SymmetricCount(t *testing.T) {
	d := mustDiffer(t, DefaultOptions())
	base := noisy(7, 64, 48)
	other := noisy(7, 64, 48)
	// Paint a block and scatter noise so both flat and textured regions differ.
	for y := 10; y < 20; y++ {
		for x := 5; x < 30; x++ {
			other.SetRGBA(x, y, color.RGBA{0, 0, 0, 255})
		}
	}
	rng := rand.New(rand.NewPCG(3, 4))
	for range 200 {
		other.SetRGBA(rng.IntN(64), rng.IntN(48), color.RGBA{uint8(rng.IntN(256)), 0, 255, 255})
	}

	ab, err := d.Diff(raster(base), raster(other))
	if err != nil {
		t.Fatal(err)
	}
	ba, err := d.Diff(raster(other), raster(base))
	if err != nil {
		t.Fatal(err)
	}
	if ab.DiffPixels != ba.DiffPixels {
		t.Fatalf("diff(a,b)=%d diff(b,a)=%d, want equal", ab.DiffPixels, ba.DiffPixels)
	}
	if ab.DiffPixels == 0 {
		t.Fatal("expected differences")
	}
}

func TestDiff_SinglePixel(t *testing.T) {
	d := mustDiffer(t, DefaultOptions())
	a := fill(10, 10, white)
	b := fill(10, 10, white)
	b.SetRGBA(5, 5, color.RGBA{0, 0, 0, 255})

	res, err := d.Diff(raster(a), raster(b))
	if err != nil {
		t.Fatal(err)
	}
	if res.DiffPixels != 1 {
		t.Fatalf("diff = %d, want 1", res.DiffPixels)
	}
	if got := res.Image.RGBAAt(5, 5); got != DefaultOptions().DiffColor {
		t.Fatalf("diff pixel colour = %v, want %v", got, DefaultOptions().DiffColor)
	}
	if got := res.Image.RGBAAt(0, 0); got.R != got.G || got.G != got.B {
		t.Fatalf("matching pixel should be gray, got %v", got)
	}
}

func TestDiff_TranslucentMatchesOnWhite(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := range 4 {
		for x := range 4 {
			src.SetNRGBA(x, y, color.NRGBA{R: 255, A: 128})
		}
	}
	translucent := imaging.FromImage(src, imaging.Origin{SourcePath: "translucent"})
	onWhite := raster(fill(4, 4, color.RGBA{255, 127, 127, 255}))

	res, err := mustDiffer(t, DefaultOptions()).Diff(translucent, onWhite)
	if err != nil {
		t.Fatal(err)
	}
	if res.DiffPixels != 0 {
		t.Fatalf("diff = %d, want 0 (stored pixel %v)", res.DiffPixels, translucent.RGBA().RGBAAt(0, 0))
	}
}

func TestDiff_Threshold(t *testing.T) {
	a := fill(8, 8, color.RGBA{200, 200, 200, 255})
	b := fill(8, 8, color.RGBA{203, 200, 200, 255})

	tests := []struct {
		threshold float64
		want      int
	}{
		{0.1, 0},
		{0, 64},
	}
	for _, tt := range tests {
		opts := DefaultOptions()
		opts.Threshold = tt.threshold
		res, err := mustDiffer(t, opts).Diff(raster(a), raster(b))
		if err != nil {
			t.Fatal(err)
		}
		if res.DiffPixels != tt.want {
			t.Errorf("threshold %v: diff = %d, want %d", tt.threshold, res.DiffPixels, tt.want)
		}
	}
}

func TestDiff_DimensionMismatch(t *testing.T) {
	d := mustDiffer(t, DefaultOptions())
	res, err := d.Diff(raster(fill(10, 10, white)), raster(fill(10, 11, white)))
	if !fault.IsKind(err, fault.KindDimensionMismatch) {
		t.Fatalf("err = %v, want dimension mismatch", err)
	}
	if res.Image != nil {
		t.Fatal("no diff image expected on mismatch")
	}
}

func TestDiff_Deterministic(t *testing.T) {
	d := mustDiffer(t, DefaultOptions())
	a, b := raster(noisy(11, 32, 32)), raster(noisy(12, 32, 32))

	r1, err := d.Diff(a, b)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := d.Diff(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if r1.DiffPixels != r2.DiffPixels {
		t.Fatal("count not deterministic")
	}
	p1, _ := imaging.PNGBytes(r1.Image)
	p2, _ := imaging.PNGBytes(r2.Image)
	if string(p1) != string(p2) {
		t.Fatal("diff image not deterministic")
	}
}

func TestNew_RejectsThreshold(t *testing.T) {
	for _, th := range []float64{-0.1, 1.5} {
		opts := DefaultOptions()
		opts.Threshold = th
		if _, err := New(opts); err == nil {
			t.Errorf("threshold %v: expected error", th)
		}
	}
}

func TestAntialiased_EdgeIgnored(t *testing.T) {
	// A soft one-pixel edge between black and white: a shifted gray column
	// is an anti-aliasing artefact and must not be counted by default.
	a := fill(12, 12, white)
	b := fill(12, 12, white)
	for y := range 12 {
		for x := range 6 {
			a.SetRGBA(x, y, color.RGBA{0, 0, 0, 255})
			b.SetRGBA(x, y, color.RGBA{0, 0, 0, 255})
		}
		a.SetRGBA(6, y, color.RGBA{128, 128, 128, 255})
	}

	res, err := mustDiffer(t, DefaultOptions()).Diff(raster(a), raster(b))
	if err != nil {
		t.Fatal(err)
	}
	if res.DiffPixels != 0 {
		t.Fatalf("anti-aliased column counted: diff = %d", res.DiffPixels)
	}

	opts := DefaultOptions()
	opts.IncludeAA = true
	res, err = mustDiffer(t, opts).Diff(raster(a), raster(b))
	if err != nil {
		t.Fatal(err)
	}
	if res.DiffPixels != 12 {
		t.Fatalf("with IncludeAA diff = %d, want 12", res.DiffPixels)
	}
}

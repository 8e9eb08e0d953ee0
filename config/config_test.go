package config

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/wirediff/capture"
	"github.com/hazyhaar/wirediff/capture/capturetest"
	"github.com/hazyhaar/wirediff/compare"
	"github.com/hazyhaar/wirediff/imaging"
	"github.com/hazyhaar/wirediff/pixeldiff"
	"github.com/hazyhaar/wirediff/raster"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wirediff.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	c := Default()
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if c.RequestTimeout() != time.Minute || c.SettleDelay() != 3*time.Second || c.BatchPacing() != time.Second {
		t.Errorf("durations = %s %s %s", c.RequestTimeout(), c.SettleDelay(), c.BatchPacing())
	}
	if c.PixelTolerance != 0.1 || c.Raster.Binary != "pdftoppm" || c.HTTP.Addr != "127.0.0.1:8087" {
		t.Errorf("defaults = %+v", c)
	}
	if c.Store.Path != filepath.Join("comparison-results", "wirediff.db") || !c.StoreEnabled() {
		t.Errorf("store path = %q", c.Store.Path)
	}
	if !c.Browser.NoSandbox {
		t.Error("no_sandbox should default to true")
	}
}

func TestLoad_FileKeepsUnsetDefaults(t *testing.T) {
	path := writeFile(t, `
output_dir: /tmp/results
pixel_tolerance: 0
browser:
  stealth: true
  recycle_interval: 2h
comparisons:
  - screen_name: Login
    url: https://app.example.com/login
    viewport: {width: 1920, height: 1080}
    pdf_path: designs/app.pdf
  - screen_name: Checkout
    url: https://app.example.com/checkout
    viewport: {width: 375, height: 812}
    pdf_path: designs/app.pdf
    page_number: 4
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.OutputDir != "/tmp/results" || c.Store.Path != "/tmp/results/wirediff.db" {
		t.Errorf("output_dir=%q store=%q", c.OutputDir, c.Store.Path)
	}
	if c.PixelTolerance != 0 {
		t.Errorf("explicit zero tolerance lost: %g", c.PixelTolerance)
	}
	if c.SettleDelayMS != 3000 || !c.Browser.NoSandbox {
		t.Errorf("unset fields lost their defaults: %+v", c)
	}
	if !c.Browser.Stealth || c.Browser.RecycleInterval != 2*time.Hour {
		t.Errorf("browser = %+v", c.Browser)
	}
	if len(c.Comparisons) != 2 {
		t.Fatalf("comparisons = %d", len(c.Comparisons))
	}
	if c.Comparisons[0].PageNumber != 1 || c.Comparisons[1].PageNumber != 4 {
		t.Errorf("page numbers = %d, %d", c.Comparisons[0].PageNumber, c.Comparisons[1].PageNumber)
	}
	if c.Comparisons[1].Viewport.Width != 375 {
		t.Errorf("viewport = %+v", c.Comparisons[1].Viewport)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "output_dir: from-file\n")
	t.Setenv("WIREDIFF_OUTPUT_DIR", "from-env")
	t.Setenv("WIREDIFF_SCORING_URL", "http://localhost:5000/compare")
	t.Setenv("WIREDIFF_SETTLE_DELAY_MS", "500")
	t.Setenv("WIREDIFF_PIXEL_TOLERANCE", "0.25")
	t.Setenv("WIREDIFF_BROWSER_STEALTH", "true")
	t.Setenv("WIREDIFF_STORE_PATH", "-")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.OutputDir != "from-env" || c.Scoring.URL != "http://localhost:5000/compare" {
		t.Errorf("overrides not applied: %+v", c)
	}
	if c.SettleDelay() != 500*time.Millisecond || c.PixelTolerance != 0.25 || !c.Browser.Stealth {
		t.Errorf("typed overrides: settle=%s tol=%g stealth=%v", c.SettleDelay(), c.PixelTolerance, c.Browser.Stealth)
	}
	if c.StoreEnabled() {
		t.Error("store should be disabled")
	}
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("WIREDIFF_REQUEST_TIMEOUT_MS", "soon")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "WIREDIFF_REQUEST_TIMEOUT_MS") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeFile(t, "output_dir: [unclosed")); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"tolerance above 1", func(c *Config) { c.PixelTolerance = 1.5 }, "pixel_tolerance"},
		{"negative tolerance", func(c *Config) { c.PixelTolerance = -0.1 }, "pixel_tolerance"},
		{"zero timeout", func(c *Config) { c.RequestTimeoutMS = 0 }, "request_timeout_ms"},
		{"negative settle", func(c *Config) { c.SettleDelayMS = -1 }, "settle_delay_ms"},
		{"no output dir", func(c *Config) { c.OutputDir = "" }, "output_dir"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			c.Comparisons = []compare.Request{{
				ScreenName: "home", URL: "https://example.com", DocumentPath: "a.pdf",
			}}
			c.Comparisons[0].Viewport.Width, c.Comparisons[0].Viewport.Height = 100, 100
			tt.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

type pageRaster struct{ img image.Image }

func (p pageRaster) Rasterize(_ context.Context, job raster.Job) (*imaging.RasterImage, error) {
	if err := imaging.WritePNG(job.OutputPath, p.img); err != nil {
		return nil, err
	}
	return imaging.FromImage(p.img, imaging.Origin{SourcePath: job.DocumentPath, Page: job.PageNumber}), nil
}

func TestLoad_InvalidComparisonFailsOnlyItself(t *testing.T) {
	out := t.TempDir()
	path := writeFile(t, `
output_dir: `+out+`
settle_delay_ms: 0
batch_pacing_ms: 0
comparisons:
  - screen_name: a
    url: https://app.test/a
    viewport: {width: 64, height: 48}
    pdf_path: site.pdf
  - screen_name: b
    url: https://app.test/b
    viewport: {width: 64, height: 48}
  - screen_name: c
    url: https://app.test/c
    viewport: {width: 64, height: 48}
    pdf_path: site.pdf
    page_number: 2
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	problems := c.InvalidComparisons()
	if len(problems) != 1 || !strings.Contains(problems[0].Error(), "comparisons[1]") {
		t.Fatalf("invalid comparisons = %v, want one for comparisons[1]", problems)
	}

	page := image.NewRGBA(image.Rect(0, 0, 64, 48))
	draw.Draw(page, page.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	renderer := capturetest.NewRenderer()
	for _, u := range []string{"https://app.test/a", "https://app.test/b", "https://app.test/c"} {
		renderer.Serve(u, page)
	}

	layout := compare.Layout{Root: c.OutputDir}
	if err := layout.Ensure(); err != nil {
		t.Fatal(err)
	}
	cmp, err := compare.New(pageRaster{img: page}, capture.New(renderer, capture.Config{}), compare.Config{
		Layout: layout,
		Diff:   pixeldiff.DefaultOptions(),
	})
	if err != nil {
		t.Fatal(err)
	}
	rep := compare.NewBatch(cmp, compare.BatchConfig{Pacing: c.BatchPacing()}).Run(context.Background(), c.Comparisons)

	if rep.Completed() != 2 || rep.Failed() != 1 {
		t.Fatalf("completed=%d failed=%d, want 2/1", rep.Completed(), rep.Failed())
	}
	if !rep.Results[1].Failed() || rep.Results[1].ScreenName != "b" {
		t.Fatalf("result[1] = %+v, want failed b", rep.Results[1])
	}
}

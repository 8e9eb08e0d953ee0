// CLAUDE:SUMMARY Rasterizes one PDF page to a PNG at the target viewport width using pdfcpu validation and pdftoppm.
// Package raster converts one page of a PDF document into a bitmap sized for
// a viewport.
//
// The document is opened and validated with pdfcpu first so missing, corrupt
// or out-of-range requests fail fast with a fault.KindDocument error. The
// page is then rendered by poppler's pdftoppm straight at the viewport width
// (height follows the page aspect ratio), anti-aliased, so no later upscale
// is needed.
//
// Usage:
//
//	r := raster.New(raster.Config{})
//	img, err := r.Rasterize(ctx, raster.Job{
//		DocumentPath: "Desktop-1.pdf",
//		PageNumber:   1,
//		Viewport:     imaging.Viewport{Width: 1920, Height: 1080},
//		OutputPath:   "out/wireframes/Desktop_1_wireframe.png",
//	})
package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/hazyhaar/wirediff/fault"
	"github.com/hazyhaar/wirediff/imaging"
)

// Config configures the rasterizer.
type Config struct {
	// Binary is the pdftoppm executable. Default: "pdftoppm".
	Binary string

	// Timeout bounds one pdftoppm run. Default: 60s.
	Timeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Binary == "" {
		c.Binary = "pdftoppm"
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Job describes one page to rasterize.
type Job struct {
	DocumentPath string
	PageNumber   int // 1-indexed
	Viewport     imaging.Viewport
	OutputPath   string // PNG artifact written here
}

// Rasterizer renders PDF pages. Safe for concurrent use.
type Rasterizer struct {
	cfg Config
}

// New creates a Rasterizer.
func New(cfg Config) *Rasterizer {
	cfg.defaults()
	return &Rasterizer{cfg: cfg}
}

// Check verifies the pdftoppm binary can be found.
func (r *Rasterizer) Check() error {
	if _, err := exec.LookPath(r.cfg.Binary); err != nil {
		return fault.Wrap(fault.KindResource, "raster", "pdftoppm not available", err)
	}
	return nil
}

// PageCount opens and validates the document and returns its page count.
func PageCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fault.Wrap(fault.KindDocument, "open", path, err)
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		return 0, fault.Wrap(fault.KindDocument, "read", path, fmt.Errorf("pdfcpu read: %w", err))
	}
	return ctx.PageCount, nil
}

// Rasterize renders job.PageNumber of job.DocumentPath, writes the PNG to
// job.OutputPath and returns the decoded bitmap.
func (r *Rasterizer) Rasterize(ctx context.Context, job Job) (*imaging.RasterImage, error) {
	if err := job.Viewport.Validate(); err != nil {
		return nil, fault.Wrap(fault.KindInvalid, "rasterize", "viewport", err)
	}
	if job.PageNumber < 1 {
		return nil, fault.New(fault.KindDocument, "rasterize",
			fmt.Sprintf("page %d out of range", job.PageNumber))
	}

	pages, err := PageCount(job.DocumentPath)
	if err != nil {
		return nil, err
	}
	if job.PageNumber > pages {
		return nil, fault.New(fault.KindDocument, "rasterize",
			fmt.Sprintf("page %d out of range (document has %d)", job.PageNumber, pages))
	}

	if err := os.MkdirAll(filepath.Dir(job.OutputPath), 0o755); err != nil {
		return nil, fmt.Errorf("raster: mkdir: %w", err)
	}

	start := time.Now()
	if err := r.render(ctx, job); err != nil {
		return nil, err
	}

	img, err := imaging.LoadPNG(job.OutputPath, imaging.Origin{
		SourcePath: job.DocumentPath,
		Page:       job.PageNumber,
	})
	if err != nil {
		return nil, fault.Wrap(fault.KindDocument, "rasterize", "decode rendered page", err)
	}

	r.cfg.Logger.Debug("raster: page rendered",
		"document", job.DocumentPath, "page", job.PageNumber,
		"size", img.Size().String(), "elapsed", time.Since(start))
	return img, nil
}

func (r *Rasterizer) render(ctx context.Context, job Job) error {
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	// pdftoppm appends ".png" to the prefix; render beside the artifact
	// and rename so readers never see a half-written file.
	dir := filepath.Dir(job.OutputPath)
	prefix := filepath.Join(dir, "."+strings.TrimSuffix(filepath.Base(job.OutputPath), ".png")+".render")
	tmp := prefix + ".png"
	defer os.Remove(tmp)

	page := strconv.Itoa(job.PageNumber)
	cmd := exec.CommandContext(runCtx, r.cfg.Binary,
		"-f", page,
		"-l", page,
		"-singlefile",
		"-png",
		"-aa", "yes",
		"-aaVector", "yes",
		"-scale-to-x", strconv.Itoa(job.Viewport.Width),
		"-scale-to-y", "-1",
		job.DocumentPath,
		prefix)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fault.Wrap(fault.KindResource, "rasterize", "pdftoppm not available", err)
		}
		if runCtx.Err() != nil {
			return fault.Wrap(fault.KindResource, "rasterize", "pdftoppm timed out", runCtx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = "pdftoppm failed"
		}
		return fault.Wrap(fault.KindDocument, "rasterize", msg, err)
	}

	if err := os.Rename(tmp, job.OutputPath); err != nil {
		return fmt.Errorf("raster: move output: %w", err)
	}
	return nil
}

// CLAUDE:SUMMARY Comparison orchestrator: rasterizes the wireframe and captures the page in parallel, normalizes both, diffs, and returns a tagged completed/failed result.
// Package compare runs wireframe-versus-live-page comparisons. A Comparator
// handles one request; a Batch runs many, sequentially, with pacing.
//
// The Comparator is the single recovery boundary of the pipeline: whatever
// fails below it (document, navigation, dimensions, engine, even a panic)
// comes back as a failed Result, never as an error or a crash.
package compare

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/wirediff/capture"
	"github.com/hazyhaar/wirediff/imaging"
	"github.com/hazyhaar/wirediff/pixeldiff"
	"github.com/hazyhaar/wirediff/raster"
	"github.com/hazyhaar/wirediff/scoring"
)

// Rasterizer renders one page of a vector document. *raster.Rasterizer
// implements it.
type Rasterizer interface {
	Rasterize(ctx context.Context, job raster.Job) (*imaging.RasterImage, error)
}

// Capturer screenshots a live page. *capture.Capturer implements it.
type Capturer interface {
	Capture(ctx context.Context, shot capture.Shot) (*imaging.RasterImage, error)
}

// Analyzer scores the raw artifacts. *scoring.Client implements it.
type Analyzer interface {
	Analyze(ctx context.Context, wireframe, webpage []byte) (*scoring.Verdict, error)
}

// Config configures a Comparator.
type Config struct {
	Layout      Layout
	SettleDelay time.Duration
	Diff        pixeldiff.Options
	// Analyzer is optional; nil skips scoring.
	Analyzer Analyzer
	Logger   *slog.Logger
}

// Comparator runs one comparison at a time.
type Comparator struct {
	raster   Rasterizer
	capturer Capturer
	differ   *pixeldiff.Differ
	cfg      Config
}

// New creates a Comparator. It fails only on invalid diff options.
func New(r Rasterizer, c Capturer, cfg Config) (*Comparator, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	d, err := pixeldiff.New(cfg.Diff)
	if err != nil {
		return nil, err
	}
	return &Comparator{raster: r, capturer: c, differ: d, cfg: cfg}, nil
}

// Run executes req and always returns a Result.
func (c *Comparator) Run(ctx context.Context, req Request) (res Result) {
	req = req.Normalize()
	res = newResult(req)
	log := c.cfg.Logger.With("screen", req.ScreenName)

	defer func() {
		if p := recover(); p != nil {
			log.Error("compare: panic recovered", "panic", p, "stack", string(debug.Stack()))
			res.fail(fmt.Errorf("compare: internal error: %v", p))
		}
		res.Duration = time.Since(res.StartedAt)
		if res.Failed() {
			log.Warn("compare: comparison failed",
				"error", res.Error, "kind", res.ErrorKind, "elapsed", res.Duration)
			return
		}
		log.Info("compare: comparison completed",
			"diff_pixels", res.DiffPixels, "total_pixels", res.TotalPixels,
			"ratio", res.DiffRatio(), "elapsed", res.Duration)
	}()

	if err := req.Validate(); err != nil {
		res.fail(err)
		return res
	}

	diffPath := c.cfg.Layout.Diff(req.ScreenName)
	// A failed rerun must not leave a previous run's diff behind.
	if err := os.Remove(diffPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		res.fail(fmt.Errorf("compare: remove stale diff: %w", err))
		return res
	}

	wire, page, err := c.acquire(ctx, req, &res)
	if err != nil {
		res.fail(err)
		return res
	}

	wire, err = imaging.Normalize(wire, req.Viewport)
	if err != nil {
		res.fail(fmt.Errorf("compare: normalize wireframe: %w", err))
		return res
	}
	page, err = imaging.Normalize(page, req.Viewport)
	if err != nil {
		res.fail(fmt.Errorf("compare: normalize capture: %w", err))
		return res
	}

	d, err := c.differ.Diff(wire, page)
	if err != nil {
		res.fail(err)
		return res
	}
	if err := imaging.WritePNG(diffPath, d.Image); err != nil {
		res.fail(fmt.Errorf("compare: write diff: %w", err))
		return res
	}

	res.DiffPath = diffPath
	res.DiffPixels = d.DiffPixels
	res.TotalPixels = d.TotalPixels
	res.Status = StatusCompleted

	c.analyze(ctx, &res, log)
	return res
}

// acquire rasterizes and captures concurrently. The first failure cancels
// the other branch.
func (c *Comparator) acquire(ctx context.Context, req Request, res *Result) (*imaging.RasterImage, *imaging.RasterImage, error) {
	var wire, page *imaging.RasterImage
	wirePath := c.cfg.Layout.Wireframe(req.ScreenName)
	shotPath := c.cfg.Layout.Screenshot(req.ScreenName)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(guard("rasterize", func() error {
		img, err := c.raster.Rasterize(gctx, raster.Job{
			DocumentPath: req.DocumentPath,
			PageNumber:   req.PageNumber,
			Viewport:     req.Viewport,
			OutputPath:   wirePath,
		})
		wire = img
		return err
	}))
	g.Go(guard("capture", func() error {
		img, err := c.capturer.Capture(gctx, capture.Shot{
			URL:         req.URL,
			Viewport:    req.Viewport,
			SettleDelay: c.cfg.SettleDelay,
			OutputPath:  shotPath,
		})
		page = img
		return err
	}))
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	res.WireframePath = wirePath
	res.CapturePath = shotPath
	return wire, page, nil
}

// guard turns a panic in a branch goroutine into an error; Run's own
// recover cannot see it.
func guard(op string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("compare: %s: internal error: %v", op, p)
			}
		}()
		return fn()
	}
}

func (c *Comparator) analyze(ctx context.Context, res *Result, log *slog.Logger) {
	if c.cfg.Analyzer == nil {
		return
	}
	wire, err := os.ReadFile(res.WireframePath)
	if err == nil {
		var page []byte
		page, err = os.ReadFile(res.CapturePath)
		if err == nil {
			res.Analysis, err = c.cfg.Analyzer.Analyze(ctx, wire, page)
		}
	}
	if err != nil {
		res.Analysis = nil
		res.AnalysisError = err.Error()
		log.Warn("compare: analysis failed", "error", err)
	}
}

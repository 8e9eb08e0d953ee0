// CLAUDE:SUMMARY Page capturer: opens an isolated page, sets the viewport, waits for network quiet, settles, and screenshots the full page.
// Package capture renders a live URL at an exact viewport and returns a
// full-page bitmap.
//
// The browser is reached through the Renderer capability interface so the
// capturer (and everything above it) can run against a fake renderer in
// tests. RodRenderer is the Chrome implementation.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/wirediff/fault"
	"github.com/hazyhaar/wirediff/imaging"
)

// ErrEngineClosed is returned when the rendering engine is not running.
var ErrEngineClosed = errors.New("capture: rendering engine closed")

// Renderer opens isolated pages on a long-lived rendering engine.
type Renderer interface {
	OpenPage(ctx context.Context) (Page, error)
}

// Page is one isolated browsing context. Close must release it.
type Page interface {
	SetViewport(ctx context.Context, vp imaging.Viewport) error
	// Navigate loads url and returns once the network is almost idle
	// (at most two in-flight connections).
	Navigate(ctx context.Context, url string) error
	// Screenshot returns a PNG. With fullPage the whole scrollable page is
	// captured, so the height may exceed the viewport.
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	Close() error
}

// Config configures a Capturer.
type Config struct {
	// NavigationTimeout bounds navigation and network quiescence. Default: 60s.
	NavigationTimeout time.Duration
	// CommandTimeout bounds the other browser commands (viewport,
	// screenshot) so a wedged engine cannot stall the caller. Default: 30s.
	CommandTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 60 * time.Second
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Shot describes one capture.
type Shot struct {
	URL         string
	Viewport    imaging.Viewport
	SettleDelay time.Duration
	OutputPath  string // PNG artifact written here
}

// Capturer takes full-page screenshots through a Renderer.
type Capturer struct {
	cfg      Config
	renderer Renderer
}

// New creates a Capturer.
func New(renderer Renderer, cfg Config) *Capturer {
	cfg.defaults()
	return &Capturer{cfg: cfg, renderer: renderer}
}

// Capture renders shot.URL and returns the full-page bitmap. The page is
// closed on every return path.
func (c *Capturer) Capture(ctx context.Context, shot Shot) (*imaging.RasterImage, error) {
	if err := shot.Viewport.Validate(); err != nil {
		return nil, fault.Wrap(fault.KindInvalid, "capture", "viewport", err)
	}

	page, err := c.renderer.OpenPage(ctx)
	if err != nil {
		return nil, fault.Wrap(fault.KindResource, "capture", "open page", err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			c.cfg.Logger.Warn("capture: close page", "url", shot.URL, "error", cerr)
		}
	}()

	vctx, cancel := context.WithTimeout(ctx, c.cfg.CommandTimeout)
	err = page.SetViewport(vctx, shot.Viewport)
	cancel()
	if err != nil {
		return nil, c.commandError(ctx, "set viewport", err)
	}

	start := time.Now()
	navCtx, cancel := context.WithTimeout(ctx, c.cfg.NavigationTimeout)
	err = page.Navigate(navCtx, shot.URL)
	cancel()
	if err != nil {
		if errors.Is(err, ErrEngineClosed) {
			return nil, fault.Wrap(fault.KindResource, "capture", "navigate", err)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("capture: navigate %s: %w", shot.URL, ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) || navCtx.Err() != nil {
			return nil, fault.Wrap(fault.KindNavigation, "navigate",
				fmt.Sprintf("%s did not load within %s", shot.URL, c.cfg.NavigationTimeout), err)
		}
		return nil, fault.Wrap(fault.KindNavigation, "navigate", shot.URL, err)
	}

	if err := sleep(ctx, shot.SettleDelay); err != nil {
		return nil, fmt.Errorf("capture: settle: %w", err)
	}

	sctx, cancel := context.WithTimeout(ctx, c.cfg.CommandTimeout)
	data, err := page.Screenshot(sctx, true)
	cancel()
	if err != nil {
		return nil, c.commandError(ctx, "screenshot", err)
	}

	img, err := imaging.DecodePNG(bytes.NewReader(data), imaging.Origin{SourcePath: shot.URL})
	if err != nil {
		return nil, fault.Wrap(fault.KindResource, "capture", "decode screenshot", err)
	}
	if shot.OutputPath != "" {
		if err := imaging.WriteFileAtomic(shot.OutputPath, data); err != nil {
			return nil, fmt.Errorf("capture: write artifact: %w", err)
		}
	}

	c.cfg.Logger.Debug("capture: page captured",
		"url", shot.URL, "viewport", shot.Viewport.String(),
		"size", img.Size().String(), "elapsed", time.Since(start))
	return img, nil
}

// commandError classifies a failed browser command. A command that outlived
// CommandTimeout means the engine is unresponsive.
func (c *Capturer) commandError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("capture: %s: %w", op, ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.Wrap(fault.KindResource, "capture",
			fmt.Sprintf("%s: no response within %s", op, c.cfg.CommandTimeout), err)
	}
	return fault.Wrap(fault.KindResource, "capture", op, err)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

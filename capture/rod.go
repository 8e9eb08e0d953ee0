// CLAUDE:SUMMARY Chrome Renderer over go-rod: one incognito context per page, optional stealth, network-almost-idle navigation.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/wirediff/capture/internal/browser"
	"github.com/hazyhaar/wirediff/fault"
	"github.com/hazyhaar/wirediff/imaging"
)

// RodConfig configures the Chrome renderer.
type RodConfig struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	RemoteURL string
	// Bin is the Chrome executable; empty lets rod find or fetch one.
	Bin string
	// NoSandbox disables the Chrome sandbox.
	NoSandbox bool
	// Stealth opens pages with anti-automation-detection patches.
	Stealth bool
	// RecycleInterval restarts Chrome between captures once exceeded.
	RecycleInterval time.Duration

	Logger *slog.Logger
}

// RodRenderer implements Renderer on a single shared Chrome process. Each
// page gets its own incognito browser context so cookies, storage and
// history never leak between captures.
type RodRenderer struct {
	mgr     *browser.Manager
	stealth bool
	logger  *slog.Logger
}

// NewRodRenderer creates the renderer. Call Start before OpenPage.
func NewRodRenderer(cfg RodConfig) *RodRenderer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RodRenderer{
		mgr: browser.NewManager(browser.Config{
			RemoteURL:       cfg.RemoteURL,
			Bin:             cfg.Bin,
			NoSandbox:       cfg.NoSandbox,
			RecycleInterval: cfg.RecycleInterval,
			Logger:          cfg.Logger,
		}),
		stealth: cfg.Stealth,
		logger:  cfg.Logger,
	}
}

// Start launches or connects to Chrome. A failure here is fatal for a batch.
func (r *RodRenderer) Start(ctx context.Context) error {
	if err := r.mgr.Start(ctx); err != nil {
		return fault.Wrap(fault.KindResource, "start", "rendering engine", err)
	}
	return nil
}

// Close shuts Chrome down.
func (r *RodRenderer) Close() error {
	return r.mgr.Close()
}

// OpenPage opens a blank page in a fresh incognito context.
func (r *RodRenderer) OpenPage(ctx context.Context) (Page, error) {
	b, release, err := r.mgr.Acquire(ctx)
	if err != nil {
		if errors.Is(err, browser.ErrClosed) {
			return nil, fmt.Errorf("%w: %v", ErrEngineClosed, err)
		}
		return nil, err
	}

	// Not bound to ctx: the page must stay closable after ctx is done.
	inc, err := b.Incognito()
	if err != nil {
		release()
		return nil, fmt.Errorf("capture: incognito context: %w", err)
	}

	var page *rod.Page
	if r.stealth {
		page, err = stealth.Page(inc)
	} else {
		page, err = inc.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		disposeContext(inc)
		release()
		return nil, fmt.Errorf("capture: create page: %w", err)
	}

	return &rodPage{page: page, browser: inc, release: release}, nil
}

const closeTimeout = 10 * time.Second

type rodPage struct {
	page    *rod.Page
	browser *rod.Browser
	release func()
	once    sync.Once
}

func (p *rodPage) SetViewport(ctx context.Context, vp imaging.Viewport) error {
	return p.page.Context(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             vp.Width,
		Height:            vp.Height,
		DeviceScaleFactor: 1,
		Mobile:            false,
	})
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx)

	// networkAlmostIdle: no more than two connections for 500ms.
	wait := page.WaitNavigation(proto.PageLifecycleEventNameNetworkAlmostIdle)
	if err := page.Navigate(url); err != nil {
		return err
	}
	wait()
	return ctx.Err()
}

func (p *rodPage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	return p.page.Context(ctx).Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

// Close closes the page and disposes of its incognito context. Safe to
// call more than once.
func (p *rodPage) Close() error {
	var err error
	p.once.Do(func() {
		err = p.page.Timeout(closeTimeout).Close()
		if derr := disposeContext(p.browser); err == nil {
			err = derr
		}
		p.release()
	})
	return err
}

func disposeContext(b *rod.Browser) error {
	return proto.TargetDisposeBrowserContext{BrowserContextID: b.BrowserContextID}.Call(b)
}

// CLAUDE:SUMMARY In-memory Renderer for tests: serves fixed bitmaps per URL, simulates unresolvable, hanging and unresponsive pages, counts page lifecycles.
// Package capturetest provides a fake capture.Renderer so code above the
// capturer can be tested without Chrome.
package capturetest

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/hazyhaar/wirediff/capture"
	"github.com/hazyhaar/wirediff/imaging"
)

// Renderer is a fake capture.Renderer. The zero value is not usable; call
// NewRenderer.
type Renderer struct {
	// OpenErr, when set, makes every OpenPage fail.
	OpenErr error

	mu        sync.Mutex
	pages     map[string]image.Image
	hang      map[string]bool
	wedged    map[string]bool
	opened    int
	closed    int
	viewports []imaging.Viewport
	urls      []string
}

// NewRenderer returns an empty fake renderer.
func NewRenderer() *Renderer {
	return &Renderer{
		pages:  make(map[string]image.Image),
		hang:   make(map[string]bool),
		wedged: make(map[string]bool),
	}
}

// Serve registers the full-page screenshot returned for url.
func (r *Renderer) Serve(url string, img image.Image) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pages[url] = img
}

// Hang makes navigation to url block until its context is done.
func (r *Renderer) Hang(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hang[url] = true
}

// HangScreenshot makes the screenshot of url block until its context is
// done, as an unresponsive engine would.
func (r *Renderer) HangScreenshot(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wedged[url] = true
}

// Opened returns how many pages were opened.
func (r *Renderer) Opened() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opened
}

// Closed returns how many pages were closed.
func (r *Renderer) Closed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Viewports returns the viewports set, in order.
func (r *Renderer) Viewports() []imaging.Viewport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]imaging.Viewport(nil), r.viewports...)
}

// URLs returns the URLs navigated to, in order.
func (r *Renderer) URLs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.urls...)
}

func (r *Renderer) OpenPage(ctx context.Context) (capture.Page, error) {
	if r.OpenErr != nil {
		return nil, r.OpenErr
	}
	r.mu.Lock()
	r.opened++
	r.mu.Unlock()
	return &page{r: r}, nil
}

type page struct {
	r      *Renderer
	url    string
	closed bool
}

func (p *page) SetViewport(_ context.Context, vp imaging.Viewport) error {
	p.r.mu.Lock()
	defer p.r.mu.Unlock()
	p.r.viewports = append(p.r.viewports, vp)
	return nil
}

func (p *page) Navigate(ctx context.Context, url string) error {
	p.r.mu.Lock()
	p.r.urls = append(p.r.urls, url)
	_, ok := p.r.pages[url]
	hang := p.r.hang[url]
	p.r.mu.Unlock()

	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if !ok {
		return fmt.Errorf("navigation failed: net::ERR_NAME_NOT_RESOLVED at %s", url)
	}
	p.url = url
	return nil
}

func (p *page) Screenshot(ctx context.Context, _ bool) ([]byte, error) {
	p.r.mu.Lock()
	img, ok := p.r.pages[p.url]
	wedged := p.r.wedged[p.url]
	p.r.mu.Unlock()
	if wedged {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if !ok {
		return nil, errors.New("screenshot: nothing loaded")
	}
	return imaging.PNGBytes(img)
}

func (p *page) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.r.mu.Lock()
	p.r.closed++
	p.r.mu.Unlock()
	return nil
}

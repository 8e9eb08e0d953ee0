// CLAUDE:SUMMARY Manages the shared Chrome headless instance: launch or connect, lease pages, recycle when idle and old, close.
// Package browser manages the Chrome headless lifecycle behind the rod
// renderer: start (local launch or remote connect), page leases, time-based
// recycling between captures, and shutdown.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// ErrClosed is returned once the manager has been closed or never started.
var ErrClosed = errors.New("browser: manager is closed")

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// Bin is the Chrome executable. Empty = launcher lookup/download.
	Bin string

	// NoSandbox disables the Chrome sandbox (containers, CI).
	NoSandbox bool

	// RecycleInterval is the maximum lifetime of a Chrome process. It is
	// only recycled when no page is leased. Zero disables recycling.
	RecycleInterval time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns one Chrome process shared by all captures.
type Manager struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	startAt time.Time
	leased  int
	started bool
	closed  bool
}

// NewManager creates a Manager. Call Start to launch Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start launches Chrome (or connects to a remote instance).
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.started {
		return nil
	}

	b, err := m.launch(ctx)
	if err != nil {
		return err
	}
	m.browser = b
	m.startAt = time.Now()
	m.started = true
	return nil
}

// Acquire leases the running browser. release must be called once the
// caller is done with every page it opened.
func (m *Manager) Acquire(ctx context.Context) (*rod.Browser, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || !m.started {
		return nil, nil, ErrClosed
	}

	if m.leased == 0 && m.cfg.RecycleInterval > 0 && time.Since(m.startAt) > m.cfg.RecycleInterval {
		if err := m.recycleLocked(ctx); err != nil {
			return nil, nil, err
		}
	}

	m.leased++
	var once sync.Once
	release := func() {
		once.Do(func() {
			m.mu.Lock()
			m.leased--
			m.mu.Unlock()
		})
	}
	return m.browser, release, nil
}

// Close shuts Chrome down. Further Acquire calls fail with ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.cleanup()
}

func (m *Manager) launch(ctx context.Context) (*rod.Browser, error) {
	log := m.cfg.Logger

	var wsURL string

	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Context(ctx).Headless(true)
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}
		if m.cfg.NoSandbox {
			l = l.NoSandbox(true)
		}

		// Stable rendering for pixel comparison.
		l = l.Set("disable-gpu").
			Set("disable-dev-shm-usage").
			Set("disable-accelerated-2d-canvas").
			Set("hide-scrollbars").
			Set("no-first-run").
			Set("force-color-profile", "srgb")

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if m.lnch != nil {
			m.lnch.Cleanup()
			m.lnch = nil
		}
		return nil, fmt.Errorf("browser: connect: %w", err)
	}

	// Local dev servers often run self-signed certificates.
	if err := b.IgnoreCertErrors(true); err != nil {
		log.Warn("browser: ignore cert errors failed", "error", err)
	}

	return b, nil
}

func (m *Manager) recycleLocked(ctx context.Context) error {
	log := m.cfg.Logger
	log.Info("browser: recycling", "uptime", time.Since(m.startAt))

	if err := m.cleanup(); err != nil {
		log.Warn("browser: cleanup during recycle", "error", err)
	}

	// The relaunched process outlives the request that triggered it.
	b, err := m.launch(context.WithoutCancel(ctx))
	if err != nil {
		m.started = false
		return fmt.Errorf("browser: relaunch: %w", err)
	}
	m.browser = b
	m.startAt = time.Now()
	return nil
}

func (m *Manager) cleanup() error {
	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	return err
}

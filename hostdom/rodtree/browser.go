// Package rodtree implements hostdom against a live Chromium tab over CDP.
//
// The tab renders the host chat UI; rodtree injects a MutationObserver that
// reports message mounts, style stripping, and channel activation over a
// runtime binding, and exposes the tree through the hostdom interfaces.
package rodtree

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

// BrowserConfig controls the Chromium lifecycle.
type BrowserConfig struct {
	// Remote is the WebSocket URL of an external Chromium instance.
	// Empty = launch a local one.
	Remote string `yaml:"remote"`
	// Headless launches without a window. Default: true.
	Headless *bool `yaml:"headless"`
	Logger   *slog.Logger
}

func (c *BrowserConfig) defaults() {
	if c.Headless == nil {
		v := true
		c.Headless = &v
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns the browser connection.
type Manager struct {
	cfg     BrowserConfig
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// NewManager creates a Manager. Call Start to launch or connect.
func NewManager(cfg BrowserConfig) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start launches Chromium (or connects to a remote instance).
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("rodtree: manager is closed")
	}

	wsURL := m.cfg.Remote
	if wsURL == "" {
		l := launcher.New().
			Headless(*m.cfg.Headless).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("rodtree: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		m.cfg.Logger.Info("rodtree: launched local chromium", "headless", *m.cfg.Headless)
	} else {
		m.cfg.Logger.Info("rodtree: connecting to remote chromium", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("rodtree: connect: %w", err)
	}
	m.browser = b
	return b, nil
}

// OpenTab opens a stealth tab and navigates to the chat URL.
func (m *Manager) OpenTab(ctx context.Context, pageURL string) (*rod.Page, error) {
	m.mu.Lock()
	b := m.browser
	m.mu.Unlock()
	if b == nil {
		return nil, fmt.Errorf("rodtree: no active browser")
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("rodtree: create tab: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("rodtree: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		m.cfg.Logger.Warn("rodtree: wait load timeout", "url", pageURL, "error", err)
	}

	return page, nil
}

// Close shuts down the browser.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.browser != nil {
		return m.browser.Close()
	}
	return nil
}

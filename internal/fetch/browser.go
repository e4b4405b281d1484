// Package fetch measures one (layout, mode, language) slot by rendering the
// layout playground in headless Chrome and reading the statistics it
// computes.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// BrowserConfig configures how Chrome is reached.
type BrowserConfig struct {
	// RemoteURL is the DevTools WebSocket URL of an already running Chrome.
	// Empty launches a local one.
	RemoteURL string

	// Headless runs a launched Chrome without a window.
	Headless bool

	// Stealth masks the usual automation fingerprints on every page.
	Stealth bool
}

// Browser owns one Chrome process (or remote connection) shared by all
// fetches of a run. Pages are opened per fetch and closed after it.
type Browser struct {
	cfg    BrowserConfig
	logger *slog.Logger

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	tabs    map[closer]struct{}
	release func()
	closed  bool
}

// closer is what cleanup needs from a *rod.Browser or *rod.Page.
type closer interface {
	Close() error
}

// NewBrowser returns a Browser. Chrome is started on first use.
func NewBrowser(cfg BrowserConfig, logger *slog.Logger) *Browser {
	return &Browser{cfg: cfg, logger: logger}
}

// connect returns the live browser, launching or connecting on first call.
func (b *Browser) connect() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("fetch: browser is closed")
	}

	if b.browser != nil {
		return b.browser, nil
	}

	wsURL := b.cfg.RemoteURL

	if wsURL == "" {
		l := launcher.New().Headless(b.cfg.Headless)
		l = l.Set("disable-blink-features", "AutomationControlled")

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("fetch: launching chrome: %w", err)
		}

		wsURL = u
		b.lnch = l

		b.logger.Info("launched local chrome", slog.Bool("headless", b.cfg.Headless))
	} else {
		b.logger.Info("connecting to remote chrome", slog.String("url", wsURL))
	}

	connCtx, disconnect := context.WithCancel(context.Background())

	rb := rod.New().ControlURL(wsURL).Context(connCtx)
	if err := rb.Connect(); err != nil {
		disconnect()
		b.cleanupLocked()

		return nil, fmt.Errorf("fetch: connecting to chrome: %w", err)
	}

	b.browser = rb
	b.release = releaseFunc(rb, b.lnch != nil, disconnect, b.logger)

	return rb, nil
}

// releaseFunc returns how to let go of chrome. A Chrome this process
// launched is shut down; a remote one is only disconnected from, so other
// users of it keep their tabs.
func releaseFunc(chrome closer, launched bool, disconnect func(), logger *slog.Logger) func() {
	return func() {
		if launched {
			if err := chrome.Close(); err != nil {
				logger.Debug("closing chrome", slog.String("error", err.Error()))
			}
		}

		disconnect()
	}
}

// newPage opens a blank tab, with stealth patches when configured. The tab
// must be handed back through closePage.
func (b *Browser) newPage() (*rod.Page, error) {
	rb, err := b.connect()
	if err != nil {
		return nil, err
	}

	var page *rod.Page
	if b.cfg.Stealth {
		page, err = stealth.Page(rb)
	} else {
		page, err = rb.Page(proto.TargetCreateTarget{URL: ""})
	}

	if err != nil {
		return nil, fmt.Errorf("fetch: opening tab: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tabs == nil {
		b.tabs = make(map[closer]struct{})
	}

	b.tabs[page] = struct{}{}

	return page, nil
}

// closePage closes a tab opened by newPage. Tabs already closed by Close
// are skipped.
func (b *Browser) closePage(page closer) {
	b.mu.Lock()
	_, open := b.tabs[page]
	delete(b.tabs, page)
	b.mu.Unlock()

	if !open {
		return
	}

	if err := page.Close(); err != nil {
		b.logger.Debug("closing tab", slog.String("error", err.Error()))
	}
}

// Close closes the tabs this Browser opened and lets go of Chrome: a
// launched Chrome is shut down, a remote one is left running. Safe to call
// more than once.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.cleanupLocked()

	return nil
}

func (b *Browser) cleanupLocked() {
	for page := range b.tabs {
		if err := page.Close(); err != nil {
			b.logger.Debug("closing tab", slog.String("error", err.Error()))
		}
	}

	b.tabs = nil

	if b.release != nil {
		b.release()
		b.release = nil
	}

	b.browser = nil

	if b.lnch != nil {
		b.lnch.Cleanup()
		b.lnch = nil
	}
}

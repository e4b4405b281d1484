package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/layoutstats/internal/config"
	"github.com/tonimelisma/layoutstats/internal/fetch"
	"github.com/tonimelisma/layoutstats/internal/layout"
	"github.com/tonimelisma/layoutstats/internal/ledger"
	"github.com/tonimelisma/layoutstats/internal/reconcile"
)

// Session holds everything one command needs to reconcile the store: the
// loaded definitions, a lazily started browser, the optional run ledger,
// and the engine wired to them. Close releases the browser and the ledger.
type Session struct {
	Definitions []layout.Definition
	Engine      *reconcile.Engine
	Ledger      *ledger.Ledger // nil when run history is disabled or unavailable
	Resolved    *config.Resolved

	browser *fetch.Browser
	logger  *slog.Logger
}

// newFetcher builds the fetcher a session measures with. Tests replace it
// to run commands without a browser.
var newFetcher = func(browser *fetch.Browser, cfg fetch.Config, logger *slog.Logger) reconcile.Fetcher {
	return fetch.NewFetcher(browser, cfg, logger)
}

// NewSession loads the definitions and wires the engine. Chrome is not
// started until the first fetch, so planning and auditing stay cheap.
// A ledger that cannot be opened is logged and skipped: the store is the
// source of truth and must stay writable without it.
func NewSession(ctx context.Context, cc *CLIContext) (*Session, error) {
	cfg := cc.Cfg
	logger := cc.Logger

	defs, err := layout.Load(cfg.LayoutsDir, cfg.LayoutsFile, logger)
	if err != nil {
		return nil, fmt.Errorf("loading layout definitions: %w", err)
	}

	s := &Session{
		Definitions: defs,
		Resolved:    cfg,
		logger:      logger,
	}

	s.browser = fetch.NewBrowser(fetch.BrowserConfig{
		RemoteURL: cfg.BrowserURL,
		Headless:  cfg.Headless,
		Stealth:   cfg.Stealth,
	}, logger)

	fetcher := newFetcher(s.browser, fetch.Config{
		Timeout:     cfg.FetchTimeout,
		SettleDelay: cfg.SettleDelay,
		ModeScripts: cfg.ModeScripts,
		Required:    cfg.RequiredMetrics,
	}, logger)

	// A nil *Ledger must not become a non-nil Recorder.
	var recorder reconcile.Recorder

	if cfg.LedgerEnabled() {
		led, lerr := ledger.Open(ctx, cfg.LedgerPath, logger)
		if lerr != nil {
			logger.Warn("run history unavailable",
				slog.String("path", cfg.LedgerPath),
				slog.String("error", lerr.Error()),
			)
		} else {
			s.Ledger = led
			recorder = led
		}
	}

	s.Engine = reconcile.NewEngine(fetcher, recorder, cfg.RequiredMetrics, cfg.ModeAliases, logger)

	logger.Debug("session ready",
		slog.Int("layouts", len(defs)),
		slog.Bool("ledger", s.Ledger != nil),
	)

	return s, nil
}

// Options returns run options for the configured key space.
func (s *Session) Options(scope reconcile.Scope) reconcile.Options {
	return reconcile.Options{
		StorePath:   s.Resolved.StorePath,
		Definitions: s.Definitions,
		Modes:       s.Resolved.Modes,
		Languages:   s.Resolved.Languages,
		Scope:       scope,
		Workers:     s.Resolved.FetchWorkers,
	}
}

// Reload re-reads the definitions, keeping the previous set on failure.
func (s *Session) Reload() error {
	defs, err := layout.Load(s.Resolved.LayoutsDir, s.Resolved.LayoutsFile, s.logger)
	if err != nil {
		return fmt.Errorf("reloading layout definitions: %w", err)
	}

	s.Definitions = defs

	return nil
}

// Close stops the browser and closes the ledger.
func (s *Session) Close() error {
	var errs []error

	if err := s.browser.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing browser: %w", err))
	}

	if s.Ledger != nil {
		if err := s.Ledger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing ledger: %w", err))
		}
	}

	return errors.Join(errs...)
}

// closeSession closes s and logs any failure; used in defers.
func closeSession(s *Session) {
	if err := s.Close(); err != nil {
		s.logger.Warn("session cleanup failed", slog.String("error", err.Error()))
	}
}

package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"

	"github.com/tonimelisma/layoutstats/internal/metric"
	"github.com/tonimelisma/layoutstats/internal/reconcile"
)

// Page scripts. The playground keeps its statistics in page globals; both
// scripts return null when the globals are missing.
const (
	pinkyOffJS = `() => {
		if (typeof m_pinky_off !== 'undefined' && typeof m_input_length !== 'undefined' && m_input_length > 0) {
			return (100 * m_pinky_off / m_input_length).toFixed(2) + '%';
		}
		return '';
	}`

	trigramsJS = `() => {
		if (typeof m_trigram_count === 'undefined') {
			return '';
		}
		const total = Object.values(m_trigram_count).reduce((sum, v) => sum + v, 0);
		if (total === 0) {
			return '';
		}
		const out = {};
		for (const [k, v] of Object.entries(m_trigram_count)) {
			out[k] = Math.round((v / total) * 10000) / 100;
		}
		return JSON.stringify(out);
	}`

	bodyTextJS = `() => document.body ? document.body.innerText : ''`
)

// Config tunes a Fetcher.
type Config struct {
	// Timeout bounds one whole fetch: navigation, settling and reading.
	Timeout time.Duration

	// SettleDelay is waited after load so the page can compute statistics.
	SettleDelay time.Duration

	// ModeScripts maps a logical mode to a script run after load to switch
	// the page into that mode (e.g. an angle-mod toggle).
	ModeScripts map[string]string

	// Required is the metric set every returned bundle carries.
	Required []string
}

// Fetcher measures slots through a shared Browser.
type Fetcher struct {
	browser *Browser
	cfg     Config
	logger  *slog.Logger
}

var _ reconcile.Fetcher = (*Fetcher)(nil)

// NewFetcher returns a Fetcher using browser.
func NewFetcher(browser *Browser, cfg Config, logger *slog.Logger) *Fetcher {
	if len(cfg.Required) == 0 {
		cfg.Required = metric.DefaultRequired
	}

	return &Fetcher{browser: browser, cfg: cfg, logger: logger}
}

// Fetch renders url and returns the metrics it shows. Metrics the page did
// not show are null. Errors mean the page could not be rendered or read.
func (f *Fetcher) Fetch(ctx context.Context, url, mode, language string) (metric.Bundle, error) {
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	page, err := f.browser.newPage()
	if err != nil {
		return nil, err
	}
	defer f.browser.closePage(page)

	p := page.Context(ctx)

	if err := p.Navigate(url); err != nil {
		return nil, fmt.Errorf("fetch: navigating to %s: %w", url, err)
	}

	if err := p.WaitLoad(); err != nil {
		return nil, fmt.Errorf("fetch: waiting for %s to load: %w", url, err)
	}

	if script, ok := f.cfg.ModeScripts[mode]; ok && script != "" {
		if _, err := p.Eval(script); err != nil {
			return nil, fmt.Errorf("fetch: activating mode %s: %w", mode, err)
		}
	}

	if err := sleep(ctx, f.cfg.SettleDelay); err != nil {
		return nil, err
	}

	data, err := readPage(p)
	if err != nil {
		return nil, err
	}

	bundle := Extract(data, f.cfg.Required)

	f.logger.Debug("page read",
		slog.String("url", url),
		slog.String("mode", mode),
		slog.String("language", language),
		slog.Int("missing", len(metric.InvalidMetrics(bundle, f.cfg.Required))),
	)

	return bundle, nil
}

func readPage(p *rod.Page) (PageData, error) {
	var data PageData

	res, err := p.Eval(pinkyOffJS)
	if err != nil {
		return data, fmt.Errorf("fetch: reading pinky-off: %w", err)
	}

	data.PinkyOff = res.Value.Str()

	res, err = p.Eval(trigramsJS)
	if err != nil {
		return data, fmt.Errorf("fetch: reading trigrams: %w", err)
	}

	if raw := res.Value.Str(); raw != "" {
		if err := json.Unmarshal([]byte(raw), &data.Trigrams); err != nil {
			return data, fmt.Errorf("fetch: decoding trigrams: %w", err)
		}
	}

	res, err = p.Eval(bodyTextJS)
	if err != nil {
		return data, fmt.Errorf("fetch: reading page text: %w", err)
	}

	data.Body = res.Value.Str()

	return data, nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

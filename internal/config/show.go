package config

import (
	"fmt"
	"io"
	"strings"
)

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers the "config show" command, giving
// users visibility into the effective values after all four override layers
// (defaults -> file -> env -> CLI) have been applied.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (%s)\n\n", r.ConfigPath)

	renderLayoutsSection(ew, r)
	renderStoreSection(ew, r)
	renderFetchSection(ew, r)
	renderWatchSection(ew, r)
	renderLoggingSection(ew, r)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderLayoutsSection(ew *errWriter, r *Resolved) {
	ew.printf("[layouts]\n")

	if r.LayoutsFile != "" {
		ew.printf("  layouts_file     = %q\n", r.LayoutsFile)
	} else {
		ew.printf("  layouts_dir      = %q\n", r.LayoutsDir)
	}

	ew.printf("  modes            = [%s]\n", joinQuoted(r.Modes))
	ew.printf("  languages        = [%s]\n", joinQuoted(r.Languages))
	ew.printf("  required_metrics = [%s]\n", joinQuoted(r.RequiredMetrics))

	for _, mode := range sortedKeys(r.ModeAliases) {
		ew.printf("  mode_aliases.%s = %q\n", mode, r.ModeAliases[mode])
	}

	ew.printf("\n")
}

func renderStoreSection(ew *errWriter, r *Resolved) {
	ew.printf("[store]\n")
	ew.printf("  store_path  = %q\n", r.StorePath)

	if r.LedgerEnabled() {
		ew.printf("  ledger_path = %q\n", r.LedgerPath)
	} else {
		ew.printf("  ledger_path = %q\n", LedgerOff)
	}

	ew.printf("\n")
}

func renderFetchSection(ew *errWriter, r *Resolved) {
	ew.printf("[fetch]\n")
	ew.printf("  fetch_workers = %d\n", r.FetchWorkers)
	ew.printf("  fetch_timeout = %q\n", r.FetchTimeout.String())
	ew.printf("  settle_delay  = %q\n", r.SettleDelay.String())
	ew.printf("  headless      = %t\n", r.Headless)
	ew.printf("  stealth       = %t\n", r.Stealth)

	if r.BrowserURL != "" {
		ew.printf("  browser_url   = %q\n", r.BrowserURL)
	}

	// Scripts are long; show which modes carry one.
	if len(r.ModeScripts) > 0 {
		ew.printf("  mode_scripts  = [%s]\n", joinQuoted(sortedKeys(r.ModeScripts)))
	}

	ew.printf("\n")
}

func renderWatchSection(ew *errWriter, r *Resolved) {
	ew.printf("[watch]\n")
	ew.printf("  watch_debounce = %q\n", r.WatchDebounce.String())
	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, r *Resolved) {
	ew.printf("[logging]\n")
	ew.printf("  log_level  = %q\n", r.LogLevel)
	ew.printf("  log_format = %q\n", r.LogFormat)
}

func joinQuoted(ss []string) string {
	quoted := make([]string, len(ss))
	for i, s := range ss {
		quoted[i] = fmt.Sprintf("%q", s)
	}

	return strings.Join(quoted, ", ")
}

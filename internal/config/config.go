// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for layoutstats. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
// All keys are flat; the embedded sections only group related fields.
type Config struct {
	LayoutsConfig
	StoreConfig
	FetchConfig
	WatchConfig
	LoggingConfig
}

// LayoutsConfig names the layout definitions and the key space measured
// for each of them.
type LayoutsConfig struct {
	LayoutsDir      string            `toml:"layouts_dir"`
	LayoutsFile     string            `toml:"layouts_file"`
	Modes           []string          `toml:"modes"`
	Languages       []string          `toml:"languages"`
	RequiredMetrics []string          `toml:"required_metrics"`
	ModeAliases     map[string]string `toml:"mode_aliases"`
}

// StoreConfig locates the metrics document and the run history database.
type StoreConfig struct {
	StorePath  string `toml:"store_path"`
	LedgerPath string `toml:"ledger_path"` // "off" disables run history
}

// FetchConfig controls the browser and the fetch worker pool.
type FetchConfig struct {
	FetchWorkers int               `toml:"fetch_workers"`
	FetchTimeout string            `toml:"fetch_timeout"`
	SettleDelay  string            `toml:"settle_delay"`
	Headless     bool              `toml:"headless"`
	Stealth      bool              `toml:"stealth"`
	BrowserURL   string            `toml:"browser_url"`
	ModeScripts  map[string]string `toml:"mode_scripts"`
}

// WatchConfig controls the watch command.
type WatchConfig struct {
	WatchDebounce string `toml:"watch_debounce"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	StorePath  *string // --store flag
	LayoutsDir *string // --layouts-dir flag
	Workers    *int    // --workers flag
}

// Resolved is the final configuration after all override layers, with
// durations parsed and the ledger switch decoded.
type Resolved struct {
	ConfigPath string `json:"config_path"`

	LayoutsDir      string            `json:"layouts_dir,omitempty"`
	LayoutsFile     string            `json:"layouts_file,omitempty"`
	Modes           []string          `json:"modes"`
	Languages       []string          `json:"languages"`
	RequiredMetrics []string          `json:"required_metrics"`
	ModeAliases     map[string]string `json:"mode_aliases"`

	StorePath  string `json:"store_path"`
	LedgerPath string `json:"ledger_path,omitempty"` // empty when disabled

	FetchWorkers int               `json:"fetch_workers"`
	FetchTimeout time.Duration     `json:"fetch_timeout"`
	SettleDelay  time.Duration     `json:"settle_delay"`
	Headless     bool              `json:"headless"`
	Stealth      bool              `json:"stealth"`
	BrowserURL   string            `json:"browser_url,omitempty"`
	ModeScripts  map[string]string `json:"mode_scripts"`

	WatchDebounce time.Duration `json:"watch_debounce"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
}

// LedgerEnabled reports whether run history is recorded.
func (r *Resolved) LedgerEnabled() bool {
	return r.LedgerPath != ""
}

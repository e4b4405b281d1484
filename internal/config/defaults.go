package config

import (
	"slices"

	"github.com/tonimelisma/layoutstats/internal/metric"
)

// Default values for configuration options. These represent the "layer 0"
// of the four-layer override chain and match the repository layout the
// report generator expects: definitions under config/layouts, the document
// under site/.
const (
	defaultLayoutsDir    = "config/layouts"
	defaultStorePath     = "site/data.json"
	defaultLedgerFile    = "history.db"
	defaultFetchWorkers  = 1
	defaultFetchTimeout  = "60s"
	defaultSettleDelay   = "2s"
	defaultWatchDebounce = "2s"
	defaultLogLevel      = "info"
	defaultLogFormat     = "auto"

	// LedgerOff disables run history when used as ledger_path.
	LedgerOff = "off"
)

// defaultAngleModScript switches the playground's ISO board into angle-mod.
const defaultAngleModScript = `() => {
	const el = document.querySelector('#anglemod, input[name="anglemod"], [data-mode="anglemod"]');
	if (el && !el.checked) { el.click(); }
	if (typeof toggleAngleMod === 'function') { toggleAngleMod(true); }
}`

var (
	defaultModes     = []string{"ergo", "ansi", "iso", "anglemod"}
	defaultLanguages = []string{"english"}
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
// LayoutsDir is left empty so a file may choose layouts_file instead;
// resolution falls back to defaultLayoutsDir.
func DefaultConfig() *Config {
	return &Config{
		LayoutsConfig: LayoutsConfig{
			Modes:           slices.Clone(defaultModes),
			Languages:       slices.Clone(defaultLanguages),
			RequiredMetrics: slices.Clone(metric.DefaultRequired),
			ModeAliases:     map[string]string{"anglemod": "iso"},
		},
		StoreConfig: StoreConfig{
			StorePath: defaultStorePath,
		},
		FetchConfig: FetchConfig{
			FetchWorkers: defaultFetchWorkers,
			FetchTimeout: defaultFetchTimeout,
			SettleDelay:  defaultSettleDelay,
			Headless:     true,
			Stealth:      true,
			ModeScripts:  map[string]string{"anglemod": defaultAngleModScript},
		},
		WatchConfig: WatchConfig{
			WatchDebounce: defaultWatchDebounce,
		},
		LoggingConfig: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}

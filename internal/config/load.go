package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are treated as fatal errors with "did you
// mean?" suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values. A first run needs no config
// file at all.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	// 1. Resolve config path: CLI > env > default
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	// 2. Load config file (returns defaults if no file exists)
	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	// 3. Apply env overrides. A definitions directory from outside the file
	// replaces whichever definitions source the file chose.
	if env.StorePath != "" {
		cfg.StorePath = env.StorePath
	}

	if env.LayoutsDir != "" {
		cfg.LayoutsDir = env.LayoutsDir
		cfg.LayoutsFile = ""
	}

	// 4. Apply CLI overrides (pointer fields: nil = not specified)
	if cli.StorePath != nil {
		cfg.StorePath = *cli.StorePath
	}

	if cli.LayoutsDir != nil {
		cfg.LayoutsDir = *cli.LayoutsDir
		cfg.LayoutsFile = ""
	}

	if cli.Workers != nil {
		cfg.FetchWorkers = *cli.Workers
	}

	if cfg.LayoutsDir == "" && cfg.LayoutsFile == "" {
		cfg.LayoutsDir = defaultLayoutsDir
	}

	// 5. Validate the final merged result
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return resolve(cfg, cfgPath), nil
}

// resolve converts a validated Config. Durations were checked by Validate.
func resolve(cfg *Config, path string) *Resolved {
	r := &Resolved{
		ConfigPath:      path,
		LayoutsDir:      expandTilde(cfg.LayoutsDir),
		LayoutsFile:     expandTilde(cfg.LayoutsFile),
		Modes:           cfg.Modes,
		Languages:       cfg.Languages,
		RequiredMetrics: cfg.RequiredMetrics,
		ModeAliases:     cfg.ModeAliases,
		StorePath:       expandTilde(cfg.StorePath),
		FetchWorkers:    cfg.FetchWorkers,
		FetchTimeout:    mustDuration(cfg.FetchTimeout),
		SettleDelay:     mustDuration(cfg.SettleDelay),
		Headless:        cfg.Headless,
		Stealth:         cfg.Stealth,
		BrowserURL:      cfg.BrowserURL,
		ModeScripts:     cfg.ModeScripts,
		WatchDebounce:   mustDuration(cfg.WatchDebounce),
		LogLevel:        cfg.LogLevel,
		LogFormat:       cfg.LogFormat,
	}

	switch cfg.LedgerPath {
	case LedgerOff:
	case "":
		r.LedgerPath = DefaultLedgerPath()
	default:
		r.LedgerPath = expandTilde(cfg.LedgerPath)
	}

	return r
}

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}

	return d
}

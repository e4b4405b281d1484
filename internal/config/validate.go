package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"
)

// Validation range constants.
const (
	minFetchWorkers   = 1
	maxFetchWorkers   = 16
	minFetchTimeout   = 1 * time.Second
	minWatchDebounce  = 100 * time.Millisecond
	maxConfiguredList = 64
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateLayouts(&cfg.LayoutsConfig)...)
	errs = append(errs, validateStore(&cfg.StoreConfig)...)
	errs = append(errs, validateFetch(&cfg.FetchConfig)...)
	errs = append(errs, validateDurationMin("watch_debounce", cfg.WatchDebounce, minWatchDebounce)...)
	errs = append(errs, validateLogging(&cfg.LoggingConfig)...)

	return errors.Join(errs...)
}

func validateLayouts(l *LayoutsConfig) []error {
	var errs []error

	if l.LayoutsDir != "" && l.LayoutsFile != "" {
		errs = append(errs, errors.New("layouts_dir and layouts_file are mutually exclusive"))
	}

	errs = append(errs, validateNameList("modes", l.Modes)...)
	errs = append(errs, validateNameList("languages", l.Languages)...)
	errs = append(errs, validateNameList("required_metrics", l.RequiredMetrics)...)

	for mode, target := range l.ModeAliases {
		if mode == "" || target == "" {
			errs = append(errs, fmt.Errorf("mode_aliases: empty name in %q = %q", mode, target))
		}
	}

	return errs
}

// validateNameList requires a non-empty list of distinct, non-empty names.
func validateNameList(field string, names []string) []error {
	if len(names) == 0 {
		return []error{fmt.Errorf("%s: must not be empty", field)}
	}

	if len(names) > maxConfiguredList {
		return []error{fmt.Errorf("%s: at most %d entries, got %d", field, maxConfiguredList, len(names))}
	}

	var errs []error

	seen := make(map[string]bool, len(names))

	for _, n := range names {
		switch {
		case n == "":
			errs = append(errs, fmt.Errorf("%s: empty entry", field))
		case seen[n]:
			errs = append(errs, fmt.Errorf("%s: duplicate entry %q", field, n))
		}

		seen[n] = true
	}

	return errs
}

func validateStore(s *StoreConfig) []error {
	if s.StorePath == "" {
		return []error{errors.New("store_path: must not be empty")}
	}

	return nil
}

func validateFetch(f *FetchConfig) []error {
	var errs []error

	if f.FetchWorkers < minFetchWorkers || f.FetchWorkers > maxFetchWorkers {
		errs = append(errs, fmt.Errorf("fetch_workers: must be %d-%d, got %d",
			minFetchWorkers, maxFetchWorkers, f.FetchWorkers))
	}

	errs = append(errs, validateDurationMin("fetch_timeout", f.FetchTimeout, minFetchTimeout)...)
	errs = append(errs, validateDurationNonNeg("settle_delay", f.SettleDelay)...)

	return errs
}

// validateDuration checks that a duration string is valid and meets a minimum.
func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}

func validateDurationNonNeg(field, value string) []error {
	return validateDurationMin(field, value, 0)
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}

// WarnUnusedModeSettings logs a warning for each alias or mode script keyed
// by a mode that is not in the configured mode list. Such entries are legal
// but never take effect.
func WarnUnusedModeSettings(r *Resolved, logger *slog.Logger) {
	for _, mode := range sortedKeys(r.ModeAliases) {
		if !slices.Contains(r.Modes, mode) {
			logger.Warn("mode alias for unconfigured mode (ignored)", slog.String("mode", mode))
		}
	}

	for _, mode := range sortedKeys(r.ModeScripts) {
		if !slices.Contains(r.Modes, mode) {
			logger.Warn("mode script for unconfigured mode (ignored)", slog.String("mode", mode))
		}
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	return keys
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/layoutstats/internal/layout"
	"github.com/tonimelisma/layoutstats/internal/ledger"
	"github.com/tonimelisma/layoutstats/internal/metric"
	"github.com/tonimelisma/layoutstats/internal/store"
)

// failureStreakMin is how many consecutive invalid attempts make a slot
// worth reporting as stuck.
const failureStreakMin = 3

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show store completeness per mode and slots that keep failing",
		Long: `Display how many slots of the configured key space are valid, invalid or
missing, per mode, and when the store was last updated.

When run history is enabled, also lists slots whose latest attempts all
came back incomplete. Reads only; nothing is written.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
}

// modeStatus counts the slots of one mode across all layouts and languages.
type modeStatus struct {
	Mode    string `json:"mode"`
	Valid   int    `json:"valid"`
	Invalid int    `json:"invalid"`
	Missing int    `json:"missing"`
}

// statusReport is the full status output.
type statusReport struct {
	Store       string          `json:"store"`
	LoadState   string          `json:"load_state"`
	Layouts     int             `json:"layouts"`
	Records     int             `json:"records"`
	ScrapedAt   string          `json:"scraped_at,omitempty"`
	Modes       []modeStatus    `json:"modes"`
	Stuck       []ledger.Streak `json:"stuck,omitempty"`
	HistoryNote string          `json:"history_note,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Cfg
	logger := cc.Logger

	defs, err := layout.Load(cfg.LayoutsDir, cfg.LayoutsFile, logger)
	if err != nil {
		return fmt.Errorf("loading layout definitions: %w", err)
	}

	doc, state, err := store.Load(cfg.StorePath, logger)
	if err != nil {
		return err
	}

	report := buildStatus(doc, defs, cfg.Modes, cfg.Languages, cfg.RequiredMetrics)
	report.Store = cfg.StorePath
	report.LoadState = state.String()

	if cfg.LedgerEnabled() {
		report.Stuck, report.HistoryNote = loadStuckSlots(cmd, cfg.LedgerPath, logger)
	}

	if cc.Flags.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(report)
	}

	printStatusText(os.Stdout, report, time.Now())

	return nil
}

// buildStatus classifies every slot of the key space with the validity
// oracle. Stored slots outside the key space are not counted.
func buildStatus(doc *store.Document, defs []layout.Definition, modes, languages, required []string) statusReport {
	report := statusReport{
		Layouts:   len(defs),
		Records:   len(doc.Layouts),
		ScrapedAt: doc.ScrapedAt,
	}

	for _, mode := range modes {
		ms := modeStatus{Mode: mode}

		for i := range defs {
			rec := doc.Record(defs[i].Name)

			for _, lang := range languages {
				var (
					b  metric.Bundle
					ok bool
				)

				if rec != nil {
					b, ok = rec.Bundle(mode, lang)
				}

				switch {
				case !ok:
					ms.Missing++
				case metric.IsValidBundle(b, required):
					ms.Valid++
				default:
					ms.Invalid++
				}
			}
		}

		report.Modes = append(report.Modes, ms)
	}

	return report
}

// loadStuckSlots reads failure streaks from the ledger. History problems
// are reported as a note, never as a command failure.
func loadStuckSlots(cmd *cobra.Command, path string, logger *slog.Logger) ([]ledger.Streak, string) {
	if _, err := os.Stat(path); err != nil {
		return nil, "no run history yet"
	}

	led, err := ledger.Open(cmd.Context(), path, logger)
	if err != nil {
		return nil, "run history unavailable: " + err.Error()
	}
	defer led.Close()

	streaks, err := led.FailureStreaks(cmd.Context(), failureStreakMin)
	if err != nil {
		return nil, "run history unavailable: " + err.Error()
	}

	return streaks, ""
}

func printStatusText(w io.Writer, r statusReport, now time.Time) {
	fmt.Fprintf(w, "Store:    %s (%s)\n", r.Store, r.LoadState)
	fmt.Fprintf(w, "Layouts:  %d defined, %d stored\n", r.Layouts, r.Records)
	fmt.Fprintf(w, "Updated:  %s\n\n", lastUpdated(r.ScrapedAt, now))

	rows := make([][]string, 0, len(r.Modes))
	for _, m := range r.Modes {
		rows = append(rows, []string{
			m.Mode,
			strconv.Itoa(m.Valid),
			strconv.Itoa(m.Invalid),
			strconv.Itoa(m.Missing),
		})
	}

	printTable(w, []string{"MODE", "VALID", "INVALID", "MISSING"}, rows)

	if r.HistoryNote != "" {
		fmt.Fprintf(w, "\n(%s)\n", r.HistoryNote)
	}

	if len(r.Stuck) == 0 {
		return
	}

	fmt.Fprintf(w, "\nSlots incomplete on their last %d+ attempts:\n", failureStreakMin)

	stuck := make([][]string, 0, len(r.Stuck))
	for _, s := range r.Stuck {
		stuck = append(stuck, []string{
			s.Layout, s.Mode, s.Language,
			strconv.Itoa(s.Failures),
			humanize.RelTime(s.LastAttempt, now, "ago", "from now"),
			s.LastError,
		})
	}

	printTable(w, []string{"LAYOUT", "MODE", "LANGUAGE", "ATTEMPTS", "LAST", "LAST ERROR"}, stuck)
}

// lastUpdated renders the store timestamp relative to now. Timestamps that
// do not parse as RFC 3339 are shown verbatim.
func lastUpdated(scrapedAt string, now time.Time) string {
	if scrapedAt == "" {
		return "never"
	}

	t, err := time.Parse(time.RFC3339, scrapedAt)
	if err != nil {
		return scrapedAt
	}

	return fmt.Sprintf("%s (%s)", humanize.RelTime(t, now, "ago", "from now"), scrapedAt)
}

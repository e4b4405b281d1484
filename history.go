package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/layoutstats/internal/ledger"
)

const defaultHistoryLimit = 20

// runIDDisplayLen is how much of a run UUID the table shows.
const runIDDisplayLen = 8

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs from the run history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHistory(cmd, limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", defaultHistoryLimit, "number of runs to show")

	return cmd
}

func runHistory(cmd *cobra.Command, limit int) error {
	cc := mustCLIContext(cmd.Context())

	if limit < 1 {
		return fmt.Errorf("--limit must be at least 1, got %d", limit)
	}

	if !cc.Cfg.LedgerEnabled() {
		return errors.New("run history is disabled (ledger_path = \"off\")")
	}

	led, err := ledger.Open(cmd.Context(), cc.Cfg.LedgerPath, cc.Logger)
	if err != nil {
		return err
	}
	defer led.Close()

	runs, err := led.Recent(cmd.Context(), limit)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		if runs == nil {
			runs = []ledger.Run{}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(runs)
	}

	printHistory(os.Stdout, runs)

	return nil
}

func printHistory(w io.Writer, runs []ledger.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}

	rows := make([][]string, 0, len(runs))
	for i := range runs {
		r := &runs[i]

		elapsed := "-"
		if !r.FinishedAt.IsZero() {
			elapsed = formatElapsed(r.FinishedAt.Sub(r.StartedAt))
		}

		id := r.ID
		if len(id) > runIDDisplayLen {
			id = id[:runIDDisplayLen]
		}

		rows = append(rows, []string{
			id,
			formatTime(r.StartedAt),
			elapsed,
			r.Scope,
			strconv.Itoa(r.Planned),
			strconv.Itoa(r.Executed),
			strconv.Itoa(r.Failed),
			strconv.Itoa(r.Invalid),
			r.Status,
		})
	}

	printTable(w, []string{"RUN", "STARTED", "TOOK", "SCOPE", "PLANNED", "FETCHED", "FAILED", "INCOMPLETE", "STATUS"}, rows)
}

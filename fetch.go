package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/layoutstats/internal/layout"
	"github.com/tonimelisma/layoutstats/internal/reconcile"
)

// scopeFlags are the refresh-scope flags shared by fetch and plan.
type scopeFlags struct {
	forceAll bool
	layouts  []string
}

func (f *scopeFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.forceAll, "force-all", false, "re-measure every slot, valid or not")
	cmd.Flags().StringArrayVar(&f.layouts, "layout", nil,
		"re-measure every slot of this layout (name or ID, repeatable)")
	cmd.MarkFlagsMutuallyExclusive("force-all", "layout")
}

// scope builds the run scope. Selectors that match no definition are an
// error rather than a silent no-op.
func (f *scopeFlags) scope(defs []layout.Definition) (reconcile.Scope, error) {
	if f.forceAll {
		return reconcile.ForceAllScope(), nil
	}

	if len(f.layouts) == 0 {
		return reconcile.Scope{}, nil
	}

	ids, unknown := layout.Select(defs, f.layouts)
	if len(unknown) > 0 {
		return reconcile.Scope{}, fmt.Errorf("unknown layout(s): %s", strings.Join(unknown, ", "))
	}

	selected := make([]string, 0, len(ids))
	for id := range ids {
		selected = append(selected, id)
	}

	return reconcile.ForceSubsetScope(selected...), nil
}

func newFetchCmd() *cobra.Command {
	var (
		sf     scopeFlags
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Measure missing and invalid slots and update the store",
		Long: `Plan the slots that need measuring, fetch them, and merge the results
into the store, checkpointing after every result.

By default only slots that are absent or invalid are measured. --force-all
re-measures everything; --layout re-measures the named layouts and still
repairs invalid slots of all others.

Exits with status 2 when the store holds layouts that have no definition.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFetch(cmd, &sf, dryRun)
		},
	}

	sf.register(cmd)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the plan without fetching or writing")

	return cmd
}

func runFetch(cmd *cobra.Command, sf *scopeFlags, dryRun bool) error {
	cc := mustCLIContext(cmd.Context())

	session, err := NewSession(cmd.Context(), cc)
	if err != nil {
		return err
	}
	defer closeSession(session)

	scope, err := sf.scope(session.Definitions)
	if err != nil {
		return err
	}

	if !dryRun {
		release, lerr := lockStore(cc.Cfg.StorePath)
		if lerr != nil {
			return lerr
		}
		defer release()
	}

	ctx, stop := shutdownContext(cmd.Context(), cc.Logger, cc.Cfg.StorePath)
	defer stop()

	opts := session.Options(scope)
	opts.DryRun = dryRun

	if !dryRun && !cc.Flags.Quiet && isatty.IsTerminal(os.Stderr.Fd()) {
		opts.Progress = progressPrinter(os.Stderr)
	}

	report, err := session.Engine.Run(ctx, opts)
	if err != nil {
		return err
	}

	if dryRun {
		return printPlan(os.Stdout, report, cc.Flags.JSON)
	}

	if cc.Flags.JSON {
		return printReportJSON(os.Stdout, report)
	}

	printReportText(cc, report)

	return nil
}

// progressPrinter returns a Progress callback writing one line per result.
func progressPrinter(w io.Writer) func(reconcile.Progress) {
	width := 0

	return func(p reconcile.Progress) {
		if width == 0 {
			width = len(strconv.Itoa(p.Total))
		}

		state := "ok"

		switch {
		case p.Err != nil:
			state = "failed: " + p.Err.Error()
		case !p.Valid:
			state = "incomplete"
		}

		fmt.Fprintf(w, "[%*d/%d] %s  %s\n", width, p.Done, p.Total, p.Task, state)
	}
}

// reportJSON is the --json form of a run report.
type reportJSON struct {
	RunID            string          `json:"run_id"`
	Scope            string          `json:"scope"`
	StartedAt        time.Time       `json:"started_at"`
	FinishedAt       time.Time       `json:"finished_at"`
	LoadState        string          `json:"load_state"`
	MetadataChanged  int             `json:"metadata_changed"`
	Planned          int             `json:"planned"`
	Executed         int             `json:"executed"`
	Succeeded        int             `json:"succeeded"`
	Failed           int             `json:"failed"`
	Invalid          int             `json:"invalid"`
	Discarded        int             `json:"discarded"`
	Canceled         bool            `json:"canceled"`
	TimestampUpdated bool            `json:"timestamp_updated"`
	Errors           []taskErrorJSON `json:"errors,omitempty"`
}

type taskErrorJSON struct {
	Layout   string `json:"layout"`
	Mode     string `json:"mode"`
	Language string `json:"language"`
	Error    string `json:"error"`
}

func printReportJSON(w io.Writer, r *reconcile.Report) error {
	out := reportJSON{
		RunID:            r.RunID,
		Scope:            r.Scope,
		StartedAt:        r.StartedAt,
		FinishedAt:       r.FinishedAt,
		LoadState:        r.LoadState.String(),
		MetadataChanged:  r.MetadataChanged,
		Planned:          r.Planned,
		Executed:         r.Executed,
		Succeeded:        r.Succeeded,
		Failed:           r.Failed,
		Invalid:          r.Invalid,
		Discarded:        r.Discarded,
		Canceled:         r.Canceled,
		TimestampUpdated: r.TimestampUpdated,
	}

	for _, te := range r.Errors {
		out.Errors = append(out.Errors, taskErrorJSON{
			Layout:   te.Task.Layout,
			Mode:     te.Task.Mode,
			Language: te.Task.Language,
			Error:    te.Err,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

func printReportText(cc *CLIContext, r *reconcile.Report) {
	if r.Planned == 0 {
		cc.Statusf("Store is complete, nothing to fetch.\n")
		return
	}

	cc.Statusf("Fetched %d of %d planned slot(s) in %s: %d failed, %d still incomplete.\n",
		r.Executed, r.Planned, formatElapsed(r.FinishedAt.Sub(r.StartedAt)), r.Failed, r.Invalid)

	if r.Canceled {
		cc.Statusf("Interrupted: %d in-flight result(s) discarded; the store keeps everything merged so far.\n",
			r.Discarded)
	}

	if r.Failed > 0 || r.Invalid > 0 {
		cc.Statusf("Run 'layoutstats fetch' again to retry incomplete slots.\n")
	}
}

// printPlan writes the tasks of a dry run.
func printPlan(w io.Writer, r *reconcile.Report, asJSON bool) error {
	if asJSON {
		type taskJSON struct {
			Layout   string `json:"layout"`
			Mode     string `json:"mode"`
			Language string `json:"language"`
			Reason   string `json:"reason"`
			URL      string `json:"url"`
		}

		tasks := make([]taskJSON, 0, len(r.Tasks))
		for _, t := range r.Tasks {
			tasks = append(tasks, taskJSON{
				Layout:   t.Layout,
				Mode:     t.Mode,
				Language: t.Language,
				Reason:   t.Reason.String(),
				URL:      t.URL,
			})
		}

		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(tasks)
	}

	if len(r.Tasks) == 0 {
		fmt.Fprintln(w, "Nothing to fetch.")
		return nil
	}

	rows := make([][]string, 0, len(r.Tasks))
	for _, t := range r.Tasks {
		rows = append(rows, []string{t.Layout, t.Mode, t.Language, t.Reason.String(), t.URL})
	}

	printTable(w, []string{"LAYOUT", "MODE", "LANGUAGE", "REASON", "URL"}, rows)
	fmt.Fprintf(w, "\n%d slot(s) planned.\n", len(r.Tasks))

	return nil
}

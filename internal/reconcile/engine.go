package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/layoutstats/internal/layout"
	"github.com/tonimelisma/layoutstats/internal/metric"
	"github.com/tonimelisma/layoutstats/internal/store"
)

// DefaultWorkers is the fetch concurrency when Options.Workers is unset.
const DefaultWorkers = 1

// Options configures one run.
type Options struct {
	StorePath   string
	Definitions []layout.Definition
	Modes       []string
	Languages   []string
	Scope       Scope

	// Workers bounds concurrent fetches. Merges are always serialized.
	Workers int

	// DryRun stops after planning. Nothing is fetched or written.
	DryRun bool

	// Progress, when set, is called from the merge loop after each result.
	Progress func(Progress)
}

// Progress describes one merged or discarded result.
type Progress struct {
	Done  int
	Total int
	Task  Task
	Err   error
	Valid bool
}

// Engine runs reconciliation passes over the store.
type Engine struct {
	fetcher  Fetcher
	recorder Recorder
	required []string
	aliases  map[string]string
	logger   *slog.Logger

	load    func(path string, logger *slog.Logger) (*store.Document, store.LoadState, error)
	save    Saver
	nowFunc func() time.Time
}

// NewEngine creates an Engine. recorder may be nil.
func NewEngine(fetcher Fetcher, recorder Recorder, required []string, aliases map[string]string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		fetcher:  fetcher,
		recorder: recorder,
		required: required,
		aliases:  aliases,
		logger:   logger,
		load:     store.Load,
		save:     store.Save,
		nowFunc:  time.Now,
	}
}

// fetchResult carries one fetch outcome from a worker to the merge loop.
type fetchResult struct {
	task     Task
	bundle   metric.Bundle
	err      error
	duration time.Duration
	at       time.Time
}

// Run performs one reconciliation pass:
//
//	load → metadata sync → orphan audit → plan → fetch/merge/checkpoint → final write → orphan audit
//
// Orphans abort the run with an *OrphanError before anything is fetched or
// written, and are checked again after the final write. A failed checkpoint
// aborts with ErrCheckpoint. Individual fetch failures never abort: they are
// merged as all-null bundles and counted in the report.
//
// Canceling ctx stops dispatch. Results already merged stand, and fetches
// that failed because of the cancellation are discarded rather than
// overwriting the slot. The final write of a canceled run does not advance
// the document timestamp.
func (e *Engine) Run(ctx context.Context, opts Options) (*Report, error) {
	report := &Report{
		RunID:     uuid.NewString(),
		Scope:     opts.Scope.String(),
		StartedAt: e.nowFunc(),
	}

	doc, state, err := e.load(opts.StorePath, e.logger)
	if err != nil {
		return report, err
	}

	report.LoadState = state
	report.MetadataChanged = SyncMetadata(doc, opts.Definitions, e.logger)

	if err := AuditOrphans(doc, opts.Definitions, "pre-run", e.logger); err != nil {
		report.Orphans = orphanNames(err)
		return report, err
	}

	doc.Modes = append([]string(nil), opts.Modes...)
	doc.Languages = append([]string(nil), opts.Languages...)

	ks := KeySpace{Definitions: opts.Definitions, Modes: opts.Modes, Languages: opts.Languages}
	tasks := NewPlanner(e.required, e.aliases, e.logger).Plan(ks, doc, opts.Scope)
	report.Tasks = tasks
	report.Planned = len(tasks)

	if opts.DryRun {
		e.logger.Info("dry run, nothing fetched or written", slog.Int("planned", len(tasks)))
		return report, nil
	}

	e.beginRun(ctx, report)

	merger := NewMerger(doc, opts.StorePath, e.save, e.required, e.logger)
	runErr := e.execute(ctx, merger, tasks, opts, report)

	if ctx.Err() != nil {
		report.Canceled = true
	}

	report.Wrote = merger.Commits() > 0

	if runErr == nil {
		stamp := report.Executed > 0 && !report.Canceled
		runErr = merger.Finish(e.nowFunc(), stamp)

		if runErr == nil {
			report.Wrote = true
			report.TimestampUpdated = stamp
		}
	}

	if runErr == nil {
		if err := AuditOrphans(doc, opts.Definitions, "post-run", e.logger); err != nil {
			report.Orphans = orphanNames(err)
			runErr = err
		}
	}

	report.FinishedAt = e.nowFunc()
	if runErr != nil {
		report.Err = runErr.Error()
	}

	e.finishRun(ctx, report)

	e.logger.Info("run complete",
		slog.String("run_id", report.RunID),
		slog.Int("planned", report.Planned),
		slog.Int("executed", report.Executed),
		slog.Int("failed", report.Failed),
		slog.Int("invalid", report.Invalid),
		slog.Int("discarded", report.Discarded),
		slog.Bool("canceled", report.Canceled),
		slog.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)

	return report, runErr
}

// execute fetches tasks through a bounded pool and merges results one at a
// time in arrival order. It returns only fatal errors.
func (e *Engine) execute(ctx context.Context, merger *Merger, tasks []Task, opts Options, report *Report) error {
	if len(tasks) == 0 {
		return nil
	}

	workers := opts.Workers
	if workers < 1 {
		workers = DefaultWorkers
	}

	dispatchCtx, cancelDispatch := context.WithCancel(ctx)
	defer cancelDispatch()

	results := make(chan fetchResult, workers)

	go e.dispatch(dispatchCtx, tasks, workers, results)

	var fatal error

	done := 0

	// The loop drains results even after a fatal error so no worker is
	// left blocked on a send.
	for res := range results {
		if fatal != nil {
			continue
		}

		done++

		if res.err != nil && dispatchCtx.Err() != nil {
			report.Discarded++
			e.recordAttempt(ctx, report, res, false, true)
			e.progress(opts, done, len(tasks), res, false)

			continue
		}

		if err := merger.Commit(res.task, res.bundle); err != nil {
			fatal = err
			cancelDispatch()

			continue
		}

		report.Executed++

		valid := res.err == nil && metric.IsValidBundle(res.bundle, e.required)
		if res.err != nil {
			report.Failed++
			if len(report.Errors) < maxRecordedErrors {
				report.Errors = append(report.Errors, TaskError{Task: res.task, Err: res.err.Error()})
			}
		} else {
			report.Succeeded++
		}

		if !valid {
			report.Invalid++
		}

		e.recordAttempt(ctx, report, res, valid, false)
		e.progress(opts, done, len(tasks), res, valid)
	}

	return fatal
}

// dispatch starts one fetch per task, at most workers at a time, and
// closes results when every started fetch has delivered.
func (e *Engine) dispatch(ctx context.Context, tasks []Task, workers int, results chan<- fetchResult) {
	defer close(results)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range tasks {
		if gctx.Err() != nil {
			e.logger.Info("dispatch stopped", slog.Int("undispatched", len(tasks)-i))
			break
		}

		task := tasks[i]

		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}

			results <- e.fetchOne(gctx, task)

			return nil
		})
	}

	_ = g.Wait()
}

// fetchOne calls the fetcher and normalizes its outcome: a failure always
// yields an all-null bundle for the required metrics.
func (e *Engine) fetchOne(ctx context.Context, task Task) fetchResult {
	start := e.nowFunc()

	e.logger.Debug("fetching",
		slog.String("layout", task.Layout),
		slog.String("mode", task.Mode),
		slog.String("language", task.Language),
		slog.String("reason", task.Reason.String()),
		slog.String("url", task.URL),
	)

	bundle, err := e.fetcher.Fetch(ctx, task.URL, task.Mode, task.Language)
	if err != nil {
		bundle = metric.Empty(e.required)

		e.logger.Warn("fetch failed",
			slog.String("layout", task.Layout),
			slog.String("mode", task.Mode),
			slog.String("language", task.Language),
			slog.String("error", err.Error()),
		)
	} else if bundle == nil {
		bundle = metric.Empty(e.required)
	}

	return fetchResult{
		task:     task,
		bundle:   bundle,
		err:      err,
		duration: e.nowFunc().Sub(start),
		at:       start,
	}
}

func (e *Engine) progress(opts Options, done, total int, res fetchResult, valid bool) {
	if opts.Progress == nil {
		return
	}

	opts.Progress(Progress{Done: done, Total: total, Task: res.task, Err: res.err, Valid: valid})
}

// Ledger writes use a context detached from cancellation so an interrupted
// run is still recorded.

func (e *Engine) beginRun(ctx context.Context, report *Report) {
	if e.recorder == nil {
		return
	}

	if err := e.recorder.BeginRun(context.WithoutCancel(ctx), report); err != nil {
		e.logger.Warn("run history unavailable", slog.String("error", err.Error()))
	}
}

func (e *Engine) recordAttempt(ctx context.Context, report *Report, res fetchResult, valid, discarded bool) {
	if e.recorder == nil {
		return
	}

	a := &Attempt{
		RunID:     report.RunID,
		Task:      res.task,
		OK:        res.err == nil,
		Valid:     valid,
		Discarded: discarded,
		Duration:  res.duration,
		At:        res.at,
	}
	if res.err != nil {
		a.Err = res.err.Error()
	}

	if err := e.recorder.RecordAttempt(context.WithoutCancel(ctx), a); err != nil {
		e.logger.Warn("recording attempt failed",
			slog.String("task", res.task.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) finishRun(ctx context.Context, report *Report) {
	if e.recorder == nil {
		return
	}

	if err := e.recorder.FinishRun(context.WithoutCancel(ctx), report); err != nil {
		e.logger.Warn("recording run failed", slog.String("error", err.Error()))
	}
}

func orphanNames(err error) []string {
	var oe *OrphanError
	if errors.As(err, &oe) {
		return oe.Names
	}

	return nil
}

// Audit loads the store, syncs metadata and checks for orphans without
// planning or fetching. When the metadata changed and no orphans were found
// the document is written back, leaving its timestamp alone. It returns the
// number of records whose metadata changed.
func (e *Engine) Audit(storePath string, defs []layout.Definition) (int, error) {
	doc, _, err := e.load(storePath, e.logger)
	if err != nil {
		return 0, err
	}

	changed := SyncMetadata(doc, defs, e.logger)

	if err := AuditOrphans(doc, defs, "audit", e.logger); err != nil {
		return changed, err
	}

	if changed == 0 {
		return 0, nil
	}

	if err := e.save(storePath, doc); err != nil {
		return changed, fmt.Errorf("%w: %w", ErrCheckpoint, err)
	}

	return changed, nil
}

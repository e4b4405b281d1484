package reconcile

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonimelisma/layoutstats/internal/metric"
	"github.com/tonimelisma/layoutstats/internal/store"
)

// ErrCheckpoint marks a failure to write the store during a run. It is the
// one per-task error that aborts a run.
var ErrCheckpoint = errors.New("reconcile: checkpoint failed")

// TimestampLayout is the format written to scraped_at.
const TimestampLayout = time.RFC3339

// ApplyResult writes bundle into the slot named by task, creating the
// layout's record and intermediate mappings as needed. Every other slot of
// every record is left as it was. A nil bundle is stored as all-null for
// required, which keeps the slot invalid until a later run fetches it
// successfully.
func ApplyResult(doc *store.Document, task Task, bundle metric.Bundle, required []string) {
	if bundle == nil {
		bundle = metric.Empty(required)
	}

	rec := doc.Record(task.Layout)
	if rec == nil {
		rec = newRecord(task)
		doc.Append(rec)
	}

	rec.SetBundle(task.Mode, task.Language, bundle, required...)
}

// newRecord builds the record for a layout's first measurement, with the
// descriptive fields the metadata reconciler would give it.
func newRecord(task Task) *store.Record {
	rec := &store.Record{Name: task.Layout}
	if task.Def != nil {
		applyMetadata(rec, task.Def)
	}

	return rec
}

// Saver persists a document. store.Save in production.
type Saver func(path string, doc *store.Document) error

// Merger is the single writer of a run's document. Each Commit merges one
// result and checkpoints the whole document before returning, so an
// interrupted run loses at most the result in flight.
type Merger struct {
	doc      *store.Document
	path     string
	save     Saver
	required []string
	logger   *slog.Logger

	commits int
}

// NewMerger creates a Merger writing doc to path through save.
func NewMerger(doc *store.Document, path string, save Saver, required []string, logger *slog.Logger) *Merger {
	return &Merger{
		doc:      doc,
		path:     path,
		save:     save,
		required: required,
		logger:   logger,
	}
}

// Commit merges bundle into task's slot and checkpoints. The document's
// timestamp is not touched: only Finish advances it, so an interrupted run
// leaves the previous run's timestamp in place.
func (m *Merger) Commit(task Task, bundle metric.Bundle) error {
	ApplyResult(m.doc, task, bundle, m.required)

	if err := m.save(m.path, m.doc); err != nil {
		return fmt.Errorf("%w: after %s: %w", ErrCheckpoint, task, err)
	}

	m.commits++

	m.logger.Debug("checkpoint written",
		slog.String("layout", task.Layout),
		slog.String("mode", task.Mode),
		slog.String("language", task.Language),
		slog.Int("commits", m.commits),
	)

	return nil
}

// Commits returns the number of successful commits.
func (m *Merger) Commits() int {
	return m.commits
}

// Finish writes the document a final time. When stamp is true scraped_at
// is set to now first.
func (m *Merger) Finish(now time.Time, stamp bool) error {
	if stamp {
		m.doc.ScrapedAt = now.UTC().Format(TimestampLayout)
	}

	if err := m.save(m.path, m.doc); err != nil {
		return fmt.Errorf("%w: final write: %w", ErrCheckpoint, err)
	}

	m.logger.Info("store written",
		slog.String("path", m.path),
		slog.Int("layouts", len(m.doc.Layouts)),
		slog.Bool("timestamp_updated", stamp),
	)

	return nil
}

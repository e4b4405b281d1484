// Package reconcile keeps the metrics store in step with the layout
// definitions. A run syncs descriptive metadata, refuses to continue when
// the store holds records for layouts that no longer exist, plans the slots
// that need measuring, fetches them through a bounded worker pool and merges
// each result into the store with a checkpoint after every merge.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tonimelisma/layoutstats/internal/layout"
	"github.com/tonimelisma/layoutstats/internal/metric"
	"github.com/tonimelisma/layoutstats/internal/store"
)

// ScopeKind selects which slots a run re-measures regardless of validity.
type ScopeKind int

const (
	// OnlyInvalid measures missing and invalid slots only.
	OnlyInvalid ScopeKind = iota
	// ForceAll measures every slot in the key space.
	ForceAll
	// ForceSubset measures every slot of the selected layouts, plus the
	// missing and invalid slots of all others.
	ForceSubset
)

func (k ScopeKind) String() string {
	switch k {
	case OnlyInvalid:
		return "only-invalid"
	case ForceAll:
		return "force-all"
	case ForceSubset:
		return "force-subset"
	default:
		return fmt.Sprintf("ScopeKind(%d)", int(k))
	}
}

// Scope is the refresh scope of a run. The zero value is OnlyInvalid.
type Scope struct {
	Kind ScopeKind
	ids  map[string]bool
}

// ForceAllScope returns a scope forcing every slot.
func ForceAllScope() Scope {
	return Scope{Kind: ForceAll}
}

// ForceSubsetScope returns a scope forcing the named layouts. Names and IDs
// are both accepted; they are reduced to IDs.
func ForceSubsetScope(layouts ...string) Scope {
	ids := make(map[string]bool, len(layouts))
	for _, l := range layouts {
		ids[layout.Slug(l)] = true
	}

	return Scope{Kind: ForceSubset, ids: ids}
}

// Forces reports whether the scope forces slots of the layout with id.
func (s Scope) Forces(id string) bool {
	switch s.Kind {
	case ForceAll:
		return true
	case ForceSubset:
		return s.ids[id]
	default:
		return false
	}
}

// Layouts returns the forced layout IDs of a subset scope, sorted.
func (s Scope) Layouts() []string {
	ids := make([]string, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

func (s Scope) String() string {
	if s.Kind == ForceSubset {
		return s.Kind.String() + "(" + strings.Join(s.Layouts(), ",") + ")"
	}

	return s.Kind.String()
}

// KeySpace is the desired set of slots: every definition crossed with every
// mode and language, in that order.
type KeySpace struct {
	Definitions []layout.Definition
	Modes       []string
	Languages   []string
}

// Size returns the number of slots in the key space.
func (k KeySpace) Size() int {
	return len(k.Definitions) * len(k.Modes) * len(k.Languages)
}

// Reason records why the planner selected a slot.
type Reason int

const (
	ReasonForced Reason = iota
	ReasonNoRecord
	ReasonNoMode
	ReasonNoLanguage
	ReasonInvalid
)

func (r Reason) String() string {
	switch r {
	case ReasonForced:
		return "forced"
	case ReasonNoRecord:
		return "new layout"
	case ReasonNoMode:
		return "mode missing"
	case ReasonNoLanguage:
		return "language missing"
	case ReasonInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// Task is one slot to fetch within a run.
type Task struct {
	LayoutID string
	Layout   string
	Mode     string
	Language string
	URL      string
	Reason   Reason

	// Def is the definition the task was planned from. The merger uses it
	// to create the layout's record on first measurement.
	Def *layout.Definition
}

func (t Task) String() string {
	return t.Layout + "/" + t.Mode + "/" + t.Language
}

// Fetcher measures one slot. It returns an error when the measurement could
// not be taken; the engine then records the slot as all-null so the next
// run picks it up again. A nil error with missing or unparseable values is
// also acceptable: the validity rules catch it.
type Fetcher interface {
	Fetch(ctx context.Context, url, mode, language string) (metric.Bundle, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url, mode, language string) (metric.Bundle, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, url, mode, language string) (metric.Bundle, error) {
	return f(ctx, url, mode, language)
}

// Attempt is the outcome of one fetch, as passed to a Recorder.
type Attempt struct {
	RunID    string
	Task     Task
	OK       bool
	Valid    bool
	Err      string
	Duration time.Duration
	At       time.Time

	// Discarded marks a fetch that failed because the run was canceled.
	// Its result was never merged.
	Discarded bool
}

// Recorder receives the history of a run. Recorder errors are logged and
// never abort a run: the store is the source of truth, the history is not.
type Recorder interface {
	BeginRun(ctx context.Context, r *Report) error
	RecordAttempt(ctx context.Context, a *Attempt) error
	FinishRun(ctx context.Context, r *Report) error
}

// TaskError pairs a failed task with its error text.
type TaskError struct {
	Task Task
	Err  string
}

// Report summarizes a run.
type Report struct {
	RunID      string
	Scope      string
	StartedAt  time.Time
	FinishedAt time.Time
	LoadState  store.LoadState

	MetadataChanged int
	Planned         int
	Executed        int // fetch results merged into the store
	Succeeded       int // fetches that returned no error
	Failed          int // fetches that returned an error
	Invalid         int // merged bundles that are still invalid
	Discarded       int // results dropped because the run was canceled

	Tasks    []Task
	Errors   []TaskError
	Orphans  []string
	Canceled bool

	// Err is the text of the error that ended the run, if any.
	Err string

	// Wrote reports whether the store file was written at all, and
	// TimestampUpdated whether the final write advanced scraped_at.
	Wrote            bool
	TimestampUpdated bool
}

// maxRecordedErrors caps Report.Errors; Failed stays exact.
const maxRecordedErrors = 1000

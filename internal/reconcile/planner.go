package reconcile

import (
	"log/slog"

	"github.com/tonimelisma/layoutstats/internal/layout"
	"github.com/tonimelisma/layoutstats/internal/metric"
	"github.com/tonimelisma/layoutstats/internal/store"
)

// Planner decides which slots of the key space need fetching. It performs
// no I/O and never mutates the document.
type Planner struct {
	required []string
	aliases  map[string]string
	logger   *slog.Logger
}

// NewPlanner creates a Planner validating bundles against required and
// resolving URLs with the given mode aliases.
func NewPlanner(required []string, aliases map[string]string, logger *slog.Logger) *Planner {
	return &Planner{required: required, aliases: aliases, logger: logger}
}

// Plan returns one task per slot that is forced by scope, absent from the
// document, or holds an invalid bundle. Tasks come out in definition order,
// then mode order, then language order, so unchanged inputs always yield
// the same sequence. An empty key space yields no tasks.
func (p *Planner) Plan(ks KeySpace, doc *store.Document, scope Scope) []Task {
	var tasks []Task

	counts := make(map[Reason]int)

	for i := range ks.Definitions {
		def := &ks.Definitions[i]
		rec := doc.Record(def.Name)
		forced := scope.Forces(def.ID)

		for _, mode := range ks.Modes {
			for _, lang := range ks.Languages {
				reason, needed := p.classify(rec, mode, lang, forced)
				if !needed {
					continue
				}

				counts[reason]++

				tasks = append(tasks, Task{
					LayoutID: def.ID,
					Layout:   def.Name,
					Mode:     mode,
					Language: lang,
					URL:      layout.ResolveURL(def.Link, mode, lang, p.aliases),
					Reason:   reason,
					Def:      def,
				})
			}
		}
	}

	p.logger.Info("plan complete",
		slog.String("scope", scope.String()),
		slog.Int("key_space", ks.Size()),
		slog.Int("tasks", len(tasks)),
		slog.Int("forced", counts[ReasonForced]),
		slog.Int("new_layouts", counts[ReasonNoRecord]),
		slog.Int("missing", counts[ReasonNoMode]+counts[ReasonNoLanguage]),
		slog.Int("invalid", counts[ReasonInvalid]),
	)

	return tasks
}

// classify decides whether one slot needs fetching and why. A forced slot
// reports ReasonForced even when it is also missing.
func (p *Planner) classify(rec *store.Record, mode, lang string, forced bool) (Reason, bool) {
	if forced {
		return ReasonForced, true
	}

	if rec == nil {
		return ReasonNoRecord, true
	}

	if !rec.HasMode(mode) {
		return ReasonNoMode, true
	}

	b, ok := rec.Bundle(mode, lang)
	if !ok {
		return ReasonNoLanguage, true
	}

	if !metric.IsValidBundle(b, p.required) {
		return ReasonInvalid, true
	}

	return 0, false
}

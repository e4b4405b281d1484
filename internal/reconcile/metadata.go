package reconcile

import (
	"log/slog"

	"github.com/tonimelisma/layoutstats/internal/layout"
	"github.com/tonimelisma/layoutstats/internal/store"
)

// SyncMetadata copies descriptive fields from the definitions onto the
// records with matching names and returns how many records changed. Metric
// data is never touched, and records without a definition are left alone
// for the orphan audit to report.
//
// The url, thumb and family fields are always written, defaulting to false
// and "" when the definition omits them. Year and website are written when
// the definition has a value and removed from the record when it does not.
// A second call with the same definitions changes nothing.
func SyncMetadata(doc *store.Document, defs []layout.Definition, logger *slog.Logger) int {
	byName := make(map[string]*layout.Definition, len(defs))
	for i := range defs {
		byName[defs[i].Name] = &defs[i]
	}

	changed := 0

	for _, rec := range doc.Layouts {
		def, ok := byName[rec.Name]
		if !ok {
			continue
		}

		if applyMetadata(rec, def) {
			changed++

			logger.Debug("metadata synced", slog.String("layout", rec.Name))
		}
	}

	if changed > 0 {
		logger.Info("metadata sync complete", slog.Int("changed", changed))
	}

	return changed
}

// applyMetadata syncs rec's descriptive fields to def and reports whether
// anything changed.
func applyMetadata(rec *store.Record, def *layout.Definition) bool {
	changed := false

	if rec.URL != def.Link {
		rec.URL = def.Link
		changed = true
	}

	if rec.Thumb == nil || *rec.Thumb != def.Thumb {
		thumb := def.Thumb
		rec.Thumb = &thumb
		changed = true
	}

	if rec.Family == nil || *rec.Family != def.Family {
		family := def.Family
		rec.Family = &family
		changed = true
	}

	switch {
	case !def.Year.IsZero() && (rec.Year == nil || *rec.Year != def.Year):
		year := def.Year
		rec.Year = &year
		changed = true
	case def.Year.IsZero() && rec.Year != nil:
		rec.Year = nil
		changed = true
	}

	switch {
	case def.Website != "" && (rec.Website == nil || *rec.Website != def.Website):
		website := def.Website
		rec.Website = &website
		changed = true
	case def.Website == "" && rec.Website != nil:
		rec.Website = nil
		changed = true
	}

	return changed
}

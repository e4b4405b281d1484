package reconcile

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tonimelisma/layoutstats/internal/layout"
	"github.com/tonimelisma/layoutstats/internal/store"
)

// ErrOrphans is matched by every *OrphanError.
var ErrOrphans = errors.New("reconcile: orphaned store records")

// OrphanError lists store records without a layout definition. Orphans are
// never removed automatically: a renamed or deleted definition file must be
// resolved by hand so historical measurements are not lost.
type OrphanError struct {
	Names []string
}

func (e *OrphanError) Error() string {
	return fmt.Sprintf("%d orphaned store record(s) without a layout definition: %s",
		len(e.Names), strings.Join(e.Names, ", "))
}

// Unwrap lets errors.Is match ErrOrphans.
func (e *OrphanError) Unwrap() error {
	return ErrOrphans
}

// FindOrphans returns the names of records in doc that match no
// definition, in store order.
func FindOrphans(doc *store.Document, defs []layout.Definition) []string {
	known := make(map[string]bool, len(defs))
	for i := range defs {
		known[defs[i].Name] = true
	}

	var orphans []string

	for _, rec := range doc.Layouts {
		if !known[rec.Name] {
			orphans = append(orphans, rec.Name)
		}
	}

	return orphans
}

// AuditOrphans returns an *OrphanError when doc holds orphaned records.
// stage names the point in the run for the log ("pre-run", "post-run").
func AuditOrphans(doc *store.Document, defs []layout.Definition, stage string, logger *slog.Logger) error {
	orphans := FindOrphans(doc, defs)
	if len(orphans) == 0 {
		logger.Debug("orphan audit passed", slog.String("stage", stage))
		return nil
	}

	logger.Error("orphaned store records",
		slog.String("stage", stage),
		slog.Int("count", len(orphans)),
		slog.String("names", strings.Join(orphans, ", ")),
	)

	return &OrphanError{Names: orphans}
}

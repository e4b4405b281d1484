package layout

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// aggregateFile is the on-disk shape of a single file listing every layout.
type aggregateFile struct {
	Layouts []Definition `yaml:"layouts"`
}

// IsDefinitionFile reports whether name looks like a layout definition file.
func IsDefinitionFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return (ext == ".yml" || ext == ".yaml") && !strings.HasPrefix(filepath.Base(name), ".")
}

// Load reads definitions from dir (one layout per file) when dir is set,
// otherwise from the aggregate file at file. Exactly one source is used.
func Load(dir, file string, logger *slog.Logger) ([]Definition, error) {
	if dir != "" {
		return LoadDir(dir, logger)
	}

	if file != "" {
		return LoadFile(file, logger)
	}

	return nil, errors.New("layout: no definition source configured")
}

// LoadDir reads every YAML file in dir as one layout definition. The result
// is ordered by name, case-insensitively, so the order never depends on how
// files happen to be named. Definitions without a link are skipped with a
// warning because they cannot be measured.
func LoadDir(dir string, logger *slog.Logger) ([]Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("layout: reading directory %s: %w", dir, err)
	}

	var defs []Definition

	for _, entry := range entries {
		if entry.IsDir() || !IsDefinitionFile(entry.Name()) {
			continue
		}

		path := filepath.Join(dir, entry.Name())

		def, err := loadOne(path)
		if err != nil {
			return nil, err
		}

		if !usable(def, logger) {
			continue
		}

		defs = append(defs, def)
	}

	sort.SliceStable(defs, func(i, j int) bool {
		ki, kj := sortKey(defs[i].Name), sortKey(defs[j].Name)
		if ki != kj {
			return ki < kj
		}

		return defs[i].Source < defs[j].Source
	})

	if err := checkUnique(defs); err != nil {
		return nil, err
	}

	logger.Debug("layout definitions loaded",
		slog.String("dir", dir),
		slog.Int("count", len(defs)),
	)

	return defs, nil
}

// LoadFile reads an aggregate definitions file (a top-level "layouts" list).
// File order is kept.
func LoadFile(path string, logger *slog.Logger) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("layout: reading %s: %w", path, err)
	}

	var agg aggregateFile
	if err := yaml.Unmarshal(data, &agg); err != nil {
		return nil, fmt.Errorf("layout: decoding %s: %w", path, err)
	}

	defs := make([]Definition, 0, len(agg.Layouts))

	for i := range agg.Layouts {
		def := agg.Layouts[i]
		def.Source = path
		normalize(&def)

		if !usable(def, logger) {
			continue
		}

		defs = append(defs, def)
	}

	if err := checkUnique(defs); err != nil {
		return nil, err
	}

	logger.Debug("layout definitions loaded",
		slog.String("file", path),
		slog.Int("count", len(defs)),
	)

	return defs, nil
}

// loadOne decodes a single-layout file.
func loadOne(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("layout: reading %s: %w", path, err)
	}

	var def Definition

	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&def); err != nil && !errors.Is(err, io.EOF) {
		return Definition{}, fmt.Errorf("layout: decoding %s: %w", path, err)
	}

	def.Source = path
	normalize(&def)

	return def, nil
}

// normalize trims author whitespace and derives the ID.
func normalize(def *Definition) {
	def.Name = strings.TrimSpace(def.Name)
	def.Link = strings.TrimSpace(def.Link)
	def.Website = strings.TrimSpace(def.Website)
	def.Family = strings.TrimSpace(def.Family)
	def.ID = Slug(def.Name)
}

func usable(def Definition, logger *slog.Logger) bool {
	if def.Name == "" {
		logger.Warn("skipping layout definition without a name",
			slog.String("source", def.Source),
		)

		return false
	}

	if def.Link == "" {
		logger.Warn("skipping layout definition without a link",
			slog.String("layout", def.Name),
			slog.String("source", def.Source),
		)

		return false
	}

	return true
}

// checkUnique rejects two definitions that share a name or an ID. Either
// would make store records ambiguous.
func checkUnique(defs []Definition) error {
	byName := make(map[string]string, len(defs))
	byID := make(map[string]string, len(defs))

	var errs []error

	for i := range defs {
		d := &defs[i]

		if prev, ok := byName[d.Name]; ok {
			errs = append(errs, fmt.Errorf("layout: duplicate name %q in %s and %s", d.Name, prev, d.Source))
			continue
		}

		if prev, ok := byID[d.ID]; ok {
			errs = append(errs, fmt.Errorf("layout: %q in %s has the same id %q as a layout in %s",
				d.Name, d.Source, d.ID, prev))

			continue
		}

		byName[d.Name] = d.Source
		byID[d.ID] = d.Source
	}

	return errors.Join(errs...)
}

// Index maps definition names to definitions.
func Index(defs []Definition) map[string]*Definition {
	idx := make(map[string]*Definition, len(defs))
	for i := range defs {
		idx[defs[i].Name] = &defs[i]
	}

	return idx
}

// Select returns the IDs of the definitions named by selectors. A selector
// matches a definition by exact name or by ID (so "Hands Down Neu" and
// "hands-down-neu" are equivalent). Selectors matching nothing are
// returned as unknown.
func Select(defs []Definition, selectors []string) (ids map[string]bool, unknown []string) {
	ids = make(map[string]bool, len(selectors))

	for _, sel := range selectors {
		want := Slug(sel)
		found := false

		for i := range defs {
			if defs[i].Name == sel || defs[i].ID == want {
				ids[defs[i].ID] = true
				found = true
			}
		}

		if !found {
			unknown = append(unknown, sel)
		}
	}

	return ids, unknown
}

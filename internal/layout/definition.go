// Package layout loads keyboard layout definitions, the read-only input of a
// measurement run. A definition names a layout, carries the URL template used
// to measure it, and a handful of descriptive fields that are mirrored into
// the metrics store.
package layout

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Definition is one layout as written by its author. Definitions are
// immutable for the duration of a run.
type Definition struct {
	// ID is the stable slug derived from Name. Not read from the file.
	ID string `yaml:"-" json:"id"`

	Name    string `yaml:"name" json:"name"`
	Link    string `yaml:"link" json:"link"`
	Year    Year   `yaml:"year" json:"year"`
	Website string `yaml:"website" json:"website,omitempty"`
	Thumb   bool   `yaml:"thumb" json:"thumb"`
	Family  string `yaml:"family" json:"family,omitempty"`

	// Source is the file the definition was read from.
	Source string `yaml:"-" json:"source"`
}

// Year is an optional release year. Authors write plain numbers ("2021") as
// well as free text ("~2019", "2010s"); both are kept exactly, and numbers
// stay numbers when serialized to JSON.
type Year struct {
	text    string
	numeric bool
}

// NewYear returns a Year from its textual form. Integers are kept numeric.
func NewYear(s string) Year {
	s = strings.TrimSpace(s)
	if s == "" {
		return Year{}
	}

	_, err := strconv.Atoi(s)

	return Year{text: s, numeric: err == nil}
}

// IsZero reports whether no year is set.
func (y Year) IsZero() bool { return y.text == "" }

// String returns the year as written.
func (y Year) String() string { return y.text }

// UnmarshalYAML accepts scalars of any type. Null and empty values leave
// the year unset.
func (y *Year) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("layout: year must be a scalar, got %s", nodeKind(node))
	}

	if node.Tag == "!!null" {
		*y = Year{}
		return nil
	}

	*y = NewYear(node.Value)
	if node.Tag == "!!str" {
		y.numeric = false
	}

	return nil
}

// MarshalJSON writes numeric years as JSON numbers and anything else as a
// string. An unset year is null.
func (y Year) MarshalJSON() ([]byte, error) {
	if y.text == "" {
		return []byte("null"), nil
	}

	if y.numeric {
		return []byte(y.text), nil
	}

	return json.Marshal(y.text)
}

// UnmarshalJSON accepts a JSON number or string.
func (y *Year) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))

	switch {
	case s == "null":
		*y = Year{}
	case strings.HasPrefix(s, `"`):
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return fmt.Errorf("layout: decoding year: %w", err)
		}

		*y = Year{text: text}
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("layout: decoding year: %w", err)
		}

		*y = Year{text: n.String(), numeric: true}
	}

	return nil
}

func nodeKind(n *yaml.Node) string {
	switch n.Kind {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.DocumentNode:
		return "document"
	case yaml.AliasNode:
		return "alias"
	default:
		return "scalar"
	}
}

// slugFold strips accents: decompose, drop combining marks, recompose.
// Chains carry state, so each call gets its own.
func slugFold() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// Slug derives a stable identifier from a layout name: accents removed,
// lower-cased, every run of characters other than letters and digits
// collapsed to a single hyphen, no leading or trailing hyphen.
// "Gallium (v2)" becomes "gallium-v2", "Hands Down Neu" becomes
// "hands-down-neu".
func Slug(name string) string {
	plain, _, err := transform.String(slugFold(), name)
	if err != nil {
		plain = name
	}

	plain = cases.Lower(language.Und).String(plain)

	var b strings.Builder

	pendingHyphen := false

	for _, r := range plain {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}

			pendingHyphen = false

			b.WriteRune(r)

			continue
		}

		pendingHyphen = true
	}

	return b.String()
}

// sortKey is the case-insensitive ordering key for layout names.
func sortKey(name string) string {
	return cases.Fold().String(name)
}

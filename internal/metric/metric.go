// Package metric defines the metric bundle stored for one (layout, mode,
// language) slot and the validity rules that decide whether a slot must be
// measured again. Everything here is pure: no I/O, no logging.
package metric

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Sentinels that mark a value as unusable even though it is a string.
const (
	NotAvailable = "N/A"
	ErrorPrefix  = "Error"
)

// DefaultRequired is the metric set a bundle must carry in full before its
// slot counts as measured. Configuration may replace it.
var DefaultRequired = []string{
	"total_word_effort",
	"effort",
	"same_finger_bigrams",
	"skip_bigrams_1u",
	"skip_bigrams_2u",
	"lat_stretch_bigrams",
	"scissors",
	"pinky_off",
	"bigram_roll_in",
	"bigram_roll_out",
	"roll_in",
	"roll_out",
	"redirect",
	"weak_redirect",
	"alt",
	"alt_sfs",
}

// Bundle maps metric names to their raw JSON values as persisted: either
// null or a string such as "1258.15" or "12.34%". Values are kept raw so a
// bundle read from disk is written back exactly as it was, including values
// this package considers invalid.
type Bundle map[string]json.RawMessage

var null = json.RawMessage("null")

// Null returns the raw JSON null value.
func Null() json.RawMessage {
	return null
}

// String encodes s as a raw JSON string value.
func String(s string) json.RawMessage {
	b, _ := json.Marshal(s) //nolint:errchkjson // strings always marshal

	return b
}

// FromStrings builds a bundle from optional string values. A nil pointer
// becomes null.
func FromStrings(values map[string]*string) Bundle {
	b := make(Bundle, len(values))

	for name, v := range values {
		if v == nil {
			b[name] = Null()
			continue
		}

		b[name] = String(*v)
	}

	return b
}

// Empty returns a bundle with every named metric set to null. It is what a
// failed fetch leaves behind in its slot.
func Empty(names []string) Bundle {
	b := make(Bundle, len(names))
	for _, name := range names {
		b[name] = Null()
	}

	return b
}

// Text returns the string form of a value and whether it was a JSON string.
func Text(v json.RawMessage) (string, bool) {
	if len(v) == 0 || v[0] != '"' {
		return "", false
	}

	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}

	return s, true
}

// Clone returns a deep copy of b.
func (b Bundle) Clone() Bundle {
	if b == nil {
		return nil
	}

	out := make(Bundle, len(b))
	for k, v := range b {
		out[k] = append(json.RawMessage(nil), v...)
	}

	return out
}

// IsValidValue reports whether v is a usable measurement: a JSON string
// that is neither "N/A" nor an error message and that parses as a finite
// number once an optional trailing percent sign is removed.
func IsValidValue(v json.RawMessage) bool {
	s, ok := Text(v)
	if !ok {
		return false
	}

	return isNumericText(s)
}

// IsValidText is IsValidValue for a value already decoded to a string.
func IsValidText(s string) bool {
	return isNumericText(s)
}

func isNumericText(s string) bool {
	if s == NotAvailable || strings.HasPrefix(s, ErrorPrefix) {
		return false
	}

	s = strings.TrimSuffix(s, "%")

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return false
	}

	return !math.IsInf(f, 0) && !math.IsNaN(f)
}

// IsValidBundle reports whether b holds a valid value for every name in
// required. An empty or nil bundle is never valid. Metrics outside the
// required set are ignored.
func IsValidBundle(b Bundle, required []string) bool {
	if len(b) == 0 {
		return false
	}

	for _, name := range required {
		v, ok := b[name]
		if !ok || !IsValidValue(v) {
			return false
		}
	}

	return true
}

// InvalidMetrics lists the required metrics of b that are missing or
// invalid, in required order. Used for diagnostics only.
func InvalidMetrics(b Bundle, required []string) []string {
	var bad []string

	for _, name := range required {
		v, ok := b[name]
		if !ok || !IsValidValue(v) {
			bad = append(bad, name)
		}
	}

	return bad
}

// Parse returns the numeric value of a valid metric value. The second
// result is false when v is not valid.
func Parse(v json.RawMessage) (float64, bool) {
	if !IsValidValue(v) {
		return 0, false
	}

	s, _ := Text(v)

	f, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return 0, false
	}

	return f, true
}

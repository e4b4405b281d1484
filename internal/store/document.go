// Package store holds the persisted metrics document consumed by the report
// generator: one record per measured layout, each with metric bundles keyed
// by mode and language. The package preserves everything it does not
// understand, so a record that is never touched by a run is written back
// with the same content it was read with.
package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/tonimelisma/layoutstats/internal/layout"
	"github.com/tonimelisma/layoutstats/internal/metric"
)

// JSON keys of the document and its records.
const (
	keyScrapedAt = "scraped_at"
	keyModes     = "modes"
	keyLanguages = "languages"
	keyLayouts   = "layouts"

	keyName    = "name"
	keyURL     = "url"
	keyThumb   = "thumb"
	keyYear    = "year"
	keyWebsite = "website"
	keyFamily  = "family"
	keyMetrics = "metrics"
)

// Document is the full persisted state.
type Document struct {
	// ScrapedAt is the time of the last run that executed at least one
	// fetch, as written (RFC 3339 for documents written by this package).
	ScrapedAt string
	Modes     []string
	Languages []string
	Layouts   []*Record

	order []string
	extra map[string]json.RawMessage
}

// Record is one layout's persisted metadata and measurements. Optional
// fields are pointers: nil means the key is absent from the document,
// which is distinct from present-but-empty.
type Record struct {
	Name    string
	URL     string
	Thumb   *bool
	Year    *layout.Year
	Website *string
	Family  *string
	Metrics Metrics

	order []string
	extra map[string]json.RawMessage
}

// Key order for documents and records that were not read from disk. Keys
// of a decoded object keep the order they were read in.
var (
	documentKeys = []string{keyScrapedAt, keyModes, keyLanguages, keyLayouts}
	recordKeys   = []string{keyName, keyURL, keyThumb, keyMetrics, keyWebsite, keyYear, keyFamily}
)

// New returns an empty document.
func New() *Document {
	return &Document{}
}

// Record returns the record named name, or nil.
func (d *Document) Record(name string) *Record {
	for _, r := range d.Layouts {
		if r.Name == name {
			return r
		}
	}

	return nil
}

// Names returns record names in document order.
func (d *Document) Names() []string {
	names := make([]string, len(d.Layouts))
	for i, r := range d.Layouts {
		names[i] = r.Name
	}

	return names
}

// Append adds r at the end of the document.
func (d *Document) Append(r *Record) {
	d.Layouts = append(d.Layouts, r)
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	out := &Document{
		ScrapedAt: d.ScrapedAt,
		Modes:     slices.Clone(d.Modes),
		Languages: slices.Clone(d.Languages),
		order:     slices.Clone(d.order),
		extra:     cloneRaw(d.extra),
	}

	for _, r := range d.Layouts {
		out.Layouts = append(out.Layouts, r.Clone())
	}

	return out
}

// HasMode reports whether the record holds measurements for mode.
func (r *Record) HasMode(mode string) bool {
	return r.Metrics.HasMode(mode)
}

// Bundle returns the bundle stored for mode and language. The second
// result reports whether the slot exists at all.
func (r *Record) Bundle(mode, language string) (metric.Bundle, bool) {
	return r.Metrics.Bundle(mode, language)
}

// SetBundle stores b for mode and language, creating the mode and slot as
// needed. No other slot is touched. Metric names listed in order are
// written first in a slot that did not hold them before.
func (r *Record) SetBundle(mode, language string, b metric.Bundle, order ...string) {
	r.Metrics.Set(mode, language, b, order...)
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	out := &Record{
		Name:    r.Name,
		URL:     r.URL,
		Metrics: r.Metrics.Clone(),
		order:   slices.Clone(r.order),
		extra:   cloneRaw(r.extra),
	}

	if r.Thumb != nil {
		v := *r.Thumb
		out.Thumb = &v
	}

	if r.Year != nil {
		v := *r.Year
		out.Year = &v
	}

	if r.Website != nil {
		v := *r.Website
		out.Website = &v
	}

	if r.Family != nil {
		v := *r.Family
		out.Family = &v
	}

	return out
}

func cloneRaw(m map[string]json.RawMessage) map[string]json.RawMessage {
	if m == nil {
		return nil
	}

	out := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		out[k] = cloneBytes(v)
	}

	return out
}

// keyOrder returns the order to write an object's keys in: the order it
// was read in, with missing canonical keys placed after their canonical
// predecessor and unread extra keys last, sorted.
func keyOrder(read, canonical []string, extra map[string]json.RawMessage) []string {
	out := slices.Clone(read)

	for i, k := range canonical {
		if slices.Contains(out, k) {
			continue
		}

		at := 0

		for j := i - 1; j >= 0; j-- {
			if p := slices.Index(out, canonical[j]); p >= 0 {
				at = p + 1
				break
			}
		}

		out = slices.Insert(out, at, k)
	}

	extras := make([]string, 0, len(extra))
	for k := range extra {
		if !slices.Contains(out, k) {
			extras = append(extras, k)
		}
	}

	slices.Sort(extras)

	return append(out, extras...)
}

// MarshalJSON writes the document keys in the order they were read, or in
// the default order for a new document.
func (d *Document) MarshalJSON() ([]byte, error) {
	var w objectWriter

	for _, key := range keyOrder(d.order, documentKeys, d.extra) {
		switch key {
		case keyScrapedAt:
			w.field(key, d.ScrapedAt)
		case keyModes:
			w.field(key, nonNil(d.Modes))
		case keyLanguages:
			w.field(key, nonNil(d.Languages))
		case keyLayouts:
			layouts := d.Layouts
			if layouts == nil {
				layouts = []*Record{}
			}

			w.field(key, layouts)
		default:
			if v, ok := d.extra[key]; ok {
				w.field(key, v)
			}
		}
	}

	return w.finish()
}

// decodeMembers splits data into an ordered key list and a key → value
// map.
func decodeMembers(data []byte) ([]string, map[string]json.RawMessage, error) {
	members, err := readObject(data)
	if err != nil {
		return nil, nil, err
	}

	order := make([]string, len(members))
	raw := make(map[string]json.RawMessage, len(members))

	for i, m := range members {
		order[i] = m.key
		raw[m.key] = m.value
	}

	return order, raw, nil
}

// UnmarshalJSON reads a document, keeping unknown keys and key order.
func (d *Document) UnmarshalJSON(data []byte) error {
	order, raw, err := decodeMembers(data)
	if err != nil {
		return err
	}

	*d = Document{order: order}

	take := func(key string, dst any) {
		v, ok := raw[key]
		if !ok || err != nil {
			return
		}

		delete(raw, key)

		if uerr := json.Unmarshal(v, dst); uerr != nil {
			err = fmt.Errorf("field %q: %w", key, uerr)
		}
	}

	var scrapedAt *string

	take(keyScrapedAt, &scrapedAt)
	take(keyModes, &d.Modes)
	take(keyLanguages, &d.Languages)
	take(keyLayouts, &d.Layouts)

	if err != nil {
		return err
	}

	if scrapedAt != nil {
		d.ScrapedAt = *scrapedAt
	}

	for i, r := range d.Layouts {
		if r == nil {
			return fmt.Errorf("layouts[%d] is null", i)
		}
	}

	if len(raw) > 0 {
		d.extra = raw
	}

	return nil
}

// MarshalJSON writes the record keys in the order they were read, or in
// the report generator's order for a new record. Absent optional keys are
// skipped.
func (r *Record) MarshalJSON() ([]byte, error) {
	var w objectWriter

	for _, key := range keyOrder(r.order, recordKeys, r.extra) {
		switch key {
		case keyName:
			w.field(key, r.Name)
		case keyURL:
			w.field(key, r.URL)
		case keyThumb:
			if r.Thumb != nil {
				w.field(key, *r.Thumb)
			}
		case keyYear:
			if r.Year != nil {
				w.field(key, *r.Year)
			}
		case keyWebsite:
			if r.Website != nil {
				w.field(key, *r.Website)
			}
		case keyFamily:
			if r.Family != nil {
				w.field(key, *r.Family)
			}
		case keyMetrics:
			w.field(key, r.Metrics)
		default:
			if v, ok := r.extra[key]; ok {
				w.field(key, v)
			}
		}
	}

	return w.finish()
}

// UnmarshalJSON reads a record, keeping unknown keys and key order.
func (r *Record) UnmarshalJSON(data []byte) error {
	order, raw, err := decodeMembers(data)
	if err != nil {
		return err
	}

	*r = Record{order: order}

	take := func(key string, dst any) bool {
		v, ok := raw[key]
		if !ok || err != nil {
			return false
		}

		delete(raw, key)

		if uerr := json.Unmarshal(v, dst); uerr != nil {
			err = fmt.Errorf("record field %q: %w", key, uerr)
			return false
		}

		return true
	}

	take(keyName, &r.Name)
	take(keyURL, &r.URL)

	var (
		thumb   bool
		year    layout.Year
		website string
		family  string
	)

	if take(keyThumb, &thumb) {
		r.Thumb = &thumb
	}

	if take(keyYear, &year) {
		r.Year = &year
	}

	if take(keyWebsite, &website) {
		r.Website = &website
	}

	if take(keyFamily, &family) {
		r.Family = &family
	}

	take(keyMetrics, &r.Metrics)

	if err != nil {
		return err
	}

	if len(raw) > 0 {
		r.extra = raw
	}

	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}

	return s
}

// objectWriter builds a JSON object with keys in call order. HTML escaping
// is off so URLs keep their literal ampersands.
type objectWriter struct {
	buf bytes.Buffer
	n   int
	err error
}

func (w *objectWriter) field(key string, v any) {
	if w.err != nil {
		return
	}

	if w.n == 0 {
		w.buf.WriteByte('{')
	} else {
		w.buf.WriteByte(',')
	}

	w.n++

	if w.err = encodeTo(&w.buf, key); w.err != nil {
		return
	}

	w.buf.WriteByte(':')
	w.err = encodeTo(&w.buf, v)
}

func (w *objectWriter) finish() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}

	if w.n == 0 {
		return []byte("{}"), nil
	}

	w.buf.WriteByte('}')

	return w.buf.Bytes(), nil
}

func encodeTo(buf *bytes.Buffer, v any) error {
	var tmp bytes.Buffer

	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(v); err != nil {
		return err
	}

	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))

	return nil
}

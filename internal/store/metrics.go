package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/tonimelisma/layoutstats/internal/metric"
)

// Metrics holds a record's bundles keyed by mode, then language, in
// document order. A slot keeps the bytes it was read with until SetBundle
// replaces it, so slots a run never touches are written back unchanged.
// The zero value is an empty mapping.
type Metrics struct {
	modes []*modeSlots
	null  bool
}

type modeSlots struct {
	mode  string
	langs []*slot
	null  bool
}

// slot is one (mode, language) entry. raw is nil once the bundle has been
// replaced; keys then fixes the order its metrics are written in.
type slot struct {
	language string
	raw      json.RawMessage
	bundle   metric.Bundle
	keys     []string
}

// Slot names one stored (mode, language) entry.
type Slot struct {
	Mode     string
	Language string
}

func (m *Metrics) find(mode string) *modeSlots {
	for _, ms := range m.modes {
		if ms.mode == mode {
			return ms
		}
	}

	return nil
}

func (ms *modeSlots) find(language string) *slot {
	for _, s := range ms.langs {
		if s.language == language {
			return s
		}
	}

	return nil
}

// HasMode reports whether mode maps to a (possibly empty) set of languages.
// A mode stored as null has none.
func (m *Metrics) HasMode(mode string) bool {
	ms := m.find(mode)

	return ms != nil && !ms.null
}

// Bundle returns a copy of the bundle stored for mode and language. The
// second result reports whether the slot exists at all.
func (m *Metrics) Bundle(mode, language string) (metric.Bundle, bool) {
	ms := m.find(mode)
	if ms == nil || ms.null {
		return nil, false
	}

	s := ms.find(language)
	if s == nil {
		return nil, false
	}

	return s.bundle.Clone(), true
}

// Set stores b for mode and language. New modes and languages are appended
// after the existing ones. A replaced slot keeps the key order it had; new
// keys follow order, then the rest sorted.
func (m *Metrics) Set(mode, language string, b metric.Bundle, order ...string) {
	m.null = false

	ms := m.find(mode)
	if ms == nil {
		ms = &modeSlots{mode: mode}
		m.modes = append(m.modes, ms)
	}

	ms.null = false

	s := ms.find(language)
	if s == nil {
		s = &slot{language: language}
		ms.langs = append(ms.langs, s)
	}

	s.keys = bundleKeys(b, s.currentKeys(), order)
	s.bundle = b.Clone()
	s.raw = nil
}

// Slots lists every stored slot in document order.
func (m *Metrics) Slots() []Slot {
	var out []Slot

	for _, ms := range m.modes {
		for _, s := range ms.langs {
			out = append(out, Slot{Mode: ms.mode, Language: s.language})
		}
	}

	return out
}

// Clone returns a deep copy of m.
func (m *Metrics) Clone() Metrics {
	out := Metrics{null: m.null}

	for _, ms := range m.modes {
		cp := &modeSlots{mode: ms.mode, null: ms.null}

		for _, s := range ms.langs {
			cp.langs = append(cp.langs, &slot{
				language: s.language,
				raw:      cloneBytes(s.raw),
				bundle:   s.bundle.Clone(),
				keys:     slices.Clone(s.keys),
			})
		}

		out.modes = append(out.modes, cp)
	}

	return out
}

// currentKeys returns the slot's metric names in the order they are
// written today.
func (s *slot) currentKeys() []string {
	if s.raw == nil {
		return s.keys
	}

	members, err := readObject(s.raw)
	if err != nil {
		return nil
	}

	keys := make([]string, len(members))
	for i, mem := range members {
		keys[i] = mem.key
	}

	return keys
}

// bundleKeys orders the names in b: those in prev first, then those in
// order, then the remainder sorted.
func bundleKeys(b metric.Bundle, prev, order []string) []string {
	keys := make([]string, 0, len(b))
	seen := make(map[string]bool, len(b))

	add := func(names []string) {
		for _, name := range names {
			if _, ok := b[name]; ok && !seen[name] {
				seen[name] = true
				keys = append(keys, name)
			}
		}
	}

	add(prev)
	add(order)

	rest := make([]string, 0, len(b)-len(keys))
	for name := range b {
		if !seen[name] {
			rest = append(rest, name)
		}
	}

	slices.Sort(rest)

	return append(keys, rest...)
}

// MarshalJSON writes modes and languages in document order. Untouched
// slots are written from their original bytes.
func (m Metrics) MarshalJSON() ([]byte, error) {
	if m.null && len(m.modes) == 0 {
		return []byte("null"), nil
	}

	var w objectWriter

	for _, ms := range m.modes {
		if ms.null {
			w.field(ms.mode, json.RawMessage("null"))
			continue
		}

		var inner objectWriter

		for _, s := range ms.langs {
			data, err := s.encode()
			if err != nil {
				return nil, fmt.Errorf("metrics %s/%s: %w", ms.mode, s.language, err)
			}

			inner.field(s.language, data)
		}

		data, err := inner.finish()
		if err != nil {
			return nil, err
		}

		w.field(ms.mode, json.RawMessage(data))
	}

	return w.finish()
}

func (s *slot) encode() (json.RawMessage, error) {
	if s.raw != nil {
		return s.raw, nil
	}

	if s.bundle == nil {
		return json.RawMessage("null"), nil
	}

	var w objectWriter
	for _, name := range s.keys {
		w.field(name, s.bundle[name])
	}

	return w.finish()
}

// UnmarshalJSON reads the mode → language → bundle mapping, keeping the
// order and bytes of every slot.
func (m *Metrics) UnmarshalJSON(data []byte) error {
	*m = Metrics{}

	if isNull(data) {
		m.null = true
		return nil
	}

	modes, err := readObject(data)
	if err != nil {
		return err
	}

	for _, mm := range modes {
		ms := &modeSlots{mode: mm.key}
		m.modes = append(m.modes, ms)

		if isNull(mm.value) {
			ms.null = true
			continue
		}

		langs, err := readObject(mm.value)
		if err != nil {
			return fmt.Errorf("mode %q: %w", mm.key, err)
		}

		for _, lm := range langs {
			var b metric.Bundle
			if err := json.Unmarshal(lm.value, &b); err != nil {
				return fmt.Errorf("mode %q language %q: %w", mm.key, lm.key, err)
			}

			ms.langs = append(ms.langs, &slot{language: lm.key, raw: lm.value, bundle: b})
		}
	}

	return nil
}

// member is one key of a JSON object with its undecoded value.
type member struct {
	key   string
	value json.RawMessage
}

// readObject splits a JSON object into its members in document order. A
// repeated key keeps its first position and its last value.
func readObject(data []byte) ([]member, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected JSON object, got %v", tok)
	}

	var out []member

	index := make(map[string]int)

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}

		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", tok)
		}

		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}

		if i, dup := index[key]; dup {
			out[i].value = v
			continue
		}

		index[key] = len(out)
		out = append(out, member{key: key, value: v})
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}

	return out, nil
}

func isNull(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}

func cloneBytes(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}

	return append(json.RawMessage(nil), b...)
}

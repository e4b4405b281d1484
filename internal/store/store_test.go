package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/layoutstats/internal/layout"
	"github.com/tonimelisma/layoutstats/internal/metric"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

const sampleDoc = `{
  "scraped_at": "2025-01-02T03:04:05",
  "modes": ["ergo", "iso"],
  "languages": ["english"],
  "generator": {"version": 3},
  "layouts": [
    {
      "name": "Gallium",
      "url": "https://cyanophage.github.io/playground.html?layout=x&mode=ergo&lan=english",
      "thumb": false,
      "year": 2023,
      "website": "https://gallium.example",
      "rating": 5,
      "metrics": {
        "ergo": {
          "english": {"effort": "1258.15", "same_finger_bigrams": "0.64%", "alt": null}
        }
      }
    },
    {
      "name": "Qwerty",
      "url": "https://cyanophage.github.io/playground.html?layout=q",
      "metrics": {}
    }
  ]
}`

func decode(t *testing.T, s string) *Document {
	t.Helper()

	doc := New()
	require.NoError(t, json.Unmarshal([]byte(s), doc))

	return doc
}

func TestDocument_DecodeKnownFields(t *testing.T) {
	doc := decode(t, sampleDoc)

	assert.Equal(t, "2025-01-02T03:04:05", doc.ScrapedAt)
	assert.Equal(t, []string{"ergo", "iso"}, doc.Modes)
	assert.Equal(t, []string{"Gallium", "Qwerty"}, doc.Names())

	g := doc.Record("Gallium")
	require.NotNil(t, g)
	require.NotNil(t, g.Thumb)
	assert.False(t, *g.Thumb)
	require.NotNil(t, g.Year)
	assert.Equal(t, "2023", g.Year.String())
	require.NotNil(t, g.Website)
	assert.Nil(t, g.Family)

	b, ok := g.Bundle("ergo", "english")
	require.True(t, ok)
	assert.True(t, metric.IsValidValue(b["effort"]))
	assert.False(t, metric.IsValidValue(b["alt"]))

	q := doc.Record("Qwerty")
	require.NotNil(t, q)
	assert.Nil(t, q.Thumb)
	assert.Nil(t, q.Website)

	_, ok = q.Bundle("ergo", "english")
	assert.False(t, ok)
	assert.Nil(t, doc.Record("ghost"))
}

func TestDocument_RoundTripPreservesEverything(t *testing.T) {
	doc := decode(t, sampleDoc)

	out, err := Encode(doc)
	require.NoError(t, err)

	var want, got any
	require.NoError(t, json.Unmarshal([]byte(sampleDoc), &want))
	require.NoError(t, json.Unmarshal(out, &got))

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("round trip changed the document (-want +got):\n%s", diff)
	}
}

func TestDocument_EncodeIsStable(t *testing.T) {
	doc := decode(t, sampleDoc)

	first, err := Encode(doc)
	require.NoError(t, err)

	second, err := Encode(decode(t, string(first)))
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestDocument_NoHTMLEscaping(t *testing.T) {
	doc := decode(t, sampleDoc)

	out, err := Encode(doc)
	require.NoError(t, err)

	assert.Contains(t, string(out), "layout=x&mode=ergo&lan=english")
	assert.NotContains(t, string(out), `\u0026`)
}

func TestDocument_EmptyEncodesLists(t *testing.T) {
	out, err := Encode(New())
	require.NoError(t, err)

	assert.JSONEq(t, `{"scraped_at":"","modes":[],"languages":[],"layouts":[]}`, string(out))
}

func TestDocument_NullLayoutRejected(t *testing.T) {
	doc := New()
	err := json.Unmarshal([]byte(`{"layouts":[null]}`), doc)
	require.Error(t, err)
}

func TestRecord_SetBundleCreatesIntermediateMaps(t *testing.T) {
	r := &Record{Name: "A"}
	r.SetBundle("iso", "dutch", metric.Bundle{"effort": metric.String("1")})

	b, ok := r.Bundle("iso", "dutch")
	require.True(t, ok)
	assert.JSONEq(t, `"1"`, string(b["effort"]))

	r.SetBundle("iso", "english", metric.Empty([]string{"effort"}))

	b, ok = r.Bundle("iso", "dutch")
	require.True(t, ok)
	assert.JSONEq(t, `"1"`, string(b["effort"]))
}

func TestRecord_OptionalFieldsOmittedWhenAbsent(t *testing.T) {
	r := &Record{Name: "A", URL: "u"}

	out, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"A","url":"u","metrics":{}}`, string(out))
}

func TestClone_Deep(t *testing.T) {
	doc := decode(t, sampleDoc)
	cp := doc.Clone()

	cp.Record("Gallium").SetBundle("ergo", "english", metric.Empty([]string{"effort"}))
	*cp.Record("Gallium").Website = "changed"

	b, _ := doc.Record("Gallium").Bundle("ergo", "english")
	assert.True(t, metric.IsValidValue(b["effort"]))
	assert.Equal(t, "https://gallium.example", *doc.Record("Gallium").Website)
}

func TestLoad_Missing(t *testing.T) {
	doc, state, err := Load(filepath.Join(t.TempDir(), "data.json"), testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, Missing, state)
	assert.Empty(t, doc.Layouts)
}

func TestLoad_CorruptBacksUpAndRecovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"layouts": [`), 0o600))

	doc, state, err := Load(path, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, Recovered, state)
	assert.Empty(t, doc.Layouts)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var backups []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "data.json.corrupt-") {
			backups = append(backups, e.Name())
		}
	}

	require.Len(t, backups, 1)

	data, err := os.ReadFile(filepath.Join(dir, backups[0]))
	require.NoError(t, err)
	assert.Equal(t, `{"layouts": [`, string(data))
}

func TestLoad_WrongShapeIsCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"layouts": [{"name": "A", "metrics": {"english": {"effort": "1"}}}]}`), 0o600))

	_, state, err := Load(path, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, Recovered, state)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "site", "data.json")

	doc := decode(t, sampleDoc)
	require.NoError(t, Save(path, doc))

	loaded, state, err := Load(path, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, Loaded, state)
	assert.Equal(t, doc.Names(), loaded.Names())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePerms), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestLoadState_String(t *testing.T) {
	assert.Equal(t, "loaded", Loaded.String())
	assert.Equal(t, "missing", Missing.String())
	assert.Equal(t, "recovered", Recovered.String())
}

// orderedDoc is written exactly as Encode writes it, with keys in an order
// no sorted encoder would produce.
const orderedDoc = `{
  "scraped_at": "2025-01-02T03:04:05",
  "modes": [
    "ergo"
  ],
  "languages": [
    "english",
    "dutch"
  ],
  "layouts": [
    {
      "name": "Gallium",
      "url": "https://example.test/p?layout=x&mode=ergo&lan=english",
      "thumb": false,
      "metrics": {
        "ergo": {
          "english": {
            "total_word_effort": "1.0",
            "effort": "2.0",
            "alt": "3%"
          },
          "dutch": {
            "effort": "4.0",
            "alt": null
          }
        },
        "iso": null
      },
      "website": "https://gallium.example",
      "year": 2023,
      "zeta": 1,
      "alpha": true
    }
  ],
  "generator": {
    "version": 3
  }
}
`

const orderedEnglishSlot = `          "english": {
            "total_word_effort": "1.0",
            "effort": "2.0",
            "alt": "3%"
          },`

func TestDocument_RoundTripKeepsBytes(t *testing.T) {
	out, err := Encode(decode(t, orderedDoc))
	require.NoError(t, err)

	assert.Equal(t, orderedDoc, string(out))
}

func TestRecord_SetBundleLeavesOtherSlotBytes(t *testing.T) {
	doc := decode(t, orderedDoc)

	doc.Record("Gallium").SetBundle("ergo", "dutch", metric.Bundle{
		"alt":                 metric.String("5%"),
		"effort":              metric.String("6.0"),
		"same_finger_bigrams": metric.String("1%"),
	}, "same_finger_bigrams", "effort", "alt")

	out, err := Encode(doc)
	require.NoError(t, err)
	assert.Contains(t, string(out), orderedEnglishSlot)

	var compact bytes.Buffer
	require.NoError(t, json.Compact(&compact, out))
	assert.Contains(t, compact.String(), `"dutch":{"effort":"6.0","alt":"5%","same_finger_bigrams":"1%"}`)
	assert.Contains(t, compact.String(), `"iso":null},"website"`)
}

func TestRecord_SetBundleOnNullMode(t *testing.T) {
	doc := decode(t, `{"layouts":[{"name":"A","url":"u","metrics":{"ergo":null}}]}`)
	r := doc.Record("A")

	assert.False(t, r.HasMode("ergo"))

	_, ok := r.Bundle("ergo", "english")
	assert.False(t, ok)

	cp := r.Clone()
	cp.SetBundle("ergo", "english", metric.Bundle{"effort": metric.String("1")})

	b, ok := cp.Bundle("ergo", "english")
	require.True(t, ok)
	assert.JSONEq(t, `"1"`, string(b["effort"]))
	assert.True(t, cp.HasMode("ergo"))

	orig, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"A","url":"u","metrics":{"ergo":null}}`, string(orig))
}

func TestRecord_SetBundleOnNullMetrics(t *testing.T) {
	doc := decode(t, `{"layouts":[{"name":"A","url":"u","metrics":null}]}`)
	r := doc.Record("A")

	r.SetBundle("ergo", "english", metric.Bundle{"effort": metric.String("1")})

	out, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"A","url":"u","metrics":{"ergo":{"english":{"effort":"1"}}}}`, string(out))
}

func TestRecord_NewRecordKeyOrder(t *testing.T) {
	thumb := true
	year := layout.NewYear("2020")
	website := "https://w.example"
	family := "f"

	r := &Record{Name: "A", URL: "u", Thumb: &thumb, Year: &year, Website: &website, Family: &family}
	r.SetBundle("ergo", "english", metric.Bundle{"effort": metric.String("1")})

	out, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Equal(t,
		`{"name":"A","url":"u","thumb":true,"metrics":{"ergo":{"english":{"effort":"1"}}},"website":"https://w.example","year":2020,"family":"f"}`,
		string(out))
}

func TestRecord_AddedKeyFollowsItsPredecessor(t *testing.T) {
	doc := decode(t, `{"layouts":[{"name":"A","url":"u","thumb":false,"metrics":{},"rating":5}]}`)
	r := doc.Record("A")

	family := "f"
	r.Family = &family

	out, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"A","url":"u","thumb":false,"metrics":{},"family":"f","rating":5}`, string(out))
}

func TestLoad_UnreadableIsMovedAside(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"layouts": []}`), 0o600))

	orig := readFile
	readFile = func(string) ([]byte, error) { return nil, fs.ErrPermission }
	t.Cleanup(func() { readFile = orig })

	doc, state, err := Load(path, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, Recovered, state)
	assert.Empty(t, doc.Layouts)

	_, err = os.Stat(path)
	assert.ErrorIs(t, err, fs.ErrNotExist, "the unreadable file must not stay where a checkpoint would replace it")

	matches, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Equal(t, `{"layouts": []}`, string(data))
}

func TestLoad_UnreadableAndUnmovableFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone", "data.json")

	orig := readFile
	readFile = func(string) ([]byte, error) { return nil, errors.New("input/output error") }
	t.Cleanup(func() { readFile = orig })

	_, state, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Equal(t, Recovered, state)
	assert.Contains(t, err.Error(), "could not be moved aside")
}

package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dvorakYAML = `name: Dvorak
link: https://example.com/playground?layout=dvorak
year: 1936
`

func TestWatchPass_ReloadMeasuresNewLayout(t *testing.T) {
	f := newCLIFixture(t, standardLayouts())
	fake := useFakeFetcher(t)
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	s, err := NewSession(context.Background(), fixtureContext(t, f))
	require.NoError(t, err)
	defer closeSession(s)

	watchPass(context.Background(), s, logger, false)
	assert.Equal(t, 4, fake.count())

	require.NoError(t, os.WriteFile(filepath.Join(f.layoutsDir, "dvorak.yaml"), []byte(dvorakYAML), 0o600))

	watchPass(context.Background(), s, logger, true)
	assert.Equal(t, 6, fake.count(), "only the new layout is measured")
	assert.Len(t, s.Definitions, 3)
	assert.Equal(t, []string{"Colemak", "QWERTY", "Dvorak"}, loadFixtureStore(t, f).Names())
}

func TestWatchPass_BadDefinitionsKeepPreviousSet(t *testing.T) {
	f := newCLIFixture(t, standardLayouts())
	fake := useFakeFetcher(t)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	s, err := NewSession(context.Background(), fixtureContext(t, f))
	require.NoError(t, err)
	defer closeSession(s)

	require.NoError(t, os.WriteFile(filepath.Join(f.layoutsDir, "broken.yaml"), []byte("name: [unclosed\n"), 0o600))

	watchPass(context.Background(), s, logger, true)
	assert.Zero(t, fake.count())
	assert.Len(t, s.Definitions, 2)
	assert.Contains(t, logs.String(), "definitions unusable")
}

func TestWatchPass_OrphansLoggedNotFatal(t *testing.T) {
	f := newCLIFixture(t, standardLayouts())
	fake := useFakeFetcher(t)
	f.writeStore(t, `{"layouts":[{"name":"Ghost","url":"y","metrics":{}}]}`)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	s, err := NewSession(context.Background(), fixtureContext(t, f))
	require.NoError(t, err)
	defer closeSession(s)

	watchPass(context.Background(), s, logger, false)
	assert.Zero(t, fake.count())
	assert.Contains(t, logs.String(), "layouts without definitions")
}

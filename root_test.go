package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/layoutstats/internal/config"
	"github.com/tonimelisma/layoutstats/internal/fetch"
	"github.com/tonimelisma/layoutstats/internal/metric"
	"github.com/tonimelisma/layoutstats/internal/reconcile"
	"github.com/tonimelisma/layoutstats/internal/store"
)

// Global flag reset pattern: newRootCmd() binds flags via StringVar/BoolVar,
// which reset the global flag variables to their zero values. Tests must either:
//   - Set globals AFTER newRootCmd() returns (direct function tests), or
//   - Use cmd.SetArgs() + cmd.Execute() to let Cobra parse flags (integration tests).
//
// Setting a global before newRootCmd() and expecting it to survive is a bug.

// cliFixture is a throwaway project: definitions, a store path, and a
// config file pointing at both with run history disabled.
type cliFixture struct {
	dir        string
	layoutsDir string
	storePath  string
	configPath string
}

func newCLIFixture(t *testing.T, layouts map[string]string) *cliFixture {
	t.Helper()

	// Keep the caller's environment out of the override chain.
	t.Setenv(config.EnvConfig, "")
	t.Setenv(config.EnvStore, "")
	t.Setenv(config.EnvLayoutsDir, "")

	dir := t.TempDir()
	f := &cliFixture{
		dir:        dir,
		layoutsDir: filepath.Join(dir, "layouts"),
		storePath:  filepath.Join(dir, "site", "data.json"),
		configPath: filepath.Join(dir, "config.toml"),
	}

	require.NoError(t, os.MkdirAll(f.layoutsDir, 0o755))

	for name, body := range layouts {
		require.NoError(t, os.WriteFile(filepath.Join(f.layoutsDir, name), []byte(body), 0o600))
	}

	cfg := fmt.Sprintf("layouts_dir = %q\nstore_path = %q\nledger_path = \"off\"\nmodes = [\"ansi\", \"iso\"]\n",
		f.layoutsDir, f.storePath)
	require.NoError(t, os.WriteFile(f.configPath, []byte(cfg), 0o600))

	return f
}

func (f *cliFixture) writeStore(t *testing.T, body string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(f.storePath), 0o755))
	require.NoError(t, os.WriteFile(f.storePath, []byte(body), 0o600))
}

func (f *cliFixture) run(args ...string) error {
	cmd := newRootCmd()
	cmd.SetArgs(append([]string{"--config", f.configPath, "--quiet"}, args...))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	return cmd.Execute()
}

const (
	qwertyYAML = `name: QWERTY
link: https://example.com/playground?layout=qwerty
year: 1873
website: https://en.wikipedia.org/wiki/QWERTY
family: qwerty-like
`
	colemakYAML = `name: Colemak
link: https://example.com/playground?layout=colemak&lan=english
year: 2006
website: www.colemak.com
`
)

func standardLayouts() map[string]string {
	return map[string]string{"qwerty.yaml": qwertyYAML, "colemak.yml": colemakYAML}
}

// --- buildLogger tests ---

func TestBuildLogger_Default(t *testing.T) {
	logger := buildLogger(nil, CLIFlags{}, &bytes.Buffer{})

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_ConfigLevel(t *testing.T) {
	logger := buildLogger(&config.Resolved{LogLevel: "warn"}, CLIFlags{}, &bytes.Buffer{})

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
}

func TestBuildLogger_VerboseOverrides(t *testing.T) {
	// Config says error, but --verbose wins.
	logger := buildLogger(&config.Resolved{LogLevel: "error"}, CLIFlags{Verbose: true}, &bytes.Buffer{})

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_QuietOverrides(t *testing.T) {
	logger := buildLogger(&config.Resolved{LogLevel: "debug"}, CLIFlags{Quiet: true}, &bytes.Buffer{})

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelError))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
}

func TestBuildLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer

	buildLogger(&config.Resolved{LogLevel: "info", LogFormat: "json"}, CLIFlags{}, &buf).
		Info("hello", slog.String("layout", "QWERTY"))

	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"layout":"QWERTY"`)
}

func TestBuildLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer

	buildLogger(&config.Resolved{LogLevel: "info", LogFormat: "auto"}, CLIFlags{}, &buf).Info("hello")

	assert.Contains(t, buf.String(), "msg=hello")
}

// --- CLIContext tests ---

func TestMustCLIContext(t *testing.T) {
	cc := &CLIContext{Flags: CLIFlags{JSON: true}}
	ctx := withCLIContext(context.Background(), cc)

	assert.Same(t, cc, mustCLIContext(ctx))
	assert.Panics(t, func() { mustCLIContext(context.Background()) })
}

func TestCLIOverrides_OnlyChangedFlags(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--workers", "4", "--store", "x.json"}))

	cli := cliOverrides(cmd)
	require.NotNil(t, cli.Workers)
	assert.Equal(t, 4, *cli.Workers)
	require.NotNil(t, cli.StorePath)
	assert.Equal(t, "x.json", *cli.StorePath)
	assert.Nil(t, cli.LayoutsDir)
}

// --- command integration tests ---

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}

	for _, want := range []string{"fetch", "plan", "status", "audit", "layouts", "history", "watch", "config"} {
		assert.Contains(t, names, want)
	}
}

func TestPlanCmd_EmptyStore(t *testing.T) {
	f := newCLIFixture(t, standardLayouts())

	require.NoError(t, f.run("plan"))
	assert.NoFileExists(t, f.storePath, "planning never writes")
}

func TestFetchCmd_DryRunWritesNothing(t *testing.T) {
	f := newCLIFixture(t, standardLayouts())

	require.NoError(t, f.run("fetch", "--dry-run", "--force-all"))
	assert.NoFileExists(t, f.storePath)
}

func TestFetchCmd_UnknownLayout(t *testing.T) {
	f := newCLIFixture(t, standardLayouts())

	err := f.run("fetch", "--dry-run", "--layout", "Dvorak")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown layout(s): Dvorak")
}

func TestFetchCmd_ForceFlagsExclusive(t *testing.T) {
	f := newCLIFixture(t, standardLayouts())

	err := f.run("fetch", "--dry-run", "--force-all", "--layout", "QWERTY")
	assert.Error(t, err)
}

func TestAuditCmd_Orphans(t *testing.T) {
	f := newCLIFixture(t, standardLayouts())
	f.writeStore(t, `{"layouts":[{"name":"QWERTY","url":"x","metrics":{}},{"name":"Ghost","url":"y","metrics":{}}]}`)

	before, err := os.ReadFile(f.storePath)
	require.NoError(t, err)

	err = f.run("audit")
	require.Error(t, err)
	assert.ErrorIs(t, err, reconcile.ErrOrphans)
	assert.Contains(t, err.Error(), "Ghost")
	assert.Equal(t, exitOrphans, exitCode(err))

	after, err := os.ReadFile(f.storePath)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after), "orphan audit must not write")
}

func TestAuditCmd_SyncsMetadata(t *testing.T) {
	f := newCLIFixture(t, standardLayouts())
	f.writeStore(t, `{"scraped_at":"2024-01-02T03:04:05Z","layouts":[{"name":"QWERTY","url":"old","metrics":{}}]}`)

	require.NoError(t, f.run("audit"))

	data, err := os.ReadFile(f.storePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"url": "https://example.com/playground?layout=qwerty"`)
	assert.Contains(t, string(data), `"year": 1873`)
	assert.Contains(t, string(data), `"scraped_at": "2024-01-02T03:04:05Z"`)
}

func TestLayoutsCheckCmd(t *testing.T) {
	f := newCLIFixture(t, standardLayouts())
	require.NoError(t, f.run("layouts", "check"))

	bad := newCLIFixture(t, map[string]string{
		"bad.yaml": "name: Bad\nlink: https://example.com/?layout=bad\nwebsite: example.com\n",
	})

	err := bad.run("layouts", "check")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 problem(s)")
	assert.Equal(t, exitFailure, exitCode(err))
}

func TestHistoryCmd_Disabled(t *testing.T) {
	f := newCLIFixture(t, standardLayouts())

	err := f.run("history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
}

func TestConfigShowCmd(t *testing.T) {
	f := newCLIFixture(t, standardLayouts())

	assert.NoError(t, f.run("config", "show"))
	assert.NoError(t, f.run("--json", "config", "show"))
}

func TestRootCmd_BadConfig(t *testing.T) {
	f := newCLIFixture(t, standardLayouts())
	require.NoError(t, os.WriteFile(f.configPath, []byte("fetch_worker = 2\n"), 0o600))

	err := f.run("status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading config")
}

func TestAuditCmd_RefusedWhileStoreLocked(t *testing.T) {
	f := newCLIFixture(t, standardLayouts())

	release, err := lockStore(f.storePath)
	require.NoError(t, err)
	defer release()

	err = f.run("audit")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another layoutstats process")
}

// fakeFetcher answers every slot with a valid bundle for the default
// metric set and counts the calls.
type fakeFetcher struct {
	mu   sync.Mutex
	urls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url, _, _ string) (metric.Bundle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.urls = append(f.urls, url)

	b := make(metric.Bundle, len(metric.DefaultRequired))
	for i, name := range metric.DefaultRequired {
		b[name] = metric.String(strconv.Itoa(i + 1))
	}

	return b, nil
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.urls)
}

// useFakeFetcher makes every session built during the test measure with a
// fakeFetcher instead of a browser.
func useFakeFetcher(t *testing.T) *fakeFetcher {
	t.Helper()

	fake := &fakeFetcher{}
	orig := newFetcher
	newFetcher = func(*fetch.Browser, fetch.Config, *slog.Logger) reconcile.Fetcher { return fake }
	t.Cleanup(func() { newFetcher = orig })

	return fake
}

func loadFixtureStore(t *testing.T, f *cliFixture) *store.Document {
	t.Helper()

	doc, state, err := store.Load(f.storePath, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	require.NoError(t, err)
	require.Equal(t, store.Loaded, state)

	return doc
}

func TestFetchCmd_ConvergesThenNoop(t *testing.T) {
	f := newCLIFixture(t, standardLayouts())
	fake := useFakeFetcher(t)

	require.NoError(t, f.run("fetch"))
	assert.Equal(t, 4, fake.count(), "two layouts, two modes, one language")

	doc := loadFixtureStore(t, f)
	assert.Equal(t, []string{"Colemak", "QWERTY"}, doc.Names())
	assert.NotEmpty(t, doc.ScrapedAt)

	for _, name := range doc.Names() {
		for _, mode := range []string{"ansi", "iso"} {
			b, ok := doc.Record(name).Bundle(mode, "english")
			require.True(t, ok, "%s/%s", name, mode)
			assert.True(t, metric.IsValidBundle(b, metric.DefaultRequired), "%s/%s", name, mode)
		}
	}

	before, err := os.ReadFile(f.storePath)
	require.NoError(t, err)

	require.NoError(t, f.run("--json", "fetch"))
	assert.Equal(t, 4, fake.count(), "a converged store plans nothing")

	after, err := os.ReadFile(f.storePath)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestFetchCmd_ForceLayoutRefetchesOnlyIt(t *testing.T) {
	f := newCLIFixture(t, standardLayouts())
	fake := useFakeFetcher(t)

	require.NoError(t, f.run("fetch"))
	require.NoError(t, f.run("fetch", "--layout", "qwerty"))

	assert.Equal(t, 6, fake.count())

	for _, url := range fake.urls[4:] {
		assert.Contains(t, url, "layout=qwerty")
	}
}

func TestFetchCmd_OrphansExit2(t *testing.T) {
	f := newCLIFixture(t, standardLayouts())
	fake := useFakeFetcher(t)
	f.writeStore(t, `{"layouts":[{"name":"Ghost","url":"y","metrics":{}}]}`)

	before, err := os.ReadFile(f.storePath)
	require.NoError(t, err)

	err = f.run("fetch")
	require.Error(t, err)
	assert.ErrorIs(t, err, reconcile.ErrOrphans)
	assert.Contains(t, err.Error(), "Ghost")
	assert.Equal(t, exitOrphans, exitCode(err))
	assert.Zero(t, fake.count(), "orphans abort before any fetch")

	after, err := os.ReadFile(f.storePath)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

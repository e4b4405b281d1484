package config

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolvedDefaults(t *testing.T) *Resolved {
	t.Helper()

	r, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: missingConfig(t)})
	require.NoError(t, err)

	return r
}

func TestRenderEffective_Defaults(t *testing.T) {
	r := resolvedDefaults(t)

	var buf bytes.Buffer
	require.NoError(t, RenderEffective(r, &buf))

	output := buf.String()
	assert.Contains(t, output, "# Effective configuration")
	assert.Contains(t, output, "[layouts]")
	assert.Contains(t, output, `layouts_dir      = "config/layouts"`)
	assert.Contains(t, output, `modes            = ["ergo", "ansi", "iso", "anglemod"]`)
	assert.Contains(t, output, `mode_aliases.anglemod = "iso"`)
	assert.Contains(t, output, "[store]")
	assert.Contains(t, output, `store_path  = "site/data.json"`)
	assert.Contains(t, output, "[fetch]")
	assert.Contains(t, output, "fetch_workers = 1")
	assert.Contains(t, output, `fetch_timeout = "1m0s"`)
	assert.Contains(t, output, `mode_scripts  = ["anglemod"]`)
	assert.Contains(t, output, "[watch]")
	assert.Contains(t, output, "[logging]")
	assert.NotContains(t, output, "browser_url")
	assert.NotContains(t, output, "layouts_file")
}

func TestRenderEffective_OptionalFieldsShown(t *testing.T) {
	r := resolvedDefaults(t)
	r.LayoutsFile = "layouts.yaml"
	r.LayoutsDir = ""
	r.BrowserURL = "ws://127.0.0.1:9222"
	r.LedgerPath = ""

	var buf bytes.Buffer
	require.NoError(t, RenderEffective(r, &buf))

	output := buf.String()
	assert.Contains(t, output, `layouts_file     = "layouts.yaml"`)
	assert.Contains(t, output, `browser_url   = "ws://127.0.0.1:9222"`)
	assert.Contains(t, output, `ledger_path = "off"`)
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestRenderEffective_WriteError(t *testing.T) {
	err := RenderEffective(resolvedDefaults(t), failWriter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestJoinQuoted(t *testing.T) {
	assert.Equal(t, `"a", "b"`, joinQuoted([]string{"a", "b"}))
	assert.Equal(t, "", joinQuoted(nil))
}

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestHelpListsCommands(t *testing.T) {
	out, err := execRoot(t, "--help")
	require.NoError(t, err)
	for _, name := range []string{"serve", "hook", "processes", "paths", "check-config"} {
		assert.Contains(t, out, name)
	}
}

func TestCheckConfig(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.toml")
	require.NoError(t, os.WriteFile(good, []byte(`
[worker]
command = "sleep"
args = ["30"]

[[catalog.paths]]
id = "1"
path = "cam-1"
enabled = true
`), 0o644))
	out, err := execRoot(t, "check-config", good)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "config ok:"), out)
	assert.Contains(t, out, "worker=sleep")
	assert.Contains(t, out, "(1 static paths)")
	assert.Contains(t, out, `sweep="@every 1m0s"`)

	// via --config
	out, err = execRoot(t, "--config", good, "check-config")
	require.NoError(t, err)
	assert.Contains(t, out, "config ok:")

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[demand]\nrestart_ceiling = 2\n"), 0o644))
	_, err = execRoot(t, "check-config", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker command is required")

	_, err = execRoot(t, "check-config", filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)
}

func TestServeRejectsInvalidConfig(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[server]\nbase_path = \"api\"\n[worker]\ncommand = \"sleep\"\n"), 0o644))
	_, err := execRoot(t, "serve", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_path")
}

func TestHookRequiresEvent(t *testing.T) {
	_, err := execRoot(t, "hook")
	assert.Error(t, err)
}

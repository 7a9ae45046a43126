package cli

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PLUGBOARD_EXTENSIONS_DIR", t.TempDir())
	t.Setenv("PLUGBOARD_DB", filepath.Join(t.TempDir(), "plugboard.db"))
	t.Setenv("PLUGBOARD_LOG_LEVEL", "error")
}

func buildPackage(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range map[string]string{
		"extension.hcl": `
extension "forum-polls" {
  name    = "Forum Polls"
  version = "1.0.0"
  type    = "plugin"
  author  = "dev"
  main    = "entry.lua"
}`,
		"entry.lua": `slots.register("header", { html = "<div/>" })`,
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	path := filepath.Join(t.TempDir(), "forum-polls.zip")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := Run(context.Background(), &out, args)
	return out.String(), err
}

func TestUnknownCommand(t *testing.T) {
	setEnv(t)
	_, err := run(t, "frobnicate")
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
}

func TestHelp(t *testing.T) {
	setEnv(t)
	out, err := run(t, "help")
	require.NoError(t, err)
	assert.Contains(t, out, "Usage:")
	assert.Contains(t, out, "install")
}

func TestInstallPreviewListFlow(t *testing.T) {
	setEnv(t)
	pkg := buildPackage(t)

	out, err := run(t, "preview", pkg)
	require.NoError(t, err)
	assert.Contains(t, out, "forum-polls 1.0.0 is installable")

	out, err = run(t, "install", "-enable", pkg)
	require.NoError(t, err)
	assert.Contains(t, out, "installed and enabled")

	out, err = run(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "forum-polls")
	assert.Contains(t, out, "enabled")

	// The same package again conflicts.
	_, err = run(t, "install", pkg)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.Code)
}

func TestTransitionCommands(t *testing.T) {
	setEnv(t)
	pkg := buildPackage(t)

	_, err := run(t, "install", "-enable", pkg)
	require.NoError(t, err)

	out, err := run(t, "disable", "forum-polls")
	require.NoError(t, err)
	assert.Contains(t, out, "disable: forum-polls")

	_, err = run(t, "uninstall", "forum-polls")
	require.NoError(t, err)

	_, err = run(t, "enable", "forum-polls")
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Contains(t, exitErr.Message, "not installed")
}

func TestTransitionRequiresID(t *testing.T) {
	setEnv(t)
	_, err := run(t, "enable")
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
}

func TestInstallRequiresArchive(t *testing.T) {
	setEnv(t)
	_, err := run(t, "install")
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
}

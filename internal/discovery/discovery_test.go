package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeExtension(t *testing.T, root, id, src string) string {
	t.Helper()
	dir := filepath.Join(root, id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extension.hcl"), []byte(src), 0o644))
	return dir
}

func validManifest(id string) string {
	return `extension "` + id + `" {
  name    = "` + id + `"
  version = "1.0.0"
  type    = "plugin"
  author  = "test"
  main    = "entry.lua"
}`
}

func TestDiscoverCatalogsValidAndWarnsOnMalformed(t *testing.T) {
	root := t.TempDir()
	writeExtension(t, root, "good-one", validManifest("good-one"))
	writeExtension(t, root, "good-two", validManifest("good-two"))
	writeExtension(t, root, "broken", `extension "broken" { version = "nope" }`)

	result, err := Discover(context.Background(), []Root{{Path: root, Local: true}})
	require.NoError(t, err)

	assert.Len(t, result.Extensions, 2)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "broken")

	ids := make(map[string]bool)
	for _, ext := range result.Extensions {
		ids[ext.Manifest.ID] = true
		assert.True(t, ext.Local)
		assert.False(t, ext.ModTime.IsZero())
		assert.DirExists(t, ext.Dir)
	}
	assert.True(t, ids["good-one"])
	assert.True(t, ids["good-two"])
}

func TestDiscoverMissingRootIsSkipped(t *testing.T) {
	result, err := Discover(context.Background(), []Root{{Path: filepath.Join(t.TempDir(), "does-not-exist")}})
	require.NoError(t, err)
	assert.Empty(t, result.Extensions)
	assert.Empty(t, result.Warnings)
}

func TestDiscoverHonorsCancellation(t *testing.T) {
	root := t.TempDir()
	writeExtension(t, root, "good-one", validManifest("good-one"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Discover(ctx, []Root{{Path: root}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDiscoverOne(t *testing.T) {
	root := t.TempDir()
	dir := writeExtension(t, root, "good-one", validManifest("good-one"))

	ext, err := DiscoverOne(context.Background(), dir, true)
	require.NoError(t, err)
	assert.Equal(t, "good-one", ext.Manifest.ID)

	broken := writeExtension(t, root, "broken", "{{{")
	_, err = DiscoverOne(context.Background(), broken, true)
	assert.Error(t, err)
}

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "extensions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecord(id string) *Record {
	return &Record{
		ID:           id,
		Name:         "Sample",
		Version:      "1.0.0",
		Type:         "plugin",
		Author:       "test",
		Main:         "entry.lua",
		Dependencies: []string{"forum-core@^1.0.0"},
		Permissions:  []string{"posts:read"},
		Tags:         []string{"widgets"},
		InstallPath:  "/srv/extensions/" + id,
		FileSize:     1234,
		Checksum:     "abc",
		Status:       StatusInstalled,
		InstalledAt:  time.Now().UTC().Truncate(time.Millisecond),
		UploadedBy:   "user-1",
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := sampleRecord("forum-polls")
	require.NoError(t, s.Put(ctx, rec))

	got, err := s.Get(ctx, "forum-polls")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Version, got.Version)
	assert.Equal(t, rec.Dependencies, got.Dependencies)
	assert.Equal(t, rec.Permissions, got.Permissions)
	assert.Equal(t, StatusInstalled, got.Status)
	assert.Equal(t, rec.InstalledAt, got.InstalledAt)
	assert.True(t, got.EnabledAt.IsZero())
}

func TestGetNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, sampleRecord("a")))

	require.NoError(t, s.SetStatus(ctx, "a", StatusEnabled, ""))
	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, StatusEnabled, got.Status)
	assert.False(t, got.EnabledAt.IsZero())
	assert.EqualValues(t, 1, got.UseCount)

	require.NoError(t, s.SetStatus(ctx, "a", StatusError, "entry failed"))
	got, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)
	assert.Equal(t, "entry failed", got.LastError)

	err = s.SetStatus(ctx, "missing", StatusDisabled, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateMetadata(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, sampleRecord("a")))
	require.NoError(t, s.SetStatus(ctx, "a", StatusEnabled, ""))

	rec := sampleRecord("a")
	rec.Name = "Renamed"
	rec.Version = "1.0.1"
	rec.Tags = []string{"renamed"}
	require.NoError(t, s.UpdateMetadata(ctx, rec))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, "1.0.1", got.Version)
	assert.Equal(t, []string{"renamed"}, got.Tags)
	// Lifecycle state is untouched.
	assert.Equal(t, StatusEnabled, got.Status)
}

func TestListAndDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, sampleRecord("b")))
	require.NoError(t, s.Put(ctx, sampleRecord("a")))

	recs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].ID)
	assert.Equal(t, "b", recs[1].ID)

	require.NoError(t, s.Delete(ctx, "a"))
	recs, err = s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	// Deleting a missing record is a no-op.
	assert.NoError(t, s.Delete(ctx, "a"))
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}

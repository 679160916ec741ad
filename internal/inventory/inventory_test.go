package inventory

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"
)

func TestList_FiltersAndSortsNewestFirst(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	write := func(name string, size int, age time.Duration) {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, make([]byte, size), 0o644))
		ts := now.Add(-age)
		require.NoError(t, os.Chtimes(p, ts, ts))
	}
	write("old.mcap", 10, 3*time.Hour)
	write("new.mcap", 20, time.Minute)
	write("mid.mcap", 30, time.Hour)
	write("notes.txt", 5, 0)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dir.mcap"), 0o755))

	listing, err := List(dir, "")
	require.NoError(t, err)

	assert.Equal(t, dir, listing.Dir)
	assert.Equal(t, 3, listing.Count)
	require.Len(t, listing.Files, 3)
	assert.Equal(t, "new.mcap", listing.Files[0].Name)
	assert.Equal(t, "mid.mcap", listing.Files[1].Name)
	assert.Equal(t, "old.mcap", listing.Files[2].Name)
	assert.Equal(t, int64(20), listing.Files[0].Size)
	assert.Equal(t, int64(60), listing.TotalSize())
	assert.False(t, listing.Files[0].CreatedAt.IsZero())
}

func TestList_FollowsSymlinksInsideBase(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "recordings")
	archive := filepath.Join(dir, "archive")
	require.NoError(t, os.MkdirAll(archive, 0o755))

	ts := time.Now().Add(-2 * time.Hour)
	target := filepath.Join(archive, "run1.mcap")
	require.NoError(t, os.WriteFile(target, make([]byte, 42), 0o644))
	require.NoError(t, os.Chtimes(target, ts, ts))

	outside := filepath.Join(root, "outside.mcap")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o644))

	require.NoError(t, os.Symlink(target, filepath.Join(dir, "run1.mcap")))
	require.NoError(t, os.Symlink("archive/run1.mcap", filepath.Join(dir, "relative.mcap")))
	require.NoError(t, os.Symlink(outside, filepath.Join(dir, "escape.mcap")))
	require.NoError(t, os.Symlink(archive, filepath.Join(dir, "folder.mcap")))
	require.NoError(t, os.Symlink(filepath.Join(dir, "gone.mcap"), filepath.Join(dir, "dangling.mcap")))

	listing, err := List(dir, ".mcap")
	require.NoError(t, err)

	names := make([]string, 0, len(listing.Files))
	for _, f := range listing.Files {
		names = append(names, f.Name)
		assert.Equal(t, int64(42), f.Size, f.Name)
		assert.WithinDuration(t, ts, f.ModifiedAt, time.Second, f.Name)
	}
	assert.ElementsMatch(t, []string{"run1.mcap", "relative.mcap"}, names)
}

func TestList_MissingDirectory(t *testing.T) {
	_, err := List(filepath.Join(t.TempDir(), "missing"), ".mcap")
	assert.ErrorIs(t, err, ErrDirMissing)
}

func TestList_EmptyDirectory(t *testing.T) {
	listing, err := List(t.TempDir(), ".mcap")
	require.NoError(t, err)
	assert.Equal(t, 0, listing.Count)
	assert.NotNil(t, listing.Files)
}

func TestChecksum(t *testing.T) {
	p := filepath.Join(t.TempDir(), "a.mcap")
	require.NoError(t, os.WriteFile(p, []byte("hello"), 0o644))

	got, err := Checksum(p)
	require.NoError(t, err)

	want := blake3.Sum256([]byte("hello"))
	assert.Equal(t, hex.EncodeToString(want[:]), got)

	_, err = Checksum(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

package recovery

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveName(t *testing.T) {
	at := time.Date(2025, 3, 9, 7, 5, 2, 999, time.UTC)
	assert.Equal(t, "recovered_2025-03-09_07-05-02.zip", ArchiveName(DefaultArchivePrefix, at))
}

func TestBuildArchive_FlatDeflatedEntries(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "output")
	require.NoError(t, os.Mkdir(outDir, 0o755))

	a := filepath.Join(outDir, "a-recovered.mcap")
	b := filepath.Join(outDir, "b-recovered.mcap")
	require.NoError(t, os.WriteFile(a, bytes.Repeat([]byte("a"), 4096), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("bbb"), 0o644))

	arc, err := BuildArchive(dir, "recovered_x.zip", []string{a, b})
	require.NoError(t, err)
	assert.Equal(t, "recovered_x.zip", arc.Name)
	assert.Equal(t, []string{"a-recovered.mcap", "b-recovered.mcap"}, arc.Entries)

	onDisk, err := os.ReadFile(filepath.Join(dir, "recovered_x.zip"))
	require.NoError(t, err)
	assert.Equal(t, onDisk, arc.Data)

	zr, err := zip.NewReader(bytes.NewReader(arc.Data), int64(len(arc.Data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	for _, zf := range zr.File {
		assert.Equal(t, zip.Deflate, zf.Method)
		assert.NotContains(t, zf.Name, "/")
	}

	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Len(t, body, 4096)
}

func TestBuildArchive_RequiresInput(t *testing.T) {
	_, err := BuildArchive(t.TempDir(), "x.zip", nil)
	assert.Error(t, err)
}

func TestBuildArchive_MissingOutput(t *testing.T) {
	dir := t.TempDir()
	_, err := BuildArchive(dir, "x.zip", []string{filepath.Join(dir, "gone.mcap")})
	assert.Error(t, err)
}

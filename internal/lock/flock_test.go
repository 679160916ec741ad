package lock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireWritesPID(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "run", "mcap-offload.lock")
	l, err := TryAcquire(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Release() })

	pid, ok := Holder(path)
	require.True(t, ok)
	assert.Equal(t, os.Getpid(), pid)
	assert.Equal(t, path, l.Path())
}

func TestTryAcquireFailsWhileHeld(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sync.lock")
	first, err := TryAcquire(path)
	require.NoError(t, err)

	_, err = TryAcquire(path)
	require.ErrorIs(t, err, ErrLocked)
	assert.Contains(t, err.Error(), "pid")

	require.NoError(t, first.Release())
	second, err := TryAcquire(path)
	require.NoError(t, err)
	assert.NoError(t, second.Release())
}

func TestReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	l, err := TryAcquire(filepath.Join(t.TempDir(), "x.lock"))
	require.NoError(t, err)
	assert.NoError(t, l.Release())
	assert.NoError(t, l.Release())

	var nilLock *FileLock
	assert.NoError(t, nilLock.Release())
}

func TestTryAcquireRejectsEmptyPath(t *testing.T) {
	_, err := TryAcquire(" ")
	assert.Error(t, err)
}

func TestHolderWithoutFile(t *testing.T) {
	_, ok := Holder(filepath.Join(t.TempDir(), "missing.lock"))
	assert.False(t, ok)
}

func TestProbe(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "mcap-offload.lock")
	_, held, err := Probe(path)
	require.NoError(t, err)
	assert.False(t, held, "missing file")

	l, err := TryAcquire(path)
	require.NoError(t, err)

	pid, held, err := Probe(path)
	require.NoError(t, err)
	assert.True(t, held)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, l.Release())
	_, held, err = Probe(path)
	require.NoError(t, err)
	assert.False(t, held, "released lock with stale pid file")

	again, err := TryAcquire(path)
	require.NoError(t, err, "probe must not leave the lock held")
	require.NoError(t, again.Release())
}

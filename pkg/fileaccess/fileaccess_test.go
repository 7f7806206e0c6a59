package fileaccess

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_ExclusiveBlocksUntilTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.yaml")
	ctx := context.Background()

	held, err := Acquire(ctx, path, Exclusive, time.Second)
	require.NoError(t, err)
	defer held.Release()

	start := time.Now()
	_, err = Acquire(ctx, path, Exclusive, 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	_, err = Acquire(ctx, path, Shared, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockTimeout, "shared lock must wait for the exclusive holder")
}

func TestAcquire_SharedLocksCoexist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0o644))
	ctx := context.Background()

	a, err := Acquire(ctx, path, Shared, time.Second)
	require.NoError(t, err)
	defer a.Release()

	b, err := Acquire(ctx, path, Shared, 100*time.Millisecond)
	require.NoError(t, err)
	defer b.Release()
	assert.Equal(t, path, b.Path())
	assert.Equal(t, Shared, b.Mode())

	data, err := b.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "version: 1\n", string(data))
}

func TestAcquire_ReleasedLockCanBeRetaken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.yaml")
	ctx := context.Background()

	h, err := Acquire(ctx, path, Exclusive, time.Second)
	require.NoError(t, err)
	require.NoError(t, h.Release())
	require.NoError(t, h.Release(), "release must be idempotent")

	h2, err := Acquire(ctx, path, Exclusive, 100*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, h2.Release())
}

func TestAcquire_ContextCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.yaml")

	held, err := Acquire(context.Background(), path, Exclusive, time.Second)
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Acquire(ctx, path, Exclusive, 10*time.Second)
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestAcquire_SharedOnMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "kb.yaml")
	_, err := Acquire(context.Background(), path, Shared, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAcquire_ExclusiveCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "kb.yaml")
	h, err := Acquire(context.Background(), path, Exclusive, time.Second)
	require.NoError(t, err)
	defer h.Release()

	assert.DirExists(t, filepath.Dir(path))
	assert.FileExists(t, LockPath(path))
}

func TestAcquire_MutualExclusion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter")
	require.NoError(t, os.WriteFile(path, []byte{0}, 0o644))

	var inside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := Acquire(context.Background(), path, Exclusive, 5*time.Second)
			if !assert.NoError(t, err) {
				return
			}
			defer h.Release()

			assert.Equal(t, int32(1), atomic.AddInt32(&inside, 1), "two exclusive holders at once")
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()
}

func TestReadAll_NotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.yaml")
	h, err := Acquire(context.Background(), path, Exclusive, time.Second)
	require.NoError(t, err)
	defer h.Release()

	_, err = h.ReadAll()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kb.yaml")

	require.NoError(t, AtomicReplace(path, []byte("first")))
	require.NoError(t, os.Chmod(path, 0o600))
	require.NoError(t, AtomicReplace(path, []byte("second")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), "existing mode must be preserved")

	assertNoTempFiles(t, dir)
}

func TestAtomicReplace_CrashBeforeRenameKeepsOriginal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kb.yaml")
	original := []byte("version: 1\nfavorite_authors: {}\n")
	require.NoError(t, os.WriteFile(path, original, 0o644))

	var seenTemp string
	prev := beforeRename
	beforeRename = func(tmpPath string) error {
		seenTemp = tmpPath
		written, err := os.ReadFile(tmpPath)
		require.NoError(t, err)
		assert.Equal(t, "replacement", string(written), "temp file must be complete before rename")
		return errors.New("simulated crash")
	}
	t.Cleanup(func() { beforeRename = prev })

	err := AtomicReplace(path, []byte("replacement"))
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, data, "original must be byte-for-byte unchanged")
	assert.NotEmpty(t, seenTemp)
	assert.NoFileExists(t, seenTemp)
}

func TestEnsureDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureDir(path))
	assert.DirExists(t, path)
	assert.ErrorIs(t, EnsureDir(path), ErrAlreadyExists)
}

func TestCreateExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.yaml")
	require.NoError(t, CreateExclusive(path, []byte("doc_id: x\n")))
	assert.ErrorIs(t, CreateExclusive(path, []byte("other")), ErrAlreadyExists)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "doc_id: x\n", string(data))
}

func TestRenameNoReplace(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "staging")
	dst := filepath.Join(dir, "final")
	require.NoError(t, os.Mkdir(src, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(src, "f"), []byte("1"), 0o644))

	require.NoError(t, RenameNoReplace(src, dst))
	assert.FileExists(t, filepath.Join(dst, "f"))

	other := filepath.Join(dir, "other")
	require.NoError(t, os.Mkdir(other, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(other, "g"), []byte("2"), 0o644))
	assert.ErrorIs(t, RenameNoReplace(other, dst), ErrAlreadyExists)
	assert.NoFileExists(t, filepath.Join(dst, "g"))
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandPath("~/AI_KB/curated_sources.yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "AI_KB", "curated_sources.yaml"), got)

	got, err = ExpandPath("/tmp/a/../b")
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean("/tmp/b"), got)

	_, err = ExpandPath("  ")
	assert.Error(t, err)
}

func TestWithin(t *testing.T) {
	tests := []struct {
		base, target string
		want         bool
	}{
		{"/kb/bookmarks", "/kb/bookmarks", true},
		{"/kb/bookmarks", "/kb/bookmarks/2024-01-01_post", true},
		{"/kb/bookmarks", "/kb/bookmarks-evil/x", false},
		{"/kb/bookmarks", "/kb/bookmarks/../secrets", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Within(tt.base, tt.target), "%s in %s", tt.target, tt.base)
	}
}

func TestExistsAndIsDir(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "occupied")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o750))

	tests := []struct {
		name          string
		path          string
		exists, isDir bool
	}{
		{"missing", filepath.Join(dir, "nope"), false, false},
		{"directory", sub, true, true},
		{"regular file", file, true, false},
		{"below a regular file", filepath.Join(file, "meta.yaml"), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := Exists(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.exists, ok)

			ok, err = IsDir(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.isDir, ok)
		})
	}
}

func TestProbe(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kb.yaml")

	r := Probe(path)
	assert.True(t, r.DirectoryExists)
	assert.False(t, r.FileExists)
	assert.True(t, r.Writable)
	assert.True(t, r.OK())

	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0o644))
	r = Probe(path)
	assert.True(t, r.FileExists)
	assert.True(t, r.Readable)
	assert.True(t, r.Writable)

	r = Probe(filepath.Join(dir, "missing", "kb.yaml"))
	assert.False(t, r.DirectoryExists)
	assert.False(t, r.OK())
	assert.Len(t, r.Errors, 1)
	assertNoTempFiles(t, dir)
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, ".*tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
	probes, err := filepath.Glob(filepath.Join(dir, ".kb-host-probe-*"))
	require.NoError(t, err)
	assert.Empty(t, probes)
}

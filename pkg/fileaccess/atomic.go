package fileaccess

import (
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
)

// beforeRename runs after the temp file is durable and before it replaces the
// target. Tests swap it to simulate a crash at that point.
var beforeRename = func(tmpPath string) error { return nil }

// AtomicReplace writes data to a temporary sibling of path, fsyncs it and
// renames it over path. Readers observe either the old or the new content,
// never a partial write. The existing file mode is preserved.
func AtomicReplace(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return classifyWrite(err, dir)
	}

	perm := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return classifyWrite(err, dir)
	}
	tmpPath := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath) // best-effort cleanup
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return classifyWrite(err, tmpPath)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return goerr.Wrap(err, "fsync failed", goerr.V("path", tmpPath))
	}
	if err := tmp.Close(); err != nil {
		return goerr.Wrap(err, "failed to close temp file", goerr.V("path", tmpPath))
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return classifyWrite(err, tmpPath)
	}

	if err := beforeRename(tmpPath); err != nil {
		return goerr.Wrap(err, "replace interrupted before rename", goerr.V("path", path))
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return classifyWrite(err, path)
	}
	committed = true

	syncDir(dir)
	return nil
}

// syncDir flushes the directory entry of a completed rename. Not every
// platform supports syncing directories, so failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

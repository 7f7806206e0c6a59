package fileaccess

import (
	"os"

	"github.com/m-mizutani/goerr/v2"
)

// EnsureDir creates the directory at path, failing with ErrAlreadyExists if
// anything already occupies it. Parent directories are created as needed.
func EnsureDir(path string) error {
	if err := os.MkdirAll(parentOf(path), 0o750); err != nil {
		return classifyWrite(err, path)
	}
	if err := os.Mkdir(path, 0o750); err != nil {
		return classifyWrite(err, path)
	}
	return nil
}

// MkdirAll creates path and any missing parents. An existing directory is
// not an error.
func MkdirAll(path string) error {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return classifyWrite(err, path)
	}
	return nil
}

// CreateExclusive creates a new file holding data, failing with
// ErrAlreadyExists if the file is already present.
func CreateExclusive(path string, data []byte) error {
	// #nosec G304 - path is built from a validated slug under the base directory
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return classifyWrite(err, path)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return classifyWrite(err, path)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return goerr.Wrap(err, "fsync failed", goerr.V("path", path))
	}
	if err := f.Close(); err != nil {
		return goerr.Wrap(err, "failed to close file", goerr.V("path", path))
	}
	return nil
}

// RenameNoReplace moves src to dst, failing with ErrAlreadyExists when dst is
// already present.
func RenameNoReplace(src, dst string) error {
	if err := renameNoReplace(src, dst); err != nil {
		return classifyWrite(err, dst)
	}
	syncDir(parentOf(dst))
	return nil
}

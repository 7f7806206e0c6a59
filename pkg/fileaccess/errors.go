// Package fileaccess provides the locked, atomic filesystem primitives shared
// by every invocation of the host: advisory locks with a bounded wait,
// whole-file atomic replacement and exclusive creation.
package fileaccess

import (
	"errors"
	"io/fs"
	"syscall"

	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrNotFound      = goerr.New("path not found")
	ErrNotReadable   = goerr.New("path not readable")
	ErrNotWritable   = goerr.New("path not writable")
	ErrLockTimeout   = goerr.New("timed out waiting for lock")
	ErrAlreadyExists = goerr.New("path already exists")
)

// classifyRead maps an OS error from a read path onto the package taxonomy.
func classifyRead(err error, path string) error {
	switch {
	case isMissing(err):
		return goerr.Wrap(ErrNotFound, err.Error(), goerr.V("path", path))
	case errors.Is(err, fs.ErrPermission):
		return goerr.Wrap(ErrNotReadable, err.Error(), goerr.V("path", path))
	default:
		return goerr.Wrap(err, "read failed", goerr.V("path", path))
	}
}

// classifyWrite maps an OS error from a write path onto the package taxonomy.
func classifyWrite(err error, path string) error {
	switch {
	case isExists(err):
		return goerr.Wrap(ErrAlreadyExists, err.Error(), goerr.V("path", path))
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EROFS):
		return goerr.Wrap(ErrNotWritable, err.Error(), goerr.V("path", path))
	case errors.Is(err, fs.ErrNotExist):
		return goerr.Wrap(ErrNotFound, err.Error(), goerr.V("path", path))
	default:
		return goerr.Wrap(err, "write failed", goerr.V("path", path))
	}
}

// isMissing reports whether err means nothing can be found at the path. A
// regular file standing in for a parent directory reports ENOTDIR.
func isMissing(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}

// isExists reports whether err means the destination is already taken.
// Renaming a directory onto a non-empty directory reports ENOTEMPTY.
func isExists(err error) bool {
	return errors.Is(err, fs.ErrExist) || errors.Is(err, syscall.ENOTEMPTY)
}

package fileaccess

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Mode selects shared (read) or exclusive (write) access.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "shared"
}

const (
	// DefaultLockTimeout bounds how long an invocation waits for a lock.
	DefaultLockTimeout = 5 * time.Second

	pollInterval = 20 * time.Millisecond
)

// Handle is a held lock on a path. The lock lives on a sibling "<path>.lock"
// file because the data file itself is swapped out by AtomicReplace.
type Handle struct {
	path     string
	mode     Mode
	lockFile *os.File
	once     sync.Once
}

// LockPath returns the lock file used for path.
func LockPath(path string) string {
	return path + ".lock"
}

// Acquire blocks until the requested lock on path is held, ctx is done, or
// timeout elapses. A zero timeout means DefaultLockTimeout.
func Acquire(ctx context.Context, path string, mode Mode, timeout time.Duration) (*Handle, error) {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}

	f, err := openLockFile(path, mode)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	for {
		ok, err := tryLock(f, mode)
		if err != nil {
			_ = f.Close()
			return nil, goerr.Wrap(err, "lock failed", goerr.V("path", path), goerr.V("mode", mode.String()))
		}
		if ok {
			return &Handle{path: path, mode: mode, lockFile: f}, nil
		}

		if !time.Now().Before(deadline) {
			_ = f.Close()
			return nil, goerr.Wrap(ErrLockTimeout, "lock not obtained in time",
				goerr.V("path", path), goerr.V("mode", mode.String()), goerr.V("timeout", timeout.String()))
		}

		select {
		case <-ctx.Done():
			_ = f.Close()
			return nil, goerr.Wrap(ErrLockTimeout, "lock wait abandoned",
				goerr.V("path", path), goerr.V("cause", ctx.Err().Error()))
		case <-time.After(pollInterval):
		}
	}
}

func openLockFile(path string, mode Mode) (*os.File, error) {
	lockPath := LockPath(path)
	dir := filepath.Dir(path)

	if mode == Exclusive {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, classifyWrite(err, dir)
		}
	}

	// #nosec G304 - lock path is derived from a caller supplied document path
	f, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0o600)
	if err == nil {
		return f, nil
	}

	if mode == Shared {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, goerr.Wrap(ErrNotFound, "directory does not exist", goerr.V("path", dir))
		}
		// Read-only directories still allow shared locking through an existing lock file.
		if errors.Is(err, fs.ErrPermission) {
			if ro, roErr := os.Open(lockPath); roErr == nil {
				return ro, nil
			}
			return nil, goerr.Wrap(ErrNotReadable, err.Error(), goerr.V("path", lockPath))
		}
		return nil, classifyRead(err, lockPath)
	}
	return nil, classifyWrite(err, lockPath)
}

// Path returns the data path the handle guards.
func (h *Handle) Path() string {
	return h.path
}

// Mode returns the lock mode held.
func (h *Handle) Mode() Mode {
	return h.mode
}

// ReadAll returns the full content of the guarded file.
func (h *Handle) ReadAll() ([]byte, error) {
	// #nosec G304 - path is the guarded document path
	data, err := os.ReadFile(h.path)
	if err != nil {
		return nil, classifyRead(err, h.path)
	}
	return data, nil
}

// Release drops the lock. Safe to call multiple times.
func (h *Handle) Release() error {
	var err error
	h.once.Do(func() {
		if unlockErr := unlock(h.lockFile); unlockErr != nil {
			err = goerr.Wrap(unlockErr, "unlock failed", goerr.V("path", h.path))
		}
		if closeErr := h.lockFile.Close(); closeErr != nil && err == nil {
			err = goerr.Wrap(closeErr, "failed to close lock file", goerr.V("path", h.path))
		}
	})
	return err
}

package fileaccess

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// ExpandPath resolves a leading "~" to the home directory and returns a
// cleaned absolute path.
func ExpandPath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", goerr.New("path cannot be empty")
	}

	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", goerr.Wrap(err, "failed to expand ~")
		}
		p = filepath.Join(home, p[1:])
	}

	abs, err := filepath.Abs(filepath.Clean(p))
	if err != nil {
		return "", goerr.Wrap(err, "failed to resolve path", goerr.V("path", p))
	}
	return abs, nil
}

// Within reports whether target is base itself or lies below it. Both paths
// are cleaned; symlinks are not resolved.
func Within(base, target string) bool {
	base = filepath.Clean(base)
	target = filepath.Clean(target)
	if target == base {
		return true
	}
	return strings.HasPrefix(target+string(filepath.Separator), base+string(filepath.Separator))
}

// Exists reports whether anything is present at path without following a
// final symlink.
func Exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if isMissing(err) {
		return false, nil
	}
	return false, classifyRead(err, path)
}

// IsDir reports whether path is a directory, without following a final
// symlink. A missing path is not an error.
func IsDir(path string) (bool, error) {
	fi, err := os.Lstat(path)
	if err == nil {
		return fi.IsDir(), nil
	}
	if isMissing(err) {
		return false, nil
	}
	return false, classifyRead(err, path)
}

func parentOf(path string) string {
	return filepath.Dir(filepath.Clean(path))
}

func renameChecked(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return os.ErrExist
	}
	return os.Rename(src, dst)
}

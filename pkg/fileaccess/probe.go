package fileaccess

import (
	"fmt"
	"os"
	"path/filepath"
)

// Report describes what an invocation can do with a document path.
type Report struct {
	FileExists      bool
	DirectoryExists bool
	Readable        bool
	Writable        bool
	Errors          []string
}

// OK reports whether the probe found no problems.
func (r Report) OK() bool {
	return len(r.Errors) == 0
}

// Probe checks existence, readability and writability of path and its
// directory by actually opening them. Nothing at path is modified.
func Probe(path string) Report {
	var r Report
	dir := filepath.Dir(path)

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		r.Errors = append(r.Errors, fmt.Sprintf("Directory does not exist: %s", dir))
	} else {
		r.DirectoryExists = true
		if dirWritable(dir) {
			r.Writable = true
		} else {
			r.Errors = append(r.Errors, fmt.Sprintf("Cannot write to directory: %s", dir))
		}
	}

	if _, err := os.Stat(path); err != nil {
		return r
	}
	r.FileExists = true

	// #nosec G304 - probing the caller supplied document path
	if f, err := os.Open(path); err == nil {
		r.Readable = true
		_ = f.Close()
	} else {
		r.Errors = append(r.Errors, fmt.Sprintf("Cannot read file: %s", path))
	}

	// #nosec G304 - opened without truncation, closed immediately
	if f, err := os.OpenFile(path, os.O_WRONLY, 0); err == nil {
		r.Writable = true
		_ = f.Close()
	} else {
		r.Writable = false
		r.Errors = append(r.Errors, fmt.Sprintf("Cannot write to file: %s", path))
	}
	return r
}

func dirWritable(dir string) bool {
	f, err := os.CreateTemp(dir, ".kb-host-probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}

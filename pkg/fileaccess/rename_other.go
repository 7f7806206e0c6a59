//go:build !linux

package fileaccess

func renameNoReplace(src, dst string) error {
	return renameChecked(src, dst)
}

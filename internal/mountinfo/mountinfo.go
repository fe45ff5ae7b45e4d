// Package mountinfo reports whether a path is a mount point.
package mountinfo

import (
	"path/filepath"

	"SecureUSB/internal/errors"

	"golang.org/x/sys/unix"
)

// Probe answers mount point queries by comparing device numbers.
type Probe struct{}

// IsMounted reports whether path is a mount point: its st_dev differs from
// its parent's, or it is the root directory. A missing path is not mounted.
func (Probe) IsMounted(path string) (bool, error) {
	return IsMounted(path)
}

// IsMounted is the package-level form of Probe.IsMounted.
func IsMounted(path string) (bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, errors.NewFileError("stat", path, err)
	}
	if abs == "/" {
		return true, nil
	}

	var st unix.Stat_t
	if err := unix.Stat(abs, &st); err != nil {
		if err == unix.ENOENT || err == unix.ENOTDIR {
			return false, nil
		}
		return false, errors.NewFileError("stat", abs, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		return false, nil
	}

	var parent unix.Stat_t
	if err := unix.Stat(filepath.Dir(abs), &parent); err != nil {
		return false, errors.NewFileError("stat", filepath.Dir(abs), err)
	}
	return st.Dev != parent.Dev, nil
}

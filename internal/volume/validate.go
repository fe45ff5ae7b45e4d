package volume

import (
	"path/filepath"
	"strings"

	"SecureUSB/internal/errors"
)

// Validate checks that the Config names a device and uses safe identifiers.
// Returns nil if valid, or an input error describing the first problem.
func (c Config) Validate() error {
	c = c.withDefaults()

	if c.Device == "" {
		return errors.Input("device is required")
	}
	if filepath.Clean(c.Device) != c.Device {
		return errors.Input("device path must be clean")
	}

	// The mapped name becomes a path under /dev/mapper
	if strings.ContainsAny(c.MappedName, "/ \t\n") || c.MappedName == "." || c.MappedName == ".." ||
		strings.HasPrefix(c.MappedName, "-") {
		return errors.Input("mapped name must be a single path element")
	}

	if !filepath.IsAbs(c.MountPath) {
		return errors.Input("mount path must be absolute")
	}
	if filepath.Clean(c.MountPath) == "/" {
		return errors.Input("mount path cannot be the root directory")
	}

	if strings.ContainsAny(c.FSType, ", \t\n") || strings.HasPrefix(c.FSType, "-") {
		return errors.Input("filesystem type must be a single name")
	}

	return nil
}

package envelope

import (
	"strings"

	"SecureUSB/internal/errors"
)

const (
	namePrefix = "."
	nameSuffix = ".enc"
)

// Name returns the on-volume file name for an original file name:
// "photo.jpg" becomes ".photo.jpg.enc".
func Name(original string) (string, error) {
	if err := validateName(original); err != nil {
		return "", err
	}
	return namePrefix + original + nameSuffix, nil
}

// OriginalName reverses Name. It fails with ErrInvalidName when stored is not
// an envelope name.
func OriginalName(stored string) (string, error) {
	if !IsName(stored) {
		return "", errors.ErrInvalidName
	}
	original := strings.TrimSuffix(strings.TrimPrefix(stored, namePrefix), nameSuffix)
	if err := validateName(original); err != nil {
		return "", err
	}
	return original, nil
}

// IsName reports whether a file name has the envelope form.
func IsName(stored string) bool {
	return len(stored) > len(namePrefix)+len(nameSuffix) &&
		strings.HasPrefix(stored, namePrefix) &&
		strings.HasSuffix(stored, nameSuffix)
}

// Resolve accepts either an original name or an envelope name and returns the
// envelope name.
func Resolve(name string) (string, error) {
	if IsName(name) {
		if _, err := OriginalName(name); err != nil {
			return "", err
		}
		return name, nil
	}
	return Name(name)
}

func validateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return errors.ErrInvalidName
	case strings.ContainsAny(name, "/\\\x00"):
		return errors.ErrInvalidName
	}
	return nil
}

// Package header reads and writes the per-volume envelope header record.
// This is AUDIT-CRITICAL code - changes here directly affect whether
// existing envelopes on a volume can be decrypted.
//
// The record lives at the root of the mounted volume (FileName) and stores the
// parameters that turn a passphrase into the envelope key: a random salt, the
// PBKDF2 iteration count, and a key check value that detects a wrong
// passphrase. Every field is Reed-Solomon encoded.
package header

import (
	"SecureUSB/internal/crypto"
	"SecureUSB/internal/errors"
)

// FileName is the name of the header record at the root of the mount path.
const FileName = ".secureusb"

// CurrentVersion is the version tag written by this package.
const CurrentVersion = "su001"

// Header field sizes (before Reed-Solomon encoding)
const (
	VersionSize    = 5
	IterationsSize = 8 // uint64, big-endian
	SaltSize       = crypto.SaltSize
	KeyCheckSize   = crypto.KeyCheckSize
)

// Header field sizes after Reed-Solomon encoding
const (
	VersionEncSize    = 15 // rs5: 5 -> 15
	IterationsEncSize = 24 // rs8: 8 -> 24
	SaltEncSize       = 48 // rs16: 16 -> 48
	KeyCheckEncSize   = 96 // rs32: 32 -> 96
)

// Size is the encoded header size (183 bytes).
// Formula: 15 + 24 + 48 + 96 = 183
const Size = VersionEncSize + IterationsEncSize + SaltEncSize + KeyCheckEncSize

// VolumeHeader holds the envelope key parameters of one volume.
type VolumeHeader struct {
	Version    string
	Iterations int
	Salt       []byte
	KeyCheck   []byte
}

// New creates a header with a fresh random salt. The key check is empty until
// Seal is called with the derived key.
func New(iterations int) (*VolumeHeader, error) {
	if iterations < crypto.MinIterations {
		return nil, errors.Input("iteration count below minimum")
	}
	salt, err := crypto.NewSalt()
	if err != nil {
		return nil, err
	}
	return &VolumeHeader{
		Version:    CurrentVersion,
		Iterations: iterations,
		Salt:       salt,
	}, nil
}

// DeriveKey derives the envelope key for this volume from a passphrase.
func (h *VolumeHeader) DeriveKey(passphrase []byte) ([]byte, error) {
	return crypto.DeriveKey(passphrase, h.Salt, h.Iterations)
}

// Seal stores the key check value for key.
func (h *VolumeHeader) Seal(key []byte) {
	h.KeyCheck = crypto.KeyCheck(key)
}

// Verify reports whether key matches the stored key check value.
// It fails with ErrAuthentication on mismatch.
func (h *VolumeHeader) Verify(key []byte) error {
	if len(h.KeyCheck) != KeyCheckSize {
		return errors.NewHeaderError("keycheck", errors.ErrCorruptEnvelope)
	}
	if !crypto.VerifyKeyCheck(key, h.KeyCheck) {
		return errors.ErrAuthentication
	}
	return nil
}

// Validate checks field lengths and ranges before a header is written.
func (h *VolumeHeader) Validate() error {
	switch {
	case len(h.Version) != VersionSize:
		return errors.NewHeaderError("version", errors.Input("version tag must be 5 bytes"))
	case h.Iterations < 1:
		return errors.NewHeaderError("iterations", errors.Input("iteration count must be positive"))
	case len(h.Salt) != SaltSize:
		return errors.NewHeaderError("salt", errors.Input("salt must be 16 bytes"))
	case len(h.KeyCheck) != KeyCheckSize:
		return errors.NewHeaderError("keycheck", errors.Input("header is not sealed"))
	}
	return nil
}

// Package crypto provides the key derivation and key hygiene primitives used by
// the envelope codec and the volume header.
// This is AUDIT-CRITICAL code - changes here decide whether existing envelopes
// can still be decrypted.
package crypto

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"SecureUSB/internal/errors"

	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2 parameters
const (
	// DefaultIterations is the iteration count written into new volume headers.
	DefaultIterations = 100000

	// MinIterations rejects configurations that would make brute force cheap.
	MinIterations = 1000

	// KeySize is the derived key length (AES-256).
	KeySize = 32

	// SaltSize is the length of a per-volume salt.
	SaltSize = 16
)

// ErrKeyClosed is returned when a closed KeyMaterial is used.
var ErrKeyClosed = errors.New("key material already closed")

// RandomBytes generates n cryptographically secure random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, errors.NewCryptoError("rand", err)
	}

	// Sanity check: bytes should not be all zeros
	if n > 0 && bytes.Equal(b, make([]byte, n)) {
		return nil, errors.NewCryptoError("rand", errors.ErrRandFailure)
	}

	return b, nil
}

// NewSalt returns a fresh random salt for a protected volume.
func NewSalt() ([]byte, error) {
	return RandomBytes(SaltSize)
}

// DeriveKey derives a 32-byte key from password and salt using
// PBKDF2-HMAC-SHA256. Equal inputs always yield the same key.
//
// CRITICAL: The hash and key length MUST NOT change or existing envelopes
// cannot be decrypted. The iteration count is stored per volume.
func DeriveKey(password, salt []byte, iterations int) ([]byte, error) {
	if len(password) == 0 {
		return nil, errors.ErrPasswordEmpty
	}
	if len(salt) == 0 {
		return nil, errors.Input("salt cannot be empty")
	}
	if iterations < 1 {
		return nil, errors.Input(fmt.Sprintf("iteration count %d must be positive", iterations))
	}

	key := pbkdf2.Key(password, salt, iterations, KeySize, sha256.New)

	// Sanity check: key should not be all zeros
	if bytes.Equal(key, make([]byte, KeySize)) {
		return nil, errors.NewCryptoError("pbkdf2", errors.New("produced zero key"))
	}

	return key, nil
}

// Package secret obtains passphrases and keeps them sealed in memory between
// uses.
package secret

import (
	"crypto/subtle"
	"sync"

	"SecureUSB/internal/errors"

	"github.com/awnumar/memguard"
)

// Secret holds passphrase bytes in an encrypted memguard enclave. The
// plaintext exists only inside a Use callback, in locked memory that is wiped
// afterwards.
type Secret struct {
	mu      sync.Mutex
	enclave *memguard.Enclave
}

// New seals b into a Secret and wipes b. An empty b is an input error.
func New(b []byte) (*Secret, error) {
	if len(b) == 0 {
		return nil, errors.ErrPasswordEmpty
	}
	return &Secret{enclave: memguard.NewEnclave(b)}, nil
}

// Use opens the secret for the duration of fn. fn must not retain the slice.
func (s *Secret) Use(fn func(b []byte) error) error {
	s.mu.Lock()
	enclave := s.enclave
	s.mu.Unlock()
	if enclave == nil {
		return errors.Wrap(errors.ErrInput, "secret destroyed")
	}

	buf, err := enclave.Open()
	if err != nil {
		return errors.NewCryptoError("unseal", err)
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

// Equal reports whether two secrets hold the same bytes.
func (s *Secret) Equal(other *Secret) bool {
	equal := false
	_ = s.Use(func(a []byte) error {
		return other.Use(func(b []byte) error {
			equal = subtle.ConstantTimeCompare(a, b) == 1
			return nil
		})
	})
	return equal
}

// Size returns the length of the sealed secret, or 0 once destroyed.
func (s *Secret) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enclave == nil {
		return 0
	}
	return s.enclave.Size()
}

// Destroy drops the enclave. Further Use calls fail.
func (s *Secret) Destroy() {
	s.mu.Lock()
	s.enclave = nil
	s.mu.Unlock()
}

// Purge wipes every sealed secret and the session key protecting them.
// Call it once on exit.
func Purge() {
	memguard.Purge()
}

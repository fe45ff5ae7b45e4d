// This file contains memory zeroing utilities for derived keys and passphrase
// copies.

package crypto

import (
	"crypto/subtle"
	"sync"
)

// SecureZero overwrites a byte slice with zeros.
//
// Go's garbage collector may have copied the data elsewhere, so this narrows
// the window during which a key is recoverable from RAM rather than closing it.
// subtle.ConstantTimeCopy keeps the compiler from eliding the write.
func SecureZero(b []byte) {
	if len(b) == 0 {
		return
	}
	zeros := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zeros)
}

// SecureZeroMultiple zeros multiple byte slices in a single call.
func SecureZeroMultiple(slices ...[]byte) {
	for _, s := range slices {
		SecureZero(s)
	}
}

// KeyMaterial owns a derived key and zeroes it on Close.
// It is safe for concurrent use: the vault reads the key from worker
// goroutines while the session may close it.
//
// Example:
//
//	km := NewKeyMaterial(derivedKey)
//	defer km.Close()
//	_ = km.Use(func(key []byte) error { ... })
type KeyMaterial struct {
	mu     sync.RWMutex
	data   []byte
	closed bool
}

// NewKeyMaterial takes a copy of data and zeroes the original.
func NewKeyMaterial(data []byte) *KeyMaterial {
	if data == nil {
		return &KeyMaterial{}
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	SecureZero(data)
	return &KeyMaterial{data: copied}
}

// Use calls fn with the key while holding a read lock. The slice must not be
// retained after fn returns. Returns ErrKeyClosed once Close has run.
func (km *KeyMaterial) Use(fn func(key []byte) error) error {
	km.mu.RLock()
	defer km.mu.RUnlock()
	if km.closed || km.data == nil {
		return ErrKeyClosed
	}
	return fn(km.data)
}

// Len returns the length of the key data.
func (km *KeyMaterial) Len() int {
	km.mu.RLock()
	defer km.mu.RUnlock()
	if km.closed {
		return 0
	}
	return len(km.data)
}

// Close zeroes the key and marks it closed. Multiple calls are safe.
func (km *KeyMaterial) Close() {
	km.mu.Lock()
	defer km.mu.Unlock()
	if km.closed {
		return
	}
	SecureZero(km.data)
	km.data = nil
	km.closed = true
}

// IsClosed returns whether the KeyMaterial has been closed.
func (km *KeyMaterial) IsClosed() bool {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return km.closed
}

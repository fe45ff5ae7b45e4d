// Package envelope implements the per-file encryption format stored on the
// volume.
//
// Layout (byte-exact):
//
//	[16 bytes IV][N bytes AES-256-CBC ciphertext of PKCS#7-padded plaintext]
//
// The format carries no authentication tag. Corruption that happens to leave
// valid padding is not detected, so callers must not treat a successful
// Decrypt as proof of integrity.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"SecureUSB/internal/crypto"
	"SecureUSB/internal/encoding"
	"SecureUSB/internal/errors"
)

// IVSize is the length of the random IV that prefixes every envelope.
const IVSize = aes.BlockSize

// Encrypt seals plaintext under key with a fresh random IV.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	block, err := newCipher(key)
	if err != nil {
		return nil, err
	}

	iv, err := crypto.RandomBytes(IVSize)
	if err != nil {
		return nil, err
	}

	padded := encoding.Pad(plaintext)
	defer crypto.SecureZero(padded)

	out := make([]byte, IVSize+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[IVSize:], padded)
	return out, nil
}

// Decrypt opens an envelope produced by Encrypt.
// Truncated, misaligned or badly padded input fails with ErrCorruptEnvelope.
func Decrypt(envelope, key []byte) ([]byte, error) {
	block, err := newCipher(key)
	if err != nil {
		return nil, err
	}

	if len(envelope) < IVSize {
		return nil, errors.Corrupt(fmt.Sprintf("envelope is %d bytes, shorter than its IV", len(envelope)))
	}
	body := envelope[IVSize:]
	if len(body) == 0 || len(body)%aes.BlockSize != 0 {
		return nil, errors.Corrupt(fmt.Sprintf("ciphertext length %d is not a positive multiple of %d", len(body), aes.BlockSize))
	}

	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, envelope[:IVSize]).CryptBlocks(plain, body)

	out, err := encoding.Unpad(plain)
	if err != nil {
		crypto.SecureZero(plain)
		return nil, err
	}
	return out, nil
}

func newCipher(key []byte) (cipher.Block, error) {
	if len(key) != crypto.KeySize {
		return nil, errors.Input(fmt.Sprintf("key must be %d bytes, got %d", crypto.KeySize, len(key)))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.NewCryptoError("cipher", err)
	}
	return block, nil
}

package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
)

// KeyCheckSize is the length of a key check value.
const KeyCheckSize = sha256.Size

var keyCheckLabel = []byte("secureusb key check v1")

// KeyCheck computes HMAC-SHA256(key, label). The value is stored in the
// volume header so a wrong passphrase is rejected before any envelope is
// touched. It reveals nothing about the key beyond equality.
func KeyCheck(key []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(keyCheckLabel)
	return mac.Sum(nil)
}

// VerifyKeyCheck compares a stored key check value against key in constant time.
func VerifyKeyCheck(key, stored []byte) bool {
	return hmac.Equal(KeyCheck(key), stored)
}

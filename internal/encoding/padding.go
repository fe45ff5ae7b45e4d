package encoding

import (
	"bytes"

	"SecureUSB/internal/errors"
)

// BlockSize is the AES block size used for PKCS#7 padding of envelopes.
const BlockSize = 16

// Pad applies PKCS#7 padding so the result is a multiple of BlockSize.
//
// N bytes of value N are appended, where N is the distance to the next block
// boundary. Data that is already aligned (including empty data) gains a full
// block of 0x10 bytes, so padding is always present and always removable.
//
// Example: 12-byte data -> 16 bytes (4 bytes of value 0x04 appended)
//
// The input slice is never modified; a new slice is returned.
func Pad(data []byte) []byte {
	padLen := BlockSize - len(data)%BlockSize
	out := make([]byte, len(data), len(data)+padLen)
	copy(out, data)
	return append(out, bytes.Repeat([]byte{byte(padLen)}, padLen)...)
}

// Unpad removes PKCS#7 padding and reports malformed input as
// ErrCorruptEnvelope:
//   - length zero or not a multiple of BlockSize
//   - pad value 0 or greater than BlockSize
//   - any pad byte differing from the pad value
//
// The check of the pad bytes does not short-circuit.
func Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%BlockSize != 0 {
		return nil, errors.Corrupt("padded length is not a positive multiple of the block size")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > BlockSize {
		return nil, errors.Corrupt("invalid padding")
	}
	var bad byte
	for _, b := range data[len(data)-padLen:] {
		bad |= b ^ byte(padLen)
	}
	if bad != 0 {
		return nil, errors.Corrupt("invalid padding")
	}
	return data[:len(data)-padLen], nil
}

package encoding

import (
	"bytes"
	"testing"

	"SecureUSB/internal/errors"
)

func TestPadUnpad(t *testing.T) {
	for size := 0; size <= 3*BlockSize; size++ {
		data := make([]byte, size)
		for i := range data {
			data[i] = byte(i % 256)
		}

		padded := Pad(data)

		if len(padded)%BlockSize != 0 {
			t.Errorf("Pad(%d bytes) = %d bytes; want multiple of %d", size, len(padded), BlockSize)
		}
		if len(padded) <= size {
			t.Errorf("Pad(%d bytes) = %d bytes; padding must always be added", size, len(padded))
		}

		unpadded, err := Unpad(padded)
		if err != nil {
			t.Errorf("Unpad(Pad(%d bytes)) error = %v", size, err)
			continue
		}
		if !bytes.Equal(unpadded, data) {
			t.Errorf("Unpad(Pad(%d bytes)) did not recover original data", size)
		}
	}
}

func TestPadAlignedAddsFullBlock(t *testing.T) {
	padded := Pad(make([]byte, BlockSize))
	if len(padded) != 2*BlockSize {
		t.Fatalf("Pad(16 bytes) = %d bytes; want 32", len(padded))
	}
	if !bytes.Equal(padded[BlockSize:], bytes.Repeat([]byte{0x10}, BlockSize)) {
		t.Errorf("last block = %x; want 16 bytes of 0x10", padded[BlockSize:])
	}
}

func TestPadDoesNotAlias(t *testing.T) {
	buf := make([]byte, 12, 64)
	copy(buf, "Hello World!")
	padded := Pad(buf)
	padded[0] = 'J'
	if buf[0] != 'H' {
		t.Error("Pad should not write through to the input slice")
	}
	if tail := buf[:16][12:]; !bytes.Equal(tail, make([]byte, 4)) {
		t.Error("Pad should not write into spare capacity of the input")
	}
}

func TestUnpadInvalid(t *testing.T) {
	valid := Pad([]byte("Hello World!"))

	flipped := append([]byte(nil), valid...)
	flipped[len(flipped)-2] ^= 0x01

	zeroPad := append([]byte(nil), valid...)
	zeroPad[len(zeroPad)-1] = 0

	tooLong := append([]byte(nil), valid...)
	tooLong[len(tooLong)-1] = BlockSize + 1

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", []byte{1, 2, 3}},
		{"unaligned", append(valid, 0x01)},
		{"inconsistent pad bytes", flipped},
		{"zero pad value", zeroPad},
		{"pad value above block size", tooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unpad(tt.data)
			if !errors.Is(err, errors.ErrCorruptEnvelope) {
				t.Errorf("Unpad() error = %v; want ErrCorruptEnvelope", err)
			}
		})
	}
}

package envelope

import (
	"bytes"
	"testing"

	"SecureUSB/internal/crypto"
	"SecureUSB/internal/encoding"
	"SecureUSB/internal/errors"
)

// sealedSize is the envelope size for a plaintext of n bytes.
func sealedSize(n int) int {
	return IVSize + n + (encoding.BlockSize - n%encoding.BlockSize)
}

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := crypto.DeriveKey([]byte("test1234"), []byte("NaCl0001"), crypto.DefaultIterations)
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	return key
}

func TestHelloWorldVector(t *testing.T) {
	key := testKey(t)
	plaintext := []byte("Hello World!")

	env, err := Encrypt(plaintext, key)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if len(env) != IVSize+16 {
		t.Errorf("envelope length = %d; want %d", len(env), IVSize+16)
	}

	got, err := Decrypt(env, key)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if string(got) != "Hello World!" {
		t.Errorf("Decrypt = %q; want %q", got, "Hello World!")
	}
}

func TestRoundTrip(t *testing.T) {
	key := testKey(t)

	for _, size := range []int{0, 1, 15, 16, 17, 1000000} {
		plaintext := make([]byte, size)
		for i := range plaintext {
			plaintext[i] = byte(i*31 + 7)
		}

		env, err := Encrypt(plaintext, key)
		if err != nil {
			t.Fatalf("Encrypt(%d bytes) failed: %v", size, err)
		}
		if len(env) != sealedSize(size) {
			t.Errorf("Encrypt(%d bytes) length = %d; want %d", size, len(env), sealedSize(size))
		}
		if (len(env)-IVSize)%16 != 0 {
			t.Errorf("Encrypt(%d bytes) ciphertext not block aligned", size)
		}

		got, err := Decrypt(env, key)
		if err != nil {
			t.Fatalf("Decrypt(%d bytes) failed: %v", size, err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Errorf("round trip of %d bytes did not match", size)
		}
	}
}

func TestIVUniqueness(t *testing.T) {
	key := testKey(t)
	plaintext := []byte("same input twice")

	a, err := Encrypt(plaintext, key)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encrypt(plaintext, key)
	if err != nil {
		t.Fatal(err)
	}

	if bytes.Equal(a[:IVSize], b[:IVSize]) {
		t.Error("two encryptions share an IV")
	}
	if bytes.Equal(a, b) {
		t.Error("two encryptions produced identical envelopes")
	}
}

func TestDecryptCorrupt(t *testing.T) {
	key := testKey(t)
	valid, err := Encrypt([]byte("Hello World!"), key)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"one byte", []byte{0x01}},
		{"fifteen bytes", make([]byte, 15)},
		{"iv only", valid[:IVSize]},
		{"iv plus one", valid[:IVSize+1]},
		{"iv plus seventeen", append(append([]byte(nil), valid...), 0x00)},
		{"truncated block", valid[:len(valid)-3]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decrypt(tt.data, key)
			if !errors.Is(err, errors.ErrCorruptEnvelope) {
				t.Errorf("Decrypt() error = %v; want ErrCorruptEnvelope", err)
			}
		})
	}
}

func TestDecryptWrongKeyFailsPadding(t *testing.T) {
	key := testKey(t)
	other, err := crypto.DeriveKey([]byte("wrong"), []byte("NaCl0001"), 1000)
	if err != nil {
		t.Fatal(err)
	}

	// A wrong key yields random-looking plaintext. Valid padding by chance
	// is possible (about 1/256), so check over several envelopes.
	failures := 0
	for range 8 {
		env, err := Encrypt([]byte("Hello World!"), key)
		if err != nil {
			t.Fatal(err)
		}
		got, err := Decrypt(env, other)
		if err != nil {
			if !errors.Is(err, errors.ErrCorruptEnvelope) {
				t.Fatalf("wrong key error = %v; want ErrCorruptEnvelope", err)
			}
			failures++
			continue
		}
		if bytes.Equal(got, []byte("Hello World!")) {
			t.Fatal("wrong key recovered the plaintext")
		}
	}
	if failures == 0 {
		t.Error("wrong key never produced a padding failure")
	}
}

func TestBadKeyLength(t *testing.T) {
	for _, n := range []int{0, 16, 24, 31, 33} {
		if _, err := Encrypt([]byte("x"), make([]byte, n)); !errors.Is(err, errors.ErrInput) {
			t.Errorf("Encrypt with %d-byte key error = %v; want ErrInput", n, err)
		}
		if _, err := Decrypt(make([]byte, 32), make([]byte, n)); !errors.Is(err, errors.ErrInput) {
			t.Errorf("Decrypt with %d-byte key error = %v; want ErrInput", n, err)
		}
	}
}

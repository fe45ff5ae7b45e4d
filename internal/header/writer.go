package header

import (
	"encoding/binary"
	"fmt"
	"io"

	"SecureUSB/internal/encoding"

	"github.com/Picocrypt/infectious"
)

// Writer handles writing volume headers to an output stream
type Writer struct {
	w  io.Writer
	rs *encoding.RSCodecs
}

// NewWriter creates a header writer for the given output stream
func NewWriter(w io.Writer, rs *encoding.RSCodecs) *Writer {
	return &Writer{w: w, rs: rs}
}

// WriteHeader writes a complete, sealed header.
// Returns the number of bytes written and any error.
//
// Header format (183 bytes):
//   - Version:    15 bytes (rs5 encoded)
//   - Iterations: 24 bytes (rs8 encoded, uint64 big-endian)
//   - Salt:       48 bytes (rs16 encoded)
//   - KeyCheck:   96 bytes (rs32 encoded)
func (w *Writer) WriteHeader(h *VolumeHeader) (int, error) {
	if err := h.Validate(); err != nil {
		return 0, err
	}

	iterations := make([]byte, IterationsSize)
	binary.BigEndian.PutUint64(iterations, uint64(h.Iterations))

	fields := []struct {
		name string
		data []byte
		rs   *infectious.FEC
	}{
		{"version", []byte(h.Version), w.rs.RS5},
		{"iterations", iterations, w.rs.RS8},
		{"salt", h.Salt, w.rs.RS16},
		{"keycheck", h.KeyCheck, w.rs.RS32},
	}

	var totalWritten int
	for _, f := range fields {
		encoded, err := encoding.Encode(f.rs, f.data)
		if err != nil {
			return totalWritten, fmt.Errorf("encode %s: %w", f.name, err)
		}
		n, err := w.w.Write(encoded)
		totalWritten += n
		if err != nil {
			return totalWritten, fmt.Errorf("write %s: %w", f.name, err)
		}
	}

	return totalWritten, nil
}

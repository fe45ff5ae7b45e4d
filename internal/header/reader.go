package header

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"SecureUSB/internal/encoding"
	"SecureUSB/internal/errors"

	"github.com/Picocrypt/infectious"
)

// Reader handles reading volume headers from an input stream
type Reader struct {
	r  io.Reader
	rs *encoding.RSCodecs
}

// NewReader creates a header reader for the given input stream
func NewReader(r io.Reader, rs *encoding.RSCodecs) *Reader {
	return &Reader{r: r, rs: rs}
}

// ReadResult contains the parsed header and any decoding errors encountered
type ReadResult struct {
	Header      *VolumeHeader
	DecodeError error // Non-nil if a field could not be fully repaired
	BytesRead   int   // Total bytes consumed from the reader
}

// ReadHeader reads and decodes a complete header.
//
// Repairable damage is fixed silently. Fields that cannot be repaired are
// returned best effort with DecodeError set; a salt that could not be repaired
// will make Verify fail rather than decrypt garbage. An unknown version tag
// or a truncated record is an error wrapping ErrCorruptEnvelope.
func (r *Reader) ReadHeader() (*ReadResult, error) {
	result := &ReadResult{Header: &VolumeHeader{}}
	h := result.Header
	var decodeErrors []error

	read := func(field string, size int, rs *infectious.FEC) ([]byte, error) {
		buf := make([]byte, size)
		n, err := io.ReadFull(r.r, buf)
		result.BytesRead += n
		if err != nil {
			return nil, errors.NewHeaderError(field, errors.Corrupt(fmt.Sprintf("truncated: %v", err)))
		}
		dec, err := encoding.Decode(rs, buf)
		if err != nil {
			decodeErrors = append(decodeErrors, errors.NewHeaderError(field, err))
		}
		return dec, nil
	}

	version, err := read("version", VersionEncSize, r.rs.RS5)
	if err != nil {
		return result, err
	}
	h.Version = string(version)
	if h.Version != CurrentVersion {
		return result, errors.NewHeaderError("version", errors.Corrupt(fmt.Sprintf("unsupported version %q", h.Version)))
	}

	iterations, err := read("iterations", IterationsEncSize, r.rs.RS8)
	if err != nil {
		return result, err
	}
	n := binary.BigEndian.Uint64(iterations)
	if n == 0 || n > math.MaxInt32 {
		return result, errors.NewHeaderError("iterations", errors.Corrupt(fmt.Sprintf("implausible iteration count %d", n)))
	}
	h.Iterations = int(n)

	if h.Salt, err = read("salt", SaltEncSize, r.rs.RS16); err != nil {
		return result, err
	}
	if h.KeyCheck, err = read("keycheck", KeyCheckEncSize, r.rs.RS32); err != nil {
		return result, err
	}

	if len(decodeErrors) > 0 {
		result.DecodeError = decodeErrors[0]
	}
	return result, nil
}

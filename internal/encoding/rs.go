// Package encoding provides PKCS#7 padding for file envelopes and
// Reed-Solomon error correction for the volume header record.
//
// Reed-Solomon encoding lets a header survive a few flipped bytes on a
// removable device without losing the volume's salt. Each header field uses a
// codec that triples its size:
//
//   - RS5  (5->15):  version tag
//   - RS8  (8->24):  PBKDF2 iteration count
//   - RS16 (16->48): salt
//   - RS32 (32->96): key check value
//
// A tripled field can correct up to a third of its bytes.
package encoding

import (
	"fmt"

	"SecureUSB/internal/errors"

	"github.com/Picocrypt/infectious"
)

// RSCodecs holds pre-initialized Reed-Solomon Forward Error Correction (FEC)
// codecs. They are stateless after construction and safe to share.
type RSCodecs struct {
	RS5  *infectious.FEC
	RS8  *infectious.FEC
	RS16 *infectious.FEC
	RS32 *infectious.FEC
}

// NewRSCodecs initializes all Reed-Solomon codecs.
func NewRSCodecs() (*RSCodecs, error) {
	rs5, err1 := infectious.NewFEC(5, 15)
	rs8, err2 := infectious.NewFEC(8, 24)
	rs16, err3 := infectious.NewFEC(16, 48)
	rs32, err4 := infectious.NewFEC(32, 96)

	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return nil, errors.New("failed to initialize Reed-Solomon codecs")
	}

	return &RSCodecs{
		RS5:  rs5,
		RS8:  rs8,
		RS16: rs16,
		RS32: rs32,
	}, nil
}

// Encode applies Reed-Solomon encoding to data using the specified codec.
// The input length must equal rs.Required(); the result has rs.Total() bytes.
func Encode(rs *infectious.FEC, data []byte) ([]byte, error) {
	if len(data) != rs.Required() {
		return nil, fmt.Errorf("rs encode: got %d bytes, codec needs %d", len(data), rs.Required())
	}
	res := make([]byte, rs.Total())
	if err := rs.Encode(data, func(s infectious.Share) {
		res[s.Number] = s.Data[0]
	}); err != nil {
		return nil, fmt.Errorf("rs encode: %w", err)
	}
	return res, nil
}

// Decode decodes and repairs Reed-Solomon encoded data.
//
// When too many bytes are damaged the systematic prefix is returned together
// with an error wrapping ErrRSDecode, so callers can decide whether a best
// effort value is acceptable.
func Decode(rs *infectious.FEC, data []byte) ([]byte, error) {
	if len(data) != rs.Total() {
		return nil, fmt.Errorf("rs decode: got %d bytes, codec needs %d: %w", len(data), rs.Total(), errors.ErrRSDecode)
	}

	tmp := make([]infectious.Share, rs.Total())
	for i := range rs.Total() {
		tmp[i].Number = i
		tmp[i].Data = append(tmp[i].Data, data[i])
	}
	res, err := rs.Decode(nil, tmp)
	if err != nil {
		out := make([]byte, rs.Required())
		copy(out, data[:rs.Required()])
		return out, fmt.Errorf("%w: %v", errors.ErrRSDecode, err)
	}
	return res, nil
}

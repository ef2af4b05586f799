package transport

import (
	"encoding/binary"
	"errors"
	"math"
	"strconv"

	"github.com/RyanBlaney/sonido-pulse/algorithms/common"
)

// MaxSequence is the most values a binary frame can carry
const MaxSequence = math.MaxUint16

var ErrTooManyValues = errors.New("binary sequence longer than 65535 values")

// EncodeText formats one value in [0,1] as a decimal with three fractional
// digits and a trailing newline, e.g. "0.753\n".
func EncodeText(value float64) []byte {
	out := strconv.AppendFloat(nil, common.Clamp01(value), 'f', 3, 64)
	return append(out, '\n')
}

// EncodeBinary frames values as a big-endian uint16 count followed by one
// byte per value, each value in [0,1] scaled to [0,255] and truncated.
func EncodeBinary(values []float64) ([]byte, error) {
	if len(values) > MaxSequence {
		return nil, ErrTooManyValues
	}

	out := make([]byte, 2, 2+len(values))
	binary.BigEndian.PutUint16(out, uint16(len(values)))
	for _, v := range values {
		out = append(out, QuantizeByte(v))
	}
	return out, nil
}

// QuantizeByte maps [0,1] linearly onto [0,255]
func QuantizeByte(v float64) byte {
	return byte(common.Clamp01(v) * 255)
}

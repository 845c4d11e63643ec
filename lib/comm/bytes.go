package comm

/* bytes.go contains the wire encoding helpers shared by every message the
mesh engine sends: plain little-endian arrays of fixed-width values. The
encoding is byte-order explicit so that two ranks on different hosts would
still agree bit-for-bit. */

import (
	"encoding/binary"
	"fmt"
	"math"
)

// AppendUint64s appends the little-endian encoding of x to buf.
func AppendUint64s(buf []byte, x []uint64) []byte {
	for _, v := range x {
		buf = binary.LittleEndian.AppendUint64(buf, v)
	}
	return buf
}

// AppendFloat64s appends the little-endian IEEE-754 encoding of x to buf.
func AppendFloat64s(buf []byte, x []float64) []byte {
	for _, v := range x {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
	}
	return buf
}

// Uint64s decodes n little-endian uint64 values from the front of buf and
// returns the remainder of buf.
func Uint64s(buf []byte, n int) ([]uint64, []byte, error) {
	if len(buf) < 8*n {
		return nil, nil, fmt.Errorf("message truncated: need %d bytes, have %d",
			8*n, len(buf))
	}
	out := make([]uint64, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(buf[8*i:])
	}
	return out, buf[8*n:], nil
}

// Float64s decodes n little-endian float64 values from the front of buf and
// returns the remainder of buf.
func Float64s(buf []byte, n int) ([]float64, []byte, error) {
	if len(buf) < 8*n {
		return nil, nil, fmt.Errorf("message truncated: need %d bytes, have %d",
			8*n, len(buf))
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return out, buf[8*n:], nil
}

// DecodeFloat64sInto decodes len(dst) float64 values into dst and returns
// the remainder of buf. It avoids the allocation of Float64s on hot paths
// like halo unpacking.
func DecodeFloat64sInto(dst []float64, buf []byte) ([]byte, error) {
	if len(buf) < 8*len(dst) {
		return nil, fmt.Errorf("message truncated: need %d bytes, have %d",
			8*len(dst), len(buf))
	}
	for i := range dst {
		dst[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return buf[8*len(dst):], nil
}

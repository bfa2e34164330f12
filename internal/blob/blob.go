// Package blob packs float64 slices into little-endian byte blobs for SQLite
// columns.
package blob

import (
	"encoding/binary"
	"fmt"
	"math"
)

// #region vector-encoding
// EncodeFloats packs v as consecutive little-endian IEEE-754 doubles.
func EncodeFloats(v []float64) []byte {
	buf := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

// DecodeFloats is the inverse of EncodeFloats. A blob whose length is not a
// multiple of 8 is rejected.
func DecodeFloats(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 8", len(b))
	}
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v, nil
}
// #endregion vector-encoding

// #region matrix-encoding
// EncodeMatrix flattens a square matrix row-major.
func EncodeMatrix(m [][]float64) []byte {
	flat := make([]float64, 0, len(m)*len(m))
	for _, row := range m {
		flat = append(flat, row...)
	}
	return EncodeFloats(flat)
}

// DecodeMatrix rebuilds a dim x dim matrix from EncodeMatrix output.
func DecodeMatrix(b []byte, dim int) ([][]float64, error) {
	flat, err := DecodeFloats(b)
	if err != nil {
		return nil, err
	}
	if len(flat) != dim*dim {
		return nil, fmt.Errorf("matrix blob holds %d values, want %d", len(flat), dim*dim)
	}
	m := make([][]float64, dim)
	for i := range m {
		m[i] = flat[i*dim : (i+1)*dim : (i+1)*dim]
	}
	return m, nil
}
// #endregion matrix-encoding

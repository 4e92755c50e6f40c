package vectorindex

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeVectors packs float32s into little-endian bytes.
func EncodeVectors(data []float32) []byte {
	b := make([]byte, len(data)*4)
	for i, f := range data {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

// DecodeVectors unpacks little-endian bytes written by EncodeVectors.
func DecodeVectors(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: vector payload length %d not a multiple of 4", ErrBadSnapshot, len(b))
	}
	data := make([]float32, len(b)/4)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return data, nil
}

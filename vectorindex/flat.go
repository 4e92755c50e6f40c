package vectorindex

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/viterin/vek/vek32"
)

// flatMagic identifies a flat index snapshot file.
const flatMagic = uint32(0x4b494e58) // "KINX"

// FlatIndex is the preferred backend: an exact inner-product index over a
// contiguous float32 buffer, scored with SIMD-accelerated dot products.
type FlatIndex struct {
	dim   int
	data  []float32 // row-major, count*dim
	count int
}

// NewFlat returns an empty flat index of the given dimension.
func NewFlat(dim int) *FlatIndex {
	return &FlatIndex{dim: dim}
}

// Add appends one vector.
func (f *FlatIndex) Add(vec []float32) error {
	if len(vec) != f.dim {
		return fmt.Errorf("%w: got %d, index dimension %d", ErrDimensionMismatch, len(vec), f.dim)
	}
	f.data = append(f.data, vec...)
	f.count++
	return nil
}

// Len reports the number of stored vectors.
func (f *FlatIndex) Len() int { return f.count }

// Search scores every stored vector against query and returns the top limit
// by inner product.
func (f *FlatIndex) Search(query []float32, limit int) ([]Candidate, error) {
	if len(query) != f.dim {
		return nil, fmt.Errorf("%w: query has %d, index dimension %d", ErrDimensionMismatch, len(query), f.dim)
	}
	if f.count == 0 || limit <= 0 {
		return nil, nil
	}
	scores := make([]float64, f.count)
	for i := 0; i < f.count; i++ {
		row := f.data[i*f.dim : (i+1)*f.dim]
		scores[i] = float64(vek32.Dot(row, query))
	}
	return rank(scores, limit), nil
}

// Save writes the snapshot via a temp file and rename so a crash mid-write
// never leaves a truncated snapshot behind.
func (f *FlatIndex) Save(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".flat-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	header := make([]byte, 12)
	binary.LittleEndian.PutUint32(header[0:], flatMagic)
	binary.LittleEndian.PutUint32(header[4:], uint32(f.dim))     //nolint:gosec // dim is a small constant
	binary.LittleEndian.PutUint32(header[8:], uint32(f.count))   //nolint:gosec // row count
	if _, err := tmp.Write(header); err != nil {
		return fmt.Errorf("write snapshot header: %w", err)
	}
	if _, err := tmp.Write(EncodeVectors(f.data)); err != nil {
		return fmt.Errorf("write snapshot vectors: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}

// LoadFlat reads a snapshot written by Save.
func LoadFlat(path string) (*FlatIndex, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // operator-configured data dir
	if err != nil {
		return nil, fmt.Errorf("read flat snapshot: %w", err)
	}
	if len(raw) < 12 {
		return nil, fmt.Errorf("%w: flat snapshot too short", ErrBadSnapshot)
	}
	if binary.LittleEndian.Uint32(raw[0:]) != flatMagic {
		return nil, fmt.Errorf("%w: bad flat snapshot magic", ErrBadSnapshot)
	}
	dim := int(binary.LittleEndian.Uint32(raw[4:]))
	count := int(binary.LittleEndian.Uint32(raw[8:]))
	data, err := DecodeVectors(raw[12:])
	if err != nil {
		return nil, err
	}
	if len(data) != dim*count {
		return nil, fmt.Errorf("%w: flat snapshot claims %d vectors of dim %d, holds %d floats",
			ErrBadSnapshot, count, dim, len(data))
	}
	return &FlatIndex{dim: dim, data: data, count: count}, nil
}

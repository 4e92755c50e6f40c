package vectorindex

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
)

// matrixMagic identifies a matrix snapshot file.
const matrixMagic = uint32(0x4b4d4154) // "KMAT"

// MatrixIndex is the brute-force fallback backend: all normalized vectors in
// one dense matrix, ranked by a single matrix-vector product per query. It
// matches FlatIndex result-for-result; it is just slower per query.
type MatrixIndex struct {
	dim   int
	rows  []float64 // row-major, count*dim
	count int
}

// NewMatrix returns an empty matrix index of the given dimension.
func NewMatrix(dim int) *MatrixIndex {
	return &MatrixIndex{dim: dim}
}

// Add appends one vector.
func (m *MatrixIndex) Add(vec []float32) error {
	if len(vec) != m.dim {
		return fmt.Errorf("%w: got %d, index dimension %d", ErrDimensionMismatch, len(vec), m.dim)
	}
	for _, f := range vec {
		m.rows = append(m.rows, float64(f))
	}
	m.count++
	return nil
}

// Len reports the number of stored vectors.
func (m *MatrixIndex) Len() int { return m.count }

// Search computes similarities as one dense matrix-vector product, then
// ranks the result.
func (m *MatrixIndex) Search(query []float32, limit int) ([]Candidate, error) {
	if len(query) != m.dim {
		return nil, fmt.Errorf("%w: query has %d, index dimension %d", ErrDimensionMismatch, len(query), m.dim)
	}
	if m.count == 0 || limit <= 0 {
		return nil, nil
	}

	q := make([]float64, m.dim)
	for i, f := range query {
		q[i] = float64(f)
	}

	dense := mat.NewDense(m.count, m.dim, m.rows)
	var sims mat.VecDense
	sims.MulVec(dense, mat.NewVecDense(m.dim, q))

	scores := make([]float64, m.count)
	for i := range scores {
		scores[i] = sims.AtVec(i)
	}
	return rank(scores, limit), nil
}

// Save writes the snapshot via a temp file and rename. The payload is the
// gonum binary encoding of the dense matrix; an empty index writes only the
// header.
func (m *MatrixIndex) Save(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".matrix-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	header := make([]byte, 12)
	binary.LittleEndian.PutUint32(header[0:], matrixMagic)
	binary.LittleEndian.PutUint32(header[4:], uint32(m.dim))   //nolint:gosec // dim is a small constant
	binary.LittleEndian.PutUint32(header[8:], uint32(m.count)) //nolint:gosec // row count
	if _, err := tmp.Write(header); err != nil {
		return fmt.Errorf("write snapshot header: %w", err)
	}

	if m.count > 0 {
		payload, err := mat.NewDense(m.count, m.dim, m.rows).MarshalBinary()
		if err != nil {
			return fmt.Errorf("marshal matrix: %w", err)
		}
		if _, err := tmp.Write(payload); err != nil {
			return fmt.Errorf("write matrix payload: %w", err)
		}
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

// LoadMatrix reads a snapshot written by Save.
func LoadMatrix(path string) (*MatrixIndex, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // operator-configured data dir
	if err != nil {
		return nil, fmt.Errorf("read matrix snapshot: %w", err)
	}
	if len(raw) < 12 {
		return nil, fmt.Errorf("%w: matrix snapshot too short", ErrBadSnapshot)
	}
	if binary.LittleEndian.Uint32(raw[0:]) != matrixMagic {
		return nil, fmt.Errorf("%w: bad matrix snapshot magic", ErrBadSnapshot)
	}
	dim := int(binary.LittleEndian.Uint32(raw[4:]))
	count := int(binary.LittleEndian.Uint32(raw[8:]))

	idx := &MatrixIndex{dim: dim}
	if count == 0 {
		return idx, nil
	}

	var dense mat.Dense
	if err := dense.UnmarshalBinary(raw[12:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	r, c := dense.Dims()
	if r != count || c != dim {
		return nil, fmt.Errorf("%w: matrix snapshot claims %dx%d, holds %dx%d", ErrBadSnapshot, count, dim, r, c)
	}

	idx.count = count
	idx.rows = make([]float64, 0, count*dim)
	for i := 0; i < count; i++ {
		idx.rows = append(idx.rows, dense.RawRowView(i)...)
	}
	return idx, nil
}

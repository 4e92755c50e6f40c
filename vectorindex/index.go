// Package vectorindex provides an append-only similarity index over
// L2-normalized embeddings, ranked by inner product (cosine similarity on
// normalized vectors). Two interchangeable backends implement the same
// contract: an accelerated flat inner-product index and a dense-matrix
// brute-force fallback. The backend is chosen at startup by configuration or
// by probing which snapshot file exists on disk.
package vectorindex

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/viterin/vek/vek32"
)

// Dim is the fixed embedding dimension across the whole store. Changing it
// requires rebuilding the index from scratch; mixed dimensions fail loudly.
const Dim = 384

// Backend selects a SimilarityIndex implementation.
type Backend string

const (
	// BackendFlat is the accelerated exact inner-product index.
	BackendFlat Backend = "flat"
	// BackendMatrix is the dense-matrix brute-force fallback.
	BackendMatrix Backend = "matrix"
	// BackendAuto prefers an existing snapshot, then the flat index.
	BackendAuto Backend = "auto"
)

var (
	// ErrDimensionMismatch is a fatal consistency failure: the operation
	// must abort rather than truncate or pad the vector.
	ErrDimensionMismatch = errors.New("vectorindex: vector dimension mismatch")

	// ErrBadSnapshot indicates a snapshot file that cannot be decoded.
	ErrBadSnapshot = errors.New("vectorindex: snapshot is corrupt")
)

// Candidate is one ranked search hit. Position is the insertion-order index
// of the vector, which callers join back to their own id-map.
type Candidate struct {
	Position int
	Score    float64
}

// SimilarityIndex is the capability interface shared by both backends.
type SimilarityIndex interface {
	// Add appends one vector. Vectors are expected to be L2-normalized by
	// the caller; Add rejects wrong dimensions.
	Add(vec []float32) error

	// Search returns up to limit candidates ordered by descending inner
	// product with query. An empty index returns no candidates and no error.
	Search(query []float32, limit int) ([]Candidate, error)

	// Len reports the number of stored vectors.
	Len() int

	// Save writes a snapshot to path, atomically with respect to readers of
	// the previous snapshot.
	Save(path string) error
}

// Open selects and loads a backend. For BackendAuto an existing flat
// snapshot wins, then an existing matrix snapshot; with neither present the
// store starts empty on the flat backend. Absent snapshot files are not an
// error.
func Open(backend Backend, indexPath, matrixPath string) (SimilarityIndex, error) {
	switch backend {
	case BackendFlat:
		if fileExists(indexPath) {
			return LoadFlat(indexPath)
		}
		return NewFlat(Dim), nil
	case BackendMatrix:
		if fileExists(matrixPath) {
			return LoadMatrix(matrixPath)
		}
		return NewMatrix(Dim), nil
	case BackendAuto, Backend(""):
		if fileExists(indexPath) {
			return LoadFlat(indexPath)
		}
		if fileExists(matrixPath) {
			return LoadMatrix(matrixPath)
		}
		return NewFlat(Dim), nil
	default:
		return nil, fmt.Errorf("vectorindex: unknown backend %q", backend)
	}
}

// Normalize L2-normalizes vec in place. A zero vector is left untouched.
func Normalize(vec []float32) {
	norm := math.Sqrt(float64(vek32.Dot(vec, vec)))
	if norm <= 0 {
		return
	}
	inv := float32(1.0 / norm)
	for i := range vec {
		vec[i] *= inv
	}
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// rank sorts scored positions by descending score, breaking ties by
// insertion order so duplicate vectors rank deterministically.
func rank(scores []float64, limit int) []Candidate {
	candidates := make([]Candidate, len(scores))
	for i, s := range scores {
		candidates[i] = Candidate{Position: i, Score: s}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Position < candidates[j].Position
	})
	if limit < len(candidates) {
		candidates = candidates[:limit]
	}
	return candidates
}

// Package ragstore persists privacy-scrubbed interaction summaries together
// with their embeddings and answers nearest-neighbor queries scoped to one
// contact. It composes the metadata table (RecordStore) with a similarity
// index and a parallel id-map: position i in the index corresponds to the
// i-th appended record id, and the two must never desynchronize.
package ragstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/bubbleone/kindred/vectorindex"
)

const (
	indexFileName  = "rag.index"
	matrixFileName = "rag.matrix"
	idMapFileName  = "rag.index.ids.json"
)

// MemoryStore is the persisted, queryable vector memory.
//
// Writes are serialized by a single-writer mutex: the metadata insert, the
// vector append, the id-map append, and the snapshot persist must not
// interleave across requests. Queries take the read side and see the last
// fully-applied state.
type MemoryStore struct {
	mu      sync.RWMutex
	records *RecordStore
	index   vectorindex.SimilarityIndex
	idMap   []int64

	snapshotPath string
	idMapPath    string

	logger zerolog.Logger
}

// NewMemoryStore opens the vector memory in dataDir. Absent snapshot files
// mean an empty store, not an error; a count mismatch between the id-map and
// the index is fatal.
func NewMemoryStore(db *sql.DB, dataDir string, backend vectorindex.Backend, logger zerolog.Logger) (*MemoryStore, error) {
	logger = logger.With().Str("component", "memory_store").Logger()

	indexPath := filepath.Join(dataDir, indexFileName)
	matrixPath := filepath.Join(dataDir, matrixFileName)
	idMapPath := filepath.Join(dataDir, idMapFileName)

	index, err := vectorindex.Open(backend, indexPath, matrixPath)
	if err != nil {
		return nil, fmt.Errorf("open similarity index: %w", err)
	}

	idMap, err := loadIDMap(idMapPath)
	if err != nil {
		return nil, err
	}

	if len(idMap) != index.Len() {
		return nil, fmt.Errorf("ragstore: id-map holds %d ids but index holds %d vectors", len(idMap), index.Len())
	}

	snapshotPath := indexPath
	if _, ok := index.(*vectorindex.MatrixIndex); ok {
		snapshotPath = matrixPath
	}

	logger.Info().
		Int("vectors", index.Len()).
		Str("snapshot", snapshotPath).
		Msg("vector memory opened")

	return &MemoryStore{
		records:      NewRecordStore(db, logger),
		index:        index,
		idMap:        idMap,
		snapshotPath: snapshotPath,
		idMapPath:    idMapPath,
		logger:       logger,
	}, nil
}

// Records exposes the underlying metadata table for read-only callers such
// as the sweep runtime.
func (s *MemoryStore) Records() *RecordStore { return s.records }

// Len reports the number of stored vectors.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap)
}

// AddRecord ingests one summary: metadata row first (its commit stands on
// its own), then the normalized embedding into the index, then the id-map
// append, then both snapshots. A successful return guarantees durability.
func (s *MemoryStore) AddRecord(
	ctx context.Context,
	eventID string,
	contactHash string,
	summary string,
	metadata map[string]interface{},
	embedding []float32,
) (int64, error) {
	if len(embedding) != vectorindex.Dim {
		return 0, fmt.Errorf("%w: embedding has %d dimensions, store requires %d",
			vectorindex.ErrDimensionMismatch, len(embedding), vectorindex.Dim)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recordID, err := s.records.Insert(ctx, eventID, contactHash, summary, metadata, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	vectorindex.Normalize(vec)

	if err := s.index.Add(vec); err != nil {
		// The metadata row stays behind as an orphan, which is tolerable:
		// nothing in the id-map references it.
		return 0, fmt.Errorf("append vector: %w", err)
	}
	s.idMap = append(s.idMap, recordID)

	if err := s.index.Save(s.snapshotPath); err != nil {
		return 0, fmt.Errorf("persist index snapshot: %w", err)
	}
	if err := saveIDMap(s.idMapPath, s.idMap); err != nil {
		return 0, fmt.Errorf("persist id-map: %w", err)
	}

	s.logger.Debug().
		Int64("recordID", recordID).
		Str("eventID", eventID).
		Str("contactHash", contactHash).
		Int("vectors", len(s.idMap)).
		Msg("record added to vector memory")
	return recordID, nil
}

// Query returns up to k records for contactHash ordered by descending cosine
// similarity. Results are ranked globally, so the index is over-fetched
// before the contact filter is applied; under-fetching would silently drop
// in-scope rows. An empty store or a contact with no in-scope neighbors
// returns an empty result, not an error.
func (s *MemoryStore) Query(ctx context.Context, contactHash string, queryEmbedding []float32, k int) ([]RagResult, error) {
	if len(queryEmbedding) != vectorindex.Dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, store requires %d",
			vectorindex.ErrDimensionMismatch, len(queryEmbedding), vectorindex.Dim)
	}
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.idMap) == 0 {
		return nil, nil
	}

	q := make([]float32, len(queryEmbedding))
	copy(q, queryEmbedding)
	vectorindex.Normalize(q)

	limit := 4 * k
	if limit < k {
		limit = k
	}
	if limit > len(s.idMap) {
		limit = len(s.idMap)
	}

	candidates, err := s.index.Search(q, limit)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	ids := lo.Map(candidates, func(c vectorindex.Candidate, _ int) int64 {
		return s.idMap[c.Position]
	})
	records, err := s.records.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := lo.KeyBy(records, func(r RagRecord) int64 { return r.ID })

	results := make([]RagResult, 0, k)
	for _, c := range candidates {
		rec, ok := byID[s.idMap[c.Position]]
		if !ok || rec.ContactHash != contactHash {
			continue
		}
		results = append(results, RagResult{
			RagRecord: rec,
			Score:     round4(c.Score),
		})
		if len(results) >= k {
			break
		}
	}

	s.logger.Debug().
		Str("contactHash", contactHash).
		Int("candidates", len(candidates)).
		Int("results", len(results)).
		Msg("vector memory queried")
	return results, nil
}

func loadIDMap(path string) ([]int64, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // operator-configured data dir
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read id-map: %w", err)
	}
	var ids []int64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("decode id-map: %w", err)
	}
	return ids, nil
}

func saveIDMap(path string, ids []int64) error {
	if ids == nil {
		ids = []int64{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode id-map: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ids-*")
	if err != nil {
		return fmt.Errorf("create id-map temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()
	if _, err := tmp.Write(raw); err != nil {
		return fmt.Errorf("write id-map: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync id-map: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close id-map: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish id-map: %w", err)
	}
	return nil
}

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }

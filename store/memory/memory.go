package memory

import (
	"sync"

	"github.com/mpilab/distapsp/graph"
	"github.com/mpilab/distapsp/store"
	"golang.org/x/xerrors"
)

// Compile-time check for ensuring InMemoryStore implements DistanceStore.
var _ store.DistanceStore = (*InMemoryStore)(nil)

// InMemoryStore implements a DistanceStore backed by an in-memory map.
type InMemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]map[int][]graph.Weight
}

// NewInMemoryStore creates a new in-memory distance store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		jobs: make(map[string]map[int][]graph.Weight),
	}
}

// SaveRows implements DistanceStore.
func (s *InMemoryStore) SaveRows(jobID string, firstRow int, rows [][]graph.Weight) error {
	if err := store.ValidateRows(firstRow, rows); err != nil {
		return xerrors.Errorf("save rows: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	jobRows := s.jobs[jobID]
	if jobRows == nil {
		jobRows = make(map[int][]graph.Weight)
		s.jobs[jobID] = jobRows
	}
	for i, row := range rows {
		jobRows[firstRow+i] = append([]graph.Weight(nil), row...)
	}
	return nil
}

// Distance implements DistanceStore.
func (s *InMemoryStore) Distance(jobID string, from, to int) (graph.Weight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.jobs[jobID][from]
	if to < 0 || to >= len(row) {
		return 0, xerrors.Errorf("distance %d -> %d: %w", from, to, store.ErrNotFound)
	}
	return row[to], nil
}

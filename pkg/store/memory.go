package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/qbs784/auto-binwalk/pkg/types"
)

// MemoryStore implements Store in memory. Useful for tests and dry runs.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	infos  []RunInfo
	runs   map[int64]*types.BatchRun
}

// NewMemory creates an in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		nextID: 1,
		runs:   make(map[int64]*types.BatchRun),
	}
}

// SaveRun persists a finished run and returns its ID.
func (s *MemoryStore) SaveRun(startedAt time.Time, run *types.BatchRun) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++

	copied := types.NewBatchRun()
	copied.Total = run.Total
	copied.Succeeded = run.Succeeded
	for image, outcome := range run.PerImage {
		copied.PerImage[image] = outcome
	}

	s.runs[id] = copied
	s.infos = append(s.infos, RunInfo{
		ID:        id,
		StartedAt: startedAt.UTC(),
		Total:     run.Total,
		Succeeded: run.Succeeded,
	})
	return id, nil
}

// GetRun reconstructs a persisted run.
func (s *MemoryStore) GetRun(id int64) (*types.BatchRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %d not found", id)
	}
	return run, nil
}

// ListRuns returns all persisted runs, newest first.
func (s *MemoryStore) ListRuns() ([]RunInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]RunInfo, len(s.infos))
	for i, info := range s.infos {
		out[len(s.infos)-1-i] = info
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

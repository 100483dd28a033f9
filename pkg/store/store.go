// Package store persists batch runs and their per-image outcomes.
package store

import (
	"fmt"
	"time"

	"github.com/qbs784/auto-binwalk/pkg/types"
)

// RunInfo summarizes one persisted batch run.
type RunInfo struct {
	ID        int64     `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
}

// Store provides persistence for batch runs.
// This interface abstracts the underlying storage implementation.
type Store interface {
	// SaveRun persists a finished run and returns its ID.
	SaveRun(startedAt time.Time, run *types.BatchRun) (int64, error)

	// GetRun reconstructs a persisted run.
	GetRun(id int64) (*types.BatchRun, error)

	// ListRuns returns all persisted runs, newest first.
	ListRuns() ([]RunInfo, error)

	// Close releases store resources.
	Close() error
}

// Config for store initialization.
type Config struct {
	// Path is the database file path.
	// Use ":memory:" for an in-memory store (useful for testing).
	Path string
}

// New creates a new Store. ":memory:" paths get the in-memory
// implementation; file paths get SQLite.
func New(cfg Config) (Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	if cfg.Path == ":memory:" {
		return NewMemory(), nil
	}
	return NewSQLite(cfg.Path)
}

package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/qbs784/auto-binwalk/pkg/types"
)

// SQLiteStore implements Store using SQLite (pure-Go driver, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a SQLite-based store at path.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			started_at TEXT NOT NULL,
			total INTEGER NOT NULL,
			succeeded INTEGER NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS image_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id INTEGER NOT NULL REFERENCES runs(id),
			image TEXT NOT NULL,
			state TEXT NOT NULL,
			error TEXT,
			result_json TEXT NOT NULL,
			summary_json TEXT,
			UNIQUE(run_id, image)
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_image_results_run_id ON image_results(run_id)
	`)
	return err
}

// SaveRun persists a finished run and its per-image outcomes in one
// transaction.
func (s *SQLiteStore) SaveRun(startedAt time.Time, run *types.BatchRun) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		"INSERT INTO runs (started_at, total, succeeded) VALUES (?, ?, ?)",
		startedAt.UTC().Format(time.RFC3339), run.Total, run.Succeeded,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading run ID: %w", err)
	}

	for image, outcome := range run.PerImage {
		resultJSON, err := json.Marshal(outcome.Result)
		if err != nil {
			return 0, fmt.Errorf("marshaling result for %s: %w", image, err)
		}

		var summaryJSON *string
		if outcome.Summary != nil {
			data, err := json.Marshal(outcome.Summary)
			if err != nil {
				return 0, fmt.Errorf("marshaling summary for %s: %w", image, err)
			}
			str := string(data)
			summaryJSON = &str
		}

		_, err = tx.Exec(`
			INSERT INTO image_results (run_id, image, state, error, result_json, summary_json)
			VALUES (?, ?, ?, ?, ?, ?)
		`, runID, image, string(outcome.State), outcome.Result.Error, string(resultJSON), summaryJSON)
		if err != nil {
			return 0, fmt.Errorf("inserting result for %s: %w", image, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing run: %w", err)
	}
	return runID, nil
}

// GetRun reconstructs a persisted run.
func (s *SQLiteStore) GetRun(id int64) (*types.BatchRun, error) {
	run := types.NewBatchRun()
	err := s.db.QueryRow("SELECT total, succeeded FROM runs WHERE id = ?", id).
		Scan(&run.Total, &run.Succeeded)
	if err != nil {
		return nil, fmt.Errorf("querying run %d: %w", id, err)
	}

	rows, err := s.db.Query(`
		SELECT image, state, result_json, summary_json
		FROM image_results
		WHERE run_id = ?
	`, id)
	if err != nil {
		return nil, fmt.Errorf("querying image results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var image, state, resultJSON string
		var summaryJSON sql.NullString
		if err := rows.Scan(&image, &state, &resultJSON, &summaryJSON); err != nil {
			return nil, fmt.Errorf("scanning image result: %w", err)
		}

		outcome := &types.ImageOutcome{State: types.ImageState(state)}
		if err := json.Unmarshal([]byte(resultJSON), &outcome.Result); err != nil {
			return nil, fmt.Errorf("unmarshaling result for %s: %w", image, err)
		}
		if summaryJSON.Valid {
			if err := json.Unmarshal([]byte(summaryJSON.String), &outcome.Summary); err != nil {
				return nil, fmt.Errorf("unmarshaling summary for %s: %w", image, err)
			}
		}
		run.PerImage[image] = outcome
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating image results: %w", err)
	}

	return run, nil
}

// ListRuns returns all persisted runs, newest first.
func (s *SQLiteStore) ListRuns() ([]RunInfo, error) {
	rows, err := s.db.Query("SELECT id, started_at, total, succeeded FROM runs ORDER BY id DESC")
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []RunInfo
	for rows.Next() {
		var info RunInfo
		var startedAt string
		if err := rows.Scan(&info.ID, &startedAt, &info.Total, &info.Succeeded); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		info.StartedAt, err = time.Parse(time.RFC3339, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing run timestamp: %w", err)
		}
		runs = append(runs, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Package history records pipeline runs in SQLite for reporting.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Run is one recorded pipeline invocation.
type Run struct {
	ID        string    `json:"run_id"`
	Mode      string    `json:"mode"`
	TestsRun  int       `json:"tests_run"`
	TimeTaken float64   `json:"time_taken"`
	CacheHit  bool      `json:"cache_hit"`
	Passed    bool      `json:"passed"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary aggregates all recorded runs.
type Summary struct {
	Runs         int     `json:"runs"`
	AvgTime      float64 `json:"avg_time"`
	AvgTests     float64 `json:"avg_tests"`
	CacheHitRate float64 `json:"cache_hit_rate"`
}

// DB wraps the run history database.
type DB struct {
	conn *sql.DB
}

// Open opens or creates the history database at path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying pragma: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Record stores a run, assigning an ID and timestamp when unset.
func (db *DB) Record(ctx context.Context, r Run) (Run, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO runs (run_id, mode, tests_run, time_taken, cache_hit, passed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Mode, r.TestsRun, r.TimeTaken, r.CacheHit, r.Passed, r.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return r, fmt.Errorf("inserting run: %w", err)
	}
	return r, nil
}

// List returns up to limit runs, newest first. A limit of zero or less
// returns every run.
func (db *DB) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT run_id, mode, tests_run, time_taken, cache_hit, passed, created_at
		 FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var (
			r       Run
			created int64
		)
		if err := rows.Scan(&r.ID, &r.Mode, &r.TestsRun, &r.TimeTaken, &r.CacheHit, &r.Passed, &created); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.CreatedAt = time.UnixMilli(created)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

// Summary computes averages over every recorded run.
func (db *DB) Summary(ctx context.Context) (Summary, error) {
	var (
		s        Summary
		avgTime  sql.NullFloat64
		avgTests sql.NullFloat64
		hitRate  sql.NullFloat64
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), AVG(time_taken), AVG(tests_run), AVG(cache_hit) FROM runs`,
	).Scan(&s.Runs, &avgTime, &avgTests, &hitRate)
	if err != nil {
		return s, fmt.Errorf("summarizing runs: %w", err)
	}
	s.AvgTime = avgTime.Float64
	s.AvgTests = avgTests.Float64
	s.CacheHitRate = hitRate.Float64
	return s, nil
}

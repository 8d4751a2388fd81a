package cache

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

//go:embed pragmas.sql
var pragmasSQL string

// SQLiteBackend stores all records in a single SQLite table.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range strings.Split(pragmasSQL, "\n") {
		pragma = strings.TrimSpace(pragma)
		if pragma == "" || strings.HasPrefix(pragma, "--") {
			continue
		}
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

// Get reads a record.
func (b *SQLiteBackend) Get(ns, name string) ([]byte, error) {
	var data []byte
	err := b.db.QueryRow(
		"SELECT data FROM records WHERE ns = ? AND name = ?", ns, name,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying record: %w", err)
	}
	return data, nil
}

// Put inserts or replaces a record.
func (b *SQLiteBackend) Put(ns, name string, data []byte) error {
	_, err := b.db.Exec(
		`INSERT OR REPLACE INTO records (ns, name, data, updated_at)
		 VALUES (?, ?, ?, ?)`,
		ns, name, data, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}
	return nil
}

// List returns the record names in a namespace, sorted.
func (b *SQLiteBackend) List(ns string) ([]string, error) {
	rows, err := b.db.Query("SELECT name FROM records WHERE ns = ? ORDER BY name", ns)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	return names, nil
}

// Clear removes all records.
func (b *SQLiteBackend) Clear() error {
	if _, err := b.db.Exec("DELETE FROM records"); err != nil {
		return fmt.Errorf("clearing records: %w", err)
	}
	return nil
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

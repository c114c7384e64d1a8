// Package db implements the server's Database interface on SQLite.
package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lxq2537664558/holdingnuts/pkg/server"
)

// DB wraps the SQLite connection.
type DB struct {
	db *sql.DB
}

// NewDB opens or creates the database at the given path.
func NewDB(path string) (*DB, error) {
	sdb, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	d := &DB{db: sdb}
	if err := d.createTables(); err != nil {
		sdb.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) createTables() error {
	_, err := d.db.Exec(`
		CREATE TABLE IF NOT EXISTS con_archive (
			token TEXT PRIMARY KEY,
			client_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			logout_time INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// SaveArchiveEntry stores or replaces the entry for a token.
func (d *DB) SaveArchiveEntry(e server.ArchiveEntry) error {
	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO con_archive (token, client_id, name, logout_time)
		VALUES (?, ?, ?, ?)
	`, e.Token, e.ClientID, e.Name, e.LogoutTime.Unix())
	if err != nil {
		return fmt.Errorf("failed to save archive entry: %w", err)
	}
	return nil
}

// DeleteArchiveEntry removes the entry for a token.
func (d *DB) DeleteArchiveEntry(token string) error {
	_, err := d.db.Exec(`DELETE FROM con_archive WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("failed to delete archive entry: %w", err)
	}
	return nil
}

// LoadArchive returns all stored entries.
func (d *DB) LoadArchive() ([]server.ArchiveEntry, error) {
	rows, err := d.db.Query(`SELECT token, client_id, name, logout_time FROM con_archive`)
	if err != nil {
		return nil, fmt.Errorf("failed to load archive: %w", err)
	}
	defer rows.Close()

	var entries []server.ArchiveEntry
	for rows.Next() {
		var e server.ArchiveEntry
		var logout int64
		if err := rows.Scan(&e.Token, &e.ClientID, &e.Name, &logout); err != nil {
			return nil, fmt.Errorf("failed to scan archive entry: %w", err)
		}
		e.LogoutTime = time.Unix(logout, 0)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate archive: %w", err)
	}
	return entries, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

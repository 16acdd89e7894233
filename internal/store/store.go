// Package store persists repository records and their per-repository
// entries. It is the data access layer, keeping SQL out of the lifecycle.
package store

import (
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Store provides all functions to interact with the database.
type Store struct {
	db *sql.DB
}

// New creates a new Store instance.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// LastSaved returns when the last persistence batch was committed.
func (s *Store) LastSaved() (time.Time, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM store_meta WHERE key = 'last_saved'").Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, value)
}

func setMeta(tx *sql.Tx, key, value string) error {
	_, err := tx.Exec(`INSERT INTO store_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// SetEntry stores a JSON encoded value under a per-repository key.
func (s *Store) SetEntry(repositoryID, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO repository_entries (repository_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(repository_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		repositoryID, key, string(data), time.Now().UTC())
	return err
}

// GetEntry decodes the value stored under key into out. It reports false
// when no entry exists.
func (s *Store) GetEntry(repositoryID, key string, out any) (bool, error) {
	var data string
	err := s.db.QueryRow("SELECT value FROM repository_entries WHERE repository_id = ? AND key = ?",
		repositoryID, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal([]byte(data), out)
}

// DeleteEntries removes every entry of a repository.
func (s *Store) DeleteEntries(repositoryID string) error {
	_, err := s.db.Exec("DELETE FROM repository_entries WHERE repository_id = ?", repositoryID)
	return err
}

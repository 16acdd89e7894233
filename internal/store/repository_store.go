package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vrsandeep/repokeep/internal/models"
)

// SaveRepositories writes a batch of records in one transaction. Each record
// is stored as a flat JSON document with absent optional fields omitted.
func (s *Store) SaveRepositories(repos []*models.Repository) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO repositories (id, full_name, category, data, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			full_name = excluded.full_name,
			category = excluded.category,
			data = excluded.data,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range repos {
		if r.ID == "" {
			return fmt.Errorf("repository %s has no id", r.FullName)
		}
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode repository %s: %w", r.FullName, err)
		}
		if _, err := stmt.Exec(r.ID, r.FullName, string(r.Category), string(data), now); err != nil {
			return fmt.Errorf("failed to save repository %s: %w", r.FullName, err)
		}
	}

	if err := setMeta(tx, "last_saved", now.Format(time.RFC3339Nano)); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadRepositories returns every stored record ordered by name.
func (s *Store) LoadRepositories() ([]*models.Repository, error) {
	rows, err := s.db.Query("SELECT data FROM repositories ORDER BY full_name COLLATE NOCASE")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []*models.Repository
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var r models.Repository
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, fmt.Errorf("failed to decode stored repository: %w", err)
		}
		repos = append(repos, &r)
	}
	return repos, rows.Err()
}

// GetRepository loads one record by id.
func (s *Store) GetRepository(id string) (*models.Repository, error) {
	var data string
	err := s.db.QueryRow("SELECT data FROM repositories WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var r models.Repository
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// DeleteRepository removes a record and its entries.
func (s *Store) DeleteRepository(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM repository_entries WHERE repository_id = ?", id); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM repositories WHERE id = ?", id); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkRemoved records that a repository was removed so it is skipped by
// later catalog syncs and its id is never reused.
func (s *Store) MarkRemoved(id, fullName, reason string) error {
	_, err := s.db.Exec(`INSERT INTO removed_repositories (id, full_name, reason, removed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET full_name = excluded.full_name, reason = excluded.reason`,
		id, fullName, reason, time.Now().UTC())
	return err
}

// RemovedRepositories maps removed ids to their last known full name.
func (s *Store) RemovedRepositories() (map[string]string, error) {
	rows, err := s.db.Query("SELECT id, full_name FROM removed_repositories")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	removed := make(map[string]string)
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		removed[id] = name
	}
	return removed, rows.Err()
}

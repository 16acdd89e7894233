// Package backup snapshots local content before a destructive change and
// puts it back when the change fails.
package backup

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/vrsandeep/repokeep/internal/logger"
)

// Snapshot is a copy of one local path taken before a change.
type Snapshot struct {
	ID        string
	Source    string
	Location  string
	IsFile    bool
	CreatedAt time.Time
	// Empty is set when Source did not exist; restoring it removes Source.
	Empty bool
}

// Manager creates snapshots under a temporary root. Every snapshot gets a
// unique location so concurrent installs never share one.
type Manager struct {
	root string
	log  *log.Logger
}

// NewManager creates a manager storing snapshots below root. An empty root
// uses the OS temporary directory.
func NewManager(root string, l *log.Logger) *Manager {
	if root == "" {
		root = filepath.Join(os.TempDir(), "repokeep-backups")
	}
	return &Manager{root: root, log: logger.Component(l, "backup")}
}

// Create copies source into a fresh snapshot location. A missing source is
// not an error and yields an empty snapshot.
func (m *Manager) Create(source string) (*Snapshot, error) {
	snap := &Snapshot{
		ID:        uuid.NewString(),
		Source:    source,
		CreatedAt: time.Now(),
	}
	info, err := os.Stat(source)
	if errors.Is(err, os.ErrNotExist) {
		snap.Empty = true
		return snap, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", source, err)
	}

	snap.Location = filepath.Join(m.root, snap.ID, filepath.Base(source))
	if err := os.MkdirAll(filepath.Dir(snap.Location), 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	if info.IsDir() {
		err = copyDir(source, snap.Location)
	} else {
		snap.IsFile = true
		err = copyFile(source, snap.Location)
	}
	if err != nil {
		_ = os.RemoveAll(filepath.Join(m.root, snap.ID))
		return nil, fmt.Errorf("failed to back up %s: %w", source, err)
	}
	m.log.Debug("Backup created", "source", source, "location", snap.Location)
	return snap, nil
}

// Restore replaces the source with the snapshot contents.
func (m *Manager) Restore(s *Snapshot) error {
	if s == nil {
		return nil
	}
	if err := os.RemoveAll(s.Source); err != nil {
		return fmt.Errorf("failed to remove %s: %w", s.Source, err)
	}
	if s.Empty {
		return nil
	}
	if _, err := os.Stat(s.Location); err != nil {
		return fmt.Errorf("backup not found: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.Source), 0755); err != nil {
		return err
	}
	var err error
	if s.IsFile {
		err = copyFile(s.Location, s.Source)
	} else {
		err = copyDir(s.Location, s.Source)
	}
	if err != nil {
		return fmt.Errorf("failed to restore %s: %w", s.Source, err)
	}
	m.log.Info("Backup restored", "source", s.Source)
	return nil
}

// Cleanup deletes the snapshot storage. Failures are logged only.
func (m *Manager) Cleanup(s *Snapshot) {
	if s == nil || s.Empty {
		return
	}
	if err := os.RemoveAll(filepath.Join(m.root, s.ID)); err != nil {
		m.log.Warn("Failed to clean up backup", "location", s.Location, "err", err)
	}
}

func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm()|0700)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

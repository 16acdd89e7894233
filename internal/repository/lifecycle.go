// Package repository drives one tracked repository through discovery,
// metadata refresh, validation, install, uninstall and removal.
package repository

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/vrsandeep/repokeep/internal/backup"
	"github.com/vrsandeep/repokeep/internal/hosting"
	"github.com/vrsandeep/repokeep/internal/logger"
	"github.com/vrsandeep/repokeep/internal/models"
	"github.com/vrsandeep/repokeep/internal/validation"
)

// State is the lifecycle stage of a repository.
type State int

const (
	StateDiscovered State = iota
	StateRegistered
	StateMetadataFresh
	StateValidated
	StateInstalled
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateRegistered:
		return "registered"
	case StateMetadataFresh:
		return "metadata-fresh"
	case StateValidated:
		return "validated"
	case StateInstalled:
		return "installed"
	case StateRemoved:
		return "removed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Reloader asks the host application to pick up changed content without a
// restart.
type Reloader interface {
	ReloadIntegration(ctx context.Context, domain string) error
	ReloadThemes(ctx context.Context) error
}

// EntryStore keeps per-repository side data.
type EntryStore interface {
	SetEntry(repositoryID, key string, value any) error
	DeleteEntries(repositoryID string) error
}

// Env carries the collaborators every lifecycle operation needs. It is
// built once at startup and shared.
type Env struct {
	Host     hosting.Client
	Pipeline *validation.Pipeline
	Backups  *backup.Manager
	Entries  EntryStore
	Events   models.EventSink
	Reloader Reloader

	// ConfigDir is the managed root of the host application.
	ConfigDir      string
	HostVersion    string
	ManagerVersion string
	ManifestFile   string
	DownloadFanout int
	RemovalTimeout time.Duration
	// RemoveAll deletes installed content; nil means os.RemoveAll.
	RemoveAll func(path string) error

	Log *log.Logger
}

func (e *Env) automated() bool {
	return e.Pipeline != nil && e.Pipeline.Automated()
}

func (e *Env) fanout() int {
	if e.DownloadFanout < 1 {
		return 1
	}
	return e.DownloadFanout
}

func (e *Env) removeAll(path string) error {
	if e.RemoveAll != nil {
		return e.RemoveAll(path)
	}
	return os.RemoveAll(path)
}

func (e *Env) manifestFile() string {
	if e.ManifestFile == "" {
		return "hacs.json"
	}
	return e.ManifestFile
}

// Lifecycle owns one repository record. Operations hold the record's
// serialization slot (op) for their whole duration; field writes also take
// mu so readers can take consistent snapshots while an operation runs.
type Lifecycle struct {
	op sync.Mutex

	mu           sync.RWMutex
	repo         *models.Repository
	state        State
	tree         []string
	treeRef      string
	releases     []hosting.Release
	manifestData []byte
	report       *validation.Report
	errors       []string

	env *Env
	log *log.Logger
}

// New creates a lifecycle for a repository that has not been registered yet.
func New(env *Env, fullName string, category models.Category) *Lifecycle {
	return &Lifecycle{
		env:   env,
		repo:  &models.Repository{FullName: fullName, Category: category, New: true},
		state: StateDiscovered,
		log:   logger.Component(env.Log, "repository").With("repository", fullName),
	}
}

// Restore wraps a record loaded from the store.
func Restore(env *Env, r *models.Repository) *Lifecycle {
	state := StateRegistered
	if r.Installed {
		state = StateInstalled
	}
	return &Lifecycle{
		env:   env,
		repo:  r,
		state: state,
		log:   logger.Component(env.Log, "repository").With("repository", r.FullName),
	}
}

// ID is the stable remote identifier, empty before registration.
func (l *Lifecycle) ID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.repo.ID
}

func (l *Lifecycle) FullName() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.repo.FullName
}

func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Record returns a copy of the repository record.
func (l *Lifecycle) Record() *models.Repository {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copyRecord(l.repo)
}

// Errors returns the non-fatal problems seen by the last refresh.
func (l *Lifecycle) Errors() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.errors...)
}

// Report returns the last validation report, nil when none ran yet.
func (l *Lifecycle) Report() *validation.Report {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.report == nil {
		return nil
	}
	r := *l.report
	return &r
}

func (l *Lifecycle) update(fn func(r *models.Repository)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(l.repo)
}

func (l *Lifecycle) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *Lifecycle) publish(t models.EventType) {
	if l.env.Events == nil {
		return
	}
	l.env.Events.Publish(models.Event{
		ID:           uuid.NewString(),
		Type:         t,
		RepositoryID: l.repo.ID,
		FullName:     l.repo.FullName,
		Time:         time.Now().UTC(),
	})
}

// Remove marks the lifecycle terminal. The caller drops it from the
// registry and store.
func (l *Lifecycle) Remove() {
	l.op.Lock()
	defer l.op.Unlock()
	l.setState(StateRemoved)
	l.log.Info("Repository removed")
}

func copyRecord(r *models.Repository) *models.Repository {
	c := *r
	c.Topics = append([]string(nil), r.Topics...)
	c.PublishedTags = append([]string(nil), r.PublishedTags...)
	c.Manifest.Country = append([]string(nil), r.Manifest.Country...)
	return &c
}

// Package manager is the host-facing surface: it owns the repository set,
// feeds the task queue and persists state once per batch.
package manager

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/vrsandeep/repokeep/internal/hosting"
	"github.com/vrsandeep/repokeep/internal/layout"
	"github.com/vrsandeep/repokeep/internal/logger"
	"github.com/vrsandeep/repokeep/internal/models"
	"github.com/vrsandeep/repokeep/internal/queue"
	"github.com/vrsandeep/repokeep/internal/repository"
	"github.com/vrsandeep/repokeep/internal/store"
	"github.com/vrsandeep/repokeep/internal/util"
	"github.com/vrsandeep/repokeep/internal/validation"
)

var (
	ErrUnknownRepository = errors.New("repository not found")
	ErrRemoved           = errors.New("repository is on the removed list")
)

// BatchError is returned by batch operations in automated mode when any
// repository failed.
type BatchError struct {
	Failures []queue.Failure
}

func (e *BatchError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		names = append(names, fmt.Sprintf("%s (%s): %v", f.RepositoryID, f.Operation, f.Err))
	}
	return fmt.Sprintf("%d repositories failed: %s", len(e.Failures), strings.Join(names, "; "))
}

type Options struct {
	// ForceQuotaDivisor replaces the queue divisor on forced refreshes.
	ForceQuotaDivisor int
	// Country hides repositories restricted to other countries from
	// listings and search.
	Country string
}

// Manager ties the lifecycles, the queue and the store together.
type Manager struct {
	env   *repository.Env
	set   *repository.Set
	queue *queue.Queue
	store *store.Store
	opts  Options
	log   *log.Logger

	mu      sync.Mutex
	removed map[string]string
	persist sync.Mutex
}

func New(env *repository.Env, st *store.Store, q *queue.Queue, opts Options) *Manager {
	return &Manager{
		env:     env,
		set:     repository.NewSet(),
		queue:   q,
		store:   st,
		opts:    opts,
		log:     logger.Component(env.Log, "manager"),
		removed: make(map[string]string),
	}
}

// Load restores the persisted records and the removed list.
func (m *Manager) Load() error {
	records, err := m.store.LoadRepositories()
	if err != nil {
		return fmt.Errorf("failed to load repositories: %w", err)
	}
	for _, r := range records {
		if err := m.set.Add(repository.Restore(m.env, r)); err != nil {
			m.log.Warn("Skipping stored repository", "repository", r.FullName, "err", err)
		}
	}
	removed, err := m.store.RemovedRepositories()
	if err != nil {
		return fmt.Errorf("failed to load removed repositories: %w", err)
	}
	m.mu.Lock()
	m.removed = removed
	m.mu.Unlock()
	m.log.Info("Repositories loaded", "tracked", m.set.Len(), "removed", len(removed))
	return nil
}

func (m *Manager) isRemoved(id, fullName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id != "" {
		_, ok := m.removed[id]
		return ok
	}
	for _, name := range m.removed {
		if strings.EqualFold(name, fullName) {
			return true
		}
	}
	return false
}

// Save persists every tracked record in one transaction.
func (m *Manager) Save() error {
	m.persist.Lock()
	defer m.persist.Unlock()
	lifecycles := m.set.List()
	records := make([]*models.Repository, 0, len(lifecycles))
	for _, l := range lifecycles {
		records = append(records, l.Record())
	}
	if err := m.store.SaveRepositories(records); err != nil {
		return fmt.Errorf("failed to persist repositories: %w", err)
	}
	m.log.Debug("Repositories persisted", "count", len(records))
	return nil
}

func (m *Manager) lifecycle(id string) (*repository.Lifecycle, error) {
	l, ok := m.set.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRepository, id)
	}
	return l, nil
}

// RegisterRepository starts tracking fullName. A renamed repository is
// registered under its new name; an already tracked one is returned as is.
func (m *Manager) RegisterRepository(ctx context.Context, fullName string, category models.Category) (*models.Repository, error) {
	l, err := m.register(ctx, fullName, category)
	if err != nil {
		return nil, err
	}
	if err := m.Save(); err != nil {
		return nil, err
	}
	return l.Record(), nil
}

func (m *Manager) register(ctx context.Context, fullName string, category models.Category) (*repository.Lifecycle, error) {
	if existing, ok := m.set.GetByName(fullName); ok {
		return existing, nil
	}
	l := repository.New(m.env, fullName, category)
	err := l.Register(ctx)
	var renamed *hosting.RenamedError
	if errors.As(err, &renamed) {
		m.log.Info("Repository was renamed, registering new name", "from", fullName, "to", renamed.To)
		if existing, ok := m.set.GetByName(renamed.To); ok {
			return existing, nil
		}
		l = repository.New(m.env, renamed.To, category)
		err = l.Register(ctx)
	}
	if err != nil {
		return nil, err
	}
	if existing, ok := m.set.Get(l.ID()); ok {
		return existing, nil
	}

	if err := l.RefreshMetadata(ctx, true); err != nil {
		if m.env.Pipeline.Automated() || hosting.IsTransient(err) {
			return nil, err
		}
		m.log.Warn("Registered repository without fresh metadata", "repository", l.FullName(), "err", err)
	}
	if err := m.set.Add(l); err != nil {
		return nil, err
	}
	return l, nil
}

// RefreshAll refreshes every tracked repository, or only installed ones,
// through the queue and persists the result once.
func (m *Manager) RefreshAll(ctx context.Context, installedOnly, force bool) error {
	for _, l := range m.set.List() {
		if installedOnly && !l.Record().Installed {
			continue
		}
		m.queue.Add(l.ID(), queue.OpUpdate, func(ctx context.Context) error {
			err := l.RefreshMetadata(ctx, force)
			if errors.Is(err, repository.ErrNotModified) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := m.set.Reindex(l); err != nil {
				m.log.Warn("Renamed repository collides with a tracked one", "repository", l.FullName(), "err", err)
				return err
			}
			return nil
		})
	}
	return m.drain(ctx, force)
}

// Sync registers catalog names that are not tracked or removed and
// refreshes the rest.
func (m *Manager) Sync(ctx context.Context, category models.Category, fullNames []string) error {
	for _, name := range fullNames {
		if m.isRemoved("", name) {
			m.log.Debug("Skipping removed repository", "repository", name)
			continue
		}
		if l, ok := m.set.GetByName(name); ok {
			m.queue.Add(l.ID(), queue.OpUpdate, func(ctx context.Context) error {
				err := l.RefreshMetadata(ctx, false)
				if errors.Is(err, repository.ErrNotModified) {
					return nil
				}
				return err
			})
			continue
		}
		m.queue.Add(strings.ToLower(name), queue.OpRegister, func(ctx context.Context) error {
			l, err := m.register(ctx, name, category)
			if err != nil {
				return err
			}
			if m.isRemoved(l.ID(), "") {
				m.set.Remove(l.ID())
			}
			return nil
		})
	}
	return m.drain(ctx, false)
}

func (m *Manager) drain(ctx context.Context, force bool) error {
	divisor := 0
	if force {
		divisor = m.opts.ForceQuotaDivisor
	}
	err := m.queue.Drain(ctx, divisor)
	if saveErr := m.Save(); saveErr != nil {
		m.log.Error("Batch could not be persisted", "err", saveErr)
		if err == nil {
			err = saveErr
		}
	}
	if err != nil {
		return err
	}
	failures := m.queue.Failures()
	if len(failures) > 0 {
		m.log.Warn("Batch finished with failures", "failed", len(failures))
		if m.env.Pipeline.Automated() {
			return &BatchError{Failures: failures}
		}
	}
	return nil
}

// Failures returns the failures of the last batch.
func (m *Manager) Failures() []queue.Failure {
	return m.queue.Failures()
}

// Install installs or upgrades a repository. An empty ref picks the
// version the version policy prefers.
func (m *Manager) Install(ctx context.Context, id, ref string) (*models.Repository, error) {
	l, err := m.lifecycle(id)
	if err != nil {
		return nil, err
	}
	installErr := l.Install(ctx, ref)
	if err := m.Save(); err != nil {
		return nil, err
	}
	if installErr != nil {
		return nil, installErr
	}
	return l.Record(), nil
}

func (m *Manager) Uninstall(ctx context.Context, id string) (*models.Repository, error) {
	l, err := m.lifecycle(id)
	if err != nil {
		return nil, err
	}
	if err := l.Uninstall(ctx); err != nil {
		return nil, err
	}
	if err := m.Save(); err != nil {
		return nil, err
	}
	return l.Record(), nil
}

// Remove stops tracking a repository. Installed content is uninstalled
// first; the id goes on the removed list.
func (m *Manager) Remove(ctx context.Context, id, reason string) error {
	l, err := m.lifecycle(id)
	if err != nil {
		return err
	}
	if l.Record().Installed {
		if err := l.Uninstall(ctx); err != nil {
			return fmt.Errorf("remove %s: %w", l.FullName(), err)
		}
	}
	l.Remove()
	m.set.Remove(id)

	if err := m.store.MarkRemoved(id, l.FullName(), reason); err != nil {
		return err
	}
	if err := m.store.DeleteRepository(id); err != nil {
		return err
	}
	m.mu.Lock()
	m.removed[id] = l.FullName()
	m.mu.Unlock()
	m.log.Info("Repository removed", "repository", l.FullName(), "reason", reason)
	return nil
}

// Validate refreshes and validates one repository.
func (m *Manager) Validate(ctx context.Context, id string) (validation.Report, error) {
	l, err := m.lifecycle(id)
	if err != nil {
		return validation.Report{}, err
	}
	if err := l.RefreshMetadata(ctx, true); err != nil && !errors.Is(err, repository.ErrNotModified) {
		return validation.Report{}, err
	}
	return l.Validate(ctx)
}

// HandleLocalChanges re-checks the repositories whose installed content
// contains one of paths. It reports how many were found missing.
func (m *Manager) HandleLocalChanges(paths []string) int {
	changed := 0
	for _, l := range m.set.List() {
		r := l.Record()
		if !r.Installed {
			continue
		}
		target := layout.Target(r)
		if target == "" {
			continue
		}
		for _, p := range paths {
			if util.IsWithin(target, filepath.Clean(p)) {
				if l.VerifyLocalContent() {
					changed++
				}
				break
			}
		}
	}
	if changed > 0 {
		if err := m.Save(); err != nil {
			m.log.Error("Failed to persist local changes", "err", err)
		}
	}
	return changed
}

// Get returns the derived status of one repository.
func (m *Manager) Get(id string) (repository.Status, error) {
	l, err := m.lifecycle(id)
	if err != nil {
		return repository.Status{}, err
	}
	return l.Status(), nil
}

// GetByName returns the derived status of the repository tracked under
// fullName.
func (m *Manager) GetByName(fullName string) (repository.Status, error) {
	l, ok := m.set.GetByName(fullName)
	if !ok {
		return repository.Status{}, fmt.Errorf("%w: %s", ErrUnknownRepository, fullName)
	}
	return l.Status(), nil
}

// Filter narrows List.
type Filter struct {
	Category      models.Category
	InstalledOnly bool
	PendingOnly   bool
}

// List returns tracked repositories, hiding those restricted to other
// countries.
func (m *Manager) List(f Filter) []repository.Status {
	var out []repository.Status
	for _, l := range m.set.List() {
		s := l.Status()
		if f.Category != "" && s.Category != f.Category {
			continue
		}
		if f.InstalledOnly && !s.Installed {
			continue
		}
		if f.PendingOnly && !s.PendingUpdate {
			continue
		}
		if s.IgnoredByCountry(m.opts.Country) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// QueueRunning reports whether a batch is in progress.
func (m *Manager) QueueRunning() bool {
	return m.queue.Running()
}

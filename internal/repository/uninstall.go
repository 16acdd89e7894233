package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/vrsandeep/repokeep/internal/layout"
	"github.com/vrsandeep/repokeep/internal/models"
	"github.com/vrsandeep/repokeep/internal/util"
)

const defaultRemovalTimeout = 10 * time.Second

// Uninstall removes the installed content and keeps tracking the repository.
// Targets outside the managed roots are never touched.
func (l *Lifecycle) Uninstall(ctx context.Context) error {
	l.op.Lock()
	defer l.op.Unlock()

	if l.state == StateRemoved {
		return ErrRemoved
	}
	if !l.repo.Installed {
		return fmt.Errorf("%s: %w", l.repo.FullName, ErrNotInstalled)
	}
	if l.repo.Category == models.CategoryIntegration && l.repo.Domain == "" {
		return fmt.Errorf("%s: %w: integration has no domain", l.repo.FullName, ErrUninstallBlocked)
	}
	target := layout.Target(l.repo)
	if target == "" || !util.IsStrictlyWithinAny(layout.Roots(l.env.ConfigDir), target) {
		l.log.Error("Refusing to remove path outside managed roots", "path", target)
		return fmt.Errorf("%s: %w: unsafe path %q", l.repo.FullName, ErrUninstallBlocked, target)
	}

	if err := l.env.removeAll(target); err != nil {
		return fmt.Errorf("%s: %w: %v", l.repo.FullName, ErrUninstallBlocked, err)
	}
	if err := l.waitRemoved(ctx, target); err != nil {
		return fmt.Errorf("%s: %w: %v", l.repo.FullName, ErrUninstallBlocked, err)
	}

	l.afterChange(ctx)
	if l.env.Entries != nil {
		if err := l.env.Entries.DeleteEntries(l.repo.ID); err != nil {
			l.log.Warn("Failed to delete stored entries", "err", err)
		}
	}
	l.update(func(r *models.Repository) {
		r.Installed = false
		r.InstalledVersion = ""
		r.InstalledCommit = ""
		r.SelectedRef = ""
	})
	l.setState(StateRegistered)
	l.publish(models.EventUninstalled)
	l.log.Info("Uninstalled", "path", target)
	return nil
}

// waitRemoved polls until target is gone or the removal timeout passes.
func (l *Lifecycle) waitRemoved(ctx context.Context, target string) error {
	timeout := l.env.RemovalTimeout
	if timeout <= 0 {
		timeout = defaultRemovalTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%s still present after %s", target, timeout)
		case <-tick.C:
		}
	}
}

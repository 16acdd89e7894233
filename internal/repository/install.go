package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vrsandeep/repokeep/internal/backup"
	"github.com/vrsandeep/repokeep/internal/layout"
	"github.com/vrsandeep/repokeep/internal/models"
	"github.com/vrsandeep/repokeep/internal/util"
	"github.com/vrsandeep/repokeep/internal/versions"
)

// Install downloads the repository content at ref, or at the version policy's
// choice when ref is empty. Existing content is snapshotted first and put
// back if any download fails.
func (l *Lifecycle) Install(ctx context.Context, ref string) error {
	l.op.Lock()
	defer l.op.Unlock()

	if l.state == StateRemoved {
		return ErrRemoved
	}
	if l.tree == nil {
		if err := l.refresh(ctx, true); err != nil && !errors.Is(err, ErrNotModified) {
			return err
		}
	}
	if !l.canDownload() {
		return fmt.Errorf("%s: %w: requires host %q and manager %q", l.repo.FullName, ErrIncompatible,
			l.repo.Manifest.Homeassistant, l.repo.Manifest.Hacs)
	}
	if l.report == nil {
		if _, err := l.validate(ctx); err != nil {
			return err
		}
	}
	if !l.report.Passed() {
		return fmt.Errorf("%s: %w: %s", l.repo.FullName, ErrValidationFailed, l.report.Summary())
	}
	if l.repo.LocalPath == "" {
		return fmt.Errorf("%s: no local path could be determined", l.repo.FullName)
	}

	version := ref
	if version == "" {
		version = versions.VersionToDownload(l.repo)
	}
	probe := copyRecord(l.repo)
	probe.SelectedRef = version
	fetchRef := versions.RefToFetch(probe)
	tree := l.tree
	if fetchRef != l.treeRef {
		var err error
		tree, err = l.env.Host.GetDirectoryTree(ctx, l.repo.FullName, fetchRef)
		if err != nil {
			return fmt.Errorf("%s: %w: tree at %s: %v", l.repo.FullName, ErrDownloadFailed, fetchRef, err)
		}
	}

	spec, err := layout.Lookup(l.repo.Category)
	if err != nil {
		return err
	}
	wasInstalled := l.repo.Installed
	target := layout.Target(l.repo)

	persistent, err := l.snapshotPersistent(wasInstalled)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", l.repo.FullName, ErrDownloadFailed, err)
	}

	main, err := l.env.Backups.Create(target)
	if err != nil {
		l.env.Backups.Cleanup(persistent)
		return fmt.Errorf("%s: %w: %v", l.repo.FullName, ErrDownloadFailed, err)
	}
	if wasInstalled && !spec.SingleFile {
		if err := os.RemoveAll(target); err != nil {
			l.log.Warn("Failed to clear previous content", "path", target, "err", err)
		}
	}

	l.log.Info("Installing", "version", version, "ref", fetchRef, "target", target)
	files, errs := l.download(ctx, version, fetchRef, tree)
	if len(errs) > 0 {
		l.rollback(main, persistent)
		return fmt.Errorf("%s: %w: %s", l.repo.FullName, ErrDownloadFailed, strings.Join(errs, "; "))
	}

	if persistent != nil {
		if err := l.env.Backups.Restore(persistent); err != nil {
			l.log.Error("Failed to restore persistent directory", "severity", "critical", "path", persistent.Source, "err", err)
		}
		l.env.Backups.Cleanup(persistent)
	}
	l.env.Backups.Cleanup(main)

	l.update(func(r *models.Repository) {
		r.Installed = true
		r.New = false
		r.InstalledCommit = r.AvailableCommit
		if version == r.DefaultBranch {
			r.InstalledVersion = ""
		} else {
			r.InstalledVersion = version
		}
		if ref != "" {
			r.SelectedRef = ref
		}
	})
	l.afterChange(ctx)
	l.setState(StateInstalled)

	if l.env.Entries != nil {
		if err := l.env.Entries.SetEntry(l.repo.ID, "files", files); err != nil {
			l.log.Warn("Failed to store installed file list", "err", err)
		}
	}
	if wasInstalled {
		l.publish(models.EventUpdated)
	} else {
		l.publish(models.EventInstalled)
	}
	l.log.Info("Installed", "version", l.repo.DisplayInstalledVersion(), "files", len(files))
	return nil
}

func (l *Lifecycle) snapshotPersistent(wasInstalled bool) (*backup.Snapshot, error) {
	dir := l.repo.Manifest.PersistentDirectory
	if dir == "" || !wasInstalled {
		return nil, nil
	}
	source, err := util.SafeJoin(l.repo.LocalPath, dir)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(source); err != nil {
		return nil, nil
	}
	return l.env.Backups.Create(source)
}

func (l *Lifecycle) rollback(main, persistent *backup.Snapshot) {
	if main != nil {
		if err := l.env.Backups.Restore(main); err != nil {
			l.log.Error("Failed to restore backup", "severity", "critical", "path", main.Source, "err", err)
		}
		l.env.Backups.Cleanup(main)
	}
	if persistent != nil {
		if err := l.env.Backups.Restore(persistent); err != nil {
			l.log.Error("Failed to restore persistent directory", "severity", "critical", "path", persistent.Source, "err", err)
		}
		l.env.Backups.Cleanup(persistent)
	}
}

// afterChange applies the category's post install or uninstall strategy.
func (l *Lifecycle) afterChange(ctx context.Context) {
	spec, err := layout.Lookup(l.repo.Category)
	if err != nil {
		return
	}
	switch spec.AfterChange {
	case layout.AfterRestart:
		if l.repo.ConfigFlow && l.env.Reloader != nil {
			err := l.env.Reloader.ReloadIntegration(ctx, l.repo.Domain)
			if err == nil {
				return
			}
			l.log.Warn("Reload failed, restart required", "domain", l.repo.Domain, "err", err)
		}
		l.update(func(r *models.Repository) { r.PendingRestart = true })
	case layout.AfterReloadThemes:
		if l.env.Reloader == nil {
			return
		}
		if err := l.env.Reloader.ReloadThemes(ctx); err != nil {
			l.log.Warn("Theme reload failed", "err", err)
		}
	}
}

// localFile is the destination of a tree path relative to the content root.
func localFile(root, remotePath, p string) (string, error) {
	rel := p
	if remotePath != "" {
		rel = strings.TrimPrefix(p, remotePath+"/")
	}
	return util.SafeJoin(root, rel)
}

func writeFile(dest string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0644)
}

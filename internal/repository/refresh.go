package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/vrsandeep/repokeep/internal/hosting"
	"github.com/vrsandeep/repokeep/internal/layout"
	"github.com/vrsandeep/repokeep/internal/logger"
	"github.com/vrsandeep/repokeep/internal/models"
	"github.com/vrsandeep/repokeep/internal/validation"
	"github.com/vrsandeep/repokeep/internal/versions"
)

// Register fetches the remote attributes of a discovered repository.
// A *hosting.RenamedError tells the caller to register the new name instead.
func (l *Lifecycle) Register(ctx context.Context) error {
	l.op.Lock()
	defer l.op.Unlock()

	if l.state == StateRemoved {
		return ErrRemoved
	}
	if !l.repo.Category.Valid() {
		return fmt.Errorf("unknown category %q", l.repo.Category)
	}

	attrs, _, err := l.env.Host.GetRepository(ctx, l.repo.FullName, "")
	if err != nil {
		return fmt.Errorf("register %s: %w", l.repo.FullName, err)
	}
	if l.repo.ID != "" && attrs.ID != l.repo.ID {
		return fmt.Errorf("register %s: remote id %s does not match %s", l.repo.FullName, attrs.ID, l.repo.ID)
	}
	// The caching token is kept only once a refresh has completed, so a
	// failed first refresh is not masked as not modified later.
	l.update(func(r *models.Repository) { applyAttributes(r, attrs, "") })

	if l.env.automated() && l.repo.Description == "" {
		return fmt.Errorf("register %s: %w", l.repo.FullName, ErrMissingDescription)
	}
	if attrs.Archived {
		l.log.Warn("Repository is archived")
	}
	if l.state < StateRegistered {
		l.setState(StateRegistered)
	}
	l.log.Info("Repository registered", "id", attrs.ID, "category", l.repo.Category)
	return nil
}

// RefreshMetadata re-reads attributes, releases, the manifest and the tree.
// Unless force is set, an uninstalled repository whose caching token still
// matches returns ErrNotModified without touching the record.
func (l *Lifecycle) RefreshMetadata(ctx context.Context, force bool) error {
	l.op.Lock()
	defer l.op.Unlock()
	return l.refresh(ctx, force)
}

func (l *Lifecycle) refresh(ctx context.Context, force bool) error {
	if l.state == StateRemoved {
		return ErrRemoved
	}

	etag := ""
	if !force && !l.repo.Installed {
		etag = l.repo.ETag
	}
	attrs, newTag, err := l.env.Host.GetRepository(ctx, l.repo.FullName, etag)
	var renamed *hosting.RenamedError
	if errors.As(err, &renamed) {
		l.log.Warn("Repository was renamed, following", "to", renamed.To)
		attrs, newTag, err = l.env.Host.GetRepository(ctx, renamed.To, "")
	}
	if errors.Is(err, hosting.ErrNotModified) {
		l.log.Debug("Repository not modified")
		return ErrNotModified
	}
	if err != nil {
		return fmt.Errorf("refresh %s: %w", l.repo.FullName, err)
	}
	if l.repo.ID != "" && attrs.ID != l.repo.ID {
		return fmt.Errorf("refresh %s: remote id %s does not match %s", l.repo.FullName, attrs.ID, l.repo.ID)
	}

	spec, err := layout.Lookup(l.repo.Category)
	if err != nil {
		return err
	}

	releases, err := l.env.Host.GetReleases(ctx, attrs.FullName)
	if err != nil && !errors.Is(err, hosting.ErrNotFound) {
		return fmt.Errorf("refresh %s releases: %w", attrs.FullName, err)
	}
	commit, err := l.env.Host.GetLatestCommit(ctx, attrs.FullName, attrs.DefaultBranch)
	if err != nil {
		return fmt.Errorf("refresh %s commit: %w", attrs.FullName, err)
	}

	// Everything below works on a scratch copy so a failed refresh leaves
	// the record untouched.
	next := copyRecord(l.repo)
	applyAttributes(next, attrs, newTag)
	next.AvailableCommit = commit
	applyReleases(next, releases, spec.Releases)

	ref := versions.RefToFetch(next)
	tree, err := l.env.Host.GetDirectoryTree(ctx, next.FullName, ref)
	if err != nil {
		return fmt.Errorf("refresh %s tree at %s: %w", next.FullName, ref, err)
	}

	var problems []string
	manifestData, err := l.readManifest(ctx, next, tree, ref)
	if err != nil {
		return err
	}

	var assets []string
	if len(releases) > 0 {
		for _, a := range releases[0].Assets {
			assets = append(assets, a.Name)
		}
	}
	content, err := layout.Resolve(next.Category, next.Name(), tree, assets, next.Manifest)
	if err != nil {
		problems = append(problems, err.Error())
		l.log.Warn("Repository content not found", "err", err)
	} else {
		next.RemotePath = content.RemotePath
		next.FileName = content.FileName
	}

	if next.Category == models.CategoryIntegration && err == nil {
		if err := l.readIntegrationManifest(ctx, next, ref); err != nil {
			problems = append(problems, err.Error())
			l.log.Warn("Integration manifest unreadable", "err", err)
		}
	}

	if !next.Installed || next.LocalPath == "" {
		next.LocalPath = layout.LocalPath(l.env.ConfigDir, next)
	}
	next.LastFetched = time.Now().UTC()

	if next.FullName != l.repo.FullName {
		l.log = logger.Component(l.env.Log, "repository").With("repository", next.FullName)
	}

	l.mu.Lock()
	l.repo = next
	l.tree = tree
	l.treeRef = ref
	l.releases = releases
	l.manifestData = manifestData
	l.errors = problems
	l.report = nil
	if l.state < StateMetadataFresh || l.state == StateValidated {
		l.state = StateMetadataFresh
	}
	l.mu.Unlock()

	l.verifyLocalContent()
	l.log.Debug("Metadata refreshed", "ref", ref, "commit", commit, "version", next.AvailableVersion)
	return nil
}

func applyAttributes(r *models.Repository, attrs *hosting.Repository, etag string) {
	if r.ID == "" {
		r.ID = attrs.ID
	}
	r.FullName = attrs.FullName
	r.Description = attrs.Description
	r.Topics = attrs.Topics
	r.Stars = attrs.Stars
	r.Archived = attrs.Archived
	r.DefaultBranch = attrs.DefaultBranch
	r.PushedAt = attrs.PushedAt
	if etag != "" {
		r.ETag = etag
	}
}

func applyReleases(r *models.Repository, releases []hosting.Release, allowed bool) {
	r.PublishedTags = nil
	r.AvailableVersion = ""
	for _, rel := range releases {
		r.PublishedTags = append(r.PublishedTags, rel.Tag)
		if r.AvailableVersion == "" && (!rel.Prerelease || r.ShowBeta) {
			r.AvailableVersion = rel.Tag
		}
	}
	r.Releases = allowed && r.AvailableVersion != ""
}

// readManifest loads and applies the repository manifest. A malformed file
// is always fatal; a missing one only in automated mode.
func (l *Lifecycle) readManifest(ctx context.Context, r *models.Repository, tree []string, ref string) ([]byte, error) {
	name := l.env.manifestFile()
	present := false
	for _, p := range tree {
		if p == name {
			present = true
			break
		}
	}
	if !present {
		if l.env.automated() {
			return nil, fmt.Errorf("%s: %w: %s not found", r.FullName, ErrMissingManifest, name)
		}
		if r.Installed {
			l.log.Warn("Installed repository has no manifest", "file", name)
		}
		r.Manifest = models.Manifest{}
		return nil, nil
	}

	data, err := l.env.Host.GetFileContent(ctx, r.FullName, name, ref)
	if err != nil {
		return nil, fmt.Errorf("read %s of %s: %w", name, r.FullName, err)
	}
	var m models.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", r.FullName, ErrInvalidManifest, err)
	}
	r.Manifest = m
	return data, nil
}

func (l *Lifecycle) readIntegrationManifest(ctx context.Context, r *models.Repository, ref string) error {
	data, err := l.env.Host.GetFileContent(ctx, r.FullName, path.Join(r.RemotePath, "manifest.json"), ref)
	if err != nil {
		return err
	}
	var m models.IntegrationManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("integration manifest: %w", err)
	}
	if m.Domain == "" {
		return errors.New("integration manifest has no domain")
	}
	if r.Installed && r.Domain != "" && r.Domain != m.Domain {
		l.log.Warn("Integration domain changed upstream", "installed", r.Domain, "remote", m.Domain)
	} else {
		r.Domain = m.Domain
	}
	r.IntegrationName = m.Name
	r.ConfigFlow = m.ConfigFlow
	return nil
}

// Validate runs the validation pipeline against the refreshed metadata.
// The error is non-nil only in automated mode or when metadata could not
// be loaded.
func (l *Lifecycle) Validate(ctx context.Context) (validation.Report, error) {
	l.op.Lock()
	defer l.op.Unlock()
	return l.validate(ctx)
}

func (l *Lifecycle) validate(ctx context.Context) (validation.Report, error) {
	if l.state == StateRemoved {
		return validation.Report{}, ErrRemoved
	}
	if l.tree == nil {
		if err := l.refresh(ctx, true); err != nil && !errors.Is(err, ErrNotModified) {
			return validation.Report{}, err
		}
	}

	fullName, ref := l.repo.FullName, l.treeRef
	target := &validation.Target{
		Repository:   copyRecord(l.repo),
		Tree:         l.tree,
		Releases:     l.releases,
		ManifestData: l.manifestData,
		Fetch: func(ctx context.Context, p string) ([]byte, error) {
			return l.env.Host.GetFileContent(ctx, fullName, p, ref)
		},
	}
	report, err := l.env.Pipeline.Run(ctx, target)

	l.mu.Lock()
	l.report = &report
	if report.Passed() && l.state == StateMetadataFresh {
		l.state = StateValidated
	}
	l.mu.Unlock()

	if err != nil {
		return report, fmt.Errorf("%s: %w", fullName, err)
	}
	return report, nil
}

// VerifyLocalContent clears the installed state when the installed files
// were removed behind the manager's back. It reports whether it did.
func (l *Lifecycle) VerifyLocalContent() bool {
	l.op.Lock()
	defer l.op.Unlock()
	return l.verifyLocalContent()
}

func (l *Lifecycle) verifyLocalContent() bool {
	if !l.repo.Installed {
		return false
	}
	target := layout.Target(l.repo)
	if target == "" {
		return false
	}
	if _, err := os.Stat(target); !errors.Is(err, os.ErrNotExist) {
		return false
	}
	l.log.Warn("Installed content is missing, marking as not installed", "path", target)
	l.update(func(r *models.Repository) {
		r.Installed = false
		r.InstalledVersion = ""
		r.InstalledCommit = ""
	})
	if l.state == StateInstalled {
		l.setState(StateMetadataFresh)
	}
	l.publish(models.EventUninstalled)
	return true
}

package repository_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vrsandeep/repokeep/internal/backup"
	"github.com/vrsandeep/repokeep/internal/hosting"
	"github.com/vrsandeep/repokeep/internal/logger"
	"github.com/vrsandeep/repokeep/internal/models"
	"github.com/vrsandeep/repokeep/internal/repository"
	"github.com/vrsandeep/repokeep/internal/store"
	"github.com/vrsandeep/repokeep/internal/testutil"
	"github.com/vrsandeep/repokeep/internal/validation"
)

type fakeReloader struct {
	mu      sync.Mutex
	domains []string
	themes  int
}

func (r *fakeReloader) ReloadIntegration(_ context.Context, domain string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.domains = append(r.domains, domain)
	return nil
}

func (r *fakeReloader) ReloadThemes(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.themes++
	return nil
}

type fixture struct {
	host       *testutil.FakeHost
	events     *testutil.EventRecorder
	store      *store.Store
	reloader   *fakeReloader
	env        *repository.Env
	configDir  string
	backupRoot string
}

func newFixture(t *testing.T, automated bool) *fixture {
	t.Helper()
	reg := validation.NewRegistry()
	require.NoError(t, validation.RegisterDefaults(reg, nil))

	base := t.TempDir()
	f := &fixture{
		host:       testutil.NewFakeHost(),
		events:     &testutil.EventRecorder{},
		store:      store.New(testutil.SetupTestDB(t)),
		reloader:   &fakeReloader{},
		configDir:  filepath.Join(base, "config"),
		backupRoot: filepath.Join(base, "backups"),
	}
	f.env = &repository.Env{
		Host:           f.host,
		Pipeline:       validation.NewPipeline(reg, automated, logger.Discard()),
		Backups:        backup.NewManager(f.backupRoot, logger.Discard()),
		Entries:        f.store,
		Events:         f.events,
		Reloader:       f.reloader,
		ConfigDir:      f.configDir,
		HostVersion:    "2023.12.0",
		ManagerVersion: "2.0.0",
		DownloadFanout: 2,
		RemovalTimeout: time.Second,
		Log:            logger.Discard(),
	}
	return f
}

func (f *fixture) publishWidget(manifest string) *testutil.FakeRepo {
	return f.host.AddRepository("acme/widget", &testutil.FakeRepo{
		Attributes: hosting.Repository{Description: "A widget card"},
		Commits:    map[string]string{"main": "abc123"},
		Files: map[string]map[string]string{
			"main": {
				"hacs.json": manifest,
				"widget.js": "v1",
				"README.md": "# Widget",
			},
		},
	})
}

func (f *fixture) registered(t *testing.T, fullName string, category models.Category) *repository.Lifecycle {
	t.Helper()
	l := repository.New(f.env, fullName, category)
	require.NoError(t, l.Register(context.Background()))
	return l
}

func (f *fixture) eventTypes() []models.EventType {
	var types []models.EventType
	for _, e := range f.events.Events() {
		types = append(types, e.Type)
	}
	return types
}

func TestInstallPluginFromDefaultBranch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.publishWidget(`{"name": "Widget"}`)

	l := f.registered(t, "acme/widget", models.CategoryPlugin)
	assert.Equal(t, repository.StateRegistered, l.State())
	assert.Equal(t, repository.StatusNew, l.Status().DisplayStatus)

	require.NoError(t, l.Install(ctx, ""))

	rec := l.Record()
	assert.True(t, rec.Installed)
	assert.Empty(t, rec.InstalledVersion)
	assert.Equal(t, "abc123", rec.InstalledCommit)
	assert.False(t, rec.New)
	assert.Equal(t, repository.StateInstalled, l.State())

	local := filepath.Join(f.configDir, "www", "community", "widget")
	assert.Equal(t, local, rec.LocalPath)
	assert.Equal(t, map[string]string{"widget.js": "v1"}, testutil.ReadTree(t, local))

	assert.Equal(t, []models.EventType{models.EventInstalled}, f.eventTypes())
	assert.Equal(t, rec.ID, f.events.Events()[0].RepositoryID)

	status := l.Status()
	assert.Equal(t, repository.StatusInstalled, status.DisplayStatus)
	assert.Equal(t, repository.ActionReinstall, status.MainAction)

	var files []string
	found, err := f.store.GetEntry(rec.ID, "files", &files)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"www/community/widget/widget.js"}, files)
}

func TestUpgradeFollowsNewCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.publishWidget(`{"name": "Widget"}`)
	l := f.registered(t, "acme/widget", models.CategoryPlugin)
	require.NoError(t, l.Install(ctx, ""))

	f.host.Update("acme/widget", func(r *testutil.FakeRepo) {
		r.Commits["main"] = "def456"
		r.Files["main"]["widget.js"] = "v2"
	})
	require.NoError(t, l.RefreshMetadata(ctx, false))

	status := l.Status()
	assert.True(t, status.PendingUpdate)
	assert.Equal(t, repository.StatusPendingUpgrade, status.DisplayStatus)
	assert.Equal(t, repository.ActionUpgrade, status.MainAction)

	require.NoError(t, l.Install(ctx, ""))

	rec := l.Record()
	assert.Equal(t, "def456", rec.InstalledCommit)
	assert.False(t, l.Status().PendingUpdate)
	assert.Equal(t, map[string]string{"widget.js": "v2"}, testutil.ReadTree(t, rec.LocalPath))
	assert.Equal(t, []models.EventType{models.EventInstalled, models.EventUpdated}, f.eventTypes())
	// Snapshots are gone once the install returns.
	assert.Empty(t, testutil.ReadTree(t, f.backupRoot))
}

func TestIncompatibleHostBlocksInstall(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.publishWidget(`{"name": "Widget", "homeassistant": "2024.1.0"}`)
	l := f.registered(t, "acme/widget", models.CategoryPlugin)
	require.NoError(t, l.RefreshMetadata(ctx, true))

	status := l.Status()
	assert.False(t, status.CanDownload)
	assert.False(t, status.PendingUpdate)

	before := f.host.Calls("GetFileContent")
	err := l.Install(ctx, "")
	require.ErrorIs(t, err, repository.ErrIncompatible)
	assert.Equal(t, before, f.host.Calls("GetFileContent"))
	assert.Empty(t, testutil.ReadTree(t, f.configDir))
	assert.Empty(t, f.events.Events())
}

func TestPendingUpdateRequiresCompatibility(t *testing.T) {
	r := &models.Repository{
		Installed:       true,
		InstalledCommit: "abc123",
		AvailableCommit: "def456",
		DefaultBranch:   "main",
		Manifest:        models.Manifest{Homeassistant: "2024.1.0"},
	}
	can := repository.CanDownload(r, "2023.12.0", "2.0.0")
	assert.False(t, can)
	assert.False(t, repository.PendingUpdate(r, can))
	assert.True(t, repository.PendingUpdate(r, true))
	assert.Equal(t, repository.StatusInstalled, repository.DisplayStatus(r, can))
}

func TestFailedAssetDownloadRestoresPreviousContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	manifest := `{"name": "Widget"}`
	f.host.AddRepository("acme/widget", &testutil.FakeRepo{
		Attributes: hosting.Repository{Description: "A widget card"},
		Commits:    map[string]string{"main": "abc123"},
		Files: map[string]map[string]string{
			"main":  {"hacs.json": manifest, "README.md": "# Widget"},
			"1.0.0": {"hacs.json": manifest, "README.md": "# Widget"},
		},
		Releases: []hosting.Release{{
			Tag: "1.0.0",
			Assets: []hosting.Asset{
				{Name: "widget.js", URL: "https://dl.test/1.0.0/widget.js"},
				{Name: "widget.js.map", URL: "https://dl.test/1.0.0/widget.js.map"},
			},
		}},
	})
	f.host.AddAsset("https://dl.test/1.0.0/widget.js", []byte("one"))
	f.host.AddAsset("https://dl.test/1.0.0/widget.js.map", []byte("map one"))

	l := f.registered(t, "acme/widget", models.CategoryPlugin)
	require.NoError(t, l.Install(ctx, ""))
	rec := l.Record()
	require.Equal(t, "1.0.0", rec.InstalledVersion)
	before := testutil.ReadTree(t, rec.LocalPath)
	require.Equal(t, map[string]string{"widget.js": "one", "widget.js.map": "map one"}, before)

	f.host.Update("acme/widget", func(r *testutil.FakeRepo) {
		r.Files["1.1.0"] = map[string]string{"hacs.json": manifest}
		r.Releases = append([]hosting.Release{{
			Tag: "1.1.0",
			Assets: []hosting.Asset{
				{Name: "widget.js", URL: "https://dl.test/1.1.0/widget.js"},
				{Name: "widget.js.map", URL: "https://dl.test/1.1.0/widget.js.map"},
			},
		}}, r.Releases...)
	})
	f.host.AddAsset("https://dl.test/1.1.0/widget.js", []byte("two"))
	f.host.AddAsset("https://dl.test/1.1.0/widget.js.map", []byte("map two"))
	f.host.FailNext("DownloadAsset:https://dl.test/1.1.0/widget.js.map", errors.New("connection reset by peer"))

	require.NoError(t, l.RefreshMetadata(ctx, false))
	assert.True(t, l.Status().PendingUpdate)

	err := l.Install(ctx, "")
	require.ErrorIs(t, err, repository.ErrDownloadFailed)
	assert.Contains(t, err.Error(), "connection reset by peer")

	assert.Equal(t, before, testutil.ReadTree(t, rec.LocalPath))
	after := l.Record()
	assert.True(t, after.Installed)
	assert.Equal(t, "1.0.0", after.InstalledVersion)
	assert.Equal(t, []models.EventType{models.EventInstalled}, f.eventTypes())
	assert.Empty(t, testutil.ReadTree(t, f.backupRoot))
}

func TestFailedFirstInstallLeavesNothingBehind(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.publishWidget(`{"name": "Widget"}`)
	l := f.registered(t, "acme/widget", models.CategoryPlugin)

	f.host.FailNext("GetFileContent:widget.js", errors.New("timeout"))
	err := l.Install(ctx, "")
	require.ErrorIs(t, err, repository.ErrDownloadFailed)
	assert.False(t, l.Record().Installed)
	assert.Empty(t, testutil.ReadTree(t, filepath.Join(f.configDir, "www")))
}

func TestRefreshNotModifiedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.publishWidget(`{"name": "Widget"}`)
	l := f.registered(t, "acme/widget", models.CategoryPlugin)
	assert.Empty(t, l.Record().ETag)

	require.NoError(t, l.RefreshMetadata(ctx, false))
	assert.Equal(t, repository.StateMetadataFresh, l.State())
	assert.Equal(t, "abc123", l.Record().AvailableCommit)
	first := l.Record()

	require.ErrorIs(t, l.RefreshMetadata(ctx, false), repository.ErrNotModified)
	require.ErrorIs(t, l.RefreshMetadata(ctx, false), repository.ErrNotModified)
	assert.Equal(t, first, l.Record())
	assert.Equal(t, 1, f.host.Calls("GetDirectoryTree"))

	require.NoError(t, l.RefreshMetadata(ctx, true))
	assert.Equal(t, 2, f.host.Calls("GetDirectoryTree"))
}

func TestFailedRefreshDoesNotKeepCachingToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.publishWidget(`{"name": "Widget"}`)
	l := f.registered(t, "acme/widget", models.CategoryPlugin)

	f.host.FailNext("GetReleases", &hosting.TransientError{StatusCode: 502, Err: errors.New("bad gateway")})
	require.Error(t, l.RefreshMetadata(ctx, true))
	assert.Empty(t, l.Record().ETag)

	require.NoError(t, l.RefreshMetadata(ctx, false))
	rec := l.Record()
	assert.Equal(t, "abc123", rec.AvailableCommit)
	assert.NotEmpty(t, rec.LocalPath)
	assert.NotEmpty(t, rec.ETag)
}

func TestRegisterReportsRename(t *testing.T) {
	f := newFixture(t, false)
	f.publishWidget(`{"name": "Widget"}`)
	f.host.Rename("acme/old-widget", "acme/widget")

	l := repository.New(f.env, "acme/old-widget", models.CategoryPlugin)
	err := l.Register(context.Background())
	var renamed *hosting.RenamedError
	require.ErrorAs(t, err, &renamed)
	assert.Equal(t, "acme/widget", renamed.To)
	assert.Equal(t, repository.StateDiscovered, l.State())
}

func TestRefreshFollowsRename(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	old := f.publishWidget(`{"name": "Widget"}`)
	l := f.registered(t, "acme/widget", models.CategoryPlugin)

	f.host.AddRepository("acme/widget-card", &testutil.FakeRepo{
		Attributes: hosting.Repository{ID: old.Attributes.ID, Description: "A widget card"},
		Commits:    map[string]string{"main": "abc123"},
		Files:      old.Files,
	})
	f.host.Rename("acme/widget", "acme/widget-card")

	require.NoError(t, l.RefreshMetadata(ctx, true))
	assert.Equal(t, "acme/widget-card", l.FullName())
	assert.Equal(t, old.Attributes.ID, l.ID())
}

func TestManifestHandling(t *testing.T) {
	ctx := context.Background()

	t.Run("missing manifest tolerated interactively", func(t *testing.T) {
		f := newFixture(t, false)
		repo := f.publishWidget("")
		delete(repo.Files["main"], "hacs.json")
		l := f.registered(t, "acme/widget", models.CategoryPlugin)
		require.NoError(t, l.RefreshMetadata(ctx, true))
	})

	t.Run("missing manifest fatal in automated mode", func(t *testing.T) {
		f := newFixture(t, true)
		repo := f.publishWidget("")
		delete(repo.Files["main"], "hacs.json")
		l := f.registered(t, "acme/widget", models.CategoryPlugin)
		require.ErrorIs(t, l.RefreshMetadata(ctx, true), repository.ErrMissingManifest)
	})

	t.Run("invalid manifest leaves record untouched", func(t *testing.T) {
		f := newFixture(t, false)
		f.publishWidget(`{"name": "Widget", "homeassistant": "2023.1.0"}`)
		l := f.registered(t, "acme/widget", models.CategoryPlugin)
		require.NoError(t, l.RefreshMetadata(ctx, true))
		before := l.Record()

		f.host.Update("acme/widget", func(r *testutil.FakeRepo) {
			r.Files["main"]["hacs.json"] = `{"name": `
			r.Commits["main"] = "fff000"
		})
		require.ErrorIs(t, l.RefreshMetadata(ctx, true), repository.ErrInvalidManifest)
		assert.Equal(t, before, l.Record())
	})

	t.Run("automated mode requires a description", func(t *testing.T) {
		f := newFixture(t, true)
		repo := f.publishWidget(`{"name": "Widget"}`)
		repo.Attributes.Description = ""
		l := repository.New(f.env, "acme/widget", models.CategoryPlugin)
		require.ErrorIs(t, l.Register(ctx), repository.ErrMissingDescription)
	})
}

func TestValidationFailureBlocksInstall(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	repo := f.publishWidget(`{"name": "Widget"}`)
	repo.Attributes.Archived = true
	l := f.registered(t, "acme/widget", models.CategoryPlugin)

	report, err := l.Validate(ctx)
	require.NoError(t, err)
	assert.False(t, report.Passed())
	assert.Equal(t, repository.StateMetadataFresh, l.State())

	err = l.Install(ctx, "")
	require.ErrorIs(t, err, repository.ErrValidationFailed)
	assert.Contains(t, err.Error(), "1/3 checks failed")
	assert.False(t, l.Record().Installed)
	assert.Empty(t, testutil.ReadTree(t, f.configDir))
}

func TestValidateAdvancesState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.publishWidget(`{"name": "Widget"}`)
	l := f.registered(t, "acme/widget", models.CategoryPlugin)

	report, err := l.Validate(ctx)
	require.NoError(t, err)
	assert.True(t, report.Passed())
	assert.Equal(t, repository.StateValidated, l.State())
	assert.False(t, l.Record().Installed)
}

func TestUninstall(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.publishWidget(`{"name": "Widget"}`)
	l := f.registered(t, "acme/widget", models.CategoryPlugin)
	require.NoError(t, l.Install(ctx, ""))
	local := l.Record().LocalPath

	require.NoError(t, l.Uninstall(ctx))

	_, err := os.Stat(local)
	assert.True(t, os.IsNotExist(err))
	rec := l.Record()
	assert.False(t, rec.Installed)
	assert.Empty(t, rec.InstalledCommit)
	assert.Equal(t, repository.StateRegistered, l.State())
	assert.Equal(t, []models.EventType{models.EventInstalled, models.EventUninstalled}, f.eventTypes())

	found, err := f.store.GetEntry(rec.ID, "files", &[]string{})
	require.NoError(t, err)
	assert.False(t, found)

	require.ErrorIs(t, l.Uninstall(ctx), repository.ErrNotInstalled)
}

func TestUninstallRefusesUnsafePaths(t *testing.T) {
	f := newFixture(t, false)
	outside := t.TempDir()
	testutil.WriteFiles(t, outside, map[string]string{"keep.txt": "keep"})
	communityRoot := filepath.Join(f.configDir, "www", "community")
	testutil.WriteFiles(t, communityRoot, map[string]string{"other/other.js": "other"})

	for name, path := range map[string]string{
		"outside config": outside,
		"managed root":   communityRoot,
		"escape":         filepath.Join(communityRoot, "..", "..", ".."),
	} {
		t.Run(name, func(t *testing.T) {
			l := repository.Restore(f.env, &models.Repository{
				ID:              "42",
				FullName:        "acme/widget",
				Category:        models.CategoryPlugin,
				Installed:       true,
				InstalledCommit: "abc123",
				LocalPath:       path,
			})
			require.ErrorIs(t, l.Uninstall(context.Background()), repository.ErrUninstallBlocked)
			assert.True(t, l.Record().Installed)
		})
	}
	assert.Equal(t, map[string]string{"keep.txt": "keep"}, testutil.ReadTree(t, outside))
	assert.Equal(t, map[string]string{"other/other.js": "other"}, testutil.ReadTree(t, communityRoot))
}

func TestUninstallBlockedWhenRemovalDoesNotFinish(t *testing.T) {
	for name, remove := range map[string]func(string) error{
		"content lingers": func(string) error { return nil },
		"removal fails":   func(string) error { return errors.New("device busy") },
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, false)
			f.publishWidget(`{"name": "Widget"}`)
			l := f.registered(t, "acme/widget", models.CategoryPlugin)
			require.NoError(t, l.Install(ctx, ""))
			local := l.Record().LocalPath

			f.env.RemoveAll = remove
			f.env.RemovalTimeout = 50 * time.Millisecond
			err := l.Uninstall(ctx)

			require.ErrorIs(t, err, repository.ErrUninstallBlocked)
			rec := l.Record()
			assert.True(t, rec.Installed)
			assert.Equal(t, "abc123", rec.InstalledCommit)
			assert.Equal(t, repository.StateInstalled, l.State())
			assert.DirExists(t, local)
		})
	}
}

func publishIntegration(f *fixture, configFlow bool) {
	integrationManifest := `{"domain": "widget", "name": "Widget", "version": "1.0.0", "config_flow": false}`
	if configFlow {
		integrationManifest = `{"domain": "widget", "name": "Widget", "version": "1.0.0", "config_flow": true}`
	}
	f.host.AddRepository("acme/ha-widget", &testutil.FakeRepo{
		Attributes: hosting.Repository{Description: "Widget integration"},
		Commits:    map[string]string{"main": "abc123"},
		Files: map[string]map[string]string{
			"main": {
				"hacs.json":                              `{"name": "Widget"}`,
				"custom_components/widget/manifest.json": integrationManifest,
				"custom_components/widget/__init__.py":   "# widget",
				"custom_components/widget/.hidden/x":     "x",
			},
		},
	})
}

func TestIntegrationAfterChange(t *testing.T) {
	ctx := context.Background()

	t.Run("config flow reloads", func(t *testing.T) {
		f := newFixture(t, false)
		publishIntegration(f, true)
		l := f.registered(t, "acme/ha-widget", models.CategoryIntegration)
		require.NoError(t, l.Install(ctx, ""))

		rec := l.Record()
		assert.Equal(t, "widget", rec.Domain)
		assert.Equal(t, filepath.Join(f.configDir, "custom_components", "widget"), rec.LocalPath)
		assert.Equal(t, map[string]string{
			"manifest.json": `{"domain": "widget", "name": "Widget", "version": "1.0.0", "config_flow": true}`,
			"__init__.py":   "# widget",
		}, testutil.ReadTree(t, rec.LocalPath))
		assert.Equal(t, []string{"widget"}, f.reloader.domains)
		assert.False(t, l.Status().PendingRestart)
	})

	t.Run("restart required otherwise", func(t *testing.T) {
		f := newFixture(t, false)
		publishIntegration(f, false)
		l := f.registered(t, "acme/ha-widget", models.CategoryIntegration)
		require.NoError(t, l.Install(ctx, ""))

		status := l.Status()
		assert.True(t, status.PendingRestart)
		assert.Equal(t, repository.StatusPendingRestart, status.DisplayStatus)
		assert.Equal(t, repository.ActionReinstall, status.MainAction)
		assert.Empty(t, f.reloader.domains)
	})
}

func TestZipReleaseIsExtracted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	files := map[string]string{
		"hacs.json": `{"name": "Widget", "zip_release": true, "filename": "widget.zip"}`,
		"custom_components/widget/manifest.json": `{"domain": "widget", "name": "Widget", "version": "1.0.0"}`,
	}
	f.host.AddRepository("acme/ha-widget", &testutil.FakeRepo{
		Attributes: hosting.Repository{Description: "Widget integration"},
		Commits:    map[string]string{"main": "abc123"},
		Files:      map[string]map[string]string{"main": files, "1.0.0": files},
		Releases: []hosting.Release{{
			Tag:    "1.0.0",
			Assets: []hosting.Asset{{Name: "widget.zip", URL: "https://dl.test/widget.zip"}},
		}},
	})
	f.host.AddAsset("https://dl.test/widget.zip", testutil.CreateZip(t, map[string]string{
		"manifest.json": `{"domain": "widget"}`,
		"__init__.py":   "zipped",
	}))

	l := f.registered(t, "acme/ha-widget", models.CategoryIntegration)
	require.NoError(t, l.Install(ctx, ""))

	rec := l.Record()
	assert.Equal(t, "1.0.0", rec.InstalledVersion)
	assert.Equal(t, map[string]string{
		"manifest.json": `{"domain": "widget"}`,
		"__init__.py":   "zipped",
	}, testutil.ReadTree(t, rec.LocalPath))
	assert.Equal(t, 1, f.host.Calls("DownloadAsset"))
}

func TestZipReleaseBranchInstallUsesTree(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	files := map[string]string{
		"hacs.json": `{"name": "Widget", "zip_release": true, "filename": "widget.zip"}`,
		"custom_components/widget/manifest.json": `{"domain": "widget", "name": "Widget", "version": "1.0.0"}`,
	}
	f.host.AddRepository("acme/ha-widget", &testutil.FakeRepo{
		Attributes: hosting.Repository{Description: "Widget integration"},
		Commits:    map[string]string{"main": "abc123"},
		Files:      map[string]map[string]string{"main": files, "1.0.0": files},
		Releases: []hosting.Release{{
			Tag:    "1.0.0",
			Assets: []hosting.Asset{{Name: "widget.zip", URL: "https://dl.test/widget.zip"}},
		}},
	})
	f.host.AddAsset("https://dl.test/widget.zip", testutil.CreateZip(t, map[string]string{
		"manifest.json": `{"domain": "widget"}`,
		"__init__.py":   "zipped",
	}))

	l := f.registered(t, "acme/ha-widget", models.CategoryIntegration)
	require.NoError(t, l.Install(ctx, "main"))

	rec := l.Record()
	assert.Empty(t, rec.InstalledVersion)
	assert.Equal(t, "abc123", rec.InstalledCommit)
	assert.Equal(t, map[string]string{
		"manifest.json": `{"domain": "widget", "name": "Widget", "version": "1.0.0"}`,
	}, testutil.ReadTree(t, rec.LocalPath))
	assert.Equal(t, 0, f.host.Calls("DownloadAsset"))
}

func TestPersistentDirectorySurvivesReinstall(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.publishWidget(`{"name": "Widget", "persistent_directory": "data"}`)
	l := f.registered(t, "acme/widget", models.CategoryPlugin)
	require.NoError(t, l.Install(ctx, ""))
	local := l.Record().LocalPath
	testutil.WriteFiles(t, local, map[string]string{"data/settings.json": "{}"})

	f.host.Update("acme/widget", func(r *testutil.FakeRepo) {
		r.Commits["main"] = "def456"
		r.Files["main"]["widget.js"] = "v2"
	})
	require.NoError(t, l.RefreshMetadata(ctx, false))
	require.NoError(t, l.Install(ctx, ""))

	assert.Equal(t, map[string]string{
		"widget.js":          "v2",
		"data/settings.json": "{}",
	}, testutil.ReadTree(t, local))
}

func TestVerifyLocalContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.publishWidget(`{"name": "Widget"}`)
	l := f.registered(t, "acme/widget", models.CategoryPlugin)
	require.NoError(t, l.Install(ctx, ""))
	assert.False(t, l.VerifyLocalContent())

	require.NoError(t, os.RemoveAll(l.Record().LocalPath))
	assert.True(t, l.VerifyLocalContent())
	assert.False(t, l.Record().Installed)
	assert.Equal(t, []models.EventType{models.EventInstalled, models.EventUninstalled}, f.eventTypes())
}

func TestRemovedLifecycleRejectsOperations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.publishWidget(`{"name": "Widget"}`)
	l := f.registered(t, "acme/widget", models.CategoryPlugin)
	l.Remove()

	assert.Equal(t, repository.StateRemoved, l.State())
	assert.ErrorIs(t, l.RefreshMetadata(ctx, true), repository.ErrRemoved)
	assert.ErrorIs(t, l.Install(ctx, ""), repository.ErrRemoved)
}

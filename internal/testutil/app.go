package testutil

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/vrsandeep/repokeep/internal/config"
	"github.com/vrsandeep/repokeep/internal/core"
)

// TestConfig returns the default configuration rooted in a temporary
// directory.
func TestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Failed to load default config: %v", err)
	}
	base := t.TempDir()
	cfg.ConfigDir = filepath.Join(base, "config")
	cfg.Database.Path = filepath.Join(base, "repokeep.db")
	cfg.Install.BackupDir = filepath.Join(base, "backups")
	cfg.Versions.Host = "2024.6.0"
	cfg.Validation.BrandsRepository = ""
	cfg.Queue.RetryDelayMS = 1
	return cfg
}

// SetupTestApp builds a full application against host. mutate may adjust
// the config before the app is created.
func SetupTestApp(t *testing.T, host *FakeHost, mutate func(*config.Config)) *core.App {
	t.Helper()
	cfg := TestConfig(t)
	if mutate != nil {
		mutate(cfg)
	}
	app, err := core.New(cfg, core.Options{Host: host, LogOutput: io.Discard})
	if err != nil {
		t.Fatalf("Failed to create app: %v", err)
	}
	t.Cleanup(app.Close)
	return app
}

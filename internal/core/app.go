package core

import (
	"database/sql"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/vrsandeep/repokeep/internal/backup"
	"github.com/vrsandeep/repokeep/internal/config"
	"github.com/vrsandeep/repokeep/internal/db"
	"github.com/vrsandeep/repokeep/internal/hosting"
	"github.com/vrsandeep/repokeep/internal/jobs"
	"github.com/vrsandeep/repokeep/internal/logger"
	"github.com/vrsandeep/repokeep/internal/manager"
	"github.com/vrsandeep/repokeep/internal/queue"
	"github.com/vrsandeep/repokeep/internal/repository"
	"github.com/vrsandeep/repokeep/internal/store"
	"github.com/vrsandeep/repokeep/internal/util"
	"github.com/vrsandeep/repokeep/internal/validation"
	"github.com/vrsandeep/repokeep/internal/websocket"
)

// Version is the manager version reported by the API and used for the
// minimum manager version check when none is configured.
const Version = "1.4.0"

// Options replaces collaborators that are otherwise built from the config.
type Options struct {
	// Host overrides the GitHub client.
	Host hosting.Client
	// Reloader lets the host application reload integrations and themes.
	// Without one every such change waits for a restart.
	Reloader repository.Reloader
	// LogOutput defaults to stderr.
	LogOutput io.Writer
}

// App holds the core components of the application that are shared
// between the server, the CLI and the CI entry point.
type App struct {
	Version string

	config     *config.Config
	db         *sql.DB
	log        *log.Logger
	store      *store.Store
	host       hosting.Client
	manager    *manager.Manager
	jobManager *jobs.JobManager
	wsHub      *websocket.Hub
}

// New sets up and returns a new App instance. It opens the database, runs
// migrations and restores the tracked repositories.
func New(cfg *config.Config, opts Options) (*App, error) {
	l := logger.New(opts.LogOutput, cfg.LogLevel)

	if err := util.EnsureWritableDir(cfg.ConfigDir); err != nil {
		return nil, fmt.Errorf("config directory is not usable: %w", err)
	}

	database, err := db.InitDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.RunMigrations(database, l); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}
	st := store.New(database)

	host := opts.Host
	if host == nil {
		host = hosting.NewGitHub(hosting.Options{
			APIURL:  cfg.Hosting.APIURL,
			GitURL:  cfg.Hosting.GitURL,
			Token:   cfg.Hosting.Token,
			Timeout: cfg.HostingTimeout(),
		}, l)
	}

	registry := validation.NewRegistry()
	var brands validation.BrandsSource
	if cfg.Validation.BrandsRepository != "" {
		brands = validation.HostedBrands(host, cfg.Validation.BrandsRepository)
	}
	if err := validation.RegisterDefaults(registry, brands); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to register validation checks: %w", err)
	}

	hub := websocket.NewHubWithLogger(l)

	managerVersion := cfg.Versions.Manager
	if managerVersion == "" {
		managerVersion = Version
	}
	env := &repository.Env{
		Host:           host,
		Pipeline:       validation.NewPipeline(registry, cfg.Automated, l),
		Backups:        backup.NewManager(cfg.Install.BackupDir, l),
		Entries:        st,
		Events:         hub,
		Reloader:       opts.Reloader,
		ConfigDir:      cfg.ConfigDir,
		HostVersion:    cfg.Versions.Host,
		ManagerVersion: managerVersion,
		ManifestFile:   cfg.Install.ManifestFile,
		DownloadFanout: cfg.Install.DownloadFanout,
		RemovalTimeout: cfg.RemovalTimeout(),
		Log:            l,
	}

	q := queue.New(queue.Options{
		MaxConcurrent: cfg.Queue.MaxConcurrent,
		QuotaDivisor:  cfg.Queue.QuotaDivisor,
		MaxAttempts:   cfg.Queue.MaxAttempts,
		RetryDelay:    cfg.RetryDelay(),
		IdleDelay:     cfg.IdleDelay(),
	}, host.RemainingQuota, l)

	mgr := manager.New(env, st, q, manager.Options{
		ForceQuotaDivisor: cfg.Queue.ForceQuotaDivisor,
		Country:           cfg.Country,
	})
	if err := mgr.Load(); err != nil {
		database.Close()
		return nil, err
	}

	jm := jobs.NewManager(l)
	jobs.RegisterRefreshJobs(jm, mgr)

	l.Info("Core application setup complete", "config_dir", cfg.ConfigDir, "automated", cfg.Automated)
	return &App{
		Version:    Version,
		config:     cfg,
		db:         database,
		log:        l,
		store:      st,
		host:       host,
		manager:    mgr,
		jobManager: jm,
		wsHub:      hub,
	}, nil
}

func (a *App) Config() *config.Config       { return a.config }
func (a *App) DB() *sql.DB                  { return a.db }
func (a *App) Logger() *log.Logger          { return a.log }
func (a *App) Store() *store.Store          { return a.store }
func (a *App) Host() hosting.Client         { return a.host }
func (a *App) Manager() *manager.Manager    { return a.manager }
func (a *App) JobManager() *jobs.JobManager { return a.jobManager }
func (a *App) WsHub() *websocket.Hub        { return a.wsHub }

// Schedule returns the configured refresh intervals.
func (a *App) Schedule() jobs.Schedule {
	return jobs.Schedule{
		jobs.JobRefreshInstalled: a.config.Schedule.InstalledInterval,
		jobs.JobRefreshAll:       a.config.Schedule.FullInterval,
	}
}

// Close gracefully closes the application's resources, like the DB connection.
func (a *App) Close() {
	a.jobManager.Wait()
	if a.db != nil {
		a.db.Close()
	}
}

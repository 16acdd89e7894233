// Package cli implements the repokeep command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/vrsandeep/repokeep/internal/config"
	"github.com/vrsandeep/repokeep/internal/core"
	"github.com/vrsandeep/repokeep/internal/hosting"
)

// Options replaces collaborators for embedding and tests.
type Options struct {
	// Host overrides the GitHub client.
	Host hosting.Client
	// Config, when set, is used instead of loading the config file.
	Config *config.Config
	// LogOutput receives the structured log; stdout/stderr come from cobra.
	LogOutput io.Writer
}

type state struct {
	opts       Options
	configFile string
	configDir  string
	automated  bool
	verbose    bool
}

// Execute runs the root command with the process arguments.
func Execute() {
	if err := NewRootCommand(Options{}).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// NewRootCommand builds the command tree.
func NewRootCommand(opts Options) *cobra.Command {
	st := &state{opts: opts}
	root := &cobra.Command{
		Use:     "repokeep",
		Short:   "Manage community repositories for a home automation host",
		Version: core.Version,
		Long: `repokeep tracks community repositories on GitHub, installs their content
into the host's config directory and keeps it up to date.

Quick start:
  repokeep register owner/name --category plugin
  repokeep install owner/name
  repokeep serve`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&st.configFile, "config", "", "config file (default ./config.yml)")
	root.PersistentFlags().StringVar(&st.configDir, "config-dir", "", "managed config directory of the host")
	root.PersistentFlags().BoolVar(&st.automated, "automated", false, "CI mode: every validation check applies and failures are fatal")
	root.PersistentFlags().BoolVarP(&st.verbose, "verbose", "v", false, "Enable verbose/debug logging")

	root.AddCommand(
		newServeCmd(st),
		newRegisterCmd(st),
		newInstallCmd(st),
		newUninstallCmd(st),
		newRemoveCmd(st),
		newRefreshCmd(st),
		newListCmd(st),
		newSearchCmd(st),
		newSyncCmd(st),
		newValidateCmd(st),
		newTokenCmd(),
	)
	return root
}

func (st *state) loadConfig() (*config.Config, error) {
	cfg := st.opts.Config
	if cfg == nil {
		var err error
		cfg, err = config.LoadFile(st.configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
	}
	if st.configDir != "" {
		cfg.ConfigDir = st.configDir
	}
	if st.automated {
		cfg.Automated = true
	}
	if st.verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func (st *state) openApp() (*core.App, error) {
	cfg, err := st.loadConfig()
	if err != nil {
		return nil, err
	}
	return core.New(cfg, core.Options{Host: st.opts.Host, LogOutput: st.opts.LogOutput})
}

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vrsandeep/repokeep/internal/jobs"
	"github.com/vrsandeep/repokeep/internal/models"
	"github.com/vrsandeep/repokeep/internal/queue"
)

func newSyncCmd(st *state) *cobra.Command {
	var (
		category string
		file     string
	)
	cmd := &cobra.Command{
		Use:   "sync [owner/name...]",
		Short: "Register and refresh a catalog of repositories",
		Long: `Register every catalog entry that is not tracked yet and refresh the rest.
Removed repositories are skipped. Names come from the arguments and from
--file, a JSON array of full names.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := categoryOrDefault(category, models.CategoryIntegration)
			if err != nil {
				return err
			}
			names := append([]string(nil), args...)
			if file != "" {
				more, err := readCatalog(file)
				if err != nil {
					return err
				}
				names = append(names, more...)
			}
			if len(names) == 0 {
				return fmt.Errorf("no repositories given")
			}

			app, err := st.openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			err = app.Manager().Sync(cmd.Context(), c, names)
			reportFailures(cmd, app.Manager().Failures())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Synced %d %s repositories\n", len(names), c)
			return nil
		},
	}
	categoryFlag(cmd, &category)
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file with an array of full names")
	return cmd
}

func readCatalog(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	out := names[:0]
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out, nil
}

func newRefreshCmd(st *state) *cobra.Command {
	var (
		all   bool
		force bool
	)
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Refresh metadata of tracked repositories",
		Long: `Refresh installed repositories, or every tracked one with --all. Changes
are persisted once when the batch finishes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := st.openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			err = app.Manager().RefreshAll(cmd.Context(), !all, force)
			reportFailures(cmd, app.Manager().Failures())
			if err != nil {
				return err
			}
			job := jobs.JobRefreshInstalled
			if all {
				job = jobs.JobRefreshAll
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s finished\n", job)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "refresh every tracked repository")
	cmd.Flags().BoolVar(&force, "force", false, "ignore caching tokens and use the larger quota divisor")
	return cmd
}

func reportFailures(cmd *cobra.Command, failures []queue.Failure) {
	for _, f := range failures {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s %s (%s): %v\n",
			errorText.Render("failed"), f.RepositoryID, f.Operation, f.Err)
	}
}

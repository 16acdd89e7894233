package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/vrsandeep/repokeep/internal/core"
	"github.com/vrsandeep/repokeep/internal/models"
	"github.com/vrsandeep/repokeep/internal/repository"
	"github.com/vrsandeep/repokeep/internal/validation"
)

// ErrChecksFailed is returned by validate when any check failed.
var ErrChecksFailed = errors.New("validation failed")

func categoryFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVarP(target, "category", "c", "", "repository category (integration, plugin, theme, python_script, appdaemon, netdaemon)")
}

func parseCategory(s string) (models.Category, error) {
	c := models.Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// categoryOrDefault parses s, falling back to def when it is empty.
func categoryOrDefault(s string, def models.Category) (models.Category, error) {
	if s == "" {
		return def, nil
	}
	return parseCategory(s)
}

// resolve finds a tracked repository by id or full name.
func resolve(app *core.App, ref string) (repository.Status, error) {
	if s, err := app.Manager().Get(ref); err == nil {
		return s, nil
	}
	return app.Manager().GetByName(ref)
}

func newRegisterCmd(st *state) *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "register <owner/name>",
		Short: "Start tracking a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := parseCategory(category)
			if err != nil {
				return err
			}
			app, err := st.openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			rec, err := app.Manager().RegisterRepository(cmd.Context(), args[0], c)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (%s) as %s\n", rec.FullName, rec.ID, rec.Category)
			return nil
		},
	}
	categoryFlag(cmd, &category)
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func newInstallCmd(st *state) *cobra.Command {
	var ref string
	cmd := &cobra.Command{
		Use:   "install <owner/name|id>",
		Short: "Install or upgrade a tracked repository",
		Long: `Install or upgrade a tracked repository.

Without --ref the newest release is installed, or the default branch when
the repository publishes no releases.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := st.openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			status, err := resolve(app, args[0])
			if err != nil {
				return err
			}
			rec, err := app.Manager().Install(cmd.Context(), status.ID, ref)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n",
				successText.Render("Installed"), rec.FullName, rec.DisplayInstalledVersion())
			return nil
		},
	}
	cmd.Flags().StringVar(&ref, "ref", "", "release tag or branch to install")
	return cmd
}

func newUninstallCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <owner/name|id>",
		Short: "Remove installed content but keep tracking the repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := st.openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			status, err := resolve(app, args[0])
			if err != nil {
				return err
			}
			if _, err := app.Manager().Uninstall(cmd.Context(), status.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Uninstalled %s\n", status.FullName)
			return nil
		},
	}
}

func newRemoveCmd(st *state) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "remove <owner/name|id>",
		Short: "Stop tracking a repository and never register it again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := st.openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			status, err := resolve(app, args[0])
			if err != nil {
				return err
			}
			if err := app.Manager().Remove(cmd.Context(), status.ID, reason); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", status.FullName)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "removed by operator", "reason stored with the removal")
	return cmd
}

func newValidateCmd(st *state) *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "validate <owner/name>",
		Short: "Run the validation checks against a repository",
		Long: `Register (if needed), refresh and validate a repository. With --automated
every check applies and the command exits non-zero when any fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := parseCategory(category)
			if err != nil {
				return err
			}
			app, err := st.openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			_, err = ValidateRepository(cmd.Context(), app, args[0], c, cmd.OutOrStdout())
			return err
		},
	}
	categoryFlag(cmd, &category)
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

// ValidateRepository registers fullName when needed, validates it and
// prints one line per check followed by the summary. A failing report
// returns ErrChecksFailed.
func ValidateRepository(ctx context.Context, app *core.App, fullName string, category models.Category, out io.Writer) (validation.Report, error) {
	rec, err := app.Manager().RegisterRepository(ctx, fullName, category)
	if err != nil {
		return validation.Report{}, err
	}
	report, err := app.Manager().Validate(ctx, rec.ID)
	if err != nil && !errors.Is(err, validation.ErrValidationFailed) {
		return report, err
	}

	for _, r := range report.Results {
		mark := successText.Render("✓")
		line := r.Check
		if !r.Passed {
			mark = errorText.Render("✗")
			line = fmt.Sprintf("%s: %s", r.Check, r.Reason)
		}
		fmt.Fprintf(out, "%s %s\n", mark, line)
	}
	fmt.Fprintln(out, report.Summary())

	if !report.Passed() {
		return report, fmt.Errorf("%w: %s", ErrChecksFailed, report.Summary())
	}
	return report, nil
}

package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/vrsandeep/repokeep/internal/manager"
	"github.com/vrsandeep/repokeep/internal/repository"
)

type listFlags struct {
	category  string
	installed bool
	pending   bool
}

func (f *listFlags) register(cmd *cobra.Command) {
	categoryFlag(cmd, &f.category)
	cmd.Flags().BoolVar(&f.installed, "installed", false, "only installed repositories")
	cmd.Flags().BoolVar(&f.pending, "pending", false, "only repositories with an upgrade available")
}

func (f *listFlags) filter() (manager.Filter, error) {
	filter := manager.Filter{InstalledOnly: f.installed, PendingOnly: f.pending}
	if f.category != "" {
		c, err := parseCategory(f.category)
		if err != nil {
			return filter, err
		}
		filter.Category = c
	}
	return filter, nil
}

func newListCmd(st *state) *cobra.Command {
	flags := &listFlags{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked repositories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := flags.filter()
			if err != nil {
				return err
			}
			app, err := st.openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			statuses := app.Manager().List(filter)
			out := cmd.OutOrStdout()
			if len(statuses) == 0 {
				fmt.Fprintln(out, "No repositories tracked")
				fmt.Fprintln(out, "\nTrack one with: repokeep register <owner/name> --category <category>")
				return nil
			}
			printStatuses(out, statuses)
			fmt.Fprintf(out, "\n%d repositories\n", len(statuses))
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newSearchCmd(st *state) *cobra.Command {
	flags := &listFlags{}
	cmd := &cobra.Command{
		Use:   "search <keyword>",
		Short: "Fuzzy search tracked repositories",
		Long: `Search names, descriptions and topics of tracked repositories.

Example:
  repokeep search weather
  repokeep search card --category plugin`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := flags.filter()
			if err != nil {
				return err
			}
			app, err := st.openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			results := app.Manager().Search(args[0], filter)
			out := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintf(out, "No repositories match %q\n", args[0])
				return nil
			}
			statuses := make([]repository.Status, len(results))
			for i, r := range results {
				statuses[i] = r.Status
			}
			printStatuses(out, statuses)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func printStatuses(out io.Writer, statuses []repository.Status) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
		titleStyle.Render("NAME"),
		titleStyle.Render("REPOSITORY"),
		titleStyle.Render("CATEGORY"),
		titleStyle.Render("INSTALLED"),
		titleStyle.Render("AVAILABLE"),
		titleStyle.Render("STATUS"),
	)
	for _, s := range statuses {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.DisplayName,
			s.FullName,
			s.Category,
			dash(s.InstalledDisplay),
			dash(s.AvailableDisplay),
			formatStatus(s.DisplayStatus),
		)
	}
	_ = w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vrsandeep/repokeep/internal/auth"
)

func newTokenCmd() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Generate an API token and the hash for api.token_hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := auth.GenerateToken()
			if err != nil {
				return err
			}
			hash, err := auth.HashToken(token, cost)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "token:      %s\n", token)
			fmt.Fprintf(out, "token_hash: %s\n", hash)
			fmt.Fprintln(out, mutedText.Render("Put token_hash under api: in config.yml and send the token as a bearer token."))
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", auth.DefaultCost, "bcrypt cost")
	return cmd
}

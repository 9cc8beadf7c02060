package main

import (
	"fmt"

	"github.com/confsync/confsync/internal/client/controlplane"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newConflictsCmd())
}

func newConflictsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List paths held back for manual resolution",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cp, err := newControlClient(cmd)
			if err != nil {
				return err
			}

			var resp controlplane.ConflictsResponse
			if err := cp.get(cmd.Context(), "/v1/conflicts", &resp); err != nil {
				return err
			}

			if asJSON {
				return printJSON(cmd, resp)
			}

			out := cmd.OutOrStdout()
			if len(resp.Conflicts) == 0 {
				fmt.Fprintln(out, green.Render("No conflicts"))
				return nil
			}

			for _, c := range resp.Conflicts {
				fmt.Fprintf(out, "%s %s", yellow.Render(c.Path), gray.Render(c.ConflictID))
				if c.Kind != "" {
					fmt.Fprintf(out, " %s", gray.Render(c.Kind))
				}
				fmt.Fprintln(out)
				if c.Detail != "" {
					fmt.Fprintf(out, "  %s\n", gray.Render(c.Detail))
				}
			}
			fmt.Fprintf(out, "\n%s\n", gray.Render("Resolve with: confsync resolve <path> --policy <policy>"))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw json")

	return cmd
}

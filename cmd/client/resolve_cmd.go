package main

import (
	"fmt"
	"time"

	"github.com/confsync/confsync/internal/client/controlplane"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newResolveCmd())
}

func newResolveCmd() *cobra.Command {
	var policy string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "resolve <path>",
		Short: "Resolve a conflicted path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cp, err := newControlClient(cmd)
			if err != nil {
				return err
			}
			// Resolution runs a sync pass to push the winner out.
			cp.http.Timeout = 150 * time.Second

			req := &controlplane.ResolveRequest{
				Path:   args[0],
				Policy: policy,
			}
			var resp controlplane.ResolveResponse
			if err := cp.post(cmd.Context(), "/v1/conflicts/resolve", req, &resp); err != nil {
				return err
			}

			if asJSON {
				return printJSON(cmd, resp)
			}

			out := cmd.OutOrStdout()
			if resp.Resolved {
				fmt.Fprintf(out, "%s %s\n", green.Render("Resolved"), resp.Path)
			} else {
				fmt.Fprintf(out, "%s %s\n", yellow.Render("Still conflicted"), resp.Path)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&policy, "policy", "p", "", "resolution policy: keep-local, keep-remote, keep-newer or auto-merge (defaults to the configured policy)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw json")

	return cmd
}

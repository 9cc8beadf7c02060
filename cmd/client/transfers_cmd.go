package main

import (
	"fmt"

	"github.com/confsync/confsync/internal/client/controlplane"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newTransfersCmd())
}

func newTransfersCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "transfers",
		Short: "List chunk transfers from the current sync pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cp, err := newControlClient(cmd)
			if err != nil {
				return err
			}

			var resp controlplane.TransfersResponse
			if err := cp.get(cmd.Context(), "/v1/transfers", &resp); err != nil {
				return err
			}

			if asJSON {
				return printJSON(cmd, resp)
			}

			out := cmd.OutOrStdout()
			if len(resp.Transfers) == 0 {
				fmt.Fprintln(out, gray.Render("No transfers in flight"))
				return nil
			}

			for _, tr := range resp.Transfers {
				fmt.Fprintf(out, "%s %s %s %d/%d chunks %s/%s\n",
					cyan.Render(tr.Direction),
					tr.Path,
					gray.Render(tr.Status),
					tr.Completed, tr.Chunks,
					humanize.Bytes(uint64(tr.CompletedBytes)),
					humanize.Bytes(uint64(tr.Size)))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw json")

	return cmd
}

package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/confsync/confsync/internal/client/controlplane"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newSyncCmd())
}

func newSyncCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Trigger a sync pass and wait for it to finish",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cp, err := newControlClient(cmd)
			if err != nil {
				return err
			}
			// A pass walks the whole tree and may move chunks, give it room.
			cp.http.Timeout = 150 * time.Second

			var pass controlplane.PassResponse
			if err := cp.post(cmd.Context(), "/v1/sync/now", nil, &pass); err != nil {
				return err
			}

			if asJSON {
				return printJSON(cmd, pass)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s processed=%d succeeded=%d failed=%d conflicted=%d\n",
				green.Render("Pass complete"), pass.Processed, pass.Succeeded, pass.Failed, pass.Conflicted)

			paths := make([]string, 0, len(pass.Errors))
			for path := range pass.Errors {
				paths = append(paths, path)
			}
			sort.Strings(paths)
			for _, path := range paths {
				fmt.Fprintf(out, "  %s %s: %s\n", red.Render("ERR"), path, pass.Errors[path])
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw json")

	return cmd
}

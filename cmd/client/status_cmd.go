package main

import (
	"fmt"
	"os"
	"time"

	"github.com/confsync/confsync/internal/client/controlplane"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newStatusCmd())
}

func newStatusCmd() *cobra.Command {
	var asJSON bool
	var watch bool
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running daemon's status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cp, err := newControlClient(cmd)
			if err != nil {
				return err
			}

			if !watch {
				return printStatusOnce(cmd, cp, asJSON)
			}

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case <-ticker.C:
					if err := printStatusOnce(cmd, cp, asJSON); err != nil {
						// The daemon may be restarting, keep polling.
						fmt.Fprintf(os.Stderr, "%s %v\n", time.Now().UTC().Format(time.RFC3339), err)
					}
				}
			}
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw json")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "poll the daemon until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", 1*time.Second, "poll interval for --watch")

	return cmd
}

func printStatusOnce(cmd *cobra.Command, cp *controlClient, asJSON bool) error {
	var st controlplane.DaemonStatus
	if err := cp.get(cmd.Context(), "/v1/status", &st); err != nil {
		return err
	}

	if asJSON {
		return printJSON(cmd, st)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", gray.Render("Status "), green.Render(st.Status))
	fmt.Fprintf(out, "%s %s\n", gray.Render("Version"), cyan.Render(st.Version))
	fmt.Fprintf(out, "%s %s\n", gray.Render("Email  "), cyan.Render(st.Email))
	fmt.Fprintf(out, "%s %s\n", gray.Render("Server "), cyan.Render(st.ServerURL))
	fmt.Fprintf(out, "%s %s\n", gray.Render("Replica"), cyan.Render(st.ReplicaID))
	fmt.Fprintf(out, "%s %s\n", gray.Render("Data   "), cyan.Render(st.DataDir))

	link := st.Connectivity
	if st.QueuedPaths > 0 {
		link = fmt.Sprintf("%s, %d queued", link, st.QueuedPaths)
	}
	if st.Connectivity == "online" {
		fmt.Fprintf(out, "%s %s\n", gray.Render("Link   "), green.Render(link))
	} else {
		fmt.Fprintf(out, "%s %s\n", gray.Render("Link   "), yellow.Render(link))
	}

	s := st.Sync
	if s.Comparing+s.Transferring+s.Resolving+s.Conflicted+s.Errored == 0 {
		fmt.Fprintf(out, "%s %s\n", gray.Render("Sync   "), green.Render("settled"))
		return nil
	}
	fmt.Fprintf(out, "%s comparing=%d transferring=%d resolving=%d conflicted=%d errored=%d\n",
		gray.Render("Sync   "), s.Comparing, s.Transferring, s.Resolving, s.Conflicted, s.Errored)
	return nil
}

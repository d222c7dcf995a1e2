package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/openmined/filesync/internal/client"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newSyncCmd())
}

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync round against the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadIdentity(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			c, err := client.New(cfg)
			if err != nil {
				return err
			}

			full, _ := cmd.Flags().GetBool("full")
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Syncing %s with %s:%d\n", cyan(c.RootPath()), c.ServerAddress(), c.ServerPort())

			stats, err := c.RunSync(cmd.Context(), full)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "%s uploaded %d (%s), downloaded %d (%s), deleted %d\n",
				green("Sync complete:"),
				stats.Uploaded, humanize.IBytes(uint64(stats.BytesUp)),
				stats.Downloaded, humanize.IBytes(uint64(stats.BytesDown)),
				stats.Deleted,
			)
			return nil
		},
	}
	cmd.Flags().Bool("full", false, "Send every tracked file instead of only changes")
	return cmd
}

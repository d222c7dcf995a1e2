package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/filesync/internal/client"
	"github.com/openmined/filesync/internal/identity"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newStatusCmd())
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show local sync state without contacting the server",
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
			st, err := c.Status()
			if err != nil {
				return err
			}

			lastSync := "never"
			if !st.LastSync.IsZero() {
				lastSync = fmt.Sprintf("%s (%s)", st.LastSync.Local().Format(time.RFC3339), humanize.Time(st.LastSync))
			}
			serverKey := "not set"
			if key := c.ServerPublicKey(); key != "" {
				serverKey = identity.Fingerprint(key)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Client:     %s\n", cyan(st.ClientID))
			fmt.Fprintf(out, "Server:     %s\n", st.Server)
			fmt.Fprintf(out, "Server key: %s\n", serverKey)
			fmt.Fprintf(out, "Root:       %s\n", st.RootPath)
			fmt.Fprintf(out, "Config:     %s\n", cfg.Path)
			fmt.Fprintf(out, "Last sync:  %s\n", lastSync)
			fmt.Fprintf(out, "Tracked:    %d files, %d pending deletions\n", st.Live, st.Tombstones)
			return nil
		},
	}
}

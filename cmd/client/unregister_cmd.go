package main

import (
	"fmt"

	"github.com/openmined/filesync/internal/client"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newUnregisterCmd())
}

func newUnregisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unregister",
		Short: "Remove this client's registration from the server",
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
			if err := c.Unregister(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", green("Unregistered"), cfg.ClientID)
			return nil
		},
	}
}

package main

import (
	"fmt"

	"github.com/openmined/filesync/internal/identity"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newKeygenCmd())
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a fresh key pair without touching the config",
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := identity.GenerateKeyPair()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "public_key: %s\n", kp.PublicKey)
			fmt.Fprintf(out, "private_key: %s\n", kp.PrivateKey)
			fmt.Fprintf(out, "fingerprint: %s\n", identity.Fingerprint(kp.PublicKey))
			return nil
		},
	}
}

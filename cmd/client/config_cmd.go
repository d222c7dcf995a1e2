package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newConfigCmd())
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Update and save the client configuration",
		Example: `  filesync config --server 10.0.0.5 --port 32111
  filesync config --key <server public key> --root ~/FileSync`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadIdentity(cmd)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("server") {
				cfg.ServerAddress, _ = flags.GetString("server")
			}
			if flags.Changed("port") {
				cfg.ServerPort, _ = flags.GetInt("port")
			}
			if flags.Changed("key") {
				cfg.ServerPublicKey, _ = flags.GetString("key")
			}
			if flags.Changed("root") {
				cfg.RootPath, _ = flags.GetString("root")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			cmd.SilenceUsage = true

			if err := cfg.Save(cfg.Path); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, green("Configuration updated."))
			fmt.Fprintf(out, "Server: %s\n", cfg.Addr())
			fmt.Fprintf(out, "Root:   %s\n", cfg.RootPath)
			return nil
		},
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().StringP("server", "s", "", "Server address")
	cmd.Flags().IntP("port", "p", 0, "Server port")
	cmd.Flags().StringP("key", "k", "", "Server public key (base64)")
	cmd.Flags().StringP("root", "r", "", "Local sync root")
	return cmd
}

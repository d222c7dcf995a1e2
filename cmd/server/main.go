package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/openmined/filesync/internal/identity"
	"github.com/openmined/filesync/internal/server"
	"github.com/openmined/filesync/internal/utils"
	"github.com/openmined/filesync/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	red  = color.New(color.FgHiRed, color.Bold).SprintFunc()
	cyan = color.New(color.FgHiCyan).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:           "filesync-server",
	Short:         "FileSync server",
	Version:       version.Detailed(),
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		logFile, _ := cmd.Flags().GetString("log-file")
		closer, err := utils.SetupLogging(utils.LogOptions{File: logFile, Debug: verbose})
		if err != nil {
			return err
		}
		logCloser = closer
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true

		srv, err := server.New(cfg)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Server public key (share with clients):")
		fmt.Fprintln(out, cyan(cfg.PublicKey))
		fmt.Fprintf(out, "Fingerprint: %s\n", identity.Fingerprint(cfg.PublicKey))

		defer slog.Info("Bye!")
		return srv.Start(cmd.Context())
	},
}

var logCloser interface{ Close() error }

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", server.DefaultConfigPath, "Server config file (created on first run)")
	rootCmd.PersistentFlags().String("log-file", "", "Also write logs to this file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")

	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("bind", "b", "", "Address to listen on")
	rootCmd.Flags().StringP("root", "r", "", "Storage root")
	rootCmd.Flags().String("db", "", "Metadata database path")
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if logCloser != nil {
		logCloser.Close()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, red("error:"), err)
		os.Exit(1)
	}
}

// loadConfig makes sure the config file exists with a key pair, then reads it through
// viper so FILESYNC_SERVER_ environment variables and flags can override it.
func loadConfig(cmd *cobra.Command) (*server.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	path, err := utils.ResolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("config path: %w", err)
	}
	if err := bootstrapConfig(path); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config read '%s': %w", path, err)
	}

	v.SetEnvPrefix("FILESYNC_SERVER")
	v.AutomaticEnv()
	// Unmarshal only sees env vars for keys viper knows, and the file may omit some
	for _, key := range server.ConfigKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}
	for key, flag := range map[string]string{"bind": "bind", "root_path": "root", "db_path": "db"} {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	cfg := server.DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config decode '%s': %w", path, err)
	}
	return cfg, nil
}

// bootstrapConfig writes a default config with fresh keys on first run, and adds keys to
// an existing config that has none.
func bootstrapConfig(path string) error {
	cfg, err := server.LoadConfig(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = server.DefaultConfig()
	} else if err != nil {
		return err
	}

	changed, err := cfg.EnsureKeys()
	if err != nil {
		return fmt.Errorf("server keys: %w", err)
	}
	if !changed && utils.FileExists(path) {
		return nil
	}
	if err := cfg.Save(path); err != nil {
		return err
	}
	slog.Info("server config written", "path", path, "fingerprint", identity.Fingerprint(cfg.PublicKey))
	return nil
}

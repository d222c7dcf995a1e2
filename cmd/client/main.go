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
	"github.com/openmined/filesync/internal/client/config"
	"github.com/openmined/filesync/internal/utils"
	"github.com/openmined/filesync/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	red   = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
	cyan  = color.New(color.FgHiCyan).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:           "filesync",
	Short:         "FileSync client",
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
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeLog()
	},
}

var logCloser interface{ Close() error }

func closeLog() {
	if logCloser != nil {
		logCloser.Close()
		logCloser = nil
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "FileSync config file")
	rootCmd.PersistentFlags().String("log-file", config.DefaultLogPath, "Log file (empty disables)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
}

func main() {
	// a missing .env is fine
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	closeLog()
	if err != nil {
		fmt.Fprintln(os.Stderr, red("error:"), err)
		os.Exit(1)
	}
}

// loadConfig reads the config file named by --config, applies FILESYNC_ environment
// overrides and fills in defaults. A missing file yields the defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	path, err := utils.ResolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("config path: %w", err)
	}

	def := config.Default()
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetDefault("server_address", def.ServerAddress)
	v.SetDefault("server_port", def.ServerPort)
	v.SetDefault("root_path", def.RootPath)
	v.SetDefault("read_timeout", def.ReadTimeout.Std())
	v.SetDefault("write_timeout", def.WriteTimeout.Std())
	v.SetDefault("session_timeout", def.SessionTimeout.Std())

	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config read '%s': %w", path, err)
		}
	}

	v.SetEnvPrefix("FILESYNC")
	v.AutomaticEnv()

	cfg := &config.Config{
		ServerAddress:   v.GetString("server_address"),
		ServerPort:      v.GetInt("server_port"),
		RootPath:        v.GetString("root_path"),
		ClientID:        v.GetString("client_id"),
		PublicKey:       v.GetString("public_key"),
		PrivateKey:      v.GetString("private_key"),
		ServerPublicKey: v.GetString("server_public_key"),
		MaxFrameSize:    v.GetUint32("max_frame_size"),
		ReadTimeout:     config.Duration(v.GetDuration("read_timeout")),
		WriteTimeout:    config.Duration(v.GetDuration("write_timeout")),
		SessionTimeout:  config.Duration(v.GetDuration("session_timeout")),
		Path:            path,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadIdentity is loadConfig plus a one-time identity bootstrap, saved back to disk.
func loadIdentity(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	changed, err := cfg.EnsureIdentity()
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	if changed {
		if err := cfg.Save(cfg.Path); err != nil {
			return nil, err
		}
		slog.Info("client identity created", "client", cfg.ClientID, "config", cfg.Path)
	}
	return cfg, nil
}

package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"securevault/internal/server/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "securevault",
	Short:         "SecureVault file storage server",
	Long:          `SecureVault stores user files under per-user, per-group and system-wide quotas.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd, reconcileCmd, sweepCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and installs the process-wide logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))

	slog.Info("configuration loaded",
		"port", cfg.Port,
		"metadata_backend", cfg.MetadataBackend,
		"storage_backend", cfg.StorageBackend,
		"max_file_size", cfg.MaxFileSize,
	)
	return cfg, nil
}

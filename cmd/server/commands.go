package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"securevault/internal/server/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return migrate(cfg)
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Install default extension rules and settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()
		return a.svc.Seed(cmd.Context())
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Recompute every user's storage usage from their files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		drift, err := a.svc.ReconcileLedgers(cmd.Context())
		if err != nil {
			return err
		}
		for _, d := range drift {
			cmd.Printf("%s\t%d -> %d\n", d.UserID, d.Cached, d.Computed)
		}
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove stored objects that no file references",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		res := storage.NewSweeper(a.store, a.blobs, cfg.SweepInterval, cfg.SweepGracePeriod).RunOnce(cmd.Context())
		slog.Info("sweep finished", "scanned", res.Scanned, "removed", res.Removed, "failed", res.Failed)
		return nil
	},
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"securevault/internal/server/api"
	"securevault/internal/server/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the orphan sweeper",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		identity, err := api.NewIdentity([]byte(cfg.JWTSecret))
		if err != nil {
			return fmt.Errorf("jwt_secret is required to serve: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := migrate(cfg); err != nil {
			return err
		}

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		// The in-memory store starts empty and needs the defaults every run.
		if cfg.MetadataBackend == "memory" {
			if err := a.svc.Seed(ctx); err != nil {
				return err
			}
		}

		// Start orphan sweeper
		sweeper := storage.NewSweeper(a.store, a.blobs, cfg.SweepInterval, cfg.SweepGracePeriod)
		sweeper.Start(ctx)

		// Setup HTTP router
		handler := api.NewHandler(a.svc, a.store)
		e := api.SetupRouter(handler, identity, cfg)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			addr := fmt.Sprintf(":%s", cfg.Port)
			slog.Info("starting server", "addr", addr)
			if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stopped: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			slog.Info("shutting down")

			// Stop accepting new requests, finish in-flight within the timeout
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
			defer cancel()
			if err := e.Shutdown(shutdownCtx); err != nil {
				slog.Error("server forced to shutdown", "error", err)
			}
			return nil
		})

		err = g.Wait()
		stop()
		sweeper.Wait()

		if err != nil {
			return err
		}
		slog.Info("server exited cleanly")
		return nil
	},
}

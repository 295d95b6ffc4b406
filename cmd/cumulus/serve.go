package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cumulusfs/cumulus/internal/logger"
	"github.com/cumulusfs/cumulus/pkg/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx := cmd.Context()

		cat, err := config.CreateCatalog(&cfg.Catalog)
		if err != nil {
			return err
		}

		store, err := config.CreateStore(ctx, &cfg.Storage)
		if err != nil {
			return err
		}

		sessions, err := config.CreateSessions(&cfg.Sessions)
		if err != nil {
			return err
		}
		defer func() {
			if err := sessions.Close(); err != nil {
				logger.Warn("failed to close session store: %v", err)
			}
		}()

		sweeper := config.CreateSweeper(cat, store, cfg)
		sweeper.Start()

		logger.Info("cumulus is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := sweeper.Stop(shutdownCtx); err != nil {
			logger.Error("sweeper shutdown: %v", err)
		}

		logger.Info("server stopped")
		return nil
	},
}

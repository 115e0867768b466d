// Copyright (c) 2025, the PixelStudio contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pixelstudio/pslicense/internal/api"
	"github.com/pixelstudio/pslicense/internal/config"
	"github.com/pixelstudio/pslicense/internal/database"
	"github.com/pixelstudio/pslicense/internal/engine"
)

const shutdownTimeout = 10 * time.Second

// RunServeCommand starts the license server.
func RunServeCommand() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the license server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New(configDir)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if err := cfg.ApplyLogConfig(); err != nil {
				return fmt.Errorf("failed to configure logging: %w", err)
			}

			if err := os.MkdirAll(cfg.Config.DataDir, 0o755); err != nil {
				return fmt.Errorf("failed to create data directory: %w", err)
			}

			db, err := database.New(cfg.DatabasePath(), log.Logger)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer db.Close()

			repo := database.NewLicenseRepo(db)
			eng := engine.New(repo, log.Logger)

			server := api.NewServer(api.Dependencies{
				Engine: eng,
				Repo:   repo,
				Logger: log.Logger,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				if err := server.ListenAndServe(cfg.Config.Host, cfg.Config.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})

			g.Go(func() error {
				<-gctx.Done()
				log.Info().Msg("Shutting down license server")

				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})

			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "directory containing config.toml")

	return cmd
}

// RunGenerateConfigCommand writes a default config.toml without starting
// the server.
func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := configDir
			if dir == "" {
				dir = config.GetDefaultConfigDir()
			}

			if _, err := config.New(dir); err != nil {
				return err
			}

			cmd.Printf("Configuration written to %s\n", filepath.Join(dir, "config.toml"))
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "directory to write config.toml into")

	return cmd
}

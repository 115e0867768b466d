// Copyright (c) 2025, the PixelStudio contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pixelstudio/pslicense/internal/buildinfo"
	"github.com/pixelstudio/pslicense/internal/client"
	"github.com/pixelstudio/pslicense/internal/config"
	"github.com/pixelstudio/pslicense/internal/database"
	"github.com/pixelstudio/pslicense/internal/engine"
)

// RunGenerateCommand mints a new license key against the local database.
// Meant for operators on the server host.
func RunGenerateCommand() *cobra.Command {
	var (
		configDir      string
		maxActivations int
		expiresInDays  int
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new license key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if maxActivations < 1 {
				return fmt.Errorf("--max-activations must be at least 1")
			}

			cfg, err := config.New(configDir)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			db, err := database.New(cfg.DatabasePath(), log.Logger)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer db.Close()

			var expiresAt *time.Time
			if expiresInDays > 0 {
				t := time.Now().UTC().AddDate(0, 0, expiresInDays)
				expiresAt = &t
			}

			eng := engine.New(database.NewLicenseRepo(db), log.Logger)
			license, err := eng.GenerateLicense(cmd.Context(), maxActivations, expiresAt)
			if err != nil {
				return fmt.Errorf("failed to generate license: %w", err)
			}

			cmd.Printf("License key: %s\n", license.LicenseKey)
			cmd.Printf("Max activations: %d\n", license.MaxActivations)
			if license.ExpiresAt != nil {
				cmd.Printf("Expires: %s\n", license.ExpiresAt.Format(time.RFC3339))
			} else {
				cmd.Println("Expires: never")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "directory containing config.toml")
	cmd.Flags().IntVar(&maxActivations, "max-activations", 1, "maximum concurrent machine activations")
	cmd.Flags().IntVar(&expiresInDays, "expires-in-days", 0, "days until expiry, 0 for perpetual")

	return cmd
}

func newAgent(configDir string) (*client.Agent, error) {
	cfg, err := config.New(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	transport := client.NewTransport(
		client.WithBaseURL(cfg.Config.ServerURL),
		client.WithUserAgent(buildinfo.UserAgent),
	)

	return client.NewAgent(cfg.Config.DataDir, transport, log.Logger), nil
}

// RunActivateCommand activates a license key for this machine.
func RunActivateCommand() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "activate <license-key>",
		Short: "Activate a license key on this machine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := newAgent(configDir)
			if err != nil {
				return err
			}

			result := agent.ActivateLicense(cmd.Context(), args[0])
			if !result.Success {
				return fmt.Errorf("%s: %s", result.ErrorType, result.Message)
			}

			cmd.Printf("%s\n", result.Message)
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "directory containing config.toml")

	return cmd
}

// RunValidateCommand re-validates the stored activation against the server.
func RunValidateCommand() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Re-validate the stored activation with the license server",
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := newAgent(configDir)
			if err != nil {
				return err
			}
			if _, err := agent.LoadActivationState(); err != nil {
				return fmt.Errorf("failed to load activation state: %w", err)
			}

			result := agent.ValidateLicense(cmd.Context())
			if !result.Success {
				return fmt.Errorf("%s: %s", result.ErrorType, result.Message)
			}

			if result.Offline {
				cmd.Println("License server unreachable, running on stored activation")
			} else {
				cmd.Println("License valid")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "directory containing config.toml")

	return cmd
}

// RunStatusCommand prints the local activation state and server health.
func RunStatusCommand() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show license activation status for this machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := newAgent(configDir)
			if err != nil {
				return err
			}

			status, err := agent.LoadActivationState()
			if err != nil {
				return fmt.Errorf("failed to load activation state: %w", err)
			}

			identity := agent.MachineID()
			cmd.Printf("Machine id: %s (%s)\n", identity.ID, identity.Source)

			if !status.Activated {
				cmd.Println("License: not activated")
			} else {
				cmd.Printf("License: %s\n", status.LicenseKey)
				cmd.Printf("Activated: %s\n", status.ActivatedAt.Format(time.RFC3339))
				cmd.Printf("Last validated: %s\n", status.LastValidatedAt.Format(time.RFC3339))
				if status.OfflineWarning {
					cmd.Printf("Warning: no successful validation for %d days\n", status.OfflineDays)
				}
				if status.RevalidateRecommended {
					cmd.Println("Online re-validation recommended")
				}
			}

			if agent.CheckServerStatus(cmd.Context()) {
				cmd.Println("Server: online")
			} else {
				cmd.Println("Server: unreachable")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "directory containing config.toml")

	return cmd
}

// RunDeactivateCommand releases this machine's activation.
func RunDeactivateCommand() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "deactivate",
		Short: "Deactivate the license on this machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := newAgent(configDir)
			if err != nil {
				return err
			}
			if _, err := agent.LoadActivationState(); err != nil {
				return fmt.Errorf("failed to load activation state: %w", err)
			}

			result := agent.DeactivateLicense(cmd.Context())
			if !result.Success {
				return fmt.Errorf("%s: %s", result.ErrorType, result.Message)
			}

			cmd.Printf("%s\n", result.Message)
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "directory containing config.toml")

	return cmd
}

// RunResetCommand discards local activation state without contacting the
// server.
func RunResetCommand() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Discard local activation state",
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := newAgent(configDir)
			if err != nil {
				return err
			}
			if _, err := agent.LoadActivationState(); err != nil {
				cmd.Println("Stored state unreadable, discarding it")
			}

			agent.ResetLicense()
			cmd.Println("Local activation state cleared")
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "directory containing config.toml")

	return cmd
}

// Copyright (c) 2025, the PixelStudio contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package client implements the license agent that runs inside the
// PixelStudio application. It binds the install to a machine, persists
// the activation locally, and tolerates the license server being
// unreachable for a bounded period.
package client

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pixelstudio/pslicense/internal/keycodec"
	"github.com/pixelstudio/pslicense/internal/machineid"
	"github.com/pixelstudio/pslicense/pkg/redact"
)

const (
	// WarnAfterOfflineDays is how long the agent runs without a
	// successful server validation before it starts warning the user.
	WarnAfterOfflineDays = 30

	// RevalidateAfterDays is how long before a loaded activation is
	// flagged as due for an online re-validation. Advisory only.
	RevalidateAfterDays = 90

	activateTimeout = 10 * time.Second
	healthTimeout   = 3 * time.Second
)

// Result is the outcome of an agent operation surfaced to the UI.
type Result struct {
	Success   bool
	Message   string
	ErrorType string

	// Offline is set when the server was unreachable and the agent fell
	// back to its persisted state.
	Offline bool
}

// Status describes the agent's current activation as seen by the UI.
type Status struct {
	Activated       bool
	LicenseKey      string
	MachineID       string
	ActivatedAt     time.Time
	LastValidatedAt time.Time

	OfflineDays           int
	OfflineWarning        bool
	RevalidateRecommended bool
}

// Agent is the client side of the license system.
type Agent struct {
	statePath string
	transport *Transport
	resolver  *machineid.Resolver
	logger    zerolog.Logger

	mu    sync.Mutex
	state *ActivationState

	now func() time.Time
}

// NewAgent creates an agent persisting under dataDir and talking to the
// given transport.
func NewAgent(dataDir string, transport *Transport, logger zerolog.Logger) *Agent {
	return &Agent{
		statePath: filepath.Join(dataDir, stateFileName),
		transport: transport,
		resolver:  machineid.NewResolver(dataDir, logger),
		logger:    logger.With().Str("component", "license-agent").Logger(),
		now:       time.Now,
	}
}

// ActivateLicense activates the given key for this machine and persists
// the activation on success. Malformed keys are rejected locally without
// a network round trip.
func (a *Agent) ActivateLicense(ctx context.Context, rawKey string) Result {
	key, err := keycodec.ValidateFormat(rawKey)
	if err != nil {
		return Result{
			Success:   false,
			Message:   "license key must match PS-XXXX-XXXX-XXXX",
			ErrorType: "VALIDATION_ERROR",
		}
	}

	identity := a.resolver.Resolve()

	ctx, cancel := context.WithTimeout(ctx, activateTimeout)
	defer cancel()

	result, err := a.transport.Activate(ctx, key, identity.ID)
	if err != nil {
		a.logger.Warn().Err(err).Str("licenseKey", redact.LicenseKey(key)).Msg("Activation failed")
		return Result{
			Success:   false,
			Message:   err.Error(),
			ErrorType: ErrorType(err),
		}
	}

	now := a.now()
	state := &ActivationState{
		Active:          true,
		LicenseKey:      key,
		MachineID:       identity.ID,
		ActivatedAt:     now,
		LastValidatedAt: now,
	}

	if err := saveState(a.statePath, state); err != nil {
		// The server accepted the activation. Keep it in memory so this
		// session still works and let the next validation retry the write.
		a.logger.Error().Err(err).Msg("Failed to persist activation state")
	}

	a.mu.Lock()
	a.state = state
	a.mu.Unlock()

	a.logger.Info().
		Str("licenseKey", redact.LicenseKey(key)).
		Str("activationId", result.ActivationID).
		Msg("License activated")

	return Result{Success: true, Message: result.Message}
}

// ValidateLicense re-validates the persisted activation against the
// server. A connectivity failure is not a verdict: the persisted state is
// kept untouched and the result is marked Offline. Only a definitive
// server rejection clears the persisted state; transient server errors
// leave it alone so a flaky backend cannot deactivate an install.
func (a *Agent) ValidateLicense(ctx context.Context) Result {
	state := a.currentState()
	if state == nil || !state.Active {
		return Result{
			Success:   false,
			Message:   "no license activated on this machine",
			ErrorType: "LICENSE_INVALID",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, activateTimeout)
	defer cancel()

	_, err := a.transport.Validate(ctx, state.LicenseKey, state.MachineID)
	if err != nil {
		if IsConnectivityError(err) {
			a.logger.Warn().Err(err).Msg("License server unreachable, running on persisted activation")
			return Result{
				Success: true,
				Message: "license server unreachable, using stored activation",
				Offline: true,
			}
		}

		if IsRejectionError(err) {
			a.logger.Warn().Err(err).Str("licenseKey", redact.LicenseKey(state.LicenseKey)).Msg("License rejected by server")
			if err := a.clearState(); err != nil {
				a.logger.Error().Err(err).Msg("Failed to clear activation state")
			}

			return Result{
				Success:   false,
				Message:   err.Error(),
				ErrorType: ErrorType(err),
			}
		}

		a.logger.Warn().Err(err).Msg("License validation failed, keeping stored activation")
		return Result{
			Success:   false,
			Message:   err.Error(),
			ErrorType: ErrorType(err),
		}
	}

	state.LastValidatedAt = a.now()
	if err := saveState(a.statePath, state); err != nil {
		a.logger.Error().Err(err).Msg("Failed to persist validation timestamp")
	}

	a.mu.Lock()
	a.state = state
	a.mu.Unlock()

	return Result{Success: true, Message: "license valid"}
}

// DeactivateLicense releases the activation on the server and clears the
// persisted state. The server must confirm before local state is touched.
func (a *Agent) DeactivateLicense(ctx context.Context) Result {
	state := a.currentState()
	if state == nil || !state.Active {
		return Result{
			Success:   false,
			Message:   "no license activated on this machine",
			ErrorType: "LICENSE_INVALID",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, activateTimeout)
	defer cancel()

	if err := a.transport.Deactivate(ctx, state.LicenseKey, state.MachineID); err != nil {
		a.logger.Warn().Err(err).Msg("Deactivation failed")
		return Result{
			Success:   false,
			Message:   err.Error(),
			ErrorType: ErrorType(err),
		}
	}

	if err := a.clearState(); err != nil {
		a.logger.Error().Err(err).Msg("Failed to clear activation state")
	}

	a.logger.Info().Str("licenseKey", redact.LicenseKey(state.LicenseKey)).Msg("License deactivated")

	return Result{Success: true, Message: "deactivation successful"}
}

// LoadActivationState reads the persisted state from disk into the agent.
// Absence of the file is a normal never-activated condition.
func (a *Agent) LoadActivationState() (Status, error) {
	state, err := loadState(a.statePath)
	if err != nil {
		return Status{}, err
	}

	a.mu.Lock()
	a.state = state
	a.mu.Unlock()

	return a.Status(), nil
}

// Status reports the current activation without touching the network.
func (a *Agent) Status() Status {
	state := a.currentState()
	if state == nil || !state.Active {
		return Status{}
	}

	days := a.offlineDays(state)

	return Status{
		Activated:             true,
		LicenseKey:            state.LicenseKey,
		MachineID:             state.MachineID,
		ActivatedAt:           state.ActivatedAt,
		LastValidatedAt:       state.LastValidatedAt,
		OfflineDays:           days,
		OfflineWarning:        days > WarnAfterOfflineDays,
		RevalidateRecommended: days > RevalidateAfterDays,
	}
}

// IsActivated reports whether the agent holds an activation.
func (a *Agent) IsActivated() bool {
	state := a.currentState()
	return state != nil && state.Active
}

// OfflineModeDays returns full days since the last successful server
// contact, zero when nothing is activated. Never touches the network.
func (a *Agent) OfflineModeDays() int {
	state := a.currentState()
	if state == nil || !state.Active {
		return 0
	}
	return a.offlineDays(state)
}

// ShouldWarnAboutOfflineMode reports whether the last successful server
// validation is too far in the past.
func (a *Agent) ShouldWarnAboutOfflineMode() bool {
	state := a.currentState()
	if state == nil || !state.Active {
		return false
	}
	return a.offlineDays(state) > WarnAfterOfflineDays
}

// ResetLicense discards the local activation without contacting the
// server. The in-memory reset always succeeds even when deleting the
// state file fails.
func (a *Agent) ResetLicense() {
	if err := removeState(a.statePath); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to remove activation state file")
	}

	a.mu.Lock()
	a.state = nil
	a.mu.Unlock()
}

// CheckServerStatus probes the license server's health endpoint.
func (a *Agent) CheckServerStatus(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	if err := a.transport.Health(ctx); err != nil {
		a.logger.Debug().Err(err).Msg("License server health check failed")
		return false
	}
	return true
}

// MachineID returns this machine's identity.
func (a *Agent) MachineID() machineid.Identity {
	return a.resolver.Resolve()
}

func (a *Agent) currentState() *ActivationState {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == nil {
		return nil
	}
	copied := *a.state
	return &copied
}

func (a *Agent) clearState() error {
	a.mu.Lock()
	a.state = nil
	a.mu.Unlock()
	return removeState(a.statePath)
}

func (a *Agent) offlineDays(state *ActivationState) int {
	if state.LastValidatedAt.IsZero() {
		return 0
	}
	return int(a.now().Sub(state.LastValidatedAt).Hours() / 24)
}


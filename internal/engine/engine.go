// Copyright (c) 2025, the PixelStudio contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package engine implements the license activation state machine.
//
// State per (license key, machine id) pair is derived from store rows,
// never stored: NOT_FOUND, INACTIVE, EXPIRED, NOT_ACTIVATED_ON_MACHINE,
// ACTIVATED, LIMIT_REACHED. Mutating flows run inside a single write
// transaction so the activation counter can never drift from the live
// activation rows, and two concurrent activations cannot both pass the
// limit check.
package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/pixelstudio/pslicense/internal/database"
	"github.com/pixelstudio/pslicense/internal/keycodec"
	"github.com/pixelstudio/pslicense/internal/machineid"
	"github.com/pixelstudio/pslicense/internal/models"
	"github.com/pixelstudio/pslicense/pkg/redact"
)

// Code classifies an engine outcome.
type Code string

const (
	CodeOK                 Code = "OK"
	CodeFormatError        Code = "FORMAT_ERROR"
	CodeNotFound           Code = "NOT_FOUND"
	CodeLicenseInactive    Code = "LICENSE_INACTIVE"
	CodeLicenseExpired     Code = "LICENSE_EXPIRED"
	CodeLimitReached       Code = "LIMIT_REACHED"
	CodeNotActivatedOnThis Code = "NOT_ACTIVATED_ON_MACHINE"
	CodeStorageError       Code = "STORAGE_ERROR"
)

// Outcome is the typed result of an engine operation. Business failures
// are outcomes, not errors; errors never cross the engine boundary.
type Outcome struct {
	OK           bool
	Code         Code
	Message      string
	ActivationID string
	Status       string
	ExpiresAt    *time.Time
}

func failure(code Code, message string) Outcome {
	return Outcome{Code: code, Message: message}
}

func storageFailure() Outcome {
	return failure(CodeStorageError, "license store unavailable, try again later")
}

// Engine enforces the one-license-to-N-machines binding rules against the
// license store.
type Engine struct {
	repo   *database.LicenseRepo
	logger zerolog.Logger
	locks  keyLock
	now    func() time.Time
}

func New(repo *database.LicenseRepo, logger zerolog.Logger) *Engine {
	return &Engine{
		repo:   repo,
		logger: logger.With().Str("component", "engine").Logger(),
		now:    time.Now,
	}
}

// GenerateLicense mints a fresh license key with the given activation
// budget and optional expiry, and stores it active.
func (e *Engine) GenerateLicense(ctx context.Context, maxActivations int, expiresAt *time.Time) (*models.License, error) {
	if maxActivations < 1 {
		maxActivations = 1
	}

	license := &models.License{
		LicenseKey:     keycodec.Generate(),
		Status:         models.LicenseStatusActive,
		MaxActivations: maxActivations,
		ExpiresAt:      expiresAt,
	}

	if err := e.repo.CreateLicense(ctx, license); err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("licenseKey", redact.LicenseKey(license.LicenseKey)).
		Int("maxActivations", maxActivations).
		Msg("license generated")

	return license, nil
}

// Activate binds a license key to a machine, enforcing status, expiry,
// and the activation cap. Re-activating an existing binding is an
// idempotent success that never touches the counter.
func (e *Engine) Activate(ctx context.Context, rawKey, rawMachineID string) Outcome {
	key, mid, out := e.checkFormat(rawKey, rawMachineID)
	if out != nil {
		return *out
	}

	now := e.now().UTC()

	unlock := e.locks.lock(key)
	defer unlock()

	tx, err := e.repo.DB().BeginWrite(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to begin activation transaction")
		return storageFailure()
	}
	defer tx.Rollback()

	license, err := e.repo.GetLicense(ctx, tx, key)
	if err != nil {
		if errors.Is(err, models.ErrLicenseNotFound) {
			tx.Rollback()
			return e.reject(ctx, key, mid, models.ActionActivate, CodeNotFound, "invalid license key")
		}
		e.logger.Error().Err(err).Str("licenseKey", redact.LicenseKey(key)).Msg("failed to look up license")
		return storageFailure()
	}

	if license.Status != models.LicenseStatusActive {
		tx.Rollback()
		return e.reject(ctx, key, mid, models.ActionActivate, CodeLicenseInactive, "license is not active")
	}

	if license.IsExpired(now) {
		tx.Rollback()
		return e.reject(ctx, key, mid, models.ActionActivate, CodeLicenseExpired, "license has expired")
	}

	// Existing binding: idempotent success, counter untouched.
	existing, err := e.repo.GetActivation(ctx, tx, key, mid)
	if err == nil {
		if err := e.repo.TouchActivation(ctx, tx, existing.ID, now); err != nil {
			e.logger.Error().Err(err).Msg("failed to touch activation")
			return storageFailure()
		}
		if err := tx.Commit(); err != nil {
			return storageFailure()
		}

		e.audit(key, mid, models.ActionActivate, CodeOK, "re-validation successful")
		return Outcome{
			OK:           true,
			Code:         CodeOK,
			Message:      "re-validation successful",
			ActivationID: existing.ID,
			Status:       license.Status,
			ExpiresAt:    license.ExpiresAt,
		}
	}
	if !errors.Is(err, models.ErrActivationNotFound) {
		e.logger.Error().Err(err).Msg("failed to look up activation")
		return storageFailure()
	}

	if license.CurrentActivations >= license.MaxActivations {
		tx.Rollback()
		return e.reject(ctx, key, mid, models.ActionActivate, CodeLimitReached,
			"activation limit reached, deactivate another device first")
	}

	activation := &models.Activation{
		ID:              uuid.New().String(),
		LicenseKey:      key,
		MachineID:       mid,
		ActivatedAt:     now,
		LastValidatedAt: now,
	}

	if err := e.repo.InsertActivation(ctx, tx, activation); err != nil {
		e.logger.Error().Err(err).Str("licenseKey", redact.LicenseKey(key)).Msg("failed to insert activation")
		return storageFailure()
	}
	if err := e.repo.IncrementActivationCount(ctx, tx, key); err != nil {
		e.logger.Error().Err(err).Str("licenseKey", redact.LicenseKey(key)).Msg("failed to increment activation count")
		return storageFailure()
	}
	if err := tx.Commit(); err != nil {
		e.logger.Error().Err(err).Msg("failed to commit activation")
		return storageFailure()
	}

	e.logger.Info().
		Str("licenseKey", redact.LicenseKey(key)).
		Str("activationId", activation.ID).
		Msg("license activated")
	e.audit(key, mid, models.ActionActivate, CodeOK, "activation successful")

	return Outcome{
		OK:           true,
		Code:         CodeOK,
		Message:      "activation successful",
		ActivationID: activation.ID,
		Status:       license.Status,
		ExpiresAt:    license.ExpiresAt,
	}
}

// Validate checks whether a license is bound to the given machine and
// refreshes the activation's last_validated_at.
func (e *Engine) Validate(ctx context.Context, rawKey, rawMachineID string) Outcome {
	key, mid, out := e.checkFormat(rawKey, rawMachineID)
	if out != nil {
		return *out
	}

	now := e.now().UTC()

	license, err := e.repo.GetLicense(ctx, e.repo.DB(), key)
	if err != nil {
		if errors.Is(err, models.ErrLicenseNotFound) {
			return e.reject(ctx, key, mid, models.ActionValidate, CodeNotFound, "invalid license key")
		}
		e.logger.Error().Err(err).Str("licenseKey", redact.LicenseKey(key)).Msg("failed to look up license")
		return storageFailure()
	}

	activation, err := e.repo.GetActivation(ctx, e.repo.DB(), key, mid)
	if err != nil {
		if errors.Is(err, models.ErrActivationNotFound) {
			// The license may be globally active and still not bound to
			// this machine; distinct from an inactive license.
			return e.reject(ctx, key, mid, models.ActionValidate, CodeNotActivatedOnThis,
				"license is not activated on this machine")
		}
		e.logger.Error().Err(err).Msg("failed to look up activation")
		return storageFailure()
	}

	if license.IsExpired(now) {
		return e.reject(ctx, key, mid, models.ActionValidate, CodeLicenseExpired, "license has expired")
	}

	if err := e.repo.TouchActivation(ctx, e.repo.DB(), activation.ID, now); err != nil {
		e.logger.Error().Err(err).Msg("failed to touch activation")
		return storageFailure()
	}

	e.audit(key, mid, models.ActionValidate, CodeOK, "validation successful")

	return Outcome{
		OK:           true,
		Code:         CodeOK,
		Message:      "validation successful",
		ActivationID: activation.ID,
		Status:       license.Status,
		ExpiresAt:    license.ExpiresAt,
	}
}

// Deactivate removes the binding for (key, machine) and releases one
// activation slot. The counter floors at zero.
func (e *Engine) Deactivate(ctx context.Context, rawKey, rawMachineID string) Outcome {
	key, mid, out := e.checkFormat(rawKey, rawMachineID)
	if out != nil {
		return *out
	}

	unlock := e.locks.lock(key)
	defer unlock()

	tx, err := e.repo.DB().BeginWrite(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to begin deactivation transaction")
		return storageFailure()
	}
	defer tx.Rollback()

	deleted, err := e.repo.DeleteActivation(ctx, tx, key, mid)
	if err != nil {
		e.logger.Error().Err(err).Str("licenseKey", redact.LicenseKey(key)).Msg("failed to delete activation")
		return storageFailure()
	}

	if !deleted {
		tx.Rollback()
		return e.reject(ctx, key, mid, models.ActionDeactivate, CodeNotFound, "activation not found")
	}

	if err := e.repo.DecrementActivationCount(ctx, tx, key); err != nil {
		e.logger.Error().Err(err).Str("licenseKey", redact.LicenseKey(key)).Msg("failed to decrement activation count")
		return storageFailure()
	}
	if err := tx.Commit(); err != nil {
		return storageFailure()
	}

	e.logger.Info().Str("licenseKey", redact.LicenseKey(key)).Msg("license deactivated")
	e.audit(key, mid, models.ActionDeactivate, CodeOK, "deactivation successful")

	return Outcome{OK: true, Code: CodeOK, Message: "deactivation successful"}
}

// checkFormat normalizes both identifiers. Malformed input never reaches
// the store and is not audited.
func (e *Engine) checkFormat(rawKey, rawMachineID string) (key, mid string, out *Outcome) {
	key, err := keycodec.ValidateFormat(rawKey)
	if err != nil {
		o := failure(CodeFormatError, "license key must match PS-XXXX-XXXX-XXXX")
		return "", "", &o
	}

	mid = strings.ToLower(strings.TrimSpace(rawMachineID))
	if err := machineid.Validate(mid); err != nil {
		o := failure(CodeFormatError, "machine id must be 32 hex characters")
		return "", "", &o
	}

	return key, mid, nil
}

// reject records a business-rule rejection in the audit log and returns
// the matching outcome.
func (e *Engine) reject(ctx context.Context, key, mid, action string, code Code, message string) Outcome {
	e.logger.Debug().
		Str("licenseKey", redact.LicenseKey(key)).
		Str("action", action).
		Str("code", string(code)).
		Msg(message)
	e.audit(key, mid, action, code, message)
	return failure(code, message)
}

// audit appends a validation log entry, fire-and-forget: audit failures
// never fail the user-facing operation.
func (e *Engine) audit(key, mid, action string, code Code, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entry := &models.ValidationLogEntry{
		LicenseKey: key,
		MachineID:  mid,
		Action:     action,
		Outcome:    string(code),
		Reason:     reason,
	}
	if err := e.repo.AppendValidationLog(ctx, entry); err != nil {
		e.logger.Warn().Err(err).Str("licenseKey", redact.LicenseKey(key)).Msg("failed to append validation log")
	}
}


// Copyright (c) 2025, the PixelStudio contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/pixelstudio/pslicense/internal/dbinterface"
	"github.com/pixelstudio/pslicense/internal/models"
)

// LicenseRepo is the durable record of licenses, their activations, and
// the validation audit log. Methods take a Querier so multi-step flows can
// run inside one write transaction.
type LicenseRepo struct {
	db *DB
}

func NewLicenseRepo(db *DB) *LicenseRepo {
	return &LicenseRepo{db: db}
}

// DB returns the underlying database, for callers that need to compose
// repo operations in a transaction.
func (r *LicenseRepo) DB() *DB {
	return r.db
}

// CreateLicense inserts a new license row and backfills its id and
// timestamps.
func (r *LicenseRepo) CreateLicense(ctx context.Context, license *models.License) error {
	now := time.Now().UTC()
	license.CreatedAt = now
	license.UpdatedAt = now

	query := `
		INSERT INTO licenses (license_key, status, max_activations, current_activations, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		license.LicenseKey,
		license.Status,
		license.MaxActivations,
		timeToNullTime(license.ExpiresAt),
		license.CreatedAt,
		license.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "insert license")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	license.ID = int(id)

	return nil
}

// GetLicense retrieves a license by its normalized key.
func (r *LicenseRepo) GetLicense(ctx context.Context, q dbinterface.Querier, licenseKey string) (*models.License, error) {
	query := `
		SELECT id, license_key, status, max_activations, current_activations, expires_at, created_at, updated_at
		FROM licenses
		WHERE license_key = ?
	`

	license := &models.License{}
	var expiresAt sql.NullTime

	err := q.QueryRowContext(ctx, query, licenseKey).Scan(
		&license.ID,
		&license.LicenseKey,
		&license.Status,
		&license.MaxActivations,
		&license.CurrentActivations,
		&expiresAt,
		&license.CreatedAt,
		&license.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrLicenseNotFound
		}
		return nil, err
	}

	if expiresAt.Valid {
		license.ExpiresAt = &expiresAt.Time
	}

	return license, nil
}

// GetActivation retrieves the activation binding (licenseKey, machineID),
// or models.ErrActivationNotFound.
func (r *LicenseRepo) GetActivation(ctx context.Context, q dbinterface.Querier, licenseKey, machineID string) (*models.Activation, error) {
	query := `
		SELECT id, license_key, machine_id, activated_at, last_validated_at
		FROM activations
		WHERE license_key = ? AND machine_id = ?
	`

	activation := &models.Activation{}
	err := q.QueryRowContext(ctx, query, licenseKey, machineID).Scan(
		&activation.ID,
		&activation.LicenseKey,
		&activation.MachineID,
		&activation.ActivatedAt,
		&activation.LastValidatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrActivationNotFound
		}
		return nil, err
	}

	return activation, nil
}

// ListActivations returns all live activations for a license.
func (r *LicenseRepo) ListActivations(ctx context.Context, licenseKey string) ([]*models.Activation, error) {
	query := `
		SELECT id, license_key, machine_id, activated_at, last_validated_at
		FROM activations
		WHERE license_key = ?
		ORDER BY activated_at
	`

	rows, err := r.db.QueryContext(ctx, query, licenseKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activations []*models.Activation
	for rows.Next() {
		activation := &models.Activation{}
		if err := rows.Scan(
			&activation.ID,
			&activation.LicenseKey,
			&activation.MachineID,
			&activation.ActivatedAt,
			&activation.LastValidatedAt,
		); err != nil {
			return nil, err
		}
		activations = append(activations, activation)
	}

	return activations, rows.Err()
}

// InsertActivation creates a new activation row.
func (r *LicenseRepo) InsertActivation(ctx context.Context, q dbinterface.Querier, activation *models.Activation) error {
	query := `
		INSERT INTO activations (id, license_key, machine_id, activated_at, last_validated_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := q.ExecContext(ctx, query,
		activation.ID,
		activation.LicenseKey,
		activation.MachineID,
		activation.ActivatedAt,
		activation.LastValidatedAt,
	)
	return errors.Wrap(err, "insert activation")
}

// DeleteActivation removes the binding for (licenseKey, machineID) and
// reports whether a row matched.
func (r *LicenseRepo) DeleteActivation(ctx context.Context, q dbinterface.Querier, licenseKey, machineID string) (bool, error) {
	result, err := q.ExecContext(ctx,
		"DELETE FROM activations WHERE license_key = ? AND machine_id = ?",
		licenseKey, machineID,
	)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

// IncrementActivationCount bumps a license's live activation counter.
func (r *LicenseRepo) IncrementActivationCount(ctx context.Context, q dbinterface.Querier, licenseKey string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE licenses
		SET current_activations = current_activations + 1, updated_at = ?
		WHERE license_key = ?
	`, time.Now().UTC(), licenseKey)
	return err
}

// DecrementActivationCount lowers the counter, flooring at zero.
func (r *LicenseRepo) DecrementActivationCount(ctx context.Context, q dbinterface.Querier, licenseKey string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE licenses
		SET current_activations = MAX(current_activations - 1, 0), updated_at = ?
		WHERE license_key = ?
	`, time.Now().UTC(), licenseKey)
	return err
}

// TouchActivation updates last_validated_at for an activation.
func (r *LicenseRepo) TouchActivation(ctx context.Context, q dbinterface.Querier, activationID string, when time.Time) error {
	_, err := q.ExecContext(ctx,
		"UPDATE activations SET last_validated_at = ? WHERE id = ?",
		when, activationID,
	)
	return err
}

// AppendValidationLog writes an audit entry. The log is append-only and
// write failures are the caller's problem to ignore: a logging failure
// must not fail the user-facing operation.
func (r *LicenseRepo) AppendValidationLog(ctx context.Context, entry *models.ValidationLogEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO validation_log (license_key, machine_id, action, outcome, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		entry.LicenseKey,
		entry.MachineID,
		entry.Action,
		entry.Outcome,
		entry.Reason,
		time.Now().UTC(),
	)
	return err
}

// ListValidationLog returns the most recent audit entries for a license,
// newest first.
func (r *LicenseRepo) ListValidationLog(ctx context.Context, licenseKey string, limit int) ([]*models.ValidationLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, license_key, machine_id, action, outcome, reason, created_at
		FROM validation_log
		WHERE license_key = ?
		ORDER BY id DESC
		LIMIT ?
	`, licenseKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.ValidationLogEntry
	for rows.Next() {
		entry := &models.ValidationLogEntry{}
		if err := rows.Scan(
			&entry.ID,
			&entry.LicenseKey,
			&entry.MachineID,
			&entry.Action,
			&entry.Outcome,
			&entry.Reason,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Copyright (c) 2025, the PixelStudio contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelstudio/pslicense/internal/models"
)

func newTestRepo(t *testing.T) *LicenseRepo {
	t.Helper()

	db, err := New(filepath.Join(t.TempDir(), "licenses.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewLicenseRepo(db)
}

func TestCreateAndGetLicense(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	expiry := time.Now().Add(365 * 24 * time.Hour).UTC().Truncate(time.Second)
	license := &models.License{
		LicenseKey:     "PS-A4B3-C8D9-E2F1",
		Status:         models.LicenseStatusActive,
		MaxActivations: 3,
		ExpiresAt:      &expiry,
	}

	require.NoError(t, repo.CreateLicense(ctx, license))
	assert.NotZero(t, license.ID)

	stored, err := repo.GetLicense(ctx, repo.DB(), "PS-A4B3-C8D9-E2F1")
	require.NoError(t, err)
	assert.Equal(t, 3, stored.MaxActivations)
	assert.Equal(t, 0, stored.CurrentActivations)
	require.NotNil(t, stored.ExpiresAt)
	assert.True(t, stored.ExpiresAt.Equal(expiry))
}

func TestGetLicense_NotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetLicense(context.Background(), repo.DB(), "PS-0000-0000-0000")
	assert.ErrorIs(t, err, models.ErrLicenseNotFound)
}

func TestCreateLicense_PerpetualHasNilExpiry(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	license := &models.License{
		LicenseKey:     "PS-1111-2222-3333",
		Status:         models.LicenseStatusActive,
		MaxActivations: 1,
	}
	require.NoError(t, repo.CreateLicense(ctx, license))

	stored, err := repo.GetLicense(ctx, repo.DB(), license.LicenseKey)
	require.NoError(t, err)
	assert.Nil(t, stored.ExpiresAt, "null expiry means perpetual")
	assert.False(t, stored.IsExpired(time.Now()))
}

func TestActivationRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	license := &models.License{
		LicenseKey:     "PS-AAAA-BBBB-CCCC",
		Status:         models.LicenseStatusActive,
		MaxActivations: 2,
	}
	require.NoError(t, repo.CreateLicense(ctx, license))

	now := time.Now().UTC().Truncate(time.Second)
	activation := &models.Activation{
		ID:              "act-1",
		LicenseKey:      license.LicenseKey,
		MachineID:       "a1b2c3d4e5f60718293a4b5c6d7e8f90",
		ActivatedAt:     now,
		LastValidatedAt: now,
	}

	tx, err := repo.DB().BeginWrite(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.InsertActivation(ctx, tx, activation))
	require.NoError(t, repo.IncrementActivationCount(ctx, tx, license.LicenseKey))
	require.NoError(t, tx.Commit())

	stored, err := repo.GetActivation(ctx, repo.DB(), license.LicenseKey, activation.MachineID)
	require.NoError(t, err)
	assert.Equal(t, "act-1", stored.ID)

	_, err = repo.GetActivation(ctx, repo.DB(), license.LicenseKey, "ffffffffffffffffffffffffffffffff")
	assert.ErrorIs(t, err, models.ErrActivationNotFound)

	activations, err := repo.ListActivations(ctx, license.LicenseKey)
	require.NoError(t, err)
	require.Len(t, activations, 1)

	later := now.Add(time.Hour)
	require.NoError(t, repo.TouchActivation(ctx, repo.DB(), "act-1", later))

	touched, err := repo.GetActivation(ctx, repo.DB(), license.LicenseKey, activation.MachineID)
	require.NoError(t, err)
	assert.True(t, touched.LastValidatedAt.After(stored.LastValidatedAt))
}

func TestDeleteActivation_ReportsMatch(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	license := &models.License{
		LicenseKey:     "PS-AAAA-BBBB-CCCC",
		Status:         models.LicenseStatusActive,
		MaxActivations: 1,
	}
	require.NoError(t, repo.CreateLicense(ctx, license))

	tx, err := repo.DB().BeginWrite(ctx)
	require.NoError(t, err)
	deleted, err := repo.DeleteActivation(ctx, tx, license.LicenseKey, "a1b2c3d4e5f60718293a4b5c6d7e8f90")
	require.NoError(t, err)
	assert.False(t, deleted, "no row matched")
	require.NoError(t, tx.Commit())
}

func TestDecrementActivationCount_FloorsAtZero(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	license := &models.License{
		LicenseKey:     "PS-AAAA-BBBB-CCCC",
		Status:         models.LicenseStatusActive,
		MaxActivations: 1,
	}
	require.NoError(t, repo.CreateLicense(ctx, license))

	require.NoError(t, repo.DecrementActivationCount(ctx, repo.DB(), license.LicenseKey))
	require.NoError(t, repo.DecrementActivationCount(ctx, repo.DB(), license.LicenseKey))

	stored, err := repo.GetLicense(ctx, repo.DB(), license.LicenseKey)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.CurrentActivations, "counter never goes negative")
}

func TestValidationLogAppendOnly(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i, outcome := range []string{"OK", "LIMIT_REACHED", "OK"} {
		require.NoError(t, repo.AppendValidationLog(ctx, &models.ValidationLogEntry{
			LicenseKey: "PS-AAAA-BBBB-CCCC",
			MachineID:  "a1b2c3d4e5f60718293a4b5c6d7e8f90",
			Action:     models.ActionActivate,
			Outcome:    outcome,
			Reason:     "entry",
		}), "entry %d", i)
	}

	entries, err := repo.ListValidationLog(ctx, "PS-AAAA-BBBB-CCCC", 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "OK", entries[0].Outcome, "newest first")
	assert.Equal(t, "LIMIT_REACHED", entries[1].Outcome)
}

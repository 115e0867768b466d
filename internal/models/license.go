// Copyright (c) 2025, the PixelStudio contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"time"

	"github.com/pkg/errors"
)

var (
	ErrLicenseNotFound    = errors.New("license not found")
	ErrActivationNotFound = errors.New("activation not found")
)

// License represents a sellable license key and its activation budget.
// Expiry is computed from ExpiresAt, never stored as a status value.
type License struct {
	ID                 int        `json:"id"`
	LicenseKey         string     `json:"licenseKey"`
	Status             string     `json:"status"`
	MaxActivations     int        `json:"maxActivations"`
	CurrentActivations int        `json:"currentActivations"`
	ExpiresAt          *time.Time `json:"expiresAt,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// IsExpired reports whether the license has a set expiry in the past.
func (l *License) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}

// Activation is a live binding of one license key to one machine id.
// (license_key, machine_id) is unique together.
type Activation struct {
	ID              string    `json:"id"`
	LicenseKey      string    `json:"licenseKey"`
	MachineID       string    `json:"machineId"`
	ActivatedAt     time.Time `json:"activatedAt"`
	LastValidatedAt time.Time `json:"lastValidatedAt"`
}

// ValidationLogEntry is an append-only audit record of a license operation.
// Entries are never mutated or deleted by normal flows.
type ValidationLogEntry struct {
	ID         int       `json:"id"`
	LicenseKey string    `json:"licenseKey"`
	MachineID  string    `json:"machineId"`
	Action     string    `json:"action"`
	Outcome    string    `json:"outcome"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"createdAt"`
}

// License status constants
const (
	LicenseStatusActive   = "active"
	LicenseStatusInactive = "inactive"
)

// Audit log actions
const (
	ActionActivate   = "activate"
	ActionValidate   = "validate"
	ActionDeactivate = "deactivate"
)

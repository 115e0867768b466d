// Copyright (c) 2025, the PixelStudio contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/pixelstudio/pslicense/internal/database"
	"github.com/pixelstudio/pslicense/internal/engine"
	"github.com/pixelstudio/pslicense/internal/keycodec"
	"github.com/pixelstudio/pslicense/internal/models"
)

// LicenseHandler handles license lifecycle HTTP requests
type LicenseHandler struct {
	engine *engine.Engine
	repo   *database.LicenseRepo
	logger zerolog.Logger
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(eng *engine.Engine, repo *database.LicenseRepo, logger zerolog.Logger) *LicenseHandler {
	return &LicenseHandler{
		engine: eng,
		repo:   repo,
		logger: logger.With().Str("component", "api").Logger(),
	}
}

// LicenseRequest is the shared request body for activate, validate, and
// deactivate.
type LicenseRequest struct {
	LicenseKey string `json:"licenseKey"`
	MachineID  string `json:"machineId"`
}

// ActivateResponse is the success body for activation.
type ActivateResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	ActivationID string `json:"activationId,omitempty"`
}

// ValidateResponse is the success body for validation.
type ValidateResponse struct {
	Success   bool       `json:"success"`
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

// DeactivateResponse is the success body for deactivation.
type DeactivateResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// GenerateLicenseRequest is the operator request to mint keys.
type GenerateLicenseRequest struct {
	MaxActivations int    `json:"maxActivations"`
	ExpiresAt      string `json:"expiresAt,omitempty"`
}

// LicenseDetails is the operator view of a license and its bindings.
type LicenseDetails struct {
	*models.License
	Activations []*models.Activation `json:"activations"`
}

func (h *LicenseHandler) Routes(r chi.Router) {
	r.Post("/activate", h.Activate)
	r.Post("/validate", h.Validate)
	r.Post("/deactivate", h.Deactivate)
	r.Post("/licenses", h.GenerateLicense)
	r.Get("/licenses/{licenseKey}", h.GetLicense)
}

// Activate binds a license key to a machine.
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeLicenseRequest(w, r)
	if !ok {
		return
	}

	out := h.engine.Activate(r.Context(), req.LicenseKey, req.MachineID)
	if !out.OK {
		RespondOutcome(w, out)
		return
	}

	RespondJSON(w, http.StatusOK, ActivateResponse{
		Success:      true,
		Message:      out.Message,
		ActivationID: out.ActivationID,
	})
}

// Validate checks a license binding for a machine.
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeLicenseRequest(w, r)
	if !ok {
		return
	}

	out := h.engine.Validate(r.Context(), req.LicenseKey, req.MachineID)
	if !out.OK {
		RespondOutcome(w, out)
		return
	}

	RespondJSON(w, http.StatusOK, ValidateResponse{
		Success:   true,
		Status:    out.Status,
		ExpiresAt: out.ExpiresAt,
	})
}

// Deactivate releases a license binding for a machine.
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeLicenseRequest(w, r)
	if !ok {
		return
	}

	out := h.engine.Deactivate(r.Context(), req.LicenseKey, req.MachineID)
	if !out.OK {
		RespondOutcome(w, out)
		return
	}

	RespondJSON(w, http.StatusOK, DeactivateResponse{
		Success: true,
		Message: out.Message,
	})
}

// GenerateLicense mints a new license key (operator endpoint).
func (h *LicenseHandler) GenerateLicense(w http.ResponseWriter, r *http.Request) {
	var req GenerateLicenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}

	if req.MaxActivations < 1 {
		RespondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "maxActivations must be at least 1")
		return
	}

	var expiresAt *time.Time
	if req.ExpiresAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			RespondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "expiresAt must be RFC 3339")
			return
		}
		expiresAt = &parsed
	}

	license, err := h.engine.GenerateLicense(r.Context(), req.MaxActivations, expiresAt)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to generate license")
		RespondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "failed to generate license")
		return
	}

	RespondJSON(w, http.StatusCreated, license)
}

// GetLicense returns a license plus its live activations (operator
// endpoint).
func (h *LicenseHandler) GetLicense(w http.ResponseWriter, r *http.Request) {
	key, err := keycodec.ValidateFormat(chi.URLParam(r, "licenseKey"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "license key must match PS-XXXX-XXXX-XXXX")
		return
	}

	license, err := h.repo.GetLicense(r.Context(), h.repo.DB(), key)
	if err != nil {
		if errors.Is(err, models.ErrLicenseNotFound) {
			RespondError(w, http.StatusNotFound, "LICENSE_INVALID", "invalid license key")
			return
		}
		h.logger.Error().Err(err).Msg("failed to load license")
		RespondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "failed to load license")
		return
	}

	activations, err := h.repo.ListActivations(r.Context(), key)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load activations")
		RespondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "failed to load activations")
		return
	}

	RespondJSON(w, http.StatusOK, LicenseDetails{License: license, Activations: activations})
}

func (h *LicenseHandler) decodeLicenseRequest(w http.ResponseWriter, r *http.Request) (LicenseRequest, bool) {
	var req LicenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debug().Err(err).Msg("failed to decode license request")
		RespondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return req, false
	}

	if req.LicenseKey == "" {
		RespondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "licenseKey is required")
		return req, false
	}
	if req.MachineID == "" {
		RespondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "machineId is required")
		return req, false
	}

	return req, true
}

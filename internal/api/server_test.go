// Copyright (c) 2025, the PixelStudio contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/pixelstudio/pslicense/internal/database"
	"github.com/pixelstudio/pslicense/internal/engine"
	"github.com/pixelstudio/pslicense/internal/models"
)

const testMachineID = "0123456789abcdef0123456789abcdef"

func newTestServer(t *testing.T) (*Server, *database.LicenseRepo) {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := database.NewLicenseRepo(db)
	eng := engine.New(repo, zerolog.Nop())

	return NewServer(Dependencies{Engine: eng, Repo: repo, Logger: zerolog.Nop()}), repo
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func generateKey(t *testing.T, handler http.Handler, maxActivations int) string {
	t.Helper()

	rec := postJSON(t, handler, "/api/licenses", map[string]any{"maxActivations": maxActivations})
	require.Equal(t, http.StatusCreated, rec.Code)

	var license models.License
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &license))
	require.Regexp(t, `^PS-[A-F0-9]{4}-[A-F0-9]{4}-[A-F0-9]{4}$`, license.LicenseKey)
	return license.LicenseKey
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "online", resp["status"])
	require.NotEmpty(t, resp["timestamp"])
}

func TestActivateLifecycle(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	key := generateKey(t, handler, 1)

	rec := postJSON(t, handler, "/api/activate", map[string]string{
		"licenseKey": key,
		"machineId":  testMachineID,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, true, resp["success"])
	require.Equal(t, "activation successful", resp["message"])
	require.NotEmpty(t, resp["activationId"])

	// Same machine again is idempotent, not a second consumed slot
	rec = postJSON(t, handler, "/api/activate", map[string]string{
		"licenseKey": key,
		"machineId":  testMachineID,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var again map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &again))
	require.Equal(t, "re-validation successful", again["message"])
	require.Equal(t, resp["activationId"], again["activationId"])

	// A second machine exceeds the cap
	rec = postJSON(t, handler, "/api/activate", map[string]string{
		"licenseKey": key,
		"machineId":  "ffffffffffffffffffffffffffffffff",
	})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var limit map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &limit))
	require.Equal(t, false, limit["success"])
	require.Equal(t, "LICENSE_LIMIT_REACHED", limit["errorType"])
}

func TestActivateRejectsBadRequests(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	tests := []struct {
		name string
		body map[string]string
	}{
		{name: "missing key", body: map[string]string{"machineId": testMachineID}},
		{name: "missing machine id", body: map[string]string{"licenseKey": "PS-1234-ABCD-5678"}},
		{name: "malformed key", body: map[string]string{"licenseKey": "PS-1234-ABCD", "machineId": testMachineID}},
		{name: "malformed machine id", body: map[string]string{"licenseKey": "PS-1234-ABCD-5678", "machineId": "nope"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, handler, "/api/activate", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			var resp map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.Equal(t, "VALIDATION_ERROR", resp["errorType"])
		})
	}
}

func TestActivateUnknownKey(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	rec := postJSON(t, handler, "/api/activate", map[string]string{
		"licenseKey": "PS-0000-0000-0000",
		"machineId":  testMachineID,
	})
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "LICENSE_INVALID", resp["errorType"])
}

func TestValidateEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	key := generateKey(t, handler, 2)

	// Not yet activated on this machine
	rec := postJSON(t, handler, "/api/validate", map[string]string{
		"licenseKey": key,
		"machineId":  testMachineID,
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = postJSON(t, handler, "/api/activate", map[string]string{
		"licenseKey": key,
		"machineId":  testMachineID,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, handler, "/api/validate", map[string]string{
		"licenseKey": key,
		"machineId":  testMachineID,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, true, resp["success"])
	require.Equal(t, models.LicenseStatusActive, resp["status"])
	require.Contains(t, resp, "expiresAt")
	require.Nil(t, resp["expiresAt"])
}

func TestDeactivateEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	key := generateKey(t, handler, 1)

	rec := postJSON(t, handler, "/api/deactivate", map[string]string{
		"licenseKey": key,
		"machineId":  testMachineID,
	})
	require.Equal(t, http.StatusNotFound, rec.Code)

	var errResp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	require.Equal(t, "LICENSE_INVALID", errResp["errorType"])

	rec = postJSON(t, handler, "/api/activate", map[string]string{
		"licenseKey": key,
		"machineId":  testMachineID,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, handler, "/api/deactivate", map[string]string{
		"licenseKey": key,
		"machineId":  testMachineID,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, true, resp["success"])

	// Slot is free again for another machine
	rec = postJSON(t, handler, "/api/activate", map[string]string{
		"licenseKey": key,
		"machineId":  "ffffffffffffffffffffffffffffffff",
	})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGenerateLicenseValidation(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	rec := postJSON(t, handler, "/api/licenses", map[string]any{"maxActivations": 0})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, handler, "/api/licenses", map[string]any{"maxActivations": 3, "expiresAt": "not-a-date"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetLicenseDetails(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	key := generateKey(t, handler, 5)

	rec := postJSON(t, handler, "/api/activate", map[string]string{
		"licenseKey": key,
		"machineId":  testMachineID,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/licenses/%s", key), nil)
	getRec := httptest.NewRecorder()
	handler.ServeHTTP(getRec, req)
	require.Equal(t, http.StatusOK, getRec.Code)

	var details struct {
		LicenseKey     string `json:"licenseKey"`
		MaxActivations int    `json:"maxActivations"`
		Activations    []struct {
			MachineID string `json:"machineId"`
		} `json:"activations"`
	}
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &details))
	require.Equal(t, key, details.LicenseKey)
	require.Equal(t, 5, details.MaxActivations)
	require.Len(t, details.Activations, 1)
	require.Equal(t, testMachineID, details.Activations[0].MachineID)

	req = httptest.NewRequest(http.MethodGet, "/api/licenses/PS-0000-0000-0000", nil)
	getRec = httptest.NewRecorder()
	handler.ServeHTTP(getRec, req)
	require.Equal(t, http.StatusNotFound, getRec.Code)
}

func TestCORSPreflight(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/activate", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

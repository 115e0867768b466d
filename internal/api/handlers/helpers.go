// Copyright (c) 2025, the PixelStudio contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/pixelstudio/pslicense/internal/engine"
)

// ErrorResponse is the fixed failure body shape for every endpoint.
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	ErrorType string `json:"errorType"`
}

// RespondJSON sends a JSON response.
// For 204 No Content and 304 Not Modified, no body or Content-Type is sent per HTTP spec.
func RespondJSON(w http.ResponseWriter, status int, data any) {
	// 204 and 304 must not have a body per RFC 7230/9110
	if status == http.StatusNoContent || status == http.StatusNotModified {
		w.WriteHeader(status)
		return
	}

	if data != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Error().Err(err).Msg("Failed to encode JSON response")
		}
		return
	}

	w.WriteHeader(status)
}

// RespondError sends an error response with the given error type.
func RespondError(w http.ResponseWriter, status int, errorType, message string) {
	RespondJSON(w, status, ErrorResponse{
		Error:     message,
		ErrorType: errorType,
	})
}

// RespondOutcome translates an engine rejection into the wire contract's
// HTTP status and errorType pair.
func RespondOutcome(w http.ResponseWriter, out engine.Outcome) {
	status, errorType := outcomeWireCode(out.Code)
	RespondError(w, status, errorType, out.Message)
}

func outcomeWireCode(code engine.Code) (int, string) {
	switch code {
	case engine.CodeFormatError:
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case engine.CodeNotFound:
		return http.StatusNotFound, "LICENSE_INVALID"
	case engine.CodeLicenseInactive:
		return http.StatusForbidden, "LICENSE_INVALID"
	case engine.CodeLicenseExpired:
		return http.StatusGone, "LICENSE_EXPIRED"
	case engine.CodeLimitReached:
		return http.StatusTooManyRequests, "LICENSE_LIMIT_REACHED"
	case engine.CodeNotActivatedOnThis:
		return http.StatusForbidden, "LICENSE_INVALID"
	case engine.CodeStorageError:
		return http.StatusInternalServerError, "STORAGE_ERROR"
	default:
		return http.StatusInternalServerError, "UNKNOWN_ERROR"
	}
}

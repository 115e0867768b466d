// Copyright (c) 2025, the PixelStudio contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/pixelstudio/pslicense/pkg/httphelpers"
)

var (
	ErrValidation     = errors.New("request rejected by server validation")
	ErrLicenseInvalid = errors.New("license key is not valid")
	ErrLicenseExpired = errors.New("license expired")
	ErrLimitReached   = errors.New("license activation limit already reached")
	ErrServer         = errors.New("license server error")
)

const (
	defaultBaseURL = "http://localhost:8090"

	activateEndpoint   = "/api/activate"
	validateEndpoint   = "/api/validate"
	deactivateEndpoint = "/api/deactivate"
	healthEndpoint     = "/api/health"
)

// Transport talks to the license server over HTTP.
type Transport struct {
	baseURL   string
	userAgent string

	httpClient *http.Client
}

type OptFunc func(*Transport)

// WithBaseURL sets the license server base URL.
func WithBaseURL(baseURL string) OptFunc {
	return func(t *Transport) {
		t.baseURL = httphelpers.TrimBaseURL(baseURL)
	}
}

func WithUserAgent(userAgent string) OptFunc {
	return func(t *Transport) {
		t.userAgent = userAgent
	}
}

// WithHTTPClient sets a custom HTTP client to use for requests
func WithHTTPClient(httpClient *http.Client) OptFunc {
	return func(t *Transport) {
		t.httpClient = httpClient
	}
}

func NewTransport(opts ...OptFunc) *Transport {
	t := &Transport{
		baseURL:   defaultBaseURL,
		userAgent: "pslicense-agent",

		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

type licenseRequest struct {
	LicenseKey string `json:"licenseKey"`
	MachineID  string `json:"machineId"`
}

// ActivateResult is the server's success payload for activation.
type ActivateResult struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	ActivationID string `json:"activationId"`
}

// ValidateResult is the server's success payload for validation.
type ValidateResult struct {
	Success   bool       `json:"success"`
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

type errorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	ErrorType string `json:"errorType"`
}

// Activate binds the license key to the machine on the server.
func (t *Transport) Activate(ctx context.Context, licenseKey, machineID string) (*ActivateResult, error) {
	var result ActivateResult
	if err := t.post(ctx, activateEndpoint, licenseKey, machineID, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Validate checks the license binding on the server.
func (t *Transport) Validate(ctx context.Context, licenseKey, machineID string) (*ValidateResult, error) {
	var result ValidateResult
	if err := t.post(ctx, validateEndpoint, licenseKey, machineID, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Deactivate releases the license binding on the server.
func (t *Transport) Deactivate(ctx context.Context, licenseKey, machineID string) error {
	return t.post(ctx, deactivateEndpoint, licenseKey, machineID, nil)
}

// Health reports whether the license server is reachable.
func (t *Transport) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+healthEndpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", t.userAgent)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httphelpers.DrainAndClose(resp)

	if resp.StatusCode != http.StatusOK {
		return errors.Wrapf(ErrServer, "unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

func (t *Transport) post(ctx context.Context, endpoint, licenseKey, machineID string, out any) error {
	jsonData, err := json.Marshal(licenseRequest{LicenseKey: licenseKey, MachineID: machineID})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", t.userAgent)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return t.mapError(resp.StatusCode, body)
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// mapError turns a non-200 response into a sentinel the caller can test
// with errors.Is. The server's message is kept as wrap context.
func (t *Transport) mapError(statusCode int, body []byte) error {
	var response errorResponse
	message := ""
	if err := json.Unmarshal(body, &response); err == nil {
		message = response.Error
	}

	var sentinel error
	switch statusCode {
	case http.StatusBadRequest:
		sentinel = ErrValidation
	case http.StatusNotFound, http.StatusForbidden:
		sentinel = ErrLicenseInvalid
	case http.StatusGone:
		sentinel = ErrLicenseExpired
	case http.StatusTooManyRequests:
		sentinel = ErrLimitReached
	default:
		sentinel = ErrServer
	}

	if message == "" {
		return errors.Wrapf(sentinel, "unexpected status code: %d", statusCode)
	}

	return errors.Wrap(sentinel, message)
}

// ErrorType names the failure class of a transport or server error.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrLicenseInvalid):
		return "LICENSE_INVALID"
	case errors.Is(err, ErrLicenseExpired):
		return "LICENSE_EXPIRED"
	case errors.Is(err, ErrLimitReached):
		return "LICENSE_LIMIT_REACHED"
	case errors.Is(err, ErrServer):
		return "SERVER_ERROR"
	case isTimeout(err):
		return "TIMEOUT_ERROR"
	case isTransport(err):
		return "NETWORK_ERROR"
	default:
		return "UNKNOWN_ERROR"
	}
}

// IsConnectivityError reports whether the failure was reaching the server
// rather than a decision the server made.
func IsConnectivityError(err error) bool {
	return isTimeout(err) || isTransport(err)
}

// IsRejectionError reports whether the server definitively rejected the
// license. Transient server errors and unclassified failures are not
// rejections.
func IsRejectionError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrLicenseInvalid) ||
		errors.Is(err, ErrLicenseExpired) ||
		errors.Is(err, ErrLimitReached)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isTransport(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

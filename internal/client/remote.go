package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	apperrors "licensegate/internal/errors"
	"licensegate/internal/infrastructure"
	"licensegate/internal/security"
	api "licensegate/pkg/contracts/api/v1"
	"licensegate/pkg/contracts/domain"
)

// maxResponseBytes bounds how much of a response body is read
const maxResponseBytes = 1 << 20

const requestIDHeader = "X-Request-ID"

// Remote is the device-facing part of the RPC surface
type Remote interface {
	Activate(ctx context.Context, req api.ActivateLicenseRequest) (*api.ActivateLicenseResponse, error)
	Validate(ctx context.Context, req api.ValidateLicenseRequest) (*api.ValidateLicenseResponse, error)
}

// HTTPClient calls the license server over HTTP. Problem responses are
// mapped back onto the error taxonomy, so callers match them with errors.Is.
type HTTPClient struct {
	baseURL   string
	http      *http.Client
	token     string
	userAgent string
}

// HTTPOption configures an HTTPClient
type HTTPOption func(*HTTPClient)

// WithBearerToken authenticates admin calls
func WithBearerToken(token string) HTTPOption {
	return func(c *HTTPClient) { c.token = token }
}

// WithHTTPClient replaces the underlying *http.Client
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.http = hc }
}

// WithUserAgent sets the User-Agent header
func WithUserAgent(ua string) HTTPOption {
	return func(c *HTTPClient) { c.userAgent = ua }
}

// NewHTTPClient creates a client for baseURL. Without WithHTTPClient it uses
// a TLS 1.2+ client that enforces pins when any are given.
func NewHTTPClient(baseURL string, pins []string, opts ...HTTPOption) (*HTTPClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", baseURL)
	}
	if len(pins) > 0 && u.Scheme != "https" {
		return nil, fmt.Errorf("certificate pins require an https server url, got %q", u.Scheme)
	}

	pinCfg := security.DefaultPinningConfig()
	pinCfg.Pins = pins
	pinner := security.NewCertificatePinner(pinCfg)
	if len(pins) > 0 && pinner.PinCount() != len(pins) {
		return nil, fmt.Errorf("invalid certificate pin in %v", pins)
	}

	c := &HTTPClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      pinner.CreateSecureHTTPClient(pinCfg),
		userAgent: "licensegate-client",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Activate implements Remote. A denied activation returns an error wrapping
// errors.DenialError with the server's reason.
func (c *HTTPClient) Activate(ctx context.Context, req api.ActivateLicenseRequest) (*api.ActivateLicenseResponse, error) {
	var resp api.ActivateLicenseResponse
	if err := c.do(ctx, http.MethodPost, api.RouteActivate, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Validate implements Remote. Business outcomes arrive as statuses, not errors.
func (c *HTTPClient) Validate(ctx context.Context, req api.ValidateLicenseRequest) (*api.ValidateLicenseResponse, error) {
	var resp api.ValidateLicenseResponse
	if err := c.do(ctx, http.MethodPost, api.RouteValidate, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateLicense issues a license
func (c *HTTPClient) CreateLicense(ctx context.Context, req api.CreateLicenseRequest) (*api.CreateLicenseResponse, error) {
	var resp api.CreateLicenseResponse
	if err := c.do(ctx, http.MethodPost, api.RouteAdminLicenses, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateStatus places or lifts an admin hold
func (c *HTTPClient) UpdateStatus(ctx context.Context, req api.UpdateLicenseStatusRequest) (*api.UpdateLicenseStatusResponse, error) {
	var resp api.UpdateLicenseStatusResponse
	if err := c.do(ctx, http.MethodPost, api.RouteAdminStatus, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RevokeDevice unbinds a device
func (c *HTTPClient) RevokeDevice(ctx context.Context, req api.RevokeDeviceRequest) (*api.RevokeDeviceResponse, error) {
	var resp api.RevokeDeviceResponse
	if err := c.do(ctx, http.MethodPost, api.RouteAdminRevoke, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Inspect returns a license and its devices
func (c *HTTPClient) Inspect(ctx context.Context, licenseKey string) (*api.InspectLicenseResponse, error) {
	var resp api.InspectLicenseResponse
	path := api.RouteAdminLicenses + "/" + url.PathEscape(licenseKey)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// List returns licenses matching the filter
func (c *HTTPClient) List(ctx context.Context, customerID, status string, limit int) ([]domain.License, error) {
	q := url.Values{}
	if customerID != "" {
		q.Set("customerId", customerID)
	}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := api.RouteAdminLicenses
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp api.ListLicensesResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Licenses, nil
}

// Health reports the server health
func (c *HTTPClient) Health(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if err := c.do(ctx, http.MethodGet, api.RouteHealth, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if reqID := infrastructure.GetRequestID(ctx); reqID != "" {
		req.Header.Set(requestIDHeader, reqID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeProblem(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeProblem turns an RFC 7807 body into a taxonomy error. A "reason"
// extension becomes a DenialError.
func decodeProblem(status int, data []byte) error {
	var pd apperrors.ProblemDetails
	if err := json.Unmarshal(data, &pd); err != nil || pd.Type == "" {
		return apperrors.New(status, "REMOTE_ERROR", strings.TrimSpace(string(data)))
	}
	if reason := pd.Extension("reason"); reason != "" {
		return apperrors.Denied(domain.Reason(reason))
	}
	return apperrors.ErrorFromProblem(&pd)
}

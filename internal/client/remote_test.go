package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "licensegate/internal/errors"
	"licensegate/internal/infrastructure"
	"licensegate/internal/shared/testutil"
	api "licensegate/pkg/contracts/api/v1"
	"licensegate/pkg/contracts/domain"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewHTTPClient(srv.URL, nil, WithHTTPClient(srv.Client()), WithBearerToken("admin-token"))
	require.NoError(t, err)
	return c
}

func TestNewHTTPClient(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		pins    []string
		wantErr bool
	}{
		{"plain http", "http://localhost:8080", nil, false},
		{"https with pin", "https://license.example.com", []string{strings.Repeat("ab", 32)}, false},
		{"missing scheme", "license.example.com", nil, true},
		{"pins need https", "http://license.example.com", []string{strings.Repeat("ab", 32)}, true},
		{"malformed pin", "https://license.example.com", []string{"abc"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHTTPClient(tt.url, tt.pins)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestHTTPClient_Validate(t *testing.T) {
	expiry := testutil.FixtureNow.Add(365 * 24 * time.Hour)

	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, api.RouteValidate, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req api.ValidateLicenseRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, testKey, req.LicenseKey)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.ValidateLicenseResponse{
			Status:     string(domain.ValidationValid),
			LicenseKey: req.LicenseKey,
			ExpiryDate: &expiry,
			Features:   []string{"billing"},
		})
	})

	resp, err := c.Validate(context.Background(), api.ValidateLicenseRequest{LicenseKey: testKey, DeviceFingerprint: testFingerprint})
	require.NoError(t, err)
	assert.Equal(t, "valid", resp.Status)
	assert.True(t, expiry.Equal(*resp.ExpiryDate))
	assert.Equal(t, []string{"billing"}, resp.Features)
}

func TestHTTPClient_ForwardsRequestID(t *testing.T) {
	var got []string
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get("X-Request-ID"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.ValidateLicenseResponse{Status: string(domain.ValidationValid)})
	})

	ctx := infrastructure.WithRequestID(context.Background(), "req-guard-1")
	_, err := c.Validate(ctx, api.ValidateLicenseRequest{LicenseKey: testKey, DeviceFingerprint: testFingerprint})
	require.NoError(t, err)
	_, err = c.Validate(context.Background(), api.ValidateLicenseRequest{LicenseKey: testKey, DeviceFingerprint: testFingerprint})
	require.NoError(t, err)

	assert.Equal(t, []string{"req-guard-1", ""}, got)
}

func TestHTTPClient_ProblemResponses(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	errs := apperrors.NewErrorHandler(logger, false)

	tests := []struct {
		name    string
		err     error
		wantErr error
		reason  domain.Reason
	}{
		{"quota denial", apperrors.Denied(domain.ReasonQuotaExceeded), apperrors.ErrDeviceQuotaExceeded, domain.ReasonQuotaExceeded},
		{"mismatch denial", apperrors.Denied(domain.ReasonMismatch), apperrors.ErrBusinessTypeMismatch, domain.ReasonMismatch},
		{"unknown key", apperrors.Denied(domain.ReasonNotFound), apperrors.ErrNotFound, domain.ReasonNotFound},
		{"bad request", apperrors.NewValidationError("licenseKey", "is required"), apperrors.ErrValidation, ""},
		{"unauthenticated", apperrors.ErrUnauthenticated, apperrors.ErrUnauthenticated, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				errs.HandleError(w, r, tt.err)
			})

			_, err := c.Activate(context.Background(), api.ActivateLicenseRequest{LicenseKey: testKey})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			if tt.reason != "" {
				var denial *apperrors.DenialError
				require.ErrorAs(t, err, &denial)
				assert.Equal(t, tt.reason, denial.Reason)
			}
		})
	}
}

func TestHTTPClient_NonProblemError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})

	_, err := c.Validate(context.Background(), api.ValidateLicenseRequest{LicenseKey: testKey})
	var apiErr *apperrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}

func TestHTTPClient_AdminCalls(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer admin-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodPost && r.URL.Path == api.RouteAdminLicenses:
			_ = json.NewEncoder(w).Encode(api.CreateLicenseResponse{Success: true, LicenseKey: testKey, LicenseID: "lic-0001"})
		case r.Method == http.MethodGet && r.URL.Path == api.RouteAdminLicenses:
			assert.Equal(t, "cust-42", r.URL.Query().Get("customerId"))
			assert.Equal(t, "5", r.URL.Query().Get("limit"))
			_ = json.NewEncoder(w).Encode(api.ListLicensesResponse{Licenses: []domain.License{*testutil.NewLicense()}, Count: 1})
		case r.Method == http.MethodGet && r.URL.Path == api.RouteAdminLicenses+"/"+testKey:
			_ = json.NewEncoder(w).Encode(api.InspectLicenseResponse{License: testutil.NewLicense()})
		case r.URL.Path == api.RouteAdminRevoke:
			_ = json.NewEncoder(w).Encode(api.RevokeDeviceResponse{Success: true})
		case r.URL.Path == api.RouteAdminStatus:
			_ = json.NewEncoder(w).Encode(api.UpdateLicenseStatusResponse{Success: true, Status: "blocked"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	created, err := c.CreateLicense(ctx, api.CreateLicenseRequest{BusinessType: "pharmacy", MaxDevices: 2})
	require.NoError(t, err)
	assert.Equal(t, testKey, created.LicenseKey)

	licenses, err := c.List(ctx, "cust-42", "", 5)
	require.NoError(t, err)
	assert.Len(t, licenses, 1)

	inspected, err := c.Inspect(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, "lic-0001", inspected.License.ID)

	revoked, err := c.RevokeDevice(ctx, api.RevokeDeviceRequest{LicenseID: "lic-0001", Fingerprint: "fp-a"})
	require.NoError(t, err)
	assert.True(t, revoked.Success)

	status, err := c.UpdateStatus(ctx, api.UpdateLicenseStatusRequest{LicenseID: "lic-0001", Status: "blocked"})
	require.NoError(t, err)
	assert.Equal(t, "blocked", status.Status)
}

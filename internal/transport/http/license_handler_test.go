package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "licensegate/internal/errors"
	"licensegate/internal/license"
	"licensegate/internal/ratelimit"
	"licensegate/internal/shared/testutil"
	api "licensegate/pkg/contracts/api/v1"
	"licensegate/pkg/contracts/domain"
)

// MockLicenseService implements LicenseService for testing
type MockLicenseService struct {
	mock.Mock
}

func (m *MockLicenseService) Activate(ctx context.Context, actor domain.Actor, req api.ActivateLicenseRequest) (*domain.ActivationResult, error) {
	args := m.Called(ctx, actor, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ActivationResult), args.Error(1)
}

func (m *MockLicenseService) Validate(ctx context.Context, actor domain.Actor, req api.ValidateLicenseRequest) (*domain.ValidationResult, error) {
	args := m.Called(ctx, actor, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ValidationResult), args.Error(1)
}

func (m *MockLicenseService) CreateLicense(ctx context.Context, actor domain.Actor, req api.CreateLicenseRequest) (*domain.License, error) {
	args := m.Called(ctx, actor, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.License), args.Error(1)
}

func (m *MockLicenseService) UpdateStatus(ctx context.Context, actor domain.Actor, req api.UpdateLicenseStatusRequest) (*domain.License, error) {
	args := m.Called(ctx, actor, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.License), args.Error(1)
}

func (m *MockLicenseService) RevokeDevice(ctx context.Context, actor domain.Actor, req api.RevokeDeviceRequest) (*domain.Device, error) {
	args := m.Called(ctx, actor, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Device), args.Error(1)
}

func (m *MockLicenseService) Inspect(ctx context.Context, actor domain.Actor, key string) (*domain.License, []domain.Device, error) {
	args := m.Called(ctx, actor, key)
	var lic *domain.License
	if v := args.Get(0); v != nil {
		lic = v.(*domain.License)
	}
	var devices []domain.Device
	if v := args.Get(1); v != nil {
		devices = v.([]domain.Device)
	}
	return lic, devices, args.Error(2)
}

func (m *MockLicenseService) List(ctx context.Context, actor domain.Actor, filter license.ListFilter) ([]domain.License, error) {
	args := m.Called(ctx, actor, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.License), args.Error(1)
}

func (m *MockLicenseService) RecordRejected(ctx context.Context, actor domain.Actor, event string, err error) {
	m.Called(ctx, actor, event, err)
}

// fakeTokens accepts exactly one bearer token
type fakeTokens struct{}

func (fakeTokens) Parse(raw string) (domain.Actor, error) {
	if raw == "admin-token" {
		return domain.Actor{Kind: domain.ActorUser, Subject: "alice", Role: "admin", Tenant: "*"}, nil
	}
	return domain.Actor{}, apperrors.ErrUnauthenticated
}

func setupRouter(t *testing.T, svc LicenseService) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router, err := NewRouter(RouterConfig{
		Service:    svc,
		ErrHandler: apperrors.NewErrorHandler(logger, false),
		Tokens:     fakeTokens{},
		Logger:     logger,
	})
	require.NoError(t, err)
	return router
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.RemoteAddr = "192.0.2.50:40000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func activeLicense() *domain.License {
	return testutil.NewLicense(testutil.WithStatus(domain.LicenseStatusActive))
}

// ===== Activate =====

func TestActivate_Granted(t *testing.T) {
	svc := new(MockLicenseService)
	lic := activeLicense()
	lic.EnabledModules = []string{"billing"}
	validatedAt := testutil.FixtureNow

	svc.On("Activate", mock.Anything, mock.MatchedBy(func(a domain.Actor) bool {
		return a.Kind == domain.ActorDevice && a.RemoteAddr == "192.0.2.50"
	}), mock.Anything).Return(&domain.ActivationResult{
		Status:          domain.ActivationActive,
		License:         lic,
		ValidationToken: "tok",
		ValidatedAt:     validatedAt,
		CacheSignature:  "sig",
	}, nil)

	rec := doJSON(t, setupRouter(t, svc), http.MethodPost, api.RouteActivate, "", api.ActivateLicenseRequest{
		LicenseKey:        lic.LicenseKey,
		DeviceFingerprint: "fp-1",
		Platform:          "windows",
		BusinessType:      lic.BusinessType,
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp api.ActivateLicenseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "active", resp.Status)
	assert.Equal(t, lic.LicenseKey, resp.LicenseKey)
	assert.Equal(t, []string{"billing"}, resp.Features)
	assert.Equal(t, "tok", resp.ValidationToken)
	assert.Equal(t, "sig", resp.CacheSignature)
	assert.True(t, validatedAt.Equal(resp.ValidatedAt))
	svc.AssertExpectations(t)
}

func TestActivate_DenialsRenderProblems(t *testing.T) {
	tests := []struct {
		name       string
		result     *domain.ActivationResult
		wantStatus int
		wantType   string
	}{
		{
			name:       "not found",
			result:     &domain.ActivationResult{Status: domain.ActivationNotFound, Reason: domain.ReasonNotFound},
			wantStatus: http.StatusNotFound,
			wantType:   apperrors.TypeNotFound,
		},
		{
			name:       "quota",
			result:     &domain.ActivationResult{Status: domain.ActivationDenied, Reason: domain.ReasonQuotaExceeded},
			wantStatus: http.StatusConflict,
			wantType:   apperrors.TypeDeviceQuota,
		},
		{
			name:       "business type",
			result:     &domain.ActivationResult{Status: domain.ActivationDenied, Reason: domain.ReasonMismatch},
			wantStatus: http.StatusUnprocessableEntity,
			wantType:   apperrors.TypeBusinessType,
		},
		{
			name:       "blocked",
			result:     &domain.ActivationResult{Status: domain.ActivationDenied, Reason: domain.ReasonBlocked},
			wantStatus: http.StatusForbidden,
			wantType:   apperrors.TypeLicenseBlocked,
		},
		{
			name:       "expired",
			result:     &domain.ActivationResult{Status: domain.ActivationDenied, Reason: domain.ReasonExpired},
			wantStatus: http.StatusForbidden,
			wantType:   apperrors.TypeLicenseExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockLicenseService)
			svc.On("Activate", mock.Anything, mock.Anything, mock.Anything).Return(tt.result, nil)

			rec := doJSON(t, setupRouter(t, svc), http.MethodPost, api.RouteActivate, "", api.ActivateLicenseRequest{
				LicenseKey:        "APP-PHAR-DSK-0A1B2C-2026",
				DeviceFingerprint: "fp-1",
				Platform:          "windows",
				BusinessType:      "pharmacy",
			})

			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, tt.wantType, body["type"])
			assert.Equal(t, string(tt.result.Reason), body["reason"])
		})
	}
}

func TestActivate_BadInput(t *testing.T) {
	svc := new(MockLicenseService)
	router := setupRouter(t, svc)

	t.Run("malformed json", func(t *testing.T) {
		svc.On("RecordRejected", mock.Anything, mock.Anything, domain.EventLicenseActivate, mock.Anything).Once()
		req := httptest.NewRequest(http.MethodPost, api.RouteActivate, strings.NewReader("{not json"))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wrong content type", func(t *testing.T) {
		svc.On("RecordRejected", mock.Anything, mock.Anything, domain.EventLicenseActivate, mock.Anything).Once()
		req := httptest.NewRequest(http.MethodPost, api.RouteActivate, strings.NewReader("licenseKey=x"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	})

	t.Run("validation error from service", func(t *testing.T) {
		svc.On("Activate", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, apperrors.NewValidationError("licenseKey", "is required")).Once()
		rec := doJSON(t, router, http.MethodPost, api.RouteActivate, "", api.ActivateLicenseRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, apperrors.TypeValidation, decodeBody(t, rec)["type"])
	})
}

// ===== Validate =====

func TestValidate_StatusesAre200(t *testing.T) {
	statuses := []domain.ValidationStatus{
		domain.ValidationInvalid,
		domain.ValidationExpired,
		domain.ValidationBlocked,
		domain.ValidationSuspended,
		domain.ValidationMismatch,
		domain.ValidationDeviceMismatch,
	}

	for _, status := range statuses {
		t.Run(string(status), func(t *testing.T) {
			svc := new(MockLicenseService)
			svc.On("Validate", mock.Anything, mock.Anything, mock.Anything).
				Return(&domain.ValidationResult{Status: status, License: activeLicense()}, nil)

			rec := doJSON(t, setupRouter(t, svc), http.MethodPost, api.RouteValidate, "", api.ValidateLicenseRequest{
				LicenseKey:        "APP-PHAR-DSK-0A1B2C-2026",
				DeviceFingerprint: "fp-1",
			})

			require.Equal(t, http.StatusOK, rec.Code)
			var resp api.ValidateLicenseResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, string(status), resp.Status)
			assert.NotEmpty(t, resp.Message)
			assert.Empty(t, resp.ValidationToken, "only valid verdicts carry a token")
			assert.Nil(t, resp.ExpiryDate)
		})
	}
}

func TestValidate_Valid(t *testing.T) {
	svc := new(MockLicenseService)
	lic := activeLicense()
	svc.On("Validate", mock.Anything, mock.Anything, mock.Anything).Return(&domain.ValidationResult{
		Status:          domain.ValidationValid,
		License:         lic,
		ValidationToken: "tok",
		ValidatedAt:     testutil.FixtureNow,
		CacheSignature:  "sig",
	}, nil)

	rec := doJSON(t, setupRouter(t, svc), http.MethodPost, api.RouteValidate, "", api.ValidateLicenseRequest{
		LicenseKey:        lic.LicenseKey,
		DeviceFingerprint: "fp-1",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp api.ValidateLicenseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "valid", resp.Status)
	assert.Equal(t, lic.LicenseKey, resp.LicenseKey)
	assert.Equal(t, lic.BusinessType, resp.BusinessType)
	require.NotNil(t, resp.ExpiryDate)
	assert.True(t, lic.ExpiryDate.Equal(*resp.ExpiryDate))
	require.NotNil(t, resp.ValidatedAt)
	assert.Equal(t, "sig", resp.CacheSignature)
}

func TestValidate_OperatorTokenKeepsOperatorActor(t *testing.T) {
	svc := new(MockLicenseService)
	svc.On("Validate", mock.Anything, mock.MatchedBy(func(a domain.Actor) bool {
		return a.Kind == domain.ActorUser && a.Subject == "alice"
	}), mock.Anything).Return(&domain.ValidationResult{Status: domain.ValidationInvalid}, nil)

	rec := doJSON(t, setupRouter(t, svc), http.MethodPost, api.RouteValidate, "admin-token", api.ValidateLicenseRequest{
		LicenseKey:        "APP-PHAR-DSK-0A1B2C-2026",
		DeviceFingerprint: "fp-1",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
}

// ===== Admin =====

func TestCreateLicense(t *testing.T) {
	svc := new(MockLicenseService)
	lic := testutil.NewLicense()
	svc.On("CreateLicense", mock.Anything, mock.MatchedBy(func(a domain.Actor) bool {
		return a.Authenticated() && a.Subject == "alice"
	}), api.CreateLicenseRequest{BusinessType: "pharmacy", MaxDevices: 2}).Return(lic, nil)

	rec := doJSON(t, setupRouter(t, svc), http.MethodPost, api.RouteAdminLicenses, "admin-token",
		api.CreateLicenseRequest{BusinessType: "pharmacy", MaxDevices: 2})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp api.CreateLicenseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, lic.LicenseKey, resp.LicenseKey)
	assert.Equal(t, lic.ID, resp.LicenseID)
}

func TestAdmin_ErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "anonymous", err: apperrors.ErrUnauthenticated, wantStatus: http.StatusUnauthorized},
		{name: "wrong role", err: apperrors.ErrPermissionDenied, wantStatus: http.StatusForbidden},
		{name: "unknown license", err: apperrors.ErrNotFound, wantStatus: http.StatusNotFound},
		{name: "invalid transition", err: apperrors.ErrInvalidTransition, wantStatus: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockLicenseService)
			svc.On("UpdateStatus", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err)

			rec := doJSON(t, setupRouter(t, svc), http.MethodPost, api.RouteAdminStatus, "",
				api.UpdateLicenseStatusRequest{LicenseID: "lic-1", Status: "blocked"})
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestListLicenses(t *testing.T) {
	svc := new(MockLicenseService)
	router := setupRouter(t, svc)

	svc.On("List", mock.Anything, mock.Anything, license.ListFilter{
		CustomerID: "cust-9",
		Status:     domain.LicenseStatusActive,
		Limit:      10,
	}).Return([]domain.License{*activeLicense()}, nil)

	rec := doJSON(t, router, http.MethodGet, api.RouteAdminLicenses+"?customerId=cust-9&status=ACTIVE&limit=10", "admin-token", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp api.ListLicensesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)

	queries := []string{"?status=deleted", "?limit=0", "?limit=abc", "?limit=100000"}
	svc.On("RecordRejected", mock.Anything, mock.Anything, domain.EventLicenseList, mock.Anything).Times(len(queries))
	for _, query := range queries {
		rec := doJSON(t, router, http.MethodGet, api.RouteAdminLicenses+query, "admin-token", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
	svc.AssertExpectations(t)
}

func TestInspectLicense(t *testing.T) {
	svc := new(MockLicenseService)
	lic := activeLicense()
	svc.On("Inspect", mock.Anything, mock.Anything, lic.LicenseKey).Return(lic, nil, nil)

	rec := doJSON(t, setupRouter(t, svc), http.MethodGet, api.RouteAdminLicenses+"/"+lic.LicenseKey, "admin-token", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp api.InspectLicenseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.License)
	assert.Equal(t, lic.ID, resp.License.ID)
	assert.NotNil(t, resp.Devices)
	assert.Empty(t, resp.Devices)
}

func TestRevokeDevice(t *testing.T) {
	svc := new(MockLicenseService)
	req := api.RevokeDeviceRequest{LicenseID: "lic-1", Fingerprint: "fp-1"}
	svc.On("RevokeDevice", mock.Anything, mock.Anything, req).Return(&domain.Device{ID: "dev-1", Status: domain.DeviceStatusRevoked}, nil)

	rec := doJSON(t, setupRouter(t, svc), http.MethodPost, api.RouteAdminRevoke, "admin-token", req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["success"])
}

// ===== Health and routing =====

func TestHealthCheck(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var healthy = true

	health := NewHealthHandler("1.2.3", logger)
	health.AddCheck("database", PingFunc(func(context.Context) error {
		if healthy {
			return nil
		}
		return context.DeadlineExceeded
	}))
	router, err := NewRouter(RouterConfig{
		Service:    new(MockLicenseService),
		Health:     health,
		ErrHandler: apperrors.NewErrorHandler(logger, false),
		Tokens:     fakeTokens{},
		Logger:     logger,
	})
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodGet, api.RouteHealth, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp api.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, "ok", resp.Checks["database"])

	healthy = false
	rec = doJSON(t, router, http.MethodGet, api.RouteHealth, "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doJSON(t, router, http.MethodGet, api.RouteHealth+"/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_NotFoundAndMethod(t *testing.T) {
	router := setupRouter(t, new(MockLicenseService))

	rec := doJSON(t, router, http.MethodGet, "/api/v1/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodGet, api.RouteActivate, "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRouter_RateLimitsDeviceEndpoints(t *testing.T) {
	svc := new(MockLicenseService)
	svc.On("Validate", mock.Anything, mock.Anything, mock.Anything).
		Return(&domain.ValidationResult{Status: domain.ValidationInvalid}, nil)
	svc.On("RecordRejected", mock.Anything, mock.MatchedBy(func(a domain.Actor) bool {
		return a.Kind == domain.ActorDevice && a.RemoteAddr == "192.0.2.50"
	}), domain.EventLicenseValidate, apperrors.ErrRateLimitExceeded).Once()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	router, err := NewRouter(RouterConfig{
		Service:        svc,
		ErrHandler:     apperrors.NewErrorHandler(logger, false),
		Tokens:         fakeTokens{},
		Logger:         logger,
		Limiter:        ratelimit.NewLocalLimiter(0.001, 2),
		RequestTimeout: time.Second,
	})
	require.NoError(t, err)

	body := api.ValidateLicenseRequest{LicenseKey: "APP-PHAR-DSK-0A1B2C-2026", DeviceFingerprint: "fp-1"}
	assert.Equal(t, http.StatusOK, doJSON(t, router, http.MethodPost, api.RouteValidate, "", body).Code)
	assert.Equal(t, http.StatusOK, doJSON(t, router, http.MethodPost, api.RouteValidate, "", body).Code)
	rec := doJSON(t, router, http.MethodPost, api.RouteValidate, "", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, doJSON(t, router, http.MethodGet, api.RouteHealth, "", nil).Code, "health is not limited")
	svc.AssertExpectations(t)
	svc.AssertNumberOfCalls(t, "Validate", 2)
}

// ===== Rejections =====

func TestRejectedRequests_AuditedOnce(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		path        string
		token       string
		contentType string
		body        string
		wantStatus  int
		wantEvent   string
		wantKind    domain.ActorKind
	}{
		{
			name: "activate malformed body", method: http.MethodPost, path: api.RouteActivate,
			contentType: "application/json", body: `{"licenseKey": 12`,
			wantStatus: http.StatusBadRequest, wantEvent: domain.EventLicenseActivate, wantKind: domain.ActorDevice,
		},
		{
			name: "validate wrong content type", method: http.MethodPost, path: api.RouteValidate,
			contentType: "text/plain", body: "fp-1",
			wantStatus: http.StatusUnsupportedMediaType, wantEvent: domain.EventLicenseValidate, wantKind: domain.ActorDevice,
		},
		{
			name: "create malformed body", method: http.MethodPost, path: api.RouteAdminLicenses, token: "admin-token",
			contentType: "application/json", body: `{"businessType": 12`,
			wantStatus: http.StatusBadRequest, wantEvent: domain.EventLicenseCreate, wantKind: domain.ActorUser,
		},
		{
			name: "status wrong content type", method: http.MethodPost, path: api.RouteAdminStatus, token: "admin-token",
			contentType: "application/xml", body: "<status/>",
			wantStatus: http.StatusUnsupportedMediaType, wantEvent: domain.EventLicenseStatus, wantKind: domain.ActorUser,
		},
		{
			name: "revoke oversized body", method: http.MethodPost, path: api.RouteAdminRevoke, token: "admin-token",
			contentType: "application/json", body: `{"licenseId":"` + strings.Repeat("a", 70<<10) + `"}`,
			wantStatus: http.StatusRequestEntityTooLarge, wantEvent: domain.EventDeviceRevoke, wantKind: domain.ActorUser,
		},
		{
			name: "list bad status", method: http.MethodGet, path: api.RouteAdminLicenses + "?status=deleted", token: "admin-token",
			wantStatus: http.StatusBadRequest, wantEvent: domain.EventLicenseList, wantKind: domain.ActorUser,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockLicenseService)
			svc.On("RecordRejected", mock.Anything, mock.MatchedBy(func(a domain.Actor) bool {
				return a.Kind == tt.wantKind && a.RemoteAddr == "192.0.2.50"
			}), tt.wantEvent, mock.Anything).Once()

			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			req.RemoteAddr = "192.0.2.50:40000"
			rec := httptest.NewRecorder()
			setupRouter(t, svc).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			svc.AssertExpectations(t)
			svc.AssertNumberOfCalls(t, "RecordRejected", 1)
		})
	}
}

func TestAuditEventFor(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   string
	}{
		{http.MethodPost, api.RouteActivate, domain.EventLicenseActivate},
		{http.MethodPost, api.RouteValidate, domain.EventLicenseValidate},
		{http.MethodPost, api.RouteAdminLicenses, domain.EventLicenseCreate},
		{http.MethodGet, api.RouteAdminLicenses, domain.EventLicenseList},
		{http.MethodGet, api.RouteAdminLicenses + "/APP-PHAR-DSK-0A1B2C-2026", domain.EventLicenseInspect},
		{http.MethodPost, api.RouteAdminStatus, domain.EventLicenseStatus},
		{http.MethodPost, api.RouteAdminRevoke, domain.EventDeviceRevoke},
		{http.MethodGet, api.RouteHealth, ""},
		{http.MethodPost, "/api/v1/unknown", ""},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, auditEventFor(tt.method, tt.path))
		})
	}
}

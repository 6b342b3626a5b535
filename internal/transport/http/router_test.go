package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensegate/internal/audit"
	"licensegate/internal/auth"
	"licensegate/internal/client"
	apperrors "licensegate/internal/errors"
	"licensegate/internal/license"
	"licensegate/internal/shared/testutil"
	"licensegate/internal/store/sqlite"
	api "licensegate/pkg/contracts/api/v1"
	"licensegate/pkg/contracts/domain"
)

var (
	e2eSnapshotKey = []byte("snapshot-key-0123456789abcdef012")
	e2eTokenKey    = []byte("token-key-0123456789abcdef0123456")
	e2eJWTSecret   = []byte("jwt-secret-0123456789abcdef012345")
)

type e2e struct {
	clock  *testutil.FakeClock
	db     *sqlite.DB
	server *httptest.Server
	admin  *client.HTTPClient
}

func newE2E(t *testing.T) *e2e {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "licenses.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := testutil.NewFakeClock(testutil.FixtureNow)
	snapshots, err := license.NewHMACSnapshotSigner(e2eSnapshotKey)
	require.NoError(t, err)
	tokens, err := auth.NewTokenService(e2eJWTSecret, "licensegate-test", time.Minute)
	require.NoError(t, err)

	svc, err := license.NewService(license.Deps{
		Store:      db,
		Audit:      audit.NewMultiSink(audit.NewStoreSink(db), audit.NewLogSink(logger)),
		Authorizer: auth.NewRoleAuthorizer("admin"),
		Tokens:     license.NewTokenSigner(e2eTokenKey, clock),
		Snapshots:  snapshots,
		Clock:      clock,
		Logger:     logger,
	})
	require.NoError(t, err)

	health := NewHealthHandler("test", logger)
	health.AddCheck("database", db)
	router, err := NewRouter(RouterConfig{
		Service:    svc,
		Health:     health,
		ErrHandler: apperrors.NewErrorHandler(logger, false),
		Tokens:     tokens,
		Logger:     logger,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	adminToken, err := tokens.Issue("alice", "admin", auth.AllTenants, time.Hour)
	require.NoError(t, err)
	admin, err := client.NewHTTPClient(srv.URL, nil, client.WithHTTPClient(srv.Client()), client.WithBearerToken(adminToken))
	require.NoError(t, err)

	return &e2e{clock: clock, db: db, server: srv, admin: admin}
}

func (e *e2e) guard(t *testing.T, fingerprint string) *client.Guard {
	t.Helper()
	remote, err := client.NewHTTPClient(e.server.URL, nil, client.WithHTTPClient(e.server.Client()))
	require.NoError(t, err)
	verifier, err := license.NewHMACSnapshotVerifier(e2eSnapshotKey)
	require.NoError(t, err)
	logger, _ := testutil.NewTestLogger(t)

	g, err := client.NewGuard(client.Options{
		Cache:        client.NewFileCache(filepath.Join(t.TempDir(), "license-cache.json")),
		Remote:       remote,
		Verifier:     verifier,
		Fingerprint:  fingerprint,
		BusinessType: "pharmacy",
		Platform:     "windows",
		Clock:        e.clock,
		Logger:       logger,
	})
	require.NoError(t, err)
	return g
}

func TestEndToEnd_LicenseLifecycle(t *testing.T) {
	e := newE2E(t)
	ctx := context.Background()

	created, err := e.admin.CreateLicense(ctx, api.CreateLicenseRequest{
		BusinessType:   "pharmacy",
		MaxDevices:     1,
		ExpiryDays:     30,
		EnabledModules: []string{"billing", "inventory"},
	})
	require.NoError(t, err)
	require.True(t, created.Success)

	// first device binds and gets a verified cache
	till := e.guard(t, "fp-till-1")
	resp, err := till.Activate(ctx, api.ActivateLicenseRequest{LicenseKey: created.LicenseKey})
	require.NoError(t, err)
	assert.False(t, resp.AlreadyBound)
	assert.True(t, till.Check("billing").Allowed)
	assert.ErrorIs(t, till.Check("payroll").Err, apperrors.ErrModuleDenied)

	// the slot is taken
	other := e.guard(t, "fp-till-2")
	_, err = other.Activate(ctx, api.ActivateLicenseRequest{LicenseKey: created.LicenseKey})
	require.Error(t, err)
	var denial *apperrors.DenialError
	require.True(t, errors.As(err, &denial), "got %v", err)
	assert.Equal(t, domain.ReasonQuotaExceeded, denial.Reason)
	assert.ErrorIs(t, other.Check("").Err, apperrors.ErrNoCache)

	// heartbeat keeps the cache fresh past the grace window
	e.clock.Advance(6 * 24 * time.Hour)
	require.NoError(t, till.Refresh(ctx))
	e.clock.Advance(6 * 24 * time.Hour)
	assert.True(t, till.Check("").Allowed)

	// an admin hold reaches the device on its next heartbeat
	status, err := e.admin.UpdateStatus(ctx, api.UpdateLicenseStatusRequest{LicenseID: created.LicenseID, Status: "suspended"})
	require.NoError(t, err)
	assert.Equal(t, "suspended", status.Status)

	err = till.Refresh(ctx)
	assert.ErrorIs(t, err, apperrors.ErrLicenseSuspended)
	assert.ErrorIs(t, till.Check("").Err, apperrors.ErrLicenseSuspended)

	inspected, err := e.admin.Inspect(ctx, created.LicenseKey)
	require.NoError(t, err)
	assert.Equal(t, domain.LicenseStatusSuspended, inspected.License.Status)
	require.Len(t, inspected.Devices, 1)
	assert.Equal(t, "fp-till-1", inspected.Devices[0].DeviceFingerprint)

	listed, err := e.admin.List(ctx, "", "suspended", 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, created.LicenseID, listed[0].ID)
}

func TestEndToEnd_RevokeFreesSlot(t *testing.T) {
	e := newE2E(t)
	ctx := context.Background()

	created, err := e.admin.CreateLicense(ctx, api.CreateLicenseRequest{BusinessType: "pharmacy", MaxDevices: 1})
	require.NoError(t, err)

	first := e.guard(t, "fp-a")
	_, err = first.Activate(ctx, api.ActivateLicenseRequest{LicenseKey: created.LicenseKey})
	require.NoError(t, err)

	_, err = e.admin.RevokeDevice(ctx, api.RevokeDeviceRequest{LicenseID: created.LicenseID, Fingerprint: "fp-a"})
	require.NoError(t, err)

	err = first.Refresh(ctx)
	assert.ErrorIs(t, err, apperrors.ErrLicenseBlocked, "a revoked device is told it is blocked")

	second := e.guard(t, "fp-b")
	_, err = second.Activate(ctx, api.ActivateLicenseRequest{LicenseKey: created.LicenseKey})
	require.NoError(t, err)
	assert.True(t, second.Check("").Allowed)
}

func TestEndToEnd_AdminRequiresToken(t *testing.T) {
	e := newE2E(t)
	ctx := context.Background()

	anonymous, err := client.NewHTTPClient(e.server.URL, nil, client.WithHTTPClient(e.server.Client()))
	require.NoError(t, err)
	_, err = anonymous.CreateLicense(ctx, api.CreateLicenseRequest{BusinessType: "pharmacy", MaxDevices: 1})
	assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)

	events, err := e.db.ListAudit(ctx, sqlite.AuditFilter{Event: domain.EventLicenseCreate})
	require.NoError(t, err)
	require.Len(t, events, 1, "refused admin calls are audited")
	assert.Equal(t, domain.AuditStatusDenied, events[0].Status)
	assert.Contains(t, events[0].ActorRef, "anonymous")

	health, err := anonymous.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "ok", health.Checks["database"])
}

func TestEndToEnd_RejectedRequestsReachAuditLog(t *testing.T) {
	e := newE2E(t)
	ctx := context.Background()

	post := func(path, contentType, body string) int {
		resp, err := e.server.Client().Post(e.server.URL+path, contentType, strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	assert.Equal(t, http.StatusBadRequest, post(api.RouteActivate, "application/json", `{"licenseKey": 12`))
	assert.Equal(t, http.StatusUnsupportedMediaType, post(api.RouteValidate, "text/plain", "fp-1"))

	for _, event := range []string{domain.EventLicenseActivate, domain.EventLicenseValidate} {
		events, err := e.db.ListAudit(ctx, sqlite.AuditFilter{Event: event})
		require.NoError(t, err)
		require.Len(t, events, 1, event)
		assert.Equal(t, domain.AuditStatusFail, events[0].Status)
		assert.Contains(t, events[0].ActorRef, "device")
	}

	_, err := e.admin.List(ctx, "", "", 10)
	require.NoError(t, err)
	listed, err := e.db.ListAudit(ctx, sqlite.AuditFilter{Event: domain.EventLicenseList})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, domain.AuditStatusSuccess, listed[0].Status)
}

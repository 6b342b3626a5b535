package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/singleflight"

	"licensegate/internal/auth"
	"licensegate/internal/client"
	apperrors "licensegate/internal/errors"
	"licensegate/internal/infrastructure"
	"licensegate/internal/ratelimit"
	"licensegate/internal/shared/testutil"
	"licensegate/pkg/contracts/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

// ===== RequestID =====

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		reuse    bool
	}{
		{name: "generates when absent", incoming: "", reuse: false},
		{name: "reuses incoming", incoming: "req-abc-123", reuse: true},
		{name: "replaces oversized", incoming: strings.Repeat("x", 200), reuse: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seenInfra, seenChi string
			h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seenInfra = infrastructure.GetRequestID(r.Context())
				seenChi = chimw.GetReqID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.NotEmpty(t, seenInfra)
			assert.Equal(t, seenInfra, seenChi)
			assert.Equal(t, seenInfra, rec.Header().Get(RequestIDHeader))
			if tt.reuse {
				assert.Equal(t, tt.incoming, seenInfra)
			} else {
				assert.NotEqual(t, tt.incoming, seenInfra)
			}
		})
	}
}

// ===== Recoverer =====

func TestRecoverer(t *testing.T) {
	errHandler := apperrors.NewErrorHandler(quietLogger(), false)
	h := RequestID(Recoverer(errHandler)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/licenses/validate", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeProblem(t, rec)
	assert.EqualValues(t, http.StatusInternalServerError, body["status"])
}

func TestRecoverer_AbortHandlerPropagates(t *testing.T) {
	errHandler := apperrors.NewErrorHandler(quietLogger(), false)
	h := Recoverer(errHandler)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

// ===== Timeout =====

func TestTimeout_SetsDeadline(t *testing.T) {
	var deadline time.Time
	var ok bool
	h := Timeout(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok = r.Context().Deadline()
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Second), deadline, time.Second)
}

// ===== Authenticate =====

type fakeTokens struct {
	valid map[string]domain.Actor
}

func (f fakeTokens) Parse(raw string) (domain.Actor, error) {
	if actor, ok := f.valid[raw]; ok {
		return actor, nil
	}
	return domain.Actor{}, fmt.Errorf("%w: bad token", apperrors.ErrUnauthenticated)
}

func TestAuthenticate(t *testing.T) {
	tokens := fakeTokens{valid: map[string]domain.Actor{
		"good": {Kind: domain.ActorUser, Subject: "alice", Role: "admin", Tenant: auth.AllTenants},
	}}

	tests := []struct {
		name          string
		header        string
		wantKind      domain.ActorKind
		wantSubject   string
		authenticated bool
	}{
		{name: "valid bearer", header: "Bearer good", wantKind: domain.ActorUser, wantSubject: "alice", authenticated: true},
		{name: "lowercase scheme", header: "bearer good", wantKind: domain.ActorUser, wantSubject: "alice", authenticated: true},
		{name: "invalid token stays anonymous", header: "Bearer forged", wantKind: domain.ActorAnonymous},
		{name: "basic auth ignored", header: "Basic Zm9vOmJhcg==", wantKind: domain.ActorAnonymous},
		{name: "no header", header: "", wantKind: domain.ActorAnonymous},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got domain.Actor
			h := Authenticate(tokens, quietLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = auth.ActorFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/licenses", nil)
			req.RemoteAddr = "10.0.0.4:51234"
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantSubject, got.Subject)
			assert.Equal(t, tt.authenticated, got.Authenticated())
			assert.Equal(t, "10.0.0.4", got.RemoteAddr)
		})
	}
}

// ===== RateLimit =====

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: true}, errors.New("redis: connection refused")
}

func TestRateLimit(t *testing.T) {
	errHandler := apperrors.NewErrorHandler(quietLogger(), false)
	limiter := ratelimit.NewLocalLimiter(0.001, 2)
	h := RateLimit(limiter, errHandler, nil, quietLogger())(http.HandlerFunc(okHandler))

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/licenses/validate", nil)
		req.RemoteAddr = ip + ":4000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1").Code)
	second := send("10.0.0.1")
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))

	denied := send("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, denied.Code)
	assert.NotEmpty(t, denied.Header().Get("Retry-After"))
	assert.Equal(t, "0", denied.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusOK, send("10.0.0.2").Code, "other clients keep their own budget")
}

func TestRateLimit_FailsOpen(t *testing.T) {
	logger, handler := testutil.NewTestLogger(t)
	errHandler := apperrors.NewErrorHandler(quietLogger(), false)
	h := RateLimit(failingLimiter{}, errHandler, nil, logger)(http.HandlerFunc(okHandler))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/licenses/validate", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	testutil.AssertLogContains(t, handler, slog.LevelWarn, "rate limiter unavailable")
}

func TestRateLimit_ReportsRejection(t *testing.T) {
	errHandler := apperrors.NewErrorHandler(quietLogger(), false)
	var rejected []error
	onReject := func(r *http.Request, err error) { rejected = append(rejected, err) }
	h := RateLimit(ratelimit.NewLocalLimiter(0.001, 1), errHandler, onReject, quietLogger())(http.HandlerFunc(okHandler))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/licenses/validate", nil)
		req.RemoteAddr = "10.0.0.9:4000"
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	require.Len(t, rejected, 2)
	assert.ErrorIs(t, rejected[0], apperrors.ErrRateLimitExceeded)
}

// ===== RequireJSON =====

func TestRequireJSON(t *testing.T) {
	errHandler := apperrors.NewErrorHandler(quietLogger(), false)
	h := RequireJSON(16, errHandler, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name        string
		method      string
		contentType string
		body        string
		wantStatus  int
	}{
		{name: "json accepted", method: http.MethodPost, contentType: "application/json", body: `{"a":1}`, wantStatus: http.StatusOK},
		{name: "json with charset", method: http.MethodPost, contentType: "application/json; charset=utf-8", body: `{}`, wantStatus: http.StatusOK},
		{name: "form rejected", method: http.MethodPost, contentType: "application/x-www-form-urlencoded", body: "a=1", wantStatus: http.StatusUnsupportedMediaType},
		{name: "missing content type", method: http.MethodPost, contentType: "", body: `{}`, wantStatus: http.StatusUnsupportedMediaType},
		{name: "oversized body", method: http.MethodPost, contentType: "application/json", body: `{"key":"` + strings.Repeat("a", 32) + `"}`, wantStatus: http.StatusRequestEntityTooLarge},
		{name: "get passes", method: http.MethodGet, contentType: "", body: "", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/licenses/activate", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestRequireJSON_ReportsRejection(t *testing.T) {
	errHandler := apperrors.NewErrorHandler(quietLogger(), false)
	var codes []string
	onReject := func(r *http.Request, err error) {
		var apiErr *apperrors.APIError
		if errors.As(err, &apiErr) {
			codes = append(codes, apiErr.ErrorCode)
		}
	}
	h := RequireJSON(16, errHandler, onReject)(http.HandlerFunc(okHandler))

	send := func(contentType, body string) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/licenses/activate", strings.NewReader(body))
		req.Header.Set("Content-Type", contentType)
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
	send("application/json", `{}`)
	send("text/plain", "x")
	send("application/json", `{"key":"`+strings.Repeat("a", 32)+`"}`)

	assert.Equal(t, []string{"UNSUPPORTED_MEDIA_TYPE", "PAYLOAD_TOO_LARGE"}, codes)
}

// ===== CORS and headers =====

func TestCORS(t *testing.T) {
	h := CORS(CORSConfig{AllowedOrigins: []string{"https://console.example.com"}})(http.HandlerFunc(okHandler))

	t.Run("allowed origin preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/admin/licenses", nil)
		req.Header.Set("Origin", "https://console.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "https://console.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
	})

	t.Run("unknown origin gets no headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(okHandler)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestGetRealIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "x-real-ip", headers: map[string]string{"X-Real-IP": "203.0.113.9"}, remote: "10.0.0.1:1", want: "203.0.113.9"},
		{name: "first forwarded", headers: map[string]string{"X-Forwarded-For": "198.51.100.7, 10.0.0.2"}, remote: "10.0.0.1:1", want: "198.51.100.7"},
		{name: "remote addr with port", remote: "192.0.2.10:5555", want: "192.0.2.10"},
		{name: "ipv6 remote addr", remote: "[2001:db8::1]:443", want: "2001:db8::1"},
		{name: "remote addr without port", remote: "192.0.2.11", want: "192.0.2.11"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, GetRealIP(req))
		})
	}
}

// ===== LicenseGate =====

type fakeChecker struct {
	decision  client.Decision
	refreshes atomic.Int32
	lastCap   string
}

func (f *fakeChecker) Check(capability string) client.Decision {
	f.lastCap = capability
	return f.decision
}

func (f *fakeChecker) RefreshInBackground() <-chan singleflight.Result {
	f.refreshes.Add(1)
	ch := make(chan singleflight.Result, 1)
	ch <- singleflight.Result{}
	return ch
}

func TestLicenseGate(t *testing.T) {
	tests := []struct {
		name          string
		decision      client.Decision
		path          string
		wantStatus    int
		wantType      string
		wantRefreshes int32
	}{
		{
			name:       "allowed",
			decision:   client.Decision{Allowed: true},
			path:       "/reports",
			wantStatus: http.StatusOK,
		},
		{
			name:       "module denied",
			decision:   client.Decision{Err: fmt.Errorf("%w: reports", apperrors.ErrModuleDenied)},
			path:       "/reports",
			wantStatus: http.StatusForbidden,
			wantType:   apperrors.TypeModuleDenied,
		},
		{
			name:          "stale cache triggers refresh",
			decision:      client.Decision{Err: apperrors.ErrStaleCache},
			path:          "/reports",
			wantStatus:    http.StatusForbidden,
			wantType:      apperrors.TypeCacheStale,
			wantRefreshes: 1,
		},
		{
			name:          "tampered cache triggers refresh",
			decision:      client.Decision{Err: fmt.Errorf("%w: bad signature", apperrors.ErrTamperedCache)},
			path:          "/reports",
			wantStatus:    http.StatusForbidden,
			wantType:      apperrors.TypeCacheTampered,
			wantRefreshes: 1,
		},
		{
			name:       "no cache",
			decision:   client.Decision{Err: apperrors.ErrNoCache},
			path:       "/reports",
			wantStatus: http.StatusForbidden,
			wantType:   apperrors.TypeLicenseRequired,
		},
		{
			name:       "health excluded",
			decision:   client.Decision{Err: apperrors.ErrNoCache},
			path:       "/api/health",
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &fakeChecker{decision: tt.decision}
			gate := NewLicenseGate(checker, apperrors.NewErrorHandler(quietLogger(), false), quietLogger())
			h := gate.Require("reports")(http.HandlerFunc(okHandler))

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantRefreshes, checker.refreshes.Load())
			if tt.wantType != "" {
				assert.Equal(t, tt.wantType, decodeProblem(t, rec)["type"])
				assert.Equal(t, "reports", checker.lastCap)
			}
		})
	}
}

func TestLicenseGate_ExcludePrefix(t *testing.T) {
	checker := &fakeChecker{decision: client.Decision{Err: apperrors.ErrNoCache}}
	gate := NewLicenseGate(checker, apperrors.NewErrorHandler(quietLogger(), false), quietLogger())
	gate.AddExcludePrefix("/static/")
	gate.AddExcludePath("/activate")
	h := gate.Require("")(http.HandlerFunc(okHandler))

	for _, path := range []string{"/static/app.js", "/activate"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLicenseGate_Metrics(t *testing.T) {
	providers := infrastructure.NoopProviders(quietLogger())
	metrics, err := NewGateMetrics(providers.Meter)
	require.NoError(t, err)

	checker := &fakeChecker{decision: client.Decision{Allowed: true}}
	gate := NewLicenseGate(checker, apperrors.NewErrorHandler(quietLogger(), false), quietLogger())
	gate.SetMetrics(metrics)

	rec := httptest.NewRecorder()
	gate.Require("billing")(http.HandlerFunc(okHandler)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/billing", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

// ===== OTel =====

func TestOTelMiddleware(t *testing.T) {
	providers := infrastructure.NoopProviders(quietLogger())
	otelMW, err := NewOTelMiddleware(providers)
	require.NoError(t, err)

	h := otelMW.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("created"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/admin/licenses", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "created", rec.Body.String())
}

package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

// Common error types following RFC 7807
const (
	TypeValidation   = "/errors/validation"
	TypeNotFound     = "/errors/not-found"
	TypeUnauthorized = "/errors/unauthorized"
	TypeForbidden    = "/errors/forbidden"
	TypeRateLimit    = "/errors/rate-limit"
	TypeInternal     = "/errors/internal"
	TypeServiceDown  = "/errors/service-unavailable"
	TypeTimeout      = "/errors/timeout"
	TypeConflict     = "/errors/conflict"
)

// License error types
const (
	TypeDeviceQuota        = "/errors/license/device-quota-exceeded"
	TypeBusinessType       = "/errors/license/business-type-mismatch"
	TypeLicenseBlocked     = "/errors/license/blocked"
	TypeLicenseSuspended   = "/errors/license/suspended"
	TypeLicenseExpired     = "/errors/license/expired"
	TypeInvalidTransition  = "/errors/license/invalid-transition"
	TypeLicenseKeyConflict = "/errors/license/key-collision"
	TypeLicenseRequired    = "/errors/license/activation-required"
	TypeCacheTampered      = "/errors/license/cache-tampered"
	TypeCacheStale         = "/errors/license/revalidation-required"
	TypeModuleDenied       = "/errors/license/module-denied"
)

type problemSpec struct {
	err    error
	status int
	typ    string
	title  string
	detail string
}

// problemTable maps the taxonomy to HTTP problems. Order matters: first match wins.
var problemTable = []problemSpec{
	{ErrValidation, http.StatusBadRequest, TypeValidation, "Validation Failed", "The request is malformed or missing required fields"},
	{ErrUnauthenticated, http.StatusUnauthorized, TypeUnauthorized, "Unauthorized", "Authentication required to access this resource"},
	{ErrPermissionDenied, http.StatusForbidden, TypeForbidden, "Forbidden", "You don't have permission to access this resource"},
	{ErrNotFound, http.StatusNotFound, TypeNotFound, "Resource Not Found", "The requested license or device does not exist"},
	{ErrDeviceQuotaExceeded, http.StatusConflict, TypeDeviceQuota, "Device Quota Exceeded", "All device slots of this license are in use. Revoke a device to free a slot."},
	{ErrBusinessTypeMismatch, http.StatusUnprocessableEntity, TypeBusinessType, "Business Type Mismatch", "This license was issued for a different business type."},
	{ErrLicenseBlocked, http.StatusForbidden, TypeLicenseBlocked, "License Blocked", "This license has been blocked. Please contact support."},
	{ErrLicenseSuspended, http.StatusForbidden, TypeLicenseSuspended, "License Suspended", "This license is suspended. Please contact support."},
	{ErrLicenseExpired, http.StatusForbidden, TypeLicenseExpired, "License Expired", "Your license has expired. Please renew to continue."},
	{ErrInvalidTransition, http.StatusConflict, TypeInvalidTransition, "Invalid Status Transition", "The license cannot move to the requested status"},
	{ErrKeyCollision, http.StatusServiceUnavailable, TypeLicenseKeyConflict, "License Key Collision", "A unique license key could not be generated. Retry the request."},
	{ErrNoCache, http.StatusForbidden, TypeLicenseRequired, "License Activation Required", "This device has no license. Activate it online."},
	{ErrTamperedCache, http.StatusForbidden, TypeCacheTampered, "License Cache Invalid", "The local license could not be verified. Validate it online."},
	{ErrStaleCache, http.StatusForbidden, TypeCacheStale, "License Revalidation Required", "The offline grace period has ended. Reconnect to validate the license."},
	{ErrModuleDenied, http.StatusForbidden, TypeModuleDenied, "Module Not Licensed", "The license does not enable this module."},
}

// ErrorFromProblem maps a received problem back to the taxonomy error it was rendered from.
func ErrorFromProblem(pd *ProblemDetails) error {
	if pd == nil {
		return nil
	}
	for _, spec := range problemTable {
		if spec.typ == pd.Type {
			if pd.Detail != "" && pd.Detail != spec.detail {
				return fmt.Errorf("%w: %s", spec.err, pd.Detail)
			}
			return spec.err
		}
	}
	if pd.Type == TypeRateLimit {
		return ErrRateLimitExceeded
	}
	return New(pd.Status, "REMOTE_ERROR", pd.Title+": "+pd.Detail)
}

// ErrorHandler provides centralized error handling
type ErrorHandler struct {
	logger       *slog.Logger
	includeStack bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *slog.Logger, includeStack bool) *ErrorHandler {
	return &ErrorHandler{
		logger:       logger.With(slog.String("component", "error_handler")),
		includeStack: includeStack,
	}
}

// HandleError converts any error to RFC 7807 format and responds
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	reqID := middleware.GetReqID(r.Context())
	problem := h.ErrorToProblem(err, r)
	problem.WithExtension("trace_id", reqID)

	level := slog.LevelWarn
	if problem.Status >= http.StatusInternalServerError {
		level = slog.LevelError
		if h.includeStack {
			problem.WithExtension("stack", getStackTrace())
		}
	}
	h.logger.Log(r.Context(), level, "request failed",
		slog.String("error", err.Error()),
		slog.Int("status", problem.Status),
		slog.String("request_id", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)

	render.Render(w, r, problem)
}

// ErrorToProblem converts an error to RFC 7807 Problem Details
func (h *ErrorHandler) ErrorToProblem(err error, r *http.Request) *ProblemDetails {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewProblemDetails(
			http.StatusGatewayTimeout,
			TypeTimeout,
			"Request Timeout",
			"The request took too long to process and was cancelled",
			r.URL.Path,
		)
	}

	var verr *ValidationError
	if errors.As(err, &verr) {
		return NewProblemDetails(
			http.StatusBadRequest,
			TypeValidation,
			"Validation Failed",
			verr.Error(),
			r.URL.Path,
		).WithExtension("errors", verr.Fields)
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return h.apiErrorToProblem(apiErr, r)
	}

	for _, spec := range problemTable {
		if errors.Is(err, spec.err) {
			problem := NewProblemDetails(spec.status, spec.typ, spec.title, spec.detail, r.URL.Path)
			var denial *DenialError
			if errors.As(err, &denial) {
				problem.WithExtension("reason", string(denial.Reason))
			}
			return problem
		}
	}

	return NewProblemDetails(
		http.StatusInternalServerError,
		TypeInternal,
		"Internal Server Error",
		"An unexpected error occurred while processing your request",
		r.URL.Path,
	)
}

// apiErrorToProblem converts APIError to ProblemDetails
func (h *ErrorHandler) apiErrorToProblem(apiErr *APIError, r *http.Request) *ProblemDetails {
	problemType := TypeInternal
	switch apiErr.ErrorCode {
	case "INVALID_REQUEST", "VALIDATION_FAILED":
		problemType = TypeValidation
	case "RATE_LIMIT_EXCEEDED":
		problemType = TypeRateLimit
	case "SERVICE_UNAVAILABLE":
		problemType = TypeServiceDown
	}

	problem := NewProblemDetails(
		apiErr.StatusCode,
		problemType,
		http.StatusText(apiErr.StatusCode),
		apiErr.Message,
		r.URL.Path,
	).WithExtension("error_code", apiErr.ErrorCode)

	if apiErr.Details != nil {
		problem.WithExtension("details", apiErr.Details)
	}
	if problemType == TypeRateLimit {
		problem.WithExtension("retry_after", 60)
	}

	return problem
}

// HandlePanic recovers from panics and returns RFC 7807 error
func (h *ErrorHandler) HandlePanic(w http.ResponseWriter, r *http.Request, recovered interface{}) {
	reqID := middleware.GetReqID(r.Context())

	h.logger.ErrorContext(r.Context(), "panic recovered",
		slog.Any("panic", recovered),
		slog.String("request_id", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("stack", string(debug.Stack())),
	)

	problem := NewProblemDetails(
		http.StatusInternalServerError,
		TypeInternal,
		"Internal Server Error",
		"An unexpected error occurred",
		r.URL.Path,
	).WithExtension("trace_id", reqID)

	if h.includeStack {
		problem.WithExtension("panic", fmt.Sprintf("%v", recovered))
		problem.WithExtension("stack", getStackTrace())
	}

	render.Render(w, r, problem)
}

// NotFound returns a standard 404 error
func (h *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(
		http.StatusNotFound,
		TypeNotFound,
		"Not Found",
		"The requested resource was not found",
		r.URL.Path,
	).WithExtension("trace_id", middleware.GetReqID(r.Context()))

	render.Render(w, r, problem)
}

// MethodNotAllowed returns a standard 405 error
func (h *ErrorHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(
		http.StatusMethodNotAllowed,
		TypeInternal,
		"Method Not Allowed",
		fmt.Sprintf("Method %s is not allowed for this endpoint", r.Method),
		r.URL.Path,
	).WithExtension("trace_id", middleware.GetReqID(r.Context()))

	render.Render(w, r, problem)
}

// getStackTrace returns the current stack trace
func getStackTrace() string {
	buf := make([]byte, 1024*8)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

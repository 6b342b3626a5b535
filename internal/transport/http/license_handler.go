package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"licensegate/internal/auth"
	apperrors "licensegate/internal/errors"
	"licensegate/internal/infrastructure"
	"licensegate/internal/license"
	api "licensegate/pkg/contracts/api/v1"
	"licensegate/pkg/contracts/domain"
)

// maxListLimit caps one page of the admin license listing
const maxListLimit = 500

// LicenseService is the slice of license.Service the RPC surface calls
type LicenseService interface {
	Activate(ctx context.Context, actor domain.Actor, req api.ActivateLicenseRequest) (*domain.ActivationResult, error)
	Validate(ctx context.Context, actor domain.Actor, req api.ValidateLicenseRequest) (*domain.ValidationResult, error)
	CreateLicense(ctx context.Context, actor domain.Actor, req api.CreateLicenseRequest) (*domain.License, error)
	UpdateStatus(ctx context.Context, actor domain.Actor, req api.UpdateLicenseStatusRequest) (*domain.License, error)
	RevokeDevice(ctx context.Context, actor domain.Actor, req api.RevokeDeviceRequest) (*domain.Device, error)
	Inspect(ctx context.Context, actor domain.Actor, key string) (*domain.License, []domain.Device, error)
	List(ctx context.Context, actor domain.Actor, filter license.ListFilter) ([]domain.License, error)
	RecordRejected(ctx context.Context, actor domain.Actor, event string, err error)
}

// LicenseHandler serves the device and admin license endpoints
type LicenseHandler struct {
	service    LicenseService
	errHandler *apperrors.ErrorHandler
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(service LicenseService, errHandler *apperrors.ErrorHandler, tracer trace.Tracer, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service:    service,
		errHandler: errHandler,
		logger:     logger.With(slog.String("handler", "license")),
		tracer:     tracer,
	}
}

// DeviceRoutes mounts the endpoints devices call
func (h *LicenseHandler) DeviceRoutes(r chi.Router) {
	r.Post(api.RouteActivate, h.Activate)
	r.Post(api.RouteValidate, h.Validate)
}

// AdminRoutes mounts the operator endpoints. Authorization happens in the
// service so that refused calls are audited too.
func (h *LicenseHandler) AdminRoutes(r chi.Router) {
	r.Post(api.RouteAdminLicenses, h.CreateLicense)
	r.Get(api.RouteAdminLicenses, h.ListLicenses)
	r.Post(api.RouteAdminStatus, h.UpdateStatus)
	r.Get(api.RouteAdminLicenses+"/{licenseKey}", h.InspectLicense)
	r.Post(api.RouteAdminRevoke, h.RevokeDevice)
}

// Activate handles POST /api/v1/licenses/activate
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "license_handler.activate")
	defer span.End()
	r = r.WithContext(ctx)

	var req api.ActivateLicenseRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.reject(w, r, domain.EventLicenseActivate, apperrors.InvalidRequestWithError(err))
		return
	}
	span.SetAttributes(attribute.String("license.key_prefix", license.MaskLicenseKey(req.LicenseKey)))

	res, err := h.service.Activate(ctx, deviceActor(ctx, req.DeviceFingerprint), req)
	if err != nil {
		infrastructure.RecordError(ctx, err)
		h.errHandler.HandleError(w, r, err)
		return
	}
	if !res.Granted() {
		infrastructure.AddSpanEvent(ctx, "license.denied", attribute.String("license.denial_reason", string(res.Reason)))
		infrastructure.LoggerWithContext(ctx, h.logger).InfoContext(ctx, "activation denied",
			slog.String("license_key", license.MaskLicenseKey(req.LicenseKey)),
			slog.String("reason", string(res.Reason)),
		)
		h.errHandler.HandleError(w, r, apperrors.Denied(res.Reason))
		return
	}

	message := "License activated"
	if res.AlreadyBound {
		message = "Device already bound to this license"
	}
	render.JSON(w, r, api.ActivateLicenseResponse{
		Status:          string(res.Status),
		Message:         message,
		LicenseID:       res.License.ID,
		LicenseKey:      res.License.LicenseKey,
		BusinessType:    res.License.BusinessType,
		ExpiryDate:      res.License.ExpiryDate,
		Features:        features(res.License),
		ValidationToken: res.ValidationToken,
		AlreadyBound:    res.AlreadyBound,
		ValidatedAt:     res.ValidatedAt,
		CacheSignature:  res.CacheSignature,
	})
}

// Validate handles POST /api/v1/licenses/validate. Every verdict, including
// denials, is a 200 whose status field carries the outcome.
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "license_handler.validate")
	defer span.End()
	r = r.WithContext(ctx)

	var req api.ValidateLicenseRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.reject(w, r, domain.EventLicenseValidate, apperrors.InvalidRequestWithError(err))
		return
	}

	res, err := h.service.Validate(ctx, deviceActor(ctx, req.DeviceFingerprint), req)
	if err != nil {
		infrastructure.RecordError(ctx, err)
		h.errHandler.HandleError(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("license.validation_status", string(res.Status)))

	resp := api.ValidateLicenseResponse{
		Status:  string(res.Status),
		Message: validationMessage(res.Status),
	}
	if res.Valid() {
		expiry := res.License.ExpiryDate
		validatedAt := res.ValidatedAt
		resp.LicenseKey = res.License.LicenseKey
		resp.BusinessType = res.License.BusinessType
		resp.ExpiryDate = &expiry
		resp.Features = features(res.License)
		resp.ValidationToken = res.ValidationToken
		resp.ValidatedAt = &validatedAt
		resp.CacheSignature = res.CacheSignature
	}
	render.JSON(w, r, resp)
}

// CreateLicense handles POST /api/v1/admin/licenses
func (h *LicenseHandler) CreateLicense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.CreateLicenseRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.reject(w, r, domain.EventLicenseCreate, apperrors.InvalidRequestWithError(err))
		return
	}

	lic, err := h.service.CreateLicense(ctx, auth.ActorFromContext(ctx), req)
	if err != nil {
		h.errHandler.HandleError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, api.CreateLicenseResponse{
		Success:    true,
		LicenseKey: lic.LicenseKey,
		LicenseID:  lic.ID,
		ExpiryDate: lic.ExpiryDate,
	})
}

// ListLicenses handles GET /api/v1/admin/licenses
func (h *LicenseHandler) ListLicenses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	filter := license.ListFilter{
		CustomerID: strings.TrimSpace(query.Get("customerId")),
		Status:     domain.LicenseStatus(strings.ToLower(strings.TrimSpace(query.Get("status")))),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		h.reject(w, r, domain.EventLicenseList, apperrors.NewValidationError("status", "unknown license status"))
		return
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxListLimit {
			h.reject(w, r, domain.EventLicenseList, apperrors.NewValidationError("limit", "must be between 1 and "+strconv.Itoa(maxListLimit)))
			return
		}
		filter.Limit = limit
	}

	licenses, err := h.service.List(ctx, auth.ActorFromContext(ctx), filter)
	if err != nil {
		h.errHandler.HandleError(w, r, err)
		return
	}
	if licenses == nil {
		licenses = []domain.License{}
	}
	render.JSON(w, r, api.ListLicensesResponse{Licenses: licenses, Count: len(licenses)})
}

// InspectLicense handles GET /api/v1/admin/licenses/{licenseKey}
func (h *LicenseHandler) InspectLicense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := chi.URLParam(r, "licenseKey")

	lic, devices, err := h.service.Inspect(ctx, auth.ActorFromContext(ctx), key)
	if err != nil {
		h.errHandler.HandleError(w, r, err)
		return
	}
	if devices == nil {
		devices = []domain.Device{}
	}
	render.JSON(w, r, api.InspectLicenseResponse{License: lic, Devices: devices})
}

// UpdateStatus handles POST /api/v1/admin/licenses/status
func (h *LicenseHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.UpdateLicenseStatusRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.reject(w, r, domain.EventLicenseStatus, apperrors.InvalidRequestWithError(err))
		return
	}

	lic, err := h.service.UpdateStatus(ctx, auth.ActorFromContext(ctx), req)
	if err != nil {
		h.errHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, api.UpdateLicenseStatusResponse{Success: true, Status: string(lic.Status)})
}

// RevokeDevice handles POST /api/v1/admin/devices/revoke
func (h *LicenseHandler) RevokeDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.RevokeDeviceRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.reject(w, r, domain.EventDeviceRevoke, apperrors.InvalidRequestWithError(err))
		return
	}

	if _, err := h.service.RevokeDevice(ctx, auth.ActorFromContext(ctx), req); err != nil {
		h.errHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, api.RevokeDeviceResponse{Success: true})
}

// AuditRejection records a request that middleware refused before it reached
// its handler. Requests outside the license routes are ignored.
func (h *LicenseHandler) AuditRejection(r *http.Request, err error) {
	if event := auditEventFor(r.Method, r.URL.Path); event != "" {
		h.service.RecordRejected(r.Context(), rejectedActor(r.Context(), event), event, err)
	}
}

// reject audits a request the handler refuses on its own and writes the
// error response
func (h *LicenseHandler) reject(w http.ResponseWriter, r *http.Request, event string, err error) {
	h.service.RecordRejected(r.Context(), rejectedActor(r.Context(), event), event, err)
	h.errHandler.HandleError(w, r, err)
}

// auditEventFor maps a license route to the audit event its operation writes
func auditEventFor(method, path string) string {
	switch {
	case method == http.MethodPost && path == api.RouteActivate:
		return domain.EventLicenseActivate
	case method == http.MethodPost && path == api.RouteValidate:
		return domain.EventLicenseValidate
	case method == http.MethodPost && path == api.RouteAdminLicenses:
		return domain.EventLicenseCreate
	case method == http.MethodGet && path == api.RouteAdminLicenses:
		return domain.EventLicenseList
	case method == http.MethodPost && path == api.RouteAdminStatus:
		return domain.EventLicenseStatus
	case method == http.MethodPost && path == api.RouteAdminRevoke:
		return domain.EventDeviceRevoke
	case method == http.MethodGet && strings.HasPrefix(path, api.RouteAdminLicenses+"/"):
		return domain.EventLicenseInspect
	}
	return ""
}

func rejectedActor(ctx context.Context, event string) domain.Actor {
	switch event {
	case domain.EventLicenseActivate, domain.EventLicenseValidate:
		return deviceActor(ctx, "")
	}
	return auth.ActorFromContext(ctx)
}

// deviceActor names the caller of a device endpoint. An operator token, when
// present, wins over the device identity.
func deviceActor(ctx context.Context, fingerprint string) domain.Actor {
	actor := auth.ActorFromContext(ctx)
	if actor.Authenticated() {
		return actor
	}
	device := domain.Actor{Kind: domain.ActorDevice, RemoteAddr: actor.RemoteAddr}
	if fp := strings.TrimSpace(fingerprint); fp != "" {
		device.Subject = license.MaskFingerprint(fp)
	}
	return device
}

func features(lic *domain.License) []string {
	if lic == nil || lic.EnabledModules == nil {
		return []string{}
	}
	return lic.EnabledModules
}

func validationMessage(status domain.ValidationStatus) string {
	switch status {
	case domain.ValidationValid:
		return "License is valid"
	case domain.ValidationExpired:
		return "License has expired"
	case domain.ValidationBlocked:
		return "License or device has been blocked"
	case domain.ValidationSuspended:
		return "License is suspended"
	case domain.ValidationMismatch:
		return "License was issued for a different business type"
	case domain.ValidationDeviceMismatch:
		return "Device is not bound to this license"
	}
	return "License not found"
}

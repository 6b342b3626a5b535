package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	apperrors "licensegate/internal/errors"
	"licensegate/internal/infrastructure"
	api "licensegate/pkg/contracts/api/v1"
	"licensegate/pkg/contracts/domain"
)

// CreateLicense issues a new inactive license. The actor must administer
// req.CustomerID. Exactly one audit event is written, whatever the outcome.
func (s *Service) CreateLicense(ctx context.Context, actor domain.Actor, req api.CreateLicenseRequest) (lic *domain.License, err error) {
	ctx, finish := s.startSpan(ctx, "create",
		attribute.String("license.business_type", req.BusinessType))
	defer func() {
		finish(err)
		details := map[string]any{
			"businessType": req.BusinessType,
			"maxDevices":   req.MaxDevices,
			"customerId":   req.CustomerID,
		}
		if lic != nil {
			details["licenseId"] = lic.ID
			details["licenseKey"] = MaskLicenseKey(lic.LicenseKey)
			details["expiryDate"] = lic.ExpiryDate
		}
		s.record(ctx, actor, domain.EventLicenseCreate, auditStatusFor(err), errorDetails(details, err))
	}()

	req.BusinessType = strings.TrimSpace(req.BusinessType)
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, actor, req.CustomerID); err != nil {
		return nil, err
	}

	expiryDays := req.ExpiryDays
	if expiryDays == 0 {
		expiryDays = s.policy.DefaultExpiryDays
	}
	now := s.clock.Now().UTC().Truncate(time.Millisecond)

	lic = &domain.License{
		ID:             uuid.NewString(),
		BusinessType:   req.BusinessType,
		CustomerID:     req.CustomerID,
		LicenseType:    req.Type,
		MaxDevices:     req.MaxDevices,
		EnabledModules: normalizeModules(req.EnabledModules),
		IssueDate:      now,
		ExpiryDate:     now.AddDate(0, 0, expiryDays),
		Status:         domain.LicenseStatusInactive,
		UpdatedAt:      now,
	}

	for attempt := 1; attempt <= s.policy.MaxKeyAttempts; attempt++ {
		key, err := GenerateKey(s.policy.KeyPrefix, s.policy.PlatformTag, lic.BusinessType, now, s.rand)
		if err != nil {
			return nil, err
		}
		lic.LicenseKey = key

		err = s.store.WithTx(ctx, func(tx Tx) error {
			exists, err := tx.LicenseKeyExists(ctx, key)
			if err != nil {
				return err
			}
			if exists {
				return apperrors.ErrKeyCollision
			}
			return tx.InsertLicense(ctx, lic)
		})
		if err == nil {
			s.metrics.recordCreated(ctx, lic.BusinessType)
			infrastructure.LoggerWithContext(ctx, s.logger).InfoContext(ctx, "license created",
				slog.String("license_id", lic.ID),
				slog.String("license_key", MaskLicenseKey(lic.LicenseKey)),
				slog.String("business_type", lic.BusinessType),
				slog.Int("max_devices", lic.MaxDevices),
			)
			return lic, nil
		}
		if !errors.Is(err, apperrors.ErrKeyCollision) {
			lic = nil
			return nil, fmt.Errorf("create license: %w", err)
		}
		s.logger.WarnContext(ctx, "license key collision, regenerating", slog.Int("attempt", attempt))
	}

	lic = nil
	return nil, fmt.Errorf("create license after %d attempts: %w", s.policy.MaxKeyAttempts, apperrors.ErrKeyCollision)
}

// FindByKey looks a license up by key, case-insensitively
func (s *Service) FindByKey(ctx context.Context, key string) (*domain.License, error) {
	var lic *domain.License
	err := s.store.View(ctx, func(q Queries) error {
		var err error
		lic, err = q.LicenseByKey(ctx, key)
		return err
	})
	return lic, err
}

// FindByID looks a license up by id
func (s *Service) FindByID(ctx context.Context, id string) (*domain.License, error) {
	var lic *domain.License
	err := s.store.View(ctx, func(q Queries) error {
		var err error
		lic, err = q.LicenseByID(ctx, id)
		return err
	})
	return lic, err
}

// Devices lists every device bound to a license, revoked ones included
func (s *Service) Devices(ctx context.Context, licenseID string) ([]domain.Device, error) {
	var devices []domain.Device
	err := s.store.View(ctx, func(q Queries) error {
		var err error
		devices, err = q.DevicesByLicense(ctx, licenseID)
		return err
	})
	return devices, err
}

// Inspect returns a license and its devices for an administrator
func (s *Service) Inspect(ctx context.Context, actor domain.Actor, key string) (lic *domain.License, devices []domain.Device, err error) {
	ctx, finish := s.startSpan(ctx, "inspect")
	defer func() {
		finish(err)
		details := map[string]any{"licenseKey": MaskLicenseKey(key)}
		if lic != nil {
			details["licenseId"] = lic.ID
		}
		s.record(ctx, actor, domain.EventLicenseInspect, auditStatusFor(err), errorDetails(details, err))
	}()

	err = s.store.View(ctx, func(q Queries) error {
		found, err := q.LicenseByKey(ctx, key)
		if err != nil {
			return err
		}
		if err := s.authz.Authorize(ctx, actor, found.CustomerID); err != nil {
			return err
		}
		devs, err := q.DevicesByLicense(ctx, found.ID)
		if err != nil {
			return err
		}
		lic, devices = found, devs
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return lic, devices, nil
}

// List returns licenses visible to actor. Admins scoped to one tenant only
// see that tenant's licenses.
func (s *Service) List(ctx context.Context, actor domain.Actor, filter ListFilter) (out []domain.License, err error) {
	ctx, finish := s.startSpan(ctx, "list")
	defer func() {
		finish(err)
		details := map[string]any{"count": len(out)}
		if filter.CustomerID != "" {
			details["customerId"] = filter.CustomerID
		}
		if filter.Status != "" {
			details["status"] = string(filter.Status)
		}
		if filter.Limit > 0 {
			details["limit"] = filter.Limit
		}
		s.record(ctx, actor, domain.EventLicenseList, auditStatusFor(err), errorDetails(details, err))
	}()

	if err := s.authz.Authorize(ctx, actor, filter.CustomerID); err != nil {
		return nil, err
	}
	err = s.store.View(ctx, func(q Queries) error {
		var err error
		out, err = q.ListLicenses(ctx, filter)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateStatus places or lifts an admin hold. Lifting a hold returns the
// license to active when it has an active device and to inactive otherwise.
// Only the inactive -> active flip requires a bind; revoking devices later
// does not move an active license back.
func (s *Service) UpdateStatus(ctx context.Context, actor domain.Actor, req api.UpdateLicenseStatusRequest) (lic *domain.License, err error) {
	ctx, finish := s.startSpan(ctx, "update_status",
		attribute.String("license.target_status", req.Status))
	var from domain.LicenseStatus
	defer func() {
		finish(err)
		details := map[string]any{
			"licenseId": req.LicenseID,
			"requested": req.Status,
		}
		if lic != nil {
			details["from"] = string(from)
			details["to"] = string(lic.Status)
		}
		s.record(ctx, actor, domain.EventLicenseStatus, auditStatusFor(err), errorDetails(details, err))
	}()

	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	target := domain.LicenseStatus(req.Status)
	now := s.clock.Now().UTC()

	var updated *domain.License
	err = s.store.WithTx(ctx, func(tx Tx) error {
		current, err := tx.LicenseByID(ctx, req.LicenseID)
		if err != nil {
			return err
		}
		if err := s.authz.Authorize(ctx, actor, current.CustomerID); err != nil {
			return err
		}
		from = current.Status

		to := target
		if to == domain.LicenseStatusActive && from.IsHold() {
			devices, err := tx.DevicesByLicense(ctx, current.ID)
			if err != nil {
				return err
			}
			if domain.CountActive(devices) == 0 {
				to = domain.LicenseStatusInactive
			}
		}
		if err := Transition(from, to, CauseAdmin); err != nil {
			return err
		}
		if from != to {
			if err := tx.UpdateLicenseStatus(ctx, current.ID, to, now); err != nil {
				return err
			}
			current.Status = to
			current.UpdatedAt = now
		}
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	infrastructure.LoggerWithContext(ctx, s.logger).InfoContext(ctx, "license status updated",
		slog.String("license_id", updated.ID),
		slog.String("from", string(from)),
		slog.String("to", string(updated.Status)),
		slog.String("actor", actor.Ref()),
	)
	return updated, nil
}

func normalizeModules(modules []string) []string {
	out := make([]string, 0, len(modules))
	for _, m := range modules {
		m = strings.ToLower(strings.TrimSpace(m))
		if m == "" || domain.HasModule(out, m) {
			continue
		}
		out = append(out, m)
	}
	return out
}

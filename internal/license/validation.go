package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	apperrors "licensegate/internal/errors"
	"licensegate/internal/infrastructure"
	api "licensegate/pkg/contracts/api/v1"
	"licensegate/pkg/contracts/domain"
)

// Activate binds a device to a license. Business denials (not found, holds,
// expiry, business type mismatch, quota) come back as a tagged result with a
// nil error; the error is reserved for bad input and infrastructure faults.
//
// The license lookup, the status check, the bind and the inactive -> active
// flip all run in one store transaction. An active license found past its
// expiry is persisted as expired in that same transaction.
func (s *Service) Activate(ctx context.Context, actor domain.Actor, req api.ActivateLicenseRequest) (res *domain.ActivationResult, err error) {
	ctx, finish := s.startSpan(ctx, "activate",
		attribute.String("license.key_prefix", MaskLicenseKey(req.LicenseKey)),
		attribute.String("device.fingerprint", MaskFingerprint(req.DeviceFingerprint)),
	)
	expired := false
	defer func() {
		finish(err)
		s.metrics.recordActivation(ctx, res)
		s.auditActivation(ctx, actor, req, res, expired, err)
	}()

	req.DeviceFingerprint = strings.TrimSpace(req.DeviceFingerprint)
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC().Truncate(time.Millisecond)

	err = s.store.WithTx(ctx, func(tx Tx) error {
		res = nil
		expired = false

		lic, err := tx.LicenseByKey(ctx, req.LicenseKey)
		if errors.Is(err, apperrors.ErrNotFound) {
			res = &domain.ActivationResult{Status: domain.ActivationNotFound, Reason: domain.ReasonNotFound}
			return nil
		}
		if err != nil {
			return err
		}

		if reason := CheckActivation(lic, req.BusinessType, now); reason != domain.ReasonNone {
			if reason == domain.ReasonExpired && lic.Status == domain.LicenseStatusActive {
				if err := Transition(lic.Status, domain.LicenseStatusExpired, CauseExpiry); err != nil {
					return err
				}
				if err := tx.UpdateLicenseStatus(ctx, lic.ID, domain.LicenseStatusExpired, now); err != nil {
					return fmt.Errorf("expire license: %w", err)
				}
				lic.Status = domain.LicenseStatusExpired
				lic.UpdatedAt = now
				expired = true
			}
			res = &domain.ActivationResult{Status: domain.ActivationDenied, Reason: reason, License: lic}
			return nil
		}

		bind, err := s.BindDevice(ctx, tx, lic, BindRequest{
			Fingerprint: req.DeviceFingerprint,
			DeviceName:  req.DeviceName,
			Platform:    req.Platform,
		})
		if errors.Is(err, apperrors.ErrDeviceQuotaExceeded) {
			res = &domain.ActivationResult{Status: domain.ActivationDenied, Reason: domain.ReasonQuotaExceeded, License: lic}
			return nil
		}
		if err != nil {
			return err
		}

		transitioned := false
		if lic.Status == domain.LicenseStatusInactive {
			if err := Transition(lic.Status, domain.LicenseStatusActive, CauseActivation); err != nil {
				return err
			}
			if err := tx.UpdateLicenseStatus(ctx, lic.ID, domain.LicenseStatusActive, now); err != nil {
				return fmt.Errorf("activate license: %w", err)
			}
			lic.Status = domain.LicenseStatusActive
			lic.UpdatedAt = now
			transitioned = true
		}

		res = &domain.ActivationResult{
			Status:       domain.ActivationActive,
			AlreadyBound: bind.AlreadyBound,
			Transitioned: transitioned,
			License:      lic,
			Device:       bind.Device,
		}
		return nil
	})
	if err != nil {
		res = nil
		return nil, err
	}
	if expired {
		s.metrics.recordExpiration(ctx)
		infrastructure.LoggerWithContext(ctx, s.logger).InfoContext(ctx, "license expired",
			slog.String("license_id", res.License.ID),
			slog.Time("expiry_date", res.License.ExpiryDate),
		)
	}
	if !res.Granted() {
		return res, nil
	}

	res.ValidatedAt = now
	res.ValidationToken = s.tokens.Sign(res.License.LicenseKey, req.DeviceFingerprint, DayOf(now))
	res.CacheSignature, err = s.signSnapshot(res.License, req.DeviceFingerprint, res.ValidationToken, now)
	if err != nil {
		res = nil
		return nil, err
	}

	infrastructure.LoggerWithContext(ctx, s.logger).InfoContext(ctx, "license activated",
		slog.String("license_key", MaskLicenseKey(req.LicenseKey)),
		slog.String("fingerprint", MaskFingerprint(req.DeviceFingerprint)),
		slog.Bool("already_bound", res.AlreadyBound),
		slog.Bool("transitioned", res.Transitioned),
	)
	return res, nil
}

func (s *Service) auditActivation(ctx context.Context, actor domain.Actor, req api.ActivateLicenseRequest, res *domain.ActivationResult, expired bool, err error) {
	details := map[string]any{
		"licenseKey":   MaskLicenseKey(req.LicenseKey),
		"fingerprint":  MaskFingerprint(req.DeviceFingerprint),
		"platform":     req.Platform,
		"businessType": req.BusinessType,
	}
	status := auditStatusFor(err)
	if res != nil {
		details["outcome"] = string(res.Status)
		if res.Reason != domain.ReasonNone {
			details["reason"] = string(res.Reason)
		}
		if res.License != nil {
			details["licenseId"] = res.License.ID
		}
		switch {
		case res.Granted():
			details["alreadyBound"] = res.AlreadyBound
			if res.Device != nil {
				details["deviceId"] = res.Device.ID
			}
			if res.Transitioned {
				details["transition"] = "inactive->active"
			}
		default:
			if expired {
				details["transition"] = "active->expired"
			}
			status = domain.AuditStatusDenied
		}
	}
	s.record(ctx, actor, domain.EventLicenseActivate, status, errorDetails(details, err))
}

// Validate is the heartbeat: it resolves (license key, fingerprint) to a
// verdict. Not found, expiry, holds, mismatches and unknown devices are
// result statuses, never errors. An active license seen past its expiry is
// persisted as expired.
func (s *Service) Validate(ctx context.Context, actor domain.Actor, req api.ValidateLicenseRequest) (res *domain.ValidationResult, err error) {
	ctx, finish := s.startSpan(ctx, "validate",
		attribute.String("license.key_prefix", MaskLicenseKey(req.LicenseKey)),
		attribute.String("device.fingerprint", MaskFingerprint(req.DeviceFingerprint)),
	)
	expired := false
	defer func() {
		finish(err)
		s.metrics.recordValidation(ctx, res)
		s.auditValidation(ctx, actor, req, res, expired, err)
	}()

	req.DeviceFingerprint = strings.TrimSpace(req.DeviceFingerprint)
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC().Truncate(time.Millisecond)

	var (
		lic *domain.License
		dev *domain.Device
	)
	err = s.store.View(ctx, func(q Queries) error {
		found, err := q.LicenseByKey(ctx, req.LicenseKey)
		if err != nil {
			return err
		}
		lic = found
		d, err := q.DeviceByFingerprint(ctx, found.ID, req.DeviceFingerprint)
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		dev = d
		return nil
	})
	if errors.Is(err, apperrors.ErrNotFound) {
		return &domain.ValidationResult{Status: domain.ValidationInvalid, Reason: domain.ReasonNotFound}, nil
	}
	if err != nil {
		return nil, err
	}

	verdict := CanValidate(lic, req.BusinessType, now)
	if verdict.Expire {
		if err := Transition(lic.Status, domain.LicenseStatusExpired, CauseExpiry); err != nil {
			return nil, err
		}
		flipped, err := s.store.ExpireLicense(ctx, lic.ID, now)
		if err != nil {
			return nil, fmt.Errorf("expire license: %w", err)
		}
		lic.Status = domain.LicenseStatusExpired
		if flipped {
			expired = true
			s.metrics.recordExpiration(ctx)
			infrastructure.LoggerWithContext(ctx, s.logger).InfoContext(ctx, "license expired",
				slog.String("license_id", lic.ID),
				slog.Time("expiry_date", lic.ExpiryDate),
			)
		}
	}
	if !verdict.OK() {
		return &domain.ValidationResult{Status: validationStatusFor(verdict.Reason), Reason: verdict.Reason, License: lic}, nil
	}

	switch {
	case dev == nil:
		return &domain.ValidationResult{Status: domain.ValidationDeviceMismatch, Reason: domain.ReasonDeviceMismatch, License: lic}, nil
	case dev.Status == domain.DeviceStatusRevoked:
		return &domain.ValidationResult{Status: domain.ValidationBlocked, Reason: domain.ReasonDeviceRevoked, License: lic, Device: dev}, nil
	}

	if _, err := s.TouchLastSeen(ctx, dev); err != nil {
		// last_seen_at is bookkeeping; a failed touch does not fail the heartbeat
		s.logger.WarnContext(ctx, "last seen update failed",
			slog.String("device_id", dev.ID),
			slog.String("error", err.Error()),
		)
	}

	res = &domain.ValidationResult{
		Status:          domain.ValidationValid,
		License:         lic,
		Device:          dev,
		ValidatedAt:     now,
		ValidationToken: s.tokens.Sign(lic.LicenseKey, req.DeviceFingerprint, DayOf(now)),
	}
	res.CacheSignature, err = s.signSnapshot(lic, req.DeviceFingerprint, res.ValidationToken, now)
	if err != nil {
		res = nil
		return nil, err
	}
	return res, nil
}

func (s *Service) auditValidation(ctx context.Context, actor domain.Actor, req api.ValidateLicenseRequest, res *domain.ValidationResult, expired bool, err error) {
	details := map[string]any{
		"licenseKey":  MaskLicenseKey(req.LicenseKey),
		"fingerprint": MaskFingerprint(req.DeviceFingerprint),
	}
	status := auditStatusFor(err)
	if res != nil {
		details["outcome"] = string(res.Status)
		if res.Reason != domain.ReasonNone {
			details["reason"] = string(res.Reason)
		}
		if res.License != nil {
			details["licenseId"] = res.License.ID
		}
		if expired {
			details["transition"] = "active->expired"
		}
		if !res.Valid() {
			status = domain.AuditStatusDenied
		}
	}
	s.record(ctx, actor, domain.EventLicenseValidate, status, errorDetails(details, err))
}

// SnapshotOf builds the cache snapshot a device stores for a granted verdict
func SnapshotOf(lic *domain.License, fingerprint, token string, validatedAt time.Time) Snapshot {
	return Snapshot{
		LicenseKey:        lic.LicenseKey,
		BusinessType:      lic.BusinessType,
		EnabledModules:    lic.EnabledModules,
		ExpiryDate:        lic.ExpiryDate.UTC(),
		DeviceFingerprint: fingerprint,
		LastValidatedAt:   validatedAt.UTC(),
		ValidationToken:   token,
	}
}

func (s *Service) signSnapshot(lic *domain.License, fingerprint, token string, validatedAt time.Time) (string, error) {
	if s.snapshots == nil {
		return "", nil
	}
	return s.snapshots.Sign(SnapshotOf(lic, fingerprint, token, validatedAt))
}

func validationStatusFor(reason domain.Reason) domain.ValidationStatus {
	switch reason {
	case domain.ReasonExpired:
		return domain.ValidationExpired
	case domain.ReasonBlocked, domain.ReasonDeviceRevoked:
		return domain.ValidationBlocked
	case domain.ReasonSuspended:
		return domain.ValidationSuspended
	case domain.ReasonMismatch:
		return domain.ValidationMismatch
	case domain.ReasonDeviceMismatch:
		return domain.ValidationDeviceMismatch
	}
	return domain.ValidationInvalid
}

package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "licensegate/internal/errors"
	"licensegate/internal/infrastructure"
	api "licensegate/pkg/contracts/api/v1"
	"licensegate/pkg/contracts/domain"
)

// BindRequest names the device to bind
type BindRequest struct {
	Fingerprint string
	DeviceName  string
	Platform    string
}

// BindResult is the outcome of a successful bind
type BindResult struct {
	Device       *domain.Device
	AlreadyBound bool
	// Rebound is set when a revoked device took a slot again.
	Rebound bool
}

// BindDevice binds a fingerprint to lic inside tx. The caller owns the
// transaction; the device read, the quota count and the insert must share it.
//
// A fingerprint already bound and active returns AlreadyBound regardless of
// the quota. A revoked fingerprint is re-bound only if a slot is free.
// A full quota fails with errors.ErrDeviceQuotaExceeded.
func (s *Service) BindDevice(ctx context.Context, tx Tx, lic *domain.License, req BindRequest) (BindResult, error) {
	fingerprint := strings.TrimSpace(req.Fingerprint)
	if fingerprint == "" {
		return BindResult{}, apperrors.NewValidationError("deviceFingerprint", "is required")
	}

	devices, err := tx.DevicesByLicense(ctx, lic.ID)
	if err != nil {
		return BindResult{}, fmt.Errorf("list devices: %w", err)
	}

	var known *domain.Device
	for i := range devices {
		if devices[i].DeviceFingerprint == fingerprint {
			known = &devices[i]
			break
		}
	}
	if known != nil && known.Status == domain.DeviceStatusActive {
		return BindResult{Device: known, AlreadyBound: true}, nil
	}

	if domain.CountActive(devices) >= lic.MaxDevices {
		return BindResult{}, fmt.Errorf("%w: %d of %d slots in use",
			apperrors.ErrDeviceQuotaExceeded, domain.CountActive(devices), lic.MaxDevices)
	}

	now := s.clock.Now().UTC().Truncate(time.Millisecond)
	if known != nil {
		known.Status = domain.DeviceStatusActive
		known.BoundAt = now
		if req.DeviceName != "" {
			known.DeviceName = req.DeviceName
		}
		if req.Platform != "" {
			known.Platform = req.Platform
		}
		if err := tx.UpdateDevice(ctx, known); err != nil {
			return BindResult{}, fmt.Errorf("rebind device: %w", err)
		}
		return BindResult{Device: known, Rebound: true}, nil
	}

	dev := &domain.Device{
		ID:                uuid.NewString(),
		LicenseID:         lic.ID,
		DeviceFingerprint: fingerprint,
		DeviceName:        req.DeviceName,
		Platform:          req.Platform,
		Status:            domain.DeviceStatusActive,
		BoundAt:           now,
		LastSeenAt:        &now,
	}
	if err := tx.InsertDevice(ctx, dev); err != nil {
		return BindResult{}, fmt.Errorf("insert device: %w", err)
	}
	return BindResult{Device: dev}, nil
}

// TouchLastSeen records a heartbeat for dev. It only writes when the stored
// last_seen_at is older than the policy throttle and reports whether it did.
func (s *Service) TouchLastSeen(ctx context.Context, dev *domain.Device) (bool, error) {
	now := s.clock.Now().UTC()
	if dev.LastSeenAt != nil && now.Sub(*dev.LastSeenAt) <= s.policy.LastSeenThrottle {
		return false, nil
	}
	touched, err := s.store.TouchDevice(ctx, dev.ID, now, now.Add(-s.policy.LastSeenThrottle))
	if err != nil {
		return false, fmt.Errorf("touch device: %w", err)
	}
	if touched {
		dev.LastSeenAt = &now
	}
	return touched, nil
}

// RevokeDevice frees the quota slot held by fingerprint. Revoking a revoked
// device is a no-op; an unknown fingerprint fails with errors.ErrNotFound.
// The license status is left alone, so an active license may hold no active
// device until the next activation rebinds one.
func (s *Service) RevokeDevice(ctx context.Context, actor domain.Actor, req api.RevokeDeviceRequest) (dev *domain.Device, err error) {
	ctx, finish := s.startSpan(ctx, "revoke")
	alreadyRevoked := false
	defer func() {
		finish(err)
		details := map[string]any{
			"licenseId":   req.LicenseID,
			"fingerprint": MaskFingerprint(req.Fingerprint),
		}
		if dev != nil {
			details["deviceId"] = dev.ID
			details["alreadyRevoked"] = alreadyRevoked
		}
		s.record(ctx, actor, domain.EventDeviceRevoke, auditStatusFor(err), errorDetails(details, err))
	}()

	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, func(tx Tx) error {
		lic, err := tx.LicenseByID(ctx, req.LicenseID)
		if err != nil {
			return err
		}
		if err := s.authz.Authorize(ctx, actor, lic.CustomerID); err != nil {
			return err
		}
		found, err := tx.DeviceByFingerprint(ctx, lic.ID, strings.TrimSpace(req.Fingerprint))
		if err != nil {
			return err
		}
		if found.Status == domain.DeviceStatusRevoked {
			alreadyRevoked = true
			dev = found
			return nil
		}
		found.Status = domain.DeviceStatusRevoked
		if err := tx.UpdateDevice(ctx, found); err != nil {
			return err
		}
		dev = found
		return nil
	})
	if err != nil {
		dev = nil
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("revoke device: %w", err)
		}
		return nil, err
	}

	infrastructure.LoggerWithContext(ctx, s.logger).InfoContext(ctx, "device revoked",
		slog.String("license_id", req.LicenseID),
		slog.String("fingerprint", MaskFingerprint(req.Fingerprint)),
		slog.Bool("already_revoked", alreadyRevoked),
	)
	return dev, nil
}

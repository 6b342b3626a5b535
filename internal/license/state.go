package license

import (
	"fmt"
	"strings"
	"time"

	apperrors "licensegate/internal/errors"
	"licensegate/pkg/contracts/domain"
)

// Cause names what drives a status change
type Cause string

const (
	CauseAdmin      Cause = "admin"
	CauseActivation Cause = "activation"
	CauseExpiry     Cause = "expiry"
)

// Transition checks that from -> to is legal for cause.
//
//	inactive -> active              activation
//	active   -> expired             expiry
//	any      -> blocked|suspended   admin
//	blocked|suspended -> active     admin
//	blocked|suspended -> inactive   admin (reinstating a license with no devices)
//	X -> X                          always (no-op)
func Transition(from, to domain.LicenseStatus, cause Cause) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", apperrors.ErrInvalidTransition, to)
	}
	if from == to {
		return nil
	}

	switch {
	case from == domain.LicenseStatusInactive && to == domain.LicenseStatusActive && cause == CauseActivation:
		return nil
	case from == domain.LicenseStatusActive && to == domain.LicenseStatusExpired && cause == CauseExpiry:
		return nil
	case to.IsHold() && cause == CauseAdmin:
		return nil
	case from.IsHold() && cause == CauseAdmin &&
		(to == domain.LicenseStatusActive || to == domain.LicenseStatusInactive):
		return nil
	}
	return fmt.Errorf("%w: %s -> %s by %s", apperrors.ErrInvalidTransition, from, to, cause)
}

// CanActivate reports whether a license may bind devices at now
func CanActivate(lic *domain.License, now time.Time) bool {
	switch lic.Status {
	case domain.LicenseStatusInactive, domain.LicenseStatusActive:
		return !lic.ExpiredAt(now)
	}
	return false
}

// CheckActivation returns the reason an activation must be denied, or ReasonNone.
// Holds win over expiry, expiry over a business type mismatch.
func CheckActivation(lic *domain.License, businessType string, now time.Time) domain.Reason {
	if reason := holdReason(lic.Status); reason != domain.ReasonNone {
		return reason
	}
	if !CanActivate(lic, now) {
		return domain.ReasonExpired
	}
	if !SameBusinessType(lic.BusinessType, businessType) {
		return domain.ReasonMismatch
	}
	return domain.ReasonNone
}

// Verdict is the outcome of CanValidate
type Verdict struct {
	Reason domain.Reason
	// Expire is set when an active license was found past its expiry and
	// the caller should persist active -> expired.
	Expire bool
}

// OK reports whether validation may proceed
func (v Verdict) OK() bool { return v.Reason == domain.ReasonNone }

// CanValidate decides whether an existing binding may keep working.
// An empty businessType skips the mismatch check.
func CanValidate(lic *domain.License, businessType string, now time.Time) Verdict {
	if reason := holdReason(lic.Status); reason != domain.ReasonNone {
		return Verdict{Reason: reason}
	}
	if lic.Status == domain.LicenseStatusExpired {
		return Verdict{Reason: domain.ReasonExpired}
	}
	if lic.ExpiredAt(now) {
		return Verdict{Reason: domain.ReasonExpired, Expire: lic.Status == domain.LicenseStatusActive}
	}
	if businessType != "" && !SameBusinessType(lic.BusinessType, businessType) {
		return Verdict{Reason: domain.ReasonMismatch}
	}
	return Verdict{}
}

// SameBusinessType compares business type tags case-insensitively
func SameBusinessType(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func holdReason(status domain.LicenseStatus) domain.Reason {
	switch status {
	case domain.LicenseStatusBlocked:
		return domain.ReasonBlocked
	case domain.LicenseStatusSuspended:
		return domain.ReasonSuspended
	}
	return domain.ReasonNone
}

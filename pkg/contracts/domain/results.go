package domain

import "time"

// Reason names why an activation or validation was not granted.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonNotFound       Reason = "not_found"
	ReasonBlocked        Reason = "blocked"
	ReasonSuspended      Reason = "suspended"
	ReasonExpired        Reason = "expired"
	ReasonMismatch       Reason = "mismatch"
	ReasonQuotaExceeded  Reason = "quota_exceeded"
	ReasonDeviceMismatch Reason = "device_mismatch"
	ReasonDeviceRevoked  Reason = "device_revoked"
)

// ActivationStatus is the tag of an ActivationResult.
type ActivationStatus string

const (
	ActivationActive   ActivationStatus = "active"
	ActivationDenied   ActivationStatus = "denied"
	ActivationNotFound ActivationStatus = "not_found"
)

// ActivationResult is the tagged outcome of an activation attempt.
// Only Status == ActivationActive carries a token. Transitioned is set on the
// call that flipped the license inactive -> active.
type ActivationResult struct {
	Status          ActivationStatus
	Reason          Reason
	AlreadyBound    bool
	Transitioned    bool
	License         *License
	Device          *Device
	ValidationToken string
	ValidatedAt     time.Time
	CacheSignature  string
}

// Granted reports whether the activation bound (or re-confirmed) the device.
func (r *ActivationResult) Granted() bool {
	return r != nil && r.Status == ActivationActive
}

// ValidationStatus is the tag of a ValidationResult; heartbeat callers render it directly.
type ValidationStatus string

const (
	ValidationValid          ValidationStatus = "valid"
	ValidationInvalid        ValidationStatus = "invalid"
	ValidationExpired        ValidationStatus = "expired"
	ValidationBlocked        ValidationStatus = "blocked"
	ValidationSuspended      ValidationStatus = "suspended"
	ValidationMismatch       ValidationStatus = "mismatch"
	ValidationDeviceMismatch ValidationStatus = "device_mismatch"
)

// ValidationResult is the tagged outcome of a heartbeat validation.
type ValidationResult struct {
	Status          ValidationStatus
	Reason          Reason
	License         *License
	Device          *Device
	ValidationToken string
	ValidatedAt     time.Time
	CacheSignature  string
}

// Valid reports whether the (license, device) pair is currently authorised.
func (r *ValidationResult) Valid() bool {
	return r != nil && r.Status == ValidationValid
}

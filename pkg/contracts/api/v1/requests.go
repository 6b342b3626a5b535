// Package api contains the RPC contract definitions of the license gate.
// Version v1 represents the current stable API version.
package api

// ActivateLicenseRequest binds a device fingerprint to a license.
type ActivateLicenseRequest struct {
	LicenseKey        string `json:"licenseKey" validate:"required,min=10,max=64"`
	DeviceFingerprint string `json:"deviceFingerprint" validate:"required,max=256"`
	Platform          string `json:"platform" validate:"required,max=32"`
	BusinessType      string `json:"businessType" validate:"required,max=64"`
	DeviceName        string `json:"deviceName" validate:"omitempty,max=128"`
}

// ValidateLicenseRequest is the heartbeat request of a bound device.
type ValidateLicenseRequest struct {
	LicenseKey        string `json:"licenseKey" validate:"required,min=10,max=64"`
	DeviceFingerprint string `json:"deviceFingerprint" validate:"required,max=256"`
	BusinessType      string `json:"businessType,omitempty" validate:"omitempty,max=64"`
}

// CreateLicenseRequest issues a new license (admin only).
type CreateLicenseRequest struct {
	BusinessType   string   `json:"businessType" validate:"required,max=64"`
	MaxDevices     int      `json:"maxDevices" validate:"required,min=1,max=10000"`
	ExpiryDays     int      `json:"expiryDays" validate:"omitempty,min=1,max=36500"`
	CustomerID     string   `json:"customerId,omitempty" validate:"omitempty,max=128"`
	EnabledModules []string `json:"enabledModules,omitempty" validate:"omitempty,dive,required,max=64"`
	Type           string   `json:"type,omitempty" validate:"omitempty,max=32"`
}

// RevokeDeviceRequest unbinds a device from a license (admin only).
type RevokeDeviceRequest struct {
	LicenseID   string `json:"licenseId" validate:"required"`
	Fingerprint string `json:"fingerprint" validate:"required,max=256"`
}

// UpdateLicenseStatusRequest places or lifts an admin hold (admin only).
type UpdateLicenseStatusRequest struct {
	LicenseID string `json:"licenseId" validate:"required"`
	Status    string `json:"status" validate:"required,oneof=active blocked suspended"`
}

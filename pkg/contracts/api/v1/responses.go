package api

import (
	"time"

	"licensegate/pkg/contracts/domain"
)

// ActivateLicenseResponse is returned for a granted activation.
// Denials are rendered as problem details carrying the same status tag.
type ActivateLicenseResponse struct {
	Status          string    `json:"status"`
	Message         string    `json:"message"`
	LicenseID       string    `json:"licenseId"`
	LicenseKey      string    `json:"licenseKey"`
	BusinessType    string    `json:"businessType"`
	ExpiryDate      time.Time `json:"expiryDate"`
	Features        []string  `json:"features"`
	ValidationToken string    `json:"validationToken"`
	AlreadyBound    bool      `json:"alreadyBound"`
	ValidatedAt     time.Time `json:"validatedAt"`
	CacheSignature  string    `json:"cacheSignature,omitempty"`
}

// ValidateLicenseResponse is the heartbeat verdict. Every business outcome is a status, never an error.
type ValidateLicenseResponse struct {
	Status          string     `json:"status"`
	Message         string     `json:"message,omitempty"`
	LicenseKey      string     `json:"licenseKey,omitempty"`
	BusinessType    string     `json:"businessType,omitempty"`
	ExpiryDate      *time.Time `json:"expiryDate,omitempty"`
	Features        []string   `json:"features,omitempty"`
	ValidationToken string     `json:"validationToken,omitempty"`
	ValidatedAt     *time.Time `json:"validatedAt,omitempty"`
	CacheSignature  string     `json:"cacheSignature,omitempty"`
}

// CreateLicenseResponse is returned by adminCreateLicense.
type CreateLicenseResponse struct {
	Success    bool      `json:"success"`
	LicenseKey string    `json:"licenseKey"`
	LicenseID  string    `json:"licenseId"`
	ExpiryDate time.Time `json:"expiryDate"`
}

// RevokeDeviceResponse is returned by revokeDevice.
type RevokeDeviceResponse struct {
	Success bool `json:"success"`
}

// UpdateLicenseStatusResponse is returned by the admin status update.
type UpdateLicenseStatusResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
}

// InspectLicenseResponse describes a license and its devices.
type InspectLicenseResponse struct {
	License *domain.License `json:"license"`
	Devices []domain.Device `json:"devices"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// ListLicensesResponse is returned by the admin license listing.
type ListLicensesResponse struct {
	Licenses []domain.License `json:"licenses"`
	Count    int              `json:"count"`
}

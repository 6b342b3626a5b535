// Package domain contains the core domain models for the license gate.
// These types serve as the Single Source of Truth (SSOT) for all layers of the application.
package domain

import (
	"slices"
	"strings"
	"time"
)

// License is the root entitlement record: what a customer may run and on how many devices.
type License struct {
	ID             string        `json:"id" db:"id"`
	LicenseKey     string        `json:"licenseKey" db:"license_key" validate:"required"`
	BusinessType   string        `json:"businessType" db:"business_type" validate:"required"`
	CustomerID     string        `json:"customerId,omitempty" db:"customer_id"`
	LicenseType    string        `json:"type,omitempty" db:"license_type"`
	MaxDevices     int           `json:"maxDevices" db:"max_devices" validate:"min=1"`
	EnabledModules []string      `json:"enabledModules" db:"enabled_modules"`
	IssueDate      time.Time     `json:"issueDate" db:"issue_date"`
	ExpiryDate     time.Time     `json:"expiryDate" db:"expiry_date"`
	Status         LicenseStatus `json:"status" db:"status"`
	UpdatedAt      time.Time     `json:"updatedAt" db:"updated_at"`
}

// LicenseStatus represents the lifecycle state of a license
type LicenseStatus string

const (
	LicenseStatusInactive  LicenseStatus = "inactive"
	LicenseStatusActive    LicenseStatus = "active"
	LicenseStatusExpired   LicenseStatus = "expired"
	LicenseStatusBlocked   LicenseStatus = "blocked"
	LicenseStatusSuspended LicenseStatus = "suspended"
)

// Valid reports whether s is a known license status.
func (s LicenseStatus) Valid() bool {
	switch s {
	case LicenseStatusInactive, LicenseStatusActive, LicenseStatusExpired,
		LicenseStatusBlocked, LicenseStatusSuspended:
		return true
	}
	return false
}

// IsHold reports whether s is an admin-imposed hold (blocked or suspended).
func (s LicenseStatus) IsHold() bool {
	return s == LicenseStatusBlocked || s == LicenseStatusSuspended
}

// ExpiredAt reports whether the license expiry date lies strictly before now.
func (l *License) ExpiredAt(now time.Time) bool {
	return l.ExpiryDate.Before(now)
}

// HasModule reports whether the license enables the given feature tag.
func (l *License) HasModule(module string) bool {
	return HasModule(l.EnabledModules, module)
}

// HasModule reports whether module is present in modules, compared case-insensitively.
func HasModule(modules []string, module string) bool {
	return slices.ContainsFunc(modules, func(m string) bool {
		return strings.EqualFold(m, module)
	})
}

// NormalizeLicenseKey returns the canonical (upper-case, trimmed) form of a license key.
// License keys compare case-insensitively; the canonical form is what gets stored and signed.
func NormalizeLicenseKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

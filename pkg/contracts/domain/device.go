package domain

import "time"

// Device is a physical install bound to a license.
type Device struct {
	ID                string       `json:"id" db:"id"`
	LicenseID         string       `json:"licenseId" db:"license_id"`
	DeviceFingerprint string       `json:"deviceFingerprint" db:"device_fingerprint"`
	DeviceName        string       `json:"deviceName,omitempty" db:"device_name"`
	Platform          string       `json:"platform,omitempty" db:"platform"`
	Status            DeviceStatus `json:"status" db:"status"`
	BoundAt           time.Time    `json:"boundAt" db:"bound_at"`
	LastSeenAt        *time.Time   `json:"lastSeenAt,omitempty" db:"last_seen_at"`
}

// DeviceStatus represents whether a device occupies a quota slot
type DeviceStatus string

const (
	DeviceStatusActive  DeviceStatus = "active"
	DeviceStatusRevoked DeviceStatus = "revoked"
)

// CountActive returns how many devices hold a quota slot.
func CountActive(devices []Device) int {
	n := 0
	for _, d := range devices {
		if d.Status == DeviceStatusActive {
			n++
		}
	}
	return n
}

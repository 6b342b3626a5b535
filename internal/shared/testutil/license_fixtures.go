package testutil

import (
	"sync"
	"time"

	"licensegate/pkg/contracts/domain"
)

// FakeClock is a manually advanced clock for time-dependent rules.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock returns a clock pinned at now.
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

// Now implements the clock interface used across the license packages.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set pins the clock at t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// FixtureNow is the instant most license fixtures are issued at.
var FixtureNow = time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)

// LicenseOption adjusts a fixture license.
type LicenseOption func(*domain.License)

// NewLicense returns a pharmacy license issued at FixtureNow, valid for a year, with two device slots.
func NewLicense(opts ...LicenseOption) *domain.License {
	lic := &domain.License{
		ID:             "lic-0001",
		LicenseKey:     "APP-PHAR-DSK-0A1B2C-2026",
		BusinessType:   "pharmacy",
		CustomerID:     "cust-42",
		LicenseType:    "standard",
		MaxDevices:     2,
		EnabledModules: []string{"billing", "inventory"},
		IssueDate:      FixtureNow,
		ExpiryDate:     FixtureNow.AddDate(0, 0, 365),
		Status:         domain.LicenseStatusInactive,
		UpdatedAt:      FixtureNow,
	}
	for _, opt := range opts {
		opt(lic)
	}
	return lic
}

// WithStatus sets the license status.
func WithStatus(s domain.LicenseStatus) LicenseOption {
	return func(l *domain.License) { l.Status = s }
}

// WithExpiry sets the license expiry date.
func WithExpiry(t time.Time) LicenseOption {
	return func(l *domain.License) { l.ExpiryDate = t }
}

// WithMaxDevices sets the device quota.
func WithMaxDevices(n int) LicenseOption {
	return func(l *domain.License) { l.MaxDevices = n }
}

// WithBusinessType sets the business type.
func WithBusinessType(bt string) LicenseOption {
	return func(l *domain.License) { l.BusinessType = bt }
}

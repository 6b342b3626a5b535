package license

import (
	"context"
	"time"

	"licensegate/pkg/contracts/domain"
)

// Queries is the read side of the backing store. Lookups that miss return
// an error wrapping errors.ErrNotFound.
type Queries interface {
	LicenseByKey(ctx context.Context, key string) (*domain.License, error)
	LicenseByID(ctx context.Context, id string) (*domain.License, error)
	LicenseKeyExists(ctx context.Context, key string) (bool, error)
	DevicesByLicense(ctx context.Context, licenseID string) ([]domain.Device, error)
	DeviceByFingerprint(ctx context.Context, licenseID, fingerprint string) (*domain.Device, error)
	ListLicenses(ctx context.Context, filter ListFilter) ([]domain.License, error)
}

// ListFilter narrows ListLicenses. Zero fields match everything.
type ListFilter struct {
	CustomerID string
	Status     domain.LicenseStatus
	Limit      int
}

// Tx is a serializable read-write transaction
type Tx interface {
	Queries

	// InsertLicense fails with errors.ErrKeyCollision when the key is taken.
	InsertLicense(ctx context.Context, lic *domain.License) error
	UpdateLicenseStatus(ctx context.Context, id string, status domain.LicenseStatus, at time.Time) error
	InsertDevice(ctx context.Context, dev *domain.Device) error
	UpdateDevice(ctx context.Context, dev *domain.Device) error
}

// Store is the transactional store the license core runs on.
type Store interface {
	// WithTx runs fn in one write transaction. fn returning an error rolls back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	// View runs fn against a consistent read-only snapshot.
	View(ctx context.Context, fn func(q Queries) error) error

	// ExpireLicense flips an active license whose expiry is before now to expired.
	// It reports whether a row changed.
	ExpireLicense(ctx context.Context, id string, now time.Time) (bool, error)
	// TouchDevice sets last_seen_at to now when it is unset or older than staleBefore.
	TouchDevice(ctx context.Context, id string, now, staleBefore time.Time) (bool, error)

	Ping(ctx context.Context) error
}

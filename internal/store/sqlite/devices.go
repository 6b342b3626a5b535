package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	apperrors "licensegate/internal/errors"
	"licensegate/pkg/contracts/domain"
)

const deviceColumns = `id, license_id, device_fingerprint, device_name, platform, status, bound_at, last_seen_at`

func scanDevice(row rowScanner) (*domain.Device, error) {
	var (
		dev      domain.Device
		status   string
		boundAt  int64
		lastSeen sql.NullInt64
	)
	if err := row.Scan(
		&dev.ID,
		&dev.LicenseID,
		&dev.DeviceFingerprint,
		&dev.DeviceName,
		&dev.Platform,
		&status,
		&boundAt,
		&lastSeen,
	); err != nil {
		return nil, err
	}
	dev.Status = domain.DeviceStatus(status)
	dev.BoundAt = fromMillis(boundAt)
	if lastSeen.Valid {
		t := fromMillis(lastSeen.Int64)
		dev.LastSeenAt = &t
	}
	return &dev, nil
}

// DevicesByLicense returns every device of a license, in binding order
func (s queries) DevicesByLicense(ctx context.Context, licenseID string) ([]domain.Device, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE license_id = ? ORDER BY bound_at, id`,
		licenseID,
	)
	if err != nil {
		return nil, fmt.Errorf("devices of %s: %w", licenseID, err)
	}
	defer rows.Close()

	devices := []domain.Device{}
	for rows.Next() {
		dev, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, *dev)
	}
	return devices, rows.Err()
}

// DeviceByFingerprint finds the device bound to a license under fingerprint
func (s queries) DeviceByFingerprint(ctx context.Context, licenseID, fingerprint string) (*domain.Device, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE license_id = ? AND device_fingerprint = ?`,
		licenseID, fingerprint,
	)
	dev, err := scanDevice(row)
	if err != nil {
		return nil, notFound("device by fingerprint", err)
	}
	return dev, nil
}

// InsertDevice binds a new device
func (t *txQueries) InsertDevice(ctx context.Context, dev *domain.Device) error {
	var lastSeen sql.NullInt64
	if dev.LastSeenAt != nil {
		lastSeen = sql.NullInt64{Int64: toMillis(*dev.LastSeenAt), Valid: true}
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO devices (`+deviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		dev.ID,
		dev.LicenseID,
		dev.DeviceFingerprint,
		dev.DeviceName,
		dev.Platform,
		string(dev.Status),
		toMillis(dev.BoundAt),
		lastSeen,
	)
	if err != nil {
		return fmt.Errorf("insert device %s: %w", dev.ID, err)
	}
	return nil
}

// UpdateDevice writes the mutable device fields
func (t *txQueries) UpdateDevice(ctx context.Context, dev *domain.Device) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE devices SET device_name = ?, platform = ?, status = ?, bound_at = ?
		WHERE id = ?`,
		dev.DeviceName,
		dev.Platform,
		string(dev.Status),
		toMillis(dev.BoundAt),
		dev.ID,
	)
	if err != nil {
		return fmt.Errorf("update device %s: %w", dev.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update device %s: %w", dev.ID, apperrors.ErrNotFound)
	}
	return nil
}

// TouchDevice records a heartbeat unless one was recorded after staleBefore
func (db *DB) TouchDevice(ctx context.Context, id string, now, staleBefore time.Time) (bool, error) {
	res, err := db.execWrite(ctx, `
		UPDATE devices SET last_seen_at = ?
		WHERE id = ? AND (last_seen_at IS NULL OR last_seen_at < ?)`,
		toMillis(now), id, toMillis(staleBefore),
	)
	if err != nil {
		return false, fmt.Errorf("touch device %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("touch device %s: %w", id, err)
	}
	return n > 0, nil
}

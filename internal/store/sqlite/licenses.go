package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	apperrors "licensegate/internal/errors"
	"licensegate/internal/license"
	"licensegate/pkg/contracts/domain"
)

type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements license.Queries over a transaction
type queries struct {
	q sqlQuerier
}

// txQueries adds the write statements
type txQueries struct {
	queries
	tx *sql.Tx
}

type rowScanner interface {
	Scan(dest ...any) error
}

const licenseColumns = `id, license_key, business_type, customer_id, license_type, max_devices,
	enabled_modules, issue_date, expiry_date, status, updated_at`

func scanLicense(row rowScanner) (*domain.License, error) {
	var (
		lic                    domain.License
		modules, status        string
		issue, expiry, updated int64
	)
	if err := row.Scan(
		&lic.ID,
		&lic.LicenseKey,
		&lic.BusinessType,
		&lic.CustomerID,
		&lic.LicenseType,
		&lic.MaxDevices,
		&modules,
		&issue,
		&expiry,
		&status,
		&updated,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(modules), &lic.EnabledModules); err != nil {
		return nil, fmt.Errorf("decode enabled modules of %s: %w", lic.ID, err)
	}
	lic.IssueDate = fromMillis(issue)
	lic.ExpiryDate = fromMillis(expiry)
	lic.UpdatedAt = fromMillis(updated)
	lic.Status = domain.LicenseStatus(status)
	return &lic, nil
}

// LicenseByKey looks a license up by key, case-insensitively
func (s queries) LicenseByKey(ctx context.Context, key string) (*domain.License, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE license_key = ? COLLATE NOCASE`,
		domain.NormalizeLicenseKey(key),
	)
	lic, err := scanLicense(row)
	if err != nil {
		return nil, notFound("license by key", err)
	}
	return lic, nil
}

// LicenseByID looks a license up by id
func (s queries) LicenseByID(ctx context.Context, id string) (*domain.License, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+licenseColumns+` FROM licenses WHERE id = ?`, id)
	lic, err := scanLicense(row)
	if err != nil {
		return nil, notFound("license by id", err)
	}
	return lic, nil
}

// LicenseKeyExists checks the key index
func (s queries) LicenseKeyExists(ctx context.Context, key string) (bool, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM licenses WHERE license_key = ? COLLATE NOCASE`,
		domain.NormalizeLicenseKey(key),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check license key: %w", err)
	}
	return n > 0, nil
}

// InsertLicense stores a new license
func (t *txQueries) InsertLicense(ctx context.Context, lic *domain.License) error {
	modules := lic.EnabledModules
	if modules == nil {
		modules = []string{}
	}
	encoded, err := json.Marshal(modules)
	if err != nil {
		return fmt.Errorf("encode enabled modules: %w", err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO licenses (`+licenseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lic.ID,
		lic.LicenseKey,
		lic.BusinessType,
		lic.CustomerID,
		lic.LicenseType,
		lic.MaxDevices,
		string(encoded),
		toMillis(lic.IssueDate),
		toMillis(lic.ExpiryDate),
		string(lic.Status),
		toMillis(lic.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert license %s: %w", lic.ID, apperrors.ErrKeyCollision)
		}
		return fmt.Errorf("insert license %s: %w", lic.ID, err)
	}
	return nil
}

// UpdateLicenseStatus writes a status the state machine already approved
func (t *txQueries) UpdateLicenseStatus(ctx context.Context, id string, status domain.LicenseStatus, at time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE licenses SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), toMillis(at), id,
	)
	if err != nil {
		return fmt.Errorf("update license status %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update license status %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

// ExpireLicense flips an overdue active license to expired.
// The condition lives in the statement so concurrent validations race safely.
func (db *DB) ExpireLicense(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := db.execWrite(ctx, `
		UPDATE licenses SET status = ?, updated_at = ?
		WHERE id = ? AND status = ? AND expiry_date < ?`,
		string(domain.LicenseStatusExpired), toMillis(now),
		id, string(domain.LicenseStatusActive), toMillis(now),
	)
	if err != nil {
		return false, fmt.Errorf("expire license %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("expire license %s: %w", id, err)
	}
	return n > 0, nil
}

// ListLicenses returns licenses, newest first
func (q queries) ListLicenses(ctx context.Context, filter license.ListFilter) ([]domain.License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE 1 = 1`
	var args []any
	if filter.CustomerID != "" {
		query += ` AND customer_id = ?`
		args = append(args, filter.CustomerID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY issue_date DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	defer rows.Close()

	out := []domain.License{}
	for rows.Next() {
		lic, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan license: %w", err)
		}
		out = append(out, *lic)
	}
	return out, rows.Err()
}

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "licensegate/internal/errors"
	"licensegate/internal/infrastructure"
	"licensegate/internal/license"
	api "licensegate/pkg/contracts/api/v1"
	"licensegate/pkg/contracts/domain"
)

// DefaultGracePeriod is how long a verified cache stays authoritative offline
const DefaultGracePeriod = 7 * 24 * time.Hour

// clockSkew is how far the local clock may trail the server's validation time
// before the cache is treated as stale
const clockSkew = 5 * time.Minute

// Decision is the Guard's answer for one capability. Err is nil exactly
// when Allowed is true.
type Decision struct {
	Allowed         bool
	Err             error
	LicenseKey      string
	ExpiryDate      time.Time
	LastValidatedAt time.Time
}

// Options configures a Guard
type Options struct {
	Cache        Cache
	Remote       Remote
	Verifier     license.SnapshotVerifier
	Fingerprint  string
	BusinessType string
	Platform     string
	DeviceName   string

	GracePeriod    time.Duration
	RequestTimeout time.Duration
	Clock          license.Clock
	Logger         *slog.Logger
}

// Guard answers feature-gate queries from the local cache and refreshes the
// cache from the server when it can. Check never touches the network and
// fails closed.
type Guard struct {
	cache        Cache
	remote       Remote
	verifier     license.SnapshotVerifier
	fingerprint  string
	businessType string
	platform     string
	deviceName   string
	grace        time.Duration
	timeout      time.Duration
	clock        license.Clock
	logger       *slog.Logger

	refresh singleflight.Group

	mu         sync.RWMutex
	lastDenial error
}

// NewGuard creates a Guard
func NewGuard(opts Options) (*Guard, error) {
	if opts.Cache == nil {
		return nil, errors.New("guard requires a cache")
	}
	if opts.Verifier == nil {
		return nil, errors.New("guard requires a snapshot verifier")
	}
	fingerprint := strings.TrimSpace(opts.Fingerprint)
	if fingerprint == "" {
		return nil, errors.New("guard requires a device fingerprint")
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = license.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Guard{
		cache:        opts.Cache,
		remote:       opts.Remote,
		verifier:     opts.Verifier,
		fingerprint:  fingerprint,
		businessType: strings.TrimSpace(opts.BusinessType),
		platform:     opts.Platform,
		deviceName:   opts.DeviceName,
		grace:        opts.GracePeriod,
		timeout:      opts.RequestTimeout,
		clock:        opts.Clock,
		logger:       infrastructure.WithComponent(opts.Logger, "license_guard"),
	}, nil
}

// Fingerprint returns the device fingerprint the guard binds to
func (g *Guard) Fingerprint() string {
	return g.fingerprint
}

// Check reports whether capability may be used now. An empty capability asks
// only whether the license is usable.
func (g *Guard) Check(capability string) Decision {
	entry, err := g.cache.Load()
	if err != nil {
		if errors.Is(err, apperrors.ErrNoCache) {
			if denial := g.denial(); denial != nil {
				return Decision{Err: denial}
			}
			return Decision{Err: apperrors.ErrNoCache}
		}
		return Decision{Err: err}
	}

	snap := entry.Snapshot
	decision := Decision{
		LicenseKey:      snap.LicenseKey,
		ExpiryDate:      snap.ExpiryDate,
		LastValidatedAt: snap.LastValidatedAt,
	}

	if err := g.verifier.Verify(snap, entry.Signature); err != nil {
		decision.Err = err
		return decision
	}
	if snap.DeviceFingerprint != g.fingerprint {
		decision.Err = fmt.Errorf("%w: cache belongs to another device", apperrors.ErrTamperedCache)
		return decision
	}

	now := g.clock.Now()
	if now.After(snap.ExpiryDate) {
		decision.Err = apperrors.ErrLicenseExpired
		return decision
	}
	if now.Sub(snap.LastValidatedAt) > g.grace {
		decision.Err = apperrors.ErrStaleCache
		return decision
	}
	if now.Before(snap.LastValidatedAt.Add(-clockSkew)) {
		decision.Err = fmt.Errorf("%w: local clock is behind the last validation", apperrors.ErrStaleCache)
		return decision
	}
	if capability != "" && !domain.HasModule(snap.EnabledModules, capability) {
		decision.Err = fmt.Errorf("%w: %s", apperrors.ErrModuleDenied, capability)
		return decision
	}

	decision.Allowed = true
	return decision
}

// Activate binds this device to licenseKey and stores the verified verdict
func (g *Guard) Activate(ctx context.Context, req api.ActivateLicenseRequest) (*api.ActivateLicenseResponse, error) {
	if g.remote == nil {
		return nil, errors.New("guard has no remote configured")
	}
	ctx = infrastructure.EnsureRequestID(ctx)
	req.DeviceFingerprint = g.fingerprint
	if req.BusinessType == "" {
		req.BusinessType = g.businessType
	}
	if req.Platform == "" {
		req.Platform = g.platform
	}
	if req.DeviceName == "" {
		req.DeviceName = g.deviceName
	}

	resp, err := g.remote.Activate(ctx, req)
	if err != nil {
		var denial *apperrors.DenialError
		if errors.As(err, &denial) {
			g.logger.WarnContext(ctx, "activation denied",
				slog.String("license_key", license.MaskLicenseKey(req.LicenseKey)),
				slog.String("reason", string(denial.Reason)),
			)
		}
		return nil, err
	}

	snap := license.Snapshot{
		LicenseKey:        resp.LicenseKey,
		BusinessType:      resp.BusinessType,
		EnabledModules:    resp.Features,
		ExpiryDate:        resp.ExpiryDate,
		DeviceFingerprint: g.fingerprint,
		LastValidatedAt:   resp.ValidatedAt,
		ValidationToken:   resp.ValidationToken,
	}
	if err := g.store(snap, resp.CacheSignature); err != nil {
		return nil, err
	}

	g.logger.InfoContext(ctx, "license activated",
		slog.String("license_key", license.MaskLicenseKey(resp.LicenseKey)),
		slog.Bool("already_bound", resp.AlreadyBound),
		slog.Time("expiry_date", resp.ExpiryDate),
	)
	return resp, nil
}

// Refresh revalidates the cached license with the server. A valid verdict
// rewrites the cache. A denial clears it so Check fails closed immediately.
// Transport errors leave the cache alone and the grace window keeps running.
func (g *Guard) Refresh(ctx context.Context) error {
	if g.remote == nil {
		return errors.New("guard has no remote configured")
	}
	entry, err := g.cache.Load()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(infrastructure.EnsureRequestID(ctx), g.timeout)
	defer cancel()

	resp, err := g.remote.Validate(ctx, api.ValidateLicenseRequest{
		LicenseKey:        entry.Snapshot.LicenseKey,
		DeviceFingerprint: g.fingerprint,
		BusinessType:      g.businessType,
	})
	if err != nil {
		infrastructure.LoggerWithContext(ctx, g.logger).WarnContext(ctx, "license revalidation failed",
			slog.String("error", err.Error()),
		)
		return err
	}

	if resp.Status != string(domain.ValidationValid) {
		reason := reasonForStatus(domain.ValidationStatus(resp.Status))
		denial := apperrors.Denied(reason)
		g.setDenial(denial)
		if err := g.cache.Clear(); err != nil {
			return err
		}
		g.logger.WarnContext(ctx, "license revoked by server verdict",
			slog.String("license_key", license.MaskLicenseKey(entry.Snapshot.LicenseKey)),
			slog.String("status", resp.Status),
		)
		return denial
	}

	if resp.ExpiryDate == nil || resp.ValidatedAt == nil {
		return errors.New("valid verdict without expiry or validation time")
	}
	snap := license.Snapshot{
		LicenseKey:        resp.LicenseKey,
		BusinessType:      resp.BusinessType,
		EnabledModules:    resp.Features,
		ExpiryDate:        *resp.ExpiryDate,
		DeviceFingerprint: g.fingerprint,
		LastValidatedAt:   *resp.ValidatedAt,
		ValidationToken:   resp.ValidationToken,
	}
	if err := g.store(snap, resp.CacheSignature); err != nil {
		return err
	}
	g.logger.DebugContext(ctx, "license revalidated",
		slog.String("license_key", license.MaskLicenseKey(snap.LicenseKey)),
	)
	return nil
}

// RefreshInBackground starts a Refresh unless one is already running. The
// returned channel receives its result; callers may ignore it.
func (g *Guard) RefreshInBackground() <-chan singleflight.Result {
	return g.refresh.DoChan("refresh", func() (any, error) {
		return nil, g.Refresh(context.Background())
	})
}

// Run revalidates immediately and then every interval until ctx is done
func (g *Guard) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("refresh interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err, _ := g.refresh.Do("refresh", func() (any, error) {
			return nil, g.Refresh(ctx)
		}); err != nil && ctx.Err() == nil {
			g.logger.DebugContext(ctx, "periodic revalidation did not succeed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// store verifies a server verdict before it replaces the cache
func (g *Guard) store(snap license.Snapshot, signature string) error {
	if err := g.verifier.Verify(snap, signature); err != nil {
		return fmt.Errorf("server verdict rejected: %w", err)
	}
	if err := g.cache.Save(&Entry{Snapshot: snap, Signature: signature, SavedAt: g.clock.Now()}); err != nil {
		return err
	}
	g.setDenial(nil)
	return nil
}

func (g *Guard) denial() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.lastDenial
}

func (g *Guard) setDenial(err error) {
	g.mu.Lock()
	g.lastDenial = err
	g.mu.Unlock()
}

func reasonForStatus(status domain.ValidationStatus) domain.Reason {
	switch status {
	case domain.ValidationExpired:
		return domain.ReasonExpired
	case domain.ValidationBlocked:
		return domain.ReasonBlocked
	case domain.ValidationSuspended:
		return domain.ReasonSuspended
	case domain.ValidationMismatch:
		return domain.ReasonMismatch
	case domain.ValidationDeviceMismatch:
		return domain.ReasonDeviceMismatch
	}
	return domain.ReasonNotFound
}

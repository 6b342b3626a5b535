package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/keygen-sh/machineid"
)

// DeviceFingerprint identifies the machine a license is bound to
type DeviceFingerprint struct {
	Fingerprint string    `json:"fingerprint"`
	Hostname    string    `json:"hostname"`
	OS          string    `json:"os"`
	Arch        string    `json:"arch"`
	Source      string    `json:"source"` // "machine-id", "fallback" or "persisted"
	GeneratedAt time.Time `json:"generated_at"`
}

// FingerprintManager derives and caches the device fingerprint.
// The fingerprint is an app-scoped hash of the OS machine id, persisted under
// DataDir so it survives hostname changes once generated.
type FingerprintManager struct {
	appID   string
	dataDir string
	logger  *slog.Logger

	// machineID is swapped in tests
	machineID func(appID string) (string, error)
	hostname  func() (string, error)

	cache      *DeviceFingerprint
	cacheMutex sync.RWMutex
}

// NewFingerprintManager creates a fingerprint manager for appID.
// dataDir may be empty, in which case the fingerprint is not persisted.
func NewFingerprintManager(appID, dataDir string, logger *slog.Logger) *FingerprintManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &FingerprintManager{
		appID:     appID,
		dataDir:   dataDir,
		logger:    logger.With(slog.String("component", "fingerprint")),
		machineID: machineid.ProtectedID,
		hostname:  os.Hostname,
	}
}

// GenerateFingerprint returns the device fingerprint, computing it once per process
func (fm *FingerprintManager) GenerateFingerprint() (*DeviceFingerprint, error) {
	fm.cacheMutex.RLock()
	if fm.cache != nil {
		cached := *fm.cache
		fm.cacheMutex.RUnlock()
		return &cached, nil
	}
	fm.cacheMutex.RUnlock()

	fm.cacheMutex.Lock()
	defer fm.cacheMutex.Unlock()
	if fm.cache != nil {
		cached := *fm.cache
		return &cached, nil
	}

	hostname := fm.GetHostname()
	fp := &DeviceFingerprint{
		Hostname:    hostname,
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		GeneratedAt: time.Now().UTC(),
	}

	if existing := fm.readPersisted(); existing != "" {
		fp.Fingerprint = existing
		fp.Source = "persisted"
	} else {
		baseID, err := fm.machineID(fm.appID)
		fp.Source = "machine-id"
		if err != nil || strings.TrimSpace(baseID) == "" {
			fm.logger.Warn("failed to read machine id, using fallback",
				slog.Any("error", err),
			)
			baseID = fallbackMachineID(hostname)
			fp.Source = "fallback"
		}
		sum := sha256.Sum256([]byte(fm.appID + "|" + baseID))
		fp.Fingerprint = hex.EncodeToString(sum[:])
		fm.persist(fp.Fingerprint)
	}

	fm.cache = fp
	fm.logger.Debug("device fingerprint ready",
		slog.String("source", fp.Source),
		slog.String("fingerprint_prefix", fp.Fingerprint[:8]),
	)

	cached := *fp
	return &cached, nil
}

// Fingerprint returns only the fingerprint string
func (fm *FingerprintManager) Fingerprint() (string, error) {
	fp, err := fm.GenerateFingerprint()
	if err != nil {
		return "", err
	}
	return fp.Fingerprint, nil
}

// GetHostname returns the normalized hostname, or "unknown-host"
func (fm *FingerprintManager) GetHostname() string {
	hostname, err := fm.hostname()
	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if err != nil || hostname == "" {
		return "unknown-host"
	}
	return hostname
}

// ValidateFingerprint compares the current fingerprint with a stored one
func (fm *FingerprintManager) ValidateFingerprint(stored string) (bool, error) {
	current, err := fm.GenerateFingerprint()
	if err != nil {
		return false, fmt.Errorf("failed to generate current fingerprint: %w", err)
	}
	return current.Fingerprint == stored, nil
}

// ClearCache drops the in-memory fingerprint; the persisted copy is kept
func (fm *FingerprintManager) ClearCache() {
	fm.cacheMutex.Lock()
	defer fm.cacheMutex.Unlock()
	fm.cache = nil
}

func (fm *FingerprintManager) path() string {
	if fm.dataDir == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(fm.appID))
	return filepath.Join(fm.dataDir, ".device-id-"+hex.EncodeToString(sum[:4]))
}

func (fm *FingerprintManager) readPersisted() string {
	p := fm.path()
	if p == "" {
		return ""
	}
	content, err := os.ReadFile(p)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(content))
}

func (fm *FingerprintManager) persist(fingerprint string) {
	p := fm.path()
	if p == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		fm.logger.Warn("failed to create fingerprint directory", slog.String("path", p), slog.Any("error", err))
		return
	}
	if err := os.WriteFile(p, []byte(fingerprint), 0o600); err != nil {
		fm.logger.Warn("failed to persist fingerprint", slog.String("path", p), slog.Any("error", err))
	}
}

func fallbackMachineID(hostname string) string {
	sum := sha256.Sum256([]byte(runtime.GOOS + "-" + runtime.GOARCH + "-" + hostname))
	return hex.EncodeToString(sum[:16])
}

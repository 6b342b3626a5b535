package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// ClientConfig configures the device-side guard used by licensectl and embedding applications
type ClientConfig struct {
	ServerURL      string        `yaml:"server_url" envconfig:"SERVER_URL"`
	AppID          string        `yaml:"app_id" envconfig:"APP_ID"`
	DataDir        string        `yaml:"data_dir" envconfig:"DATA_DIR"`
	CacheFile      string        `yaml:"cache_file" envconfig:"CACHE_FILE"`
	GracePeriod    time.Duration `yaml:"grace_period" envconfig:"GRACE_PERIOD"`
	RefreshEvery   time.Duration `yaml:"refresh_every" envconfig:"REFRESH_EVERY"`
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	BusinessType   string        `yaml:"business_type" envconfig:"BUSINESS_TYPE"`
	Platform       string        `yaml:"platform" envconfig:"PLATFORM"`

	// Snapshot verification: a PEM public key for EdDSA, or the shared secret for HS256.
	SnapshotAlgorithm     string `yaml:"snapshot_algorithm" envconfig:"SNAPSHOT_ALGORITHM"`
	SnapshotPublicKeyFile string `yaml:"snapshot_public_key_file" envconfig:"SNAPSHOT_PUBLIC_KEY_FILE"`
	SnapshotSecret        string `yaml:"snapshot_secret" envconfig:"SNAPSHOT_SECRET"`

	// PinnedSPKI lists hex SHA-256 hashes of the server certificate public key
	PinnedSPKI []string `yaml:"pinned_spki" envconfig:"PINNED_SPKI"`
}

// CachePath returns the cache file location, defaulting inside DataDir
func (c *ClientConfig) CachePath() string {
	if c.CacheFile != "" {
		return c.CacheFile
	}
	return filepath.Join(c.DataDir, "license-cache.json")
}

// LoadClient reads LICENSEGATE_CLIENT_* variables on top of the defaults,
// applies overrides, then validates
func LoadClient(overrides ...func(*ClientConfig)) (*ClientConfig, error) {
	cfg, err := DefaultClient()
	if err != nil {
		return nil, err
	}
	if err := cfg.LoadEnv(); err != nil {
		return nil, err
	}
	for _, override := range overrides {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("client config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadEnv overlays LICENSEGATE_CLIENT_* variables onto c
func (c *ClientConfig) LoadEnv() error {
	if err := envconfig.Process(EnvPrefix+"_CLIENT", c); err != nil {
		return fmt.Errorf("failed to load client config from env: %w", err)
	}
	return nil
}

// Validate checks the client configuration
func (c *ClientConfig) Validate() error {
	var errs []error
	if c.ServerURL == "" {
		errs = append(errs, errors.New("server url is required"))
	}
	if c.GracePeriod <= 0 {
		errs = append(errs, errors.New("grace period must be positive"))
	}
	switch c.SnapshotAlgorithm {
	case "EdDSA":
		if c.SnapshotPublicKeyFile == "" {
			errs = append(errs, errors.New("snapshot public key file is required for EdDSA"))
		}
	case "HS256":
		if c.SnapshotSecret == "" {
			errs = append(errs, errors.New("snapshot secret is required for HS256"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported snapshot algorithm: %q", c.SnapshotAlgorithm))
	}
	return errors.Join(errs...)
}

// DefaultClient returns default client configuration rooted in the per-user data directory
func DefaultClient() (*ClientConfig, error) {
	dataDir, err := UserDataDir()
	if err != nil {
		return nil, err
	}
	return &ClientConfig{
		ServerURL:         "http://localhost:8080",
		AppID:             "licensegate",
		DataDir:           dataDir,
		GracePeriod:       7 * 24 * time.Hour,
		RefreshEvery:      6 * time.Hour,
		RequestTimeout:    10 * time.Second,
		Platform:          "desktop",
		SnapshotAlgorithm: "EdDSA",
	}, nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// TestLoad tests the precedence of defaults, file and environment
func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		file        string
		env         map[string]string
		wantErr     bool
		validateCfg func(*testing.T, *Config)
	}{
		{
			name: "defaults only",
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, time.Hour, cfg.Policy.LastSeenThrottle)
				assert.Equal(t, 365, cfg.Policy.DefaultExpiryDays)
				assert.Equal(t, "APP", cfg.Policy.KeyPrefix)
				assert.Equal(t, "EdDSA", cfg.Signing.SnapshotAlgorithm)
				assert.False(t, cfg.Redis.Enabled)
				assert.True(t, cfg.IsDevelopment())
			},
		},
		{
			name: "file overrides defaults",
			file: "server:\n  port: 9443\npolicy:\n  last_seen_throttle: 30m\n  platform_tag: WEB\n",
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9443, cfg.Server.Port)
				assert.Equal(t, 30*time.Minute, cfg.Policy.LastSeenThrottle)
				assert.Equal(t, "WEB", cfg.Policy.PlatformTag)
				assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout, "keys absent from the file keep defaults")
			},
		},
		{
			name: "environment overrides file",
			file: "server:\n  port: 9443\n",
			env: map[string]string{
				"LICENSEGATE_SERVER_PORT":              "7000",
				"LICENSEGATE_REDIS_ENABLED":            "true",
				"LICENSEGATE_REDIS_URL":                "redis://localhost:6379/0",
				"LICENSEGATE_SECURITY_ALLOWED_ORIGINS": "https://a.example,https://b.example",
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 7000, cfg.Server.Port)
				assert.True(t, cfg.Redis.Enabled)
				assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Security.AllowedOrigins)
			},
		},
		{
			name:    "production requires secrets",
			env:     map[string]string{"LICENSEGATE_ENVIRONMENT": "production"},
			wantErr: true,
		},
		{
			name: "production with secrets",
			env: map[string]string{
				"LICENSEGATE_ENVIRONMENT":               "production",
				"LICENSEGATE_SIGNING_SECRET":            "0123456789abcdef0123456789abcdef",
				"LICENSEGATE_AUTH_JWT_SECRET":           "fedcba9876543210fedcba9876543210",
				"LICENSEGATE_SIGNING_SNAPSHOT_KEY_FILE": "/etc/licensegate/snapshot.pem",
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.False(t, cfg.IsDevelopment())
			},
		},
		{
			name:    "redis enabled without url",
			env:     map[string]string{"LICENSEGATE_REDIS_ENABLED": "true"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LICENSEGATE_CONFIG_FILE", writeConfigFile(t, tt.file))
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.validateCfg(t, cfg)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(*Config) {}, false},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, true},
		{"empty store path", func(c *Config) { c.Store.Path = "" }, true},
		{"unknown snapshot algorithm", func(c *Config) { c.Signing.SnapshotAlgorithm = "RS256" }, true},
		{"negative throttle", func(c *Config) { c.Policy.LastSeenThrottle = -time.Second }, true},
		{"zero throttle disables throttling", func(c *Config) { c.Policy.LastSeenThrottle = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func TestLoadClient(t *testing.T) {
	t.Run("eddsa requires public key", func(t *testing.T) {
		t.Setenv("LICENSEGATE_CLIENT_SNAPSHOT_ALGORITHM", "EdDSA")
		_, err := LoadClient()
		assert.Error(t, err)
	})

	t.Run("hs256 with secret", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("LICENSEGATE_CLIENT_SNAPSHOT_ALGORITHM", "HS256")
		t.Setenv("LICENSEGATE_CLIENT_SNAPSHOT_SECRET", "shared-secret")
		t.Setenv("LICENSEGATE_CLIENT_DATA_DIR", dir)
		t.Setenv("LICENSEGATE_CLIENT_GRACE_PERIOD", "72h")

		cfg, err := LoadClient()
		require.NoError(t, err)
		assert.Equal(t, 72*time.Hour, cfg.GracePeriod)
		assert.Equal(t, filepath.Join(dir, "license-cache.json"), cfg.CachePath())
	})

	t.Run("overrides apply before validation", func(t *testing.T) {
		t.Setenv("LICENSEGATE_CLIENT_SNAPSHOT_ALGORITHM", "HS256")
		t.Setenv("LICENSEGATE_CLIENT_SNAPSHOT_SECRET", "shared-secret")
		t.Setenv("LICENSEGATE_CLIENT_DATA_DIR", t.TempDir())

		_, err := LoadClient(func(c *ClientConfig) { c.ServerURL = "" })
		assert.Error(t, err)

		cfg, err := LoadClient(func(c *ClientConfig) { c.ServerURL = "https://license.example.com" })
		require.NoError(t, err)
		assert.Equal(t, "https://license.example.com", cfg.ServerURL)
	})
}

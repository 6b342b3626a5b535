package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable, e.g. LICENSEGATE_SERVER_PORT.
const EnvPrefix = "LICENSEGATE"

// Config represents the complete server configuration
type Config struct {
	Environment string          `yaml:"environment" envconfig:"ENVIRONMENT"`
	Server      ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Security    SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Logging     LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Store       StoreConfig     `yaml:"store" envconfig:"STORE"`
	Signing     SigningConfig   `yaml:"signing" envconfig:"SIGNING"`
	Auth        AuthConfig      `yaml:"auth" envconfig:"AUTH"`
	Redis       RedisConfig     `yaml:"redis" envconfig:"REDIS"`
	Policy      PolicyConfig    `yaml:"policy" envconfig:"POLICY"`
	Telemetry   TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig limits requests per client IP on the device endpoints
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64       `yaml:"rps" envconfig:"RPS"`
	Burst   int           `yaml:"burst" envconfig:"BURST"`
	Window  time.Duration `yaml:"window" envconfig:"WINDOW"`
	Limit   int           `yaml:"limit" envconfig:"LIMIT"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level     string `yaml:"level" envconfig:"LEVEL"`
	Format    string `yaml:"format" envconfig:"FORMAT"`
	Output    string `yaml:"output" envconfig:"OUTPUT"`
	FilePath  string `yaml:"file_path" envconfig:"FILE_PATH"`
	AddSource bool   `yaml:"add_source" envconfig:"ADD_SOURCE"`
}

// StoreConfig locates the SQLite database
type StoreConfig struct {
	Path string `yaml:"path" envconfig:"PATH"`
}

// SigningConfig holds the validation token secret and the cache snapshot key
type SigningConfig struct {
	// Secret is the externally provisioned HMAC secret; token and cache keys are derived from it.
	Secret string `yaml:"secret" envconfig:"SECRET"`
	// SnapshotAlgorithm is EdDSA (server-held private key) or HS256 (shared derived key).
	SnapshotAlgorithm string `yaml:"snapshot_algorithm" envconfig:"SNAPSHOT_ALGORITHM"`
	SnapshotKeyFile   string `yaml:"snapshot_key_file" envconfig:"SNAPSHOT_KEY_FILE"`
	SnapshotKeyID     string `yaml:"snapshot_key_id" envconfig:"SNAPSHOT_KEY_ID"`
}

// AuthConfig configures bearer token verification for admin calls
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" envconfig:"JWT_SECRET"`
	Issuer    string        `yaml:"issuer" envconfig:"ISSUER"`
	AdminRole string        `yaml:"admin_role" envconfig:"ADMIN_ROLE"`
	Leeway    time.Duration `yaml:"leeway" envconfig:"LEEWAY"`
}

// RedisConfig configures the shared rate limiter and audit stream
type RedisConfig struct {
	Enabled     bool          `yaml:"enabled" envconfig:"ENABLED"`
	URL         string        `yaml:"url" envconfig:"URL"`
	KeyPrefix   string        `yaml:"key_prefix" envconfig:"KEY_PREFIX"`
	DialTimeout time.Duration `yaml:"dial_timeout" envconfig:"DIAL_TIMEOUT"`
	AuditStream string        `yaml:"audit_stream" envconfig:"AUDIT_STREAM"`
}

// PolicyConfig holds the license policy parameters
type PolicyConfig struct {
	LastSeenThrottle  time.Duration `yaml:"last_seen_throttle" envconfig:"LAST_SEEN_THROTTLE"`
	DefaultExpiryDays int           `yaml:"default_expiry_days" envconfig:"DEFAULT_EXPIRY_DAYS"`
	KeyPrefix         string        `yaml:"key_prefix" envconfig:"KEY_PREFIX"`
	PlatformTag       string        `yaml:"platform_tag" envconfig:"PLATFORM_TAG"`
	MaxKeyAttempts    int           `yaml:"max_key_attempts" envconfig:"MAX_KEY_ATTEMPTS"`
}

// TelemetryConfig configures OpenTelemetry exporters
type TelemetryConfig struct {
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO"`
}

// IsDevelopment reports whether insecure development defaults are acceptable
func (c *Config) IsDevelopment() bool {
	return c.Environment == "" || strings.EqualFold(c.Environment, "development")
}

// Load builds the configuration: defaults, then the YAML file named by
// LICENSEGATE_CONFIG_FILE (or ./config.yaml), then environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := configFilePath(); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFromFile overlays the YAML file onto cfg; keys absent from the file keep their value
func loadFromFile(filePath string, cfg interface{}) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func configFilePath() string {
	if path := os.Getenv(EnvPrefix + "_CONFIG_FILE"); path != "" {
		return path
	}
	for _, location := range []string{"config.yaml", "configs/config.yaml"} {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

// Validate checks the configuration
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		errs = append(errs, errors.New("server timeouts must be positive"))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store path is required"))
	}
	switch c.Signing.SnapshotAlgorithm {
	case "EdDSA", "HS256", "none":
	default:
		errs = append(errs, fmt.Errorf("unsupported snapshot algorithm: %q", c.Signing.SnapshotAlgorithm))
	}
	if c.Policy.LastSeenThrottle < 0 {
		errs = append(errs, errors.New("last seen throttle must not be negative"))
	}
	if c.Policy.DefaultExpiryDays <= 0 {
		errs = append(errs, errors.New("default expiry days must be positive"))
	}
	if c.Policy.MaxKeyAttempts <= 0 {
		errs = append(errs, errors.New("max key attempts must be positive"))
	}
	if c.Redis.Enabled && c.Redis.URL == "" {
		errs = append(errs, errors.New("redis url is required when redis is enabled"))
	}

	if !c.IsDevelopment() {
		if len(c.Signing.Secret) < 32 {
			errs = append(errs, errors.New("signing secret must be at least 32 bytes outside development"))
		}
		if len(c.Auth.JWTSecret) < 32 {
			errs = append(errs, errors.New("jwt secret must be at least 32 bytes outside development"))
		}
		if c.Signing.SnapshotAlgorithm == "EdDSA" && c.Signing.SnapshotKeyFile == "" {
			errs = append(errs, errors.New("snapshot key file is required for EdDSA outside development"))
		}
	}

	return errors.Join(errs...)
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			RequestTimeout:  10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxHeaderBytes:  1 << 20,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     20,
				Burst:   40,
				Window:  time.Minute,
				Limit:   120,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "stdout",
			FilePath: "logs/license-server.log",
		},
		Store: StoreConfig{
			Path: "data/licenses.db",
		},
		Signing: SigningConfig{
			SnapshotAlgorithm: "EdDSA",
			SnapshotKeyID:     "snapshot-1",
		},
		Auth: AuthConfig{
			Issuer:    "licensegate",
			AdminRole: "admin",
			Leeway:    30 * time.Second,
		},
		Redis: RedisConfig{
			KeyPrefix:   "licensegate:",
			DialTimeout: 2 * time.Second,
			AuditStream: "licensegate:audit",
		},
		Policy: PolicyConfig{
			LastSeenThrottle:  time.Hour,
			DefaultExpiryDays: 365,
			KeyPrefix:         "APP",
			PlatformTag:       "DSK",
			MaxKeyAttempts:    5,
		},
		Telemetry: TelemetryConfig{
			Environment:    "development",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
		},
	}
}

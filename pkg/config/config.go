// Package config loads service configuration from a YAML file with
// environment variable overrides for deployment-specific settings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wardenlabs/warden/pkg/scanner"
)

// Config is the top-level service configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Authz         AuthzConfig         `yaml:"authz"`
	Cache         CacheConfig         `yaml:"cache"`
	KMS           KMSConfig           `yaml:"kms"`
	Audit         AuditConfig         `yaml:"audit"`
	Redis         RedisConfig         `yaml:"redis"`
	PolicyStore   PolicyStoreConfig   `yaml:"policyStore"`
	Observability ObservabilityConfig `yaml:"observability"`
	Scanners      []scanner.Spec      `yaml:"scanners"`
	LogLevel      string              `yaml:"logLevel"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// JWTSecret verifies tenant bearer tokens. Empty disables auth;
	// only acceptable behind a trusted gateway.
	JWTSecret string `yaml:"jwtSecret"`

	// RateLimit is requests per second per tenant; zero disables.
	RateLimit float64 `yaml:"rateLimit"`
	RateBurst int     `yaml:"rateBurst"`
}

// AuthzConfig tunes decision behavior.
type AuthzConfig struct {
	// FailOpen allows requests whose traits no policy covers.
	FailOpen bool `yaml:"failOpen"`

	StoreTimeout time.Duration `yaml:"storeTimeout"`
}

// CacheConfig sizes the decision cache.
type CacheConfig struct {
	Capacity int           `yaml:"capacity"`
	MaxIdle  time.Duration `yaml:"maxIdle"`
	MaxAge   time.Duration `yaml:"maxAge"`
}

// KMSConfig locates the keystore.
type KMSConfig struct {
	KeystorePath string `yaml:"keystorePath"`
}

// AuditConfig tunes the delivery pipeline and selects the sink.
type AuditConfig struct {
	// Sink is one of file, sqlite, postgres, s3, gcs, http.
	Sink string `yaml:"sink"`

	QueueSize      int           `yaml:"queueSize"`
	Workers        int           `yaml:"workers"`
	EnqueueTimeout time.Duration `yaml:"enqueueTimeout"`

	// FailureErrorEnabled surfaces queue saturation to the caller as an
	// error instead of spooling silently.
	FailureErrorEnabled bool `yaml:"failureErrorEnabled"`

	SpoolDir       string        `yaml:"spoolDir"`
	ReplayInterval time.Duration `yaml:"replayInterval"`

	FilePath string `yaml:"filePath"`

	S3Bucket   string `yaml:"s3Bucket"`
	S3Region   string `yaml:"s3Region"`
	S3Endpoint string `yaml:"s3Endpoint"`
	S3Prefix   string `yaml:"s3Prefix"`

	GCSBucket string `yaml:"gcsBucket"`
	GCSPrefix string `yaml:"gcsPrefix"`

	HTTPEndpoint string `yaml:"httpEndpoint"`
	HTTPToken    string `yaml:"httpToken"`
}

// RedisConfig enables the distributed rate limiter.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ObservabilityConfig enables OTLP traces and metrics.
type ObservabilityConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	SampleRate   float64 `yaml:"sampleRate"`
	Environment  string  `yaml:"environment"`
	Insecure     bool    `yaml:"insecure"`
}

// PolicyStoreConfig selects and locates the policy backend.
type PolicyStoreConfig struct {
	// Driver is postgres, sqlite or memory.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// Default returns a runnable single-node configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8443",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Authz: AuthzConfig{StoreTimeout: 2 * time.Second},
		Cache: CacheConfig{Capacity: 4096, MaxIdle: 2 * time.Minute, MaxAge: 10 * time.Minute},
		KMS:   KMSConfig{KeystorePath: "warden-keys.json"},
		Audit: AuditConfig{
			Sink:           "sqlite",
			QueueSize:      1024,
			Workers:        2,
			EnqueueTimeout: 100 * time.Millisecond,
			SpoolDir:       "warden-spool",
			ReplayInterval: 30 * time.Second,
		},
		PolicyStore: PolicyStoreConfig{Driver: "sqlite", DSN: "warden.db"},
		Observability: ObservabilityConfig{
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
			Environment:  "development",
		},
		LogLevel: "INFO",
	}
}

// Load reads path (when non-empty) over the defaults, then applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides the secrets and endpoints that differ per
// deployment. Structural settings stay in the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("WARDEN_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("WARDEN_JWT_SECRET"); v != "" {
		c.Server.JWTSecret = v
	}
	if v := os.Getenv("WARDEN_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("WARDEN_POLICY_DSN"); v != "" {
		c.PolicyStore.DSN = v
	}
	if v := os.Getenv("WARDEN_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("WARDEN_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("WARDEN_AUDIT_HTTP_TOKEN"); v != "" {
		c.Audit.HTTPToken = v
	}
	if v := os.Getenv("WARDEN_OTLP_ENDPOINT"); v != "" {
		c.Observability.OTLPEndpoint = v
		c.Observability.Enabled = true
	}
	if os.Getenv("WARDEN_FAIL_OPEN") == "true" {
		c.Authz.FailOpen = true
	}
}

func (c *Config) validate() error {
	switch c.PolicyStore.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("config: unknown policy store driver %q", c.PolicyStore.Driver)
	}
	switch c.Audit.Sink {
	case "file", "sqlite", "postgres", "s3", "gcs", "http":
	default:
		return fmt.Errorf("config: unknown audit sink %q", c.Audit.Sink)
	}
	if c.Cache.Capacity < 0 {
		return fmt.Errorf("config: cache capacity must not be negative")
	}
	return nil
}

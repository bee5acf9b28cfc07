package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListen          = ":8085"
	defaultOracleMaxAge    = time.Hour
	defaultShutdownTimeout = 5 * time.Second
	defaultJWTLeeway       = 30 * time.Second
)

// Config captures the runtime settings for the liquidation daemon.
type Config struct {
	ListenAddress   string          `yaml:"listen"`
	TLS             TLSConfig       `yaml:"tls"`
	Auth            AuthConfig      `yaml:"auth"`
	Storage         StorageConfig   `yaml:"storage"`
	ProtocolConfig  string          `yaml:"protocol_config"`
	Oracle          OracleConfig    `yaml:"oracle"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	Logging         LoggingConfig   `yaml:"logging"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
}

// TLSConfig describes the TLS material for the HTTP listener.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// AuthConfig configures bearer token verification. The token subject is the
// caller's address.
type AuthConfig struct {
	Issuer         string        `yaml:"issuer"`
	Audience       string        `yaml:"audience"`
	HSSecret       string        `yaml:"hs_secret"`
	HSSecretEnv    string        `yaml:"hs_secret_env"`
	Leeway         time.Duration `yaml:"leeway"`
	OracleSubjects []string      `yaml:"oracle_subjects"`
}

// StorageConfig locates the state database and the event journal.
type StorageConfig struct {
	DataDir    string `yaml:"data_dir"`
	JournalDSN string `yaml:"journal_dsn"`
}

// OracleConfig mirrors the price feed guardrails.
type OracleConfig struct {
	MaxAge          time.Duration `yaml:"max_age"`
	MaxDeviationBps uint32        `yaml:"max_deviation_bps"`
}

// RateLimitConfig bounds requests per client.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// LoggingConfig controls the log level and optional rotating file sink.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{ListenAddress: defaultListen}
	if strings.TrimSpace(path) == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Secret resolves the HMAC secret, preferring the environment variable.
func (cfg AuthConfig) Secret() string {
	if cfg.HSSecretEnv != "" {
		if value := strings.TrimSpace(os.Getenv(cfg.HSSecretEnv)); value != "" {
			return value
		}
	}
	return cfg.HSSecret
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.ProtocolConfig = strings.TrimSpace(cfg.ProtocolConfig)
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	cfg.TLS.CertPath = strings.TrimSpace(cfg.TLS.CertPath)
	cfg.TLS.KeyPath = strings.TrimSpace(cfg.TLS.KeyPath)
	cfg.Auth.normalize()
	cfg.Storage.DataDir = strings.TrimSpace(cfg.Storage.DataDir)
	cfg.Storage.JournalDSN = strings.TrimSpace(cfg.Storage.JournalDSN)
	if cfg.Oracle.MaxAge <= 0 {
		cfg.Oracle.MaxAge = defaultOracleMaxAge
	}
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.File = strings.TrimSpace(cfg.Logging.File)
}

func (cfg *AuthConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	cfg.HSSecret = strings.TrimSpace(cfg.HSSecret)
	cfg.HSSecretEnv = strings.TrimSpace(cfg.HSSecretEnv)
	if cfg.Leeway <= 0 {
		cfg.Leeway = defaultJWTLeeway
	}
	subjects := make([]string, 0, len(cfg.OracleSubjects))
	for _, subject := range cfg.OracleSubjects {
		if trimmed := strings.ToLower(strings.TrimSpace(subject)); trimmed != "" {
			subjects = append(subjects, trimmed)
		}
	}
	cfg.OracleSubjects = subjects
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	hasCert := cfg.TLS.CertPath != ""
	if hasCert != (cfg.TLS.KeyPath != "") {
		return fmt.Errorf("tls: cert and key must either both be provided or both be empty")
	}
	if !cfg.TLS.AllowInsecure && !hasCert {
		return fmt.Errorf("tls: cert and key are required unless allow_insecure=true")
	}
	if cfg.Auth.Secret() == "" {
		return fmt.Errorf("auth: hs_secret or hs_secret_env must resolve to a secret")
	}
	if cfg.Storage.DataDir == "" {
		return fmt.Errorf("storage: data_dir is required")
	}
	if cfg.ProtocolConfig == "" {
		return fmt.Errorf("protocol_config is required")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging: unknown level %q", cfg.Logging.Level)
	}
	return nil
}

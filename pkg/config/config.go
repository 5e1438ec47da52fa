package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileEnv names the optional YAML file applied before environment
// overrides.
const FileEnv = "SUPPLYCHAINER_CONFIG"

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ArchiveConfig struct {
	Driver string `yaml:"driver"` // "", "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`
}

type TelemetryConfig struct {
	Enabled         bool   `yaml:"enabled"`
	MetricsExporter string `yaml:"metrics_exporter"`
	OTLPEndpoint    string `yaml:"otlp_endpoint"`
}

type EscalationConfig struct {
	Rule    string        `yaml:"rule"`
	Timeout time.Duration `yaml:"timeout"`
}

// Config holds server configuration.
type Config struct {
	Port                       string           `yaml:"port"`
	LogLevel                   string           `yaml:"log_level"`
	RegistryMinTrust           float64          `yaml:"registry_min_trust"`
	SubscriptionTrustThreshold float64          `yaml:"subscription_trust_threshold"`
	RateLimit                  RateLimitConfig  `yaml:"rate_limit"`
	RedisAddr                  string           `yaml:"redis_addr"`
	JWTSecret                  string           `yaml:"jwt_secret"`
	Archive                    ArchiveConfig    `yaml:"archive"`
	Telemetry                  TelemetryConfig  `yaml:"telemetry"`
	Escalation                 EscalationConfig `yaml:"escalation"`
	SignalsFile                string           `yaml:"signals_file"`

	// env values that failed to parse; reported by Validate
	problems []string
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:                       "8080",
		LogLevel:                   "INFO",
		RegistryMinTrust:           0,
		SubscriptionTrustThreshold: 0.70,
		RateLimit:                  RateLimitConfig{RPS: 20, Burst: 40},
		Telemetry:                  TelemetryConfig{Enabled: true, MetricsExporter: "prometheus"},
		Escalation:                 EscalationConfig{Timeout: 5 * time.Minute},
	}
}

// Load applies defaults, then the YAML file named by SUPPLYCHAINER_CONFIG,
// then environment variables. Unparseable numeric variables keep the
// previous value and are reported by Validate.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %q: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	float := func(key string, dst *float64) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			c.problems = append(c.problems, fmt.Sprintf("%s: %q is not a number", key, v))
			return
		}
		*dst = f
	}
	integer := func(key string, dst *int) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			c.problems = append(c.problems, fmt.Sprintf("%s: %q is not an integer", key, v))
			return
		}
		*dst = n
	}

	str("PORT", &c.Port)
	str("LOG_LEVEL", &c.LogLevel)
	float("REGISTRY_MIN_TRUST", &c.RegistryMinTrust)
	float("SUBSCRIPTION_TRUST_THRESHOLD", &c.SubscriptionTrustThreshold)
	float("RATE_LIMIT_RPS", &c.RateLimit.RPS)
	integer("RATE_LIMIT_BURST", &c.RateLimit.Burst)
	str("REDIS_ADDR", &c.RedisAddr)
	str("JWT_SECRET", &c.JWTSecret)
	str("ARCHIVE_DRIVER", &c.Archive.Driver)
	str("ARCHIVE_DSN", &c.Archive.DSN)
	str("OTEL_METRICS_EXPORTER", &c.Telemetry.MetricsExporter)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)
	str("ESCALATION_RULE", &c.Escalation.Rule)
	str("SIGNALS_FILE", &c.SignalsFile)

	if v := os.Getenv("OTEL_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.problems = append(c.problems, fmt.Sprintf("OTEL_ENABLED: %q is not a boolean", v))
		} else {
			c.Telemetry.Enabled = b
		}
	}
	if v := os.Getenv("ESCALATION_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			c.problems = append(c.problems, fmt.Sprintf("ESCALATION_TIMEOUT: %q is not a duration", v))
		} else {
			c.Escalation.Timeout = d
		}
	}
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	for _, p := range c.problems {
		errs = append(errs, errors.New(p))
	}
	if n, err := strconv.Atoi(c.Port); err != nil || n < 1 || n > 65535 {
		errs = append(errs, fmt.Errorf("port: %q is not a valid port", c.Port))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.RegistryMinTrust < 0 || c.RegistryMinTrust > 1 {
		errs = append(errs, fmt.Errorf("registry_min_trust: %v is outside [0, 1]", c.RegistryMinTrust))
	}
	if c.SubscriptionTrustThreshold < 0 || c.SubscriptionTrustThreshold > 1 {
		errs = append(errs, fmt.Errorf("subscription_trust_threshold: %v is outside [0, 1]", c.SubscriptionTrustThreshold))
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit: rps and burst must be positive"))
	}
	switch c.Archive.Driver {
	case "":
	case "sqlite", "postgres":
		if c.Archive.DSN == "" {
			errs = append(errs, fmt.Errorf("archive: driver %s needs a dsn", c.Archive.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("archive: unknown driver %q", c.Archive.Driver))
	}
	switch c.Telemetry.MetricsExporter {
	case "prometheus", "none":
	case "otlp":
		if c.Telemetry.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("telemetry: otlp metrics need an endpoint"))
		}
	default:
		errs = append(errs, fmt.Errorf("telemetry: unknown metrics exporter %q", c.Telemetry.MetricsExporter))
	}
	if c.Escalation.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("escalation: timeout must be positive"))
	}
	return errors.Join(errs...)
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return ":" + c.Port
}

// SlogLevel maps LogLevel onto slog, defaulting to INFO.
func (c *Config) SlogLevel() slog.Level {
	l, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log_level: unknown level %q", s)
}

// Package config provides configuration parsing and management for monitord.
//
// It handles both command-line flags and environment variables, with flags
// taking precedence over environment variables. The Config struct contains
// all runtime configuration for the monitoring daemon:
//   - Intersection identification and feed endpoints
//   - Polling cadence and notification lifetime
//   - Snapshot storage backend (memory or redis)
//   - Logging configuration (level, format)
//   - TLS configuration (cert, key, CA files)
//
// Supported configuration sources (in order of precedence):
//  1. Command-line flags
//  2. Environment variables
//  3. Default values
package config

import (
	"flag"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/sigap-ai/sigapd/pkg/tls"
)

// Config holds all monitord configuration.
type Config struct {
	Listen    string
	LogFormat string
	LogLevel  string

	Storage       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
	TLS           tls.Config

	Intersection string
	LiveURL      string
	ApplyURL     string
	Interval     time.Duration
	FetchTimeout time.Duration
	NotifyTTL    time.Duration
}

var intersectionNameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9_-]{0,251}[a-zA-Z0-9])?$`)

// ParseFlags parses command-line flags and environment variables into a Config.
// Environment variables are used as fallbacks when flags are not provided.
// Each monitord instance monitors a single intersection.
func ParseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8091"), "HTTP listen address")

	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	flag.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "memory"), "Storage backend: memory or redis")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	flag.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	flag.DurationVar(&cfg.RedisTTL, "redis-ttl", getEnvDuration("REDIS_TTL", 5*time.Minute), "Redis snapshot TTL")

	flag.BoolVar(&cfg.TLS.Enabled, "tls-enabled", getEnvBool("TLS_ENABLED", false), "Enable TLS for HTTP server")
	flag.StringVar(&cfg.TLS.CertFile, "tls-cert-file", getEnv("TLS_CERT_FILE", ""), "TLS certificate file")
	flag.StringVar(&cfg.TLS.KeyFile, "tls-key-file", getEnv("TLS_KEY_FILE", ""), "TLS private key file")
	flag.StringVar(&cfg.TLS.CAFile, "tls-ca-file", getEnv("TLS_CA_FILE", ""), "TLS CA certificate file for client verification")

	flag.StringVar(&cfg.Intersection, "intersection", getEnv("INTERSECTION", ""), "Intersection name (required)")
	flag.StringVar(&cfg.LiveURL, "live-url", getEnv("LIVE_URL", ""), "Live snapshot endpoint of the inference service (required)")
	flag.StringVar(&cfg.ApplyURL, "apply-url", getEnv("APPLY_URL", ""), "Apply-recommendation endpoint of the inference service (required)")
	flag.DurationVar(&cfg.Interval, "interval", getEnvDuration("INTERVAL", 2*time.Second), "Poll interval")
	flag.DurationVar(&cfg.FetchTimeout, "fetch-timeout", getEnvDuration("FETCH_TIMEOUT", 10*time.Second), "Per-fetch HTTP timeout")
	flag.DurationVar(&cfg.NotifyTTL, "notify-ttl", getEnvDuration("NOTIFY_TTL", 6*time.Second), "Notification auto-clear delay")

	flag.Parse()

	if cfg.Intersection == "" {
		fmt.Fprintln(os.Stderr, "Error: --intersection is required")
		os.Exit(1)
	}
	if !intersectionNameRegex.MatchString(cfg.Intersection) {
		fmt.Fprintln(os.Stderr, "Error: --intersection must be alphanumeric with hyphens or underscores")
		os.Exit(1)
	}
	if cfg.LiveURL == "" {
		fmt.Fprintln(os.Stderr, "Error: --live-url is required")
		os.Exit(1)
	}
	if cfg.ApplyURL == "" {
		fmt.Fprintln(os.Stderr, "Error: --apply-url is required")
		os.Exit(1)
	}

	return cfg
}

// Validate checks cross-field constraints that ParseFlags cannot enforce
// through flag defaults alone.
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", c.Interval)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch-timeout must be positive, got %v", c.FetchTimeout)
	}
	if c.NotifyTTL <= 0 {
		return fmt.Errorf("notify-ttl must be positive, got %v", c.NotifyTTL)
	}
	if c.Storage != "memory" && c.Storage != "redis" {
		return fmt.Errorf("storage must be memory or redis, got %q", c.Storage)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log-format must be text or json, got %q", c.LogFormat)
	}
	return c.TLS.Validate()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

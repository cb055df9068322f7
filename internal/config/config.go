// Package config loads application settings from environment variables.
// Defaults are applied for unset values and everything is validated on
// startup so a misconfigured server fails fast.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Store      StoreConfig
	Upload     UploadConfig
	Rate       RateLimitConfig
	Security   SecurityConfig
	Logging    LoggingConfig
	Similarity SimilarityConfig
	Sync       SyncConfig
	Archive    ArchiveConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading a request (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is 0 by default so websocket connections are not cut.
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout applies to /api routes (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds PostgreSQL pool settings.
type DatabaseConfig struct {
	// URL is the connection string. Required when the postgres driver is used.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is postgres or memory (default: postgres)
	Driver string `env:"STORE_DRIVER" default:"postgres"`
}

// UploadConfig holds statement upload settings.
type UploadConfig struct {
	// MaxFileSize is the maximum accepted file size in bytes (default: 20MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"20971520"`

	// MaxConcurrent is the maximum number of parallel uploads (default: 5)
	MaxConcurrent int `env:"UPLOAD_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for an upload slot (default: 30s)
	MaxWaitTime time.Duration `env:"UPLOAD_MAX_WAIT_TIME" default:"30s"`

	// Timeout bounds a single upload (default: 2m)
	Timeout time.Duration `env:"UPLOAD_TIMEOUT" default:"2m"`
}

// RateLimitConfig holds per-IP request limits.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the limit per client IP (default: 300)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"300"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey rejects requests without a valid X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of name:key pairs. The name is
	// recorded as the actor of every change made with that key.
	APIKeys []string `env:"API_KEYS"`

	// AllowedOrigins limits websocket upgrades by Origin. Empty means same
	// host only.
	AllowedOrigins []string `env:"WS_ALLOWED_ORIGINS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// SimilarityConfig holds the default similar-record search parameters.
type SimilarityConfig struct {
	PayeeThreshold  float64 `env:"SIMILAR_PAYEE_THRESHOLD" default:"0.6"`
	AmountTolerance float64 `env:"SIMILAR_AMOUNT_TOLERANCE" default:"0.1"`
	Surrounding     int     `env:"SIMILAR_SURROUNDING" default:"5"`
	Limit           int     `env:"SIMILAR_LIMIT" default:"30"`
}

// SyncConfig holds websocket observer settings.
type SyncConfig struct {
	// QueueSize is the per-observer outbound queue (default: 64)
	QueueSize int `env:"SYNC_QUEUE_SIZE" default:"64"`

	// WriteTimeout bounds one websocket write (default: 10s)
	WriteTimeout time.Duration `env:"SYNC_WRITE_TIMEOUT" default:"10s"`

	// PingInterval is how often the server pings idle observers (default: 30s)
	PingInterval time.Duration `env:"SYNC_PING_INTERVAL" default:"30s"`

	// ReadLimit is the largest accepted inbound message in bytes (default: 4096)
	ReadLimit int64 `env:"SYNC_READ_LIMIT" default:"4096"`
}

// ArchiveConfig holds batch archiving settings.
type ArchiveConfig struct {
	// Enabled runs the archive scheduler (default: true)
	Enabled bool `env:"ARCHIVE_ENABLED" default:"true"`

	// AfterDays is the age of a complete batch before it is archived (default: 90)
	AfterDays int `env:"ARCHIVE_AFTER_DAYS" default:"90"`

	// CheckInterval is how often to run the archive job (default: 24h)
	CheckInterval time.Duration `env:"ARCHIVE_CHECK_INTERVAL" default:"24h"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Keys parses APIKeys into a key to actor-name map.
func (c *SecurityConfig) Keys() (map[string]string, error) {
	keys := make(map[string]string, len(c.APIKeys))
	for _, pair := range c.APIKeys {
		name, key, ok := strings.Cut(pair, ":")
		name, key = strings.TrimSpace(name), strings.TrimSpace(key)
		if !ok || name == "" || key == "" {
			return nil, fmt.Errorf("API_KEYS entry %q must be name:key", maskKey(pair))
		}
		if _, dup := keys[key]; dup {
			return nil, fmt.Errorf("API_KEYS has a duplicate key for %q", name)
		}
		keys[key] = name
	}
	return keys, nil
}

// maskKey keeps the name part of a name:key pair.
func maskKey(pair string) string {
	if name, _, ok := strings.Cut(pair, ":"); ok {
		return name + ":***"
	}
	return "***"
}

// Package config provides centralized configuration management for the service.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import "time"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Ingest   IngestConfig
	Storage  StorageConfig
	Cache    CacheConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 60s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"60s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// IngestConfig holds royalty ingestion pipeline settings.
type IngestConfig struct {
	// BatchSize is the number of validated rows committed per write (default: 500)
	BatchSize int `env:"INGEST_BATCH_SIZE" default:"500"`

	// MaxConcurrency is the number of simultaneous in-flight batches (default: 4)
	MaxConcurrency int `env:"INGEST_MAX_CONCURRENCY" default:"4"`

	// RetryAttempts is attempts per batch on transient write failure (default: 3)
	RetryAttempts int `env:"INGEST_RETRY_ATTEMPTS" default:"3"`

	// BackoffBase is the base retry delay, doubled per attempt (default: 200ms)
	BackoffBase time.Duration `env:"INGEST_BACKOFF_BASE" default:"200ms"`

	// MaxConcurrentRuns is the maximum number of parallel ingestion runs (default: 2)
	MaxConcurrentRuns int `env:"INGEST_MAX_CONCURRENT_RUNS" default:"2"`

	// SlotWaitTimeout is how long to wait for a run slot (default: 30s)
	SlotWaitTimeout time.Duration `env:"INGEST_SLOT_WAIT_TIMEOUT" default:"30s"`

	// RunTimeout is the maximum duration for a single ingestion run (default: 30m)
	RunTimeout time.Duration `env:"INGEST_RUN_TIMEOUT" default:"30m"`
}

// StorageConfig holds source object storage settings.
type StorageConfig struct {
	// Backend selects the source store: file or gcs (default: file)
	Backend string `env:"STORAGE_BACKEND" default:"file"`

	// Root is the base directory for the file backend (default: ./data)
	Root string `env:"STORAGE_ROOT" default:"./data"`

	// Bucket is the GCS bucket name for the gcs backend
	Bucket string `env:"STORAGE_BUCKET"`
}

// CacheConfig holds summary cache settings.
type CacheConfig struct {
	// SummaryTTL is how long quarterly summaries stay cached (default: 5m)
	SummaryTTL time.Duration `env:"CACHE_SUMMARY_TTL" default:"5m"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// IngestLimit is requests per minute for ingest endpoints (default: 10)
	IngestLimit int `env:"RATE_LIMIT_INGEST" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}

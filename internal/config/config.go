// Package config provides server configuration loaded from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/morezero/callcore/pkg/serializer"
	"github.com/morezero/callcore/pkg/workerpool"
)

const logPrefix = "config:LoadConfig"

// Config holds callcore configuration.
type Config struct {
	// COMMS: connect to standalone NATS at COMMSURL. Empty disables the NATS
	// transport and completion events.
	COMMSURL  string `envconfig:"COMMS_URL"`
	COMMSName string `envconfig:"SERVICE_NAME" default:"callcore"`

	// RPC core
	SubjectPrefix   string        `envconfig:"RPC_SUBJECT_PREFIX" default:"rpc"`
	QueueGroup      string        `envconfig:"RPC_QUEUE_GROUP" default:"callcore"`
	RequestTimeout  time.Duration `envconfig:"RPC_REQUEST_TIMEOUT" default:"30s"`
	AsyncPoolSize   int           `envconfig:"RPC_ASYNC_POOL_SIZE" default:"100"`
	AsyncQueueSize  int           `envconfig:"RPC_ASYNC_QUEUE_SIZE" default:"1000"`
	AsyncTimeout    time.Duration `envconfig:"RPC_ASYNC_TIMEOUT" default:"0s"`
	Filters         string        `envconfig:"RPC_FILTERS"`
	FilterProps     string        `envconfig:"RPC_FILTER_PROPS"`
	Serializer      string        `envconfig:"RPC_SERIALIZER" default:"json"`
	RequireContext  bool          `envconfig:"RPC_REQUIRE_CONTEXT" default:"false"`
	Host            string        `envconfig:"RPC_HOST"`
	EventsEnabled   bool          `envconfig:"RPC_EVENTS_ENABLED" default:"false"`
	EventsSubject   string        `envconfig:"RPC_EVENTS_SUBJECT"`
	EventsOnlyFails bool          `envconfig:"RPC_EVENTS_ONLY_FAILURES" default:"false"`

	// HTTP endpoints (HTTP_ADDR preferred, e.g. "0.0.0.0:8080")
	HTTPAddr           string        `envconfig:"HTTP_ADDR"`
	HTTPPort           int           `envconfig:"HTTP_PORT" default:"8080"`
	HTTPMaxBodyBytes   int64         `envconfig:"HTTP_MAX_BODY_BYTES" default:"4194304"`
	GRPCPort           int           `envconfig:"GRPC_PORT" default:"9090"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`
	ShutdownTimeout    time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`

	// Database
	DatabaseURL    string `envconfig:"DATABASE_URL"`
	DBMaxConns     int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	JournalEnabled bool   `envconfig:"JOURNAL_ENABLED" default:"false"`
	RunMigrations  bool   `envconfig:"RUN_MIGRATIONS" default:"false"`
	MigrationPath  string `envconfig:"MIGRATION_PATH"` // empty uses the embedded migrations

	// Redis backs the distributed rate limiter when set.
	RedisAddr string `envconfig:"REDIS_ADDR"`

	// Tracing
	OTELEnabled    bool    `envconfig:"OTEL_ENABLED" default:"false"`
	OTELExporter   string  `envconfig:"OTEL_EXPORTER" default:"otlp-http"`
	OTELEndpoint   string  `envconfig:"OTEL_ENDPOINT" default:"localhost:4318"`
	OTELSampleRate float64 `envconfig:"OTEL_SAMPLE_RATE" default:"1.0"`

	MetricsNamespace string `envconfig:"METRICS_NAMESPACE" default:"callcore"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("%s - %w", logPrefix, err)
	}
	return &c, nil
}

// ValidateForServe checks required config when running the server.
func (c *Config) ValidateForServe() error {
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s - RPC_REQUEST_TIMEOUT must be positive", logPrefix)
	}
	if c.AsyncTimeout < 0 {
		return fmt.Errorf("%s - RPC_ASYNC_TIMEOUT must not be negative", logPrefix)
	}
	if err := c.PoolConfig().Validate(); err != nil {
		return fmt.Errorf("%s - invalid async pool: %w", logPrefix, err)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	if c.Serializer != serializer.JSONName && c.Serializer != serializer.ProtobufName {
		return fmt.Errorf("%s - RPC_SERIALIZER %q is not one of %s, %s", logPrefix, c.Serializer, serializer.JSONName, serializer.ProtobufName)
	}
	if c.JournalEnabled && c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required when JOURNAL_ENABLED is set", logPrefix)
	}
	if c.EventsEnabled && c.COMMSURL == "" {
		return fmt.Errorf("%s - COMMS_URL is required when RPC_EVENTS_ENABLED is set", logPrefix)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1 {
		return fmt.Errorf("%s - OTEL_SAMPLE_RATE must be within [0, 1]", logPrefix)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands (migrate, clear).
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}

// FilterNames returns the configured filter chain in order.
func (c *Config) FilterNames() []string {
	var names []string
	for _, n := range strings.Split(c.Filters, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// PoolConfig returns the async worker pool configuration.
func (c *Config) PoolConfig() workerpool.Config {
	cfg := workerpool.DefaultConfig()
	cfg.Workers = c.AsyncPoolSize
	cfg.QueueSize = c.AsyncQueueSize
	return cfg
}

// HTTPListenAddr returns HTTPAddr, or ":<HTTPPort>" when unset.
func (c *Config) HTTPListenAddr() string {
	if c.HTTPAddr != "" {
		return c.HTTPAddr
	}
	return fmt.Sprintf(":%d", c.HTTPPort)
}

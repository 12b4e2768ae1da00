package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

var allEnvVars = []string{
	"COMMS_URL", "SERVICE_NAME",
	"RPC_SUBJECT_PREFIX", "RPC_QUEUE_GROUP", "RPC_REQUEST_TIMEOUT",
	"RPC_ASYNC_POOL_SIZE", "RPC_ASYNC_QUEUE_SIZE", "RPC_ASYNC_TIMEOUT",
	"RPC_FILTERS", "RPC_FILTER_PROPS", "RPC_SERIALIZER", "RPC_REQUIRE_CONTEXT", "RPC_HOST",
	"RPC_EVENTS_ENABLED", "RPC_EVENTS_SUBJECT", "RPC_EVENTS_ONLY_FAILURES",
	"HTTP_ADDR", "HTTP_PORT", "GRPC_PORT", "HEALTH_CHECK_TIMEOUT", "SHUTDOWN_TIMEOUT",
	"DATABASE_URL", "DB_MAX_CONNS", "JOURNAL_ENABLED", "RUN_MIGRATIONS", "MIGRATION_PATH",
	"REDIS_ADDR", "OTEL_ENABLED", "OTEL_EXPORTER", "OTEL_ENDPOINT", "OTEL_SAMPLE_RATE",
	"METRICS_NAMESPACE", "LOG_LEVEL", "LOG_FORMAT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range allEnvVars {
		if v, ok := os.LookupEnv(env); ok {
			os.Unsetenv(env)
			t.Cleanup(func() { os.Setenv(env, v) })
		}
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("config:config_test - unexpected error: %v", err)
	}

	if cfg.COMMSURL != "" {
		t.Errorf("config:config_test - COMMSURL = %q, want empty", cfg.COMMSURL)
	}
	if cfg.COMMSName != "callcore" {
		t.Errorf("config:config_test - COMMSName = %q, want %q", cfg.COMMSName, "callcore")
	}
	if cfg.SubjectPrefix != "rpc" {
		t.Errorf("config:config_test - SubjectPrefix = %q, want rpc", cfg.SubjectPrefix)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("config:config_test - RequestTimeout = %v, want 30s", cfg.RequestTimeout)
	}
	if cfg.AsyncPoolSize != 100 {
		t.Errorf("config:config_test - AsyncPoolSize = %d, want 100", cfg.AsyncPoolSize)
	}
	if cfg.AsyncQueueSize != 1000 {
		t.Errorf("config:config_test - AsyncQueueSize = %d, want 1000", cfg.AsyncQueueSize)
	}
	if cfg.AsyncTimeout != 0 {
		t.Errorf("config:config_test - AsyncTimeout = %v, want 0", cfg.AsyncTimeout)
	}
	if cfg.Serializer != "json" {
		t.Errorf("config:config_test - Serializer = %q, want json", cfg.Serializer)
	}
	if cfg.RequireContext {
		t.Error("config:config_test - expected RequireContext=false by default")
	}
	if cfg.JournalEnabled || cfg.RunMigrations || cfg.OTELEnabled || cfg.EventsEnabled {
		t.Error("config:config_test - expected optional subsystems disabled by default")
	}
	if cfg.MigrationPath != "" {
		t.Errorf("config:config_test - MigrationPath = %q, want embedded (empty)", cfg.MigrationPath)
	}
	if cfg.HTTPPort != 8080 || cfg.GRPCPort != 9090 {
		t.Errorf("config:config_test - ports = %d/%d, want 8080/9090", cfg.HTTPPort, cfg.GRPCPort)
	}
	if cfg.HTTPMaxBodyBytes != 4<<20 {
		t.Errorf("config:config_test - HTTPMaxBodyBytes = %d, want 4 MiB", cfg.HTTPMaxBodyBytes)
	}
	if cfg.HealthCheckTimeout != 5*time.Second {
		t.Errorf("config:config_test - HealthCheckTimeout = %v, want 5s", cfg.HealthCheckTimeout)
	}
	if cfg.OTELSampleRate != 1.0 {
		t.Errorf("config:config_test - OTELSampleRate = %v, want 1", cfg.OTELSampleRate)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "text" {
		t.Errorf("config:config_test - log = %q/%q, want info/text", cfg.LogLevel, cfg.LogFormat)
	}
	if err := cfg.ValidateForServe(); err != nil {
		t.Errorf("config:config_test - defaults should validate: %v", err)
	}
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	overrides := map[string]string{
		"COMMS_URL":           "nats://custom:4222",
		"SERVICE_NAME":        "test-server",
		"RPC_REQUEST_TIMEOUT": "10s",
		"RPC_ASYNC_POOL_SIZE": "8",
		"RPC_ASYNC_TIMEOUT":   "2s",
		"RPC_FILTERS":         "trace, auth,,ratelimit",
		"RPC_SERIALIZER":      "protobuf",
		"RPC_REQUIRE_CONTEXT": "true",
		"DATABASE_URL":        "postgres://test@localhost/test",
		"JOURNAL_ENABLED":     "true",
		"HTTP_ADDR":           "127.0.0.1:9999",
		"LOG_LEVEL":           "debug",
	}
	for key, val := range overrides {
		t.Setenv(key, val)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("config:config_test - unexpected error: %v", err)
	}

	if cfg.COMMSURL != "nats://custom:4222" {
		t.Errorf("config:config_test - COMMSURL = %q", cfg.COMMSURL)
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Errorf("config:config_test - RequestTimeout = %v, want 10s", cfg.RequestTimeout)
	}
	if cfg.AsyncTimeout != 2*time.Second {
		t.Errorf("config:config_test - AsyncTimeout = %v, want 2s", cfg.AsyncTimeout)
	}
	if got := strings.Join(cfg.FilterNames(), ","); got != "trace,auth,ratelimit" {
		t.Errorf("config:config_test - FilterNames = %q", got)
	}
	if pc := cfg.PoolConfig(); pc.Workers != 8 || pc.QueueSize != 1000 {
		t.Errorf("config:config_test - PoolConfig = %+v", pc)
	}
	if !cfg.RequireContext {
		t.Error("config:config_test - expected RequireContext=true")
	}
	if cfg.HTTPListenAddr() != "127.0.0.1:9999" {
		t.Errorf("config:config_test - HTTPListenAddr = %q", cfg.HTTPListenAddr())
	}
	if err := cfg.ValidateForServe(); err != nil {
		t.Errorf("config:config_test - overrides should validate: %v", err)
	}
}

func TestValidateForServe(t *testing.T) {
	base := func() *Config {
		return &Config{
			RequestTimeout:     time.Second,
			AsyncPoolSize:      1,
			HealthCheckTimeout: time.Second,
			Serializer:         "json",
			OTELSampleRate:     1,
		}
	}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero request timeout", func(c *Config) { c.RequestTimeout = 0 }},
		{"negative async timeout", func(c *Config) { c.AsyncTimeout = -time.Second }},
		{"negative pool", func(c *Config) { c.AsyncPoolSize = -1 }},
		{"negative queue", func(c *Config) { c.AsyncQueueSize = -1 }},
		{"unknown serializer", func(c *Config) { c.Serializer = "xml" }},
		{"journal without db", func(c *Config) { c.JournalEnabled = true }},
		{"events without comms", func(c *Config) { c.EventsEnabled = true }},
		{"sample rate", func(c *Config) { c.OTELSampleRate = 2 }},
	}
	if err := base().ValidateForServe(); err != nil {
		t.Fatalf("config:config_test - base config invalid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			if err := c.ValidateForServe(); err == nil {
				t.Errorf("config:config_test - expected error for %s", tt.name)
			}
		})
	}
}

func TestValidateForDB(t *testing.T) {
	if err := (&Config{}).ValidateForDB(); err == nil {
		t.Error("config:config_test - expected error without DATABASE_URL")
	}
	if err := (&Config{DatabaseURL: "postgres://x/y"}).ValidateForDB(); err != nil {
		t.Errorf("config:config_test - unexpected error: %v", err)
	}
}

func TestLoadConfig_InvalidDuration(t *testing.T) {
	clearEnv(t)
	t.Setenv("RPC_REQUEST_TIMEOUT", "soon")
	if _, err := LoadConfig(); err == nil {
		t.Error("config:config_test - expected error for invalid duration")
	}
}

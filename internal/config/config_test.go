package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.ServiceName != "payment-platform" {
		t.Fatalf("unexpected service name: %s", cfg.ServiceName)
	}
	if cfg.HTTPPort != 8090 {
		t.Fatalf("unexpected port: %d", cfg.HTTPPort)
	}
	if cfg.SettlementMaxAttempts != 3 {
		t.Fatalf("unexpected max attempts: %d", cfg.SettlementMaxAttempts)
	}
	if cfg.SettlementRetryDelay != time.Second {
		t.Fatalf("unexpected retry delay: %v", cfg.SettlementRetryDelay)
	}
	if cfg.SettlementProviderMode != "mock" {
		t.Fatalf("unexpected provider mode: %s", cfg.SettlementProviderMode)
	}
	if cfg.ReconciliationCron != "0 2 * * *" {
		t.Fatalf("unexpected cron: %s", cfg.ReconciliationCron)
	}
	if cfg.ReconciliationBatchSize != 1000 {
		t.Fatalf("unexpected batch size: %d", cfg.ReconciliationBatchSize)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SETTLEMENT_MAX_ATTEMPTS", "5")
	t.Setenv("SETTLEMENT_RETRY_DELAY", "250ms")
	t.Setenv("SETTLEMENT_FAILURE_RATE", "0.3")
	t.Setenv("TOPIC_PREFIX", "pay-test")
	t.Setenv("WORKER_ID", "42")

	cfg := Load()

	if cfg.SettlementMaxAttempts != 5 {
		t.Fatalf("unexpected max attempts: %d", cfg.SettlementMaxAttempts)
	}
	if cfg.SettlementRetryDelay != 250*time.Millisecond {
		t.Fatalf("unexpected retry delay: %v", cfg.SettlementRetryDelay)
	}
	if cfg.SettlementFailureRate != 0.3 {
		t.Fatalf("unexpected failure rate: %f", cfg.SettlementFailureRate)
	}
	if cfg.TopicPrefix != "pay-test" {
		t.Fatalf("unexpected topic prefix: %s", cfg.TopicPrefix)
	}
	if cfg.WorkerID != 42 {
		t.Fatalf("unexpected worker id: %d", cfg.WorkerID)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero attempts", func(c *Config) { c.SettlementMaxAttempts = 0 }, "SETTLEMENT_MAX_ATTEMPTS"},
		{"bad provider mode", func(c *Config) { c.SettlementProviderMode = "grpc" }, "SETTLEMENT_PROVIDER_MODE"},
		{"http without url", func(c *Config) { c.SettlementProviderMode = "http" }, "SETTLEMENT_PROVIDER_URL"},
		{"failure rate too high", func(c *Config) { c.SettlementFailureRate = 1.5 }, "SETTLEMENT_FAILURE_RATE"},
		{"worker id out of range", func(c *Config) { c.WorkerID = 1024 }, "WORKER_ID"},
	}

	for _, tt := range tests {
		cfg := Load()
		tt.mutate(cfg)
		err := cfg.Validate()
		if err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
		if !strings.Contains(err.Error(), tt.wantErr) {
			t.Fatalf("%s: error %q does not mention %s", tt.name, err, tt.wantErr)
		}
	}
}

func TestValidate_HTTPProviderWithURL(t *testing.T) {
	cfg := Load()
	cfg.SettlementProviderMode = "http"
	cfg.SettlementProviderURL = "http://settlement-gateway:8080"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDSN(t *testing.T) {
	cfg := &Config{
		DBHost:     "db.internal",
		DBPort:     5433,
		DBUser:     "svc",
		DBPassword: "secret",
		DBName:     "payments",
	}
	dsn := cfg.DSN()
	for _, part := range []string{"host=db.internal", "port=5433", "user=svc", "dbname=payments", "sslmode=disable"} {
		if !strings.Contains(dsn, part) {
			t.Fatalf("dsn %q missing %s", dsn, part)
		}
	}
}

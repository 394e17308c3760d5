// Package config 服务配置
package config

import (
	"errors"
	"strconv"
	"time"

	commonconfig "github.com/payments/platform/pkg/config"
)

// Config 服务配置
type Config struct {
	ServiceName string
	HTTPPort    int

	// PostgreSQL
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string

	// Redis
	RedisAddr     string
	RedisPassword string

	// Streams
	TopicPrefix   string
	ConsumerGroup string
	ConsumerName  string

	// Settlement
	SettlementMaxAttempts  int
	SettlementRetryDelay   time.Duration
	SettlementProviderMode string // mock | http
	SettlementProviderURL  string
	SettlementFailureRate  float64

	// Reconciliation
	ReconciliationCron        string
	ReconciliationHealthCron  string
	ReconciliationMaxAttempts int
	ReconciliationRetryDelay  time.Duration
	ReconciliationBatchSize   int

	WorkerID int64
}

// Load 加载配置
func Load() *Config {
	return &Config{
		ServiceName: commonconfig.GetEnv("SERVICE_NAME", "payment-platform"),
		HTTPPort:    commonconfig.GetEnvInt("HTTP_PORT", 8090),

		DBHost:     commonconfig.GetEnv("DB_HOST", "localhost"),
		DBPort:     commonconfig.GetEnvInt("DB_PORT", 5432),
		DBUser:     commonconfig.GetEnv("DB_USER", "payments"),
		DBPassword: commonconfig.GetEnv("DB_PASSWORD", "payments123"),
		DBName:     commonconfig.GetEnv("DB_NAME", "payments"),

		RedisAddr:     commonconfig.GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: commonconfig.GetEnv("REDIS_PASSWORD", ""),

		TopicPrefix:   commonconfig.GetEnv("TOPIC_PREFIX", "payments"),
		ConsumerGroup: commonconfig.GetEnv("CONSUMER_GROUP", "payment-saga"),
		ConsumerName:  commonconfig.GetEnv("CONSUMER_NAME", "payment-saga-1"),

		SettlementMaxAttempts:  commonconfig.GetEnvInt("SETTLEMENT_MAX_ATTEMPTS", 3),
		SettlementRetryDelay:   commonconfig.GetEnvDuration("SETTLEMENT_RETRY_DELAY", time.Second),
		SettlementProviderMode: commonconfig.GetEnv("SETTLEMENT_PROVIDER_MODE", "mock"),
		SettlementProviderURL:  commonconfig.GetEnv("SETTLEMENT_PROVIDER_URL", ""),
		SettlementFailureRate:  commonconfig.GetEnvFloat64("SETTLEMENT_FAILURE_RATE", 0),

		ReconciliationCron:        commonconfig.GetEnv("RECONCILIATION_CRON", "0 2 * * *"),
		ReconciliationHealthCron:  commonconfig.GetEnv("RECONCILIATION_HEALTH_CRON", "0 * * * *"),
		ReconciliationMaxAttempts: commonconfig.GetEnvInt("RECONCILIATION_MAX_ATTEMPTS", 3),
		ReconciliationRetryDelay:  commonconfig.GetEnvDuration("RECONCILIATION_RETRY_DELAY", 5*time.Second),
		ReconciliationBatchSize:   commonconfig.GetEnvInt("RECONCILIATION_BATCH_SIZE", 1000),

		WorkerID: commonconfig.GetEnvInt64("WORKER_ID", 1),
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.SettlementMaxAttempts < 1 {
		return errors.New("SETTLEMENT_MAX_ATTEMPTS must be >= 1")
	}
	if c.SettlementProviderMode != "mock" && c.SettlementProviderMode != "http" {
		return errors.New("SETTLEMENT_PROVIDER_MODE must be mock or http")
	}
	if c.SettlementProviderMode == "http" && c.SettlementProviderURL == "" {
		return errors.New("SETTLEMENT_PROVIDER_URL required when provider mode is http")
	}
	if c.SettlementFailureRate < 0 || c.SettlementFailureRate > 1 {
		return errors.New("SETTLEMENT_FAILURE_RATE must be within [0, 1]")
	}
	if c.WorkerID < 0 || c.WorkerID > 1023 {
		return errors.New("WORKER_ID must be between 0 and 1023")
	}
	return nil
}

// DSN 返回数据库连接字符串
func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" port=" + strconv.Itoa(c.DBPort) +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" sslmode=disable"
}

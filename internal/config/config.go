// Package config loads application configuration from environment
// variables.  A .env file, when present, is read by the caller before Load.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StorageMySQL  = "mysql"
	StorageMemory = "memory"
)

// Config holds all runtime configuration values.
type Config struct {
	Env           string // APP_ENV: dev, test or prod
	Port          string // APP_PORT
	StorageDriver string // STORAGE_DRIVER: mysql or memory

	DBUser    string
	DBPass    string
	DBHost    string
	DBPort    string
	DBName    string
	DBMigrate bool // DB_MIGRATE: apply schema migrations on start

	JWTSecret    string
	AccessTTLMin int // ACCESS_TOKEN_TTL_MIN, used by cmd/devtoken

	CheckInGrace    time.Duration // CHECKIN_GRACE
	NoShowGrace     time.Duration // NOSHOW_GRACE
	NoShowSweepSpec string        // NOSHOW_SWEEP_SPEC, cron syntax
	ExpireSweepSpec string        // EXPIRE_SWEEP_SPEC, cron syntax

	RabbitURL      string // RABBITMQ_URL, empty disables events
	EventsExchange string // EVENTS_EXCHANGE
	AuditQueue     string // AUDIT_QUEUE
	AuditLogPath   string // AUDIT_LOG_PATH

	RateLimit RateLimitConfig
	Cache     CacheConfig
}

// IsProduction reports whether the service runs with production logging.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "prod") || strings.EqualFold(c.Env, "production")
}

// Load reads the configuration.  Every missing required variable is
// reported in the returned error.
func Load() (Config, error) {
	var missing []string
	must := func(key string) string {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg := Config{
		Env:             getenv("APP_ENV", "dev"),
		Port:            getenv("APP_PORT", "8080"),
		StorageDriver:   strings.ToLower(getenv("STORAGE_DRIVER", StorageMySQL)),
		JWTSecret:       must("JWT_SECRET"),
		AccessTTLMin:    envInt("ACCESS_TOKEN_TTL_MIN", 60),
		CheckInGrace:    envDur("CHECKIN_GRACE", 15*time.Minute),
		NoShowGrace:     envDur("NOSHOW_GRACE", 15*time.Minute),
		NoShowSweepSpec: getenv("NOSHOW_SWEEP_SPEC", "@every 1m"),
		ExpireSweepSpec: getenv("EXPIRE_SWEEP_SPEC", "@every 10m"),
		RabbitURL:       os.Getenv("RABBITMQ_URL"),
		EventsExchange:  getenv("EVENTS_EXCHANGE", "booking.events"),
		AuditQueue:      getenv("AUDIT_QUEUE", "booking.audit"),
		AuditLogPath:    getenv("AUDIT_LOG_PATH", "logs/booking.log"),
		RateLimit:       LoadRateLimitConfig(),
		Cache:           LoadCacheConfig(),
	}

	switch cfg.StorageDriver {
	case StorageMySQL:
		cfg.DBUser = must("DB_USER")
		cfg.DBPass = os.Getenv("DB_PASS")
		cfg.DBHost = must("DB_HOST")
		cfg.DBPort = getenv("DB_PORT", "3306")
		cfg.DBName = must("DB_NAME")
		cfg.DBMigrate = envBool("DB_MIGRATE", true)
	case StorageMemory:
	default:
		return Config{}, fmt.Errorf("config: unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("config: missing required env vars: %s", strings.Join(missing, ", "))
	}
	if cfg.CheckInGrace < 0 || cfg.NoShowGrace < 0 {
		return Config{}, errors.New("config: grace periods must not be negative")
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

func envInt(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return def
}

func envDur(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return def
}

// AuditConfig is the configuration of the audit log consumer.
type AuditConfig struct {
	Env            string
	RabbitURL      string
	EventsExchange string
	AuditQueue     string
	AuditLogPath   string
}

// LoadAudit reads the subset of variables the audit consumer needs.
func LoadAudit() (AuditConfig, error) {
	c := AuditConfig{
		Env:            getenv("APP_ENV", "dev"),
		RabbitURL:      os.Getenv("RABBITMQ_URL"),
		EventsExchange: getenv("EVENTS_EXCHANGE", "booking.events"),
		AuditQueue:     getenv("AUDIT_QUEUE", "booking.audit"),
		AuditLogPath:   getenv("AUDIT_LOG_PATH", "logs/booking.log"),
	}
	if c.RabbitURL == "" {
		return AuditConfig{}, errors.New("config: missing required env vars: RABBITMQ_URL")
	}
	return c, nil
}

// IsProduction reports whether the consumer runs with production logging.
func (c AuditConfig) IsProduction() bool {
	return Config{Env: c.Env}.IsProduction()
}

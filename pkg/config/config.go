package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dwp-platform/guard/pkg/observability"
)

// Cache backends
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Audit sinks
const (
	AuditSinkLog   = "log"
	AuditSinkKafka = "kafka"
	AuditSinkNone  = "none"
)

// Config holds all engine configuration
type Config struct {
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	Audit         AuditConfig         `yaml:"audit"`
	Authz         AuthzConfig         `yaml:"authz"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CacheConfig holds decision and scope cache settings
type CacheConfig struct {
	Backend       string        `yaml:"backend"`
	RedisURL      string        `yaml:"redis_url"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	RedisPoolSize int           `yaml:"redis_pool_size"`
	DecisionTTL   time.Duration `yaml:"decision_ttl"`
	ScopeTTL      time.Duration `yaml:"scope_ttl"`
	L1Size        int           `yaml:"l1_size"`
}

// AuditConfig selects where mutation audit events go
type AuditConfig struct {
	Sink         string   `yaml:"sink"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
}

// AuthzConfig holds authorization policy settings
type AuthzConfig struct {
	// AdminRoleCode is the role code that passes RequireAdmin and cannot be deleted
	AdminRoleCode string `yaml:"admin_role_code"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// Default returns the built-in defaults
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			URL:             "postgres://localhost:5432/guard?sslmode=disable",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Cache: CacheConfig{
			Backend:       CacheBackendMemory,
			RedisURL:      "redis://localhost:6379",
			RedisPoolSize: 10,
			DecisionTTL:   5 * time.Minute,
			ScopeTTL:      5 * time.Minute,
			L1Size:        10000,
		},
		Audit: AuditConfig{
			Sink:       AuditSinkLog,
			KafkaTopic: "guard.audit.v1",
		},
		Authz: AuthzConfig{
			AdminRoleCode: "ADMIN",
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			MetricsEnabled: true,
		},
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML file named by
// GUARD_CONFIG_FILE, and GUARD_* environment variables, in increasing precedence
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("GUARD_CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadFile overlays the YAML file at path onto c
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Database.URL = getEnv("GUARD_DATABASE_URL", c.Database.URL)
	c.Database.MaxOpenConns = getEnvInt("GUARD_DATABASE_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = getEnvInt("GUARD_DATABASE_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.ConnMaxLifetime = getEnvDuration("GUARD_DATABASE_CONN_MAX_LIFETIME", c.Database.ConnMaxLifetime)

	c.Cache.Backend = strings.ToLower(getEnv("GUARD_CACHE_BACKEND", c.Cache.Backend))
	c.Cache.RedisURL = getEnv("GUARD_REDIS_URL", c.Cache.RedisURL)
	c.Cache.RedisPassword = getEnv("GUARD_REDIS_PASSWORD", c.Cache.RedisPassword)
	c.Cache.RedisDB = getEnvInt("GUARD_REDIS_DB", c.Cache.RedisDB)
	c.Cache.RedisPoolSize = getEnvInt("GUARD_REDIS_POOL_SIZE", c.Cache.RedisPoolSize)
	c.Cache.DecisionTTL = getEnvDuration("GUARD_CACHE_DECISION_TTL", c.Cache.DecisionTTL)
	c.Cache.ScopeTTL = getEnvDuration("GUARD_CACHE_SCOPE_TTL", c.Cache.ScopeTTL)
	c.Cache.L1Size = getEnvInt("GUARD_CACHE_L1_SIZE", c.Cache.L1Size)

	c.Audit.Sink = strings.ToLower(getEnv("GUARD_AUDIT_SINK", c.Audit.Sink))
	if brokers := getEnv("GUARD_KAFKA_BROKERS", ""); brokers != "" {
		c.Audit.KafkaBrokers = splitList(brokers)
	}
	c.Audit.KafkaTopic = getEnv("GUARD_KAFKA_TOPIC", c.Audit.KafkaTopic)

	c.Authz.AdminRoleCode = getEnv("GUARD_ADMIN_ROLE_CODE", c.Authz.AdminRoleCode)

	c.Observability.LogLevel = getEnv("GUARD_LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.MetricsEnabled = getEnvBool("GUARD_METRICS_ENABLED", c.Observability.MetricsEnabled)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.Database.MaxOpenConns < 0 || c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database pool sizes must not be negative")
	}

	switch c.Cache.Backend {
	case CacheBackendMemory:
		if c.Cache.L1Size <= 0 {
			return fmt.Errorf("L1 cache size must be positive for memory cache")
		}
	case CacheBackendRedis:
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis cache")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be memory or redis)", c.Cache.Backend)
	}
	if c.Cache.DecisionTTL <= 0 || c.Cache.ScopeTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}

	switch c.Audit.Sink {
	case AuditSinkLog, AuditSinkNone:
	case AuditSinkKafka:
		if len(c.Audit.KafkaBrokers) == 0 {
			return fmt.Errorf("kafka brokers are required for kafka audit sink")
		}
		if c.Audit.KafkaTopic == "" {
			return fmt.Errorf("kafka topic is required for kafka audit sink")
		}
	default:
		return fmt.Errorf("invalid audit sink: %s (must be log, kafka, or none)", c.Audit.Sink)
	}

	if c.Authz.AdminRoleCode == "" {
		return fmt.Errorf("admin role code is required")
	}

	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Package config provides engine configuration from defaults, a YAML file and environment variables.
//
// # Precedence
//
// Built-in defaults, then the YAML file named by GUARD_CONFIG_FILE, then GUARD_* variables.
//
// # Environment
//
//	GUARD_DATABASE_URL="postgres://localhost:5432/guard?sslmode=disable"
//	GUARD_DATABASE_MAX_OPEN_CONNS="20"
//	GUARD_CACHE_BACKEND="redis"          # memory, redis
//	GUARD_REDIS_URL="redis://localhost:6379"
//	GUARD_CACHE_DECISION_TTL="5m"
//	GUARD_CACHE_SCOPE_TTL="5m"
//	GUARD_CACHE_L1_SIZE="10000"
//	GUARD_AUDIT_SINK="kafka"             # log, kafka, none
//	GUARD_KAFKA_BROKERS="kafka-1:9092,kafka-2:9092"
//	GUARD_KAFKA_TOPIC="guard.audit.v1"
//	GUARD_ADMIN_ROLE_CODE="ADMIN"
//	GUARD_LOG_LEVEL="info"
//	GUARD_METRICS_ENABLED="true"
//
// # YAML
//
//	cache:
//	  backend: redis
//	  decision_ttl: 2m
//	audit:
//	  sink: kafka
//	  kafka_brokers: [kafka-1:9092]
//
// # Related Packages
//
//   - pkg/engine: consumes Config to wire stores, caches and sinks
package config

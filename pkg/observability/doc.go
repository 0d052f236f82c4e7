// Package observability provides structured logging, Prometheus metrics and health checks.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("role_id", roleID).Info("bulk permission update committed")
//
// Context-aware logging adds request_id, tenant_id and user_id when present:
//
//	observability.FromContext(ctx).WithError(err).Warn("cache eviction failed")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RecordDecision("DENY", "store", elapsed.Seconds())
//
// All Record helpers accept a nil *Metrics.
//
// # Health Checks
//
//	status := observability.NewHealthChecker(db, redisClient).Check(ctx)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/contextkeys: request and identity keys read by FromContext
package observability

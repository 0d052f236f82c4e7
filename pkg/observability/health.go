package observability

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// probeTimeout bounds each dependency ping
const probeTimeout = 2 * time.Second

// HealthStatus is the engine's aggregate health
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus is the result of one probe
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// probe pings one dependency. A failing required probe makes the engine
// unhealthy; a failing optional one only degrades it.
type probe struct {
	name     string
	required bool
	ping     func(ctx context.Context) (string, error)
}

// HealthChecker probes the relational store and the shared decision cache
type HealthChecker struct {
	probes []probe
}

// NewHealthChecker creates a checker for the configured dependencies; either may be nil.
// The database is required. Redis is optional since a cache outage falls back to the store.
func NewHealthChecker(db *sql.DB, rdb *redis.Client) *HealthChecker {
	h := &HealthChecker{}
	if db != nil {
		h.probes = append(h.probes, probe{name: "database", required: true, ping: pingDatabase(db)})
	}
	if rdb != nil {
		h.probes = append(h.probes, probe{name: "redis", ping: func(ctx context.Context) (string, error) {
			return "", rdb.Ping(ctx).Err()
		}})
	}
	return h
}

// Check runs every probe and folds the results into one status
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	result := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Dependencies: make(map[string]DependencyStatus, len(h.probes)),
	}

	for _, p := range h.probes {
		dep := p.run(ctx)
		result.Dependencies[p.name] = dep
		result.Status = worse(result.Status, p.effect(dep.Status))
	}
	return result
}

func (p probe) run(ctx context.Context) DependencyStatus {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	warning, err := p.ping(ctx)
	dep := DependencyStatus{Status: StatusHealthy, Latency: time.Since(start), Timestamp: start}
	switch {
	case err != nil:
		dep.Status, dep.Message = StatusUnhealthy, err.Error()
	case warning != "":
		dep.Status, dep.Message = StatusDegraded, warning
	}
	return dep
}

// effect maps a probe's own status onto the aggregate
func (p probe) effect(status string) string {
	if status == StatusUnhealthy && !p.required {
		return StatusDegraded
	}
	return status
}

func pingDatabase(db *sql.DB) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		if err := db.PingContext(ctx); err != nil {
			return "", err
		}
		if stats := db.Stats(); stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
			return "connection pool exhausted", nil
		}
		return "", nil
	}
}

func worse(a, b string) string {
	rank := map[string]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

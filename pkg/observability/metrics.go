package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the authorization engine's Prometheus metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Decision metrics
	DecisionsTotal *prometheus.CounterVec
	CheckDuration  *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal          *prometheus.CounterVec
	CacheMissesTotal        *prometheus.CounterVec
	CacheStaleWritesTotal   *prometheus.CounterVec
	CacheEvictionsTotal     *prometheus.CounterVec
	CacheEvictionErrorTotal *prometheus.CounterVec

	// Mutation metrics
	MutationsTotal     *prometheus.CounterVec
	AuditFailuresTotal *prometheus.CounterVec
	CascadeFanout      prometheus.Histogram

	// Scope metrics
	ScopeShortCircuitsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on registry
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guard_decisions_total",
				Help: "Total number of permission decisions",
			},
			[]string{"effect"},
		),
		CheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "guard_check_duration_seconds",
				Help:    "Permission check duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guard_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guard_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),
		CacheStaleWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guard_cache_stale_writes_total",
				Help: "Cache writes discarded because the entry was invalidated during computation",
			},
			[]string{"cache"},
		),
		CacheEvictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guard_cache_evictions_total",
				Help: "Total number of cache evictions",
			},
			[]string{"cache"},
		),
		CacheEvictionErrorTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guard_cache_eviction_errors_total",
				Help: "Total number of failed cache evictions",
			},
			[]string{"cache"},
		),
		MutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guard_mutations_total",
				Help: "Total number of authorization model mutations",
			},
			[]string{"operation", "status"},
		),
		AuditFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guard_audit_failures_total",
				Help: "Total number of audit events that could not be delivered",
			},
			[]string{"event_type"},
		),
		CascadeFanout: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "guard_cascade_fanout_users",
				Help:    "Number of users evicted by one invalidation cascade",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
		ScopeShortCircuitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guard_scope_short_circuits_total",
				Help: "Document queries answered empty without touching the database",
			},
			[]string{"query"},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.DecisionsTotal,
			m.CheckDuration,
			m.CacheHitsTotal,
			m.CacheMissesTotal,
			m.CacheStaleWritesTotal,
			m.CacheEvictionsTotal,
			m.CacheEvictionErrorTotal,
			m.MutationsTotal,
			m.AuditFailuresTotal,
			m.CascadeFanout,
			m.ScopeShortCircuitsTotal,
		)
	}

	return m
}

// RecordDecision counts a decision by effect and observes its latency
func (m *Metrics) RecordDecision(effect, source string, seconds float64) {
	if m == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(effect).Inc()
	m.CheckDuration.WithLabelValues(source).Observe(seconds)
}

// RecordCacheLookup counts a hit or miss for the named cache
func (m *Metrics) RecordCacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(cache).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(cache).Inc()
	}
}

// RecordStaleWrite counts a discarded cache write
func (m *Metrics) RecordStaleWrite(cache string) {
	if m == nil {
		return
	}
	m.CacheStaleWritesTotal.WithLabelValues(cache).Inc()
}

// RecordEviction counts an eviction attempt and whether it failed
func (m *Metrics) RecordEviction(cache string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.CacheEvictionErrorTotal.WithLabelValues(cache).Inc()
		return
	}
	m.CacheEvictionsTotal.WithLabelValues(cache).Inc()
}

// RecordMutation counts a committed or failed mutation
func (m *Metrics) RecordMutation(operation string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.MutationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordAuditFailure counts an undelivered audit event
func (m *Metrics) RecordAuditFailure(eventType string) {
	if m == nil {
		return
	}
	m.AuditFailuresTotal.WithLabelValues(eventType).Inc()
}

// RecordCascade observes how many users one cascade evicted
func (m *Metrics) RecordCascade(users int) {
	if m == nil {
		return
	}
	m.CascadeFanout.Observe(float64(users))
}

// RecordScopeShortCircuit counts a document query skipped because the scope intersection was empty
func (m *Metrics) RecordScopeShortCircuit(query string) {
	if m == nil {
		return
	}
	m.ScopeShortCircuitsTotal.WithLabelValues(query).Inc()
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

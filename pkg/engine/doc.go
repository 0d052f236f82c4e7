// Package engine wires the authorization and data-scope components into one
// facade.
//
// New builds everything from a config.Config: Postgres stores, the decision
// and scope caches (in-process or Redis), the audit sink and Prometheus
// metrics. Assemble takes pre-built dependencies and is what tests use with
// the in-memory stores.
//
// Every exposed operation runs inside an OpenTelemetry span named after it.
// The engine only uses the global tracer provider; configuring an exporter is
// left to the host process.
package engine

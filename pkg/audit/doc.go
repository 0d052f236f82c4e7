// Package audit delivers audit events for administrative mutations.
//
// Sinks:
//
//	audit.NewLogSink(logger)              // structured log lines
//	audit.NewKafkaSink(brokers, topic)    // JSON messages keyed by tenant
//	audit.NewMultiSink(a, b)              // fan-out
//	audit.NoOpSink{}
//
// Mutations call Emit after their transaction commits; a sink failure is logged
// and counted but never undoes or fails the mutation.
package audit

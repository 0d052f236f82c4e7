package audit

import (
	"context"
	"encoding/json"

	"github.com/dwp-platform/guard/pkg/observability"
)

// Sink accepts audit events. The engine does not format or persist audit records itself.
type Sink interface {
	Record(ctx context.Context, event *Event) error
	Close() error
}

// NoOpSink discards every event
type NoOpSink struct{}

func (NoOpSink) Record(ctx context.Context, event *Event) error { return nil }
func (NoOpSink) Close() error                                   { return nil }

// LogSink writes events as structured log lines
type LogSink struct {
	logger *observability.Logger
}

// NewLogSink creates a sink writing to logger
func NewLogSink(logger *observability.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Record logs the event at info level
func (s *LogSink) Record(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}

	fields := map[string]interface{}{
		"audit_id":    event.ID,
		"audit_type":  string(event.Type),
		"tenant_id":   event.TenantID,
		"target_type": event.TargetType,
		"target_id":   event.TargetID,
		"payload":     json.RawMessage(payload),
	}
	if event.ActorUserID != nil {
		fields["actor_user_id"] = *event.ActorUserID
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}

	s.logger.WithFields(fields).Info("audit event")
	return nil
}

// Close is a no-op
func (s *LogSink) Close() error { return nil }

// Emit records event on sink. A failure is logged and counted, never returned,
// because the audited mutation has already committed.
func Emit(ctx context.Context, sink Sink, metrics *observability.Metrics, event *Event) {
	if sink == nil {
		return
	}
	if err := sink.Record(ctx, event); err != nil {
		metrics.RecordAuditFailure(string(event.Type))
		observability.FromContext(ctx).WithError(err).
			WithField("audit_type", string(event.Type)).
			Error("failed to record audit event")
	}
}

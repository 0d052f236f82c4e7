package audit

import (
	"context"
	"errors"
	"fmt"
)

// MultiSink records to several sinks, continuing past failures
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a sink fanning out to sinks
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Record sends event to every sink and joins their errors
func (m *MultiSink) Record(ctx context.Context, event *Event) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all sinks
func (m *MultiSink) Close() error {
	var firstErr error
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close sink: %w", err)
		}
	}
	return firstErr
}

package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwp-platform/guard/pkg/contextkeys"
	"github.com/dwp-platform/guard/pkg/observability"
)

type failingSink struct {
	calls int
}

func (f *failingSink) Record(ctx context.Context, event *Event) error {
	f.calls++
	return errors.New("sink down")
}

func (f *failingSink) Close() error { return errors.New("close failed") }

type recordingSink struct {
	events []*Event
}

func (r *recordingSink) Record(ctx context.Context, event *Event) error {
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) Close() error { return nil }

func TestNewEvent_ReadsContext(t *testing.T) {
	ctx := contextkeys.WithIdentity(context.Background(), 3, 99)
	ctx = contextkeys.WithRequestID(ctx, "req-1")

	event := NewEvent(ctx, EventTypeRoleDelete, 3, "role", "5", nil)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "req-1", event.RequestID)
	require.NotNil(t, event.ActorUserID)
	assert.Equal(t, int64(99), *event.ActorUserID)
	assert.False(t, event.Timestamp.IsZero())
}

func TestNewEvent_NoIdentity(t *testing.T) {
	event := NewEvent(context.Background(), EventTypeRoleDelete, 3, "role", "5", nil)
	assert.Nil(t, event.ActorUserID)
	assert.Empty(t, event.RequestID)
}

func TestLogSink_Record(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(observability.NewLogger(observability.InfoLevel, &buf))

	event := NewEvent(context.Background(), EventTypeRoleMemberAdd, 4, "role", "8",
		map[string]string{"subject": "USER(2)"})
	require.NoError(t, sink.Record(context.Background(), event))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "audit event", entry["msg"])
	assert.Equal(t, "ROLE_MEMBER_ADD", entry["audit_type"])
	assert.Equal(t, map[string]interface{}{"subject": "USER(2)"}, entry["payload"])
}

func TestMultiSink(t *testing.T) {
	good := &recordingSink{}
	bad := &failingSink{}
	multi := NewMultiSink(bad, good)

	err := multi.Record(context.Background(), NewEvent(context.Background(), EventTypeRoleCreate, 1, "role", "1", nil))
	require.Error(t, err)
	assert.Equal(t, 1, bad.calls)
	assert.Len(t, good.events, 1, "a failing sink must not stop delivery to the others")

	assert.Error(t, multi.Close())
}

func TestEmit_SwallowsFailures(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	var buf bytes.Buffer
	ctx := observability.WithLogger(context.Background(), observability.NewLogger(observability.InfoLevel, &buf))

	Emit(ctx, &failingSink{}, metrics, NewEvent(ctx, EventTypeRoleCreate, 1, "role", "1", nil))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AuditFailuresTotal.WithLabelValues("ROLE_CREATE")))
	assert.Contains(t, buf.String(), "failed to record audit event")

	assert.NotPanics(t, func() { Emit(ctx, nil, nil, nil) })
	assert.NoError(t, NoOpSink{}.Record(ctx, nil))
}

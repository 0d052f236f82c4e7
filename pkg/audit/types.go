package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dwp-platform/guard/pkg/contextkeys"
)

// EventType represents the category of audit event
type EventType string

const (
	// Role permission events
	EventTypeRolePermissionBulkUpdate EventType = "ROLE_PERMISSION_BULK_UPDATE"

	// Role lifecycle events
	EventTypeRoleCreate EventType = "ROLE_CREATE"
	EventTypeRoleDelete EventType = "ROLE_DELETE"

	// Membership events
	EventTypeRoleMemberAdd     EventType = "ROLE_MEMBER_ADD"
	EventTypeRoleMemberRemove  EventType = "ROLE_MEMBER_REMOVE"
	EventTypeRoleMemberReplace EventType = "ROLE_MEMBER_REPLACE"
	EventTypeUserDepartment    EventType = "USER_PRIMARY_DEPARTMENT_CHANGE"

	// Tenant scope events
	EventTypeScopeCompanyCodes EventType = "TENANT_SCOPE_COMPANY_CODES_UPDATE"
	EventTypeScopeCurrencies   EventType = "TENANT_SCOPE_CURRENCIES_UPDATE"
)

// Event is one audited administrative mutation. Payload carries the
// mutation-specific diff and is serialized as-is.
type Event struct {
	ID          string            `json:"id"`
	Type        EventType         `json:"type"`
	Timestamp   time.Time         `json:"timestamp"`
	TenantID    int64             `json:"tenant_id"`
	ActorUserID *int64            `json:"actor_user_id,omitempty"`
	RequestID   string            `json:"request_id,omitempty"`
	TargetType  string            `json:"target_type"`
	TargetID    string            `json:"target_id"`
	Payload     interface{}       `json:"payload,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewEvent builds an event stamped with a fresh ID, the current time and the
// actor and request ID found in ctx
func NewEvent(ctx context.Context, eventType EventType, tenantID int64, targetType, targetID string, payload interface{}) *Event {
	event := &Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		TenantID:   tenantID,
		RequestID:  contextkeys.RequestID(ctx),
		TargetType: targetType,
		TargetID:   targetID,
		Payload:    payload,
	}
	if _, userID, ok := contextkeys.Identity(ctx); ok {
		event.ActorUserID = &userID
	}
	return event
}

// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the module must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/dwp-platform/guard/pkg/contextkeys"
//	ctx = contextkeys.WithIdentity(ctx, tenantID, userID)
//	tenantID, userID, ok := contextkeys.Identity(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// TenantIDKey contains the authenticated tenant ID
	// Set by: the identity/session layer in front of the engine
	// Required by: rbac.PermissionMiddleware, engine callers
	// Type: int64
	TenantIDKey Key = "tenant_id"

	// UserIDKey contains the authenticated user ID
	// Set by: the identity/session layer in front of the engine
	// Used by: Logger, audit events, rbac.PermissionMiddleware
	// Type: int64
	UserIDKey Key = "user_id"

	// RequestIDKey contains request ID string (UUID)
	// Set by: HTTP middleware, guardctl
	// Used by: Logger, audit events
	// Type: string
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: observability.WithLogger
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// WithIdentity stores the pre-authenticated tenant and user in the context
func WithIdentity(ctx context.Context, tenantID, userID int64) context.Context {
	ctx = context.WithValue(ctx, TenantIDKey, tenantID)
	return context.WithValue(ctx, UserIDKey, userID)
}

// Identity returns the tenant and user stored by WithIdentity
func Identity(ctx context.Context) (tenantID, userID int64, ok bool) {
	tenantID, tok := ctx.Value(TenantIDKey).(int64)
	userID, uok := ctx.Value(UserIDKey).(int64)
	return tenantID, userID, tok && uok
}

// WithRequestID stores a request ID in the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// RequestID returns the request ID, or "" when none is set
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

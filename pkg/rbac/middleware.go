package rbac

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/dwp-platform/guard/pkg/contextkeys"
	"github.com/dwp-platform/guard/pkg/httputil"
	"github.com/dwp-platform/guard/pkg/observability"
)

// permissionGuard is what PermissionMiddleware needs from PermissionChecker
type permissionGuard interface {
	CheckPermission(ctx context.Context, tenantID, userID int64, resourceKey string, code PermissionCode) (Decision, error)
	RequireAdmin(ctx context.Context, tenantID, userID int64) error
}

// PermissionMiddleware guards HTTP handlers with permission checks. The caller
// must already be authenticated; tenant and user are read from contextkeys.
type PermissionMiddleware struct {
	checker permissionGuard
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(checker permissionGuard) *PermissionMiddleware {
	return &PermissionMiddleware{checker: checker}
}

// RequirePermission allows the request only when code on resourceKey resolves to ALLOW
func (pm *PermissionMiddleware) RequirePermission(resourceKey string, code PermissionCode) func(http.Handler) http.Handler {
	return pm.RequireAnyPermission(Requirement{ResourceKey: resourceKey, PermissionCode: code})
}

// Requirement is one (resourceKey, permissionCode) pair
type Requirement struct {
	ResourceKey    string
	PermissionCode PermissionCode
}

// RequireAnyPermission allows the request when at least one requirement resolves to ALLOW
func (pm *PermissionMiddleware) RequireAnyPermission(reqs ...Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			tenantID, userID, ok := contextkeys.Identity(ctx)
			if !ok {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			for _, req := range reqs {
				decision, err := pm.checker.CheckPermission(ctx, tenantID, userID, req.ResourceKey, req.PermissionCode)
				if err != nil {
					observability.FromContext(ctx).WithError(err).
						WithField("resource_key", req.ResourceKey).
						Error("permission check failed")
					httputil.WriteInternalError(w, "permission check failed")
					return
				}
				if decision.Allowed {
					next.ServeHTTP(w, r)
					return
				}
			}

			httputil.WriteForbidden(w, "insufficient permissions")
		})
	}
}

// RequireAdmin allows the request only for holders of the admin role
func (pm *PermissionMiddleware) RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			tenantID, userID, ok := contextkeys.Identity(ctx)
			if !ok {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			err := pm.checker.RequireAdmin(ctx, tenantID, userID)
			switch {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, ErrForbidden):
				httputil.WriteForbidden(w, "admin role required")
			default:
				observability.FromContext(ctx).WithError(err).Error("admin check failed")
				httputil.WriteInternalError(w, "permission check failed")
			}
		})
	}
}

// StatusCode maps an engine error onto an HTTP status
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err as a JSON error response. Classified errors carry the
// operation, the offending batch item and key; anything else is a bare 500.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	if status == http.StatusInternalServerError {
		httputil.WriteInternalError(w, "internal error")
		return
	}
	var e *Error
	if !errors.As(err, &e) {
		httputil.WriteErrorMessage(w, status, err.Error())
		return
	}

	details := map[string]string{"op": e.Op}
	if e.Item != NoItem {
		details["item"] = strconv.Itoa(e.Item)
	}
	if e.Key != "" {
		details["key"] = e.Key
	}
	if e.Detail != "" {
		details["detail"] = e.Detail
	}
	httputil.WriteDetailedError(w, status, e.Kind.Error(), details)
}

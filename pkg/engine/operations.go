package engine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dwp-platform/guard/pkg/rbac"
	"github.com/dwp-platform/guard/pkg/scope"
)

var tracer = otel.Tracer("guard/engine")

func (e *Engine) start(ctx context.Context, name string, tenantID int64, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := tracer.Start(e.context(ctx), name,
		trace.WithAttributes(append([]attribute.KeyValue{attribute.Int64("tenant_id", tenantID)}, attrs...)...),
	)
	return ctx, span
}

func finish(span trace.Span, err error, failure string) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, failure)
	}
	span.End()
}

// ResolveMenuTree returns the menu forest the user may view
func (e *Engine) ResolveMenuTree(ctx context.Context, tenantID, userID int64) (*rbac.MenuForest, error) {
	ctx, span := e.start(ctx, "ResolveMenuTree", tenantID, attribute.Int64("user_id", userID))
	forest, err := e.menus.ResolveMenuTree(ctx, tenantID, userID)
	if err == nil {
		span.SetAttributes(attribute.Int("menu.nodes", len(forest.Keys())))
	}
	finish(span, err, "failed to resolve menu tree")
	return forest, err
}

// CheckPermission decides whether the user holds code on resourceKey. No
// access is a Deny decision, never an error.
func (e *Engine) CheckPermission(ctx context.Context, tenantID, userID int64, resourceKey string, code rbac.PermissionCode) (rbac.Decision, error) {
	ctx, span := e.start(ctx, "CheckPermission", tenantID,
		attribute.Int64("user_id", userID),
		attribute.String("resource_key", resourceKey),
		attribute.String("permission_code", string(code)),
	)
	decision, err := e.checker.CheckPermission(ctx, tenantID, userID, resourceKey, code)
	if err == nil {
		span.SetAttributes(attribute.Bool("allowed", decision.Allowed))
	}
	finish(span, err, "failed to check permission")
	return decision, err
}

// PermissionSet returns every effective grant tuple of the user
func (e *Engine) PermissionSet(ctx context.Context, tenantID, userID int64) ([]rbac.GrantTuple, error) {
	ctx, span := e.start(ctx, "PermissionSet", tenantID, attribute.Int64("user_id", userID))
	tuples, err := e.checker.PermissionSet(ctx, tenantID, userID)
	finish(span, err, "failed to resolve permission set")
	return tuples, err
}

// RequireAdmin returns rbac.ErrForbidden unless the user holds the admin role
func (e *Engine) RequireAdmin(ctx context.Context, tenantID, userID int64) error {
	ctx, span := e.start(ctx, "RequireAdmin", tenantID, attribute.Int64("user_id", userID))
	err := e.checker.RequireAdmin(ctx, tenantID, userID)
	finish(span, err, "admin required")
	return err
}

// ApplyRolePermissionBatch applies items to the role's permissions in one transaction and returns the diff
func (e *Engine) ApplyRolePermissionBatch(ctx context.Context, tenantID, roleID int64, items []rbac.BatchItem) (*rbac.Diff, error) {
	ctx, span := e.start(ctx, "ApplyRolePermissionBatch", tenantID,
		attribute.Int64("role_id", roleID),
		attribute.Int("batch.items", len(items)),
	)
	diff, err := e.mutator.ApplyRolePermissionBatch(ctx, tenantID, roleID, items)
	if err == nil {
		span.SetAttributes(
			attribute.Int("diff.changes", len(diff.Changes)),
			attribute.Int("cascade.users", len(diff.Invalidated.Users)),
		)
	}
	finish(span, err, "failed to apply role permission batch")
	return diff, err
}

// CreateRole creates a role with a tenant-unique code
func (e *Engine) CreateRole(ctx context.Context, tenantID int64, code, name, description string) (*rbac.Role, error) {
	ctx, span := e.start(ctx, "CreateRole", tenantID, attribute.String("role_code", code))
	role, err := e.roles.CreateRole(ctx, tenantID, code, name, description)
	finish(span, err, "failed to create role")
	return role, err
}

// DeleteRole deletes an unreferenced role
func (e *Engine) DeleteRole(ctx context.Context, tenantID, roleID int64) error {
	ctx, span := e.start(ctx, "DeleteRole", tenantID, attribute.Int64("role_id", roleID))
	err := e.roles.DeleteRole(ctx, tenantID, roleID)
	finish(span, err, "failed to delete role")
	return err
}

// AddRoleMember assigns the role to a user or department
func (e *Engine) AddRoleMember(ctx context.Context, tenantID, roleID int64, subject rbac.Subject) (rbac.EvictionReport, error) {
	ctx, span := e.start(ctx, "AddRoleMember", tenantID, attribute.Int64("role_id", roleID))
	report, err := e.roles.AddRoleMember(ctx, tenantID, roleID, subject)
	finish(span, err, "failed to add role member")
	return report, err
}

// RemoveRoleMember unassigns the role from a user or department
func (e *Engine) RemoveRoleMember(ctx context.Context, tenantID, roleID int64, subject rbac.Subject) (rbac.EvictionReport, error) {
	ctx, span := e.start(ctx, "RemoveRoleMember", tenantID, attribute.Int64("role_id", roleID))
	report, err := e.roles.RemoveRoleMember(ctx, tenantID, roleID, subject)
	finish(span, err, "failed to remove role member")
	return report, err
}

// ReplaceRoleMembers makes subjects the role's complete member list
func (e *Engine) ReplaceRoleMembers(ctx context.Context, tenantID, roleID int64, subjects []rbac.Subject) (*rbac.MemberDiff, error) {
	ctx, span := e.start(ctx, "ReplaceRoleMembers", tenantID,
		attribute.Int64("role_id", roleID),
		attribute.Int("members", len(subjects)),
	)
	diff, err := e.roles.ReplaceRoleMembers(ctx, tenantID, roleID, subjects)
	finish(span, err, "failed to replace role members")
	return diff, err
}

// AssignPrimaryDepartment moves a user to another department, or none when departmentID is nil
func (e *Engine) AssignPrimaryDepartment(ctx context.Context, tenantID, userID int64, departmentID *int64) (rbac.EvictionReport, error) {
	ctx, span := e.start(ctx, "AssignPrimaryDepartment", tenantID, attribute.Int64("user_id", userID))
	report, err := e.roles.AssignPrimaryDepartment(ctx, tenantID, userID, departmentID)
	finish(span, err, "failed to assign primary department")
	return report, err
}

// ResolveEnabledScope returns the tenant's enabled company codes and currencies
func (e *Engine) ResolveEnabledScope(ctx context.Context, tenantID int64) (*scope.Scope, error) {
	ctx, span := e.start(ctx, "ResolveEnabledScope", tenantID)
	s, err := e.resolver.ResolveEnabledScope(ctx, tenantID)
	if err == nil {
		span.SetAttributes(
			attribute.Int("scope.company_codes", len(s.CompanyCodes)),
			attribute.Int("scope.currencies", len(s.Currencies)),
		)
	}
	finish(span, err, "failed to resolve scope")
	return s, err
}

// SetCompanyCodes replaces the tenant's enabled company codes
func (e *Engine) SetCompanyCodes(ctx context.Context, tenantID int64, codes []string) (*scope.ReplaceResult, error) {
	ctx, span := e.start(ctx, "SetCompanyCodes", tenantID, attribute.StringSlice("codes", codes))
	result, err := e.scopes.SetCompanyCodes(ctx, tenantID, codes)
	finish(span, err, "failed to set company codes")
	return result, err
}

// SetCurrencies replaces the tenant's enabled currencies
func (e *Engine) SetCurrencies(ctx context.Context, tenantID int64, codes []string) (*scope.ReplaceResult, error) {
	ctx, span := e.start(ctx, "SetCurrencies", tenantID, attribute.StringSlice("codes", codes))
	result, err := e.scopes.SetCurrencies(ctx, tenantID, codes)
	finish(span, err, "failed to set currencies")
	return result, err
}

package rbac

import (
	"context"
	"fmt"
	"sort"

	"github.com/dwp-platform/guard/pkg/observability"
)

// EffectiveRole is a role that applies to a user, with how it applies.
// A role reachable both directly and through the department reports Direct.
type EffectiveRole struct {
	RoleID       int64  `json:"role_id"`
	Direct       bool   `json:"direct"`
	DepartmentID *int64 `json:"department_id,omitempty"`
}

// Provenance returns "DIRECT" or "DEPARTMENT"
func (r EffectiveRole) Provenance() string {
	if r.Direct {
		return "DIRECT"
	}
	return "DEPARTMENT"
}

// membershipReader is what RoleResolver needs from the store
type membershipReader interface {
	GetUser(ctx context.Context, tenantID, userID int64) (*User, error)
	ListRoleIDsForSubject(ctx context.Context, tenantID int64, subject Subject) ([]int64, error)
}

// RoleResolver computes the roles that apply to a user
type RoleResolver struct {
	store membershipReader
}

// NewRoleResolver creates a resolver over store
func NewRoleResolver(store membershipReader) *RoleResolver {
	return &RoleResolver{store: store}
}

// Resolve returns the user's direct roles united with the roles of their primary
// department, sorted by role ID. An unknown user has no roles.
func (r *RoleResolver) Resolve(ctx context.Context, tenantID, userID int64) ([]EffectiveRole, error) {
	user, err := r.store.GetUser(ctx, tenantID, userID)
	if IsNotFound(err) {
		observability.FromContext(ctx).Debugf("user %d not found in tenant %d, no roles", userID, tenantID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	direct, err := r.store.ListRoleIDsForSubject(ctx, tenantID, UserSubject{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("failed to get direct roles: %w", err)
	}

	roles := make(map[int64]EffectiveRole, len(direct))
	for _, id := range direct {
		roles[id] = EffectiveRole{RoleID: id, Direct: true}
	}

	if deptID := user.PrimaryDepartmentID; deptID != nil {
		inherited, err := r.store.ListRoleIDsForSubject(ctx, tenantID, DepartmentSubject{DepartmentID: *deptID})
		if err != nil {
			return nil, fmt.Errorf("failed to get department roles: %w", err)
		}
		for _, id := range inherited {
			role := roles[id]
			role.RoleID = id
			dept := *deptID
			role.DepartmentID = &dept
			roles[id] = role
		}
	}

	result := make([]EffectiveRole, 0, len(roles))
	for _, role := range roles {
		result = append(result, role)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RoleID < result[j].RoleID })
	return result, nil
}

// RoleIDs extracts the role IDs in order
func RoleIDs(roles []EffectiveRole) []int64 {
	ids := make([]int64, len(roles))
	for i, r := range roles {
		ids[i] = r.RoleID
	}
	return ids
}

package rbac

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/dwp-platform/guard/pkg/audit"
	"github.com/dwp-platform/guard/pkg/observability"
)

// SubjectRef is the serialized form of a Subject in audit payloads
type SubjectRef struct {
	Type SubjectType `json:"subjectType"`
	ID   int64       `json:"subjectId"`
}

func refOf(s Subject) SubjectRef {
	return SubjectRef{Type: s.SubjectType(), ID: s.SubjectID()}
}

func refsOf(subjects []Subject) []SubjectRef {
	refs := make([]SubjectRef, len(subjects))
	for i, s := range subjects {
		refs[i] = refOf(s)
	}
	return refs
}

// MemberDiff is the result of ReplaceRoleMembers
type MemberDiff struct {
	TenantID    int64          `json:"tenantId"`
	RoleID      int64          `json:"roleId"`
	Added       []Subject      `json:"-"`
	Removed     []Subject      `json:"-"`
	Invalidated EvictionReport `json:"-"`
}

// Empty reports whether the membership was already as requested
func (d *MemberDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// RoleService administers roles, role membership and primary departments.
// Every mutation commits first, then evicts the affected users and emits an audit event.
type RoleService struct {
	store         Store
	cascade       *Cascade
	sink          audit.Sink
	metrics       *observability.Metrics
	adminRoleCode string
}

// NewRoleService creates a role service; sink and metrics may be nil
func NewRoleService(store Store, cascade *Cascade, sink audit.Sink, metrics *observability.Metrics, adminRoleCode string) *RoleService {
	if adminRoleCode == "" {
		adminRoleCode = DefaultAdminRoleCode
	}
	return &RoleService{
		store:         store,
		cascade:       cascade,
		sink:          sink,
		metrics:       metrics,
		adminRoleCode: adminRoleCode,
	}
}

func roleTarget(roleID int64) string {
	return strconv.FormatInt(roleID, 10)
}

// CreateRole creates a role with a tenant-unique code
func (s *RoleService) CreateRole(ctx context.Context, tenantID int64, code, name, description string) (*Role, error) {
	const op = "create_role"

	code = strings.TrimSpace(code)
	if code == "" {
		return nil, newError(ErrInvalidInput, op, "", "role code is required")
	}
	if name = strings.TrimSpace(name); name == "" {
		name = code
	}

	role := &Role{TenantID: tenantID, Code: code, Name: name, Description: description}
	err := s.store.CreateRole(ctx, role)
	s.metrics.RecordMutation(op, err)
	if err != nil {
		return nil, err
	}

	observability.FromContext(ctx).WithField("role_id", role.ID).Infof("role %s created", role.Code)
	audit.Emit(ctx, s.sink, s.metrics,
		audit.NewEvent(ctx, audit.EventTypeRoleCreate, tenantID, "role", roleTarget(role.ID), role))
	return role, nil
}

// DeleteRole deletes a role that has no members and no permissions.
// The admin role can never be deleted.
func (s *RoleService) DeleteRole(ctx context.Context, tenantID, roleID int64) error {
	const op = "delete_role"

	var deleted *Role
	err := s.store.RunInTx(ctx, func(tx Store) error {
		role, err := tx.LockRole(ctx, tenantID, roleID)
		if err != nil {
			return err
		}
		if role.Code == s.adminRoleCode {
			return newError(ErrConflict, op, role.Code, "the admin role cannot be deleted")
		}

		members, permissions, err := tx.CountRoleReferences(ctx, tenantID, roleID)
		if err != nil {
			return err
		}
		if members > 0 || permissions > 0 {
			return newError(ErrConflict, op, role.Code,
				fmt.Sprintf("role still has %d members and %d permissions", members, permissions))
		}

		if err := tx.DeleteRole(ctx, tenantID, roleID); err != nil {
			return err
		}
		deleted = role
		return nil
	})
	s.metrics.RecordMutation(op, err)
	if err != nil {
		return err
	}

	observability.FromContext(ctx).WithField("role_id", roleID).Infof("role %s deleted", deleted.Code)
	audit.Emit(ctx, s.sink, s.metrics,
		audit.NewEvent(ctx, audit.EventTypeRoleDelete, tenantID, "role", roleTarget(roleID), deleted))
	return nil
}

// requireSubject returns ErrNotFound when the user or department does not exist in the tenant
func requireSubject(ctx context.Context, tx DirectoryReader, tenantID int64, subject Subject) error {
	switch sub := subject.(type) {
	case UserSubject:
		_, err := tx.GetUser(ctx, tenantID, sub.UserID)
		return err
	case DepartmentSubject:
		_, err := tx.GetDepartment(ctx, tenantID, sub.DepartmentID)
		return err
	default:
		return newError(ErrInvalidInput, "resolve subject", "", "subject is required")
	}
}

// AddRoleMember grants the role to a user or department
func (s *RoleService) AddRoleMember(ctx context.Context, tenantID, roleID int64, subject Subject) (EvictionReport, error) {
	const op = "add_role_member"

	if subject == nil {
		return EvictionReport{}, newError(ErrInvalidInput, op, "", "subject is required")
	}

	err := s.store.RunInTx(ctx, func(tx Store) error {
		if _, err := tx.LockRole(ctx, tenantID, roleID); err != nil {
			return err
		}
		if err := requireSubject(ctx, tx, tenantID, subject); err != nil {
			return err
		}
		return tx.AddRoleMember(ctx, &RoleMember{TenantID: tenantID, RoleID: roleID, Subject: subject})
	})
	s.metrics.RecordMutation(op, err)
	if err != nil {
		return EvictionReport{}, err
	}

	report := s.cascade.InvalidateSubjects(ctx, tenantID, []Subject{subject})
	audit.Emit(ctx, s.sink, s.metrics,
		audit.NewEvent(ctx, audit.EventTypeRoleMemberAdd, tenantID, "role", roleTarget(roleID), refOf(subject)))
	return report, nil
}

// RemoveRoleMember revokes the role from a user or department
func (s *RoleService) RemoveRoleMember(ctx context.Context, tenantID, roleID int64, subject Subject) (EvictionReport, error) {
	const op = "remove_role_member"

	if subject == nil {
		return EvictionReport{}, newError(ErrInvalidInput, op, "", "subject is required")
	}

	err := s.store.RunInTx(ctx, func(tx Store) error {
		if _, err := tx.LockRole(ctx, tenantID, roleID); err != nil {
			return err
		}
		removed, err := tx.RemoveRoleMember(ctx, tenantID, roleID, subject)
		if err != nil {
			return err
		}
		if !removed {
			return newError(ErrNotFound, op, subject.String(), "subject is not a member of the role")
		}
		return nil
	})
	s.metrics.RecordMutation(op, err)
	if err != nil {
		return EvictionReport{}, err
	}

	report := s.cascade.InvalidateSubjects(ctx, tenantID, []Subject{subject})
	audit.Emit(ctx, s.sink, s.metrics,
		audit.NewEvent(ctx, audit.EventTypeRoleMemberRemove, tenantID, "role", roleTarget(roleID), refOf(subject)))
	return report, nil
}

// ReplaceRoleMembers makes subjects the exact membership of the role.
// Duplicates in subjects are ignored; an unknown subject aborts the whole replacement.
func (s *RoleService) ReplaceRoleMembers(ctx context.Context, tenantID, roleID int64, subjects []Subject) (*MemberDiff, error) {
	const op = "replace_role_members"

	diff := &MemberDiff{TenantID: tenantID, RoleID: roleID}
	err := s.store.RunInTx(ctx, func(tx Store) error {
		if _, err := tx.LockRole(ctx, tenantID, roleID); err != nil {
			return err
		}

		desired := make(map[SubjectRef]Subject, len(subjects))
		for i, subject := range subjects {
			if subject == nil {
				return itemError(ErrInvalidInput, op, i, "", "subject is required")
			}
			if err := requireSubject(ctx, tx, tenantID, subject); err != nil {
				if IsNotFound(err) {
					return itemError(ErrNotFound, op, i, subject.String(), "subject does not exist")
				}
				return err
			}
			desired[refOf(subject)] = subject
		}

		current, err := tx.ListRoleMembers(ctx, tenantID, roleID)
		if err != nil {
			return err
		}
		existing := make(map[SubjectRef]bool, len(current))
		for _, m := range current {
			ref := refOf(m.Subject)
			existing[ref] = true
			if _, keep := desired[ref]; keep {
				continue
			}
			if _, err := tx.RemoveRoleMember(ctx, tenantID, roleID, m.Subject); err != nil {
				return err
			}
			diff.Removed = append(diff.Removed, m.Subject)
		}

		for _, ref := range sortedRefs(desired) {
			if existing[ref] {
				continue
			}
			subject := desired[ref]
			if err := tx.AddRoleMember(ctx, &RoleMember{TenantID: tenantID, RoleID: roleID, Subject: subject}); err != nil {
				return err
			}
			diff.Added = append(diff.Added, subject)
		}
		return nil
	})
	s.metrics.RecordMutation(op, err)
	if err != nil {
		return nil, err
	}

	if diff.Empty() {
		return diff, nil
	}

	changed := append(slices.Clone(diff.Added), diff.Removed...)
	diff.Invalidated = s.cascade.InvalidateSubjects(ctx, tenantID, changed)

	audit.Emit(ctx, s.sink, s.metrics,
		audit.NewEvent(ctx, audit.EventTypeRoleMemberReplace, tenantID, "role", roleTarget(roleID), map[string]interface{}{
			"added":   refsOf(diff.Added),
			"removed": refsOf(diff.Removed),
		}))
	return diff, nil
}

func sortedRefs(m map[SubjectRef]Subject) []SubjectRef {
	refs := make([]SubjectRef, 0, len(m))
	for ref := range m {
		refs = append(refs, ref)
	}
	slices.SortFunc(refs, func(a, b SubjectRef) int {
		if a.Type != b.Type {
			return strings.Compare(string(a.Type), string(b.Type))
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return refs
}

// AssignPrimaryDepartment moves a user to departmentID, or detaches them when it is nil.
// The user's department-derived roles change, so their cached decisions are evicted.
func (s *RoleService) AssignPrimaryDepartment(ctx context.Context, tenantID, userID int64, departmentID *int64) (EvictionReport, error) {
	const op = "assign_primary_department"

	var before *int64
	changed := false
	err := s.store.RunInTx(ctx, func(tx Store) error {
		user, err := tx.GetUser(ctx, tenantID, userID)
		if err != nil {
			return err
		}
		if departmentID != nil {
			if _, err := tx.GetDepartment(ctx, tenantID, *departmentID); err != nil {
				return err
			}
		}

		before = user.PrimaryDepartmentID
		if sameDepartment(before, departmentID) {
			return nil
		}
		changed = true
		return tx.SetPrimaryDepartment(ctx, tenantID, userID, departmentID)
	})
	s.metrics.RecordMutation(op, err)
	if err != nil {
		return EvictionReport{}, err
	}
	if !changed {
		return EvictionReport{Users: []int64{}}, nil
	}

	report := s.cascade.InvalidateUsers(ctx, tenantID, []int64{userID})
	audit.Emit(ctx, s.sink, s.metrics,
		audit.NewEvent(ctx, audit.EventTypeUserDepartment, tenantID, "user", strconv.FormatInt(userID, 10), map[string]*int64{
			"before": before,
			"after":  departmentID,
		}))
	return report, nil
}

func sameDepartment(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

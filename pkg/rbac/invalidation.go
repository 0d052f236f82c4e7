package rbac

import (
	"context"
	"slices"

	"github.com/dwp-platform/guard/pkg/observability"
)

// UserEvictor drops a user's cached authorization state
type UserEvictor interface {
	EvictUser(ctx context.Context, tenantID, userID int64) error
}

// cascadeReader is what Cascade needs from the store
type cascadeReader interface {
	ListRoleMembers(ctx context.Context, tenantID, roleID int64) ([]RoleMember, error)
	ListUserIDsByDepartment(ctx context.Context, tenantID, departmentID int64) ([]int64, error)
}

// EvictionReport lists the users whose cached state was dropped and those whose eviction failed
type EvictionReport struct {
	Users  []int64 `json:"users"`
	Failed []int64 `json:"failed,omitempty"`
	// Incomplete is set when the affected users could not be enumerated
	Incomplete bool `json:"incomplete,omitempty"`
}

// OK reports whether every affected user was evicted
func (r EvictionReport) OK() bool {
	return len(r.Failed) == 0 && !r.Incomplete
}

func (r *EvictionReport) merge(other EvictionReport) {
	r.Users = append(r.Users, other.Users...)
	r.Failed = append(r.Failed, other.Failed...)
	r.Incomplete = r.Incomplete || other.Incomplete
}

// Cascade evicts cached decisions of every user affected by a model change.
// It runs after the mutation commits; failures are logged and reported, never returned.
type Cascade struct {
	store   cascadeReader
	evictor UserEvictor
	metrics *observability.Metrics
}

// NewCascade creates a cascade; metrics may be nil
func NewCascade(store cascadeReader, evictor UserEvictor, metrics *observability.Metrics) *Cascade {
	return &Cascade{store: store, evictor: evictor, metrics: metrics}
}

// InvalidateRole evicts every user holding the role directly or through their department
func (c *Cascade) InvalidateRole(ctx context.Context, tenantID, roleID int64) EvictionReport {
	logger := observability.FromContext(ctx).WithField("role_id", roleID)

	members, err := c.store.ListRoleMembers(ctx, tenantID, roleID)
	if err != nil {
		logger.WithError(err).Error("failed to list role members for invalidation, cached decisions stay until TTL")
		return EvictionReport{Incomplete: true}
	}

	subjects := make([]Subject, len(members))
	for i, m := range members {
		subjects[i] = m.Subject
	}
	return c.InvalidateSubjects(ctx, tenantID, subjects)
}

// InvalidateSubjects evicts users and every user whose primary department is one of the department subjects
func (c *Cascade) InvalidateSubjects(ctx context.Context, tenantID int64, subjects []Subject) EvictionReport {
	var report EvictionReport
	var users []int64

	for _, subject := range subjects {
		switch s := subject.(type) {
		case UserSubject:
			users = append(users, s.UserID)
		case DepartmentSubject:
			deptUsers, err := c.store.ListUserIDsByDepartment(ctx, tenantID, s.DepartmentID)
			if err != nil {
				observability.FromContext(ctx).WithError(err).
					WithField("department_id", s.DepartmentID).
					Error("failed to list department users for invalidation")
				report.Incomplete = true
				continue
			}
			users = append(users, deptUsers...)
		}
	}

	report.merge(c.InvalidateUsers(ctx, tenantID, users))
	return report
}

// InvalidateUsers evicts each user once
func (c *Cascade) InvalidateUsers(ctx context.Context, tenantID int64, userIDs []int64) EvictionReport {
	logger := observability.FromContext(ctx)

	ids := slices.Clone(userIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	report := EvictionReport{Users: []int64{}}
	for _, userID := range ids {
		if err := c.evictor.EvictUser(ctx, tenantID, userID); err != nil {
			logger.WithError(err).WithField("evicted_user_id", userID).
				Warn("cache eviction failed, decision may be stale until TTL")
			report.Failed = append(report.Failed, userID)
			continue
		}
		report.Users = append(report.Users, userID)
	}

	c.metrics.RecordCascade(len(ids))
	logger.Debugf("invalidated %d users (%d failed)", len(report.Users), len(report.Failed))
	return report
}

package rbac

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dwp-platform/guard/pkg/audit"
	"github.com/dwp-platform/guard/pkg/cache"
)

const testTenant int64 = 1

type recordingSink struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (r *recordingSink) Record(ctx context.Context, event *audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) Close() error { return nil }

func (r *recordingSink) Events() []*audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*audit.Event(nil), r.events...)
}

// fixture wires the services over a MemoryStore and a memory decision cache
type fixture struct {
	store     *MemoryStore
	decisions *cache.MemoryCache[*Decisions]
	checker   *PermissionChecker
	cascade   *Cascade
	sink      *recordingSink
	mutator   *PermissionMutator
	roles     *RoleService
	menus     *MenuBuilder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := NewMemoryStore()
	decisions := cache.NewMemoryCache[*Decisions](128, time.Minute)
	checker := NewPermissionChecker(store, decisions)
	cascade := NewCascade(store, checker, nil)
	sink := &recordingSink{}

	return &fixture{
		store:     store,
		decisions: decisions,
		checker:   checker,
		cascade:   cascade,
		sink:      sink,
		mutator:   NewPermissionMutator(store, cascade, sink, nil),
		roles:     NewRoleService(store, cascade, sink, nil, DefaultAdminRoleCode),
		menus:     NewMenuBuilder(checker, store),
	}
}

func (f *fixture) resource(t ResourceType, key string) int64 {
	return f.store.AddResource(Resource{Type: t, Key: key, Name: key, Enabled: true})
}

func (f *fixture) role(t *testing.T, code string) *Role {
	t.Helper()
	role := &Role{TenantID: testTenant, Code: code, Name: code}
	require.NoError(t, f.store.CreateRole(context.Background(), role))
	return role
}

func (f *fixture) member(t *testing.T, roleID int64, subject Subject) {
	t.Helper()
	require.NoError(t, f.store.AddRoleMember(context.Background(), &RoleMember{
		TenantID: testTenant,
		RoleID:   roleID,
		Subject:  subject,
	}))
}

func (f *fixture) grant(t *testing.T, roleID int64, key string, code PermissionCode, effect Effect) {
	t.Helper()
	ctx := context.Background()
	res, err := f.store.GetResourceByKey(ctx, testTenant, key)
	require.NoError(t, err)
	perm, err := f.store.GetPermissionByCode(ctx, code)
	require.NoError(t, err)
	require.NoError(t, f.store.UpsertRolePermission(ctx, &RolePermission{
		TenantID:     testTenant,
		RoleID:       roleID,
		ResourceID:   res.ID,
		PermissionID: perm.ID,
		Effect:       effect,
	}))
}

func (f *fixture) allowed(t *testing.T, userID int64, key string, code PermissionCode) bool {
	t.Helper()
	decision, err := f.checker.CheckPermission(context.Background(), testTenant, userID, key, code)
	require.NoError(t, err)
	return decision.Allowed
}

func ptr(v int64) *int64 { return &v }

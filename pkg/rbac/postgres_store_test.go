package rbac

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewPostgresStore(db), mock
}

var roleCols = []string{"id", "tenant_id", "code", "name", "description", "created_at", "updated_at"}

func TestPostgresStore_GetUser(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("FROM users")).
		WithArgs(int64(1), int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "username", "primary_department_id"}).
			AddRow(7, 1, "alice", 3))

	user, err := store.GetUser(ctx, 1, 7)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	require.NotNil(t, user.PrimaryDepartmentID)
	assert.Equal(t, int64(3), *user.PrimaryDepartmentID)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users")).
		WithArgs(int64(1), int64(8)).
		WillReturnError(sql.ErrNoRows)

	_, err = store.GetUser(ctx, 1, 8)
	assert.True(t, IsNotFound(err))
}

func TestPostgresStore_CreateRoleConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO roles")).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := store.CreateRole(context.Background(), &Role{TenantID: 1, Code: "ADMIN", Name: "Admin"})
	assert.True(t, IsConflict(err))
}

func TestPostgresStore_GetResourceByKey(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY tenant_id NULLS LAST")).
		WithArgs(int64(1), "menu.orders").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "resource_type", "resource_key", "name", "parent_resource_id", "enabled"}).
			AddRow(10, nil, "MENU", "menu.orders", "Orders", nil, true))

	res, err := store.GetResourceByKey(context.Background(), 1, "menu.orders")
	require.NoError(t, err)
	assert.Nil(t, res.TenantID)
	assert.Equal(t, ResourceMenu, res.Type)
	assert.True(t, res.Enabled)
}

func TestPostgresStore_ListGrants(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	grants, err := store.ListGrants(ctx, 1, nil)
	require.NoError(t, err)
	assert.Empty(t, grants)

	mock.ExpectQuery(regexp.QuoteMeta("rp.role_id = ANY($2)")).
		WithArgs(int64(1), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"role_id", "resource_key", "resource_type", "code", "effect"}).
			AddRow(2, "menu.orders", "MENU", "VIEW", "ALLOW").
			AddRow(3, "menu.orders", "MENU", "VIEW", "DENY"))

	grants, err = store.ListGrants(ctx, 1, []int64{2, 3})
	require.NoError(t, err)
	require.Len(t, grants, 2)
	assert.Equal(t, EffectDeny, grants[1].Effect)
}

func TestPostgresStore_ListRoleMembers(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM role_members")).
		WithArgs(int64(1), int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "role_id", "subject_type", "subject_id", "created_at"}).
			AddRow(1, 1, 5, "DEPARTMENT", 9, now).
			AddRow(2, 1, 5, "USER", 7, now))

	members, err := store.ListRoleMembers(context.Background(), 1, 5)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, DepartmentSubject{DepartmentID: 9}, members[0].Subject)
	assert.Equal(t, UserSubject{UserID: 7}, members[1].Subject)
}

func TestPostgresStore_SetPrimaryDepartmentMissingUser(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET primary_department_id")).
		WithArgs(int64(1), int64(7), nil).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.SetPrimaryDepartment(context.Background(), 1, 7, nil)
	assert.True(t, IsNotFound(err))
}

func TestPostgresStore_RunInTxRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(int64(1), int64(5)).
		WillReturnRows(sqlmock.NewRows(roleCols).AddRow(5, 1, "ORDERS", "Orders", "", time.Now(), time.Now()))
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := store.RunInTx(context.Background(), func(tx Store) error {
		if _, err := tx.LockRole(context.Background(), 1, 5); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestPostgresStore_ApplyBatchInOneTransaction(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(int64(1), int64(5)).
		WillReturnRows(sqlmock.NewRows(roleCols).AddRow(5, 1, "ORDERS", "Orders", "", now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM resources")).
		WithArgs(int64(1), "menu.orders").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "resource_type", "resource_key", "name", "parent_resource_id", "enabled"}).
			AddRow(10, nil, "MENU", "menu.orders", "Orders", nil, true))
	mock.ExpectQuery(regexp.QuoteMeta("FROM permissions WHERE code = $1")).
		WithArgs("VIEW").
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "sort_order"}).AddRow(1, "VIEW", 10))
	mock.ExpectQuery(regexp.QuoteMeta("FROM role_permissions rp")).
		WithArgs(int64(1), int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "role_id", "resource_id", "permission_id", "effect", "resource_key", "resource_type", "code"}))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO role_permissions")).
		WithArgs(int64(1), int64(5), int64(10), int64(1), "ALLOW").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(100))
	mock.ExpectCommit()

	// Cascade after commit
	mock.ExpectQuery(regexp.QuoteMeta("FROM role_members")).
		WithArgs(int64(1), int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "role_id", "subject_type", "subject_id", "created_at"}).
			AddRow(1, 1, 5, "USER", 7, now))

	evictor := &recordingEvictor{}
	mutator := NewPermissionMutator(store, NewCascade(store, evictor, nil), nil, nil)

	diff, err := mutator.ApplyRolePermissionBatch(context.Background(), 1, 5, []BatchItem{
		{ResourceKey: "menu.orders", PermissionCode: PermissionView, Effect: EffectPtr(EffectAllow)},
	})
	require.NoError(t, err)
	require.Len(t, diff.Changes, 1)
	assert.Equal(t, ChangeAdded, diff.Changes[0].Kind)
	assert.Equal(t, []int64{7}, evictor.evicted)
}

func TestPostgresStore_ApplyBatchRollsBackOnUnknownResource(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows(roleCols).AddRow(5, 1, "ORDERS", "Orders", "", now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM resources")).
		WithArgs(int64(1), "menu.missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	mutator := NewPermissionMutator(store, NewCascade(store, &recordingEvictor{}, nil), nil, nil)
	_, err := mutator.ApplyRolePermissionBatch(context.Background(), 1, 5, []BatchItem{
		{ResourceKey: "menu.missing", PermissionCode: PermissionView, Effect: EffectPtr(EffectAllow)},
	})

	var rbacErr *Error
	require.True(t, errors.As(err, &rbacErr))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, rbacErr.Item)
}

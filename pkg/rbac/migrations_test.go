package rbac

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMigrations_Ordered(t *testing.T) {
	migrations := GetMigrations()
	require.NotEmpty(t, migrations)
	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.SQL)
	}
}

func TestApplyMigrations_SkipsApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	migrations := []Migration{
		{Version: 1, Description: "first", SQL: "CREATE TABLE a (id INT)"},
		{Version: 2, Description: "second", SQL: "CREATE TABLE b (id INT)"},
	}

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS test_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version FROM test_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE b")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO test_migrations")).
		WithArgs(2, "second").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, ApplyMigrations(context.Background(), db, "test_migrations", migrations))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyMigrations_RollsBackFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version").WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE a").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	err = ApplyMigrations(context.Background(), db, "test_migrations", []Migration{
		{Version: 1, Description: "first", SQL: "CREATE TABLE a (id INT)"},
	})
	assert.ErrorContains(t, err, "failed to execute migration 1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureRole(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	created, err := EnsureRole(ctx, store, testTenant, DefaultAdminRoleCode, "Administrator")
	require.NoError(t, err)

	again, err := EnsureRole(ctx, store, testTenant, DefaultAdminRoleCode, "Administrator")
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)
}

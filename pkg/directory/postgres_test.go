package directory

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dashborion/dashborion/pkg/rbac"
)

func newTestDirectory(t *testing.T) (*PostgresDirectory, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").
		WillReturnResult(sqlmock.NewResult(0, 0))

	dir, err := NewPostgresDirectory(db)
	require.NoError(t, err)
	return dir, mock
}

func TestPostgresDirectory_LookupUser(t *testing.T) {
	dir, mock := newTestDirectory(t)
	now := time.Now()

	mock.ExpectQuery("SELECT id, email, display_name, is_active").
		WithArgs("alice@example.com").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "email", "display_name", "is_active", "created_at", "updated_at"},
		).AddRow(int64(7), "alice@example.com", "Alice", true, now, now))

	user, err := dir.LookupUser(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(7), user.ID)
	assert.Equal(t, "Alice", user.DisplayName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDirectory_LookupUser_NotFound(t *testing.T) {
	dir, mock := newTestDirectory(t)

	mock.ExpectQuery("SELECT id, email, display_name, is_active").
		WithArgs("ghost@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "display_name", "is_active", "created_at", "updated_at"}))

	_, err := dir.LookupUser(context.Background(), "ghost@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestPostgresDirectory_PermissionsFor(t *testing.T) {
	dir, mock := newTestDirectory(t)

	mock.ExpectQuery("SELECT project, environment, role, resources").
		WithArgs("alice@example.com", pq.Array([]string{"ops"})).
		WillReturnRows(sqlmock.NewRows([]string{"project", "environment", "role", "resources"}).
			AddRow("homebox", "production", "operator", pq.Array([]string{"api", "worker"})).
			AddRow("*", "*", "viewer", pq.Array([]string{})))

	perms, err := dir.PermissionsFor(context.Background(), "alice@example.com", []string{"ops"})
	require.NoError(t, err)
	require.Len(t, perms, 2)
	assert.Equal(t, rbac.RoleOperator, perms[0].Role)
	assert.Equal(t, []string{"api", "worker"}, perms[0].Resources)
	assert.Equal(t, rbac.Wildcard, perms[1].Project)
}

func TestPostgresDirectory_AddGrant_RejectsUnknownRole(t *testing.T) {
	dir, _ := newTestDirectory(t)

	err := dir.AddGrant(context.Background(), Grant{
		SubjectType: SubjectUser,
		Subject:     "alice@example.com",
		Permission:  rbac.Permission{Project: "*", Environment: "*", Role: "root"},
	})
	assert.Error(t, err)
}

func TestPostgresDirectory_EnsureBootstrapAdmin(t *testing.T) {
	t.Run("grants when absent", func(t *testing.T) {
		dir, mock := newTestDirectory(t)
		now := time.Now()

		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM permission_grants").
			WithArgs("root@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery("INSERT INTO users").
			WithArgs("root@example.com", "").
			WillReturnRows(sqlmock.NewRows(
				[]string{"id", "email", "display_name", "is_active", "created_at", "updated_at"},
			).AddRow(int64(1), "root@example.com", "", true, now, now))
		mock.ExpectExec("INSERT INTO permission_grants").
			WillReturnResult(sqlmock.NewResult(1, 1))

		applied, err := dir.EnsureBootstrapAdmin(context.Background(), "root@example.com")
		require.NoError(t, err)
		assert.True(t, applied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no-op when admin grant exists", func(t *testing.T) {
		dir, mock := newTestDirectory(t)

		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM permission_grants").
			WithArgs("root@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		applied, err := dir.EnsureBootstrapAdmin(context.Background(), "root@example.com")
		require.NoError(t, err)
		assert.False(t, applied)
	})

	t.Run("no-op when unconfigured", func(t *testing.T) {
		dir, _ := newTestDirectory(t)

		applied, err := dir.EnsureBootstrapAdmin(context.Background(), "")
		require.NoError(t, err)
		assert.False(t, applied)
	})
}

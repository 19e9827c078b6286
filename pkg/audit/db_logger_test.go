package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDBLogger(t *testing.T) (*DBLogger, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_entries").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_audit_entries_timestamp").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_audit_entries_actor").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_audit_entries_action").WillReturnResult(sqlmock.NewResult(0, 0))

	logger, err := NewDBLogger(db)
	require.NoError(t, err)
	return logger, mock
}

func TestDBLogger_Log(t *testing.T) {
	logger, mock := newMockDBLogger(t)

	mock.ExpectExec("INSERT INTO audit_entries").
		WithArgs(sqlmock.AnyArg(), "alice@example.com", "auth.login", "", "success", "saml", "10.0.0.1", "", nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := logger.Log(context.Background(), Entry{
		Actor:   "alice@example.com",
		Action:  ActionLogin,
		Outcome: OutcomeSuccess,
		Detail:  "saml",
		IP:      "10.0.0.1",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_LogWithMetadata(t *testing.T) {
	logger, mock := newMockDBLogger(t)

	mock.ExpectExec("INSERT INTO audit_entries").
		WithArgs(sqlmock.AnyArg(), "", "authz.check", "homebox/production", "denied", "", "", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := logger.Log(context.Background(), Entry{
		Action:   ActionAuthorize,
		Target:   "homebox/production",
		Outcome:  OutcomeDenied,
		Metadata: map[string]interface{}{"action": "deploy"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_Search(t *testing.T) {
	logger, mock := newMockDBLogger(t)

	rows := sqlmock.NewRows([]string{"id", "timestamp", "actor", "action", "target", "outcome", "detail", "ip", "request_id", "metadata"}).
		AddRow(int64(7), time.Now(), "alice@example.com", "auth.login", "", "success", "saml", "10.0.0.1", "req-1", nil)

	mock.ExpectQuery("SELECT id, timestamp, actor, action, target, outcome, detail, ip, request_id, metadata FROM audit_entries WHERE actor = ").
		WithArgs("alice@example.com", 100).
		WillReturnRows(rows)

	entries, err := logger.Search(context.Background(), SearchFilter{Actor: "alice@example.com"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ActionLogin, entries[0].Action)
	assert.Equal(t, OutcomeSuccess, entries[0].Outcome)
	assert.Equal(t, "req-1", entries[0].RequestID)
}

func TestDBLogger_Sweep(t *testing.T) {
	logger, mock := newMockDBLogger(t)

	mock.ExpectExec("DELETE FROM audit_entries WHERE timestamp <").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 42))

	n, err := logger.Sweep(context.Background(), RetentionPolicy{RetentionDays: 90})
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestDBLogger_SweepDisabled(t *testing.T) {
	logger, _ := newMockDBLogger(t)

	n, err := logger.Sweep(context.Background(), RetentionPolicy{RetentionDays: 0})
	require.NoError(t, err)
	assert.Zero(t, n)
}

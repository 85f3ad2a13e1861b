package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

var testPolicy = Policy{Window: 5 * time.Minute, MaxFails: 3, BlockFor: 10 * time.Minute}

func newLimiter(t *testing.T) (*PG, pgxmock.PgxPoolIface, time.Time) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewPG(mock, testPolicy)
	l.now = func() time.Time { return now }
	return l, mock, now
}

func TestAllow_NoRecord(t *testing.T) {
	l, mock, _ := newLimiter(t)
	ip := HashIP("10.0.0.1:5555")

	mock.ExpectQuery(`SELECT locked_until FROM login_attempts WHERE email=\$1 AND ip_hash=\$2`).
		WithArgs("a@example.com", ip).
		WillReturnError(pgx.ErrNoRows)

	ok, wait, err := l.Allow(context.Background(), "a@example.com", ip)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, wait)
}

func TestAllow_LockedAndExpired(t *testing.T) {
	l, mock, now := newLimiter(t)
	ip := HashIP("10.0.0.1")

	mock.ExpectQuery(`SELECT locked_until`).
		WithArgs("a@example.com", ip).
		WillReturnRows(pgxmock.NewRows([]string{"locked_until"}).AddRow(now.Add(3 * time.Minute)))
	ok, wait, err := l.Allow(context.Background(), "a@example.com", ip)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 3*time.Minute, wait)

	mock.ExpectQuery(`SELECT locked_until`).
		WithArgs("a@example.com", ip).
		WillReturnRows(pgxmock.NewRows([]string{"locked_until"}).AddRow(now.Add(-time.Second)))
	ok, _, err = l.Allow(context.Background(), "a@example.com", ip)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAllow_DBError(t *testing.T) {
	l, mock, _ := newLimiter(t)
	mock.ExpectQuery(`SELECT locked_until`).WillReturnError(errors.New("db down"))

	ok, _, err := l.Allow(context.Background(), "a@example.com", []byte("h"))
	require.Error(t, err)
	require.False(t, ok)
}

func TestSuccess_ClearsRecord(t *testing.T) {
	l, mock, _ := newLimiter(t)
	mock.ExpectExec(`DELETE FROM login_attempts WHERE email=\$1 AND ip_hash=\$2`).
		WithArgs("a@example.com", []byte("h")).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, l.Success(context.Background(), "a@example.com", []byte("h")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailure_BelowThreshold(t *testing.T) {
	l, mock, _ := newLimiter(t)
	mock.ExpectQuery(`INSERT INTO login_attempts`).
		WithArgs("a@example.com", []byte("h"), testPolicy.Window).
		WillReturnRows(pgxmock.NewRows([]string{"failures"}).AddRow(2))

	locked, wait, err := l.Failure(context.Background(), "a@example.com", []byte("h"))
	require.NoError(t, err)
	require.False(t, locked)
	require.Zero(t, wait)
}

func TestFailure_LocksAtThreshold(t *testing.T) {
	l, mock, now := newLimiter(t)
	mock.ExpectQuery(`INSERT INTO login_attempts`).
		WithArgs("a@example.com", []byte("h"), testPolicy.Window).
		WillReturnRows(pgxmock.NewRows([]string{"failures"}).AddRow(3))
	mock.ExpectExec(`UPDATE login_attempts SET locked_until=\$3`).
		WithArgs("a@example.com", []byte("h"), now.Add(testPolicy.BlockFor)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	locked, wait, err := l.Failure(context.Background(), "a@example.com", []byte("h"))
	require.NoError(t, err)
	require.True(t, locked)
	require.Equal(t, testPolicy.BlockFor, wait)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHashIP_IgnoresPort(t *testing.T) {
	a := HashIP("1.2.3.4:123")
	b := HashIP("1.2.3.4:999")
	c := HashIP("5.6.7.8:123")
	require.Len(t, a, 32)
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of a pgx pool the limiter needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PG is a PostgreSQL-backed LoginLimiter over the login_attempts table.
type PG struct {
	q   Querier
	pol Policy
	now func() time.Time
}

var _ LoginLimiter = (*PG)(nil)

// NewPG constructs a PostgreSQL-backed limiter.
func NewPG(q Querier, pol Policy) *PG {
	if pol.MaxFails <= 0 {
		pol = DefaultPolicy
	}
	return &PG{q: q, pol: pol, now: time.Now}
}

// Allow reports whether (email, ip) is outside any lockout.
func (l *PG) Allow(ctx context.Context, email string, ipHash []byte) (bool, time.Duration, error) {
	const q = `SELECT locked_until FROM login_attempts WHERE email=$1 AND ip_hash=$2`
	var lockedUntil time.Time
	err := l.q.QueryRow(ctx, q, email, ipHash).Scan(&lockedUntil)
	switch {
	case err == nil:
		if wait := lockedUntil.Sub(l.now()); wait > 0 {
			return false, wait, nil
		}
		return true, 0, nil
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	default:
		return false, 0, err
	}
}

// Success drops the failure record for (email, ip).
func (l *PG) Success(ctx context.Context, email string, ipHash []byte) error {
	_, err := l.q.Exec(ctx, `DELETE FROM login_attempts WHERE email=$1 AND ip_hash=$2`, email, ipHash)
	return err
}

// Failure bumps the failure counter and locks (email, ip) once the policy threshold is hit.
func (l *PG) Failure(ctx context.Context, email string, ipHash []byte) (bool, time.Duration, error) {
	const bump = `
INSERT INTO login_attempts (email, ip_hash, failures, last_failure)
VALUES ($1, $2, 1, now())
ON CONFLICT (email, ip_hash) DO UPDATE SET
  failures = CASE WHEN now() - login_attempts.last_failure > $3::interval
                  THEN 1 ELSE login_attempts.failures + 1 END,
  last_failure = now()
RETURNING failures`
	var failures int
	if err := l.q.QueryRow(ctx, bump, email, ipHash, l.pol.Window).Scan(&failures); err != nil {
		return false, 0, err
	}
	if failures < l.pol.MaxFails {
		return false, 0, nil
	}

	const lock = `UPDATE login_attempts SET locked_until=$3 WHERE email=$1 AND ip_hash=$2`
	if _, err := l.q.Exec(ctx, lock, email, ipHash, l.now().Add(l.pol.BlockFor)); err != nil {
		return false, 0, err
	}
	return true, l.pol.BlockFor, nil
}

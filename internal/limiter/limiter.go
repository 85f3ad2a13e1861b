// Package limiter throttles failed logins and caps concurrent live connections per user.
package limiter

import (
	"context"
	"crypto/sha256"
	"net"
	"time"
)

// LoginLimiter controls login attempts and temporary lockouts per (email, client address).
type LoginLimiter interface {
	// Allow reports whether login is currently allowed and, if not, how long to wait.
	Allow(ctx context.Context, email string, ipHash []byte) (bool, time.Duration, error)
	// Success forgets previous failures after a successful login.
	Success(ctx context.Context, email string, ipHash []byte) error
	// Failure records a failed attempt and reports whether a lockout started.
	Failure(ctx context.Context, email string, ipHash []byte) (bool, time.Duration, error)
}

// Policy tunes the sliding window lockout.
type Policy struct {
	Window   time.Duration // failures older than this start a fresh count
	MaxFails int
	BlockFor time.Duration
}

// DefaultPolicy locks an address out for 15 minutes after 5 failures within 15 minutes.
var DefaultPolicy = Policy{Window: 15 * time.Minute, MaxFails: 5, BlockFor: 15 * time.Minute}

// HashIP returns a stable hash of the host part of addr so raw addresses are never stored.
func HashIP(addr string) []byte {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	h := sha256.Sum256([]byte(host))
	return h[:]
}

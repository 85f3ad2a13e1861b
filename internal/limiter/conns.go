package limiter

import (
	"fmt"
	"strings"
)

// Mode selects what happens when a user is already at the connection cap.
type Mode string

const (
	// ModeReject refuses the new connection.
	ModeReject Mode = "reject"
	// ModeCycle closes the user's oldest connection to make room.
	ModeCycle Mode = "cycle"
)

// ParseMode validates a configured mode; empty means reject.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", ModeReject:
		return ModeReject, nil
	case ModeCycle:
		return ModeCycle, nil
	default:
		return "", fmt.Errorf("unknown connection limit mode %q", s)
	}
}

// ConnCounter returns the number of live connections of a user.
type ConnCounter func(userID string) int

// ConnCycler closes the oldest live connection of a user.
type ConnCycler func(userID string)

// ConnLimiter caps live connections per user. Max <= 0 disables it.
type ConnLimiter struct {
	Max   int
	Mode  Mode
	count ConnCounter
	cycle ConnCycler
}

// NewConnLimiter builds a limiter over the given counter and cycler.
func NewConnLimiter(max int, mode Mode, count ConnCounter, cycle ConnCycler) *ConnLimiter {
	return &ConnLimiter{Max: max, Mode: mode, count: count, cycle: cycle}
}

// Admit reports whether a new connection for userID may proceed. In cycle mode it
// evicts the oldest connection and always admits.
func (l *ConnLimiter) Admit(userID string) bool {
	if l == nil || l.Max <= 0 {
		return true
	}
	if l.count(userID) < l.Max {
		return true
	}
	if l.Mode == ModeCycle {
		l.cycle(userID)
		return true
	}
	return false
}

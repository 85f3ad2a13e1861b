// Package auth issues and verifies identity tokens shared by the HTTP API, the live
// connection handshake and the presence RPC service.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/lexchat/internal/errs"
	"github.com/and161185/lexchat/internal/model"
)

// Claims are the JWT claims carried by access tokens. Subject is the user id.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Manager signs and verifies HS256 tokens.
type Manager struct {
	signKey []byte
	ttl     time.Duration
	now     func() time.Time
}

// NewManager constructs a token manager.
func NewManager(signKey []byte, ttl time.Duration) *Manager {
	return &Manager{signKey: signKey, ttl: ttl, now: time.Now}
}

// Issue creates a signed token for userID.
func (m *Manager) Issue(userID uuid.UUID, role string) (model.Tokens, error) {
	now := m.now()
	exp := now.Add(m.ttl)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.signKey)
	if err != nil {
		return model.Tokens{}, err
	}
	return model.Tokens{AccessToken: signed, ExpiresAt: exp}, nil
}

// Verify checks signature, algorithm and time claims and returns the parsed claims.
// All failures wrap errs.ErrUnauthorized.
func (m *Manager) Verify(token string) (*Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return m.signKey, nil
	}, jwt.WithLeeway(30*time.Second), jwt.WithTimeFunc(m.now))
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: invalid token", errs.ErrUnauthorized)
	}
	if _, err := uuid.FromString(claims.Subject); err != nil {
		return nil, fmt.Errorf("%w: bad subject", errs.ErrUnauthorized)
	}
	return &claims, nil
}

// UserID returns the subject as a UUID. Verify guarantees it parses.
func (c *Claims) UserID() uuid.UUID {
	return uuid.FromStringOrNil(c.Subject)
}

// BearerToken extracts the token from an "Authorization: Bearer <t>" value.
func BearerToken(header string) (string, bool) {
	v := strings.TrimSpace(header)
	if len(v) < 7 || !strings.EqualFold(v[:7], "bearer ") {
		return "", false
	}
	t := strings.TrimSpace(v[7:])
	return t, t != ""
}

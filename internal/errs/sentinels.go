// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service/transport layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates an authenticated caller acting on another identity.
	ErrForbidden = errors.New("forbidden")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., email taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument indicates a validation failure on caller input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrRateLimited indicates temporary lockout due to too many failed attempts.
	ErrRateLimited = errors.New("rate limited")

	// ErrTooManyConnections indicates the per-user live connection cap was hit.
	ErrTooManyConnections = errors.New("too many active connections")

	// ErrHandshakeRejected indicates a live connection opened without a user identity.
	ErrHandshakeRejected = errors.New("handshake rejected")

	// ErrConnectionCycled indicates a connection closed to make room for a newer one.
	ErrConnectionCycled = errors.New("connection cycled by newer connection")
)

package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/lexchat/internal/auth"
	"github.com/and161185/lexchat/internal/errs"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Message string `json:"message"`
}

type messageBody struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf maps domain sentinels to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, errs.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, errs.ErrRateLimited), errors.Is(err, errs.ErrTooManyConnections):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := statusOf(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, code, errorBody{Message: msg})
}

// decode reads a bounded JSON body into dst.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", errs.ErrInvalidArgument)
		}
		return fmt.Errorf("%w: malformed body", errs.ErrInvalidArgument)
	}
	return nil
}

// pathID parses a uuid path wildcard.
func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.FromString(r.PathValue(name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad %s", errs.ErrInvalidArgument, name)
	}
	return id, nil
}

// parseID parses an optional uuid body field; empty yields uuid.Nil.
func parseID(s, name string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.FromString(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad %s", errs.ErrInvalidArgument, name)
	}
	return id, nil
}

// caller returns the authenticated user id. RequireAuth guarantees claims.
func caller(r *http.Request) uuid.UUID {
	c, ok := auth.ClaimsFromCtx(r.Context())
	if !ok {
		return uuid.Nil
	}
	return c.UserID()
}

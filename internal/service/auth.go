// Package service contains application services for accounts, contacts and messages.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gofrs/uuid/v5"

	pkgcrypto "github.com/and161185/lexchat/internal/crypto"
	"github.com/and161185/lexchat/internal/errs"
	"github.com/and161185/lexchat/internal/limiter"
	"github.com/and161185/lexchat/internal/model"
	"github.com/and161185/lexchat/internal/repository"
)

// AuthService defines account registration and login.
type AuthService interface {
	// Register validates input and creates a new account.
	Register(ctx context.Context, in RegisterInput) (*model.User, error)
	// Login applies rate limiting and issues an access token.
	Login(ctx context.Context, email, password, remoteAddr string) (model.Tokens, model.User, error)
	// Profile loads the caller's account.
	Profile(ctx context.Context, userID uuid.UUID) (*model.User, error)
	// UpdateProfile validates and applies a partial change to the caller's account.
	UpdateProfile(ctx context.Context, userID uuid.UUID, p model.ProfilePatch) (*model.User, error)
}

// TokenIssuer signs access tokens. Implemented by auth.Manager.
type TokenIssuer interface {
	Issue(userID uuid.UUID, role string) (model.Tokens, error)
}

// RegisterInput carries the fields of a new account.
type RegisterInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
	Role      string
}

type AuthServiceImpl struct {
	users  repository.UserRepository
	tokens TokenIssuer
	lim    limiter.LoginLimiter
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(users repository.UserRepository, tokens TokenIssuer, lim limiter.LoginLimiter) *AuthServiceImpl {
	return &AuthServiceImpl{users: users, tokens: tokens, lim: lim}
}

// Register creates a user with an argon2id password hash.
func (s *AuthServiceImpl) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	first, last := strings.TrimSpace(in.FirstName), strings.TrimSpace(in.LastName)
	if first == "" || last == "" {
		return nil, fmt.Errorf("%w: first and last name are required", errs.ErrInvalidArgument)
	}
	role, err := normalizeRole(in.Role)
	if err != nil {
		return nil, err
	}
	if err := checkPassword(in.Password); err != nil {
		return nil, err
	}

	uid, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	hash, err := pkgcrypto.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	u := &model.User{
		ID:        uid,
		FirstName: first,
		LastName:  last,
		Email:     email,
		Role:      role,
		PwdHash:   hash,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Login authenticates by email with rate limiting by (email, client address).
func (s *AuthServiceImpl) Login(ctx context.Context, email, password, remoteAddr string) (model.Tokens, model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	ipHash := limiter.HashIP(remoteAddr)

	allowed, _, err := s.lim.Allow(ctx, email, ipHash)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	if !allowed {
		return model.Tokens{}, model.User{}, errs.ErrRateLimited
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.Tokens{}, model.User{}, err
	}
	ok := false
	if err == nil {
		ok, err = pkgcrypto.VerifyPassword(password, u.PwdHash)
		if err != nil {
			return model.Tokens{}, model.User{}, err
		}
	}
	if !ok {
		if blocked, _, ferr := s.lim.Failure(ctx, email, ipHash); ferr == nil && blocked {
			return model.Tokens{}, model.User{}, errs.ErrRateLimited
		}
		// unknown email and wrong password look the same
		return model.Tokens{}, model.User{}, errs.ErrUnauthorized
	}

	_ = s.lim.Success(ctx, email, ipHash)

	tok, err := s.tokens.Issue(u.ID, u.Role)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	return tok, *u, nil
}

// Profile returns the account of userID.
func (s *AuthServiceImpl) Profile(ctx context.Context, userID uuid.UUID) (*model.User, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty user id", errs.ErrInvalidArgument)
	}
	return s.users.GetByID(ctx, userID)
}

// Profile limits shared with the account schema.
const (
	maxName        = 30
	maxPracticeLen = 50
	maxDescription = 500
	maxExperience  = 80
)

// UpdateProfile trims and validates p, then stores it. Practice details are accepted for lawyers only.
func (s *AuthServiceImpl) UpdateProfile(ctx context.Context, userID uuid.UUID, p model.ProfilePatch) (*model.User, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty user id", errs.ErrInvalidArgument)
	}
	if p.Empty() {
		return nil, fmt.Errorf("%w: nothing to update", errs.ErrInvalidArgument)
	}
	p, err := cleanProfilePatch(p)
	if err != nil {
		return nil, err
	}
	if p.TouchesPractice() {
		u, err := s.users.GetByID(ctx, userID)
		if err != nil {
			return nil, err
		}
		if u.Role != model.RoleLawyer {
			return nil, fmt.Errorf("%w: practice details are for lawyer accounts", errs.ErrForbidden)
		}
	}
	return s.users.UpdateProfile(ctx, userID, p)
}

func cleanProfilePatch(p model.ProfilePatch) (model.ProfilePatch, error) {
	trimName := func(v *string, field string, max int) (*string, error) {
		if v == nil {
			return nil, nil
		}
		t := strings.TrimSpace(*v)
		if t == "" || utf8.RuneCountInString(t) > max {
			return nil, fmt.Errorf("%w: %s must be 1..%d characters", errs.ErrInvalidArgument, field, max)
		}
		return &t, nil
	}
	var err error
	if p.FirstName, err = trimName(p.FirstName, "first name", maxName); err != nil {
		return p, err
	}
	if p.LastName, err = trimName(p.LastName, "last name", maxName); err != nil {
		return p, err
	}
	if p.PracticeAreas != nil {
		areas := make([]string, 0, len(*p.PracticeAreas))
		for _, a := range *p.PracticeAreas {
			a = strings.TrimSpace(a)
			if a == "" {
				continue
			}
			if utf8.RuneCountInString(a) > maxPracticeLen {
				return p, fmt.Errorf("%w: practice area longer than %d characters", errs.ErrInvalidArgument, maxPracticeLen)
			}
			areas = append(areas, a)
		}
		p.PracticeAreas = &areas
	}
	if p.Description != nil {
		d := strings.TrimSpace(*p.Description)
		if utf8.RuneCountInString(d) > maxDescription {
			return p, fmt.Errorf("%w: description longer than %d characters", errs.ErrInvalidArgument, maxDescription)
		}
		p.Description = &d
	}
	if p.Experience != nil && (*p.Experience < 0 || *p.Experience > maxExperience) {
		return p, fmt.Errorf("%w: experience must be 0..%d years", errs.ErrInvalidArgument, maxExperience)
	}
	if l := p.Location; l != nil && (l.Longitude < -180 || l.Longitude > 180 || l.Latitude < -90 || l.Latitude > 90) {
		return p, fmt.Errorf("%w: location out of range", errs.ErrInvalidArgument)
	}
	return p, nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email", errs.ErrInvalidArgument)
	}
	return email, nil
}

func normalizeRole(raw string) (string, error) {
	switch r := strings.ToLower(strings.TrimSpace(raw)); r {
	case "":
		return model.RoleUser, nil
	case model.RoleUser, model.RoleLawyer, model.RoleAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", errs.ErrInvalidArgument, raw)
	}
}

// checkPassword requires at least 8 characters with a letter, a digit and a symbol.
func checkPassword(pw string) error {
	var letter, digit, symbol bool
	n := 0
	for _, r := range pw {
		n++
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}
	if n < 8 || !letter || !digit || !symbol {
		return fmt.Errorf("%w: password must be at least 8 characters and include a letter, number, and special character",
			errs.ErrInvalidArgument)
	}
	return nil
}

package postgres

import (
	"context"

	"github.com/and161185/lexchat/internal/model"
	"github.com/gofrs/uuid/v5"
)

const userColumns = `id, first_name, last_name, email, role, pwd_hash,
practice_areas, description, experience, longitude, latitude, created_at, updated_at`

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	const q = `
INSERT INTO users (id, first_name, last_name, email, role, pwd_hash)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING created_at, updated_at`
	err := r.db.Pool.QueryRow(ctx, q, u.ID, u.FirstName, u.LastName, u.Email, u.Role, u.PwdHash).
		Scan(&u.CreatedAt, &u.UpdatedAt)
	return mapErr(err)
}

// GetByID selects a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE id=$1`
	return r.scanOne(ctx, q, id)
}

// GetByEmail selects a user by email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE email=$1`
	return r.scanOne(ctx, q, email)
}

// UpdateProfile patches name and practice columns in one statement.
func (r *UserRepo) UpdateProfile(ctx context.Context, id uuid.UUID, p model.ProfilePatch) (*model.User, error) {
	const q = `
UPDATE users SET
    first_name     = COALESCE($2, first_name),
    last_name      = COALESCE($3, last_name),
    practice_areas = COALESCE($4, practice_areas),
    description    = COALESCE($5, description),
    experience     = COALESCE($6, experience),
    longitude      = COALESCE($7, longitude),
    latitude       = COALESCE($8, latitude),
    updated_at     = now()
WHERE id=$1
RETURNING ` + userColumns
	var lon, lat *float64
	if p.Location != nil {
		lon, lat = &p.Location.Longitude, &p.Location.Latitude
	}
	return r.scanOne(ctx, q, id, p.FirstName, p.LastName, p.PracticeAreas, p.Description, p.Experience, lon, lat)
}

func (r *UserRepo) scanOne(ctx context.Context, q string, args ...any) (*model.User, error) {
	var u model.User
	err := r.db.Pool.QueryRow(ctx, q, args...).
		Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Role, &u.PwdHash,
			&u.PracticeAreas, &u.Description, &u.Experience, &u.Location.Longitude, &u.Location.Latitude,
			&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

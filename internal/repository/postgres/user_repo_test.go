package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/and161185/lexchat/internal/errs"
	"github.com/and161185/lexchat/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

var userCols = []string{
	"id", "first_name", "last_name", "email", "role", "pwd_hash",
	"practice_areas", "description", "experience", "longitude", "latitude", "created_at", "updated_at",
}

func TestUserRepo_Create_OK_and_UniqueViolation(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	now := time.Now().UTC()
	u := &model.User{
		ID:        uuid.Must(uuid.NewV4()),
		FirstName: "Ada",
		LastName:  "Byron",
		Email:     "ada@example.com",
		Role:      model.RoleLawyer,
		PwdHash:   "$argon2id$...",
	}

	mock.ExpectQuery(`INSERT INTO users \(id, first_name, last_name, email, role, pwd_hash\)`).
		WithArgs(u.ID, u.FirstName, u.LastName, u.Email, u.Role, u.PwdHash).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	require.NoError(t, r.Create(ctx, u))
	require.Equal(t, now, u.CreatedAt)
	require.Equal(t, now, u.UpdatedAt)

	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs(u.ID, u.FirstName, u.LastName, u.Email, u.Role, u.PwdHash).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	require.ErrorIs(t, r.Create(ctx, u), errs.ErrAlreadyExists)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_GetByID(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`SELECT id, first_name, last_name, email, role, pwd_hash, practice_areas, .* FROM users WHERE id=\$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(userCols).
			AddRow(id, "Ada", "Byron", "ada@example.com", model.RoleUser, "h", []string{}, "", 0, 0.0, 0.0, time.Now(), time.Now()))
	u, err := r.GetByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, u.ID)
	require.Equal(t, "Ada", u.FirstName)

	mock.ExpectQuery(`FROM users WHERE id=\$1`).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByID(ctx, id)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestUserRepo_GetByEmail(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`FROM users WHERE email=\$1`).
		WithArgs("ada@example.com").
		WillReturnRows(pgxmock.NewRows(userCols).
			AddRow(id, "Ada", "Byron", "ada@example.com", model.RoleUser, "h", []string{}, "", 0, 0.0, 0.0, time.Now(), time.Now()))
	u, err := r.GetByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", u.Email)

	mock.ExpectQuery(`FROM users WHERE email=\$1`).
		WithArgs("nobody@example.com").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByEmail(ctx, "nobody@example.com")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestUserRepo_UpdateProfile(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	now := time.Now()

	areas := []string{"family", "tax"}
	exp := 7
	p := model.ProfilePatch{
		PracticeAreas: &areas,
		Experience:    &exp,
		Location:      &model.GeoPoint{Longitude: 77.2, Latitude: 28.6},
	}
	lon, lat := 77.2, 28.6

	mock.ExpectQuery(`UPDATE users SET first_name = COALESCE\(\$2, first_name\),.* updated_at = now\(\) WHERE id=\$1 RETURNING id,`).
		WithArgs(id, (*string)(nil), (*string)(nil), &areas, (*string)(nil), &exp, &lon, &lat).
		WillReturnRows(pgxmock.NewRows(userCols).
			AddRow(id, "Ada", "Byron", "ada@example.com", model.RoleLawyer, "h", areas, "", exp, lon, lat, now, now))
	u, err := r.UpdateProfile(ctx, id, p)
	require.NoError(t, err)
	require.Equal(t, areas, u.PracticeAreas)
	require.Equal(t, 7, u.Experience)
	require.Equal(t, model.GeoPoint{Longitude: 77.2, Latitude: 28.6}, u.Location)
	require.Equal(t, "Ada", u.FirstName)

	name := "Augusta"
	mock.ExpectQuery(`UPDATE users SET`).
		WithArgs(id, &name, (*string)(nil), (*[]string)(nil), (*string)(nil), (*int)(nil), (*float64)(nil), (*float64)(nil)).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.UpdateProfile(ctx, id, model.ProfilePatch{FirstName: &name})
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}
